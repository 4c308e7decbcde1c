package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-nakala/core/query"
	"github.com/asaidimu/go-nakala/core/schema"
)

func articleBuilder(t *testing.T, db *sql.DB, registry *schema.Registry) *query.QueryBuilder {
	t.Helper()
	ct, err := registry.GetModel("api::article.article")
	require.NoError(t, err)
	return query.NewBuilder(registry, ct, New(), db, nil)
}

func authorBuilder(t *testing.T, db *sql.DB, registry *schema.Registry) *query.QueryBuilder {
	t.Helper()
	ct, err := registry.GetModel("api::author.author")
	require.NoError(t, err)
	return query.NewBuilder(registry, ct, New(), db, nil)
}

func createAuthor(t *testing.T, db *sql.DB, registry *schema.Registry, name string) int64 {
	t.Helper()
	inserted, err := authorBuilder(t, db, registry).
		Insert(query.Entity{"name": name}).
		ExecuteInsert(context.Background())
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	id, ok := inserted[0]["id"].(int64)
	require.True(t, ok)
	return id
}

func createArticle(t *testing.T, db *sql.DB, registry *schema.Registry, data query.Entity) int64 {
	t.Helper()
	inserted, err := articleBuilder(t, db, registry).
		Insert(data).
		ExecuteInsert(context.Background())
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	id, ok := inserted[0]["id"].(int64)
	require.True(t, ok)
	return id
}

func TestExecuteInsert_Returning(t *testing.T) {
	db, registry := openTestDB(t)
	inserted, err := articleBuilder(t, db, registry).
		Insert(query.Entity{"title": "hello", "views": 2, "documentId": "doc-1", "locale": "en"}).
		ExecuteInsert(context.Background())
	require.NoError(t, err)
	require.Len(t, inserted, 1)

	entity := inserted[0]
	assert.Equal(t, int64(1), entity["id"])
	assert.Equal(t, "hello", entity["title"])
	assert.Equal(t, int64(2), entity["views"])
	assert.Equal(t, "doc-1", entity["documentId"])
	assert.Equal(t, "en", entity["locale"])
	assert.Nil(t, entity["publishedAt"])
}

func TestExecute_FilterAndOrder(t *testing.T) {
	db, registry := openTestDB(t)
	ctx := context.Background()
	createArticle(t, db, registry, query.Entity{"title": "banana", "views": 3})
	createArticle(t, db, registry, query.Entity{"title": "apple", "views": 9})
	createArticle(t, db, registry, query.Entity{"title": "cherry", "views": 1})

	t.Run("ordered select", func(t *testing.T) {
		entities, err := articleBuilder(t, db, registry).OrderBy("title:asc").Execute(ctx)
		require.NoError(t, err)
		require.Len(t, entities, 3)
		assert.Equal(t, "apple", entities[0]["title"])
		assert.Equal(t, "cherry", entities[2]["title"])
	})

	t.Run("filters narrow", func(t *testing.T) {
		entities, err := articleBuilder(t, db, registry).
			Where(map[string]any{"views": map[string]any{"$gte": 3}}).
			Execute(ctx)
		require.NoError(t, err)
		assert.Len(t, entities, 2)
	})

	t.Run("offset without limit uses the unbounded form", func(t *testing.T) {
		entities, err := articleBuilder(t, db, registry).
			OrderBy("title:asc").
			Offset(1).
			Execute(ctx)
		require.NoError(t, err)
		require.Len(t, entities, 2)
		assert.Equal(t, "banana", entities[0]["title"])
	})

	t.Run("count", func(t *testing.T) {
		n, err := articleBuilder(t, db, registry).Count().ExecuteCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("max", func(t *testing.T) {
		max, err := articleBuilder(t, db, registry).Max("views").ExecuteMax(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(9), max)
	})

	t.Run("case-insensitive search", func(t *testing.T) {
		entities, err := articleBuilder(t, db, registry).Search("APP").Execute(ctx)
		require.NoError(t, err)
		require.Len(t, entities, 1)
		assert.Equal(t, "apple", entities[0]["title"])
	})
}

func TestExecute_DeepSortPagination(t *testing.T) {
	db, registry := openTestDB(t)
	ctx := context.Background()

	zoe := createAuthor(t, db, registry, "Zoe")
	ann := createAuthor(t, db, registry, "Ann")
	mia := createAuthor(t, db, registry, "Mia")

	a1 := createArticle(t, db, registry, query.Entity{"title": "one", "author": zoe})
	a2 := createArticle(t, db, registry, query.Entity{"title": "two", "author": ann})
	a3 := createArticle(t, db, registry, query.Entity{"title": "three", "author": mia})
	a4 := createArticle(t, db, registry, query.Entity{"title": "four", "author": ann})

	fetchIDs := func(t *testing.T, limit, offset int) []int64 {
		qb := articleBuilder(t, db, registry).OrderBy("author.name:asc").Limit(limit).Offset(offset)
		entities, err := qb.Execute(ctx)
		require.NoError(t, err)
		ids := make([]int64, 0, len(entities))
		for _, e := range entities {
			ids = append(ids, e["id"].(int64))
		}
		return ids
	}

	t.Run("pages partition the deduplicated order", func(t *testing.T) {
		assert.Equal(t, []int64{a2, a4}, fetchIDs(t, 2, 0))
		assert.Equal(t, []int64{a3, a1}, fetchIDs(t, 2, 2))
	})

	t.Run("full order with id tiebreak", func(t *testing.T) {
		assert.Equal(t, []int64{a2, a4, a3, a1}, fetchIDs(t, 10, 0))
	})

	t.Run("fanned-out pivot order keeps one row per entity", func(t *testing.T) {
		tagAlpha := insertTag(t, db, "alpha")
		tagZulu := insertTag(t, db, "zulu")
		tagBeta := insertTag(t, db, "beta")
		attachTag(t, db, a1, tagAlpha, 1)
		attachTag(t, db, a1, tagZulu, 2)
		attachTag(t, db, a2, tagBeta, 1)

		entities, err := articleBuilder(t, db, registry).
			Where(map[string]any{"id": map[string]any{"$in": []any{a1, a2}}}).
			OrderBy(map[string]any{"tags": map[string]any{"name": "asc"}}).
			Execute(ctx)
		require.NoError(t, err)
		require.Len(t, entities, 2)
		assert.Equal(t, a1, entities[0]["id"])
		assert.Equal(t, a2, entities[1]["id"])
	})
}

func insertTag(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	result, err := db.Exec("INSERT INTO tags (name) VALUES (?)", name)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

func attachTag(t *testing.T, db *sql.DB, articleID, tagID int64, order int) {
	t.Helper()
	_, err := db.Exec(
		"INSERT INTO articles_tags (article_id, tag_id, tag_order) VALUES (?, ?, ?)",
		articleID, tagID, order)
	require.NoError(t, err)
}

func TestExecuteWrite(t *testing.T) {
	db, registry := openTestDB(t)
	ctx := context.Background()

	ann := createAuthor(t, db, registry, "Ann")
	zoe := createAuthor(t, db, registry, "Zoe")
	kept := createArticle(t, db, registry, query.Entity{"title": "keep", "author": zoe})
	createArticle(t, db, registry, query.Entity{"title": "drop one", "author": ann})
	createArticle(t, db, registry, query.Entity{"title": "drop two", "author": ann})

	t.Run("update by filter", func(t *testing.T) {
		n, err := articleBuilder(t, db, registry).
			Update(query.Entity{"views": 5}).
			Where(map[string]any{"id": kept}).
			ExecuteWrite(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("increment is relative", func(t *testing.T) {
		_, err := articleBuilder(t, db, registry).
			Increment("views", 2).
			Where(map[string]any{"id": kept}).
			ExecuteWrite(ctx)
		require.NoError(t, err)
		entities, err := articleBuilder(t, db, registry).Where(map[string]any{"id": kept}).Execute(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(7), entities[0]["views"])
	})

	t.Run("joined delete targets the matched base rows", func(t *testing.T) {
		n, err := articleBuilder(t, db, registry).
			Delete().
			Where(map[string]any{"author": map[string]any{"name": "Ann"}}).
			ExecuteWrite(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		remaining, err := articleBuilder(t, db, registry).Execute(ctx)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, kept, remaining[0]["id"])
	})
}

func TestStream(t *testing.T) {
	db, registry := openTestDB(t)
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		createArticle(t, db, registry, query.Entity{"title": title})
	}

	t.Run("pages through every row", func(t *testing.T) {
		stream := articleBuilder(t, db, registry).OrderBy("title:asc").Stream(ctx, 2)
		var titles []string
		for stream.Next() {
			titles = append(titles, stream.Entity()["title"].(string))
		}
		require.NoError(t, stream.Err())
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, titles)
	})

	t.Run("honors limit and offset", func(t *testing.T) {
		qb := articleBuilder(t, db, registry).OrderBy("title:asc").Limit(3).Offset(1)
		stream := qb.Stream(ctx, 2)
		var titles []string
		for stream.Next() {
			titles = append(titles, stream.Entity()["title"].(string))
		}
		require.NoError(t, stream.Err())
		assert.Equal(t, []string{"b", "c", "d"}, titles)
	})
}
