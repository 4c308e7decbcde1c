package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-nakala/core/errs"
)

func compilePopulate(t *testing.T, spec any) (map[string]*PopulateEntry, error) {
	t.Helper()
	qb := testBuilder(t)
	ctx := compileCtx{qb: qb, ct: qb.ct, alias: qb.alias}
	return processPopulate(spec, ctx)
}

func TestProcessPopulate(t *testing.T) {
	t.Run("nil and false produce nothing", func(t *testing.T) {
		result, err := compilePopulate(t, nil)
		assert.NoError(t, err)
		assert.Nil(t, result)

		result, err = compilePopulate(t, false)
		assert.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("true expands every relation attribute", func(t *testing.T) {
		result, err := compilePopulate(t, true)
		require.NoError(t, err)
		assert.Len(t, result, 2)
		assert.Contains(t, result, "author")
		assert.Contains(t, result, "tags")
	})

	t.Run("path array selects roots", func(t *testing.T) {
		result, err := compilePopulate(t, []string{"author"})
		require.NoError(t, err)
		require.Len(t, result, 1)
		assert.Contains(t, result, "author")
	})

	t.Run("dotted paths nest and merge", func(t *testing.T) {
		result, err := compilePopulate(t, []string{"author.role", "author.avatar"})
		require.NoError(t, err)
		require.Contains(t, result, "author")
		nested := result["author"].Populate
		assert.Len(t, nested, 2)
		assert.Contains(t, nested, "role")
		assert.Contains(t, nested, "avatar")
	})

	t.Run("non-relation and unknown names drop silently", func(t *testing.T) {
		result, err := compilePopulate(t, []string{"title", "nonexistent", "author"})
		require.NoError(t, err)
		assert.Len(t, result, 1)
		assert.Contains(t, result, "author")
	})

	t.Run("all names dropped yields nil", func(t *testing.T) {
		result, err := compilePopulate(t, []string{"title"})
		assert.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("map form carries narrowing options", func(t *testing.T) {
		result, err := compilePopulate(t, map[string]any{
			"tags": map[string]any{
				"fields":  []any{"name"},
				"filters": map[string]any{"name": map[string]any{"$startsWith": "g"}},
				"orderBy": "name:asc",
				"limit":   5,
				"count":   false,
			},
		})
		require.NoError(t, err)
		entry := result["tags"]
		require.NotNil(t, entry)
		assert.Equal(t, []string{"name"}, entry.Fields)
		assert.NotNil(t, entry.Filters)
		assert.Equal(t, "name:asc", entry.OrderBy)
		require.NotNil(t, entry.Limit)
		assert.Equal(t, 5, *entry.Limit)
		assert.False(t, entry.Count)
	})

	t.Run("count request", func(t *testing.T) {
		result, err := compilePopulate(t, map[string]any{
			"tags": map[string]any{"count": true},
		})
		require.NoError(t, err)
		assert.True(t, result["tags"].Count)
	})

	t.Run("unknown option is rejected", func(t *testing.T) {
		_, err := compilePopulate(t, map[string]any{
			"author": map[string]any{"bogus": 1},
		})
		var verr *errs.ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Message, "bogus")
	})

	t.Run("nested populate map", func(t *testing.T) {
		result, err := compilePopulate(t, map[string]any{
			"author": map[string]any{
				"populate": map[string]any{"role": true},
			},
		})
		require.NoError(t, err)
		assert.Contains(t, result["author"].Populate, "role")
	})

	t.Run("nested populate true marks the entry for full expansion", func(t *testing.T) {
		result, err := compilePopulate(t, map[string]any{
			"author": map[string]any{"populate": true},
		})
		require.NoError(t, err)
		require.Contains(t, result, "author")
		assert.True(t, result["author"].PopulateAll)
		assert.Empty(t, result["author"].Populate)
	})

	t.Run("nested populate false expands nothing", func(t *testing.T) {
		result, err := compilePopulate(t, map[string]any{
			"author": map[string]any{"populate": false},
		})
		require.NoError(t, err)
		require.Contains(t, result, "author")
		assert.False(t, result["author"].PopulateAll)
		assert.Empty(t, result["author"].Populate)
	})

	t.Run("false at a map value drops the entry", func(t *testing.T) {
		result, err := compilePopulate(t, map[string]any{
			"author": false,
			"tags":   true,
		})
		require.NoError(t, err)
		assert.Len(t, result, 1)
		assert.Contains(t, result, "tags")
	})

	t.Run("invalid spec type is rejected", func(t *testing.T) {
		_, err := compilePopulate(t, 42)
		var verr *errs.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestPopulateSelects(t *testing.T) {
	qb := testBuilder(t)
	ctx := compileCtx{qb: qb, ct: qb.ct, alias: qb.alias}

	t.Run("join column relations require their foreign key", func(t *testing.T) {
		populate := map[string]*PopulateEntry{"author": {}, "tags": {}}
		columns := populateSelects(populate, ctx)
		assert.Equal(t, []string{"id", "author_id"}, columns)
	})

	t.Run("empty populate adds nothing", func(t *testing.T) {
		assert.Nil(t, populateSelects(nil, ctx))
	})
}

func TestPopulate_SurvivesFieldSelection(t *testing.T) {
	qb := testBuilder(t)
	sql, _, err := qb.Select("title").Populate([]string{"author"}).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t0"."title", "t0"."id", "t0"."author_id" FROM "articles" "t0"`, sql)
	assert.Contains(t, qb.PopulateMap(), "author")
}
