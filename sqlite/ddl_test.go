package sqlite

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-nakala/core/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	registry := schema.NewRegistry()

	article := &schema.ContentType{
		UID:             "api::article.article",
		Kind:            schema.KindCollectionType,
		TableName:       "articles",
		DraftAndPublish: true,
		Localized:       true,
		Attributes: map[string]*schema.Attribute{
			"title": {Type: schema.TypeString, Required: true},
			"views": {Type: schema.TypeInteger},
			"author": {Type: schema.TypeRelation, Relation: &schema.Relation{
				Kind:       schema.RelationManyToOne,
				Target:     "api::author.author",
				JoinColumn: &schema.JoinColumn{Name: "author_id", ReferencedColumn: "id"},
			}},
			"tags": {Type: schema.TypeRelation, Relation: &schema.Relation{
				Kind:   schema.RelationManyToMany,
				Target: "api::tag.tag",
				JoinTable: &schema.JoinTable{
					Name:              "articles_tags",
					JoinColumn:        schema.JoinColumn{Name: "article_id", ReferencedColumn: "id"},
					InverseJoinColumn: schema.JoinColumn{Name: "tag_id", ReferencedColumn: "id"},
					OrderColumnName:   "tag_order",
				},
			}},
			"seo": {Type: schema.TypeComponent, Component: "shared.seo"},
		},
	}
	author := &schema.ContentType{
		UID:       "api::author.author",
		Kind:      schema.KindCollectionType,
		TableName: "authors",
		Attributes: map[string]*schema.Attribute{
			"name": {Type: schema.TypeString, Required: true},
		},
	}
	tag := &schema.ContentType{
		UID:       "api::tag.tag",
		Kind:      schema.KindCollectionType,
		TableName: "tags",
		Attributes: map[string]*schema.Attribute{
			"name": {Type: schema.TypeString},
		},
	}
	seo := &schema.ContentType{
		UID:         "shared.seo",
		TableName:   "components_shared_seo",
		IsComponent: true,
		Attributes: map[string]*schema.Attribute{
			"metaTitle": {Type: schema.TypeString, Column: &schema.Column{Name: "meta_title"}},
		},
	}

	require.NoError(t, registry.Register(article))
	require.NoError(t, registry.Register(author))
	require.NoError(t, registry.Register(tag))
	require.NoError(t, registry.Register(seo))
	return registry
}

func openTestDB(t *testing.T) (*sql.DB, *schema.Registry) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	// In-memory databases vanish when their sole connection closes.
	db.SetMaxOpenConns(1)

	registry := testRegistry(t)
	require.NoError(t, CreateTables(context.Background(), db, registry, nil))
	return db, registry
}

func TestCreateTables(t *testing.T) {
	db, registry := openTestDB(t)
	ctx := context.Background()

	t.Run("creates base pivot and component tables", func(t *testing.T) {
		for _, table := range []string{"articles", "authors", "tags", "articles_tags", "articles_cmps", "components_shared_seo"} {
			var name string
			err := db.QueryRowContext(ctx,
				"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
			assert.NoError(t, err, "table %s should exist", table)
		}
	})

	t.Run("engine columns only on content-type tables", func(t *testing.T) {
		rows, err := db.QueryContext(ctx, "PRAGMA table_info(components_shared_seo)")
		require.NoError(t, err)
		defer rows.Close()
		var columns []string
		for rows.Next() {
			var cid int
			var name, ctype string
			var notnull, pk int
			var dflt any
			require.NoError(t, rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk))
			columns = append(columns, name)
		}
		assert.ElementsMatch(t, []string{"id", "meta_title"}, columns)
	})

	t.Run("bootstrap is idempotent", func(t *testing.T) {
		assert.NoError(t, CreateTables(ctx, db, registry, nil))
	})

	t.Run("generated tables accept writes", func(t *testing.T) {
		_, err := db.ExecContext(ctx,
			`INSERT INTO articles (document_id, locale, title, views) VALUES (?, ?, ?, ?)`,
			"doc-1", "en", "hello", 3)
		assert.NoError(t, err)
	})
}
