package document

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-nakala/core/query"
	"github.com/asaidimu/go-nakala/core/schema"
	"github.com/asaidimu/go-nakala/sqlite"
)

func TestHydrate_MorphPivotDiscriminator(t *testing.T) {
	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(&schema.ContentType{
		UID:       "api::page.page",
		Kind:      schema.KindCollectionType,
		TableName: "pages",
		Attributes: map[string]*schema.Attribute{
			"title": {Type: schema.TypeString},
			"media": {Type: schema.TypeRelation, Relation: &schema.Relation{
				Kind:   schema.RelationMorphMany,
				Target: "api::file.file",
				JoinTable: &schema.JoinTable{
					Name:              "files_related_morphs",
					JoinColumn:        schema.JoinColumn{Name: "entity_id", ReferencedColumn: "id"},
					InverseJoinColumn: schema.JoinColumn{Name: "file_id", ReferencedColumn: "id"},
				},
			}},
		},
	}))
	require.NoError(t, registry.Register(&schema.ContentType{
		UID:       "api::file.file",
		Kind:      schema.KindCollectionType,
		TableName: "files",
		Attributes: map[string]*schema.Attribute{
			"name": {Type: schema.TypeString},
		},
	}))

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	require.NoError(t, sqlite.CreateTables(ctx, db, registry, nil))

	_, err = db.Exec("INSERT INTO pages (id, title) VALUES (1, 'home')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO files (id, name) VALUES (1, 'mine.png'), (2, 'theirs.png')")
	require.NoError(t, err)
	// The pivot is shared across source types; the second row belongs to a
	// different owner with the same numeric id.
	_, err = db.Exec(`INSERT INTO files_related_morphs (entity_id, entity_id_type, file_id) VALUES
		(1, 'api::page.page', 1),
		(1, 'api::report.report', 2)`)
	require.NoError(t, err)

	engine, err := NewEngine(Options{Registry: registry, Dialect: sqlite.New(), DB: db})
	require.NoError(t, err)
	page, err := registry.GetModel("api::page.page")
	require.NoError(t, err)

	entities := []query.Entity{{"id": int64(1), "title": "home"}}
	err = engine.hydrate(ctx, db, page, entities, map[string]*query.PopulateEntry{"media": {}})
	require.NoError(t, err)

	media, ok := entities[0]["media"].([]any)
	require.True(t, ok)
	require.Len(t, media, 1)
	file, ok := media[0].(query.Entity)
	require.True(t, ok)
	assert.Equal(t, "mine.png", file["name"])
}
