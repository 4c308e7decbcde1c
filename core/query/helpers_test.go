package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-nakala/core/schema"
)

// testDialect is a minimal dialect for SQL-shape assertions: double-quote
// identifiers, keep ? placeholders, no RETURNING.
type testDialect struct{}

func (testDialect) Name() string  { return "test" }
func (testDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
func (testDialect) EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
func (testDialect) Lower(expr string) string  { return "LOWER(" + expr + ")" }
func (testDialect) LikeSuffix() string        { return "" }
func (testDialect) Rebind(sql string) string  { return sql }
func (testDialect) UsesReturning() bool       { return false }
func (testDialect) SupportsForUpdate() bool   { return false }
func (testDialect) RequiresLimitForOffset() bool { return false }
func (testDialect) MapError(err error) error  { return err }

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
			"body":  {Type: schema.TypeRichText},
			"views": {Type: schema.TypeInteger},
			"score": {Type: schema.TypeFloat, Column: &schema.Column{Name: "score_value"}},
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
		},
	}
	author := &schema.ContentType{
		UID:       "api::author.author",
		Kind:      schema.KindCollectionType,
		TableName: "authors",
		Attributes: map[string]*schema.Attribute{
			"name":  {Type: schema.TypeString, Required: true},
			"email": {Type: schema.TypeEmail},
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

	require.NoError(t, registry.Register(article))
	require.NoError(t, registry.Register(author))
	require.NoError(t, registry.Register(tag))
	return registry
}

func testBuilder(t *testing.T) *QueryBuilder {
	t.Helper()
	registry := testRegistry(t)
	ct, err := registry.GetModel("api::article.article")
	require.NoError(t, err)
	return NewBuilder(registry, ct, testDialect{}, nil, nil)
}
