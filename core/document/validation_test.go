package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-nakala/core/errs"
	"github.com/asaidimu/go-nakala/core/query"
	"github.com/asaidimu/go-nakala/core/schema"
)

func validatedType() *schema.ContentType {
	return &schema.ContentType{
		UID:       "api::product.product",
		TableName: "products",
		Attributes: map[string]*schema.Attribute{
			"name":  {Type: schema.TypeString, Required: true},
			"state": {Type: schema.TypeEnumeration, Enum: []string{"new", "used"}},
			"brand": {Type: schema.TypeRelation, Relation: &schema.Relation{
				Kind:       schema.RelationManyToOne,
				Target:     "api::brand.brand",
				JoinColumn: &schema.JoinColumn{Name: "brand_id", ReferencedColumn: "id"},
			}},
		},
	}
}

func TestSchemaValidator_ValidateCreate(t *testing.T) {
	v := &SchemaValidator{}
	ctx := context.Background()
	ct := validatedType()

	t.Run("valid payload passes through", func(t *testing.T) {
		data := query.Entity{"name": "widget", "state": "new"}
		out, err := v.ValidateCreate(ctx, ct, data)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	})

	t.Run("missing required attribute fails", func(t *testing.T) {
		_, err := v.ValidateCreate(ctx, ct, query.Entity{"state": "new"})
		var verr *errs.ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Message, "name")
	})

	t.Run("unknown attribute fails", func(t *testing.T) {
		_, err := v.ValidateCreate(ctx, ct, query.Entity{"name": "x", "bogus": 1})
		var verr *errs.ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Message, "bogus")
	})

	t.Run("engine attributes are tolerated", func(t *testing.T) {
		_, err := v.ValidateCreate(ctx, ct, query.Entity{
			"name": "x", "documentId": "doc-1", "publishedAt": nil, "locale": "en",
		})
		assert.NoError(t, err)
	})

	t.Run("raw join columns are tolerated", func(t *testing.T) {
		_, err := v.ValidateCreate(ctx, ct, query.Entity{"name": "x", "brand_id": int64(3)})
		assert.NoError(t, err)
	})

	t.Run("inadmissible enum value fails", func(t *testing.T) {
		_, err := v.ValidateCreate(ctx, ct, query.Entity{"name": "x", "state": "broken"})
		var verr *errs.ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Message, "broken")
	})

	t.Run("nil enum value passes", func(t *testing.T) {
		_, err := v.ValidateCreate(ctx, ct, query.Entity{"name": "x", "state": nil})
		assert.NoError(t, err)
	})
}

func TestSchemaValidator_ValidateUpdate(t *testing.T) {
	v := &SchemaValidator{}
	ctx := context.Background()
	ct := validatedType()
	existing := query.Entity{"name": "widget"}

	t.Run("partial payload passes", func(t *testing.T) {
		_, err := v.ValidateUpdate(ctx, ct, query.Entity{"state": "used"}, existing)
		assert.NoError(t, err)
	})

	t.Run("clearing a required attribute fails", func(t *testing.T) {
		_, err := v.ValidateUpdate(ctx, ct, query.Entity{"name": nil}, existing)
		var verr *errs.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("omitting a required attribute is fine", func(t *testing.T) {
		_, err := v.ValidateUpdate(ctx, ct, query.Entity{"state": "new"}, existing)
		assert.NoError(t, err)
	})
}
