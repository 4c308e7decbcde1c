package document

import (
	"context"

	"github.com/asaidimu/go-nakala/core/errs"
	"github.com/asaidimu/go-nakala/core/query"
	"github.com/asaidimu/go-nakala/core/schema"
)

// EntityValidator checks write payloads against their content type before
// storage. Both methods return the validated (possibly normalized) data or
// a ValidationError; the engine never writes unvalidated payloads.
type EntityValidator interface {
	ValidateCreate(ctx context.Context, ct *schema.ContentType, data query.Entity) (query.Entity, error)
	ValidateUpdate(ctx context.Context, ct *schema.ContentType, data query.Entity, existing query.Entity) (query.Entity, error)
}

// SchemaValidator is the default EntityValidator: required-ness on create,
// declared-attribute and enum checks on every write. Field-level rule
// evaluation beyond the schema belongs to the caller.
type SchemaValidator struct{}

var _ EntityValidator = (*SchemaValidator)(nil)

func (v *SchemaValidator) ValidateCreate(ctx context.Context, ct *schema.ContentType, data query.Entity) (query.Entity, error) {
	if err := v.checkDeclared(ct, data); err != nil {
		return nil, err
	}
	for name, attr := range ct.Attributes {
		if !attr.Required || !attr.IsScalar() {
			continue
		}
		if value, ok := data[name]; !ok || value == nil {
			return nil, errs.NewValidation("attribute %s is required", name)
		}
	}
	return data, nil
}

func (v *SchemaValidator) ValidateUpdate(ctx context.Context, ct *schema.ContentType, data query.Entity, existing query.Entity) (query.Entity, error) {
	if err := v.checkDeclared(ct, data); err != nil {
		return nil, err
	}
	for name, attr := range ct.Attributes {
		if !attr.Required || !attr.IsScalar() {
			continue
		}
		if value, ok := data[name]; ok && value == nil {
			return nil, errs.NewValidation("attribute %s cannot be cleared", name)
		}
	}
	return data, nil
}

func owningJoinColumnNames(ct *schema.ContentType) map[string]bool {
	columns := make(map[string]bool)
	for _, attr := range ct.Attributes {
		if attr.IsRelation() && attr.Relation.JoinColumn != nil {
			columns[attr.Relation.JoinColumn.Name] = true
		}
	}
	return columns
}

func (v *SchemaValidator) checkDeclared(ct *schema.ContentType, data query.Entity) error {
	joinColumns := owningJoinColumnNames(ct)
	for name, value := range data {
		switch name {
		case query.AttrID, query.AttrDocumentID, query.AttrPublishedAt, query.AttrLocale:
			continue
		}
		attr := ct.Attribute(name)
		if attr == nil {
			// Raw foreign-key columns appear in payloads copied from
			// fetched entities and attach through the join column.
			if joinColumns[name] {
				continue
			}
			return errs.NewValidation("unknown attribute %s", name)
		}
		if attr.Type == schema.TypeEnumeration && value != nil {
			s, ok := value.(string)
			if !ok {
				return errs.NewValidation("attribute %s expects one of its enum values", name)
			}
			found := false
			for _, allowed := range attr.Enum {
				if allowed == s {
					found = true
					break
				}
			}
			if !found {
				return errs.NewValidation("value %q is not admissible for enumeration %s", s, name)
			}
		}
	}
	return nil
}
