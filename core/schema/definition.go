// Package schema defines the content-type metadata consumed by the query
// builder and the document engine: attribute definitions, relation
// descriptors (join columns, pivot tables, polymorphic morphs) and the
// registry that owns the loaded models. Definitions are immutable at
// runtime; they are loaded once and read concurrently without locking.
package schema

import "sort"

// Kind distinguishes the two content-type shapes.
type Kind string

const (
	KindCollectionType Kind = "collectionType" // many entries per type
	KindSingleType     Kind = "singleType"     // at most one entry per type
)

// AttributeType is the closed enum of attribute kinds. Codec and transform
// dispatch is a fixed table keyed on this enum, never runtime reflection.
type AttributeType string

const (
	TypeString      AttributeType = "string"
	TypeText        AttributeType = "text"
	TypeRichText    AttributeType = "richtext"
	TypeEmail       AttributeType = "email"
	TypePassword    AttributeType = "password"
	TypeEnumeration AttributeType = "enumeration"
	TypeUID         AttributeType = "uid"
	TypeInteger     AttributeType = "integer"
	TypeBigInteger  AttributeType = "biginteger"
	TypeFloat       AttributeType = "float"
	TypeDecimal     AttributeType = "decimal"
	TypeBoolean     AttributeType = "boolean"
	TypeJSON        AttributeType = "json"
	TypeDate        AttributeType = "date"
	TypeTime        AttributeType = "time"
	TypeDatetime    AttributeType = "datetime"
	TypeTimestamp   AttributeType = "timestamp"
	TypeRelation    AttributeType = "relation"
	TypeComponent   AttributeType = "component"
	TypeDynamicZone AttributeType = "dynamiczone"
)

// RelationKind enumerates the supported relation shapes.
type RelationKind string

const (
	RelationOneToOne   RelationKind = "oneToOne"
	RelationOneToMany  RelationKind = "oneToMany"
	RelationManyToOne  RelationKind = "manyToOne"
	RelationManyToMany RelationKind = "manyToMany"
	RelationMorphOne   RelationKind = "morphOne"
	RelationMorphMany  RelationKind = "morphMany"
	RelationMorphToOne RelationKind = "morphToOne"
)

// Column describes the storage column backing a scalar attribute.
type Column struct {
	Name string `json:"name"`
	// ID marks internal integer identity columns: auto-increment primary
	// keys and foreign keys referencing them. Their codec enforces the
	// safe-integer bound instead of silently truncating.
	ID bool `json:"id,omitempty"`
	// Unsigned is carried through for DDL generation only.
	Unsigned bool `json:"unsigned,omitempty"`
}

// JoinColumn describes a direct foreign-key relation: the owning table
// carries a column referencing the target table's column.
type JoinColumn struct {
	Name             string `json:"name"`             // column on the owning side
	ReferencedColumn string `json:"referencedColumn"` // column on the target side
}

// JoinTable describes a pivot-table relation. Each foreign key carries its
// own referenced column so both directions of the pivot stay explicit.
type JoinTable struct {
	Name              string     `json:"name"`
	JoinColumn        JoinColumn `json:"joinColumn"`        // pivot -> source
	InverseJoinColumn JoinColumn `json:"inverseJoinColumn"` // pivot -> target
	// On carries static equality constraints applied to every join against
	// the pivot, e.g. a field discriminator on shared morph pivots.
	On map[string]any `json:"on,omitempty"`
	// OrderColumnName, when set, keeps pivot rows ordered deterministically.
	OrderColumnName string `json:"orderColumnName,omitempty"`
}

// MorphColumn describes a polymorphic relation resolved through a type
// discriminator next to the id column, optionally behind a pivot.
type MorphColumn struct {
	TypeColumn string `json:"typeColumn"` // stores the related content-type uid
	IDColumn   string `json:"idColumn"`   // stores the related row id
}

// Relation carries the metadata the join planner needs to resolve a
// relation attribute. Exactly one of JoinColumn, JoinTable or Morph is set
// for traversable relations; a relation with none of them is an inverse
// side and cannot be traversed directly.
type Relation struct {
	Kind       RelationKind `json:"kind"`
	Target     string       `json:"target"` // target content-type uid
	InversedBy string       `json:"inversedBy,omitempty"`
	MappedBy   string       `json:"mappedBy,omitempty"`
	JoinColumn *JoinColumn  `json:"joinColumn,omitempty"`
	JoinTable  *JoinTable   `json:"joinTable,omitempty"`
	Morph      *MorphColumn `json:"morph,omitempty"`
}

// IsMorph reports whether the relation is polymorphic.
func (r *Relation) IsMorph() bool {
	switch r.Kind {
	case RelationMorphOne, RelationMorphMany, RelationMorphToOne:
		return true
	default:
		return false
	}
}

// Attribute is the tagged variant over scalar, relation, component and
// dynamic-zone attribute kinds. Only the fields matching Type are set.
type Attribute struct {
	Type AttributeType `json:"type"`
	// Column backs scalar attributes; its name defaults to the attribute
	// name when omitted from the declaration.
	Column *Column `json:"column,omitempty"`
	// Required and Unique feed entity validation, not the query engine.
	Required bool `json:"required,omitempty"`
	Unique   bool `json:"unique,omitempty"`
	// Enum holds the admissible values for enumeration attributes.
	Enum []string `json:"enum,omitempty"`
	// Relation is set when Type == TypeRelation.
	Relation *Relation `json:"relation,omitempty"`
	// Component is the component uid when Type == TypeComponent;
	// Repeatable distinguishes single from ordered-list components.
	Component  string `json:"component,omitempty"`
	Repeatable bool   `json:"repeatable,omitempty"`
	// Components lists the admissible component uids of a dynamic zone.
	Components []string `json:"components,omitempty"`
}

// IsRelation reports whether the attribute traverses to another model.
func (a *Attribute) IsRelation() bool {
	return a.Type == TypeRelation && a.Relation != nil
}

// IsComponentLike reports whether the attribute stores component sub-rows,
// either as a fixed component or as a dynamic zone.
func (a *Attribute) IsComponentLike() bool {
	return a.Type == TypeComponent || a.Type == TypeDynamicZone
}

// IsScalar reports whether the attribute maps to a single storage column.
func (a *Attribute) IsScalar() bool {
	switch a.Type {
	case TypeRelation, TypeComponent, TypeDynamicZone:
		return false
	default:
		return true
	}
}

// Reserved engine-managed columns present on every content-type table.
const (
	ColumnID          = "id"
	ColumnDocumentID  = "document_id"
	ColumnPublishedAt = "published_at"
	ColumnLocale      = "locale"
)

// ContentType is one loaded model: a uid, a kind, a storage table and the
// attribute map. columnToAttribute is derived once at registration and maps
// every storage column back to its attribute name.
type ContentType struct {
	UID             string                `json:"uid"`
	Kind            Kind                  `json:"kind"`
	TableName       string                `json:"tableName"`
	Attributes      map[string]*Attribute `json:"attributes"`
	DraftAndPublish bool                  `json:"draftAndPublish,omitempty"`
	Localized       bool                  `json:"localized,omitempty"`
	// IsComponent marks models that exist only as sub-entities of others.
	IsComponent bool `json:"isComponent,omitempty"`

	columnToAttribute map[string]string
}

// Attribute returns the named attribute, or nil when undeclared.
func (ct *ContentType) Attribute(name string) *Attribute {
	return ct.Attributes[name]
}

// ColumnName resolves an attribute name to its storage column. Attributes
// without a column of their own resolve to the attribute name unchanged.
func (ct *ContentType) ColumnName(attr string) string {
	if a, ok := ct.Attributes[attr]; ok && a.Column != nil && a.Column.Name != "" {
		return a.Column.Name
	}
	return attr
}

// AttributeForColumn maps a storage column back to the attribute it backs.
func (ct *ContentType) AttributeForColumn(column string) (string, *Attribute, bool) {
	name, ok := ct.columnToAttribute[column]
	if !ok {
		return "", nil, false
	}
	return name, ct.Attributes[name], true
}

// RelationAttributes returns the names of all relation attributes, sorted
// so traversal order is deterministic.
func (ct *ContentType) RelationAttributes() []string {
	var names []string
	for name, attr := range ct.Attributes {
		if attr.IsRelation() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ComponentAttributes returns the names of all component and dynamic-zone
// attributes, sorted so traversal order is deterministic.
func (ct *ContentType) ComponentAttributes() []string {
	var names []string
	for name, attr := range ct.Attributes {
		if attr.IsComponentLike() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
