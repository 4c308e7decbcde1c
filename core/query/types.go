package query

// Row is the flat column-to-raw-value shape returned by the storage layer.
// Rows are transient; they exist only inside one query execution.
type Row = map[string]any

// Entity is the attribute-keyed, codec-decoded shape exposed to callers.
// Relation-typed values are ids or hydration placeholders, populated in a
// second pass.
type Entity = map[string]any

// Operation is the statement kind a builder lowers to.
type Operation string

const (
	OpSelect   Operation = "select"
	OpInsert   Operation = "insert"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpCount    Operation = "count"
	OpMax      Operation = "max"
	OpTruncate Operation = "truncate"
)

// Grouping operators accepted at any filter nesting level.
const (
	OpAnd = "$and"
	OpOr  = "$or"
	OpNot = "$not"
)

// Attribute-level operator whitelist. Anything else under an attribute key
// fails normalization with a ValidationError.
const (
	OpEq           = "$eq"
	OpEqi          = "$eqi"
	OpNe           = "$ne"
	OpNei          = "$nei"
	OpIn           = "$in"
	OpNotIn        = "$notIn"
	OpLt           = "$lt"
	OpLte          = "$lte"
	OpGt           = "$gt"
	OpGte          = "$gte"
	OpNull         = "$null"
	OpNotNull      = "$notNull"
	OpBetween      = "$between"
	OpStartsWith   = "$startsWith"
	OpStartsWithi  = "$startsWithi"
	OpEndsWith     = "$endsWith"
	OpEndsWithi    = "$endsWithi"
	OpContains     = "$contains"
	OpContainsi    = "$containsi"
	OpNotContains  = "$notContains"
	OpNotContainsi = "$notContainsi"
)

var attributeOperators = map[string]struct{}{
	OpEq: {}, OpEqi: {}, OpNe: {}, OpNei: {}, OpIn: {}, OpNotIn: {},
	OpLt: {}, OpLte: {}, OpGt: {}, OpGte: {}, OpNull: {}, OpNotNull: {},
	OpBetween: {}, OpStartsWith: {}, OpStartsWithi: {}, OpEndsWith: {},
	OpEndsWithi: {}, OpContains: {}, OpContainsi: {}, OpNotContains: {},
	OpNotContainsi: {},
}

func isGroupOperator(key string) bool {
	return key == OpAnd || key == OpOr || key == OpNot
}

func isAttributeOperator(key string) bool {
	_, ok := attributeOperators[key]
	return ok
}

func isOperator(key string) bool {
	return isGroupOperator(key) || isAttributeOperator(key)
}

// Condition is the normalized output of the predicate compiler: either a
// group of child conditions under a logical operator, or a single
// column-qualified comparison. Exactly one of Group and Column is set.
type Condition struct {
	Group  *GroupCondition
	Column *ColumnCondition
}

// GroupCondition combines child conditions under $and, $or or $not.
type GroupCondition struct {
	Operator string
	Children []Condition
}

// ColumnCondition compares one alias-qualified column against a value
// using an attribute-level operator.
type ColumnCondition struct {
	Column   string // alias-qualified, e.g. "t1.name", or a raw reference
	Operator string
	Value    any
}

// JoinMethod selects the SQL join keyword for a planned join.
type JoinMethod string

const (
	JoinLeft  JoinMethod = "left"
	JoinInner JoinMethod = "inner"
)

// JoinColumnPair equates a column on the already-joined side with one on
// the newly-joined alias.
type JoinColumnPair struct {
	From string // qualified column on the existing side
	To   string // unqualified column on the joined table
}

// Join is one planned SQL join with its generated alias, equality pairs
// and optional static constraints.
type Join struct {
	Method JoinMethod
	Alias  string
	Table  string
	On     []JoinColumnPair
	// Static are literal equality constraints rendered into the ON clause,
	// e.g. the morph type discriminator or a pivot field column.
	Static map[string]any
	// OrderBy keeps one-to-many joins deterministic when they feed an
	// order-by ("first match" semantics).
	OrderBy []OrderEntry
	// Relational marks joins that target a relation and can therefore
	// multiply base rows; ordering through such a join triggers the
	// windowed deep-sort rewrite.
	Relational bool
}

// OrderEntry is one resolved order-by column.
type OrderEntry struct {
	Column string // alias-qualified column
	Order  string // "asc" or "desc"
	// ViaJoin marks entries resolved through a relational join.
	ViaJoin bool
}

// PopulateEntry is the normalized per-relation-attribute populate
// directive produced by the populate compiler.
type PopulateEntry struct {
	Fields   []string
	Filters  map[string]any
	OrderBy  any
	Limit    *int
	Offset   *int
	Populate map[string]*PopulateEntry
	// PopulateAll expands to every relation of the target model; the
	// expansion happens during hydration, when the target is known.
	PopulateAll bool
	// Count requests only the related-row count instead of hydration.
	Count bool
}
