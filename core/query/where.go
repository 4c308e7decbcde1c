package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/asaidimu/go-nakala/core/errs"
)

// processWhere recursively normalizes a filter expression into a
// column-qualified condition tree. An array at the top level is OR'd;
// expressions appended sequentially to the builder's where-list are AND'd
// by the lowering step. Returns nil for empty expressions.
func processWhere(where any, ctx compileCtx) (*Condition, error) {
	switch w := where.(type) {
	case nil:
		return nil, nil
	case []any:
		return processWhereSlice(w, ctx)
	case []map[string]any:
		items := make([]any, len(w))
		for i, m := range w {
			items[i] = m
		}
		return processWhereSlice(items, ctx)
	case map[string]any:
		return processWhereMap(w, ctx)
	default:
		return nil, errs.NewValidation("invalid where expression of type %T", where)
	}
}

func processWhereSlice(items []any, ctx compileCtx) (*Condition, error) {
	var children []Condition
	for _, item := range items {
		child, err := processWhere(item, ctx)
		if err != nil {
			return nil, err
		}
		if child != nil {
			children = append(children, *child)
		}
	}
	return group(OpOr, children), nil
}

func processWhereMap(w map[string]any, ctx compileCtx) (*Condition, error) {
	var children []Condition
	for _, key := range sortedKeys(w) {
		child, err := processWhereKey(key, w[key], ctx)
		if err != nil {
			return nil, err
		}
		if child != nil {
			children = append(children, *child)
		}
	}
	return group(OpAnd, children), nil
}

func processWhereKey(key string, value any, ctx compileCtx) (*Condition, error) {
	switch {
	case key == OpAnd, key == OpOr:
		nested, err := nestedExpressions(key, value)
		if err != nil {
			return nil, err
		}
		var children []Condition
		for _, expr := range nested {
			child, err := processWhere(expr, ctx)
			if err != nil {
				return nil, err
			}
			if child != nil {
				children = append(children, *child)
			}
		}
		return group(key, children), nil

	case key == OpNot:
		child, err := processWhere(value, ctx)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, nil
		}
		return &Condition{Group: &GroupCondition{Operator: OpNot, Children: []Condition{*child}}}, nil

	case isAttributeOperator(key):
		// An operator key at expression level applies to the current
		// context's id column; this is how relation recursion lands.
		return columnCondition(ctx.qualify("id"), key, value)

	case strings.HasPrefix(key, "$"):
		return nil, errs.NewValidation("undefined operator %s", key)
	}

	if column, ok := engineAttributes[key]; ok {
		return attributeCondition(ctx.qualify(column), value)
	}

	attr := ctx.ct.Attribute(key)
	if attr == nil {
		// Unknown attributes are raw or computed column references,
		// assumed pre-qualified; passed through unchanged.
		return attributeCondition(key, value)
	}

	if attr.IsRelation() {
		return relationCondition(key, value, ctx)
	}

	return attributeCondition(ctx.qualify(ctx.ct.ColumnName(key)), value)
}

// relationCondition resolves a relation-valued filter through the join
// planner and rewrites it against the target alias.
func relationCondition(attrName string, value any, ctx compileCtx) (*Condition, error) {
	targetCtx, err := ctx.joinRelation(attrName, ctx.ct.Attribute(attrName).Relation)
	if err != nil {
		return nil, err
	}
	if targetCtx.alias == ctx.alias {
		return nil, errs.NewValidation("relation %s cannot be traversed in filters", attrName)
	}

	nested, ok := value.(map[string]any)
	if !ok {
		// A literal under a relation filters on the target's id.
		return columnCondition(targetCtx.qualify("id"), OpEq, value)
	}

	operatorKeys, attributeKeys := 0, 0
	for key := range nested {
		if isOperator(key) {
			operatorKeys++
		} else {
			attributeKeys++
		}
	}
	if operatorKeys > 0 && attributeKeys > 0 {
		return nil, errs.NewValidation("operator and non-operator keys cannot be mixed under relation %s", attrName)
	}
	if operatorKeys > 1 {
		return nil, errs.NewValidation("only one operator is allowed directly under relation %s", attrName)
	}

	return processWhereMap(nested, targetCtx)
}

// attributeCondition normalizes an attribute value: a literal implies $eq,
// a map is an operator set with only whitelisted operators permitted.
func attributeCondition(column string, value any) (*Condition, error) {
	ops, ok := value.(map[string]any)
	if !ok {
		return columnCondition(column, OpEq, value)
	}

	var children []Condition
	for _, op := range sortedKeys(ops) {
		if !isAttributeOperator(op) {
			return nil, errs.NewValidation("undefined operator %s", op)
		}
		child, err := columnCondition(column, op, ops[op])
		if err != nil {
			return nil, err
		}
		children = append(children, *child)
	}
	return group(OpAnd, children), nil
}

func columnCondition(column, operator string, value any) (*Condition, error) {
	return &Condition{Column: &ColumnCondition{Column: column, Operator: operator, Value: value}}, nil
}

// group collapses trivial groups: zero children normalize away, a single
// child replaces its wrapper. Keeps repeated compilation structurally
// stable.
func group(operator string, children []Condition) *Condition {
	switch len(children) {
	case 0:
		return nil
	case 1:
		return &children[0]
	default:
		return &Condition{Group: &GroupCondition{Operator: operator, Children: children}}
	}
}

func nestedExpressions(operator string, value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []map[string]any:
		items := make([]any, len(v))
		for i, m := range v {
			items[i] = m
		}
		return items, nil
	case map[string]any:
		return []any{v}, nil
	default:
		return nil, errs.NewValidation("%s expects an array of expressions", operator)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SubQuery is anything that lowers to a parenthesizable SELECT; $in and
// $notIn accept one in place of a value array.
type SubQuery interface {
	ToSQL() (string, []any, error)
}

// renderCondition renders a normalized condition tree against the dialect,
// appending parameters to args.
func renderCondition(cond *Condition, d Dialect, sb *strings.Builder, args *[]any) error {
	if cond == nil {
		return nil
	}
	if cond.Group != nil {
		return renderGroup(cond.Group, d, sb, args)
	}
	return renderColumn(cond.Column, d, sb, args)
}

func renderGroup(g *GroupCondition, d Dialect, sb *strings.Builder, args *[]any) error {
	if g.Operator == OpNot {
		sb.WriteString("NOT (")
		for i := range g.Children {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			if err := renderCondition(&g.Children[i], d, sb, args); err != nil {
				return err
			}
		}
		sb.WriteString(")")
		return nil
	}

	sep := " AND "
	if g.Operator == OpOr {
		sep = " OR "
	}
	sb.WriteString("(")
	for i := range g.Children {
		if i > 0 {
			sb.WriteString(sep)
		}
		if err := renderCondition(&g.Children[i], d, sb, args); err != nil {
			return err
		}
	}
	sb.WriteString(")")
	return nil
}

func renderColumn(c *ColumnCondition, d Dialect, sb *strings.Builder, args *[]any) error {
	column := quoteQualified(d, c.Column)

	// Arrays under non-array operators fan out into an OR of single-value
	// conditions, giving uniform "any of" semantics.
	if values, ok := c.Value.([]any); ok && fansOut(c.Operator) {
		if len(values) == 0 {
			sb.WriteString("1=0")
			return nil
		}
		sb.WriteString("(")
		for i, v := range values {
			if i > 0 {
				sb.WriteString(" OR ")
			}
			if err := renderColumn(&ColumnCondition{Column: c.Column, Operator: c.Operator, Value: v}, d, sb, args); err != nil {
				return err
			}
		}
		sb.WriteString(")")
		return nil
	}

	switch c.Operator {
	case OpEq:
		if c.Value == nil {
			sb.WriteString(column + " IS NULL")
			return nil
		}
		sb.WriteString(column + " = ?")
		*args = append(*args, c.Value)
	case OpEqi:
		sb.WriteString(d.Lower(column) + " = ?")
		*args = append(*args, lowered(c.Value))
	case OpNe:
		if c.Value == nil {
			sb.WriteString(column + " IS NOT NULL")
			return nil
		}
		sb.WriteString(column + " <> ?")
		*args = append(*args, c.Value)
	case OpNei:
		sb.WriteString(d.Lower(column) + " <> ?")
		*args = append(*args, lowered(c.Value))
	case OpLt, OpLte, OpGt, OpGte:
		sb.WriteString(column + " " + comparisonSymbol(c.Operator) + " ?")
		*args = append(*args, c.Value)
	case OpNull:
		if truthy(c.Value) {
			sb.WriteString(column + " IS NULL")
		} else {
			sb.WriteString(column + " IS NOT NULL")
		}
	case OpNotNull:
		if truthy(c.Value) {
			sb.WriteString(column + " IS NOT NULL")
		} else {
			sb.WriteString(column + " IS NULL")
		}
	case OpIn, OpNotIn:
		return renderIn(c, column, d, sb, args)
	case OpBetween:
		pair, ok := c.Value.([]any)
		if !ok || len(pair) != 2 {
			return errs.NewValidation("$between expects a two-element array")
		}
		sb.WriteString(column + " BETWEEN ? AND ?")
		*args = append(*args, pair[0], pair[1])
	case OpContains, OpNotContains, OpStartsWith, OpEndsWith:
		pattern := likePattern(c.Operator, d, c.Value)
		keyword := " LIKE ?"
		if c.Operator == OpNotContains {
			keyword = " NOT LIKE ?"
		}
		sb.WriteString(column + keyword + d.LikeSuffix())
		*args = append(*args, pattern)
	case OpContainsi, OpNotContainsi, OpStartsWithi, OpEndsWithi:
		pattern := strings.ToLower(likePattern(c.Operator, d, c.Value))
		keyword := " LIKE ?"
		if c.Operator == OpNotContainsi {
			keyword = " NOT LIKE ?"
		}
		sb.WriteString(d.Lower(column) + keyword + d.LikeSuffix())
		*args = append(*args, pattern)
	default:
		return errs.NewValidation("undefined operator %s", c.Operator)
	}
	return nil
}

func renderIn(c *ColumnCondition, column string, d Dialect, sb *strings.Builder, args *[]any) error {
	keyword := " IN "
	if c.Operator == OpNotIn {
		keyword = " NOT IN "
	}

	if sub, ok := c.Value.(SubQuery); ok {
		subSQL, subArgs, err := sub.ToSQL()
		if err != nil {
			return err
		}
		sb.WriteString(column + keyword + "(" + subSQL + ")")
		*args = append(*args, subArgs...)
		return nil
	}

	values, ok := c.Value.([]any)
	if !ok {
		values = []any{c.Value}
	}
	if len(values) == 0 {
		// IN over an empty set is vacuously false, NOT IN vacuously true.
		if c.Operator == OpIn {
			sb.WriteString("1=0")
		} else {
			sb.WriteString("1=1")
		}
		return nil
	}
	sb.WriteString(column + keyword + "(" + strings.TrimSuffix(strings.Repeat("?,", len(values)), ",") + ")")
	*args = append(*args, values...)
	return nil
}

func fansOut(op string) bool {
	switch op {
	case OpIn, OpNotIn, OpBetween, OpNull, OpNotNull:
		return false
	default:
		return true
	}
}

func comparisonSymbol(op string) string {
	switch op {
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	default:
		return ">="
	}
}

func likePattern(op string, d Dialect, value any) string {
	s := d.EscapeLike(fmt.Sprintf("%v", value))
	switch op {
	case OpStartsWith, OpStartsWithi:
		return s + "%"
	case OpEndsWith, OpEndsWithi:
		return "%" + s
	default:
		return "%" + s + "%"
	}
}

func lowered(value any) any {
	if s, ok := value.(string); ok {
		return strings.ToLower(s)
	}
	return value
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return v
	case string:
		return v != "false"
	default:
		return true
	}
}

// quoteQualified quotes each segment of an alias-qualified reference.
func quoteQualified(d Dialect, ref string) string {
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) == 2 {
		return d.Quote(parts[0]) + "." + d.Quote(parts[1])
	}
	return d.Quote(ref)
}
