package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/asaidimu/go-nakala/core/errs"
	"github.com/asaidimu/go-nakala/core/schema"
)

// finalize compiles the accumulated builder state exactly once, in the
// required order: order-by first (it may add joins), then lazily-evaluated
// filters, then the where-list (which may also add joins), then populate,
// then payload conversion, then the final select list. Any failure is
// recorded and surfaced before I/O.
func (qb *QueryBuilder) finalize() error {
	if qb.finalized {
		return qb.err
	}
	qb.finalized = true
	qb.err = qb.compile()
	return qb.err
}

func (qb *QueryBuilder) compile() error {
	ctx := compileCtx{qb: qb, ct: qb.ct, alias: qb.alias}

	orderBy, err := processOrderBy(qb.orderBySpec, ctx)
	if err != nil {
		return err
	}
	qb.orderBy = orderBy

	for _, fn := range qb.filterFns {
		if extra := fn(qb); extra != nil {
			qb.whereList = append(qb.whereList, extra)
		}
	}
	if qb.searchQuery != "" {
		if search := qb.searchExpression(); search != nil {
			qb.whereList = append(qb.whereList, search)
		}
	}

	var conditions []Condition
	for _, where := range qb.whereList {
		cond, err := processWhere(where, ctx)
		if err != nil {
			return err
		}
		if cond != nil {
			conditions = append(conditions, *cond)
		}
	}
	qb.condition = group(OpAnd, conditions)

	populate, err := processPopulate(qb.populateSpec, ctx)
	if err != nil {
		return err
	}
	qb.populate = populate

	qb.rows = qb.rows[:0]
	for _, payload := range qb.data {
		row, err := ToRow(qb.ct, payload)
		if err != nil {
			return err
		}
		qb.rows = append(qb.rows, row)
	}

	qb.finalCols = qb.compileSelects(ctx)
	return nil
}

// searchExpression builds the $or of case-insensitive contains over every
// searchable string attribute.
func (qb *QueryBuilder) searchExpression() map[string]any {
	var terms []any
	for _, name := range sortedAttributeNames(qb.ct) {
		attr := qb.ct.Attributes[name]
		switch attr.Type {
		case schema.TypeString, schema.TypeText, schema.TypeRichText,
			schema.TypeEmail, schema.TypeEnumeration, schema.TypeUID:
			terms = append(terms, map[string]any{name: map[string]any{OpContainsi: qb.searchQuery}})
		}
	}
	if len(terms) == 0 {
		return nil
	}
	return map[string]any{OpOr: terms}
}

// compileSelects resolves the requested selection into alias-qualified
// column references, adds the columns hydration needs, and deduplicates.
func (qb *QueryBuilder) compileSelects(ctx compileCtx) []string {
	requested := qb.selects
	if len(requested) == 0 {
		requested = []string{"*"}
	}

	var cols []string
	for _, field := range requested {
		cols = append(cols, qb.resolveSelect(field, ctx))
	}
	for _, column := range populateSelects(qb.populate, ctx) {
		cols = append(cols, ctx.qualify(column))
	}

	if qb.isDistinct() {
		// SELECT DISTINCT requires every ORDER BY column in the select
		// list; silently missing ones would break ordering consistency.
		for _, entry := range qb.orderBy {
			cols = append(cols, entry.Column)
		}
		for _, j := range qb.joins {
			for _, entry := range j.OrderBy {
				cols = append(cols, entry.Column)
			}
		}
	}

	seen := make(map[string]struct{}, len(cols))
	deduped := cols[:0]
	for _, col := range cols {
		if _, ok := seen[col]; ok {
			continue
		}
		seen[col] = struct{}{}
		deduped = append(deduped, col)
	}
	return deduped
}

func (qb *QueryBuilder) resolveSelect(field string, ctx compileCtx) string {
	if field == "*" {
		return ctx.alias + ".*"
	}
	if strings.Contains(field, ".") {
		// Pre-qualified raw reference.
		return field
	}
	if column, ok := engineAttributes[field]; ok {
		return ctx.qualify(column)
	}
	if attr := qb.ct.Attribute(field); attr != nil && attr.IsScalar() {
		return ctx.qualify(qb.ct.ColumnName(field))
	}
	return ctx.qualify(field)
}

// isDistinct reports whether the select must deduplicate: any join without
// an explicit group-by can multiply base rows.
func (qb *QueryBuilder) isDistinct() bool {
	return qb.op == OpSelect && len(qb.joins) > 0 && len(qb.groupBy) == 0
}

// needsDeepSort reports whether ordering crosses a relational join, which
// would distort pagination without the windowed rewrite.
func (qb *QueryBuilder) needsDeepSort() bool {
	for _, entry := range qb.orderBy {
		if entry.ViaJoin {
			return true
		}
	}
	return false
}

// ToSQL lowers the builder into an executable statement without running
// it, so the result can compose as a sub-query.
func (qb *QueryBuilder) ToSQL() (string, []any, error) {
	if err := qb.finalize(); err != nil {
		return "", nil, err
	}

	var sql string
	var args []any
	var err error
	switch qb.op {
	case OpSelect:
		if qb.needsDeepSort() {
			sql, args, err = qb.deepSortSQL()
		} else {
			sql, args, err = qb.selectSQL()
		}
	case OpCount:
		sql, args, err = qb.countSQL()
	case OpMax:
		sql, args, err = qb.maxSQL()
	case OpInsert:
		sql, args, err = qb.insertSQL()
	case OpUpdate, OpDelete:
		sql, args, err = qb.writeSQL()
	case OpTruncate:
		sql = "DELETE FROM " + qb.dialect.Quote(qb.ct.TableName)
	default:
		err = errs.NewValidation("unsupported operation %s", qb.op)
	}
	if err != nil {
		return "", nil, err
	}
	return qb.dialect.Rebind(sql), args, nil
}

func (qb *QueryBuilder) selectSQL() (string, []any, error) {
	d := qb.dialect
	var sb strings.Builder
	var args []any

	sb.WriteString("SELECT ")
	if qb.isDistinct() {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(qb.renderColumns(qb.finalCols))
	sb.WriteString(" FROM " + d.Quote(qb.ct.TableName) + " " + d.Quote(qb.alias))
	qb.renderJoins(&sb, &args)
	if err := qb.renderWhere(&sb, &args); err != nil {
		return "", nil, err
	}
	if len(qb.groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		for i, field := range qb.groupBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(quoteQualified(d, qb.resolveSelect(field, compileCtx{qb: qb, ct: qb.ct, alias: qb.alias})))
		}
	}
	if len(qb.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, entry := range qb.orderBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(quoteQualified(d, entry.Column) + " " + strings.ToUpper(entry.Order))
		}
	}
	qb.renderLimitOffset(&sb)
	if qb.forUpdate && d.SupportsForUpdate() {
		sb.WriteString(" FOR UPDATE")
	}
	return sb.String(), args, nil
}

// deepSortSQL emits the three-stage windowed rewrite. Stage R re-selects
// only the base id and the order columns under the original filters and
// joins; stage T ranks rows per base id; the final stage joins rank-1 rows
// back against the bare base table so pagination applies to exactly one
// row per base entity, with a trailing id tiebreak for determinism.
func (qb *QueryBuilder) deepSortSQL() (string, []any, error) {
	d := qb.dialect
	var args []any

	type orderCol struct {
		column  string
		alias   string
		order   string
		ranking bool
	}
	var orderCols []orderCol
	seen := map[string]int{}
	add := func(entry OrderEntry, ranking bool) {
		if idx, ok := seen[entry.Column]; ok {
			if ranking {
				orderCols[idx].ranking = true
			}
			return
		}
		seen[entry.Column] = len(orderCols)
		orderCols = append(orderCols, orderCol{
			column:  entry.Column,
			alias:   "__order_" + strings.ReplaceAll(entry.Column, ".", "_"),
			order:   entry.Order,
			ranking: ranking,
		})
	}
	for _, entry := range qb.orderBy {
		add(entry, true)
	}
	// Pivot order columns break fan-out ties inside the window but are not
	// part of the requested ordering.
	for _, j := range qb.joins {
		for _, entry := range j.OrderBy {
			add(entry, false)
		}
	}

	// Stage R: original filters and joins, selection reduced to the base
	// id plus every order column under a deterministic derived name.
	var r strings.Builder
	r.WriteString("SELECT " + d.Quote(qb.alias) + "." + d.Quote(schema.ColumnID) + " AS " + d.Quote("__base_id"))
	for _, oc := range orderCols {
		r.WriteString(", " + quoteQualified(d, oc.column) + " AS " + d.Quote(oc.alias))
	}
	r.WriteString(" FROM " + d.Quote(qb.ct.TableName) + " " + d.Quote(qb.alias))
	qb.renderJoins(&r, &args)
	if err := qb.renderWhere(&r, &args); err != nil {
		return "", nil, err
	}

	// Stage T: one rank-1 representative per base id even when the join
	// fans out.
	var t strings.Builder
	t.WriteString("SELECT " + d.Quote("__base_id"))
	for _, oc := range orderCols {
		t.WriteString(", " + d.Quote(oc.alias))
	}
	t.WriteString(", ROW_NUMBER() OVER (PARTITION BY " + d.Quote("__base_id") + " ORDER BY ")
	for i, oc := range orderCols {
		if i > 0 {
			t.WriteString(", ")
		}
		t.WriteString(d.Quote(oc.alias) + " " + strings.ToUpper(oc.order))
	}
	t.WriteString(") AS " + d.Quote("__rank") + " FROM (" + r.String() + ") AS " + d.Quote("__r"))

	// Final stage: requested columns over the bare base table, one row per
	// base id, pagination re-applied against the deduplicated order.
	var q strings.Builder
	q.WriteString("SELECT ")
	// Columns qualified by a join alias do not exist here; only the bare
	// base table and the ranked derived table are in scope.
	finalCols := make([]string, 0, len(qb.finalCols))
	for _, col := range qb.finalCols {
		if alias, _, ok := strings.Cut(col, "."); ok && alias != qb.alias {
			continue
		}
		finalCols = append(finalCols, col)
	}
	q.WriteString(qb.renderColumns(finalCols))
	q.WriteString(" FROM " + d.Quote(qb.ct.TableName) + " " + d.Quote(qb.alias))
	q.WriteString(" INNER JOIN (" + t.String() + ") AS " + d.Quote("__t"))
	q.WriteString(" ON " + d.Quote("__t") + "." + d.Quote("__base_id") + " = " + d.Quote(qb.alias) + "." + d.Quote(schema.ColumnID))
	q.WriteString(" AND " + d.Quote("__t") + "." + d.Quote("__rank") + " = 1")
	q.WriteString(" ORDER BY ")
	for _, oc := range orderCols {
		if !oc.ranking {
			continue
		}
		q.WriteString(d.Quote("__t") + "." + d.Quote(oc.alias) + " " + strings.ToUpper(oc.order) + ", ")
	}
	q.WriteString(d.Quote(qb.alias) + "." + d.Quote(schema.ColumnID) + " ASC")
	qb.renderLimitOffset(&q)
	return q.String(), args, nil
}

func (qb *QueryBuilder) countSQL() (string, []any, error) {
	d := qb.dialect
	var sb strings.Builder
	var args []any

	if len(qb.joins) > 0 {
		sb.WriteString("SELECT COUNT(DISTINCT " + d.Quote(qb.alias) + "." + d.Quote(schema.ColumnID) + ") AS " + d.Quote("count"))
	} else {
		sb.WriteString("SELECT COUNT(*) AS " + d.Quote("count"))
	}
	sb.WriteString(" FROM " + d.Quote(qb.ct.TableName) + " " + d.Quote(qb.alias))
	qb.renderJoins(&sb, &args)
	if err := qb.renderWhere(&sb, &args); err != nil {
		return "", nil, err
	}
	return sb.String(), args, nil
}

func (qb *QueryBuilder) maxSQL() (string, []any, error) {
	d := qb.dialect
	var sb strings.Builder
	var args []any

	column := qb.ct.ColumnName(qb.maxColumn)
	if raw, ok := engineAttributes[qb.maxColumn]; ok {
		column = raw
	}
	sb.WriteString("SELECT MAX(" + d.Quote(qb.alias) + "." + d.Quote(column) + ") AS " + d.Quote("max"))
	sb.WriteString(" FROM " + d.Quote(qb.ct.TableName) + " " + d.Quote(qb.alias))
	qb.renderJoins(&sb, &args)
	if err := qb.renderWhere(&sb, &args); err != nil {
		return "", nil, err
	}
	return sb.String(), args, nil
}

func (qb *QueryBuilder) insertSQL() (string, []any, error) {
	if len(qb.rows) == 0 {
		return "", nil, errs.NewValidation("insert requires at least one payload")
	}
	d := qb.dialect

	columnSet := make(map[string]struct{})
	var columns []string
	for _, row := range qb.rows {
		for column := range row {
			if _, ok := columnSet[column]; !ok {
				columnSet[column] = struct{}{}
				columns = append(columns, column)
			}
		}
	}
	sort.Strings(columns)

	var sb strings.Builder
	var args []any
	sb.WriteString("INSERT INTO " + d.Quote(qb.ct.TableName) + " (")
	for i, column := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(d.Quote(column))
	}
	sb.WriteString(") VALUES ")
	for i, row := range qb.rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, column := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, row[column])
		}
		sb.WriteString(")")
	}

	if qb.onConflictIgnore {
		sb.WriteString(" ON CONFLICT DO NOTHING")
	} else if len(qb.onConflictMerge) > 0 {
		sb.WriteString(" ON CONFLICT(" + d.Quote(schema.ColumnID) + ") DO UPDATE SET ")
		for i, field := range qb.onConflictMerge {
			if i > 0 {
				sb.WriteString(", ")
			}
			column := qb.ct.ColumnName(field)
			sb.WriteString(d.Quote(column) + " = excluded." + d.Quote(column))
		}
	}
	if d.UsesReturning() {
		sb.WriteString(" RETURNING *")
	}
	return sb.String(), args, nil
}

// writeSQL lowers updates and deletes. With joins present, inline
// filtering is unsound (joins multiply rows), so the statement targets the
// unjoined base table through a WHERE id IN (sub-select) rewrite.
func (qb *QueryBuilder) writeSQL() (string, []any, error) {
	d := qb.dialect
	var sb strings.Builder
	var args []any

	if qb.op == OpUpdate {
		if len(qb.rows) == 0 && len(qb.increments) == 0 {
			return "", nil, errs.NewValidation("update requires a payload")
		}
		// The statement aliases the base table so the alias-qualified
		// condition columns resolve.
		sb.WriteString("UPDATE " + d.Quote(qb.ct.TableName) + " AS " + d.Quote(qb.alias) + " SET ")
		first := true
		if len(qb.rows) > 0 {
			columns := make([]string, 0, len(qb.rows[0]))
			for column := range qb.rows[0] {
				columns = append(columns, column)
			}
			sort.Strings(columns)
			for _, column := range columns {
				if !first {
					sb.WriteString(", ")
				}
				first = false
				sb.WriteString(d.Quote(column) + " = ?")
				args = append(args, qb.rows[0][column])
			}
		}
		incremented := make([]string, 0, len(qb.increments))
		for field := range qb.increments {
			incremented = append(incremented, field)
		}
		sort.Strings(incremented)
		for _, field := range incremented {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			column := qb.ct.ColumnName(field)
			sb.WriteString(d.Quote(column) + " = " + d.Quote(column) + " + ?")
			args = append(args, qb.increments[field])
		}
	} else {
		sb.WriteString("DELETE FROM " + d.Quote(qb.ct.TableName) + " AS " + d.Quote(qb.alias))
	}

	if len(qb.joins) > 0 {
		var inner strings.Builder
		inner.WriteString("SELECT " + d.Quote(qb.alias) + "." + d.Quote(schema.ColumnID))
		inner.WriteString(" FROM " + d.Quote(qb.ct.TableName) + " " + d.Quote(qb.alias))
		qb.renderJoins(&inner, &args)
		if err := qb.renderWhere(&inner, &args); err != nil {
			return "", nil, err
		}
		sb.WriteString(" WHERE " + d.Quote(qb.alias) + "." + d.Quote(schema.ColumnID) + " IN (" + inner.String() + ")")
		return sb.String(), args, nil
	}

	if qb.condition != nil {
		sb.WriteString(" WHERE ")
		if err := renderCondition(qb.condition, d, &sb, &args); err != nil {
			return "", nil, err
		}
	}
	return sb.String(), args, nil
}

func (qb *QueryBuilder) renderColumns(cols []string) string {
	d := qb.dialect
	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		if strings.HasSuffix(col, ".*") {
			parts = append(parts, d.Quote(strings.TrimSuffix(col, ".*"))+".*")
			continue
		}
		parts = append(parts, quoteQualified(d, col))
	}
	return strings.Join(parts, ", ")
}

func (qb *QueryBuilder) renderJoins(sb *strings.Builder, args *[]any) {
	d := qb.dialect
	for _, j := range qb.joins {
		if j.Method == JoinInner {
			sb.WriteString(" INNER JOIN ")
		} else {
			sb.WriteString(" LEFT JOIN ")
		}
		sb.WriteString(d.Quote(j.Table) + " " + d.Quote(j.Alias) + " ON ")
		for i, pair := range j.On {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			sb.WriteString(quoteQualified(d, pair.From) + " = " + d.Quote(j.Alias) + "." + d.Quote(pair.To))
		}
		if len(j.Static) > 0 {
			keys := make([]string, 0, len(j.Static))
			for k := range j.Static {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, column := range keys {
				sb.WriteString(" AND " + d.Quote(j.Alias) + "." + d.Quote(column) + " = ?")
				*args = append(*args, j.Static[column])
			}
		}
	}
}

func (qb *QueryBuilder) renderWhere(sb *strings.Builder, args *[]any) error {
	if qb.condition == nil {
		return nil
	}
	sb.WriteString(" WHERE ")
	return renderCondition(qb.condition, qb.dialect, sb, args)
}

func (qb *QueryBuilder) renderLimitOffset(sb *strings.Builder) {
	limit := qb.limit
	if qb.first {
		one := 1
		limit = &one
	}
	if limit != nil {
		sb.WriteString(" LIMIT " + strconv.Itoa(*limit))
	}
	if qb.offset != nil && *qb.offset > 0 {
		if limit == nil && qb.dialect.RequiresLimitForOffset() {
			// -1 means unbounded on backends that insist on a LIMIT.
			sb.WriteString(" LIMIT -1")
		}
		sb.WriteString(" OFFSET " + strconv.Itoa(*qb.offset))
	}
}

func sortedAttributeNames(ct *schema.ContentType) []string {
	names := make([]string, 0, len(ct.Attributes))
	for name := range ct.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
