package document

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/asaidimu/go-nakala/core/query"
	"github.com/asaidimu/go-nakala/core/schema"
)

// hydrate runs the second query pass the populate compiler prepares for:
// relation attributes named in the populate map are resolved against their
// target tables and attached to the fetched entities. Relations whose
// metadata cannot be traversed stay untouched.
func (e *Engine) hydrate(ctx context.Context, runner query.Runner, ct *schema.ContentType, entities []query.Entity, populate map[string]*query.PopulateEntry) error {
	if len(entities) == 0 || len(populate) == 0 {
		return nil
	}
	for name, entry := range populate {
		attr := ct.Attribute(name)
		if attr == nil || !attr.IsRelation() {
			continue
		}
		if err := e.hydrateRelation(ctx, runner, ct, entities, name, attr.Relation, entry); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) hydrateRelation(ctx context.Context, runner query.Runner, ct *schema.ContentType, entities []query.Entity, name string, rel *schema.Relation, entry *query.PopulateEntry) error {
	target, err := e.registry.GetModel(rel.Target)
	if err != nil {
		if target, err = e.registry.GetComponentModel(rel.Target); err != nil {
			e.logger.Debug("skipping populate of unknown target",
				zap.String("attribute", name),
				zap.String("target", rel.Target))
			return nil
		}
	}

	switch {
	case rel.JoinColumn != nil:
		return e.hydrateJoinColumn(ctx, runner, target, entities, name, rel, entry)
	case rel.JoinTable != nil:
		return e.hydrateJoinTable(ctx, runner, ct, target, entities, name, rel, entry)
	case rel.Morph != nil:
		return e.hydrateMorph(ctx, runner, ct, target, entities, name, rel, entry)
	default:
		// Inverse side without traversal metadata; nothing to attach.
		return nil
	}
}

// hydrateJoinColumn resolves owning-side to-one relations: the base row
// carries a foreign key pointing at the target.
func (e *Engine) hydrateJoinColumn(ctx context.Context, runner query.Runner, target *schema.ContentType, entities []query.Entity, name string, rel *schema.Relation, entry *query.PopulateEntry) error {
	fkColumn := rel.JoinColumn.Name
	refAttr := referencedAttribute(rel.JoinColumn.ReferencedColumn)

	var fks []any
	seen := make(map[int64]bool)
	for _, entity := range entities {
		if fk, ok := toInt64(entity[fkColumn]); ok && !seen[fk] {
			seen[fk] = true
			fks = append(fks, fk)
		}
	}
	if len(fks) == 0 {
		for _, entity := range entities {
			entity[name] = nil
		}
		return nil
	}

	related, err := e.fetchRelated(ctx, runner, target, map[string]any{refAttr: map[string]any{"$in": fks}}, entry, refAttr)
	if err != nil {
		return err
	}
	byID := make(map[int64]query.Entity, len(related))
	for _, r := range related {
		if id, ok := toInt64(r[refAttr]); ok {
			byID[id] = r
		}
	}
	for _, entity := range entities {
		entity[name] = nil
		if fk, ok := toInt64(entity[fkColumn]); ok {
			if r, found := byID[fk]; found {
				entity[name] = r
			}
		}
	}
	return nil
}

// hydrateJoinTable resolves pivot relations: pivot rows are read first,
// then the targets, then both are stitched back per base row in pivot
// order.
func (e *Engine) hydrateJoinTable(ctx context.Context, runner query.Runner, ct *schema.ContentType, target *schema.ContentType, entities []query.Entity, name string, rel *schema.Relation, entry *query.PopulateEntry) error {
	jt := rel.JoinTable
	d := e.dialect

	var sourceIDs []any
	for _, entity := range entities {
		if id, ok := toInt64(entity[query.AttrID]); ok {
			sourceIDs = append(sourceIDs, id)
		}
	}
	if len(sourceIDs) == 0 {
		return nil
	}

	sqlText := "SELECT " + d.Quote(jt.JoinColumn.Name) + ", " + d.Quote(jt.InverseJoinColumn.Name) +
		" FROM " + d.Quote(jt.Name) +
		" WHERE " + d.Quote(jt.JoinColumn.Name) + " IN (" + placeholders(len(sourceIDs)) + ")"
	args := append([]any(nil), sourceIDs...)
	for _, column := range sortedStaticKeys(jt.On) {
		sqlText += " AND " + d.Quote(column) + " = ?"
		args = append(args, jt.On[column])
	}
	// Shared morph pivots key rows on the source type as well as the
	// source id; the join planner applies the same constraint.
	if rel.IsMorph() {
		sqlText += " AND " + d.Quote(jt.JoinColumn.Name+"_type") + " = ?"
		args = append(args, ct.UID)
	}
	if jt.OrderColumnName != "" {
		sqlText += " ORDER BY " + d.Quote(jt.OrderColumnName) + " ASC"
	}
	sqlText = d.Rebind(sqlText)

	e.logger.Debug("loading pivot rows for populate",
		zap.String("sql", sqlText),
		zap.Any("params", args))
	rows, err := runner.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return d.MapError(err)
	}
	defer rows.Close()
	raw, err := query.ScanRows(rows)
	if err != nil {
		return err
	}

	targetsPerSource := make(map[int64][]int64)
	targetSet := make(map[int64]bool)
	var targetIDs []any
	for _, r := range raw {
		source, ok := toInt64(r[jt.JoinColumn.Name])
		if !ok {
			continue
		}
		tid, ok := toInt64(r[jt.InverseJoinColumn.Name])
		if !ok {
			continue
		}
		targetsPerSource[source] = append(targetsPerSource[source], tid)
		if !targetSet[tid] {
			targetSet[tid] = true
			targetIDs = append(targetIDs, tid)
		}
	}

	byID := make(map[int64]query.Entity)
	if len(targetIDs) > 0 {
		refAttr := referencedAttribute(jt.InverseJoinColumn.ReferencedColumn)
		related, err := e.fetchRelated(ctx, runner, target, map[string]any{refAttr: map[string]any{"$in": targetIDs}}, entry, refAttr)
		if err != nil {
			return err
		}
		for _, r := range related {
			if id, ok := toInt64(r[refAttr]); ok {
				byID[id] = r
			}
		}
	}

	toOne := rel.Kind == schema.RelationOneToOne || rel.Kind == schema.RelationManyToOne
	for _, entity := range entities {
		id, ok := toInt64(entity[query.AttrID])
		if !ok {
			continue
		}
		var list []any
		for _, tid := range targetsPerSource[id] {
			if r, found := byID[tid]; found {
				list = append(list, r)
			}
		}
		if toOne {
			if len(list) > 0 {
				entity[name] = list[0]
			} else {
				entity[name] = nil
			}
			continue
		}
		if entry.Count {
			entity[name] = map[string]any{"count": int64(len(list))}
			continue
		}
		if list == nil {
			list = []any{}
		}
		entity[name] = list
	}
	return nil
}

// hydrateMorph resolves pivot-less polymorphic relations: the target table
// carries the type discriminator and the owner id.
func (e *Engine) hydrateMorph(ctx context.Context, runner query.Runner, ct *schema.ContentType, target *schema.ContentType, entities []query.Entity, name string, rel *schema.Relation, entry *query.PopulateEntry) error {
	morph := rel.Morph

	var sourceIDs []any
	for _, entity := range entities {
		if id, ok := toInt64(entity[query.AttrID]); ok {
			sourceIDs = append(sourceIDs, id)
		}
	}
	if len(sourceIDs) == 0 {
		return nil
	}

	filter := map[string]any{
		morph.TypeColumn: ct.UID,
		morph.IDColumn:   map[string]any{"$in": sourceIDs},
	}
	related, err := e.fetchRelated(ctx, runner, target, filter, entry, morph.IDColumn)
	if err != nil {
		return err
	}

	perSource := make(map[int64][]any)
	for _, r := range related {
		if owner, ok := toInt64(r[morph.IDColumn]); ok {
			perSource[owner] = append(perSource[owner], r)
		}
	}

	toOne := rel.Kind == schema.RelationMorphOne || rel.Kind == schema.RelationMorphToOne
	for _, entity := range entities {
		id, ok := toInt64(entity[query.AttrID])
		if !ok {
			continue
		}
		list := perSource[id]
		if toOne {
			if len(list) > 0 {
				entity[name] = list[0]
			} else {
				entity[name] = nil
			}
			continue
		}
		if list == nil {
			list = []any{}
		}
		entity[name] = list
	}
	return nil
}

// fetchRelated runs the target-side query applying the populate entry's
// narrowing options and recurses into nested populate.
func (e *Engine) fetchRelated(ctx context.Context, runner query.Runner, target *schema.ContentType, filter map[string]any, entry *query.PopulateEntry, required ...string) ([]query.Entity, error) {
	qb := query.NewBuilder(e.registry, target, e.dialect, runner, e.logger)
	qb.Where(filter)
	if len(entry.Fields) > 0 {
		fields := append([]string(nil), entry.Fields...)
		// The stitch columns must survive an explicit field selection.
		for _, column := range required {
			found := false
			for _, f := range fields {
				if f == column {
					found = true
					break
				}
			}
			if !found {
				fields = append(fields, column)
			}
		}
		qb.Select(fields...)
	}
	if entry.Filters != nil {
		qb.Where(entry.Filters)
	}
	if entry.OrderBy != nil {
		qb.OrderBy(entry.OrderBy)
	}
	if entry.Limit != nil {
		qb.Limit(*entry.Limit)
	}
	if entry.Offset != nil {
		qb.Offset(*entry.Offset)
	}
	related, err := qb.Execute(ctx)
	if err != nil {
		return nil, err
	}
	nested := entry.Populate
	if entry.PopulateAll {
		nested = make(map[string]*query.PopulateEntry)
		for _, attrName := range target.RelationAttributes() {
			nested[attrName] = &query.PopulateEntry{}
		}
	}
	if len(nested) > 0 {
		if err := e.hydrate(ctx, runner, target, related, nested); err != nil {
			return nil, err
		}
	}
	return related, nil
}

// referencedAttribute maps a referenced storage column back to its engine
// attribute name; non-engine columns pass through unchanged and act as raw
// references.
func referencedAttribute(column string) string {
	switch column {
	case schema.ColumnID, "":
		return query.AttrID
	case schema.ColumnDocumentID:
		return query.AttrDocumentID
	default:
		return column
	}
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func sortedStaticKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
