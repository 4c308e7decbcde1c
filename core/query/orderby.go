package query

import (
	"strings"

	"github.com/asaidimu/go-nakala/core/errs"
)

// processOrderBy compiles an order-by spec into resolved column entries.
// Accepted forms: a string ("title", "title:desc", "author.name:asc"), an
// array of any accepted form (concatenated), or a map of attribute to
// direction, nesting maps for relation hops. Relation attributes resolve
// through the join planner and recurse with the target alias as the new
// base; entries resolved through a relational join are flagged so the
// lowering step can activate the deep-sort rewrite.
func processOrderBy(spec any, ctx compileCtx) ([]OrderEntry, error) {
	switch s := spec.(type) {
	case nil:
		return nil, nil
	case string:
		return processOrderByString(s, ctx)
	case []any:
		var entries []OrderEntry
		for _, item := range s {
			sub, err := processOrderBy(item, ctx)
			if err != nil {
				return nil, err
			}
			entries = append(entries, sub...)
		}
		return entries, nil
	case []string:
		var entries []OrderEntry
		for _, item := range s {
			sub, err := processOrderByString(item, ctx)
			if err != nil {
				return nil, err
			}
			entries = append(entries, sub...)
		}
		return entries, nil
	case map[string]any:
		return processOrderByMap(s, ctx)
	default:
		return nil, errs.NewValidation("invalid orderBy of type %T", spec)
	}
}

func processOrderByString(s string, ctx compileCtx) ([]OrderEntry, error) {
	direction := "asc"
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		direction = normalizeDirection(s[idx+1:])
		s = s[:idx]
	}

	// Dotted paths fold into the nested map form.
	parts := strings.Split(s, ".")
	var spec any = direction
	for i := len(parts) - 1; i >= 1; i-- {
		spec = map[string]any{parts[i]: spec}
	}
	return processOrderByKey(parts[0], spec, ctx)
}

func processOrderByMap(m map[string]any, ctx compileCtx) ([]OrderEntry, error) {
	var entries []OrderEntry
	for _, key := range sortedKeys(m) {
		sub, err := processOrderByKey(key, m[key], ctx)
		if err != nil {
			return nil, err
		}
		entries = append(entries, sub...)
	}
	return entries, nil
}

func processOrderByKey(name string, value any, ctx compileCtx) ([]OrderEntry, error) {
	if column, ok := engineAttributes[name]; ok {
		direction, ok := value.(string)
		if !ok {
			return nil, errs.NewValidation("invalid order direction for attribute %s", name)
		}
		return []OrderEntry{{
			Column:  ctx.qualify(column),
			Order:   normalizeDirection(direction),
			ViaJoin: ctx.alias != ctx.qb.alias,
		}}, nil
	}

	attr := ctx.ct.Attribute(name)
	if attr == nil {
		return nil, errs.NewValidation("cannot order by unknown attribute %s", name)
	}

	if attr.IsRelation() {
		targetCtx, err := ctx.joinRelation(name, attr.Relation)
		if err != nil {
			return nil, err
		}
		if targetCtx.alias == ctx.alias {
			return nil, errs.NewValidation("cannot order by relation %s", name)
		}
		nested, ok := value.(map[string]any)
		if !ok {
			return nil, errs.NewValidation("ordering by relation %s requires a nested attribute", name)
		}
		entries, err := processOrderByMap(nested, targetCtx)
		if err != nil {
			return nil, err
		}
		for i := range entries {
			entries[i].ViaJoin = true
		}
		return entries, nil
	}

	if !attr.IsScalar() {
		return nil, errs.NewValidation("cannot order by attribute %s of type %s", name, attr.Type)
	}

	direction, ok := value.(string)
	if !ok {
		return nil, errs.NewValidation("invalid order direction for attribute %s", name)
	}
	return []OrderEntry{{
		Column:  ctx.qualify(ctx.ct.ColumnName(name)),
		Order:   normalizeDirection(direction),
		ViaJoin: ctx.alias != ctx.qb.alias,
	}}, nil
}

func normalizeDirection(dir string) string {
	if strings.EqualFold(dir, "desc") {
		return "desc"
	}
	return "asc"
}
