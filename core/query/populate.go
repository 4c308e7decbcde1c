package query

import (
	"sort"
	"strings"

	"github.com/asaidimu/go-nakala/core/errs"
)

// processPopulate expands a populate directive into the normalized
// per-relation-attribute map. Population is best effort: non-relation and
// unknown attribute names are silently dropped rather than rejected.
// Returns nil when no population was requested.
func processPopulate(spec any, ctx compileCtx) (map[string]*PopulateEntry, error) {
	switch s := spec.(type) {
	case nil:
		return nil, nil
	case bool:
		if !s {
			return nil, nil
		}
		result := make(map[string]*PopulateEntry)
		for _, name := range ctx.ct.RelationAttributes() {
			result[name] = &PopulateEntry{}
		}
		if len(result) == 0 {
			return nil, nil
		}
		return result, nil
	case []string:
		return populateFromPaths(s, ctx)
	case []any:
		paths := make([]string, 0, len(s))
		for _, item := range s {
			path, ok := item.(string)
			if !ok {
				return nil, errs.NewValidation("populate array entries must be strings, got %T", item)
			}
			paths = append(paths, path)
		}
		return populateFromPaths(paths, ctx)
	case map[string]any:
		return populateFromMap(s, ctx)
	case map[string]*PopulateEntry:
		result := make(map[string]*PopulateEntry, len(s))
		for name, entry := range s {
			if attrIsPopulatable(ctx, name) {
				result[name] = entry
			}
		}
		if len(result) == 0 {
			return nil, nil
		}
		return result, nil
	default:
		return nil, errs.NewValidation("invalid populate of type %T", spec)
	}
}

// populateFromPaths splits dotted paths and merges sibling sub-paths under
// the same root key: {"author.role", "author.avatar"} nests both under
// "author".
func populateFromPaths(paths []string, ctx compileCtx) (map[string]*PopulateEntry, error) {
	result := make(map[string]*PopulateEntry)
	for _, path := range paths {
		parts := strings.Split(path, ".")
		root := parts[0]
		if !attrIsPopulatable(ctx, root) {
			continue
		}
		entry, ok := result[root]
		if !ok {
			entry = &PopulateEntry{}
			result[root] = entry
		}
		if len(parts) > 1 {
			if entry.Populate == nil {
				entry.Populate = make(map[string]*PopulateEntry)
			}
			mergePath(entry.Populate, parts[1:])
		}
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

func mergePath(into map[string]*PopulateEntry, parts []string) {
	entry, ok := into[parts[0]]
	if !ok {
		entry = &PopulateEntry{}
		into[parts[0]] = entry
	}
	if len(parts) > 1 {
		if entry.Populate == nil {
			entry.Populate = make(map[string]*PopulateEntry)
		}
		mergePath(entry.Populate, parts[1:])
	}
}

func populateFromMap(m map[string]any, ctx compileCtx) (map[string]*PopulateEntry, error) {
	result := make(map[string]*PopulateEntry)
	for name, value := range m {
		if !attrIsPopulatable(ctx, name) {
			continue
		}
		entry, err := populateEntry(value)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			result[name] = entry
		}
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

func populateEntry(value any) (*PopulateEntry, error) {
	switch v := value.(type) {
	case bool:
		if !v {
			return nil, nil
		}
		return &PopulateEntry{}, nil
	case *PopulateEntry:
		return v, nil
	case map[string]any:
		entry := &PopulateEntry{}
		for key, item := range v {
			switch key {
			case "fields", "select":
				fields, err := stringSlice(item)
				if err != nil {
					return nil, errs.NewValidation("populate fields must be strings")
				}
				entry.Fields = fields
			case "filters", "where":
				filters, ok := item.(map[string]any)
				if !ok {
					return nil, errs.NewValidation("populate filters must be an object")
				}
				entry.Filters = filters
			case "orderBy", "sort":
				entry.OrderBy = item
			case "limit":
				n, ok := toInt(item)
				if !ok {
					return nil, errs.NewValidation("populate limit must be an integer")
				}
				entry.Limit = &n
			case "offset", "start":
				n, ok := toInt(item)
				if !ok {
					return nil, errs.NewValidation("populate offset must be an integer")
				}
				entry.Offset = &n
			case "populate":
				if flag, ok := item.(bool); ok {
					entry.PopulateAll = flag
					break
				}
				sub, err := populateSubMap(item)
				if err != nil {
					return nil, err
				}
				entry.Populate = sub
			case "count":
				entry.Count = truthy(item)
			default:
				return nil, errs.NewValidation("unknown populate option %s", key)
			}
		}
		return entry, nil
	default:
		return nil, errs.NewValidation("invalid populate value of type %T", value)
	}
}

func populateSubMap(value any) (map[string]*PopulateEntry, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		result := make(map[string]*PopulateEntry, len(v))
		for name, item := range v {
			entry, err := populateEntry(item)
			if err != nil {
				return nil, err
			}
			if entry != nil {
				result[name] = entry
			}
		}
		return result, nil
	case []any, []string:
		paths, err := stringSlice(v)
		if err != nil {
			return nil, errs.NewValidation("nested populate array entries must be strings")
		}
		result := make(map[string]*PopulateEntry)
		for _, path := range paths {
			mergePath(result, strings.Split(path, "."))
		}
		return result, nil
	default:
		return nil, errs.NewValidation("invalid nested populate of type %T", value)
	}
}

func attrIsPopulatable(ctx compileCtx, name string) bool {
	attr := ctx.ct.Attribute(name)
	return attr != nil && attr.IsRelation()
}

// populateSelects returns the base columns that must survive the primary
// select for hydration to run as a second pass: the entity id plus the
// owning-side join column of every retained relation.
func populateSelects(populate map[string]*PopulateEntry, ctx compileCtx) []string {
	if len(populate) == 0 {
		return nil
	}
	columns := []string{"id"}
	for _, name := range sortedPopulateKeys(populate) {
		attr := ctx.ct.Attribute(name)
		if attr == nil || !attr.IsRelation() {
			continue
		}
		if jc := attr.Relation.JoinColumn; jc != nil {
			columns = append(columns, jc.Name)
		}
	}
	return columns
}

func sortedPopulateKeys(m map[string]*PopulateEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, errs.NewValidation("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errs.NewValidation("expected string array, got %T", value)
	}
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
