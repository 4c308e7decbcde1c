package document

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/asaidimu/go-nakala/core/errs"
	"github.com/asaidimu/go-nakala/core/query"
	"github.com/asaidimu/go-nakala/core/schema"
)

// DynamicZoneComponentKey tags each dynamic-zone element with the uid of
// the component it instantiates.
const DynamicZoneComponentKey = "__component"

// componentManager handles the sub-entity graph hanging off an entity:
// component and dynamic-zone attributes stored as rows in the component
// tables, attached through the parent's pivot table. Traversal is
// depth-first, parent first on create and children first on delete.
//
// All writes run in input order on a single transaction handle; sql.Tx
// does not support concurrent statements, which also satisfies the
// serialized-write requirement dialects like SQLite impose on nested
// writes.
type componentManager struct {
	registry *schema.Registry
	dialect  query.Dialect
	logger   *zap.Logger
}

// pivotRow is one row of the parent's component pivot table.
type pivotRow struct {
	id            int64
	cmpID         int64
	componentType string
	field         string
	order         int64
}

func pivotTableName(ct *schema.ContentType) string {
	return ct.TableName + "_cmps"
}

// componentItem is one normalized sub-entity payload: the component uid it
// targets plus its data.
type componentItem struct {
	uid  string
	data query.Entity
}

// itemsForAttribute normalizes the payload value of one component-like
// attribute into an ordered item list.
func itemsForAttribute(attr *schema.Attribute, value any) ([]componentItem, error) {
	if value == nil {
		return nil, nil
	}
	switch attr.Type {
	case schema.TypeComponent:
		if attr.Repeatable {
			list, ok := value.([]any)
			if !ok {
				return nil, errs.NewValidation("repeatable component expects an array")
			}
			items := make([]componentItem, 0, len(list))
			for _, element := range list {
				data, ok := element.(map[string]any)
				if !ok {
					return nil, errs.NewValidation("repeatable component elements must be objects")
				}
				items = append(items, componentItem{uid: attr.Component, data: data})
			}
			return items, nil
		}
		data, ok := value.(map[string]any)
		if !ok {
			return nil, errs.NewValidation("component value must be an object")
		}
		return []componentItem{{uid: attr.Component, data: data}}, nil

	case schema.TypeDynamicZone:
		list, ok := value.([]any)
		if !ok {
			return nil, errs.NewValidation("dynamic zone expects an array")
		}
		items := make([]componentItem, 0, len(list))
		for _, element := range list {
			data, ok := element.(map[string]any)
			if !ok {
				return nil, errs.NewValidation("dynamic zone elements must be objects")
			}
			uid, _ := data[DynamicZoneComponentKey].(string)
			if uid == "" {
				return nil, errs.NewValidation("dynamic zone elements must carry %s", DynamicZoneComponentKey)
			}
			admissible := false
			for _, allowed := range attr.Components {
				if allowed == uid {
					admissible = true
					break
				}
			}
			if !admissible {
				return nil, errs.NewValidation("component %s is not admissible in this dynamic zone", uid)
			}
			items = append(items, componentItem{uid: uid, data: data})
		}
		return items, nil
	}
	return nil, nil
}

// createComponents creates every component and dynamic-zone sub-row named
// in data and attaches them to entityID. Returns without touching storage
// when the payload carries none.
func (m *componentManager) createComponents(ctx context.Context, runner query.Runner, ct *schema.ContentType, entityID int64, data query.Entity) error {
	for _, field := range ct.ComponentAttributes() {
		value, present := data[field]
		if !present {
			continue
		}
		attr := ct.Attribute(field)
		items, err := itemsForAttribute(attr, value)
		if err != nil {
			return err
		}
		for i, item := range items {
			cmpID, err := m.createValue(ctx, runner, item.uid, item.data)
			if err != nil {
				return err
			}
			if err := m.attach(ctx, runner, ct, entityID, cmpID, item.uid, field, int64(i+1)); err != nil {
				return err
			}
		}
	}
	return nil
}

// createValue inserts one component row, then recursively creates its own
// nested sub-rows.
func (m *componentManager) createValue(ctx context.Context, runner query.Runner, uid string, data query.Entity) (int64, error) {
	cmp, err := m.registry.GetComponentModel(uid)
	if err != nil {
		return 0, err
	}
	inserted, err := query.NewBuilder(m.registry, cmp, m.dialect, runner, m.logger).
		Insert(scalarOnly(cmp, data)).
		ExecuteInsert(ctx)
	if err != nil {
		return 0, err
	}
	if len(inserted) == 0 {
		return 0, fmt.Errorf("insert into %s returned no row", cmp.TableName)
	}
	cmpID, err := entityID(inserted[0])
	if err != nil {
		return 0, err
	}
	if err := m.createComponents(ctx, runner, cmp, cmpID, data); err != nil {
		return 0, err
	}
	return cmpID, nil
}

// updateComponents reconciles the sub-rows of every component attribute
// present in data against the stored set: kept ids are updated in place,
// new items are created, absent ids are deleted recursively. An id that
// does not belong to the entity's own sub-rows aborts the write.
func (m *componentManager) updateComponents(ctx context.Context, runner query.Runner, ct *schema.ContentType, entID int64, data query.Entity) error {
	for _, field := range ct.ComponentAttributes() {
		value, present := data[field]
		if !present {
			continue
		}
		attr := ct.Attribute(field)
		items, err := itemsForAttribute(attr, value)
		if err != nil {
			return err
		}

		existing, err := m.loadPivotRows(ctx, runner, ct, entID, field)
		if err != nil {
			return err
		}
		existingByID := make(map[int64]pivotRow, len(existing))
		for _, row := range existing {
			existingByID[row.cmpID] = row
		}

		kept := make(map[int64]bool, len(items))
		for i, item := range items {
			id, hasID, err := payloadID(item.data)
			if err != nil {
				return err
			}
			if hasID {
				prior, owned := existingByID[id]
				if !owned || prior.componentType != item.uid {
					return errs.NewApplication("component with id %d is not related to the entity", id)
				}
				kept[id] = true
				if err := m.updateValue(ctx, runner, item.uid, id, item.data); err != nil {
					return err
				}
				if err := m.reorder(ctx, runner, ct, prior.id, int64(i+1)); err != nil {
					return err
				}
				continue
			}
			cmpID, err := m.createValue(ctx, runner, item.uid, item.data)
			if err != nil {
				return err
			}
			if err := m.attach(ctx, runner, ct, entID, cmpID, item.uid, field, int64(i+1)); err != nil {
				return err
			}
		}

		for _, row := range existing {
			if kept[row.cmpID] {
				continue
			}
			if err := m.deleteValue(ctx, runner, ct, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *componentManager) updateValue(ctx context.Context, runner query.Runner, uid string, id int64, data query.Entity) error {
	cmp, err := m.registry.GetComponentModel(uid)
	if err != nil {
		return err
	}
	payload := scalarOnly(cmp, data)
	delete(payload, query.AttrID)
	if len(payload) > 0 {
		_, err = query.NewBuilder(m.registry, cmp, m.dialect, runner, m.logger).
			Update(payload).
			Where(map[string]any{query.AttrID: id}).
			ExecuteWrite(ctx)
		if err != nil {
			return err
		}
	}
	return m.updateComponents(ctx, runner, cmp, id, data)
}

// deleteComponents tears down every sub-row reachable from entityID.
func (m *componentManager) deleteComponents(ctx context.Context, runner query.Runner, ct *schema.ContentType, entID int64) error {
	if len(ct.ComponentAttributes()) == 0 {
		return nil
	}
	rows, err := m.loadPivotRows(ctx, runner, ct, entID, "")
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := m.deleteValue(ctx, runner, ct, row); err != nil {
			return err
		}
	}
	return nil
}

// deleteValue removes one sub-row: its own nested components first, then
// the component row, then the pivot row pointing at it.
func (m *componentManager) deleteValue(ctx context.Context, runner query.Runner, parent *schema.ContentType, row pivotRow) error {
	cmp, err := m.registry.GetComponentModel(row.componentType)
	if err != nil {
		return err
	}
	if err := m.deleteComponents(ctx, runner, cmp, row.cmpID); err != nil {
		return err
	}
	_, err = query.NewBuilder(m.registry, cmp, m.dialect, runner, m.logger).
		Delete().
		Where(map[string]any{query.AttrID: row.cmpID}).
		ExecuteWrite(ctx)
	if err != nil {
		return err
	}
	return m.detach(ctx, runner, parent, row.id)
}

// cloneComponents deep-copies the sub-row graph of sourceID onto targetID.
// New rows, never shared references.
func (m *componentManager) cloneComponents(ctx context.Context, runner query.Runner, ct *schema.ContentType, sourceID, targetID int64) error {
	rows, err := m.loadPivotRows(ctx, runner, ct, sourceID, "")
	if err != nil {
		return err
	}
	for _, row := range rows {
		cmp, err := m.registry.GetComponentModel(row.componentType)
		if err != nil {
			return err
		}
		source, err := m.loadValue(ctx, runner, cmp, row.cmpID)
		if err != nil {
			return err
		}
		if source == nil {
			continue
		}
		delete(source, query.AttrID)
		cmpID, err := m.createValue(ctx, runner, row.componentType, source)
		if err != nil {
			return err
		}
		if err := m.attach(ctx, runner, ct, targetID, cmpID, row.componentType, row.field, row.order); err != nil {
			return err
		}
	}
	return nil
}

// loadValue reads one component row and recursively expands its nested
// sub-rows back into the payload shape createValue accepts.
func (m *componentManager) loadValue(ctx context.Context, runner query.Runner, cmp *schema.ContentType, id int64) (query.Entity, error) {
	entities, err := query.NewBuilder(m.registry, cmp, m.dialect, runner, m.logger).
		Where(map[string]any{query.AttrID: id}).
		First().
		Execute(ctx)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	entity := entities[0]
	nested, err := m.loadComponents(ctx, runner, cmp, id)
	if err != nil {
		return nil, err
	}
	for field, value := range nested {
		entity[field] = value
	}
	return entity, nil
}

// loadComponents reads the component attribute values of one entity,
// keyed by attribute name, in pivot order.
func (m *componentManager) loadComponents(ctx context.Context, runner query.Runner, ct *schema.ContentType, entID int64) (map[string]any, error) {
	if len(ct.ComponentAttributes()) == 0 {
		return nil, nil
	}
	rows, err := m.loadPivotRows(ctx, runner, ct, entID, "")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	byField := make(map[string][]query.Entity)
	for _, row := range rows {
		cmp, err := m.registry.GetComponentModel(row.componentType)
		if err != nil {
			return nil, err
		}
		value, err := m.loadValue(ctx, runner, cmp, row.cmpID)
		if err != nil {
			return nil, err
		}
		if value == nil {
			continue
		}
		attr := ct.Attribute(row.field)
		if attr != nil && attr.Type == schema.TypeDynamicZone {
			value[DynamicZoneComponentKey] = row.componentType
		}
		byField[row.field] = append(byField[row.field], value)
	}

	out := make(map[string]any, len(byField))
	for field, values := range byField {
		attr := ct.Attribute(field)
		if attr != nil && attr.Type == schema.TypeComponent && !attr.Repeatable {
			out[field] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		out[field] = list
	}
	return out, nil
}

// loadPivotRows reads the pivot rows of one entity, optionally narrowed to
// one field, ordered by field then position.
func (m *componentManager) loadPivotRows(ctx context.Context, runner query.Runner, ct *schema.ContentType, entID int64, field string) ([]pivotRow, error) {
	d := m.dialect
	sqlText := "SELECT " + d.Quote("id") + ", " + d.Quote("cmp_id") + ", " +
		d.Quote("component_type") + ", " + d.Quote("field") + ", " + d.Quote("order") +
		" FROM " + d.Quote(pivotTableName(ct)) +
		" WHERE " + d.Quote("entity_id") + " = ?"
	args := []any{entID}
	if field != "" {
		sqlText += " AND " + d.Quote("field") + " = ?"
		args = append(args, field)
	}
	sqlText = d.Rebind(sqlText)

	m.logger.Debug("loading component pivot rows",
		zap.String("sql", sqlText),
		zap.Any("params", args))
	rows, err := runner.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, d.MapError(err)
	}
	defer rows.Close()

	raw, err := query.ScanRows(rows)
	if err != nil {
		return nil, err
	}
	out := make([]pivotRow, 0, len(raw))
	for _, r := range raw {
		id, _ := toInt64(r["id"])
		cmpID, _ := toInt64(r["cmp_id"])
		order, _ := toInt64(r["order"])
		out = append(out, pivotRow{
			id:            id,
			cmpID:         cmpID,
			componentType: toString(r["component_type"]),
			field:         toString(r["field"]),
			order:         order,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].field != out[j].field {
			return out[i].field < out[j].field
		}
		return out[i].order < out[j].order
	})
	return out, nil
}

func (m *componentManager) attach(ctx context.Context, runner query.Runner, ct *schema.ContentType, entID, cmpID int64, uid, field string, order int64) error {
	d := m.dialect
	sqlText := "INSERT INTO " + d.Quote(pivotTableName(ct)) +
		" (" + d.Quote("entity_id") + ", " + d.Quote("cmp_id") + ", " +
		d.Quote("component_type") + ", " + d.Quote("field") + ", " + d.Quote("order") + ")" +
		" VALUES (?, ?, ?, ?, ?)"
	sqlText = d.Rebind(sqlText)
	args := []any{entID, cmpID, uid, field, order}

	m.logger.Debug("attaching component",
		zap.String("sql", sqlText),
		zap.Any("params", args))
	if _, err := runner.ExecContext(ctx, sqlText, args...); err != nil {
		return d.MapError(err)
	}
	return nil
}

func (m *componentManager) detach(ctx context.Context, runner query.Runner, ct *schema.ContentType, pivotID int64) error {
	d := m.dialect
	sqlText := d.Rebind("DELETE FROM " + d.Quote(pivotTableName(ct)) +
		" WHERE " + d.Quote("id") + " = ?")
	if _, err := runner.ExecContext(ctx, sqlText, pivotID); err != nil {
		return d.MapError(err)
	}
	return nil
}

func (m *componentManager) reorder(ctx context.Context, runner query.Runner, ct *schema.ContentType, pivotID, order int64) error {
	d := m.dialect
	sqlText := d.Rebind("UPDATE " + d.Quote(pivotTableName(ct)) +
		" SET " + d.Quote("order") + " = ? WHERE " + d.Quote("id") + " = ?")
	if _, err := runner.ExecContext(ctx, sqlText, order, pivotID); err != nil {
		return d.MapError(err)
	}
	return nil
}

// scalarOnly keeps the keys of data that map to scalar attributes of ct,
// dropping component payloads, relation values and engine fields.
func scalarOnly(ct *schema.ContentType, data query.Entity) query.Entity {
	out := make(query.Entity, len(data))
	for name, value := range data {
		if attr := ct.Attribute(name); attr != nil && attr.IsScalar() {
			out[name] = value
		}
	}
	return out
}

// payloadID extracts an explicit sub-row id from a component payload.
func payloadID(data query.Entity) (int64, bool, error) {
	raw, ok := data[query.AttrID]
	if !ok || raw == nil {
		return 0, false, nil
	}
	id, ok := toInt64(raw)
	if !ok {
		return 0, false, errs.NewValidation("component id must be an integer")
	}
	return id, true, nil
}

// entityID reads the id of a freshly inserted entity.
func entityID(entity query.Entity) (int64, error) {
	id, ok := toInt64(entity[query.AttrID])
	if !ok {
		return 0, fmt.Errorf("inserted row carries no usable id (got %T)", entity[query.AttrID])
	}
	return id, nil
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
