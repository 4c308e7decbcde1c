package query

import (
	"database/sql"
	"fmt"

	"github.com/asaidimu/go-nakala/core/codec"
	"github.com/asaidimu/go-nakala/core/schema"
)

// Engine-managed attribute names as exposed on entities. They map onto the
// reserved storage columns and are never declared in content types.
const (
	AttrID          = "id"
	AttrDocumentID  = "documentId"
	AttrPublishedAt = "publishedAt"
	AttrLocale      = "locale"
)

var engineColumns = map[string]struct {
	attr string
	isID bool
}{
	schema.ColumnID:          {AttrID, true},
	schema.ColumnDocumentID:  {AttrDocumentID, false},
	schema.ColumnPublishedAt: {AttrPublishedAt, false},
	schema.ColumnLocale:      {AttrLocale, false},
}

var engineAttributes = map[string]string{
	AttrID:          schema.ColumnID,
	AttrDocumentID:  schema.ColumnDocumentID,
	AttrPublishedAt: schema.ColumnPublishedAt,
	AttrLocale:      schema.ColumnLocale,
}

// FromRow maps a column-oriented row into the attribute-oriented entity
// shape, decoding every column present in the content type's
// column-to-attribute map through its field codec. Columns the model does
// not know keep their raw value under their column name.
func FromRow(ct *schema.ContentType, row Row) (Entity, error) {
	entity := make(Entity, len(row))
	for column, raw := range row {
		if raw == nil {
			name := column
			if eng, ok := engineColumns[column]; ok {
				name = eng.attr
			} else if attrName, _, ok := ct.AttributeForColumn(column); ok {
				name = attrName
			}
			entity[name] = nil
			continue
		}

		if eng, ok := engineColumns[column]; ok {
			decoded, err := codec.ForColumn(column, eng.isID).Decode(raw)
			if err != nil {
				return nil, err
			}
			entity[eng.attr] = decoded
			continue
		}

		attrName, attr, ok := ct.AttributeForColumn(column)
		if !ok {
			entity[column] = raw
			continue
		}
		decoded, err := codec.ForAttribute(column, attr).Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode column %s: %w", column, err)
		}
		entity[attrName] = decoded
	}
	return entity, nil
}

// FromRows maps a batch of rows.
func FromRows(ct *schema.ContentType, rows []Row) ([]Entity, error) {
	entities := make([]Entity, 0, len(rows))
	for _, row := range rows {
		entity, err := FromRow(ct, row)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// ToRow maps an attribute-named data payload into column-named values,
// encoding scalars through their codecs. Component and unknown keys are
// skipped; they are wired through pivot rows, not columns on the base
// table. Owning-side relation values land on their join column, whether
// given under the attribute name or the column name itself.
func ToRow(ct *schema.ContentType, data Entity) (Row, error) {
	joinColumns := owningJoinColumns(ct)
	row := make(Row, len(data))
	for name, value := range data {
		if column, ok := engineAttributes[name]; ok {
			row[column] = value
			continue
		}
		attr := ct.Attribute(name)
		if attr == nil {
			if joinColumns[name] {
				row[name] = value
			}
			continue
		}
		if attr.IsRelation() {
			// Only bare id values attach through the join column; nested
			// shapes belong to the populate/hydration path.
			switch value.(type) {
			case map[string]any, []any:
			default:
				if attr.Relation.JoinColumn != nil {
					row[attr.Relation.JoinColumn.Name] = value
				}
			}
			continue
		}
		if !attr.IsScalar() {
			continue
		}
		if value == nil {
			row[ct.ColumnName(name)] = nil
			continue
		}
		encoded, err := codec.ForAttribute(name, attr).Encode(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode attribute %s: %w", name, err)
		}
		row[ct.ColumnName(name)] = encoded
	}
	return row, nil
}

// owningJoinColumns collects the foreign-key columns the base table
// carries for its owning-side relations.
func owningJoinColumns(ct *schema.ContentType) map[string]bool {
	columns := make(map[string]bool)
	for _, attr := range ct.Attributes {
		if attr.IsRelation() && attr.Relation.JoinColumn != nil {
			columns[attr.Relation.JoinColumn.Name] = true
		}
	}
	return columns
}

// ScanRows drains a *sql.Rows into column-keyed raw rows.
func ScanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var results []Row
	for rows.Next() {
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return results, nil
}
