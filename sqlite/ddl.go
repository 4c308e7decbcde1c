package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/asaidimu/go-nakala/core/schema"
)

// CreateTables generates and executes the DDL for every registered
// content type and component: the base tables with the engine-managed
// columns, the relation pivot tables and the component pivot tables. DDL
// uses IF NOT EXISTS throughout so bootstrap is idempotent.
func CreateTables(ctx context.Context, db *sql.DB, registry *schema.Registry, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := New()

	var statements []string
	for _, ct := range registry.Models() {
		statements = append(statements, createTableSQL(d, ct, true))
		statements = append(statements, pivotTableSQL(d, ct)...)
	}
	for _, ct := range registry.Components() {
		statements = append(statements, createTableSQL(d, ct, false))
	}

	for _, stmt := range statements {
		logger.Debug("executing DDL", zap.String("sql", stmt))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute DDL %q: %w", stmt, err)
		}
	}
	return nil
}

func createTableSQL(d *Dialect, ct *schema.ContentType, withEngineColumns bool) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE IF NOT EXISTS " + d.Quote(ct.TableName) + " (\n")
	sb.WriteString("    " + d.Quote(schema.ColumnID) + " INTEGER PRIMARY KEY AUTOINCREMENT")
	if withEngineColumns {
		sb.WriteString(",\n    " + d.Quote(schema.ColumnDocumentID) + " TEXT")
		sb.WriteString(",\n    " + d.Quote(schema.ColumnPublishedAt) + " TEXT")
		sb.WriteString(",\n    " + d.Quote(schema.ColumnLocale) + " TEXT")
	}
	for _, name := range sortedAttributeNames(ct) {
		attr := ct.Attributes[name]
		if !attr.IsScalar() {
			continue
		}
		column := ct.ColumnName(name)
		if column == schema.ColumnID {
			continue
		}
		sb.WriteString(",\n    " + d.Quote(column) + " " + columnType(attr.Type))
	}
	// Owning-side join columns live on the base table.
	for _, name := range relationNames(ct) {
		rel := ct.Attributes[name].Relation
		if rel.JoinColumn != nil {
			sb.WriteString(",\n    " + d.Quote(rel.JoinColumn.Name) + " INTEGER")
		}
	}
	sb.WriteString("\n);")
	return sb.String()
}

func pivotTableSQL(d *Dialect, ct *schema.ContentType) []string {
	var statements []string
	for _, name := range relationNames(ct) {
		rel := ct.Attributes[name].Relation
		jt := rel.JoinTable
		if jt == nil {
			continue
		}
		var sb strings.Builder
		sb.WriteString("CREATE TABLE IF NOT EXISTS " + d.Quote(jt.Name) + " (\n")
		sb.WriteString("    " + d.Quote(schema.ColumnID) + " INTEGER PRIMARY KEY AUTOINCREMENT")
		sb.WriteString(",\n    " + d.Quote(jt.JoinColumn.Name) + " INTEGER")
		if rel.IsMorph() {
			sb.WriteString(",\n    " + d.Quote(jt.JoinColumn.Name+"_type") + " TEXT")
		}
		sb.WriteString(",\n    " + d.Quote(jt.InverseJoinColumn.Name) + " INTEGER")
		for column := range jt.On {
			sb.WriteString(",\n    " + d.Quote(column) + " TEXT")
		}
		if jt.OrderColumnName != "" {
			sb.WriteString(",\n    " + d.Quote(jt.OrderColumnName) + " INTEGER")
		}
		sb.WriteString("\n);")
		statements = append(statements, sb.String())
	}

	if len(ct.ComponentAttributes()) > 0 {
		var sb strings.Builder
		sb.WriteString("CREATE TABLE IF NOT EXISTS " + d.Quote(ct.TableName+"_cmps") + " (\n")
		sb.WriteString("    " + d.Quote(schema.ColumnID) + " INTEGER PRIMARY KEY AUTOINCREMENT")
		sb.WriteString(",\n    " + d.Quote("entity_id") + " INTEGER")
		sb.WriteString(",\n    " + d.Quote("cmp_id") + " INTEGER")
		sb.WriteString(",\n    " + d.Quote("component_type") + " TEXT")
		sb.WriteString(",\n    " + d.Quote("field") + " TEXT")
		sb.WriteString(",\n    " + d.Quote("order") + " INTEGER")
		sb.WriteString("\n);")
		statements = append(statements, sb.String())
	}
	return statements
}

func columnType(t schema.AttributeType) string {
	switch t {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeBigInteger:
		return "TEXT"
	case schema.TypeFloat, schema.TypeDecimal:
		return "REAL"
	case schema.TypeBoolean:
		return "INTEGER"
	case schema.TypeJSON:
		return "TEXT"
	default:
		return "TEXT"
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

func relationNames(ct *schema.ContentType) []string {
	return ct.RelationAttributes()
}
