// Package sqlite implements the query.Dialect contract for SQLite using
// the mattn/go-sqlite3 driver, plus DDL generation for content-type and
// pivot tables.
package sqlite

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/asaidimu/go-nakala/core/errs"
	"github.com/asaidimu/go-nakala/core/query"
)

// Dialect is the SQLite rendering and error-mapping backend.
type Dialect struct{}

var _ query.Dialect = (*Dialect)(nil)

// New creates the SQLite dialect.
func New() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Name() string {
	return "sqlite"
}

func (d *Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// EscapeLike escapes backslash and the LIKE wildcards so literals match
// verbatim; patterns rendered with it carry an explicit ESCAPE clause.
func (d *Dialect) EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (d *Dialect) Lower(expr string) string {
	return "LOWER(" + expr + ")"
}

func (d *Dialect) LikeSuffix() string {
	return ` ESCAPE '\'`
}

func (d *Dialect) Rebind(sql string) string {
	return sql
}

func (d *Dialect) UsesReturning() bool {
	return true
}

func (d *Dialect) SupportsForUpdate() bool {
	return false
}

func (d *Dialect) RequiresLimitForOffset() bool {
	return true
}

// MapError translates driver errors into the typed DatabaseError, keeping
// the raw error reachable through Unwrap.
func (d *Dialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		message := "database error"
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			message = "constraint violation"
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			message = "database is locked"
		case sqlite3.ErrCantOpen:
			message = "cannot open database"
		}
		return &errs.DatabaseError{
			Dialect: d.Name(),
			Code:    sqliteErr.Code.Error(),
			Message: message,
			Err:     err,
		}
	}
	return &errs.DatabaseError{Dialect: d.Name(), Message: err.Error(), Err: err}
}
