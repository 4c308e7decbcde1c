// Package postgres implements the query.Dialect contract for PostgreSQL
// on top of the pgx driver's database/sql adapter.
package postgres

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/asaidimu/go-nakala/core/errs"
	"github.com/asaidimu/go-nakala/core/query"
)

// Dialect is the PostgreSQL rendering and error-mapping backend.
type Dialect struct{}

var _ query.Dialect = (*Dialect)(nil)

// New creates the PostgreSQL dialect.
func New() *Dialect {
	return &Dialect{}
}

// Open connects through the pgx stdlib adapter using a standard
// PostgreSQL connection string.
func Open(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

func (d *Dialect) Name() string {
	return "postgres"
}

func (d *Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (d *Dialect) EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Lower casts before lowering so JSONB and enum columns compare as text.
func (d *Dialect) Lower(expr string) string {
	return "LOWER(CAST(" + expr + " AS VARCHAR))"
}

func (d *Dialect) LikeSuffix() string {
	return ""
}

func (d *Dialect) Rebind(sql string) string {
	return query.RebindPositional(sql)
}

func (d *Dialect) UsesReturning() bool {
	return true
}

func (d *Dialect) SupportsForUpdate() bool {
	return true
}

func (d *Dialect) RequiresLimitForOffset() bool {
	return false
}

// MapError translates pgconn errors into the typed DatabaseError. Class 23
// covers integrity constraint violations.
func (d *Dialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		message := pgErr.Message
		if strings.HasPrefix(pgErr.Code, "23") {
			message = "constraint violation"
		}
		return &errs.DatabaseError{
			Dialect: d.Name(),
			Code:    pgErr.Code,
			Message: message,
			Err:     err,
		}
	}
	return &errs.DatabaseError{Dialect: d.Name(), Message: err.Error(), Err: err}
}
