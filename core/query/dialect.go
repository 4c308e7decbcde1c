// Package query implements the content-type-aware query builder: predicate
// normalization and rendering, relation join planning, order-by compilation
// with the windowed deep-sort rewrite, populate expansion and the lowering
// of accumulated builder state into executable SQL.
package query

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// Dialect captures the per-backend rendering differences the compiler must
// preserve: identifier quoting, LIKE escaping, case-insensitive matching,
// RETURNING support and driver error mapping.
type Dialect interface {
	// Name identifies the dialect ("sqlite", "postgres").
	Name() string
	// Quote quotes an identifier.
	Quote(ident string) string
	// EscapeLike escapes the wildcard and escape characters of a literal
	// before it is embedded in a LIKE pattern. Default wildcard and escape
	// characters differ across backends, so this is a correctness
	// requirement rather than style.
	EscapeLike(s string) string
	// Lower wraps an expression in the dialect's case-folding cast, used
	// by the case-insensitive operator family.
	Lower(expr string) string
	// LikeSuffix is appended after every LIKE pattern placeholder, e.g.
	// an explicit ESCAPE clause on backends that need one.
	LikeSuffix() string
	// Rebind rewrites ? placeholders into the dialect's native form.
	Rebind(query string) string
	// UsesReturning reports whether INSERT ... RETURNING is supported.
	UsesReturning() bool
	// SupportsForUpdate reports whether SELECT ... FOR UPDATE is valid.
	SupportsForUpdate() bool
	// RequiresLimitForOffset reports whether OFFSET is only valid after an
	// explicit LIMIT clause.
	RequiresLimitForOffset() bool
	// MapError translates a raw driver error into a typed DatabaseError.
	MapError(err error) error
}

// Runner abstracts the executable surface shared by *sql.DB and *sql.Tx so
// the same builder code serves transactional and plain execution.
type Runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// RebindPositional is a helper for dialects with numbered placeholders: it
// rewrites every ? outside of quoted literals into $1, $2, ...
func RebindPositional(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inString := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inString = !inString
			sb.WriteByte(c)
		case c == '?' && !inString:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
