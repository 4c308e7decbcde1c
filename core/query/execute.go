package query

import (
	"context"

	"go.uber.org/zap"
)

// Execute lowers and runs a select, returning codec-decoded entities.
func (qb *QueryBuilder) Execute(ctx context.Context) ([]Entity, error) {
	rows, err := qb.ExecuteRows(ctx)
	if err != nil {
		return nil, err
	}
	return FromRows(qb.ct, rows)
}

// ExecuteRows runs a select and returns raw column-keyed rows, skipping
// the attribute mapping pass.
func (qb *QueryBuilder) ExecuteRows(ctx context.Context) ([]Row, error) {
	sqlQuery, args, err := qb.ToSQL()
	if err != nil {
		return nil, err
	}
	qb.logger.Debug("executing query",
		zap.String("uid", qb.ct.UID),
		zap.String("sql", sqlQuery),
		zap.Any("params", args))

	rows, err := qb.runner.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, qb.dialect.MapError(err)
	}
	defer rows.Close()
	return ScanRows(rows)
}

// ExecuteCount runs a count, deduplicating base ids when joins are
// present.
func (qb *QueryBuilder) ExecuteCount(ctx context.Context) (int64, error) {
	rows, err := qb.ExecuteRows(ctx)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt64(rows[0]["count"]), nil
}

// ExecuteMax runs a MAX aggregate; nil when the table is empty.
func (qb *QueryBuilder) ExecuteMax(ctx context.Context) (any, error) {
	rows, err := qb.ExecuteRows(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0]["max"], nil
}

// ExecuteWrite runs an update, delete or truncate and reports affected
// rows.
func (qb *QueryBuilder) ExecuteWrite(ctx context.Context) (int64, error) {
	sqlQuery, args, err := qb.ToSQL()
	if err != nil {
		return 0, err
	}
	qb.logger.Debug("executing write",
		zap.String("uid", qb.ct.UID),
		zap.String("sql", sqlQuery),
		zap.Any("params", args))

	result, err := qb.runner.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, qb.dialect.MapError(err)
	}
	return result.RowsAffected()
}

// ExecuteInsert runs an insert and returns the stored entities. Backends
// with RETURNING get them atomically; otherwise the inserted id is read
// back from the driver.
func (qb *QueryBuilder) ExecuteInsert(ctx context.Context) ([]Entity, error) {
	sqlQuery, args, err := qb.ToSQL()
	if err != nil {
		return nil, err
	}
	qb.logger.Debug("executing insert",
		zap.String("uid", qb.ct.UID),
		zap.String("sql", sqlQuery),
		zap.Any("params", args))

	if qb.dialect.UsesReturning() {
		rows, err := qb.runner.QueryContext(ctx, sqlQuery, args...)
		if err != nil {
			return nil, qb.dialect.MapError(err)
		}
		defer rows.Close()
		raw, err := ScanRows(rows)
		if err != nil {
			return nil, err
		}
		return FromRows(qb.ct, raw)
	}

	result, err := qb.runner.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, qb.dialect.MapError(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return []Entity{{AttrID: id}}, nil
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case []byte:
		var n int64
		for _, c := range v {
			if c < '0' || c > '9' {
				break
			}
			n = n*10 + int64(c-'0')
		}
		return n
	default:
		return 0
	}
}
