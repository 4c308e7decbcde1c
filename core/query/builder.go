package query

import (
	"go.uber.org/zap"

	"github.com/asaidimu/go-nakala/core/schema"
)

// FilterFn is a lazily-evaluated filter: it runs against the live builder
// during finalization and its result is folded into the where-list. Used
// by callers that need to inspect accumulated state (joins, aliases)
// before contributing conditions.
type FilterFn func(qb *QueryBuilder) any

// QueryBuilder accumulates the state of exactly one query: operation kind,
// selection, where-list, joins, ordering, pagination, populate spec and
// write payloads. A builder is owned by a single query invocation, is
// mutated by chained calls, and is finalized exactly once by the lowering
// step; it is never shared across concurrent queries.
type QueryBuilder struct {
	registry *schema.Registry
	ct       *schema.ContentType
	dialect  Dialect
	runner   Runner
	logger   *zap.Logger

	op           Operation
	alias        string
	aliasCounter int

	selects     []string
	whereList   []any
	filterFns   []FilterFn
	joins       []*Join
	orderBySpec any
	groupBy     []string
	limit       *int
	offset      *int
	first       bool
	forUpdate   bool

	data       []Entity
	increments map[string]float64
	maxColumn  string

	populateSpec any
	searchQuery  string

	onConflictIgnore bool
	onConflictMerge  []string

	// Compiled state, produced once by finalize.
	finalized bool
	condition *Condition
	orderBy   []OrderEntry
	populate  map[string]*PopulateEntry
	rows      []Row
	finalCols []string
	err       error
}

// NewBuilder creates a builder for one query against the given model. The
// runner is the plain pool or an active transaction; logger may be nil.
func NewBuilder(registry *schema.Registry, ct *schema.ContentType, dialect Dialect, runner Runner, logger *zap.Logger) *QueryBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	qb := &QueryBuilder{
		registry: registry,
		ct:       ct,
		dialect:  dialect,
		runner:   runner,
		logger:   logger,
		op:       OpSelect,
	}
	qb.alias = qb.nextAlias()
	return qb
}

// ContentType returns the model this builder queries.
func (qb *QueryBuilder) ContentType() *schema.ContentType {
	return qb.ct
}

// Alias returns the base table alias.
func (qb *QueryBuilder) Alias() string {
	return qb.alias
}

// Select sets the attribute or raw column names to project.
func (qb *QueryBuilder) Select(fields ...string) *QueryBuilder {
	qb.selects = append(qb.selects, fields...)
	return qb
}

// Where appends a filter expression; sequential calls are AND'd.
func (qb *QueryBuilder) Where(where any) *QueryBuilder {
	if where != nil {
		qb.whereList = append(qb.whereList, where)
	}
	return qb
}

// WhereFn registers a lazily-evaluated filter folded in at finalization.
func (qb *QueryBuilder) WhereFn(fn FilterFn) *QueryBuilder {
	if fn != nil {
		qb.filterFns = append(qb.filterFns, fn)
	}
	return qb
}

// Insert switches the builder to an insert over one or more
// attribute-named payloads.
func (qb *QueryBuilder) Insert(data ...Entity) *QueryBuilder {
	qb.op = OpInsert
	qb.data = append(qb.data, data...)
	return qb
}

// Update switches the builder to an update carrying the given payload.
func (qb *QueryBuilder) Update(data Entity) *QueryBuilder {
	qb.op = OpUpdate
	qb.data = []Entity{data}
	return qb
}

// Delete switches the builder to a delete.
func (qb *QueryBuilder) Delete() *QueryBuilder {
	qb.op = OpDelete
	return qb
}

// Count switches the builder to a count over distinct base ids.
func (qb *QueryBuilder) Count() *QueryBuilder {
	qb.op = OpCount
	return qb
}

// Max switches the builder to a MAX aggregate over one attribute.
func (qb *QueryBuilder) Max(attribute string) *QueryBuilder {
	qb.op = OpMax
	qb.maxColumn = attribute
	return qb
}

// Truncate switches the builder to an unfiltered delete of the table.
func (qb *QueryBuilder) Truncate() *QueryBuilder {
	qb.op = OpTruncate
	return qb
}

// Limit caps the number of returned rows.
func (qb *QueryBuilder) Limit(n int) *QueryBuilder {
	qb.limit = &n
	return qb
}

// Offset skips the first n rows.
func (qb *QueryBuilder) Offset(n int) *QueryBuilder {
	qb.offset = &n
	return qb
}

// First limits the query to a single row.
func (qb *QueryBuilder) First() *QueryBuilder {
	qb.first = true
	return qb
}

// OrderBy sets the order-by spec (string, array or map form).
func (qb *QueryBuilder) OrderBy(spec any) *QueryBuilder {
	qb.orderBySpec = spec
	return qb
}

// GroupBy groups by the given attribute columns.
func (qb *QueryBuilder) GroupBy(fields ...string) *QueryBuilder {
	qb.groupBy = append(qb.groupBy, fields...)
	return qb
}

// Populate sets the populate directive (bool, path array or map form).
func (qb *QueryBuilder) Populate(spec any) *QueryBuilder {
	qb.populateSpec = spec
	return qb
}

// Search adds a case-insensitive substring match across the model's
// searchable string attributes.
func (qb *QueryBuilder) Search(text string) *QueryBuilder {
	qb.searchQuery = text
	return qb
}

// Join appends a pre-planned join.
func (qb *QueryBuilder) Join(j *Join) *QueryBuilder {
	if j.Alias == "" {
		j.Alias = qb.nextAlias()
	}
	qb.addJoin(j)
	return qb
}

// Transacting rebinds the builder onto a transaction runner.
func (qb *QueryBuilder) Transacting(runner Runner) *QueryBuilder {
	if runner != nil {
		qb.runner = runner
	}
	return qb
}

// ForUpdate locks selected rows for the enclosing transaction.
func (qb *QueryBuilder) ForUpdate() *QueryBuilder {
	qb.forUpdate = true
	return qb
}

// OnConflictIgnore turns conflicting inserts into no-ops.
func (qb *QueryBuilder) OnConflictIgnore() *QueryBuilder {
	qb.onConflictIgnore = true
	return qb
}

// OnConflictMerge upserts the named attribute columns on conflict.
func (qb *QueryBuilder) OnConflictMerge(fields ...string) *QueryBuilder {
	qb.onConflictMerge = append(qb.onConflictMerge, fields...)
	return qb
}

// Increment adds a relative numeric update applied alongside Update data.
func (qb *QueryBuilder) Increment(attribute string, by float64) *QueryBuilder {
	if qb.increments == nil {
		qb.increments = make(map[string]float64)
	}
	qb.increments[attribute] += by
	qb.op = OpUpdate
	return qb
}

// Decrement is the negative counterpart of Increment.
func (qb *QueryBuilder) Decrement(attribute string, by float64) *QueryBuilder {
	return qb.Increment(attribute, -by)
}

// PopulateMap returns the compiled populate map; valid after finalize.
func (qb *QueryBuilder) PopulateMap() map[string]*PopulateEntry {
	return qb.populate
}

// Clone deep-copies the builder's configuration state. Compiled state is
// not carried over; the clone finalizes independently.
func (qb *QueryBuilder) Clone() *QueryBuilder {
	clone := &QueryBuilder{
		registry:         qb.registry,
		ct:               qb.ct,
		dialect:          qb.dialect,
		runner:           qb.runner,
		logger:           qb.logger,
		op:               qb.op,
		alias:            qb.alias,
		aliasCounter:     qb.aliasCounter,
		orderBySpec:      qb.orderBySpec,
		first:            qb.first,
		forUpdate:        qb.forUpdate,
		populateSpec:     qb.populateSpec,
		searchQuery:      qb.searchQuery,
		maxColumn:        qb.maxColumn,
		onConflictIgnore: qb.onConflictIgnore,
	}
	clone.selects = append([]string(nil), qb.selects...)
	clone.whereList = append([]any(nil), qb.whereList...)
	clone.filterFns = append([]FilterFn(nil), qb.filterFns...)
	clone.groupBy = append([]string(nil), qb.groupBy...)
	clone.onConflictMerge = append([]string(nil), qb.onConflictMerge...)
	for _, j := range qb.joins {
		copied := *j
		copied.On = append([]JoinColumnPair(nil), j.On...)
		copied.OrderBy = append([]OrderEntry(nil), j.OrderBy...)
		if j.Static != nil {
			copied.Static = make(map[string]any, len(j.Static))
			for k, v := range j.Static {
				copied.Static[k] = v
			}
		}
		clone.joins = append(clone.joins, &copied)
	}
	if qb.limit != nil {
		n := *qb.limit
		clone.limit = &n
	}
	if qb.offset != nil {
		n := *qb.offset
		clone.offset = &n
	}
	for _, d := range qb.data {
		copied := make(Entity, len(d))
		for k, v := range d {
			copied[k] = v
		}
		clone.data = append(clone.data, copied)
	}
	if qb.increments != nil {
		clone.increments = make(map[string]float64, len(qb.increments))
		for k, v := range qb.increments {
			clone.increments[k] = v
		}
	}
	return clone
}
