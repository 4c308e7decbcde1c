package query

import "context"

// Stream is a lazy, finite, forward-only, non-restartable sequence of
// decoded entities. It pages through the result set in fixed-size batches
// while honoring the limit and offset configured on the builder.
type Stream struct {
	qb         *QueryBuilder
	ctx        context.Context
	batchSize  int
	mapResults bool

	remaining *int // nil means unbounded
	offset    int

	buf      []Entity
	idx      int
	done     bool
	err      error
}

// DefaultStreamBatchSize is the page size used when none is given.
const DefaultStreamBatchSize = 500

// Stream returns an iterator over the select's results. batchSize <= 0
// falls back to the default page size. The builder must not be reused
// while the stream is open.
func (qb *QueryBuilder) Stream(ctx context.Context, batchSize int) *Stream {
	if batchSize <= 0 {
		batchSize = DefaultStreamBatchSize
	}
	s := &Stream{qb: qb, ctx: ctx, batchSize: batchSize, mapResults: true}
	if qb.limit != nil {
		n := *qb.limit
		s.remaining = &n
	}
	if qb.offset != nil {
		s.offset = *qb.offset
	}
	return s
}

// Next advances the stream, fetching the next batch when the buffer is
// drained. It returns false at the end of the sequence or on error.
func (s *Stream) Next() bool {
	if s.err != nil {
		return false
	}
	s.idx++
	if s.idx < len(s.buf) {
		return true
	}
	if s.done {
		return false
	}
	return s.fetch()
}

// Entity returns the current element; valid after Next reports true.
func (s *Stream) Entity() Entity {
	if s.idx < 0 || s.idx >= len(s.buf) {
		return nil
	}
	return s.buf[s.idx]
}

// Err returns the first error the stream encountered.
func (s *Stream) Err() error {
	return s.err
}

func (s *Stream) fetch() bool {
	page := s.batchSize
	if s.remaining != nil {
		if *s.remaining <= 0 {
			s.done = true
			return false
		}
		if *s.remaining < page {
			page = *s.remaining
		}
	}

	s.qb.limit = &page
	offset := s.offset
	s.qb.offset = &offset

	entities, err := s.qb.Execute(s.ctx)
	if err != nil {
		s.err = err
		s.done = true
		return false
	}

	s.buf = entities
	s.idx = 0
	s.offset += len(entities)
	if s.remaining != nil {
		*s.remaining -= len(entities)
	}
	if len(entities) < page {
		s.done = true
	}
	return len(entities) > 0
}
