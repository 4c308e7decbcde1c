package document

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/asaidimu/go-nakala/core/errs"
	"github.com/asaidimu/go-nakala/core/query"
	"github.com/asaidimu/go-nakala/core/schema"
)

// Engine is the document layer shared across content types: it owns the
// storage handle, the dialect, the validator, the middleware chain and the
// lifecycle event bus. Per-type services are cheap views over it.
type Engine struct {
	registry      *schema.Registry
	dialect       query.Dialect
	db            *sql.DB
	logger        *zap.Logger
	bus           *events.TypedEventBus[Event]
	validator     EntityValidator
	middlewares   []middlewareEntry
	defaultLocale string
	components    *componentManager
}

// Options configures a new Engine. Registry, Dialect and DB are required;
// the rest default sensibly.
type Options struct {
	Registry      *schema.Registry
	Dialect       query.Dialect
	DB            *sql.DB
	Logger        *zap.Logger
	Validator     EntityValidator
	DefaultLocale string
}

// NewEngine wires a document engine over an open database handle.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("document engine requires a model registry")
	}
	if opts.Dialect == nil {
		return nil, fmt.Errorf("document engine requires a dialect")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("document engine requires a database handle")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validator := opts.Validator
	if validator == nil {
		validator = &SchemaValidator{}
	}
	defaultLocale := opts.DefaultLocale
	if defaultLocale == "" {
		defaultLocale = "en"
	}
	bus, err := newEventBus()
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	return &Engine{
		registry:      opts.Registry,
		dialect:       opts.Dialect,
		db:            opts.DB,
		logger:        logger,
		bus:           bus,
		validator:     validator,
		defaultLocale: defaultLocale,
		components: &componentManager{
			registry: opts.Registry,
			dialect:  opts.Dialect,
			logger:   logger,
		},
	}, nil
}

// Use registers a middleware for the given content-type uid and action;
// "*" matches all. Registration order is execution order.
func (e *Engine) Use(uid string, action Action, fn Middleware) {
	e.middlewares = append(e.middlewares, middlewareEntry{uid: uid, action: action, fn: fn})
}

// Documents returns the lifecycle service for one content type.
func (e *Engine) Documents(uid string) (*Service, error) {
	ct, err := e.registry.GetModel(uid)
	if err != nil {
		return nil, err
	}
	return &Service{engine: e, ct: ct}, nil
}

// Service exposes the document lifecycle operations of one content type.
// Every operation runs inside a storage transaction; nested calls join the
// ambient transaction instead of opening their own.
type Service struct {
	engine *Engine
	ct     *schema.ContentType
}

// ContentType returns the model this service operates on.
func (s *Service) ContentType() *schema.ContentType {
	return s.ct
}

type coreFn func(ctx context.Context, tx *Tx, p *Params) (any, error)

// run threads one operation through the middleware chain and the ambient
// transaction.
func (s *Service) run(ctx context.Context, action Action, documentID string, params *Params, core coreFn) (any, error) {
	mctx := &MiddlewareContext{
		UID:        s.ct.UID,
		Action:     action,
		DocumentID: documentID,
		Params:     params.clone(),
	}
	return runChain(ctx, s.engine.middlewares, mctx, func(ctx context.Context) (any, error) {
		var result any
		err := runInTransaction(ctx, s.engine.db, func(ctx context.Context, tx *Tx) error {
			r, err := core(ctx, tx, mctx.Params)
			result = r
			return err
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}

func (s *Service) builder(tx *Tx) *query.QueryBuilder {
	return query.NewBuilder(s.engine.registry, s.ct, s.engine.dialect, tx.Handle(), s.engine.logger)
}

// applyRead copies the read-shaped parameters onto a builder. Lookup
// conditions accumulated by the pipeline AND with the caller's filters.
func applyRead(qb *query.QueryBuilder, p *Params) {
	if len(p.Select) > 0 {
		qb.Select(p.Select...)
	}
	switch w := p.Where.(type) {
	case nil:
	case []any:
		for _, item := range w {
			qb.Where(item)
		}
	default:
		qb.Where(w)
	}
	if p.Filters != nil {
		qb.Where(p.Filters)
	}
	if p.OrderBy != nil {
		qb.OrderBy(p.OrderBy)
	}
	if len(p.GroupBy) > 0 {
		qb.GroupBy(p.GroupBy...)
	}
	if p.Limit != nil {
		qb.Limit(*p.Limit)
	}
	if p.Offset != nil {
		qb.Offset(*p.Offset)
	}
	if p.Populate != nil {
		qb.Populate(p.Populate)
	}
}

func docFilter(documentID string) map[string]any {
	return map[string]any{query.AttrDocumentID: documentID}
}

func statusFilter(published bool) map[string]any {
	if published {
		return map[string]any{query.AttrPublishedAt: map[string]any{"$notNull": true}}
	}
	return map[string]any{query.AttrPublishedAt: map[string]any{"$null": true}}
}

// FindMany returns every entity matching the parameters, populated per the
// populate directive.
func (s *Service) FindMany(ctx context.Context, params *Params) ([]query.Entity, error) {
	result, err := s.run(ctx, ActionFindMany, "", params, func(ctx context.Context, tx *Tx, p *Params) (any, error) {
		if err := runPipeline(s.ct, p, readPipeline(s.engine.defaultLocale)); err != nil {
			return nil, err
		}
		qb := s.builder(tx)
		applyRead(qb, p)
		entities, err := qb.Execute(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.engine.hydrate(ctx, tx.Handle(), s.ct, entities, qb.PopulateMap()); err != nil {
			return nil, err
		}
		return entities, nil
	})
	if err != nil {
		return nil, err
	}
	return asEntities(result), nil
}

// FindFirst returns the first matching entity, or nil.
func (s *Service) FindFirst(ctx context.Context, params *Params) (query.Entity, error) {
	result, err := s.run(ctx, ActionFindFirst, "", params, func(ctx context.Context, tx *Tx, p *Params) (any, error) {
		if err := runPipeline(s.ct, p, readPipeline(s.engine.defaultLocale)); err != nil {
			return nil, err
		}
		qb := s.builder(tx)
		applyRead(qb, p)
		qb.First()
		entities, err := qb.Execute(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.engine.hydrate(ctx, tx.Handle(), s.ct, entities, qb.PopulateMap()); err != nil {
			return nil, err
		}
		return firstOrNil(entities), nil
	})
	if err != nil {
		return nil, err
	}
	return asEntity(result), nil
}

// FindOne returns the entity for one documentId, or nil when the document
// has no row in the requested status and locale.
func (s *Service) FindOne(ctx context.Context, documentID string, params *Params) (query.Entity, error) {
	result, err := s.run(ctx, ActionFindOne, documentID, params, func(ctx context.Context, tx *Tx, p *Params) (any, error) {
		if err := runPipeline(s.ct, p, readPipeline(s.engine.defaultLocale)); err != nil {
			return nil, err
		}
		qb := s.builder(tx)
		qb.Where(docFilter(documentID))
		applyRead(qb, p)
		qb.First()
		entities, err := qb.Execute(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.engine.hydrate(ctx, tx.Handle(), s.ct, entities, qb.PopulateMap()); err != nil {
			return nil, err
		}
		return firstOrNil(entities), nil
	})
	if err != nil {
		return nil, err
	}
	return asEntity(result), nil
}

// Count returns the number of distinct matching entities.
func (s *Service) Count(ctx context.Context, params *Params) (int64, error) {
	result, err := s.run(ctx, ActionCount, "", params, func(ctx context.Context, tx *Tx, p *Params) (any, error) {
		if err := runPipeline(s.ct, p, readPipeline(s.engine.defaultLocale)); err != nil {
			return nil, err
		}
		qb := s.builder(tx).Count()
		applyRead(qb, p)
		return qb.ExecuteCount(ctx)
	})
	if err != nil {
		return 0, err
	}
	n, _ := result.(int64)
	return n, nil
}

// Create stores a new entity, minting a documentId unless the payload
// carries one, and creates its component sub-rows.
func (s *Service) Create(ctx context.Context, params *Params) (query.Entity, error) {
	result, err := s.run(ctx, ActionCreate, "", params, func(ctx context.Context, tx *Tx, p *Params) (any, error) {
		if err := runPipeline(s.ct, p, writePipeline(s.engine.defaultLocale)); err != nil {
			return nil, err
		}
		if p.Data == nil {
			return nil, errs.NewValidation("create requires data")
		}
		entity, err := s.createRow(ctx, tx, p.Data)
		if err != nil {
			return nil, err
		}
		s.emit(tx, EventEntryCreate, entity)
		return entity, nil
	})
	if err != nil {
		return nil, err
	}
	return asEntity(result), nil
}

// Update rewrites the entity matching the documentId in the requested
// status and locale. When no such row exists but the document does under
// another status or locale, a new row is created carrying the documentId;
// when the document does not exist at all, nil is returned.
func (s *Service) Update(ctx context.Context, documentID string, params *Params) (query.Entity, error) {
	result, err := s.run(ctx, ActionUpdate, documentID, params, func(ctx context.Context, tx *Tx, p *Params) (any, error) {
		if err := runPipeline(s.ct, p, writePipeline(s.engine.defaultLocale)); err != nil {
			return nil, err
		}
		if p.Data == nil {
			return nil, errs.NewValidation("update requires data")
		}

		qb := s.builder(tx)
		qb.Where(docFilter(documentID))
		switch w := p.Where.(type) {
		case []any:
			for _, item := range w {
				qb.Where(item)
			}
		case nil:
		default:
			qb.Where(w)
		}
		existing, err := qb.First().Execute(ctx)
		if err != nil {
			return nil, err
		}

		if len(existing) == 0 {
			anyRow, err := s.builder(tx).Where(docFilter(documentID)).First().Execute(ctx)
			if err != nil {
				return nil, err
			}
			if len(anyRow) == 0 {
				return nil, nil
			}
			// First edit in this status/locale: materialize the row
			// instead of failing.
			p.Data[query.AttrDocumentID] = documentID
			entity, err := s.createRow(ctx, tx, p.Data)
			if err != nil {
				return nil, err
			}
			s.emit(tx, EventEntryUpdate, entity)
			return entity, nil
		}

		target := existing[0]
		id, err := entityID(target)
		if err != nil {
			return nil, err
		}
		validated, err := s.engine.validator.ValidateUpdate(ctx, s.ct, p.Data, target)
		if err != nil {
			return nil, err
		}

		payload := make(query.Entity, len(validated))
		for k, v := range validated {
			payload[k] = v
		}
		// Identity never moves on update.
		delete(payload, query.AttrID)
		delete(payload, query.AttrDocumentID)

		if _, err := s.builder(tx).Update(payload).Where(map[string]any{query.AttrID: id}).ExecuteWrite(ctx); err != nil {
			return nil, err
		}
		if err := s.engine.components.updateComponents(ctx, tx.Handle(), s.ct, id, validated); err != nil {
			return nil, err
		}

		updated, err := s.builder(tx).Where(map[string]any{query.AttrID: id}).First().Execute(ctx)
		if err != nil {
			return nil, err
		}
		entity := firstOrNil(updated)
		s.emit(tx, EventEntryUpdate, entity)
		return entity, nil
	})
	if err != nil {
		return nil, err
	}
	return asEntity(result), nil
}

// Delete removes every row of the document in the requested locale, drafts
// and published alike, tearing down component sub-rows first. Returns the
// first removed entity, or nil when nothing matched.
func (s *Service) Delete(ctx context.Context, documentID string, params *Params) (query.Entity, error) {
	result, err := s.run(ctx, ActionDelete, documentID, params, func(ctx context.Context, tx *Tx, p *Params) (any, error) {
		stages := []transform{defaultLocaleStage(s.engine.defaultLocale), localeToLookup}
		if err := runPipeline(s.ct, p, stages); err != nil {
			return nil, err
		}
		rows, err := s.fetch(ctx, tx, p, docFilter(documentID))
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		if err := s.removeRows(ctx, tx, rows); err != nil {
			return nil, err
		}
		s.emit(tx, EventEntryDelete, rows[0])
		return rows[0], nil
	})
	if err != nil {
		return nil, err
	}
	return asEntity(result), nil
}

// DeleteMany removes every entity matching the parameters and reports how
// many documents' rows were removed.
func (s *Service) DeleteMany(ctx context.Context, params *Params) (int64, error) {
	result, err := s.run(ctx, ActionDeleteMany, "", params, func(ctx context.Context, tx *Tx, p *Params) (any, error) {
		if err := runPipeline(s.ct, p, readPipeline(s.engine.defaultLocale)); err != nil {
			return nil, err
		}
		rows, err := s.fetch(ctx, tx, p)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return int64(0), nil
		}
		if err := s.removeRows(ctx, tx, rows); err != nil {
			return nil, err
		}
		for _, row := range rows {
			s.emit(tx, EventEntryDelete, row)
		}
		return int64(len(rows)), nil
	})
	if err != nil {
		return 0, err
	}
	n, _ := result.(int64)
	return n, nil
}

// Clone copies the document's rows in the requested status and locale into
// a brand-new document, deep-copying component sub-rows. Returns the first
// new entity, or nil when the source document has no matching row.
func (s *Service) Clone(ctx context.Context, documentID string, params *Params) (query.Entity, error) {
	result, err := s.run(ctx, ActionClone, documentID, params, func(ctx context.Context, tx *Tx, p *Params) (any, error) {
		if err := runPipeline(s.ct, p, readPipeline(s.engine.defaultLocale)); err != nil {
			return nil, err
		}
		sources, err := s.fetch(ctx, tx, p, docFilter(documentID))
		if err != nil {
			return nil, err
		}
		if len(sources) == 0 {
			return nil, nil
		}

		newDocumentID := uuid.NewString()
		var created []query.Entity
		for _, source := range sources {
			sourceID, err := entityID(source)
			if err != nil {
				return nil, err
			}
			data := copyForClone(source)
			for k, v := range p.Data {
				data[k] = v
			}
			data[query.AttrDocumentID] = newDocumentID
			// Clones always start as drafts.
			if s.ct.DraftAndPublish {
				data[query.AttrPublishedAt] = nil
			}
			entity, newID, err := s.insertValidated(ctx, tx, data)
			if err != nil {
				return nil, err
			}
			if err := s.engine.components.cloneComponents(ctx, tx.Handle(), s.ct, sourceID, newID); err != nil {
				return nil, err
			}
			created = append(created, entity)
		}
		s.emit(tx, EventEntryCreate, created[0])
		return created[0], nil
	})
	if err != nil {
		return nil, err
	}
	return asEntity(result), nil
}

// Publish replaces the published rows of the document with fresh clones of
// its drafts, stamped with the publish time. Idempotent per document and
// locale set. Returns the new published entities.
func (s *Service) Publish(ctx context.Context, documentID string, params *Params) ([]query.Entity, error) {
	result, err := s.run(ctx, ActionPublish, documentID, params, func(ctx context.Context, tx *Tx, p *Params) (any, error) {
		if !s.ct.DraftAndPublish {
			return nil, errs.NewValidation("content type %s does not use draft and publish", s.ct.UID)
		}
		stages := []transform{defaultLocaleStage(s.engine.defaultLocale), localeToLookup}
		if err := runPipeline(s.ct, p, stages); err != nil {
			return nil, err
		}

		drafts, err := s.fetch(ctx, tx, p, docFilter(documentID), statusFilter(false))
		if err != nil {
			return nil, err
		}
		if len(drafts) == 0 {
			return []query.Entity(nil), nil
		}

		published, err := s.fetch(ctx, tx, p, docFilter(documentID), statusFilter(true))
		if err != nil {
			return nil, err
		}
		if err := s.removeRows(ctx, tx, published); err != nil {
			return nil, err
		}

		when := time.Now().UTC()
		if p.PublishedAt != nil {
			when = *p.PublishedAt
		}

		var results []query.Entity
		for _, draft := range drafts {
			draftID, err := entityID(draft)
			if err != nil {
				return nil, err
			}
			data := copyForClone(draft)
			data[query.AttrDocumentID] = documentID
			data[query.AttrPublishedAt] = when
			entity, newID, err := s.insertValidated(ctx, tx, data)
			if err != nil {
				return nil, err
			}
			if err := s.engine.components.cloneComponents(ctx, tx.Handle(), s.ct, draftID, newID); err != nil {
				return nil, err
			}
			results = append(results, entity)
		}
		s.emit(tx, EventEntryPublish, results[0])
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return asEntities(result), nil
}

// Unpublish removes the document's published rows in the requested
// locale(s) and returns the surviving drafts.
func (s *Service) Unpublish(ctx context.Context, documentID string, params *Params) ([]query.Entity, error) {
	result, err := s.run(ctx, ActionUnpublish, documentID, params, func(ctx context.Context, tx *Tx, p *Params) (any, error) {
		if !s.ct.DraftAndPublish {
			return nil, errs.NewValidation("content type %s does not use draft and publish", s.ct.UID)
		}
		stages := []transform{defaultLocaleStage(s.engine.defaultLocale), localeToLookup}
		if err := runPipeline(s.ct, p, stages); err != nil {
			return nil, err
		}

		published, err := s.fetch(ctx, tx, p, docFilter(documentID), statusFilter(true))
		if err != nil {
			return nil, err
		}
		if err := s.removeRows(ctx, tx, published); err != nil {
			return nil, err
		}

		drafts, err := s.fetch(ctx, tx, p, docFilter(documentID), statusFilter(false))
		if err != nil {
			return nil, err
		}
		if len(published) > 0 {
			s.emit(tx, EventEntryUnpublish, firstOrNil(published))
		}
		return drafts, nil
	})
	if err != nil {
		return nil, err
	}
	return asEntities(result), nil
}

// DiscardDraft throws the document's drafts away and clones its published
// rows back into drafts, the exact inverse of Publish. A document with no
// published rows keeps its drafts untouched. Returns the resulting draft
// entities.
func (s *Service) DiscardDraft(ctx context.Context, documentID string, params *Params) ([]query.Entity, error) {
	result, err := s.run(ctx, ActionDiscardDraft, documentID, params, func(ctx context.Context, tx *Tx, p *Params) (any, error) {
		if !s.ct.DraftAndPublish {
			return nil, errs.NewValidation("content type %s does not use draft and publish", s.ct.UID)
		}
		stages := []transform{defaultLocaleStage(s.engine.defaultLocale), localeToLookup}
		if err := runPipeline(s.ct, p, stages); err != nil {
			return nil, err
		}

		published, err := s.fetch(ctx, tx, p, docFilter(documentID), statusFilter(true))
		if err != nil {
			return nil, err
		}
		drafts, err := s.fetch(ctx, tx, p, docFilter(documentID), statusFilter(false))
		if err != nil {
			return nil, err
		}
		// Without a published version there is nothing to restore from;
		// the current drafts are the only copy of the document and stay.
		if len(published) == 0 {
			return drafts, nil
		}
		if err := s.removeRows(ctx, tx, drafts); err != nil {
			return nil, err
		}

		var results []query.Entity
		for _, source := range published {
			sourceID, err := entityID(source)
			if err != nil {
				return nil, err
			}
			data := copyForClone(source)
			data[query.AttrDocumentID] = documentID
			data[query.AttrPublishedAt] = nil
			entity, newID, err := s.insertValidated(ctx, tx, data)
			if err != nil {
				return nil, err
			}
			if err := s.engine.components.cloneComponents(ctx, tx.Handle(), s.ct, sourceID, newID); err != nil {
				return nil, err
			}
			results = append(results, entity)
		}
		if len(results) > 0 {
			s.emit(tx, EventEntryDraftDiscard, results[0])
		}
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return asEntities(result), nil
}

// fetch runs a select applying the pipeline lookup plus extra filters.
func (s *Service) fetch(ctx context.Context, tx *Tx, p *Params, extra ...map[string]any) ([]query.Entity, error) {
	qb := s.builder(tx)
	for _, filter := range extra {
		qb.Where(filter)
	}
	switch w := p.Where.(type) {
	case []any:
		for _, item := range w {
			qb.Where(item)
		}
	case nil:
	default:
		qb.Where(w)
	}
	if p.Filters != nil {
		qb.Where(p.Filters)
	}
	return qb.Execute(ctx)
}

// removeRows tears down component sub-rows then deletes the rows
// themselves in one statement.
func (s *Service) removeRows(ctx context.Context, tx *Tx, rows []query.Entity) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]any, 0, len(rows))
	for _, row := range rows {
		id, err := entityID(row)
		if err != nil {
			return err
		}
		if err := s.engine.components.deleteComponents(ctx, tx.Handle(), s.ct, id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	_, err := s.builder(tx).Delete().
		Where(map[string]any{query.AttrID: map[string]any{"$in": ids}}).
		ExecuteWrite(ctx)
	return err
}

// createRow validates, inserts and attaches the component sub-rows of one
// write payload, minting a documentId when the payload has none.
func (s *Service) createRow(ctx context.Context, tx *Tx, data query.Entity) (query.Entity, error) {
	if v, ok := data[query.AttrDocumentID]; !ok || v == nil || v == "" {
		data[query.AttrDocumentID] = uuid.NewString()
	}
	entity, id, err := s.insertValidated(ctx, tx, data)
	if err != nil {
		return nil, err
	}
	if err := s.engine.components.createComponents(ctx, tx.Handle(), s.ct, id, data); err != nil {
		return nil, err
	}
	for _, field := range s.ct.ComponentAttributes() {
		if value, ok := data[field]; ok {
			entity[field] = value
		}
	}
	return entity, nil
}

// insertValidated validates a payload as a creation and inserts the base
// row. Component sub-rows are the caller's concern.
func (s *Service) insertValidated(ctx context.Context, tx *Tx, data query.Entity) (query.Entity, int64, error) {
	validated, err := s.engine.validator.ValidateCreate(ctx, s.ct, data)
	if err != nil {
		return nil, 0, err
	}
	inserted, err := s.builder(tx).Insert(validated).ExecuteInsert(ctx)
	if err != nil {
		return nil, 0, err
	}
	if len(inserted) == 0 {
		return nil, 0, fmt.Errorf("insert into %s returned no row", s.ct.TableName)
	}
	id, err := entityID(inserted[0])
	if err != nil {
		return nil, 0, err
	}
	return inserted[0], id, nil
}

func (s *Service) emit(tx *Tx, eventType EventType, entry query.Entity) {
	if entry == nil {
		return
	}
	documentID, _ := entry[query.AttrDocumentID].(string)
	locale, _ := entry[query.AttrLocale].(string)
	emitAfterCommit(tx, s.engine.bus, Event{
		Type:       eventType,
		UID:        s.ct.UID,
		DocumentID: documentID,
		Locale:     locale,
		Entry:      entry,
	})
}

// copyForClone copies a fetched entity into a write payload, dropping the
// row identity.
func copyForClone(source query.Entity) query.Entity {
	data := make(query.Entity, len(source))
	for k, v := range source {
		data[k] = v
	}
	delete(data, query.AttrID)
	delete(data, query.AttrDocumentID)
	return data
}

func firstOrNil(entities []query.Entity) query.Entity {
	if len(entities) == 0 {
		return nil
	}
	return entities[0]
}

func asEntity(result any) query.Entity {
	entity, _ := result.(query.Entity)
	return entity
}

func asEntities(result any) []query.Entity {
	entities, _ := result.([]query.Entity)
	return entities
}
