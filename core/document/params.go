package document

import (
	"time"

	"github.com/asaidimu/go-nakala/core/errs"
	"github.com/asaidimu/go-nakala/core/query"
	"github.com/asaidimu/go-nakala/core/schema"
)

// Status names the two document row states.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// LocaleAll is the wildcard accepted where a single locale is not
// required, meaning "every locale of the document".
const LocaleAll = "*"

// Params is the request shape accepted by every document operation. Zero
// values mean "not provided"; the transform pipeline fills defaults in
// before the query builder sees them.
type Params struct {
	Data     query.Entity
	Where    any
	Filters  any
	Select   []string
	Populate any
	OrderBy  any
	GroupBy  []string
	Limit    *int
	Offset   *int

	Status string
	Locale string

	// PublishedAt overrides the publish timestamp; publish only.
	PublishedAt *time.Time
}

func (p *Params) clone() *Params {
	if p == nil {
		return &Params{}
	}
	copied := *p
	if p.Data != nil {
		copied.Data = make(query.Entity, len(p.Data))
		for k, v := range p.Data {
			copied.Data[k] = v
		}
	}
	copied.Select = append([]string(nil), p.Select...)
	copied.GroupBy = append([]string(nil), p.GroupBy...)
	return &copied
}

// lookup accumulates the filter conditions the pipeline derives from
// status and locale; they are ANDed with the caller's own filters.
func (p *Params) pushLookup(filter any) {
	if p.Where == nil {
		p.Where = []any{filter}
		return
	}
	if list, ok := p.Where.([]any); ok {
		p.Where = append(list, filter)
		return
	}
	p.Where = []any{p.Where, filter}
}

// transform is one stage of the parameter pipeline. Stages run in order;
// later stages see the output of earlier ones.
type transform func(ct *schema.ContentType, p *Params) error

func runPipeline(ct *schema.ContentType, p *Params, stages []transform) error {
	for _, stage := range stages {
		if err := stage(ct, p); err != nil {
			return err
		}
	}
	return nil
}

// defaultStatus fills the status in: draft when the type versions drafts,
// published otherwise. A request on a non-versioned type cannot ask for
// drafts.
func defaultStatus(ct *schema.ContentType, p *Params) error {
	if !ct.DraftAndPublish {
		p.Status = StatusPublished
		return nil
	}
	if p.Status == "" {
		p.Status = StatusDraft
		return nil
	}
	if p.Status != StatusDraft && p.Status != StatusPublished {
		return errs.NewValidation("invalid status %q, expected draft or published", p.Status)
	}
	return nil
}

// statusToLookup projects the status into the filter: published rows carry
// a publishedAt, drafts do not. Non-versioned types store every row as
// published so no filter applies.
func statusToLookup(ct *schema.ContentType, p *Params) error {
	if !ct.DraftAndPublish {
		return nil
	}
	if p.Status == StatusPublished {
		p.pushLookup(map[string]any{query.AttrPublishedAt: map[string]any{"$notNull": true}})
	} else {
		p.pushLookup(map[string]any{query.AttrPublishedAt: map[string]any{"$null": true}})
	}
	return nil
}

// stripPublishedAt removes the client-supplied publish timestamp from
// write payloads. The field is derived from the status transform alone, so
// stripping runs before statusToData.
func stripPublishedAt(ct *schema.ContentType, p *Params) error {
	if p.Data != nil {
		delete(p.Data, query.AttrPublishedAt)
	}
	return nil
}

// statusToData stamps the write payload: published rows get the current
// time, drafts get an explicit null.
func statusToData(ct *schema.ContentType, p *Params) error {
	if p.Data == nil {
		return nil
	}
	if !ct.DraftAndPublish {
		return nil
	}
	if p.Status == StatusPublished {
		when := time.Now().UTC()
		if p.PublishedAt != nil {
			when = *p.PublishedAt
		}
		p.Data[query.AttrPublishedAt] = when
	} else {
		p.Data[query.AttrPublishedAt] = nil
	}
	return nil
}

// defaultLocaleStage fills the locale in for localized types. The wildcard
// stays untouched; single-locale enforcement happens in the stages that
// need one.
func defaultLocaleStage(defaultLocale string) transform {
	return func(ct *schema.ContentType, p *Params) error {
		if !ct.Localized {
			p.Locale = ""
			return nil
		}
		if p.Locale == "" {
			p.Locale = defaultLocale
		}
		return nil
	}
}

// localeToLookup projects the locale into the filter; the wildcard matches
// every locale and adds nothing.
func localeToLookup(ct *schema.ContentType, p *Params) error {
	if !ct.Localized || p.Locale == LocaleAll {
		return nil
	}
	p.pushLookup(map[string]any{query.AttrLocale: p.Locale})
	return nil
}

// localeToData stamps the locale into write payloads. A wildcard cannot
// name the locale of a single row.
func localeToData(ct *schema.ContentType, p *Params) error {
	if p.Data == nil || !ct.Localized {
		return nil
	}
	if p.Locale == LocaleAll {
		return errs.NewValidation("locale %q is not a valid locale for a write", LocaleAll)
	}
	p.Data[query.AttrLocale] = p.Locale
	return nil
}

// readPipeline is the transform order for find/count/delete lookups.
func readPipeline(defaultLocale string) []transform {
	return []transform{
		defaultStatus,
		statusToLookup,
		defaultLocaleStage(defaultLocale),
		localeToLookup,
	}
}

// writePipeline is the transform order for create/update payloads.
func writePipeline(defaultLocale string) []transform {
	return []transform{
		defaultStatus,
		statusToLookup,
		stripPublishedAt,
		statusToData,
		defaultLocaleStage(defaultLocale),
		localeToLookup,
		localeToData,
	}
}
