package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-nakala/core/errs"
	"github.com/asaidimu/go-nakala/core/query"
	"github.com/asaidimu/go-nakala/core/schema"
)

func versionedType() *schema.ContentType {
	return &schema.ContentType{
		UID:             "api::page.page",
		TableName:       "pages",
		DraftAndPublish: true,
		Localized:       true,
		Attributes: map[string]*schema.Attribute{
			"title": {Type: schema.TypeString},
		},
	}
}

func plainType() *schema.ContentType {
	return &schema.ContentType{
		UID:       "api::note.note",
		TableName: "notes",
		Attributes: map[string]*schema.Attribute{
			"text": {Type: schema.TypeString},
		},
	}
}

func TestDefaultStatus(t *testing.T) {
	t.Run("versioned types default to draft", func(t *testing.T) {
		p := &Params{}
		require.NoError(t, defaultStatus(versionedType(), p))
		assert.Equal(t, StatusDraft, p.Status)
	})

	t.Run("non-versioned types force published", func(t *testing.T) {
		p := &Params{Status: StatusDraft}
		require.NoError(t, defaultStatus(plainType(), p))
		assert.Equal(t, StatusPublished, p.Status)
	})

	t.Run("invalid status is rejected", func(t *testing.T) {
		p := &Params{Status: "archived"}
		err := defaultStatus(versionedType(), p)
		var verr *errs.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestStatusToLookup(t *testing.T) {
	t.Run("draft filters on null publishedAt", func(t *testing.T) {
		p := &Params{Status: StatusDraft}
		require.NoError(t, statusToLookup(versionedType(), p))
		list, ok := p.Where.([]any)
		require.True(t, ok)
		require.Len(t, list, 1)
		assert.Equal(t, map[string]any{"publishedAt": map[string]any{"$null": true}}, list[0])
	})

	t.Run("published filters on non-null publishedAt", func(t *testing.T) {
		p := &Params{Status: StatusPublished}
		require.NoError(t, statusToLookup(versionedType(), p))
		list := p.Where.([]any)
		assert.Equal(t, map[string]any{"publishedAt": map[string]any{"$notNull": true}}, list[0])
	})

	t.Run("non-versioned types filter nothing", func(t *testing.T) {
		p := &Params{Status: StatusPublished}
		require.NoError(t, statusToLookup(plainType(), p))
		assert.Nil(t, p.Where)
	})

	t.Run("lookup ANDs with an existing filter", func(t *testing.T) {
		p := &Params{Status: StatusDraft, Where: map[string]any{"title": "x"}}
		require.NoError(t, statusToLookup(versionedType(), p))
		list := p.Where.([]any)
		require.Len(t, list, 2)
		assert.Equal(t, map[string]any{"title": "x"}, list[0])
	})
}

func TestWritePipeline(t *testing.T) {
	t.Run("draft write stamps null publishedAt and locale", func(t *testing.T) {
		p := &Params{Data: query.Entity{"title": "x"}}
		require.NoError(t, runPipeline(versionedType(), p, writePipeline("en")))
		assert.Contains(t, p.Data, "publishedAt")
		assert.Nil(t, p.Data["publishedAt"])
		assert.Equal(t, "en", p.Data["locale"])
		assert.Equal(t, StatusDraft, p.Status)
	})

	t.Run("published write stamps the current time", func(t *testing.T) {
		p := &Params{Status: StatusPublished, Data: query.Entity{"title": "x"}}
		require.NoError(t, runPipeline(versionedType(), p, writePipeline("en")))
		when, ok := p.Data["publishedAt"].(time.Time)
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().UTC(), when, time.Minute)
	})

	t.Run("explicit publish time wins", func(t *testing.T) {
		when := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		p := &Params{Status: StatusPublished, PublishedAt: &when, Data: query.Entity{"title": "x"}}
		require.NoError(t, runPipeline(versionedType(), p, writePipeline("en")))
		assert.Equal(t, when, p.Data["publishedAt"])
	})

	t.Run("client-supplied publishedAt is stripped before stamping", func(t *testing.T) {
		p := &Params{Data: query.Entity{"title": "x", "publishedAt": "2020-01-01T00:00:00Z"}}
		require.NoError(t, runPipeline(versionedType(), p, writePipeline("en")))
		assert.Nil(t, p.Data["publishedAt"])
	})

	t.Run("explicit locale is kept", func(t *testing.T) {
		p := &Params{Locale: "fr", Data: query.Entity{"title": "x"}}
		require.NoError(t, runPipeline(versionedType(), p, writePipeline("en")))
		assert.Equal(t, "fr", p.Data["locale"])
	})

	t.Run("wildcard locale cannot write", func(t *testing.T) {
		p := &Params{Locale: LocaleAll, Data: query.Entity{"title": "x"}}
		err := runPipeline(versionedType(), p, writePipeline("en"))
		var verr *errs.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("non-localized types carry no locale", func(t *testing.T) {
		p := &Params{Locale: "fr", Data: query.Entity{"text": "x"}}
		require.NoError(t, runPipeline(plainType(), p, writePipeline("en")))
		assert.Empty(t, p.Locale)
		assert.NotContains(t, p.Data, "locale")
	})
}

func TestReadPipeline(t *testing.T) {
	t.Run("defaults stack status and locale lookups", func(t *testing.T) {
		p := &Params{}
		require.NoError(t, runPipeline(versionedType(), p, readPipeline("en")))
		list, ok := p.Where.([]any)
		require.True(t, ok)
		require.Len(t, list, 2)
		assert.Equal(t, map[string]any{"publishedAt": map[string]any{"$null": true}}, list[0])
		assert.Equal(t, map[string]any{"locale": "en"}, list[1])
	})

	t.Run("wildcard locale matches every locale", func(t *testing.T) {
		p := &Params{Locale: LocaleAll}
		require.NoError(t, runPipeline(versionedType(), p, readPipeline("en")))
		list := p.Where.([]any)
		assert.Len(t, list, 1)
	})
}

func TestParamsClone(t *testing.T) {
	limit := 5
	p := &Params{
		Data:   query.Entity{"title": "x"},
		Select: []string{"title"},
		Limit:  &limit,
	}
	copied := p.clone()
	copied.Data["title"] = "changed"
	copied.Select[0] = "views"

	assert.Equal(t, "x", p.Data["title"])
	assert.Equal(t, []string{"title"}, p.Select)

	var nilParams *Params
	assert.NotNil(t, nilParams.clone())
}
