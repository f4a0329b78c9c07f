package scraper

import (
	"context"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/selector"
	"go.uber.org/zap"
)

// FieldLister yields the current definitions for a scope. *registry.Registry
// satisfies it.
type FieldLister interface {
	ByScope(scope model.ScrapeScope) []model.FieldDefinition
}

// DetailScraper re-applies detail-scoped definitions to a record's linked page.
type DetailScraper struct {
	fields   FieldLister
	source   Source
	engine   *selector.Engine
	logger   *zap.Logger
	recorder Recorder
}

// NewDetailScraper creates a detail scraper loading pages through source.
func NewDetailScraper(fields FieldLister, source Source, engine *selector.Engine, logger *zap.Logger, recorder Recorder) *DetailScraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &DetailScraper{fields: fields, source: source, engine: engine, logger: logger, recorder: recorder}
}

// ScrapeDetail loads rec.DetailLink and extracts every detail-scoped field from the
// whole page. The result holds only the fields that resolved. A record without a
// link, or whose page cannot be loaded, yields an empty bag.
func (s *DetailScraper) ScrapeDetail(ctx context.Context, rec model.Record) model.Properties {
	props := model.Properties{}
	if rec.DetailLink == "" {
		return props
	}

	fields := s.fields.ByScope(model.ScopeDetail)
	if len(fields) == 0 {
		return props
	}

	page, err := s.source.Load(ctx, rec.DetailLink)
	if err != nil {
		s.logger.Warn("Detail page unavailable",
			zap.String("record_id", rec.ID),
			zap.String("url", rec.DetailLink),
			zap.Error(err))
		return props
	}

	root := page.Doc.Selection
	for _, f := range fields {
		m := s.engine.Resolve(f.Selector, f.ContentKind, root)
		if !m.Found {
			continue
		}
		value := m.Value
		if !m.FromText && (f.ContentKind == model.ContentLink || f.ContentKind == model.ContentImage) {
			value = page.Resolve(value)
		}
		props[f.Name] = value
	}

	s.recorder.AddItemsScraped(string(model.ScopeDetail), 1)
	return props
}
