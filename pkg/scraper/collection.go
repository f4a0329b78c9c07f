package scraper

import (
	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/selector"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// DefaultItemSelector matches the product tiles of WooCommerce-style listings.
const DefaultItemSelector = ".type-product"

// CollectionScraper extracts one record per repeated item scope of a listing page.
type CollectionScraper struct {
	engine       *selector.Engine
	itemSelector string
	logger       *zap.Logger
	recorder     Recorder
}

// NewCollectionScraper creates a listing scraper. An empty itemSelector uses
// DefaultItemSelector.
func NewCollectionScraper(engine *selector.Engine, itemSelector string, logger *zap.Logger, recorder Recorder) *CollectionScraper {
	if itemSelector == "" {
		itemSelector = DefaultItemSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &CollectionScraper{engine: engine, itemSelector: itemSelector, logger: logger, recorder: recorder}
}

// ScrapeCollection applies the collection-scoped definitions among fields to every
// item scope on page, in document order.
//
// A nil result means the page has no item scopes, which is different from a page
// whose items yielded empty records. Any failure while walking the page is
// reported the same way as a page without items.
func (s *CollectionScraper) ScrapeCollection(fields []model.FieldDefinition, page *Page) (records []model.Record) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Collection scrape aborted", zap.Any("panic", r))
			records = nil
		}
	}()

	if page == nil || page.Doc == nil {
		return nil
	}

	items := page.Doc.Find(s.itemSelector)
	if items.Length() == 0 {
		s.logger.Debug("No item scopes on page", zap.String("item_selector", s.itemSelector))
		return nil
	}

	scoped := model.FilterByScope(fields, model.ScopeCollection)
	records = make([]model.Record, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		records = append(records, s.scrapeItem(scoped, item, page))
	})

	s.recorder.AddItemsScraped(string(model.ScopeCollection), len(records))
	return records
}

func (s *CollectionScraper) scrapeItem(fields []model.FieldDefinition, item *goquery.Selection, page *Page) model.Record {
	rec := model.Record{Properties: make(model.Properties, len(fields))}

	for _, f := range fields {
		m := s.engine.Resolve(f.Selector, f.ContentKind, item)
		if !m.Found {
			continue
		}
		value := m.Value
		if !m.FromText && (f.ContentKind == model.ContentLink || f.ContentKind == model.ContentImage) {
			value = page.Resolve(value)
		}
		rec.Properties[f.Name] = value
	}

	rec.DetailLink = model.DetailLink(fields, rec.Properties)
	return rec
}
