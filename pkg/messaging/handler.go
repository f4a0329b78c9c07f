package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/scraper"
	"go.uber.org/zap"
)

// FieldLister supplies definitions when a request does not carry any.
// *registry.Registry satisfies it.
type FieldLister interface {
	ByScope(scope model.ScrapeScope) []model.FieldDefinition
}

// Handler turns encoded scrape requests into encoded scrape results.
type Handler struct {
	collection *scraper.CollectionScraper
	source     scraper.Source
	fields     FieldLister
	logger     *zap.Logger
}

// NewHandler creates a handler. fields may be nil, in which case requests without
// definitions produce records with no properties.
func NewHandler(collection *scraper.CollectionScraper, source scraper.Source, fields FieldLister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{collection: collection, source: source, fields: fields, logger: logger}
}

// Handle decodes one request and returns the encoded result. Malformed requests
// and page load failures are reported in the result's error.
func (h *Handler) Handle(ctx context.Context, data []byte) []byte {
	res := h.handle(ctx, data)
	out, err := json.Marshal(res)
	if err != nil {
		h.logger.Error("Failed to encode scrape result", zap.Error(err))
		out, _ = json.Marshal(ScrapeResult{Type: TypeScrapeResult, Error: "encode result"})
	}
	return out
}

func (h *Handler) handle(ctx context.Context, data []byte) ScrapeResult {
	var req ScrapeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failed(fmt.Errorf("decode request: %w", err))
	}
	if req.Type != TypeScrapeRequest {
		return failed(fmt.Errorf("unexpected message type %q", req.Type))
	}

	fields := req.Fields
	if len(fields) == 0 && h.fields != nil {
		fields = h.fields.ByScope(model.ScopeCollection)
	}

	page, err := h.page(ctx, req)
	if err != nil {
		h.logger.Warn("Failed to load page for scrape request", zap.String("url", req.URL), zap.Error(err))
		return failed(err)
	}

	records := h.collection.ScrapeCollection(fields, page)
	h.logger.Debug("Scrape request handled", zap.String("url", req.URL), zap.Int("records", len(records)))
	return ScrapeResult{Type: TypeScrapeResult, Payload: records}
}

func (h *Handler) page(ctx context.Context, req ScrapeRequest) (*scraper.Page, error) {
	switch {
	case req.HTML != "":
		return scraper.ParsePage(req.URL, []byte(req.HTML))
	case req.URL != "":
		if h.source == nil {
			return nil, fmt.Errorf("no page source configured")
		}
		return h.source.Load(ctx, req.URL)
	default:
		return nil, fmt.Errorf("request has neither html nor url")
	}
}

func failed(err error) ScrapeResult {
	return ScrapeResult{Type: TypeScrapeResult, Error: err.Error()}
}
