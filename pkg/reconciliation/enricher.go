package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DetailSource scrapes a record's detail page. *scraper.DetailScraper satisfies it.
type DetailSource interface {
	ScrapeDetail(ctx context.Context, rec model.Record) model.Properties
}

// Enricher runs the detail pass over persisted records and feeds the results
// back through reconciliation.
type Enricher struct {
	detail      DetailSource
	reconciler  *Reconciler
	concurrency int
	logger      *zap.Logger
}

// NewEnricher creates an enricher running at most concurrency detail scrapes at once.
func NewEnricher(detail DetailSource, reconciler *Reconciler, concurrency int, logger *zap.Logger) *Enricher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{detail: detail, reconciler: reconciler, concurrency: concurrency, logger: logger}
}

// EnrichBatch scrapes every record's detail page independently and upserts the
// resulting patches under the records' identities. Records without an identity
// or without any extracted detail value are skipped.
func (e *Enricher) EnrichBatch(ctx context.Context, records []model.Record) (*BatchResult, error) {
	patches := make([]model.Properties, len(records))

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i, rec := range records {
		if rec.ID == "" {
			e.logger.Warn("Skipping detail scrape of unpersisted record", zap.String("detail_link", rec.DetailLink))
			continue
		}
		if rec.DetailLink == "" {
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			patches[i] = e.detail.ScrapeDetail(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := make([]model.Record, 0, len(records))
	for i, props := range patches {
		if len(props) == 0 {
			continue
		}
		batch = append(batch, model.Record{ID: records[i].ID, Properties: props})
	}

	e.logger.Info("Detail pass finished",
		zap.Int("records", len(records)),
		zap.Int("patched", len(batch)))

	if len(batch) == 0 {
		return &BatchResult{Records: []model.Record{}}, nil
	}
	return e.reconciler.UpsertBatch(ctx, batch)
}

// FieldRefresher reloads the field definitions. *registry.Registry satisfies it.
type FieldRefresher interface {
	Refresh(ctx context.Context)
}

// ProductLister pages through stored records.
type ProductLister interface {
	ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Record, error)
}

// RescanResult summarises a full rescan.
type RescanResult struct {
	Scanned  int           `json:"scanned"`
	Patched  int           `json:"patched"`
	Failed   int           `json:"failedBatches"`
	Duration time.Duration `json:"duration"`
}

// Rescanner re-validates every stored record against its detail page.
type Rescanner struct {
	fields    FieldRefresher
	products  ProductLister
	enricher  *Enricher
	chunkSize int
	logger    *zap.Logger
}

// NewRescanner creates a rescanner that walks storage chunkSize records at a time.
func NewRescanner(fields FieldRefresher, products ProductLister, enricher *Enricher, chunkSize int, logger *zap.Logger) *Rescanner {
	if chunkSize < 1 {
		chunkSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rescanner{fields: fields, products: products, enricher: enricher, chunkSize: chunkSize, logger: logger}
}

// Rescan refreshes the field registry, then enriches every stored record chunk by
// chunk. A failed chunk does not stop the remaining ones.
func (r *Rescanner) Rescan(ctx context.Context) (*RescanResult, error) {
	start := time.Now()
	r.fields.Refresh(ctx)

	result := &RescanResult{}
	var errs []error
	for offset := 0; ; offset += r.chunkSize {
		chunk, err := r.products.ListProducts(ctx, model.ProductFilter{Limit: r.chunkSize, Offset: offset})
		if err != nil {
			errs = append(errs, err)
			break
		}
		if len(chunk) == 0 {
			break
		}
		result.Scanned += len(chunk)

		batch, err := r.enricher.EnrichBatch(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
				break
			}
			r.logger.Error("Rescan chunk failed", zap.Int("offset", offset), zap.Error(err))
			result.Failed++
			errs = append(errs, err)
		} else {
			result.Patched += len(batch.Records)
		}

		if len(chunk) < r.chunkSize {
			break
		}
	}

	result.Duration = time.Since(start)
	r.logger.Info("Rescan finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("patched", result.Patched),
		zap.Int("failed_batches", result.Failed),
		zap.Duration("duration", result.Duration))
	return result, errors.Join(errs...)
}
