package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/jobs"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/reconciliation"
	"go.uber.org/zap"
)

// ProcessProductsResult is the result of a process-products job.
type ProcessProductsResult struct {
	Requested int                 `json:"requested"`
	Found     int                 `json:"found"`
	Patched   int                 `json:"patched"`
	Summary   model.UpsertSummary `json:"summary"`
}

// RecordLoader loads stored records by identity.
type RecordLoader interface {
	FindByIDs(ctx context.Context, ids []string) ([]model.Record, error)
}

// JobDefiner registers job handlers. *jobs.Queue satisfies it.
type JobDefiner interface {
	Define(kind string, h jobs.Handler)
}

// RegisterJobs defines the detail-pass and rescan job handlers on q.
func RegisterJobs(q JobDefiner, records RecordLoader, enricher *reconciliation.Enricher, rescanner *reconciliation.Rescanner, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	q.Define(jobs.KindProcessProducts, processProducts(records, enricher, logger))
	q.Define(jobs.KindRescanProducts, rescanProducts(rescanner))
}

func processProducts(records RecordLoader, enricher *reconciliation.Enricher, logger *zap.Logger) jobs.Handler {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p ProcessProductsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", jobs.KindProcessProducts, err)
		}
		stored, err := records.FindByIDs(ctx, p.IDs)
		if err != nil {
			return nil, fmt.Errorf("load records: %w", err)
		}
		if len(stored) < len(p.IDs) {
			logger.Debug("Some records vanished before their detail pass",
				zap.Int("requested", len(p.IDs)),
				zap.Int("found", len(stored)))
		}

		res, err := enricher.EnrichBatch(ctx, stored)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ProcessProductsResult{
			Requested: len(p.IDs),
			Found:     len(stored),
			Patched:   len(res.Records),
			Summary:   res.Summary,
		})
	}
}

func rescanProducts(rescanner *reconciliation.Rescanner) jobs.Handler {
	return func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		res, err := rescanner.Rescan(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
}
