package reconciliation

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/DolevBitran/dynamic-products-scraper/pkg/errors"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProductStore is the storage contract reconciliation depends on.
type ProductStore interface {
	FindFirstByAny(ctx context.Context, eqs []model.Equality) (*model.Record, error)
	BulkUpsert(ctx context.Context, records []model.Record) (model.UpsertSummary, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.Record, error)
}

// IdentitySource yields the identity-bearing field definitions.
// *registry.Registry satisfies it.
type IdentitySource interface {
	IdentityFields() []model.FieldDefinition
}

// BatchRecorder observes reconciliation batches. *metrics.Metrics satisfies it.
type BatchRecorder interface {
	RecordBatch(matched, minted, kept int, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordBatch(int, int, int, time.Duration) {}

// BatchResult represents the result of a reconciliation batch
type BatchResult struct {
	// Records are the stored versions of every identity touched, re-read after
	// the write, in the order the batch first touched them.
	Records []model.Record
	Summary model.UpsertSummary
	// Matched records took the identity of a stored record.
	Matched int
	// Minted records received a new identity.
	Minted int
	// Kept records arrived with an identity.
	Kept int
	// Joined records shared an identity minted earlier in the same batch.
	Joined   int
	Duration time.Duration
}

// Reconciler assigns identities to incoming records and persists them.
type Reconciler struct {
	fields   IdentitySource
	store    ProductStore
	logger   *zap.Logger
	recorder BatchRecorder
	newID    func() string
}

// NewReconciler creates a new reconciler
func NewReconciler(fields IdentitySource, store ProductStore, logger *zap.Logger, recorder BatchRecorder) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Reconciler{
		fields:   fields,
		store:    store,
		logger:   logger,
		recorder: recorder,
		newID:    uuid.NewString,
	}
}

// UpsertBatch reconciles incoming against storage and writes the batch.
//
// A record that already has an identity keeps it. Otherwise every non-empty
// identity-bearing value on the record is tried against storage at once, and the
// single best match (most recently updated) lends its identity. Records that match
// nothing stored but share a value with an earlier record of the same batch join
// that record's identity; the rest get a freshly minted one.
//
// The write is all-or-nothing. On failure no record of the batch is persisted and
// a BATCH_WRITE_FAILED error is returned.
func (r *Reconciler) UpsertBatch(ctx context.Context, incoming []model.Record) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{Records: []model.Record{}}
	if len(incoming) == 0 {
		return result, nil
	}

	identity := r.fields.IdentityFields()
	seen := make(map[model.Equality]string)
	batch := make([]model.Record, 0, len(incoming))

	for _, in := range incoming {
		rec := in
		rec.Properties = model.Properties{}.Merge(in.Properties)
		eqs := identityValues(identity, rec.Properties)

		switch {
		case rec.ID != "":
			result.Kept++
		case len(eqs) == 0:
			rec.ID = r.newID()
			result.Minted++
		default:
			stored, err := r.store.FindFirstByAny(ctx, eqs)
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to match incoming record")
			}
			if stored != nil {
				rec.ID = stored.ID
				result.Matched++
				break
			}
			if id, ok := joinBatch(seen, eqs); ok {
				rec.ID = id
				result.Joined++
				break
			}
			rec.ID = r.newID()
			result.Minted++
		}

		for _, eq := range eqs {
			if _, ok := seen[eq]; !ok {
				seen[eq] = rec.ID
			}
		}
		batch = append(batch, rec)
	}

	summary, err := r.store.BulkUpsert(ctx, batch)
	if err != nil {
		r.logger.Error("Batch write failed", zap.Int("records", len(batch)), zap.Error(err))
		return nil, apperrors.Wrap(err, apperrors.ErrCodeBatchWriteFailed, "batch write failed, no records were persisted")
	}
	result.Summary = summary

	ids := touchedIDs(batch)
	stored, err := r.store.FindByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to read back persisted batch")
	}
	byID := make(map[string]model.Record, len(stored))
	for _, rec := range stored {
		byID[rec.ID] = rec
	}
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			result.Records = append(result.Records, rec)
		}
	}

	result.Duration = time.Since(start)
	r.recorder.RecordBatch(result.Matched+result.Joined, result.Minted, result.Kept, result.Duration)
	r.logger.Info("Batch reconciled",
		zap.Int("records", len(batch)),
		zap.Int("matched", result.Matched),
		zap.Int("joined", result.Joined),
		zap.Int("minted", result.Minted),
		zap.Int("kept", result.Kept),
		zap.Int("upserted", summary.Upserted),
		zap.Int("modified", summary.Modified),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// identityValues lists the equality tests a record offers, in definition order.
func identityValues(fields []model.FieldDefinition, props model.Properties) []model.Equality {
	var eqs []model.Equality
	for _, f := range fields {
		v, ok := props.Lookup(f.Name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		eqs = append(eqs, model.Equality{Field: f.Name, Value: v})
	}
	return eqs
}

func joinBatch(seen map[model.Equality]string, eqs []model.Equality) (string, bool) {
	for _, eq := range eqs {
		if id, ok := seen[eq]; ok {
			return id, true
		}
	}
	return "", false
}

func touchedIDs(batch []model.Record) []string {
	ids := make([]string, 0, len(batch))
	seen := make(map[string]bool, len(batch))
	for _, rec := range batch {
		if !seen[rec.ID] {
			seen[rec.ID] = true
			ids = append(ids, rec.ID)
		}
	}
	return ids
}
