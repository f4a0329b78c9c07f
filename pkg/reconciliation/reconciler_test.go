package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	apperrors "github.com/DolevBitran/dynamic-products-scraper/pkg/errors"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-memory ProductStore. Records are matched in insertion
// order, newest first, mirroring the "most recently updated wins" rule.
type memoryStore struct {
	mu       sync.Mutex
	records  map[string]model.Record
	order    []string
	writeErr error
	lookups  int
}

func newMemoryStore(seed ...model.Record) *memoryStore {
	s := &memoryStore{records: map[string]model.Record{}}
	for _, r := range seed {
		s.put(r)
	}
	return s
}

func (s *memoryStore) put(r model.Record) {
	if _, ok := s.records[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.records[r.ID] = r
}

func (s *memoryStore) FindFirstByAny(_ context.Context, eqs []model.Equality) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		for _, eq := range eqs {
			if v, ok := rec.Properties[eq.Field]; ok && v == eq.Value {
				return &rec, nil
			}
		}
	}
	return nil, nil
}

func (s *memoryStore) BulkUpsert(_ context.Context, records []model.Record) (model.UpsertSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return model.UpsertSummary{}, s.writeErr
	}
	var sum model.UpsertSummary
	for _, r := range records {
		if prev, ok := s.records[r.ID]; ok {
			sum.Matched++
			r.Properties = prev.Properties.Merge(r.Properties)
		} else {
			sum.Upserted++
		}
		s.put(r)
	}
	return sum, nil
}

func (s *memoryStore) FindByIDs(_ context.Context, ids []string) ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Record
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type identity []model.FieldDefinition

func (f identity) IdentityFields() []model.FieldDefinition { return f }

var titleField = model.FieldDefinition{Name: "title", ContentKind: model.ContentText, Scope: model.ScopeCollection}
var skuField = model.FieldDefinition{Name: "sku", ContentKind: model.ContentText, Scope: model.ScopeCollection}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("minted-%d", n)
	}
}

func newTestReconciler(store ProductStore, fields ...model.FieldDefinition) *Reconciler {
	r := NewReconciler(identity(fields), store, nil, nil)
	r.newID = sequentialIDs()
	return r
}

func TestUpsertBatch_ReusesMatchedIdentity(t *testing.T) {
	store := newMemoryStore(model.Record{ID: "X", Properties: model.Properties{"title": "Foo"}})
	r := newTestReconciler(store, titleField)

	res, err := r.UpsertBatch(context.Background(), []model.Record{
		{Properties: model.Properties{"title": "Foo", "price": "9.99"}},
	})

	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "X", res.Records[0].ID)
	assert.Equal(t, model.Properties{"title": "Foo", "price": "9.99"}, res.Records[0].Properties)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 0, res.Minted)
}

func TestUpsertBatch_MintsNewIdentity(t *testing.T) {
	store := newMemoryStore(model.Record{ID: "X", Properties: model.Properties{"title": "Foo"}})
	r := newTestReconciler(store, titleField)

	res, err := r.UpsertBatch(context.Background(), []model.Record{
		{Properties: model.Properties{"title": "Bar"}},
	})

	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "minted-1", res.Records[0].ID)
	assert.NotEqual(t, "X", res.Records[0].ID)
	assert.Len(t, store.records, 2)
}

func TestUpsertBatch_AnySingleFieldMatches(t *testing.T) {
	store := newMemoryStore(model.Record{ID: "X", Properties: model.Properties{"title": "Old name", "sku": "S-1"}})
	r := newTestReconciler(store, titleField, skuField)

	res, err := r.UpsertBatch(context.Background(), []model.Record{
		{Properties: model.Properties{"title": "New name", "sku": "S-1"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "X", res.Records[0].ID)
	assert.Equal(t, "New name", res.Records[0].Properties["title"])
}

func TestUpsertBatch_NoIdentityFieldsMintsEveryRecord(t *testing.T) {
	store := newMemoryStore(model.Record{ID: "X", Properties: model.Properties{"title": "Foo"}})
	r := newTestReconciler(store)

	res, err := r.UpsertBatch(context.Background(), []model.Record{
		{Properties: model.Properties{"title": "Foo"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "minted-1", res.Records[0].ID)
	assert.Zero(t, store.lookups, "nothing to match on, storage is not queried")
}

func TestUpsertBatch_EmptyValuesDoNotMatch(t *testing.T) {
	store := newMemoryStore(model.Record{ID: "X", Properties: model.Properties{"title": ""}})
	r := newTestReconciler(store, titleField)

	res, err := r.UpsertBatch(context.Background(), []model.Record{
		{Properties: model.Properties{"title": "  "}},
	})

	require.NoError(t, err)
	assert.Equal(t, "minted-1", res.Records[0].ID)
}

func TestUpsertBatch_DuplicatesWithinBatchShareIdentity(t *testing.T) {
	store := newMemoryStore()
	r := newTestReconciler(store, titleField)

	res, err := r.UpsertBatch(context.Background(), []model.Record{
		{Properties: model.Properties{"title": "Foo", "price": "1"}},
		{Properties: model.Properties{"title": "Bar"}},
		{Properties: model.Properties{"title": "Foo", "color": "red"}},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Minted)
	assert.Equal(t, 1, res.Joined)
	require.Len(t, res.Records, 2)

	ids := []string{res.Records[0].ID, res.Records[1].ID}
	sort.Strings(ids)
	assert.Equal(t, []string{"minted-1", "minted-2"}, ids)
	assert.Equal(t, model.Properties{"title": "Foo", "price": "1", "color": "red"}, store.records["minted-1"].Properties)
}

func TestUpsertBatch_KeepsExistingIdentity(t *testing.T) {
	store := newMemoryStore(model.Record{ID: "X", Properties: model.Properties{"title": "Foo"}})
	r := newTestReconciler(store, titleField)

	res, err := r.UpsertBatch(context.Background(), []model.Record{
		{ID: "Y", Properties: model.Properties{"title": "Foo"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Y", res.Records[0].ID)
	assert.Equal(t, 1, res.Kept)
}

func TestUpsertBatch_WriteFailureFailsWholeBatch(t *testing.T) {
	store := newMemoryStore()
	store.writeErr = errors.New("disk full")
	r := newTestReconciler(store, titleField)

	res, err := r.UpsertBatch(context.Background(), []model.Record{
		{Properties: model.Properties{"title": "Foo"}},
		{Properties: model.Properties{"title": "Bar"}},
	})

	assert.Nil(t, res)
	assert.Equal(t, apperrors.ErrCodeBatchWriteFailed, apperrors.CodeOf(err))
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, store.records)
}

func TestUpsertBatch_DoesNotMutateInput(t *testing.T) {
	store := newMemoryStore()
	r := newTestReconciler(store, titleField)
	in := []model.Record{{Properties: model.Properties{"title": "Foo"}}}

	_, err := r.UpsertBatch(context.Background(), in)

	require.NoError(t, err)
	assert.Empty(t, in[0].ID)
}
