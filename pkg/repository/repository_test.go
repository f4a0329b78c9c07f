package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/config"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/database"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), config.DatabaseConfig{
		Driver: database.DriverSQLite,
		URL:    filepath.Join(t.TempDir(), "repo.db") + "?_pragma=busy_timeout(5000)",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.RunMigrations())
	return db
}

// clock returns increasing timestamps one second apart.
func clock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		next = next.Add(time.Second)
		return next
	}
}

func newProducts(t *testing.T, db *database.DB) *productRepository {
	t.Helper()
	repo := NewProductRepository(db, nil, nil).(*productRepository)
	repo.now = clock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return repo
}

func TestSaveFields_InsertUpdateAndUpsertByName(t *testing.T) {
	db := newTestDB(t)
	repo := NewFieldRepository(db, nil, nil)
	ctx := context.Background()

	saved, newID, err := repo.SaveFields(ctx, []model.FieldDefinition{
		{Name: "title", Selector: "h2", ContentKind: model.ContentText, Scope: model.ScopeCollection},
		{Name: "link", Selector: "a", ContentKind: model.ContentLink, Scope: model.ScopeCollection},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.NotEmpty(t, newID)
	assert.Equal(t, saved[0].ID, newID, "the first created definition is reported")
	assert.Equal(t, "title", saved[0].Name)

	title := saved[0]
	title.Selector = "h2.title, h3"
	saved, newID, err = repo.SaveFields(ctx, []model.FieldDefinition{
		title,
		{Name: "link", Selector: "a.more", ContentKind: model.ContentLink, Scope: model.ScopeCollection},
	})
	require.NoError(t, err)
	assert.Empty(t, newID, "updating and upserting existing names creates nothing")
	assert.Equal(t, "h2.title, h3", saved[0].Selector)
	assert.Equal(t, "a.more", saved[1].Selector)

	all, err := repo.ListFields(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSaveFields_UnknownIDRollsBackBatch(t *testing.T) {
	db := newTestDB(t)
	repo := NewFieldRepository(db, nil, nil)
	ctx := context.Background()

	_, _, err := repo.SaveFields(ctx, []model.FieldDefinition{
		{Name: "price", Selector: ".price", ContentKind: model.ContentText, Scope: model.ScopeCollection},
		{ID: "missing", Name: "title", Selector: "h2", ContentKind: model.ContentText, Scope: model.ScopeCollection},
	})
	require.ErrorIs(t, err, ErrNotFound)

	all, err := repo.ListFields(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSaveFields_RenameOntoExistingNameConflicts(t *testing.T) {
	db := newTestDB(t)
	repo := NewFieldRepository(db, nil, nil)
	ctx := context.Background()

	saved, _, err := repo.SaveFields(ctx, []model.FieldDefinition{
		{Name: "title", Selector: "h2", ContentKind: model.ContentText, Scope: model.ScopeCollection},
		{Name: "name", Selector: "h3", ContentKind: model.ContentText, Scope: model.ScopeCollection},
	})
	require.NoError(t, err)

	renamed := saved[1]
	renamed.Name = "title"
	_, _, err = repo.SaveFields(ctx, []model.FieldDefinition{renamed})

	assert.ErrorIs(t, err, ErrConflict)
}

func TestDeleteField_KeepsStoredProperties(t *testing.T) {
	db := newTestDB(t)
	fields := NewFieldRepository(db, nil, nil)
	products := newProducts(t, db)
	ctx := context.Background()

	saved, _, err := fields.SaveFields(ctx, []model.FieldDefinition{
		{Name: "color", Selector: ".color", ContentKind: model.ContentText, Scope: model.ScopeDetail},
	})
	require.NoError(t, err)
	_, err = products.BulkUpsert(ctx, []model.Record{{ID: "p1", Properties: model.Properties{"color": "blue"}}})
	require.NoError(t, err)

	require.NoError(t, fields.DeleteField(ctx, saved[0].ID))
	assert.ErrorIs(t, fields.DeleteField(ctx, saved[0].ID), ErrNotFound)

	rec, err := products.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "blue", rec.Properties["color"])
}

func TestBulkUpsert_MergesAndCounts(t *testing.T) {
	db := newTestDB(t)
	repo := newProducts(t, db)
	ctx := context.Background()

	summary, err := repo.BulkUpsert(ctx, []model.Record{{
		ID:          "p1",
		Properties:  model.Properties{"title": "Widget", "link": "https://x/y"},
		DetailLink:  "https://x/y",
		WebsiteTags: []string{"shop-a"},
	}})
	require.NoError(t, err)
	assert.Equal(t, model.UpsertSummary{Upserted: 1}, summary)

	summary, err = repo.BulkUpsert(ctx, []model.Record{
		{ID: "p1", Properties: model.Properties{"description": "Sturdy"}, WebsiteTags: []string{"shop-b"}},
		{ID: "p2", Properties: model.Properties{"title": "Gadget"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.UpsertSummary{Matched: 1, Modified: 1, Upserted: 1}, summary)

	rec, err := repo.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.Properties{"title": "Widget", "link": "https://x/y", "description": "Sturdy"}, rec.Properties)
	assert.Equal(t, "https://x/y", rec.DetailLink)
	assert.Equal(t, []string{"shop-a", "shop-b"}, rec.WebsiteTags)
	assert.True(t, rec.UpdatedAt.After(rec.CreatedAt))

	summary, err = repo.BulkUpsert(ctx, []model.Record{{ID: "p2", Properties: model.Properties{"title": "Gadget"}}})
	require.NoError(t, err)
	assert.Equal(t, model.UpsertSummary{Matched: 1}, summary, "identical data is not rewritten")
}

func TestBulkUpsert_InvalidOperationFailsWholeBatch(t *testing.T) {
	db := newTestDB(t)
	repo := newProducts(t, db)
	ctx := context.Background()

	_, err := repo.BulkUpsert(ctx, []model.Record{{ID: "p1", Properties: model.Properties{"title": "Before"}}})
	require.NoError(t, err)

	_, err = repo.BulkUpsert(ctx, []model.Record{
		{ID: "p1", Properties: model.Properties{"title": "After"}},
		{ID: "p2", Properties: model.Properties{"title": "New"}},
		{Properties: model.Properties{"title": "no identity"}},
	})
	require.Error(t, err)

	rec, err := repo.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Before", rec.Properties["title"])

	_, err = repo.GetProduct(ctx, "p2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindFirstByAny_PrefersMostRecentlyUpdated(t *testing.T) {
	db := newTestDB(t)
	repo := newProducts(t, db)
	ctx := context.Background()

	_, err := repo.BulkUpsert(ctx, []model.Record{{ID: "old", Properties: model.Properties{"title": "Foo"}}})
	require.NoError(t, err)
	_, err = repo.BulkUpsert(ctx, []model.Record{{ID: "new", Properties: model.Properties{"sku": "F-1"}}})
	require.NoError(t, err)

	rec, err := repo.FindFirstByAny(ctx, []model.Equality{
		{Field: "title", Value: "Foo"},
		{Field: "sku", Value: "F-1"},
	})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "new", rec.ID)

	rec, err = repo.FindFirstByAny(ctx, []model.Equality{{Field: "title", Value: "Bar"}})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFindFirstByAny_FieldNamesAreData(t *testing.T) {
	db := newTestDB(t)
	repo := newProducts(t, db)
	ctx := context.Background()

	_, err := repo.BulkUpsert(ctx, []model.Record{{ID: "p1", Properties: model.Properties{"it's \"odd\"": "v"}}})
	require.NoError(t, err)

	rec, err := repo.FindFirstByAny(ctx, []model.Equality{{Field: "it's \"odd\"", Value: "v"}})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "p1", rec.ID)
}

func TestListProducts_WebsiteFilterAndPaging(t *testing.T) {
	db := newTestDB(t)
	repo := newProducts(t, db)
	ctx := context.Background()

	_, err := repo.BulkUpsert(ctx, []model.Record{
		{ID: "a", Properties: model.Properties{"title": "A"}, WebsiteTags: []string{"shop-1"}},
		{ID: "b", Properties: model.Properties{"title": "B"}, WebsiteTags: []string{"shop-2"}},
		{ID: "c", Properties: model.Properties{"title": "C"}, WebsiteTags: []string{"shop-1", "shop-2"}},
	})
	require.NoError(t, err)

	tagged, err := repo.ListProducts(ctx, model.ProductFilter{Website: "shop-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(tagged))

	page, err := repo.ListProducts(ctx, model.ProductFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(page))

	byID, err := repo.FindByIDs(ctx, []string{"c", "a", "zzz"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, ids(byID))

	require.NoError(t, repo.DeleteProduct(ctx, "b"))
	assert.ErrorIs(t, repo.DeleteProduct(ctx, "b"), ErrNotFound)
}

func ids(records []model.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
