package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/config"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/database"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestApp(t *testing.T, opts ...func(*config.Config)) *app {
	t.Helper()
	cfg := config.Config{
		Database: config.DatabaseConfig{
			Driver: database.DriverSQLite,
			URL:    filepath.Join(t.TempDir(), "cmd.db") + "?_pragma=busy_timeout(5000)",
		},
		Scraper: config.ScraperConfig{
			ItemSelector: ".type-product",
			FetchTimeout: 5 * time.Second,
			Concurrency:  2,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestApp_ScrapeSaveAndEnrich(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/shop" {
			fmt.Fprint(w, `<ul>
				<li class="type-product"><h2 class="title">Kettle</h2><a class="more" href="/p/kettle">more</a></li>
				<li class="type-product"><h2 class="title">Toaster</h2></li>
			</ul>`)
			return
		}
		fmt.Fprintf(w, `<div class="desc">Details for %s</div>`, r.URL.Path)
	}))
	defer site.Close()

	a := newTestApp(t)
	ctx := context.Background()
	_, _, err := a.fields.SaveFields(ctx, []model.FieldDefinition{
		{Name: "title", Selector: ".title", ContentKind: model.ContentText, Scope: model.ScopeCollection},
		{Name: "link", Selector: "a.more", ContentKind: model.ContentLink, Scope: model.ScopeCollection},
		{Name: "description", Selector: ".desc", ContentKind: model.ContentText, Scope: model.ScopeDetail},
	})
	require.NoError(t, err)
	a.registry.Refresh(ctx)

	records, err := a.scrapeLocal(ctx, a.registry.ByScope(model.ScopeCollection), site.URL+"/shop")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, site.URL+"/p/kettle", records[0].DetailLink)

	saved, err := a.reconciler.UpsertBatch(ctx, records)
	require.NoError(t, err)
	require.Len(t, saved.Records, 2)

	_, err = a.enricher.EnrichBatch(ctx, saved.Records)
	require.NoError(t, err)

	kettle, err := a.products.GetProduct(ctx, saved.Records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Details for /p/kettle", kettle.Properties["description"])
	assert.Equal(t, "Kettle", kettle.Properties["title"])
}

func TestApp_BrowserRendersListingsOnly(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<div class="desc">Details for %s</div>`, r.URL.Path)
	}))
	defer site.Close()

	a := newTestApp(t, func(cfg *config.Config) { cfg.Scraper.Browser = true })
	ctx := context.Background()
	assert.IsType(t, scraper.BrowserSource{}, a.source)

	_, _, err := a.fields.SaveFields(ctx, []model.FieldDefinition{
		{Name: "title", Selector: ".title", ContentKind: model.ContentText, Scope: model.ScopeCollection},
		{Name: "description", Selector: ".desc", ContentKind: model.ContentText, Scope: model.ScopeDetail},
	})
	require.NoError(t, err)
	a.registry.Refresh(ctx)

	saved, err := a.reconciler.UpsertBatch(ctx, []model.Record{
		{Properties: model.Properties{"title": "Kettle"}, DetailLink: site.URL + "/p/kettle"},
	})
	require.NoError(t, err)

	enriched, err := a.enricher.EnrichBatch(ctx, saved.Records)
	require.NoError(t, err)
	require.Len(t, enriched.Records, 1)
	assert.Equal(t, "Details for /p/kettle", enriched.Records[0].Properties["description"])
}

func TestApp_JobStoreDefaultsToMemory(t *testing.T) {
	a := newTestApp(t)

	store, err := a.jobStore()

	require.NoError(t, err)
	assert.NoError(t, store.Ping(context.Background()))
	assert.Nil(t, a.redis)
}

func TestMergeByID(t *testing.T) {
	records := []model.Record{{ID: "a"}, {ID: "b"}}
	enriched := []model.Record{{ID: "b", Properties: model.Properties{"description": "x"}}}

	got := mergeByID(records, enriched)

	assert.Nil(t, got[0].Properties)
	assert.Equal(t, "x", got[1].Properties["description"])
}
