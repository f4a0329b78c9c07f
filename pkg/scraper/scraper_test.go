package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/selector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listing = `
<html><body>
  <ul class="products">
    <li class="type-product">
      <h2 class="title">Blue Widget</h2>
      <span class="price">9.99</span>
      <a class="more" href="/p/blue">View</a>
    </li>
    <li class="type-product">
      <h2 class="title">Red Widget</h2>
      <a class="more" href="https://other.example/p/red">View</a>
    </li>
  </ul>
</body></html>`

var collectionFields = []model.FieldDefinition{
	{Name: "title", Selector: ".title", ContentKind: model.ContentText, Scope: model.ScopeCollection},
	{Name: "price", Selector: ".price", ContentKind: model.ContentText, Scope: model.ScopeCollection},
	{Name: "link", Selector: "a.more", ContentKind: model.ContentLink, Scope: model.ScopeCollection},
	{Name: "description", Selector: ".desc", ContentKind: model.ContentText, Scope: model.ScopeDetail},
}

type fixedFields []model.FieldDefinition

func (f fixedFields) ByScope(scope model.ScrapeScope) []model.FieldDefinition {
	return model.FilterByScope(f, scope)
}

func TestScrapeCollection_OneRecordPerItem(t *testing.T) {
	page, err := ParsePage("https://shop.example/category/widgets", []byte(listing))
	require.NoError(t, err)
	s := NewCollectionScraper(selector.NewEngine(nil), "", nil, nil)

	records := s.ScrapeCollection(collectionFields, page)

	require.Len(t, records, 2)
	assert.Equal(t, model.Properties{
		"title": "Blue Widget",
		"price": "9.99",
		"link":  "https://shop.example/p/blue",
	}, records[0].Properties)
	assert.Equal(t, "https://shop.example/p/blue", records[0].DetailLink)

	_, hasPrice := records[1].Properties.Lookup("price")
	assert.False(t, hasPrice, "a field that matches nothing stays undefined")
	assert.Equal(t, "Red Widget", records[1].Properties["title"])
	assert.Equal(t, "https://other.example/p/red", records[1].DetailLink)

	_, hasDescription := records[0].Properties.Lookup("description")
	assert.False(t, hasDescription, "detail fields are not applied to listing items")
}

func TestScrapeCollection_TextFallbackIsNotAURL(t *testing.T) {
	page, err := ParsePage("https://shop.example/category/widgets", []byte(`
		<ul><li class="type-product">
			<h2 class="title">Plain Widget</h2>
			<a class="more">View item</a>
			<span class="pic">No image</span>
		</li></ul>`))
	require.NoError(t, err)
	fields := append(collectionFields,
		model.FieldDefinition{Name: "image", Selector: ".pic", ContentKind: model.ContentImage, Scope: model.ScopeCollection})
	s := NewCollectionScraper(selector.NewEngine(nil), "", nil, nil)

	records := s.ScrapeCollection(fields, page)

	require.Len(t, records, 1)
	assert.Equal(t, "View item", records[0].Properties["link"])
	assert.Equal(t, "No image", records[0].Properties["image"])
	assert.Empty(t, records[0].DetailLink, "text is never used as the detail page")
}

func TestScrapeCollection_NoItemsIsNil(t *testing.T) {
	page, err := ParsePage("", []byte(`<html><body><p>about us</p></body></html>`))
	require.NoError(t, err)
	s := NewCollectionScraper(selector.NewEngine(nil), "", nil, nil)

	assert.Nil(t, s.ScrapeCollection(collectionFields, page))
}

func TestScrapeCollection_ItemsWithoutFieldsAreEmptyRecords(t *testing.T) {
	page, err := ParsePage("", []byte(listing))
	require.NoError(t, err)
	s := NewCollectionScraper(selector.NewEngine(nil), "", nil, nil)

	records := s.ScrapeCollection(nil, page)

	require.NotNil(t, records)
	assert.Len(t, records, 2)
	assert.Empty(t, records[0].Properties)
}

func TestScrapeDetail_ExtractsDetailFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="desc">  Sturdy
			blue widget </div><img class="hero" src="/img/blue.png"></body></html>`)
	}))
	defer srv.Close()

	fields := fixedFields(append(collectionFields,
		model.FieldDefinition{Name: "hero", Selector: "img.missing, img.hero", ContentKind: model.ContentImage, Scope: model.ScopeDetail}))
	fetcher := NewFetcher(DefaultFetcherConfig(), nil, nil)
	s := NewDetailScraper(fields, HTTPSource{Fetcher: fetcher}, selector.NewEngine(nil), nil, nil)

	props := s.ScrapeDetail(context.Background(), model.Record{DetailLink: srv.URL + "/p/blue"})

	assert.Equal(t, model.Properties{
		"description": "Sturdy blue widget",
		"hero":        srv.URL + "/img/blue.png",
	}, props)
}

func TestScrapeDetail_TextFallbackIsNotResolved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><span class="hero">Image coming soon</span></body></html>`)
	}))
	defer srv.Close()

	fields := fixedFields{{Name: "hero", Selector: ".hero", ContentKind: model.ContentImage, Scope: model.ScopeDetail}}
	s := NewDetailScraper(fields, HTTPSource{Fetcher: NewFetcher(DefaultFetcherConfig(), nil, nil)}, selector.NewEngine(nil), nil, nil)

	props := s.ScrapeDetail(context.Background(), model.Record{DetailLink: srv.URL + "/p/soon"})

	assert.Equal(t, model.Properties{"hero": "Image coming soon"}, props)
}

func TestScrapeDetail_FetchFailureYieldsEmptyBag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fetcher := NewFetcher(DefaultFetcherConfig(), nil, nil)
	s := NewDetailScraper(fixedFields(collectionFields), HTTPSource{Fetcher: fetcher}, selector.NewEngine(nil), nil, nil)

	props := s.ScrapeDetail(context.Background(), model.Record{DetailLink: srv.URL})

	assert.Empty(t, props)
}

func TestScrapeDetail_NoLink(t *testing.T) {
	s := NewDetailScraper(fixedFields(collectionFields), HTTPSource{}, selector.NewEngine(nil), nil, nil)

	assert.Empty(t, s.ScrapeDetail(context.Background(), model.Record{}))
}

func TestFetcher_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	cfg := DefaultFetcherConfig()
	cfg.MaxRetries = 2
	f := NewFetcher(cfg, nil, nil)

	body, err := f.Fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetcher_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(DefaultFetcherConfig(), nil, nil)

	_, err := f.Fetch(context.Background(), srv.URL)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetcher_OpenBreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := DefaultFetcherConfig()
	cfg.MaxRetries = 0
	cfg.MaxFailures = 2
	cfg.Cooldown = time.Hour
	f := NewFetcher(cfg, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.Error(t, err)
	}
	_, err := f.Fetch(context.Background(), srv.URL)

	assert.ErrorContains(t, err, "circuit breaker is open")
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetcher_RejectsRelativeURL(t *testing.T) {
	f := NewFetcher(DefaultFetcherConfig(), nil, nil)

	_, err := f.Fetch(context.Background(), "/p/blue")

	assert.ErrorContains(t, err, "not an absolute http(s) URL")
}
