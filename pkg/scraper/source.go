package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

// Page is a parsed HTML document together with the URL it was loaded from.
// URL may be nil for markup that did not come from the network.
type Page struct {
	URL *url.URL
	Doc *goquery.Document
}

// ParsePage parses html as if it had been served from rawURL.
func ParsePage(rawURL string, html []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	page := &Page{Doc: doc}
	if rawURL != "" {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse page url: %w", err)
		}
		page.URL = u
		doc.Url = u
	}
	return page, nil
}

// Resolve turns ref into an absolute URL relative to the page. Values that do not
// parse as URLs, and pages without a URL, leave ref unchanged.
func (p *Page) Resolve(ref string) string {
	if p.URL == nil || ref == "" || strings.HasPrefix(ref, "data:") {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return p.URL.ResolveReference(u).String()
}

// Source loads a page by URL.
type Source interface {
	Load(ctx context.Context, rawURL string) (*Page, error)
}

// HTTPSource loads pages with a plain HTTP fetch.
type HTTPSource struct {
	Fetcher *Fetcher
}

// Load fetches and parses rawURL.
func (s HTTPSource) Load(ctx context.Context, rawURL string) (*Page, error) {
	body, err := s.Fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return ParsePage(rawURL, body)
}

// BrowserSource renders pages in headless Chrome, for listings whose product grid
// is built by client-side script and is absent from the raw HTML.
type BrowserSource struct {
	Timeout time.Duration
	// Settle is how long to wait after navigation for late scripts.
	Settle time.Duration
}

// Load renders rawURL and parses the resulting DOM.
func (s BrowserSource) Load(ctx context.Context, rawURL string) (*Page, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, timeout)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(rawURL),
		chromedp.Sleep(s.Settle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", rawURL, err)
	}
	return ParsePage(rawURL, []byte(html))
}
