// Package messaging carries the scrape-request/scrape-result exchange between the
// browser extension and scraping agents.
package messaging

import "github.com/DolevBitran/dynamic-products-scraper/pkg/model"

const (
	TypeScrapeRequest = "scrape-request"
	TypeScrapeResult  = "scrape-result"
)

// ScrapeRequest asks an agent to run a collection scrape. Fields is the subset of
// definitions to apply. The page is either given inline as HTML or loaded from URL;
// when both are set, URL only serves to resolve relative links.
type ScrapeRequest struct {
	Type   string                  `json:"type"`
	Fields []model.FieldDefinition `json:"fields"`
	URL    string                  `json:"url,omitempty"`
	HTML   string                  `json:"html,omitempty"`
}

// ScrapeResult answers a ScrapeRequest. A null Payload means the page had no item
// scopes.
type ScrapeResult struct {
	Type    string         `json:"type"`
	Payload []model.Record `json:"payload"`
	Error   string         `json:"error,omitempty"`
}
