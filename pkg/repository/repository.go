// Package repository persists field definitions and product records over SQL.
// Queries are written with ? placeholders and rebound for the active driver.
package repository

import (
	"errors"
	"time"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/database"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("conflict")
)

// QueryRecorder observes repository operations. *metrics.Metrics satisfies it.
type QueryRecorder interface {
	RecordDatabaseQuery(operation string, success bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordDatabaseQuery(string, bool) {}

// dialect holds the SQL fragments that differ between drivers.
type dialect struct {
	// jsonParam is the placeholder for a JSON document parameter.
	jsonParam string
	// propertyEquals tests data[key] = value and takes (key, value).
	propertyEquals string
	// hasWebsiteTag tests membership in website_tags and takes (tag).
	hasWebsiteTag string
	// lockRows is appended to selects that precede a write in the same transaction.
	lockRows string
}

var dialects = map[string]dialect{
	database.DriverPostgres: {
		jsonParam:      "CAST(? AS JSONB)",
		propertyEquals: "data @> jsonb_build_object(CAST(? AS TEXT), CAST(? AS TEXT))",
		hasWebsiteTag:  "website_tags @> jsonb_build_array(CAST(? AS TEXT))",
		lockRows:       " FOR UPDATE",
	},
	database.DriverSQLite: {
		jsonParam:      "json(?)",
		propertyEquals: "EXISTS (SELECT 1 FROM json_each(products.data) WHERE json_each.key = ? AND json_each.value = ?)",
		hasWebsiteTag:  "EXISTS (SELECT 1 FROM json_each(products.website_tags) WHERE json_each.value = ?)",
	},
}

func dialectFor(db *database.DB) dialect {
	if d, ok := dialects[db.Driver()]; ok {
		return d
	}
	return dialects[database.DriverPostgres]
}

func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
