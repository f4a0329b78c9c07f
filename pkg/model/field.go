package model

import (
	"strings"
	"time"
)

// ContentKind tells the selector engine which value to pull from a matched element.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentLink  ContentKind = "link"
	ContentImage ContentKind = "image"
)

// Valid reports whether k is one of the known content kinds.
func (k ContentKind) Valid() bool {
	switch k {
	case ContentText, ContentLink, ContentImage:
		return true
	}
	return false
}

// ScrapeScope tells which scraper applies a field: the listing page scraper walks
// repeated item scopes, the detail scraper applies to a whole fetched page.
type ScrapeScope string

const (
	ScopeCollection ScrapeScope = "category"
	ScopeDetail     ScrapeScope = "product"
)

// Valid reports whether s is one of the known scopes.
func (s ScrapeScope) Valid() bool {
	return s == ScopeCollection || s == ScopeDetail
}

// FieldDefinition is an operator-authored extraction rule.
type FieldDefinition struct {
	ID          string      `json:"id,omitempty" db:"id"`
	Name        string      `json:"fieldName" db:"field_name" validate:"required,fieldname"`
	Selector    string      `json:"selector" db:"selector" validate:"required"`
	ContentKind ContentKind `json:"contentType" db:"content_type" validate:"required,oneof=text link image"`
	Scope       ScrapeScope `json:"scrapeType" db:"scrape_type" validate:"required,oneof=category product"`
	CreatedAt   time.Time   `json:"createdAt,omitempty" db:"created_at"`
	UpdatedAt   time.Time   `json:"updatedAt,omitempty" db:"updated_at"`
}

// IdentityBearing reports whether the field takes part in reconciliation matching.
func (f FieldDefinition) IdentityBearing() bool {
	return f.Scope == ScopeCollection && f.ContentKind == ContentText
}

// ValidFieldName reports whether name can be used as a record property key.
// Names must not collide with the record's reserved keys and must not look like a
// JSON path, since stored properties are addressed by name inside the database.
func ValidFieldName(name string) bool {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed != name {
		return false
	}
	if strings.HasPrefix(name, "$") {
		return false
	}
	_, reserved := reservedKeys[name]
	return !reserved
}

// FilterByScope returns the definitions whose scope equals scope.
func FilterByScope(fields []FieldDefinition, scope ScrapeScope) []FieldDefinition {
	var out []FieldDefinition
	for _, f := range fields {
		if f.Scope == scope {
			out = append(out, f)
		}
	}
	return out
}
