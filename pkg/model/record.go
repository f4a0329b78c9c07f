package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"time"
)

// Reserved record keys. Everything else in a record's JSON form is a scraped property.
const (
	KeyID          = "id"
	KeyDetailLink  = "detailLink"
	KeyWebsiteTags = "websiteTags"
	KeyCreatedAt   = "createdAt"
	KeyUpdatedAt   = "updatedAt"
)

var reservedKeys = map[string]struct{}{
	KeyID:          {},
	KeyDetailLink:  {},
	KeyWebsiteTags: {},
	KeyCreatedAt:   {},
	KeyUpdatedAt:   {},
	"_id":          {},
}

// Properties is the open property bag of a record, keyed by field name.
// A missing key means the field was not found; a present empty string means the
// element matched but carried no content.
type Properties map[string]string

// Lookup returns the value stored under name and whether it is defined.
func (p Properties) Lookup(name string) (string, bool) {
	v, ok := p[name]
	return v, ok
}

// Merge returns a copy of p overlaid with patch.
func (p Properties) Merge(patch Properties) Properties {
	out := make(Properties, len(p)+len(patch))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Names returns the property names in sorted order.
func (p Properties) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Record is one scraped product. ID is empty until the record has been persisted.
type Record struct {
	ID          string
	Properties  Properties
	DetailLink  string
	WebsiteTags []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Equality is one "property equals value" test used by reconciliation lookups.
type Equality struct {
	Field string
	Value string
}

// Match is the outcome of resolving one field against one scope. FromText is set
// when a link or image field fell back to the element's text, so Value is not a URL.
type Match struct {
	Found    bool
	Value    string
	Selector string
	FromText bool
}

// DetailLink picks the detail page of a record: the value of the first link-kind
// field, by name, that holds an absolute http(s) URL.
func DetailLink(fields []FieldDefinition, props Properties) string {
	var (
		best string
		name string
	)
	for _, f := range fields {
		if f.ContentKind != ContentLink {
			continue
		}
		v, ok := props[f.Name]
		if !ok || !isAbsoluteHTTP(v) {
			continue
		}
		if best == "" || f.Name < name {
			best, name = v, f.Name
		}
	}
	return best
}

func isAbsoluteHTTP(v string) bool {
	u, err := url.Parse(v)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// MarshalJSON flattens the property bag next to the reserved keys, which is the
// shape the extension and admin panel exchange.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Properties)+5)
	for k, v := range r.Properties {
		out[k] = v
	}
	if r.ID != "" {
		out[KeyID] = r.ID
	}
	if r.DetailLink != "" {
		out[KeyDetailLink] = r.DetailLink
	}
	if len(r.WebsiteTags) > 0 {
		out[KeyWebsiteTags] = r.WebsiteTags
	}
	if !r.CreatedAt.IsZero() {
		out[KeyCreatedAt] = r.CreatedAt
	}
	if !r.UpdatedAt.IsZero() {
		out[KeyUpdatedAt] = r.UpdatedAt
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the flat shape produced by MarshalJSON. Null properties are
// treated as undefined; non-string property values are rejected.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rec := Record{Properties: make(Properties, len(raw))}
	for key, value := range raw {
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			continue
		}
		switch key {
		case KeyID, "_id":
			if err := json.Unmarshal(value, &rec.ID); err != nil {
				return fmt.Errorf("record %s: %w", key, err)
			}
		case KeyDetailLink:
			if err := json.Unmarshal(value, &rec.DetailLink); err != nil {
				return fmt.Errorf("record detailLink: %w", err)
			}
		case KeyWebsiteTags:
			if err := json.Unmarshal(value, &rec.WebsiteTags); err != nil {
				return fmt.Errorf("record websiteTags: %w", err)
			}
		case KeyCreatedAt:
			if err := json.Unmarshal(value, &rec.CreatedAt); err != nil {
				return fmt.Errorf("record createdAt: %w", err)
			}
		case KeyUpdatedAt:
			if err := json.Unmarshal(value, &rec.UpdatedAt); err != nil {
				return fmt.Errorf("record updatedAt: %w", err)
			}
		default:
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return fmt.Errorf("property %q must be a string", key)
			}
			rec.Properties[key] = s
		}
	}
	*r = rec
	return nil
}

// UpsertSummary counts the outcome of a bulk upsert.
type UpsertSummary struct {
	Matched  int `json:"matched"`
	Modified int `json:"modified"`
	Upserted int `json:"upserted"`
}

// ProductFilter narrows product listings. Offset only applies together with Limit.
type ProductFilter struct {
	Website string
	Limit   int
	Offset  int
}
