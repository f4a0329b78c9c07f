// Package registry keeps the process-wide, read-mostly cache of field definitions.
package registry

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"go.uber.org/zap"
)

// FieldSource lists the persisted field definitions.
type FieldSource interface {
	ListFields(ctx context.Context) ([]model.FieldDefinition, error)
}

// SizeObserver is notified of the cache size after each successful load.
type SizeObserver interface {
	SetRegistrySize(n int)
}

// Registry caches field definitions. Readers always see a complete snapshot:
// a refresh swaps the whole slice atomically.
type Registry struct {
	source   FieldSource
	logger   *zap.Logger
	observer SizeObserver
	fields   atomic.Pointer[[]model.FieldDefinition]
}

// New creates an empty registry backed by source.
func New(source FieldSource, logger *zap.Logger, observer SizeObserver) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{source: source, logger: logger, observer: observer}
	empty := []model.FieldDefinition{}
	r.fields.Store(&empty)
	return r
}

// Load reads every definition from the source and replaces the cache.
// Startup uses this and treats an error as fatal.
func (r *Registry) Load(ctx context.Context) error {
	fields, err := r.source.ListFields(ctx)
	if err != nil {
		return fmt.Errorf("load field definitions: %w", err)
	}
	r.fields.Store(&fields)
	if r.observer != nil {
		r.observer.SetRegistrySize(len(fields))
	}
	r.logger.Info("Field registry loaded", zap.Int("fields", len(fields)))
	return nil
}

// Refresh reloads the cache. On failure the previous snapshot is kept and the
// error is logged, so a flaky store never empties the registry.
func (r *Registry) Refresh(ctx context.Context) {
	if err := r.Load(ctx); err != nil {
		r.logger.Warn("Field registry refresh failed, keeping previous definitions",
			zap.Error(err),
			zap.Int("cached_fields", len(*r.fields.Load())))
	}
}

// All returns a copy of every cached definition.
func (r *Registry) All() []model.FieldDefinition {
	cur := *r.fields.Load()
	out := make([]model.FieldDefinition, len(cur))
	copy(out, cur)
	return out
}

// ByScope returns the cached definitions for one scope.
func (r *Registry) ByScope(scope model.ScrapeScope) []model.FieldDefinition {
	return model.FilterByScope(*r.fields.Load(), scope)
}

// IdentityFields returns the definitions used to match incoming records against
// stored ones.
func (r *Registry) IdentityFields() []model.FieldDefinition {
	var out []model.FieldDefinition
	for _, f := range *r.fields.Load() {
		if f.IdentityBearing() {
			out = append(out, f)
		}
	}
	return out
}
