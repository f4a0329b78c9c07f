package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/database"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// FieldRepository stores field definitions.
type FieldRepository interface {
	ListFields(ctx context.Context) ([]model.FieldDefinition, error)
	// SaveFields updates definitions that carry an ID and upserts the others by
	// name, atomically. It returns the stored version of every submitted
	// definition and the ID of the first definition it created, if any.
	SaveFields(ctx context.Context, defs []model.FieldDefinition) ([]model.FieldDefinition, string, error)
	DeleteField(ctx context.Context, id string) error
}

type fieldRepository struct {
	db       *database.DB
	logger   *zap.Logger
	recorder QueryRecorder
	now      func() time.Time
}

// NewFieldRepository creates a new field repository
func NewFieldRepository(db *database.DB, logger *zap.Logger, recorder QueryRecorder) FieldRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &fieldRepository{db: db, logger: logger, recorder: recorder, now: utcNow}
}

const fieldColumns = `id, field_name, selector, content_type, scrape_type, created_at, updated_at`

func (r *fieldRepository) ListFields(ctx context.Context) ([]model.FieldDefinition, error) {
	var fields []model.FieldDefinition
	err := r.db.SelectContext(ctx, &fields, `SELECT `+fieldColumns+` FROM fields ORDER BY field_name`)
	r.recorder.RecordDatabaseQuery("list_fields", err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	return fields, nil
}

func (r *fieldRepository) SaveFields(ctx context.Context, defs []model.FieldDefinition) ([]model.FieldDefinition, string, error) {
	var (
		newID string
		names = make([]string, 0, len(defs))
	)

	err := r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		now := r.now()
		for _, def := range defs {
			names = append(names, def.Name)

			if def.ID != "" {
				if err := r.updateField(ctx, tx, def, now); err != nil {
					return err
				}
				continue
			}

			minted := uuid.NewString()
			var id string
			err := tx.GetContext(ctx, &id, tx.Rebind(`
				INSERT INTO fields (`+fieldColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (field_name) DO UPDATE SET
					selector = excluded.selector,
					content_type = excluded.content_type,
					scrape_type = excluded.scrape_type,
					updated_at = excluded.updated_at
				RETURNING id`),
				minted, def.Name, def.Selector, def.ContentKind, def.Scope, now, now)
			if err != nil {
				return fmt.Errorf("failed to upsert field %q: %w", def.Name, err)
			}
			if id == minted && newID == "" {
				newID = id
			}
		}
		return nil
	})
	r.recorder.RecordDatabaseQuery("save_fields", err == nil)
	if err != nil {
		return nil, "", err
	}

	saved, err := r.fieldsByName(ctx, names)
	if err != nil {
		return nil, "", err
	}

	r.logger.Info("Fields saved", zap.Int("count", len(saved)), zap.String("new_id", newID))
	return saved, newID, nil
}

func (r *fieldRepository) updateField(ctx context.Context, tx *sqlx.Tx, def model.FieldDefinition, now time.Time) error {
	var clash string
	err := tx.GetContext(ctx, &clash, tx.Rebind(`SELECT id FROM fields WHERE field_name = ? AND id <> ?`), def.Name, def.ID)
	switch {
	case err == nil:
		return fmt.Errorf("field name %q is used by %s: %w", def.Name, clash, ErrConflict)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check field name %q: %w", def.Name, err)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE fields
		SET field_name = ?, selector = ?, content_type = ?, scrape_type = ?, updated_at = ?
		WHERE id = ?`),
		def.Name, def.Selector, def.ContentKind, def.Scope, now, def.ID)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", def.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("field %s: %w", def.ID, ErrNotFound)
	}
	return nil
}

// fieldsByName returns the stored definitions for names, in the order of names.
func (r *fieldRepository) fieldsByName(ctx context.Context, names []string) ([]model.FieldDefinition, error) {
	if len(names) == 0 {
		return []model.FieldDefinition{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+fieldColumns+` FROM fields WHERE field_name IN (?)`, names)
	if err != nil {
		return nil, fmt.Errorf("failed to build field query: %w", err)
	}
	var rows []model.FieldDefinition
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to read saved fields: %w", err)
	}

	byName := make(map[string]model.FieldDefinition, len(rows))
	for _, f := range rows {
		byName[f.Name] = f
	}
	out := make([]model.FieldDefinition, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if f, ok := byName[name]; ok && !seen[name] {
			out = append(out, f)
			seen[name] = true
		}
	}
	return out, nil
}

func (r *fieldRepository) DeleteField(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM fields WHERE id = ?`), id)
	r.recorder.RecordDatabaseQuery("delete_field", err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete field %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("field %s: %w", id, ErrNotFound)
	}
	return nil
}
