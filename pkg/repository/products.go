package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/database"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ProductRepository stores scraped records keyed by identity.
type ProductRepository interface {
	// FindFirstByAny returns the stored record matching any of eqs, preferring the
	// most recently updated one. It returns nil when nothing matches.
	FindFirstByAny(ctx context.Context, eqs []model.Equality) (*model.Record, error)
	// BulkUpsert merges every record into the row with the same ID, creating rows
	// as needed. The batch is written in one transaction: any failure leaves
	// storage untouched.
	BulkUpsert(ctx context.Context, records []model.Record) (model.UpsertSummary, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.Record, error)
	GetProduct(ctx context.Context, id string) (*model.Record, error)
	ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Record, error)
	DeleteProduct(ctx context.Context, id string) error
}

type productRow struct {
	ID          string    `db:"id"`
	Data        []byte    `db:"data"`
	DetailLink  string    `db:"detail_link"`
	WebsiteTags []byte    `db:"website_tags"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (row productRow) record() (model.Record, error) {
	rec := model.Record{
		ID:         row.ID,
		Properties: model.Properties{},
		DetailLink: row.DetailLink,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &rec.Properties); err != nil {
			return model.Record{}, fmt.Errorf("decode product %s data: %w", row.ID, err)
		}
	}
	if len(row.WebsiteTags) > 0 {
		if err := json.Unmarshal(row.WebsiteTags, &rec.WebsiteTags); err != nil {
			return model.Record{}, fmt.Errorf("decode product %s website tags: %w", row.ID, err)
		}
	}
	return rec, nil
}

func recordsFromRows(rows []productRow) ([]model.Record, error) {
	out := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

type productRepository struct {
	db       *database.DB
	dialect  dialect
	logger   *zap.Logger
	recorder QueryRecorder
	now      func() time.Time
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *database.DB, logger *zap.Logger, recorder QueryRecorder) ProductRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &productRepository{db: db, dialect: dialectFor(db), logger: logger, recorder: recorder, now: utcNow}
}

const productColumns = `id, data, detail_link, website_tags, created_at, updated_at`

func (r *productRepository) FindFirstByAny(ctx context.Context, eqs []model.Equality) (*model.Record, error) {
	if len(eqs) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(eqs))
	args := make([]any, 0, 2*len(eqs))
	for _, eq := range eqs {
		clauses = append(clauses, r.dialect.propertyEquals)
		args = append(args, eq.Field, eq.Value)
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE ` + strings.Join(clauses, " OR ") +
		` ORDER BY updated_at DESC, id ASC LIMIT 1`

	var row productRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(query), args...)
	r.recorder.RecordDatabaseQuery("find_first_by_any", err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to match product: %w", err)
	}

	rec, err := row.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *productRepository) BulkUpsert(ctx context.Context, records []model.Record) (model.UpsertSummary, error) {
	var summary model.UpsertSummary
	if len(records) == 0 {
		return summary, nil
	}

	err := r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		current, err := r.lockExisting(ctx, tx, records)
		if err != nil {
			return err
		}

		now := r.now()
		stmt := tx.Rebind(`
			INSERT INTO products (` + productColumns + `)
			VALUES (?, ` + r.dialect.jsonParam + `, ?, ` + r.dialect.jsonParam + `, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				data = excluded.data,
				detail_link = excluded.detail_link,
				website_tags = excluded.website_tags,
				updated_at = excluded.updated_at`)

		for i, rec := range records {
			if rec.ID == "" {
				return fmt.Errorf("upsert operation %d: record has no identity", i)
			}

			prev, exists := current[rec.ID]
			next := merge(prev, rec, exists)
			if exists {
				summary.Matched++
				if unchanged(prev, next) {
					continue
				}
				summary.Modified++
			} else {
				summary.Upserted++
				next.CreatedAt = now
			}
			next.UpdatedAt = now

			data, err := json.Marshal(next.Properties)
			if err != nil {
				return fmt.Errorf("upsert operation %d: encode data: %w", i, err)
			}
			tags, err := json.Marshal(next.WebsiteTags)
			if err != nil {
				return fmt.Errorf("upsert operation %d: encode website tags: %w", i, err)
			}
			if _, err := tx.ExecContext(ctx, stmt,
				next.ID, string(data), next.DetailLink, string(tags), next.CreatedAt, next.UpdatedAt); err != nil {
				return fmt.Errorf("upsert operation %d (%s): %w", i, rec.ID, err)
			}
			current[rec.ID] = next
		}
		return nil
	})
	r.recorder.RecordDatabaseQuery("bulk_upsert", err == nil)
	if err != nil {
		r.logger.Error("Bulk upsert failed, batch rolled back",
			zap.Int("records", len(records)),
			zap.Error(err))
		return model.UpsertSummary{}, err
	}

	r.logger.Debug("Bulk upsert committed",
		zap.Int("matched", summary.Matched),
		zap.Int("modified", summary.Modified),
		zap.Int("upserted", summary.Upserted))
	return summary, nil
}

// lockExisting loads the stored rows addressed by records.
func (r *productRepository) lockExisting(ctx context.Context, tx *sqlx.Tx, records []model.Record) (map[string]model.Record, error) {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ID != "" {
			ids = append(ids, rec.ID)
		}
	}
	current := make(map[string]model.Record, len(ids))
	if len(ids) == 0 {
		return current, nil
	}

	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?)`+r.dialect.lockRows, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build product lookup: %w", err)
	}
	var rows []productRow
	if err := tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load products for upsert: %w", err)
	}
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		current[rec.ID] = rec
	}
	return current, nil
}

// merge overlays incoming onto the stored record. Properties absent from incoming
// keep their stored value, website tags accumulate and an empty detail link does
// not erase a known one.
func merge(stored, incoming model.Record, exists bool) model.Record {
	if !exists {
		out := incoming
		out.Properties = model.Properties{}.Merge(incoming.Properties)
		out.WebsiteTags = unionTags(nil, incoming.WebsiteTags)
		return out
	}

	out := stored
	out.Properties = stored.Properties.Merge(incoming.Properties)
	if incoming.DetailLink != "" {
		out.DetailLink = incoming.DetailLink
	}
	out.WebsiteTags = unionTags(stored.WebsiteTags, incoming.WebsiteTags)
	return out
}

func unionTags(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, tag := range slices.Concat(a, b) {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func unchanged(prev, next model.Record) bool {
	return maps.Equal(prev.Properties, next.Properties) &&
		prev.DetailLink == next.DetailLink &&
		slices.Equal(prev.WebsiteTags, next.WebsiteTags)
}

func (r *productRepository) FindByIDs(ctx context.Context, ids []string) ([]model.Record, error) {
	if len(ids) == 0 {
		return []model.Record{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build product lookup: %w", err)
	}
	var rows []productRow
	err = r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...)
	r.recorder.RecordDatabaseQuery("find_by_ids", err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read products: %w", err)
	}
	return recordsFromRows(rows)
}

func (r *productRepository) GetProduct(ctx context.Context, id string) (*model.Record, error) {
	var row productRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	r.recorder.RecordDatabaseQuery("get_product", err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", id, err)
	}
	rec, err := row.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *productRepository) ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Record, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	var args []any

	if filter.Website != "" {
		query += ` AND ` + r.dialect.hasWebsiteTag
		args = append(args, filter.Website)
	}

	query += ` ORDER BY created_at ASC, id ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	var rows []productRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...)
	r.recorder.RecordDatabaseQuery("list_products", err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return recordsFromRows(rows)
}

func (r *productRepository) DeleteProduct(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM products WHERE id = ?`), id)
	r.recorder.RecordDatabaseQuery("delete_product", err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete product %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return nil
}
