package service

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/DolevBitran/dynamic-products-scraper/pkg/errors"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/jobs"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/reconciliation"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/repository"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// SaveFieldsRequest is a batch of field definitions to create or update.
type SaveFieldsRequest struct {
	Fields []model.FieldDefinition `json:"fields" validate:"required,min=1,dive"`
}

// SaveFieldsResponse carries the stored version of every submitted definition.
type SaveFieldsResponse struct {
	Fields     []model.FieldDefinition `json:"fields"`
	NewFieldID string                  `json:"newFieldId,omitempty"`
}

// ListProductsRequest filters the product list.
type ListProductsRequest struct {
	Website string `json:"website,omitempty"`
	Limit   int    `json:"limit,omitempty" validate:"gte=0,lte=1000"`
	Offset  int    `json:"offset,omitempty" validate:"gte=0"`
}

// SubmitProductsRequest is a batch of scraped records. Website, when set, is
// added to every record's website tags.
type SubmitProductsRequest struct {
	Products []model.Record `json:"products" validate:"required,min=1"`
	Website  string         `json:"website,omitempty"`
}

// SubmitProductsResponse returns the stored batch and the detail job scheduled for it.
type SubmitProductsResponse struct {
	Products []model.Record      `json:"products"`
	Summary  model.UpsertSummary `json:"summary"`
	JobID    string              `json:"jobId,omitempty"`
}

// UpdateProductRequest edits one stored record. Properties are merged into the
// stored ones.
type UpdateProductRequest struct {
	ID     string       `json:"id" validate:"required"`
	Record model.Record `json:"record"`
}

// GetJobRequest addresses a job. With Wait the call blocks until the job ends.
type GetJobRequest struct {
	ID   string `json:"id" validate:"required"`
	Wait bool   `json:"wait,omitempty"`
}

// RescanResponse identifies the rescan job.
type RescanResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// ProcessProductsPayload is the payload of a process-products job.
type ProcessProductsPayload struct {
	IDs []string `json:"ids"`
}

// Service defines the scraping backend's operations.
type Service interface {
	ListFields(ctx context.Context) ([]model.FieldDefinition, error)
	SaveFields(ctx context.Context, req SaveFieldsRequest) (SaveFieldsResponse, error)
	DeleteField(ctx context.Context, id string) error
	ListProducts(ctx context.Context, req ListProductsRequest) ([]model.Record, error)
	SubmitProducts(ctx context.Context, req SubmitProductsRequest) (SubmitProductsResponse, error)
	UpdateProduct(ctx context.Context, req UpdateProductRequest) (model.Record, error)
	DeleteProduct(ctx context.Context, id string) error
	GetJob(ctx context.Context, req GetJobRequest) (*jobs.Job, error)
	Rescan(ctx context.Context) (RescanResponse, error)
}

// JobQueue is the part of *jobs.Queue the service uses.
type JobQueue interface {
	Schedule(ctx context.Context, kind string, payload any) (jobs.Handle, error)
	RunOnce(ctx context.Context, kind string, payload any) (jobs.Handle, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
	Wait(ctx context.Context, id string) (*jobs.Job, error)
}

// FieldCache is reloaded after every field write and supplies the definitions used
// to find a record's detail link. *registry.Registry satisfies it.
type FieldCache interface {
	Refresh(ctx context.Context)
	ByScope(scope model.ScrapeScope) []model.FieldDefinition
}

// service implements the Service interface
type service struct {
	fields     repository.FieldRepository
	products   repository.ProductRepository
	cache      FieldCache
	reconciler *reconciliation.Reconciler
	queue      JobQueue
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewService creates a new Service instance with all dependencies
func NewService(
	fields repository.FieldRepository,
	products repository.ProductRepository,
	cache FieldCache,
	reconciler *reconciliation.Reconciler,
	queue JobQueue,
	logger *zap.Logger,
) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		fields:     fields,
		products:   products,
		cache:      cache,
		reconciler: reconciler,
		queue:      queue,
		validate:   NewValidator(),
		logger:     logger,
	}
}

func (s *service) ListFields(ctx context.Context) ([]model.FieldDefinition, error) {
	defs, err := s.fields.ListFields(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to list fields")
	}
	if defs == nil {
		defs = []model.FieldDefinition{}
	}
	return defs, nil
}

// SaveFields stores the batch atomically and reloads the field registry.
func (s *service) SaveFields(ctx context.Context, req SaveFieldsRequest) (SaveFieldsResponse, error) {
	req.Fields = append([]model.FieldDefinition(nil), req.Fields...)
	for i := range req.Fields {
		req.Fields[i].Name = strings.TrimSpace(req.Fields[i].Name)
	}
	if err := validateStruct(s.validate, req); err != nil {
		return SaveFieldsResponse{}, err
	}

	saved, newID, err := s.fields.SaveFields(ctx, req.Fields)
	if err != nil {
		return SaveFieldsResponse{}, storageError(err, apperrors.ErrCodeFieldNotFound, "failed to save fields")
	}
	s.cache.Refresh(ctx)

	s.logger.Info("Field definitions saved",
		zap.Int("count", len(saved)),
		zap.String("new_field_id", newID))
	return SaveFieldsResponse{Fields: saved, NewFieldID: newID}, nil
}

func (s *service) DeleteField(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.New(apperrors.ErrCodeBadRequest, "field id is required")
	}
	if err := s.fields.DeleteField(ctx, id); err != nil {
		return storageError(err, apperrors.ErrCodeFieldNotFound, "failed to delete field")
	}
	s.cache.Refresh(ctx)
	s.logger.Info("Field definition deleted", zap.String("field_id", id))
	return nil
}

func (s *service) ListProducts(ctx context.Context, req ListProductsRequest) ([]model.Record, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	records, err := s.products.ListProducts(ctx, model.ProductFilter{
		Website: req.Website,
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to list products")
	}
	if records == nil {
		records = []model.Record{}
	}
	return records, nil
}

// SubmitProducts reconciles and stores a scraped batch, then schedules the detail
// pass for every stored record that has a detail link. Records submitted without
// one take it from their link-kind collection properties. The stored batch is
// returned without waiting for that pass.
func (s *service) SubmitProducts(ctx context.Context, req SubmitProductsRequest) (SubmitProductsResponse, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return SubmitProductsResponse{}, err
	}
	collection := s.cache.ByScope(model.ScopeCollection)
	batch := make([]model.Record, len(req.Products))
	for i, rec := range req.Products {
		if err := checkPropertyNames(rec.Properties); err != nil {
			return SubmitProductsResponse{}, err
		}
		if req.Website != "" {
			rec.WebsiteTags = append(append([]string(nil), rec.WebsiteTags...), req.Website)
		}
		if rec.DetailLink == "" {
			rec.DetailLink = model.DetailLink(collection, rec.Properties)
		}
		batch[i] = rec
	}

	res, err := s.reconciler.UpsertBatch(ctx, batch)
	if err != nil {
		return SubmitProductsResponse{}, err
	}
	resp := SubmitProductsResponse{Products: res.Records, Summary: res.Summary}

	var ids []string
	for _, rec := range res.Records {
		if rec.DetailLink != "" {
			ids = append(ids, rec.ID)
		}
	}
	if len(ids) == 0 {
		return resp, nil
	}
	h, err := s.queue.Schedule(ctx, jobs.KindProcessProducts, ProcessProductsPayload{IDs: ids})
	if err != nil {
		// The batch is stored; the next rescan picks up its detail pages.
		s.logger.Warn("Failed to schedule detail pass", zap.Int("records", len(ids)), zap.Error(err))
		return resp, nil
	}
	resp.JobID = h.ID
	return resp, nil
}

// UpdateProduct merges operator edits into one stored record.
func (s *service) UpdateProduct(ctx context.Context, req UpdateProductRequest) (model.Record, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return model.Record{}, err
	}
	if err := checkPropertyNames(req.Record.Properties); err != nil {
		return model.Record{}, err
	}
	if _, err := s.products.GetProduct(ctx, req.ID); err != nil {
		return model.Record{}, storageError(err, apperrors.ErrCodeProductNotFound, "failed to load product")
	}

	patch := req.Record
	patch.ID = req.ID
	if patch.DetailLink == "" {
		patch.DetailLink = model.DetailLink(s.cache.ByScope(model.ScopeCollection), patch.Properties)
	}
	res, err := s.reconciler.UpsertBatch(ctx, []model.Record{patch})
	if err != nil {
		return model.Record{}, err
	}
	if len(res.Records) == 0 {
		return model.Record{}, apperrors.Newf(apperrors.ErrCodeProductNotFound, "product %s not found", req.ID)
	}
	return res.Records[0], nil
}

func (s *service) DeleteProduct(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.New(apperrors.ErrCodeBadRequest, "product id is required")
	}
	if err := s.products.DeleteProduct(ctx, id); err != nil {
		return storageError(err, apperrors.ErrCodeProductNotFound, "failed to delete product")
	}
	s.logger.Info("Product deleted", zap.String("product_id", id))
	return nil
}

func (s *service) GetJob(ctx context.Context, req GetJobRequest) (*jobs.Job, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	if req.Wait {
		return s.queue.Wait(ctx, req.ID)
	}
	return s.queue.Get(ctx, req.ID)
}

// Rescan schedules a full rescan now, or reports the one already pending.
func (s *service) Rescan(ctx context.Context) (RescanResponse, error) {
	h, err := s.queue.RunOnce(ctx, jobs.KindRescanProducts, nil)
	if err != nil {
		return RescanResponse{}, err
	}
	job, err := s.queue.Get(ctx, h.ID)
	if err != nil {
		return RescanResponse{}, err
	}
	return RescanResponse{JobID: h.ID, Status: string(job.Status)}, nil
}

// storageError maps repository sentinels to AppErrors.
func storageError(err error, notFound apperrors.ErrorCode, msg string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.Wrap(err, notFound, err.Error())
	case errors.Is(err, repository.ErrConflict):
		return apperrors.Wrap(err, apperrors.ErrCodeConflict, err.Error())
	default:
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, msg)
	}
}
