package endpoint

import (
	"context"
	"errors"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/service"
	"github.com/go-kit/kit/endpoint"
)

var errInvalidRequest = errors.New("invalid request")

// Endpoints holds all Go-Kit endpoints.
type Endpoints struct {
	ListFields     endpoint.Endpoint
	SaveFields     endpoint.Endpoint
	DeleteField    endpoint.Endpoint
	ListProducts   endpoint.Endpoint
	SubmitProducts endpoint.Endpoint
	UpdateProduct  endpoint.Endpoint
	DeleteProduct  endpoint.Endpoint
	GetJob         endpoint.Endpoint
	Rescan         endpoint.Endpoint
	CheckHealth    endpoint.Endpoint
}

// IDRequest addresses a single resource by path id.
type IDRequest struct {
	ID string
}

// DeletedResponse acknowledges a delete.
type DeletedResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// MakeEndpoints creates endpoints for the service.
func MakeEndpoints(s service.Service, h service.HealthService) Endpoints {
	return Endpoints{
		ListFields:     makeListFieldsEndpoint(s),
		SaveFields:     makeSaveFieldsEndpoint(s),
		DeleteField:    makeDeleteFieldEndpoint(s),
		ListProducts:   makeListProductsEndpoint(s),
		SubmitProducts: makeSubmitProductsEndpoint(s),
		UpdateProduct:  makeUpdateProductEndpoint(s),
		DeleteProduct:  makeDeleteProductEndpoint(s),
		GetJob:         makeGetJobEndpoint(s),
		Rescan:         makeRescanEndpoint(s),
		CheckHealth:    makeCheckHealthEndpoint(h),
	}
}

func makeListFieldsEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		return s.ListFields(ctx)
	}
}

func makeSaveFieldsEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(service.SaveFieldsRequest)
		if !ok {
			return nil, errInvalidRequest
		}
		return s.SaveFields(ctx, req)
	}
}

func makeDeleteFieldEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(IDRequest)
		if !ok {
			return nil, errInvalidRequest
		}
		if err := s.DeleteField(ctx, req.ID); err != nil {
			return nil, err
		}
		return DeletedResponse{ID: req.ID, Deleted: true}, nil
	}
}

func makeListProductsEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(service.ListProductsRequest)
		if !ok {
			return nil, errInvalidRequest
		}
		return s.ListProducts(ctx, req)
	}
}

func makeSubmitProductsEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(service.SubmitProductsRequest)
		if !ok {
			return nil, errInvalidRequest
		}
		return s.SubmitProducts(ctx, req)
	}
}

func makeUpdateProductEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(service.UpdateProductRequest)
		if !ok {
			return nil, errInvalidRequest
		}
		return s.UpdateProduct(ctx, req)
	}
}

func makeDeleteProductEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(IDRequest)
		if !ok {
			return nil, errInvalidRequest
		}
		if err := s.DeleteProduct(ctx, req.ID); err != nil {
			return nil, err
		}
		return DeletedResponse{ID: req.ID, Deleted: true}, nil
	}
}

func makeGetJobEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(service.GetJobRequest)
		if !ok {
			return nil, errInvalidRequest
		}
		return s.GetJob(ctx, req)
	}
}

func makeRescanEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		return s.Rescan(ctx)
	}
}

func makeCheckHealthEndpoint(h service.HealthService) endpoint.Endpoint {
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		return h.CheckHealth(ctx), nil
	}
}
