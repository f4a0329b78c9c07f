package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/DolevBitran/dynamic-products-scraper/api"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/endpoint"
	apperrors "github.com/DolevBitran/dynamic-products-scraper/pkg/errors"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/metrics"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/middleware"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/service"
	"github.com/go-kit/kit/transport"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	APIKey            string
	MaxBodySize       int64
	RequestsPerSecond float64
	BurstSize         int
	TrustedProxies    []string
	Logger            *zap.Logger
	AllowedOrigins    []string
	Metrics           *metrics.Metrics
}

// NewHTTPHandler sets up HTTP handlers for the endpoints with middleware.
func NewHTTPHandler(endpoints endpoint.Endpoints, config HTTPConfig) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	options := []httptransport.ServerOption{
		httptransport.ServerErrorEncoder(encodeError),
		httptransport.ServerErrorHandler(transport.ErrorHandlerFunc(func(ctx context.Context, err error) {
			if apperrors.CodeOf(err) == apperrors.ErrCodeInternal {
				logger.Error("Request failed",
					zap.String("request_id", middleware.RequestIDFromContext(ctx)),
					zap.Error(err))
			}
		})),
	}
	server := func(e func(context.Context, interface{}) (interface{}, error), dec httptransport.DecodeRequestFunc) http.Handler {
		return httptransport.NewServer(e, dec, encodeResponse, options...)
	}

	r := mux.NewRouter()
	r.Use(metrics.Middleware(config.Metrics))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, apperrors.Newf(apperrors.ErrCodeNotFound, "no route for %s", req.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		err := apperrors.Newf(apperrors.ErrCodeBadRequest, "method %s not allowed", req.Method)
		err.HTTPStatus = http.StatusMethodNotAllowed
		middleware.WriteError(w, req, err)
	})

	// Health check, metrics and the API description (no authentication required)
	r.Methods(http.MethodGet).Path("/health").Handler(httptransport.NewServer(
		endpoints.CheckHealth, decodeEmpty, encodeHealth, options...))
	r.Methods(http.MethodGet).Path("/metrics").Handler(config.Metrics.Handler())
	r.Methods(http.MethodGet).Path("/openapi.yaml").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(api.OpenAPI)
	})

	r.Methods(http.MethodGet).Path("/fields").Handler(server(endpoints.ListFields, decodeEmpty))
	r.Methods(http.MethodPost).Path("/fields").Handler(server(endpoints.SaveFields, decodeSaveFieldsRequest))
	r.Methods(http.MethodDelete).Path("/fields/{id}").Handler(server(endpoints.DeleteField, decodeIDRequest))

	r.Methods(http.MethodGet).Path("/products").Handler(server(endpoints.ListProducts, decodeListProductsRequest))
	r.Methods(http.MethodPost).Path("/products").Handler(server(endpoints.SubmitProducts, decodeSubmitProductsRequest))
	r.Methods(http.MethodPut).Path("/products/{id}").Handler(server(endpoints.UpdateProduct, decodeUpdateProductRequest))
	r.Methods(http.MethodDelete).Path("/products/{id}").Handler(server(endpoints.DeleteProduct, decodeIDRequest))

	r.Methods(http.MethodGet).Path("/jobs/{id}").Handler(server(endpoints.GetJob, decodeGetJobRequest))
	r.Methods(http.MethodPost).Path("/rescan").Handler(server(endpoints.Rescan, decodeEmpty))

	// Apply middleware in reverse order (last applied = first executed)
	var handler http.Handler = r
	handler = middleware.RequestValidation(middleware.ValidationConfig{
		MaxBodySize: config.MaxBodySize,
		Logger:      logger,
	})(handler)
	handler = middleware.APIKeyAuth(middleware.AuthConfig{
		APIKey: config.APIKey,
		Logger: logger,
	})(handler)
	handler = middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: config.RequestsPerSecond,
		BurstSize:         config.BurstSize,
		TrustedProxies:    config.TrustedProxies,
		Logger:            logger,
	})(handler)
	handler = middleware.RequestLogging(logger)(handler)
	handler = middleware.Recovery(logger)(handler)
	handler = middleware.CORS(config.AllowedOrigins)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID()(handler)

	return handler
}

func decodeEmpty(_ context.Context, _ *http.Request) (interface{}, error) {
	return nil, nil
}

func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &tooLarge):
		return apperrors.Wrap(err, apperrors.ErrCodeRequestTooLarge, "request body too large")
	case errors.Is(err, io.EOF):
		return apperrors.New(apperrors.ErrCodeBadRequest, "request body is empty")
	default:
		return apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "malformed JSON body").WithDetails(err.Error())
	}
}

func decodeSaveFieldsRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req service.SaveFieldsRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeIDRequest(_ context.Context, r *http.Request) (interface{}, error) {
	return endpoint.IDRequest{ID: mux.Vars(r)["id"]}, nil
}

func decodeListProductsRequest(_ context.Context, r *http.Request) (interface{}, error) {
	query := r.URL.Query()
	req := service.ListProductsRequest{Website: query.Get("website")}

	var err error
	if req.Limit, err = intParam(query.Get("limit")); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, "limit must be an integer")
	}
	if req.Offset, err = intParam(query.Get("offset")); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, "offset must be an integer")
	}
	return req, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func decodeSubmitProductsRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req service.SubmitProductsRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

// decodeUpdateProductRequest reads a flat record body; the path id wins over any
// id in the body.
func decodeUpdateProductRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var rec model.Record
	if err := decodeJSON(r, &rec); err != nil {
		return nil, err
	}
	return service.UpdateProductRequest{ID: mux.Vars(r)["id"], Record: rec}, nil
}

func decodeGetJobRequest(_ context.Context, r *http.Request) (interface{}, error) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return service.GetJobRequest{ID: mux.Vars(r)["id"], Wait: wait}, nil
}

func encodeResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(response)
}

func encodeHealth(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	if h, ok := response.(service.HealthResponse); ok && h.Status == service.HealthStatusUnhealthy {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		return json.NewEncoder(w).Encode(response)
	}
	return encodeResponse(ctx, w, response)
}

func encodeError(ctx context.Context, err error, w http.ResponseWriter) {
	r := (&http.Request{}).WithContext(ctx)
	middleware.WriteError(w, r, err)
}
