package middleware

import (
	"mime"
	"net/http"

	apperrors "github.com/DolevBitran/dynamic-products-scraper/pkg/errors"
	"go.uber.org/zap"
)

// DefaultMaxBodySize bounds request bodies when no limit is configured. Listing
// pages submitted inline can be large.
const DefaultMaxBodySize = 8 << 20

// ValidationConfig holds validation configuration
type ValidationConfig struct {
	MaxBodySize int64
	Logger      *zap.Logger
}

// RequestValidation rejects oversized bodies and non-JSON payloads on writes.
func RequestValidation(config ValidationConfig) func(http.Handler) http.Handler {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	logger := orNop(config.Logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > config.MaxBodySize {
				logger.Warn("Request body too large",
					zap.Int64("content_length", r.ContentLength),
					zap.Int64("max_size", config.MaxBodySize),
					zap.String("path", r.URL.Path))
				WriteError(w, r, apperrors.Newf(apperrors.ErrCodeRequestTooLarge,
					"request body exceeds %d bytes", config.MaxBodySize))
				return
			}

			if r.ContentLength != 0 {
				if ct := r.Header.Get("Content-Type"); ct != "" {
					mediaType, _, err := mime.ParseMediaType(ct)
					if err != nil || mediaType != "application/json" {
						WriteError(w, r, apperrors.New(apperrors.ErrCodeBadRequest, "content type must be application/json"))
						return
					}
				}
			}

			r.Body = http.MaxBytesReader(w, r.Body, config.MaxBodySize)
			next.ServeHTTP(w, r)
		})
	}
}
