package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	apperrors "github.com/DolevBitran/dynamic-products-scraper/pkg/errors"
	"go.uber.org/zap"
)

// responseWriter wraps http.ResponseWriter to capture the status and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(data)
	rw.size += size
	return size, err
}

// Hijack implements http.Hijacker interface
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// RequestLogging middleware logs one line per completed request
func RequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = orNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			fields := []zap.Field{
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("remote_addr", remoteIP(r)),
				zap.Int("status_code", wrapped.statusCode),
				zap.Int("response_size", wrapped.size),
				zap.Duration("duration", duration),
			}

			switch {
			case wrapped.statusCode >= 500:
				logger.Error("HTTP response", fields...)
			case wrapped.statusCode >= 400:
				logger.Warn("HTTP response", fields...)
			default:
				logger.Info("HTTP response", fields...)
			}
		})
	}
}

// Recovery middleware turns handler panics into 500 responses
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = orNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("HTTP handler panic",
						zap.String("request_id", RequestIDFromContext(r.Context())),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Any("panic", err),
						zap.Stack("stack"),
					)
					WriteError(w, r, apperrors.New(apperrors.ErrCodeInternal, "internal error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
