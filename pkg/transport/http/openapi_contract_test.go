package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/DolevBitran/dynamic-products-scraper/api"
	apperrors "github.com/DolevBitran/dynamic-products-scraper/pkg/errors"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadOpenAPI(t *testing.T) *openapi3.T {
	t.Helper()
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(api.OpenAPI)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	return doc
}

func TestOpenAPIDocumentIsServed(t *testing.T) {
	h := newTestHandler(&fakeService{}, HTTPConfig{APIKey: "secret"})

	rec := do(t, h, http.MethodGet, "/openapi.yaml", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(api.OpenAPI), rec.Body.String())
}

func TestOpenAPIDocumentedRoutesExist(t *testing.T) {
	doc := loadOpenAPI(t)
	h := newTestHandler(&fakeService{}, HTTPConfig{})

	for path, item := range doc.Paths {
		target := strings.ReplaceAll(path, "{id}", "job-1")
		for method := range item.Operations() {
			rec := do(t, h, method, target, "{}")
			assert.NotEqual(t, http.StatusNotFound, rec.Code, "%s %s", method, path)
			assert.NotEqual(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", method, path)
		}
	}
}

func TestResponsesMatchOpenAPI(t *testing.T) {
	doc := loadOpenAPI(t)
	validationFailure := apperrors.NewValidationError("request validation failed", nil).
		AddField("fields[0].selector", "is required", "")

	tests := []struct {
		name     string
		svc      *fakeService
		method   string
		target   string
		path     string
		body     string
		wantCode int
	}{
		{name: "list fields", method: http.MethodGet, target: "/fields", path: "/fields", wantCode: http.StatusOK},
		{
			name: "save fields", method: http.MethodPost, target: "/fields", path: "/fields",
			body:     `{"fields":[{"fieldName":"title","selector":".t, h2","contentType":"text","scrapeType":"category"}]}`,
			wantCode: http.StatusOK,
		},
		{
			name: "save fields rejected", svc: &fakeService{saveErr: validationFailure},
			method: http.MethodPost, target: "/fields", path: "/fields",
			body:     `{"fields":[{"fieldName":"title","selector":"","contentType":"text","scrapeType":"category"}]}`,
			wantCode: http.StatusBadRequest,
		},
		{name: "delete field", method: http.MethodDelete, target: "/fields/f1", path: "/fields/{id}", wantCode: http.StatusOK},
		{name: "delete unknown field", method: http.MethodDelete, target: "/fields/missing", path: "/fields/{id}", wantCode: http.StatusNotFound},
		{name: "list products", method: http.MethodGet, target: "/products?website=shop-1", path: "/products", wantCode: http.StatusOK},
		{
			name: "submit products", method: http.MethodPost, target: "/products", path: "/products",
			body:     `{"products":[{"title":"Mug","detailLink":"https://x/mug","websiteTags":["shop-1"]}],"website":"shop-1"}`,
			wantCode: http.StatusOK,
		},
		{
			name: "update product", method: http.MethodPut, target: "/products/p1", path: "/products/{id}",
			body: `{"price":"9"}`, wantCode: http.StatusOK,
		},
		{name: "delete product", method: http.MethodDelete, target: "/products/p1", path: "/products/{id}", wantCode: http.StatusOK},
		{name: "get job", method: http.MethodGet, target: "/jobs/job-1?wait=true", path: "/jobs/{id}", wantCode: http.StatusOK},
		{name: "unknown job", method: http.MethodGet, target: "/jobs/nope", path: "/jobs/{id}", wantCode: http.StatusNotFound},
		{name: "rescan", method: http.MethodPost, target: "/rescan", path: "/rescan", wantCode: http.StatusOK},
		{name: "health", method: http.MethodGet, target: "/health", path: "/health", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := tt.svc
			if svc == nil {
				svc = &fakeService{}
			}
			item := doc.Paths.Find(tt.path)
			require.NotNil(t, item, "path %s is not documented", tt.path)
			op := item.GetOperation(tt.method)
			require.NotNil(t, op, "%s %s is not documented", tt.method, tt.path)

			if tt.body != "" && op.RequestBody != nil {
				var reqBody any
				require.NoError(t, json.Unmarshal([]byte(tt.body), &reqBody))
				schema := op.RequestBody.Value.Content.Get("application/json").Schema.Value
				assert.NoError(t, schema.VisitJSON(reqBody), "request body")
			}

			rec := do(t, newTestHandler(svc, HTTPConfig{}), tt.method, tt.target, tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			ref := op.Responses.Get(rec.Code)
			if ref == nil {
				ref = op.Responses.Default()
			}
			require.NotNil(t, ref, "status %d is not documented", rec.Code)
			media := ref.Value.Content.Get("application/json")
			require.NotNil(t, media)

			var respBody any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &respBody))
			assert.NoError(t, media.Schema.Value.VisitJSON(respBody), "response body")
		})
	}
}
