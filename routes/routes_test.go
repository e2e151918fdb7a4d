package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/upb/llm-orchestrator/handlers"
	"github.com/upb/llm-orchestrator/services/orchestrator"
	"github.com/upb/llm-orchestrator/services/providers"
	"go.uber.org/zap"
)

type stubService struct{}

func (stubService) Generate(_ context.Context, req *providers.Request, _, _ string) *providers.Response {
	return &providers.Response{Content: "ok", Model: req.Model, Provider: "openai"}
}

func (stubService) HealthCheck(context.Context) map[string]orchestrator.ProviderHealth {
	return map[string]orchestrator.ProviderHealth{"openai": {Status: "healthy"}}
}

func newTestRouter() http.Handler {
	return Setup(handlers.NewGenerateHandler(stubService{}, zap.NewNop()))
}

func TestRoutes(t *testing.T) {
	router := newTestRouter()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{
			name:       "healthz",
			method:     http.MethodGet,
			path:       "/healthz",
			wantStatus: http.StatusOK,
		},
		{
			name:       "generate",
			method:     http.MethodPost,
			path:       "/api/v1/generate",
			body:       `{"tenant_id":"t1","user_id":"u1","prompt":"hi","model":"gpt-4-turbo"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "provider health",
			method:     http.MethodGet,
			path:       "/api/v1/providers/health",
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown route",
			method:     http.MethodGet,
			path:       "/api/v1/unknown",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "wrong method",
			method:     http.MethodGet,
			path:       "/api/v1/generate",
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *strings.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			} else {
				body = strings.NewReader("")
			}

			req := httptest.NewRequest(tt.method, tt.path, body)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestGenerateSetsRequestIDHeader(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate",
		strings.NewReader(`{"tenant_id":"t1","user_id":"u1","prompt":"hi","model":"gpt-4-turbo"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
