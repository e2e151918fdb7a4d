package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/upb/llm-orchestrator/services/orchestrator"
	"github.com/upb/llm-orchestrator/services/providers"
	"github.com/upb/llm-orchestrator/utils"
	"go.uber.org/zap"
)

const (
	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
)

// GenerateService defines the orchestrator operations the HTTP surface needs
type GenerateService interface {
	// Generate routes a request across providers and always returns a Response
	Generate(ctx context.Context, req *providers.Request, tenantID, userID string) *providers.Response

	// HealthCheck probes every registered provider
	HealthCheck(ctx context.Context) map[string]orchestrator.ProviderHealth
}

// GenerateRequest is the JSON payload accepted by POST /api/v1/generate
type GenerateRequest struct {
	TenantID     string            `json:"tenant_id" validate:"required"`
	UserID       string            `json:"user_id" validate:"required"`
	Prompt       string            `json:"prompt" validate:"required"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	History      []HistoryEntry    `json:"history,omitempty" validate:"omitempty,max=40,dive"`
	Model        string            `json:"model" validate:"required"`
	MaxTokens    int               `json:"max_tokens,omitempty" validate:"omitempty,gte=10,lte=4096"`
	Temperature  *float64          `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// HistoryEntry is a single prior conversation turn
type HistoryEntry struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// GenerateHandler handles generation-related HTTP requests
type GenerateHandler struct {
	service  GenerateService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewGenerateHandler creates a new GenerateHandler
func NewGenerateHandler(service GenerateService, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
}

// Generate handles POST /api/v1/generate
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteBadRequest(w, "invalid JSON payload", nil)
		return
	}

	if err := h.validate.Struct(&body); err != nil {
		utils.WriteBadRequest(w, "request validation failed", map[string]interface{}{
			"errors": validationMessages(err),
		})
		return
	}

	requestID := uuid.New().String()
	w.Header().Set("X-Request-ID", requestID)

	req := body.toProviderRequest()

	h.logger.Info("generation request received",
		zap.String("request_id", requestID),
		zap.String("tenant", body.TenantID),
		zap.String("model", body.Model))

	resp := h.service.Generate(r.Context(), req, body.TenantID, body.UserID)

	status := http.StatusOK
	if resp.Err != nil {
		status = statusForCode(resp.Err.Code)
		h.logger.Warn("generation request failed",
			zap.String("request_id", requestID),
			zap.String("code", resp.Err.Code))
	}

	utils.WriteJSON(w, status, resp)
}

// ProviderHealth handles GET /api/v1/providers/health
func (h *GenerateHandler) ProviderHealth(w http.ResponseWriter, r *http.Request) {
	results := h.service.HealthCheck(r.Context())
	utils.WriteJSON(w, http.StatusOK, results)
}

// toProviderRequest converts the payload to the orchestrator's request shape,
// applying defaults and stamping the tenant into metadata for downstream
// metric attribution.
func (b *GenerateRequest) toProviderRequest() *providers.Request {
	maxTokens := b.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := defaultTemperature
	if b.Temperature != nil {
		temperature = *b.Temperature
	}

	history := make([]providers.Message, len(b.History))
	for i, m := range b.History {
		history[i] = providers.Message{Role: m.Role, Content: m.Content}
	}

	metadata := make(map[string]string, len(b.Metadata)+1)
	for k, v := range b.Metadata {
		metadata[k] = v
	}
	metadata["tenant_id"] = b.TenantID

	return &providers.Request{
		Prompt:       b.Prompt,
		SystemPrompt: b.SystemPrompt,
		History:      history,
		Model:        b.Model,
		MaxTokens:    maxTokens,
		Temperature:  temperature,
		Metadata:     metadata,
	}
}

// statusForCode maps a response error code to an HTTP status
func statusForCode(code string) int {
	switch code {
	case providers.CodeRateLimit:
		return http.StatusTooManyRequests
	case providers.CodeInvalidRequest, providers.CodeUnsupportedModel:
		return http.StatusBadRequest
	case providers.CodeNoAPIKey:
		return http.StatusServiceUnavailable
	default:
		// API_ERROR, FALLBACK_FAILED, HTTP_<status>
		return http.StatusBadGateway
	}
}

func validationMessages(err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = strings.ToLower(fe.Field()) + " failed on " + fe.Tag()
	}
	return msgs
}
