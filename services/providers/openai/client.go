package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/upb/llm-orchestrator/services/metrics"
	"github.com/upb/llm-orchestrator/services/providers"
	"go.uber.org/zap"
)

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com/v1/chat/completions"
)

// modelPricing maps model to USD price per 1K tokens
var modelPricing = map[string]float64{
	"gpt-4-turbo":   0.01,
	"gpt-4":         0.03,
	"gpt-3.5-turbo": 0.001,
}

const defaultPricePer1K = 0.01

var supportedModels = []string{"gpt-4-turbo", "gpt-4", "gpt-3.5-turbo"}

// Config holds OpenAI client configuration
type Config struct {
	// APIKey for authentication; when empty the client fails fast with NO_API_KEY
	APIKey string

	// BaseURL for the chat completions endpoint (optional override)
	BaseURL string

	// Timeout bounds each attempt
	Timeout time.Duration

	// MaxRetries is the total attempt count for transient failures
	MaxRetries int

	// RetryBackoff is the backoff base, doubled each attempt
	RetryBackoff time.Duration
}

// Client implements the Provider interface for OpenAI
type Client struct {
	config     Config
	httpClient *http.Client
	metrics    metrics.Sink
	logger     *zap.Logger
}

// New creates a new OpenAI client. The metrics sink may be nil.
func New(config Config, sink metrics.Sink, logger *zap.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		metrics: sink,
		logger:  logger,
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return providerName
}

// SupportedModels returns the models this client can serve
func (c *Client) SupportedModels() []string {
	models := make([]string, len(supportedModels))
	copy(models, supportedModels)
	return models
}

// IsAvailable reports whether an API key is configured
func (c *Client) IsAvailable() bool {
	return c.config.APIKey != ""
}

// CalculateCost computes the request cost from token usage
func (c *Client) CalculateCost(usage providers.Usage) float64 {
	pricePer1K, ok := modelPricing[usage.Model]
	if !ok {
		pricePer1K = defaultPricePer1K
	}
	return float64(usage.TotalTokens()) * pricePer1K / 1000
}

// Generate performs a completion request. All failure modes resolve to a
// structured error on the Response; nothing is raised past this boundary.
func (c *Client) Generate(ctx context.Context, req *providers.Request) *providers.Response {
	if vErr := providers.ValidateRequest(req, supportedModels); vErr != nil {
		return providers.ErrorResponse(req.Model, providerName, vErr.Code, vErr.Message, 0)
	}

	if c.config.APIKey == "" {
		return providers.ErrorResponse(req.Model, providerName,
			providers.CodeNoAPIKey, "no OpenAI API key provided", 0)
	}

	body, err := json.Marshal(c.buildPayload(req))
	if err != nil {
		return providers.ErrorResponse(req.Model, providerName,
			providers.CodeAPIError, "failed to marshal request: "+err.Error(), 0)
	}

	tenant := req.Metadata["tenant_id"]
	lastErrMsg := "request failed"

	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if !c.backoff(ctx, attempt) {
				return providers.ErrorResponse(req.Model, providerName,
					providers.CodeAPIError, ctx.Err().Error(), 0)
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, bytes.NewReader(body))
		if err != nil {
			return providers.ErrorResponse(req.Model, providerName,
				providers.CodeAPIError, "failed to create request: "+err.Error(), 0)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

		start := time.Now()
		httpResp, err := c.httpClient.Do(httpReq)
		latencyMs := time.Since(start).Milliseconds()

		if err != nil {
			// Cancelled attempts are discarded by the caller; they must not
			// emit metrics.
			if ctx.Err() != nil {
				return providers.ErrorResponse(req.Model, providerName,
					providers.CodeAPIError, ctx.Err().Error(), 0)
			}
			lastErrMsg = err.Error()
			c.recordError(ctx, tenant, req.Model, providers.CodeAPIError)
			c.logger.Warn("openai transport error",
				zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		respBody, readErr := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if readErr != nil {
			lastErrMsg = readErr.Error()
			c.recordError(ctx, tenant, req.Model, providers.CodeAPIError)
			continue
		}

		if httpResp.StatusCode >= 500 {
			lastErrMsg = apiErrorMessage(respBody)
			c.recordError(ctx, tenant, req.Model, providers.HTTPCode(httpResp.StatusCode))
			c.logger.Warn("openai server error",
				zap.Int("status", httpResp.StatusCode),
				zap.Int("attempt", attempt+1))
			continue
		}

		if httpResp.StatusCode != http.StatusOK {
			code := providers.HTTPCode(httpResp.StatusCode)
			c.recordError(ctx, tenant, req.Model, code)
			return providers.ErrorResponse(req.Model, providerName,
				code, apiErrorMessage(respBody), latencyMs)
		}

		var parsed chatResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			c.recordError(ctx, tenant, req.Model, providers.CodeAPIError)
			return providers.ErrorResponse(req.Model, providerName,
				providers.CodeAPIError, "failed to unmarshal response: "+err.Error(), latencyMs)
		}
		if len(parsed.Choices) == 0 {
			c.recordError(ctx, tenant, req.Model, providers.CodeAPIError)
			return providers.ErrorResponse(req.Model, providerName,
				providers.CodeAPIError, "empty response from provider", latencyMs)
		}

		usage := providers.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			Model:            req.Model,
		}
		cost := c.CalculateCost(usage)
		c.recordSuccess(ctx, tenant, req.Model, usage, cost, latencyMs)

		return &providers.Response{
			Content:   parsed.Choices[0].Message.Content,
			Model:     req.Model,
			Provider:  providerName,
			Usage:     usage,
			Cost:      cost,
			LatencyMs: latencyMs,
		}
	}

	return providers.ErrorResponse(req.Model, providerName,
		providers.CodeAPIError, lastErrMsg, 0)
}

// buildPayload assembles the provider-native message list: system instruction
// first, then history in order, then the prompt as the final user turn.
func (c *Client) buildPayload(req *providers.Request) *chatRequest {
	messages := make([]chatMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.History {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	return &chatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

// backoff sleeps 2^attempt times the configured base, honoring cancellation.
func (c *Client) backoff(ctx context.Context, attempt int) bool {
	timer := time.NewTimer(c.config.RetryBackoff << uint(attempt))
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) recordSuccess(ctx context.Context, tenant, model string, usage providers.Usage, cost float64, latencyMs int64) {
	if c.metrics != nil {
		c.metrics.RecordSuccess(ctx, tenant, providerName, model, usage, cost, latencyMs)
	}
}

func (c *Client) recordError(ctx context.Context, tenant, model, kind string) {
	if c.metrics != nil {
		c.metrics.RecordError(ctx, tenant, providerName, model, kind)
	}
}

func apiErrorMessage(body []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error.Message == "" {
		return string(body)
	}
	return parsed.Error.Message
}

// OpenAI-specific request/response types

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
