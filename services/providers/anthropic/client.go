package anthropic

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
	providerName    = "anthropic"
	defaultBaseURL  = "https://api.anthropic.com/v1/messages"
	anthropicAPIVer = "2023-06-01"
)

// modelPricing maps model to USD price per 1K tokens
var modelPricing = map[string]float64{
	"claude-3-opus":   0.015,
	"claude-3-sonnet": 0.003,
}

const defaultPricePer1K = 0.003

var supportedModels = []string{"claude-3-opus", "claude-3-sonnet"}

// Config holds Anthropic client configuration
type Config struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client implements the Provider interface for Anthropic
type Client struct {
	config     Config
	httpClient *http.Client
	metrics    metrics.Sink
	logger     *zap.Logger
}

// New creates a new Anthropic client. The metrics sink may be nil.
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
// structured error on the Response.
func (c *Client) Generate(ctx context.Context, req *providers.Request) *providers.Response {
	if vErr := providers.ValidateRequest(req, supportedModels); vErr != nil {
		return providers.ErrorResponse(req.Model, providerName, vErr.Code, vErr.Message, 0)
	}

	if c.config.APIKey == "" {
		return providers.ErrorResponse(req.Model, providerName,
			providers.CodeNoAPIKey, "no Anthropic API key provided", 0)
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
		httpReq.Header.Set("x-api-key", c.config.APIKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVer)

		start := time.Now()
		httpResp, err := c.httpClient.Do(httpReq)
		latencyMs := time.Since(start).Milliseconds()

		if err != nil {
			if ctx.Err() != nil {
				return providers.ErrorResponse(req.Model, providerName,
					providers.CodeAPIError, ctx.Err().Error(), 0)
			}
			lastErrMsg = err.Error()
			c.recordError(ctx, tenant, req.Model, providers.CodeAPIError)
			c.logger.Warn("anthropic transport error",
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
			// Codes and messages only, never payloads.
			c.logger.Warn("anthropic server error",
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

		var parsed messagesResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			c.recordError(ctx, tenant, req.Model, providers.CodeAPIError)
			return providers.ErrorResponse(req.Model, providerName,
				providers.CodeAPIError, "failed to unmarshal response: "+err.Error(), latencyMs)
		}
		if len(parsed.Content) == 0 {
			c.recordError(ctx, tenant, req.Model, providers.CodeAPIError)
			return providers.ErrorResponse(req.Model, providerName,
				providers.CodeAPIError, "empty response from provider", latencyMs)
		}

		usage := providers.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			Model:            req.Model,
		}
		cost := c.CalculateCost(usage)
		c.recordSuccess(ctx, tenant, req.Model, usage, cost, latencyMs)

		return &providers.Response{
			Content:   parsed.Content[0].Text,
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

// buildPayload assembles the Anthropic messages payload. The system
// instruction rides the top-level system field; history precedes the prompt.
func (c *Client) buildPayload(req *providers.Request) *messagesRequest {
	msgs := make([]message, 0, len(req.History)+1)
	for _, m := range req.History {
		msgs = append(msgs, message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, message{Role: "user", Content: req.Prompt})

	return &messagesRequest{
		Model:       req.Model,
		System:      req.SystemPrompt,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

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

// Anthropic-specific request/response types

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
	Usage   usageBlock     `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usageBlock struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
