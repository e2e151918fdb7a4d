package providers

import (
	"context"
	"fmt"
)

// Request bounds shared by all providers.
const (
	MinMaxTokens  = 10
	MaxMaxTokens  = 4096
	MaxHistoryLen = 40
)

// Error codes surfaced on a Response. 4xx provider rejections use HTTPCode.
const (
	CodeNoAPIKey         = "NO_API_KEY"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeUnsupportedModel = "UNSUPPORTED_MODEL"
	CodeAPIError         = "API_ERROR"
	CodeRateLimit        = "RATE_LIMIT"
	CodeFallbackFailed   = "FALLBACK_FAILED"
)

// HTTPCode returns the error code for a provider-side HTTP rejection,
// e.g. HTTP_429.
func HTTPCode(status int) string {
	return fmt.Sprintf("HTTP_%d", status)
}

// Provider represents a remote text-generation backend.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "anthropic")
	Name() string

	// Generate performs a completion request. It never returns a Go error:
	// every failure mode resolves to a structured error on the Response.
	Generate(ctx context.Context, req *Request) *Response

	// SupportedModels returns the models this provider can serve
	SupportedModels() []string

	// IsAvailable reports whether the provider has a usable credential
	IsAvailable() bool

	// CalculateCost computes the request cost in USD from token usage
	CalculateCost(usage Usage) float64
}

// Request represents a unified text-generation request.
// It is immutable once constructed; providers must not modify it.
type Request struct {
	// Prompt is the current user turn (required, non-empty)
	Prompt string `json:"prompt"`

	// SystemPrompt is an optional system instruction sent first
	SystemPrompt string `json:"system_prompt,omitempty"`

	// History is the prior conversation, oldest first, at most MaxHistoryLen entries
	History []Message `json:"history,omitempty"`

	// Model identifier (e.g., "gpt-4-turbo", "claude-3-sonnet")
	Model string `json:"model"`

	// MaxTokens limits the response length (MinMaxTokens..MaxMaxTokens)
	MaxTokens int `json:"max_tokens"`

	// Temperature controls randomness
	Temperature float64 `json:"temperature"`

	// Metadata for tracking and logging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Message represents a single turn in a conversation.
type Message struct {
	// Role is "system", "user", or "assistant"
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`
}

// Response represents a unified completion result. Exactly one of
// {Content non-empty, Err non-nil} holds on any terminal response.
type Response struct {
	// Content is the generated text
	Content string `json:"content"`

	// Model actually used
	Model string `json:"model"`

	// Provider that served the request
	Provider string `json:"provider"`

	// Usage statistics, tagged with the model for cost reporting
	Usage Usage `json:"usage"`

	// Cost in USD computed from Usage
	Cost float64 `json:"cost,omitempty"`

	// LatencyMs is the observed request latency in milliseconds
	LatencyMs int64 `json:"latency_ms"`

	// Cached reports whether this response came from the cache
	Cached bool `json:"cached"`

	// Err carries the structured failure, nil on success
	Err *Error `json:"error,omitempty"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	// Model tags the usage for downstream cost calculation
	Model string `json:"model,omitempty"`
}

// TotalTokens is the sum of prompt and completion tokens.
func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// Error is a structured provider failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// NewError creates a structured provider error
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ErrorResponse builds a terminal Response carrying only a structured error.
func ErrorResponse(model, provider, code, message string, latencyMs int64) *Response {
	return &Response{
		Model:     model,
		Provider:  provider,
		LatencyMs: latencyMs,
		Err:       NewError(code, message),
	}
}

// ValidateRequest checks the caller contract shared by all providers.
// A nil return means the request may be sent to the network.
func ValidateRequest(req *Request, supported []string) *Error {
	if req == nil {
		return NewError(CodeInvalidRequest, "request is nil")
	}
	if req.Prompt == "" {
		return NewError(CodeInvalidRequest, "prompt is empty")
	}
	if req.MaxTokens < MinMaxTokens || req.MaxTokens > MaxMaxTokens {
		return NewError(CodeInvalidRequest,
			fmt.Sprintf("max_tokens must be between %d and %d", MinMaxTokens, MaxMaxTokens))
	}
	if len(req.History) > MaxHistoryLen {
		return NewError(CodeInvalidRequest,
			fmt.Sprintf("history exceeds %d entries", MaxHistoryLen))
	}
	for _, m := range req.History {
		if m.Role == "" || m.Content == "" {
			return NewError(CodeInvalidRequest, "history entries must have role and content")
		}
	}
	for _, m := range supported {
		if m == req.Model {
			return nil
		}
	}
	return NewError(CodeUnsupportedModel,
		fmt.Sprintf("model %s is not supported by this provider", req.Model))
}
