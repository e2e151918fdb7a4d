package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testModels = []string{"model-a", "model-b"}

func validRequest() *Request {
	return &Request{
		Prompt:      "hello",
		Model:       "model-a",
		MaxTokens:   100,
		Temperature: 0.7,
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Request)
		wantCode string
	}{
		{
			name:   "valid request",
			mutate: func(r *Request) {},
		},
		{
			name:     "empty prompt",
			mutate:   func(r *Request) { r.Prompt = "" },
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "max_tokens below minimum",
			mutate:   func(r *Request) { r.MaxTokens = MinMaxTokens - 1 },
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "max_tokens above maximum",
			mutate:   func(r *Request) { r.MaxTokens = MaxMaxTokens + 1 },
			wantCode: CodeInvalidRequest,
		},
		{
			name:   "max_tokens at bounds",
			mutate: func(r *Request) { r.MaxTokens = MinMaxTokens },
		},
		{
			name: "history at limit",
			mutate: func(r *Request) {
				for i := 0; i < MaxHistoryLen; i++ {
					r.History = append(r.History, Message{Role: "user", Content: "x"})
				}
			},
		},
		{
			name: "history over limit",
			mutate: func(r *Request) {
				for i := 0; i < MaxHistoryLen+1; i++ {
					r.History = append(r.History, Message{Role: "user", Content: "x"})
				}
			},
			wantCode: CodeInvalidRequest,
		},
		{
			name: "history entry missing role",
			mutate: func(r *Request) {
				r.History = []Message{{Content: "x"}}
			},
			wantCode: CodeInvalidRequest,
		},
		{
			name: "history entry missing content",
			mutate: func(r *Request) {
				r.History = []Message{{Role: "user"}}
			},
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "unsupported model",
			mutate:   func(r *Request) { r.Model = "model-z" },
			wantCode: CodeUnsupportedModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			err := ValidateRequest(req, testModels)
			if tt.wantCode == "" {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, tt.wantCode, err.Code)
		})
	}
}

func TestValidateNilRequest(t *testing.T) {
	err := ValidateRequest(nil, testModels)

	require.NotNil(t, err)
	assert.Equal(t, CodeInvalidRequest, err.Code)
}

func TestHTTPCode(t *testing.T) {
	assert.Equal(t, "HTTP_429", HTTPCode(429))
	assert.Equal(t, "HTTP_404", HTTPCode(404))
}

func TestUsageTotalTokens(t *testing.T) {
	usage := Usage{PromptTokens: 15, CompletionTokens: 25}
	assert.Equal(t, 40, usage.TotalTokens())
}

func TestErrorString(t *testing.T) {
	err := NewError(CodeRateLimit, "too many requests")
	assert.Equal(t, "RATE_LIMIT: too many requests", err.Error())
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse("model-a", "openai", CodeAPIError, "boom", 42)

	require.NotNil(t, resp.Err)
	assert.Equal(t, "model-a", resp.Model)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, CodeAPIError, resp.Err.Code)
	assert.Equal(t, "boom", resp.Err.Message)
	assert.Equal(t, int64(42), resp.LatencyMs)
	assert.Empty(t, resp.Content)
}
