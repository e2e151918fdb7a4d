package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-orchestrator/services/providers"
	"go.uber.org/zap"
)

func testConfig(baseURL string) Config {
	return Config{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		Timeout:      5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}
}

func validRequest() *providers.Request {
	return &providers.Request{
		Prompt:      "Hello",
		Model:       "gpt-4-turbo",
		MaxTokens:   100,
		Temperature: 0.7,
	}
}

func completionBody(content string, promptTokens, completionTokens int) string {
	resp := chatResponse{
		ID:    "chatcmpl-123",
		Model: "gpt-4-turbo",
		Choices: []chatChoice{
			{Message: chatMessage{Role: "assistant", Content: content}, FinishReason: "stop"},
		},
		Usage: chatUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
	body, _ := json.Marshal(resp)
	return string(body)
}

func TestGenerateSuccess(t *testing.T) {
	var gotAuth string
	var gotPayload chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionBody("Hi there!", 10, 20)))
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil, zap.NewNop())
	resp := client.Generate(context.Background(), validRequest())

	require.Nil(t, resp.Err)
	assert.Equal(t, "Hi there!", resp.Content)
	assert.Equal(t, "gpt-4-turbo", resp.Model)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, 10, resp.Usage.PromptTokens)
	assert.Equal(t, 20, resp.Usage.CompletionTokens)
	assert.InDelta(t, 30*0.01/1000, resp.Cost, 1e-9)
	assert.False(t, resp.Cached)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gpt-4-turbo", gotPayload.Model)
	require.Len(t, gotPayload.Messages, 1)
	assert.Equal(t, "user", gotPayload.Messages[0].Role)
	assert.Equal(t, "Hello", gotPayload.Messages[0].Content)
}

func TestGenerateBuildsMessageOrder(t *testing.T) {
	var gotPayload chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(completionBody("ok", 1, 1)))
	}))
	defer server.Close()

	req := validRequest()
	req.SystemPrompt = "Be concise"
	req.History = []providers.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
	}

	client := New(testConfig(server.URL), nil, zap.NewNop())
	resp := client.Generate(context.Background(), req)

	require.Nil(t, resp.Err)
	require.Len(t, gotPayload.Messages, 4)
	assert.Equal(t, chatMessage{Role: "system", Content: "Be concise"}, gotPayload.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "first"}, gotPayload.Messages[1])
	assert.Equal(t, chatMessage{Role: "assistant", Content: "second"}, gotPayload.Messages[2])
	assert.Equal(t, chatMessage{Role: "user", Content: "Hello"}, gotPayload.Messages[3])
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"upstream exploded"}}`))
			return
		}
		w.Write([]byte(completionBody("recovered", 5, 5)))
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil, zap.NewNop())
	resp := client.Generate(context.Background(), validRequest())

	require.Nil(t, resp.Err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestGenerateExhaustsRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"message":"bad gateway"}}`))
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil, zap.NewNop())
	resp := client.Generate(context.Background(), validRequest())

	require.NotNil(t, resp.Err)
	assert.Equal(t, providers.CodeAPIError, resp.Err.Code)
	assert.Equal(t, "bad gateway", resp.Err.Message)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestGenerateClientErrorDoesNotRetry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil, zap.NewNop())
	resp := client.Generate(context.Background(), validRequest())

	require.NotNil(t, resp.Err)
	assert.Equal(t, "HTTP_401", resp.Err.Code)
	assert.Equal(t, "invalid api key", resp.Err.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestGenerateNoAPIKey(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.APIKey = ""
	client := New(cfg, nil, zap.NewNop())
	resp := client.Generate(context.Background(), validRequest())

	require.NotNil(t, resp.Err)
	assert.Equal(t, providers.CodeNoAPIKey, resp.Err.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(&attempts))
	assert.False(t, client.IsAvailable())
}

func TestGenerateValidationFailsBeforeNetwork(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
	}))
	defer server.Close()

	tests := []struct {
		name     string
		mutate   func(*providers.Request)
		wantCode string
	}{
		{
			name:     "max_tokens below minimum",
			mutate:   func(r *providers.Request) { r.MaxTokens = 5 },
			wantCode: providers.CodeInvalidRequest,
		},
		{
			name:     "empty prompt",
			mutate:   func(r *providers.Request) { r.Prompt = "" },
			wantCode: providers.CodeInvalidRequest,
		},
		{
			name:     "unsupported model",
			mutate:   func(r *providers.Request) { r.Model = "claude-3-opus" },
			wantCode: providers.CodeUnsupportedModel,
		},
	}

	client := New(testConfig(server.URL), nil, zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			resp := client.Generate(context.Background(), req)

			require.NotNil(t, resp.Err)
			assert.Equal(t, tt.wantCode, resp.Err.Code)
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&attempts))
}

func TestGenerateContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and can
		// observe the client disconnect; otherwise the context is never
		// cancelled and Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	resp := client.Generate(ctx, validRequest())

	require.NotNil(t, resp.Err)
	assert.Equal(t, providers.CodeAPIError, resp.Err.Code)
}

func TestCalculateCost(t *testing.T) {
	client := New(Config{APIKey: "k"}, nil, zap.NewNop())

	tests := []struct {
		name     string
		usage    providers.Usage
		expected float64
	}{
		{
			name:     "gpt-4-turbo",
			usage:    providers.Usage{PromptTokens: 500, CompletionTokens: 500, Model: "gpt-4-turbo"},
			expected: 0.01,
		},
		{
			name:     "gpt-4",
			usage:    providers.Usage{PromptTokens: 1000, CompletionTokens: 0, Model: "gpt-4"},
			expected: 0.03,
		},
		{
			name:     "gpt-3.5-turbo",
			usage:    providers.Usage{PromptTokens: 1000, CompletionTokens: 1000, Model: "gpt-3.5-turbo"},
			expected: 0.002,
		},
		{
			name:     "unknown model uses default price",
			usage:    providers.Usage{PromptTokens: 1000, CompletionTokens: 0, Model: "mystery"},
			expected: 0.01,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, client.CalculateCost(tt.usage), 1e-9)
		})
	}
}

func TestNameAndSupportedModels(t *testing.T) {
	client := New(Config{APIKey: "k"}, nil, zap.NewNop())

	assert.Equal(t, "openai", client.Name())
	assert.Equal(t, []string{"gpt-4-turbo", "gpt-4", "gpt-3.5-turbo"}, client.SupportedModels())
}
