package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/upb/llm-orchestrator/services/providers"
)

func baseRequest() *providers.Request {
	return &providers.Request{
		Prompt:      "Explain circuit breakers",
		Model:       "gpt-4-turbo",
		MaxTokens:   500,
		Temperature: 0.7,
	}
}

func TestFingerprintIsDeterministic(t *testing.T) {
	a := Fingerprint("tenant-1", baseRequest())
	b := Fingerprint("tenant-1", baseRequest())

	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "llm:v2:"))
	// 16-byte digest hex encoded
	assert.Len(t, strings.TrimPrefix(a, "llm:v2:"), 32)
}

func TestFingerprintVariesByField(t *testing.T) {
	base := Fingerprint("tenant-1", baseRequest())

	tests := []struct {
		name   string
		tenant string
		mutate func(*providers.Request)
	}{
		{name: "different tenant", tenant: "tenant-2", mutate: func(r *providers.Request) {}},
		{name: "different prompt", tenant: "tenant-1", mutate: func(r *providers.Request) { r.Prompt = "other" }},
		{name: "different model", tenant: "tenant-1", mutate: func(r *providers.Request) { r.Model = "gpt-4" }},
		{name: "different system prompt", tenant: "tenant-1", mutate: func(r *providers.Request) { r.SystemPrompt = "be terse" }},
		{name: "different temperature", tenant: "tenant-1", mutate: func(r *providers.Request) { r.Temperature = 0.8 }},
		{name: "different max tokens", tenant: "tenant-1", mutate: func(r *providers.Request) { r.MaxTokens = 600 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			tt.mutate(req)
			assert.NotEqual(t, base, Fingerprint(tt.tenant, req))
		})
	}
}

func TestFingerprintIgnoresHistoryAndMetadata(t *testing.T) {
	base := Fingerprint("tenant-1", baseRequest())

	req := baseRequest()
	req.History = []providers.Message{{Role: "user", Content: "earlier turn"}}
	req.Metadata = map[string]string{"tenant_id": "tenant-1"}

	assert.Equal(t, base, Fingerprint("tenant-1", req))
}

func TestFingerprintTruncatesLongFields(t *testing.T) {
	long := baseRequest()
	long.Prompt = strings.Repeat("a", 600)

	longer := baseRequest()
	longer.Prompt = strings.Repeat("a", 512) + "different tail"

	// Both prompts share the first 512 bytes, so they collide by design.
	assert.Equal(t, Fingerprint("tenant-1", long), Fingerprint("tenant-1", longer))

	distinct := baseRequest()
	distinct.Prompt = strings.Repeat("b", 600)
	assert.NotEqual(t, Fingerprint("tenant-1", long), Fingerprint("tenant-1", distinct))
}

func TestFingerprintTemperatureRounding(t *testing.T) {
	a := baseRequest()
	a.Temperature = 0.70001

	b := baseRequest()
	b.Temperature = 0.7

	// Temperatures equal at two decimal places share a key.
	assert.Equal(t, Fingerprint("tenant-1", a), Fingerprint("tenant-1", b))
}
