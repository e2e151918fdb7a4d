package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/upb/llm-orchestrator/services/providers"
	"golang.org/x/crypto/blake2b"
)

// fingerprintNamespace versions the cache key space; bump it whenever the
// derivation below changes.
const fingerprintNamespace = "llm:v2:"

const (
	maxTenantLen = 32
	maxModelLen  = 32
	maxPromptLen = 512
	maxSystemLen = 256
)

// Fingerprint derives the deterministic cache key for a request. Fields are
// truncated to bound key cardinality, serialized with stable key order, then
// hashed twice (SHA-256 followed by a 16-byte BLAKE2b digest of that digest)
// so raw prompt content never appears in the key.
func Fingerprint(tenantID string, req *providers.Request) string {
	payload := map[string]string{
		"tenant":        truncate(tenantID, maxTenantLen),
		"model":         truncate(req.Model, maxModelLen),
		"prompt":        truncate(req.Prompt, maxPromptLen),
		"system_prompt": truncate(req.SystemPrompt, maxSystemLen),
		"params":        fmt.Sprintf("%.2f:%d", req.Temperature, req.MaxTokens),
	}

	// encoding/json marshals map keys in sorted order.
	serialized, _ := json.Marshal(payload)

	base := sha256.Sum256(serialized)
	short, _ := blake2b.New(16, nil)
	short.Write(base[:])

	return fingerprintNamespace + hex.EncodeToString(short.Sum(nil))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
