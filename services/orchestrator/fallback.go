package orchestrator

import (
	"sort"
	"sync"
)

const (
	weightFloor    = 0.01
	weightCeiling  = 1.0
	successReward  = 0.05
	failurePenalty = 0.15
)

// ProviderWeight pairs a provider name with its fallback weight. Order is
// meaningful: it is the configured priority used to break weight ties.
type ProviderWeight struct {
	Provider string
	Weight   float64
}

// FallbackChain maintains an adaptive priority ordering over providers.
// Weights move up slowly on success and down sharply on failure, so a flaky
// provider is demoted fast but never excluded: the floor keeps it eligible
// for retry once its circuit recovers.
type FallbackChain struct {
	mu      sync.Mutex
	names   []string // configuration order, for stable tie-breaking
	weights map[string]float64
}

// NewFallbackChain creates a chain from configured initial weights.
// Weights are clamped into [0.01, 1.0].
func NewFallbackChain(initial []ProviderWeight) *FallbackChain {
	c := &FallbackChain{
		weights: make(map[string]float64, len(initial)),
	}
	for _, pw := range initial {
		if _, exists := c.weights[pw.Provider]; exists {
			continue
		}
		c.names = append(c.names, pw.Provider)
		c.weights[pw.Provider] = clampWeight(pw.Weight)
	}
	return c
}

// Chain returns provider names sorted by weight descending. The sort is
// stable, so equal weights keep configuration order.
func (c *FallbackChain) Chain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	chain := make([]string, len(c.names))
	copy(chain, c.names)
	sort.SliceStable(chain, func(i, j int) bool {
		return c.weights[chain[i]] > c.weights[chain[j]]
	})
	return chain
}

// Update adjusts a provider's weight after an outcome: +0.05 on success
// capped at 1.0, -0.15 on failure floored at 0.01.
func (c *FallbackChain) Update(provider string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, exists := c.weights[provider]
	if !exists {
		return
	}
	if success {
		w += successReward
	} else {
		w -= failurePenalty
	}
	c.weights[provider] = clampWeight(w)
}

// Weight returns the current weight for a provider
func (c *FallbackChain) Weight(provider string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, exists := c.weights[provider]
	return w, exists
}

func clampWeight(w float64) float64 {
	if w < weightFloor {
		return weightFloor
	}
	if w > weightCeiling {
		return weightCeiling
	}
	return w
}
