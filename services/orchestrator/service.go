package orchestrator

import (
	"context"
	"time"

	"github.com/upb/llm-orchestrator/services/metrics"
	"github.com/upb/llm-orchestrator/services/providers"
	"go.uber.org/zap"
)

// RateLimiter gates requests per (tenant, user, model). A non-nil error means
// the request is over quota; the error message is surfaced to the caller.
type RateLimiter interface {
	Check(ctx context.Context, tenantID, userID, model string) error
}

// CacheStore maps request fingerprints to previously computed responses.
// Get returns (nil, nil) on a miss.
type CacheStore interface {
	Get(ctx context.Context, key string) (*providers.Response, error)
	Set(ctx context.Context, key string, resp *providers.Response, ttl time.Duration) error
}

// Config holds orchestrator construction options
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens a
	// provider's circuit
	FailureThreshold int

	// RecoveryTimeout is how long an open circuit waits before permitting a
	// half-open trial
	RecoveryTimeout time.Duration

	// Weights are the initial fallback-chain weights in priority order
	Weights []ProviderWeight

	// CacheTTL bounds the lifetime of cached responses
	CacheTTL time.Duration

	// RaceLimit caps how many providers are raced per round (top-K of the
	// current ordering). Zero means race every eligible provider.
	RaceLimit int
}

// Service routes generation requests across providers: rate limiting, cache
// lookup, a race over the eligible provider set with losers cancelled, and
// health/weight bookkeeping for the single committed result.
type Service struct {
	registry  *providers.Registry
	chain     *FallbackChain
	states    map[string]*Breaker
	cache     CacheStore
	limiter   RateLimiter
	metrics   metrics.Sink
	cacheTTL  time.Duration
	raceLimit int
	logger    *zap.Logger
}

// New creates an orchestrator over the registered providers. Cache, limiter,
// and metrics are optional collaborators; nil disables the concern.
func New(registry *providers.Registry, cfg Config, cache CacheStore, limiter RateLimiter, sink metrics.Sink, logger *zap.Logger) *Service {
	weights := cfg.Weights
	if len(weights) == 0 {
		// No configured weights: every registered provider starts equal, in
		// registration order.
		for _, name := range registry.Names() {
			weights = append(weights, ProviderWeight{Provider: name, Weight: 1.0})
		}
	}

	states := make(map[string]*Breaker, registry.Len())
	for _, name := range registry.Names() {
		states[name] = NewBreaker(cfg.FailureThreshold, cfg.RecoveryTimeout)
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Service{
		registry:  registry,
		chain:     NewFallbackChain(weights),
		states:    states,
		cache:     cache,
		limiter:   limiter,
		metrics:   sink,
		cacheTTL:  ttl,
		raceLimit: cfg.RaceLimit,
		logger:    logger,
	}
}

// Generate runs the per-request state machine. It always returns a Response;
// failures are carried as structured errors, never raised.
func (s *Service) Generate(ctx context.Context, req *providers.Request, tenantID, userID string) *providers.Response {
	key := Fingerprint(tenantID, req)

	if s.limiter != nil {
		if err := s.limiter.Check(ctx, tenantID, userID, req.Model); err != nil {
			s.logger.Info("request rate limited",
				zap.String("tenant", tenantID),
				zap.String("model", req.Model))
			return providers.ErrorResponse(req.Model, "rate_limiter",
				providers.CodeRateLimit, err.Error(), 0)
		}
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("cache lookup failed", zap.Error(err))
		} else if cached != nil {
			if s.metrics != nil {
				s.metrics.RecordSuccess(ctx, tenantID, "cache", req.Model, cached.Usage, 0, 0)
			}
			return cached
		}
	}

	remaining := s.eligibleProviders()
	for len(remaining) > 0 {
		round := remaining
		if s.raceLimit > 0 && len(round) > s.raceLimit {
			round = round[:s.raceLimit]
		}

		winner, resp := s.race(ctx, round, req)
		if winner == "" {
			// Request context cancelled before any completion.
			return resp
		}

		// Only the received result is ever committed; cancelled losers are
		// discarded without touching health, weights, cache, or metrics.
		if resp.Err == nil {
			s.states[winner].RegisterSuccess()
			s.chain.Update(winner, true)
			if s.metrics != nil {
				s.metrics.RecordSuccess(ctx, tenantID, winner, req.Model, resp.Usage, resp.Cost, resp.LatencyMs)
			}
			if s.cache != nil && !resp.Cached {
				if err := s.cache.Set(ctx, key, resp, s.cacheTTL); err != nil {
					s.logger.Warn("cache write failed", zap.Error(err))
				}
			}
			resp.Cached = false
			resp.Provider = winner
			return resp
		}

		if resp.Err.Code == providers.CodeInvalidRequest {
			// Caller contract violation: terminal, and no provider health or
			// weight signal since no other provider would accept it either.
			return resp
		}

		s.states[winner].RegisterFailure()
		s.chain.Update(winner, false)
		if s.metrics != nil {
			s.metrics.RecordError(ctx, tenantID, winner, req.Model, resp.Err.Code)
		}
		s.logger.Warn("provider attempt failed",
			zap.String("provider", winner),
			zap.String("code", resp.Err.Code),
			zap.String("model", req.Model))

		remaining = remove(remaining, winner)
	}

	return providers.ErrorResponse(req.Model, "none",
		providers.CodeFallbackFailed, "all providers failed", 0)
}

// eligibleProviders returns the current chain ordering filtered to providers
// whose circuit permits a trial and that are actually registered.
func (s *Service) eligibleProviders() []string {
	var eligible []string
	for _, name := range s.chain.Chain() {
		state, ok := s.states[name]
		if !ok {
			continue
		}
		if state.ShouldTry() {
			eligible = append(eligible, name)
		}
	}
	return eligible
}

type raceResult struct {
	name string
	resp *providers.Response
}

// race dispatches a concurrent attempt to every named provider and returns
// the first completion, cancelling the rest. Losers that complete after
// cancellation have nowhere to deliver: the result channel holds exactly one
// value and their send falls through to the cancelled context.
func (s *Service) race(ctx context.Context, names []string, req *providers.Request) (string, *providers.Response) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan raceResult, 1)
	for _, name := range names {
		provider, err := s.registry.Get(name)
		if err != nil {
			continue
		}
		go func(name string, p providers.Provider) {
			resp := p.Generate(raceCtx, req)
			if raceCtx.Err() != nil {
				// Cancelled attempt: the outcome reflects the cancellation,
				// not the provider, so it must never be committed.
				return
			}
			select {
			case out <- raceResult{name: name, resp: resp}:
			case <-raceCtx.Done():
			}
		}(name, provider)
	}

	select {
	case r := <-out:
		return r.name, r.resp
	case <-ctx.Done():
		return "", providers.ErrorResponse(req.Model, "none",
			providers.CodeAPIError, ctx.Err().Error(), 0)
	}
}

func remove(names []string, target string) []string {
	out := names[:0]
	for _, n := range names {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

// ProviderHealth reports the outcome of a diagnostic probe
type ProviderHealth struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck probes every registered provider with a trivial synthetic
// prompt. It is independent of the dispatch path: no breaker, chain, or
// cache state is touched.
func (s *Service) HealthCheck(ctx context.Context) map[string]ProviderHealth {
	results := make(map[string]ProviderHealth, s.registry.Len())

	for _, name := range s.registry.Names() {
		provider, err := s.registry.Get(name)
		if err != nil {
			continue
		}

		models := provider.SupportedModels()
		if len(models) == 0 {
			results[name] = ProviderHealth{Status: "unhealthy", Error: "no supported models"}
			continue
		}

		probe := &providers.Request{
			Prompt:    "ping",
			Model:     models[0],
			MaxTokens: 16,
		}

		start := time.Now()
		resp := provider.Generate(ctx, probe)
		latencyMs := time.Since(start).Milliseconds()

		if resp.Err != nil {
			results[name] = ProviderHealth{Status: "unhealthy", Error: resp.Err.Error()}
			continue
		}
		results[name] = ProviderHealth{Status: "healthy", LatencyMs: latencyMs}
	}

	return results
}

// BreakerState exposes a provider's current circuit state for diagnostics
func (s *Service) BreakerState(provider string) (BreakerState, bool) {
	b, ok := s.states[provider]
	if !ok {
		return "", false
	}
	return b.State(), true
}
