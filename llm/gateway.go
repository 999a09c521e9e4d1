package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultAvailabilityTTL = 60 * time.Second

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	// DefaultProvider is tried first when selecting the initial provider.
	DefaultProvider string
	// FallbackOrder is the sequence of provider names consulted after a
	// failure. Empty means registration order.
	FallbackOrder []string
	// AutoFallback enables failover to the next provider when a generate
	// call fails. When off, the first provider's error is returned as-is.
	AutoFallback bool
	// AvailabilityTTL bounds how long a cached availability probe is
	// trusted. Zero means the 60s default.
	AvailabilityTTL time.Duration
	// RateLimitCalls / RateLimitPeriod bound calls admitted through
	// Generate. Zero calls disables the limiter.
	RateLimitCalls  int
	RateLimitPeriod time.Duration
	// Retry is applied to the current provider before fallback kicks in.
	// The zero value means DefaultRetryPolicy.
	Retry *RetryPolicy
}

type availabilityEntry struct {
	available bool
	checkedAt time.Time
}

// Gateway multiplexes generation across registered provider adapters. It
// owns the current-provider pointer, a TTL cache of availability probes,
// the failover sequence, and a sliding-window rate limit on Generate.
// All state is mutex-guarded; one gateway may serve several loops.
type Gateway struct {
	mu           sync.Mutex
	adapters     map[string]ProviderAdapter
	order        []string // registration order
	current      string
	selected     bool
	availability map[string]availabilityEntry

	cfg     GatewayConfig
	ttl     time.Duration
	retry   RetryPolicy
	limiter *SlidingWindowLimiter
	now     func() time.Time
}

// NewGateway creates a gateway with no adapters registered.
func NewGateway(cfg GatewayConfig) *Gateway {
	ttl := cfg.AvailabilityTTL
	if ttl <= 0 {
		ttl = defaultAvailabilityTTL
	}
	retry := DefaultRetryPolicy()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	g := &Gateway{
		adapters:     make(map[string]ProviderAdapter),
		availability: make(map[string]availabilityEntry),
		cfg:          cfg,
		ttl:          ttl,
		retry:        retry,
		now:          time.Now,
	}
	if cfg.RateLimitCalls > 0 {
		period := cfg.RateLimitPeriod
		if period <= 0 {
			period = time.Minute
		}
		g.limiter = NewSlidingWindowLimiter(cfg.RateLimitCalls, period)
	}
	return g
}

// Register adds a provider adapter. Registering a name twice replaces the
// earlier adapter.
func (g *Gateway) Register(adapter ProviderAdapter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name := adapter.Name()
	if _, exists := g.adapters[name]; !exists {
		g.order = append(g.order, name)
	}
	g.adapters[name] = adapter
	delete(g.availability, name)
}

// CurrentProvider returns the name of the provider the next Generate call
// will use, or "" when none has been selected yet.
func (g *Gateway) CurrentProvider() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Providers returns all registered provider names in registration order.
func (g *Gateway) Providers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// AvailableProviders force-probes every registered provider and returns
// the names of those currently reachable.
func (g *Gateway) AvailableProviders(ctx context.Context) []string {
	var available []string
	for _, name := range g.Providers() {
		if g.isAvailable(ctx, name, false) {
			available = append(available, name)
		}
	}
	return available
}

// SwitchProvider makes name the current provider after a forced
// availability probe.
func (g *Gateway) SwitchProvider(ctx context.Context, name string) error {
	g.mu.Lock()
	_, exists := g.adapters[name]
	g.mu.Unlock()
	if !exists {
		return &ConfigurationError{GatewayError: GatewayError{
			Message: fmt.Sprintf("unknown provider %q", name),
		}}
	}
	if !g.isAvailable(ctx, name, false) {
		return &ConfigurationError{GatewayError: GatewayError{
			Message: fmt.Sprintf("provider %q is not available", name),
		}}
	}
	g.mu.Lock()
	g.current = name
	g.selected = true
	g.mu.Unlock()
	return nil
}

// Generate sends the conversation to the current provider and returns the
// response text. On failure it retries per the retry policy, then walks
// the fallback order (forced availability probe per candidate, failed
// provider excluded); the first success becomes the new current provider.
// When every candidate fails, a single FallbackExhaustedError aggregates
// the attempts.
func (g *Gateway) Generate(ctx context.Context, messages []Message) (string, error) {
	resp, err := g.GenerateResponse(ctx, messages)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// GenerateResponse is Generate with the full response (model, usage,
// timing) instead of just the text.
func (g *Gateway) GenerateResponse(ctx context.Context, messages []Message) (*Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Acquire(); err != nil {
			return nil, err
		}
	}

	name, adapter, err := g.currentAdapter(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := Retry(ctx, g.retry, func(ctx context.Context) (*Response, error) {
		return adapter.Generate(ctx, messages)
	})
	if err == nil {
		return resp, nil
	}

	g.markUnavailable(name)

	if !g.cfg.AutoFallback {
		return nil, err
	}
	return g.fallback(ctx, name, err, messages)
}

// StreamGenerate streams from the current provider. There is no failover
// mid-stream: chunks may already have been delivered, so a stream error
// surfaces to the caller.
func (g *Gateway) StreamGenerate(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	_, adapter, err := g.currentAdapter(ctx)
	if err != nil {
		return nil, err
	}
	return adapter.StreamGenerate(ctx, messages)
}

// GatewayStats summarizes gateway and per-provider state.
type GatewayStats struct {
	CurrentProvider    string                   `json:"current_provider"`
	AllProviders       []string                 `json:"all_providers"`
	AvailableProviders []string                 `json:"available_providers"`
	AutoFallback       bool                     `json:"auto_fallback"`
	ProviderStats      map[string]StatsSnapshot `json:"provider_stats"`
}

// Stats force-probes availability and returns a snapshot of every
// provider's counters.
func (g *Gateway) Stats(ctx context.Context) GatewayStats {
	stats := GatewayStats{
		CurrentProvider:    g.CurrentProvider(),
		AllProviders:       g.Providers(),
		AvailableProviders: g.AvailableProviders(ctx),
		AutoFallback:       g.cfg.AutoFallback,
		ProviderStats:      make(map[string]StatsSnapshot),
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, adapter := range g.adapters {
		stats.ProviderStats[name] = adapter.Stats()
	}
	return stats
}

// Close releases adapters that hold resources.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var firstErr error
	for _, adapter := range g.adapters {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// currentAdapter resolves the current provider, selecting the initial one
// on first use: the configured default if available, then the fallback
// order, then whatever local daemon is registered as a last resort.
func (g *Gateway) currentAdapter(ctx context.Context) (string, ProviderAdapter, error) {
	g.mu.Lock()
	if len(g.adapters) == 0 {
		g.mu.Unlock()
		return "", nil, &ConfigurationError{GatewayError: GatewayError{
			Message: "no providers registered; configure at least one LLM backend",
		}}
	}
	if g.selected && g.current != "" {
		adapter := g.adapters[g.current]
		name := g.current
		g.mu.Unlock()
		return name, adapter, nil
	}
	g.mu.Unlock()

	if name := g.selectInitialProvider(ctx); name != "" {
		g.mu.Lock()
		g.current = name
		g.selected = true
		adapter := g.adapters[name]
		g.mu.Unlock()
		return name, adapter, nil
	}

	return "", nil, &ConfigurationError{GatewayError: GatewayError{
		Message: "no LLM provider is currently available",
	}}
}

func (g *Gateway) selectInitialProvider(ctx context.Context) string {
	if g.cfg.DefaultProvider != "" && g.has(g.cfg.DefaultProvider) {
		if g.isAvailable(ctx, g.cfg.DefaultProvider, true) {
			return g.cfg.DefaultProvider
		}
	}
	for _, name := range g.fallbackOrder() {
		if g.has(name) && g.isAvailable(ctx, name, true) {
			return name
		}
	}
	// Last resort: a local daemon answers even when its probe just failed
	// (it may be starting up).
	if g.has("ollama") {
		return "ollama"
	}
	return ""
}

// fallback walks the candidates after failed errored, force-probing each.
func (g *Gateway) fallback(ctx context.Context, failed string, cause error, messages []Message) (*Response, error) {
	attempts := map[string]error{failed: cause}

	for _, name := range g.fallbackOrder() {
		if name == failed || !g.has(name) {
			continue
		}
		if !g.isAvailable(ctx, name, false) {
			attempts[name] = &ConfigurationError{GatewayError: GatewayError{
				Message: "not available",
			}}
			continue
		}

		g.mu.Lock()
		adapter := g.adapters[name]
		g.mu.Unlock()

		resp, err := adapter.Generate(ctx, messages)
		if err != nil {
			attempts[name] = err
			g.markUnavailable(name)
			continue
		}

		g.mu.Lock()
		g.current = name
		g.selected = true
		g.mu.Unlock()
		return resp, nil
	}

	return nil, &FallbackExhaustedError{
		GatewayError: GatewayError{
			Message: "all providers failed",
			Cause:   cause,
		},
		Attempts: attempts,
	}
}

func (g *Gateway) fallbackOrder() []string {
	if len(g.cfg.FallbackOrder) > 0 {
		return g.cfg.FallbackOrder
	}
	return g.Providers()
}

func (g *Gateway) has(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.adapters[name]
	return ok
}

// isAvailable consults the TTL cache unless useCache is false, probing the
// adapter and refreshing the cache on a miss.
func (g *Gateway) isAvailable(ctx context.Context, name string, useCache bool) bool {
	g.mu.Lock()
	adapter, ok := g.adapters[name]
	if !ok {
		g.mu.Unlock()
		return false
	}
	if useCache {
		if entry, cached := g.availability[name]; cached && g.now().Sub(entry.checkedAt) < g.ttl {
			g.mu.Unlock()
			return entry.available
		}
	}
	g.mu.Unlock()

	available := adapter.IsAvailable(ctx)

	g.mu.Lock()
	g.availability[name] = availabilityEntry{available: available, checkedAt: g.now()}
	g.mu.Unlock()
	return available
}

// markUnavailable drops the cached availability for a provider that just
// failed, so the next probe is a real one.
func (g *Gateway) markUnavailable(name string) {
	g.mu.Lock()
	delete(g.availability, name)
	g.mu.Unlock()
}
