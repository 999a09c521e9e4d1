package llm

import "context"

// ProviderAdapter is the interface every backend must implement.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "ollama", "groq", "openai").
	Name() string

	// Generate sends a blocking request for the given conversation and
	// returns the full response.
	Generate(ctx context.Context, messages []Message) (*Response, error)

	// StreamGenerate sends a request and returns a channel of incremental
	// chunks. The channel is closed after the final chunk (Done set) or
	// after a chunk carrying a non-nil Err.
	StreamGenerate(ctx context.Context, messages []Message) (<-chan StreamChunk, error)

	// IsAvailable probes whether the backend can currently serve requests.
	// Probes should be cheap; the gateway caches the result.
	IsAvailable(ctx context.Context) bool

	// Stats returns a snapshot of the adapter's usage counters.
	Stats() StatsSnapshot
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}
