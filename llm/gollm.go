package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/teilomillet/gollm"
)

// HostedAdapter wraps a gollm.LLM instance for a hosted chat-completions
// backend (Groq or OpenAI) and implements ProviderAdapter.
type HostedAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
	hasKey   bool
	stats    Stats
}

// HostedAdapterOption configures a HostedAdapter.
type HostedAdapterOption func(*hostedAdapterConfig)

type hostedAdapterConfig struct {
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithModel sets the model for the adapter.
func WithModel(model string) HostedAdapterOption {
	return func(c *hostedAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) HostedAdapterOption {
	return func(c *hostedAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) HostedAdapterOption {
	return func(c *hostedAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) HostedAdapterOption {
	return func(c *hostedAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewHostedAdapter creates an adapter for the given hosted provider
// ("groq" or "openai"). If apiKey is empty, gollm reads it from the
// provider's environment variable; the adapter then reports itself
// unavailable until a key is configured.
func NewHostedAdapter(provider string, apiKey string, opts ...HostedAdapterOption) (*HostedAdapter, error) {
	cfg := &hostedAdapterConfig{
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		model = DefaultModel(provider)
	}
	if model == "" {
		return nil, &ConfigurationError{GatewayError: GatewayError{
			Message: fmt.Sprintf("no model configured and no catalog default for provider %q", provider),
		}}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // the gateway owns retry policy
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, &ConfigurationError{GatewayError: GatewayError{
			Message: fmt.Sprintf("failed to create %s client", provider),
			Cause:   err,
		}}
	}

	return &HostedAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
		hasKey:   apiKey != "",
	}, nil
}

func (a *HostedAdapter) Name() string { return a.provider }

// Stats returns a snapshot of the adapter's usage counters.
func (a *HostedAdapter) Stats() StatsSnapshot { return a.stats.Snapshot(a.provider) }

// IsAvailable reports whether the adapter has credentials to work with.
// Hosted backends have no cheap unauthenticated probe, so a configured
// key is taken as available and real failures surface on generate.
func (a *HostedAdapter) IsAvailable(ctx context.Context) bool {
	return a.hasKey && a.llm != nil
}

// Generate sends a blocking request and returns the full response.
func (a *HostedAdapter) Generate(ctx context.Context, messages []Message) (*Response, error) {
	start := time.Now()
	prompt := a.translateMessages(messages)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		a.stats.Record(false, 0, 0)
		return nil, a.translateError(err)
	}
	if strings.TrimSpace(text) == "" {
		a.stats.Record(false, 0, 0)
		return nil, &EmptyResponseError{ProviderError: ProviderError{
			GatewayError: GatewayError{Message: fmt.Sprintf("%s returned an empty response", a.provider)},
			Provider:     a.provider,
		}}
	}

	// gollm does not expose usage counts; estimate from text length.
	usage := Usage{
		InputTokens:  estimateTokens(messages),
		OutputTokens: len(text) / 4,
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	elapsed := time.Since(start)
	a.stats.Record(true, elapsed, usage.TotalTokens)

	return &Response{
		Text:     text,
		Model:    a.model,
		Provider: a.provider,
		Usage:    usage,
		Duration: elapsed,
	}, nil
}

// StreamGenerate streams the response token by token. When the underlying
// client cannot stream, the full response is emitted as a single chunk.
func (a *HostedAdapter) StreamGenerate(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	prompt := a.translateMessages(messages)
	start := time.Now()
	ch := make(chan StreamChunk, 16)

	if !a.llm.SupportsStreaming() {
		go func() {
			defer close(ch)
			text, err := a.llm.Generate(ctx, prompt)
			if err != nil {
				a.stats.Record(false, 0, 0)
				ch <- StreamChunk{Err: a.translateError(err)}
				return
			}
			a.stats.Record(true, time.Since(start), len(text)/4)
			ch <- StreamChunk{Text: text, Done: true}
		}()
		return ch, nil
	}

	stream, err := a.llm.Stream(ctx, prompt)
	if err != nil {
		a.stats.Record(false, 0, 0)
		return nil, a.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		total := 0
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				a.stats.Record(false, 0, 0)
				ch <- StreamChunk{Err: a.translateError(err)}
				return
			}
			if token == nil {
				continue
			}
			total += len(token.Text)
			ch <- StreamChunk{Text: token.Text}
		}
		a.stats.Record(true, time.Since(start), total/4)
		ch <- StreamChunk{Done: true}
	}()

	return ch, nil
}

// translateMessages flattens an ordered conversation into a gollm Prompt,
// splitting leading system content out as the system prompt.
func (a *HostedAdapter) translateMessages(messages []Message) *gollm.Prompt {
	var systemPrompt string
	var parts []string

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt += msg.Content + "\n"
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// translateError converts a gollm error into the typed taxonomy. gollm
// surfaces provider failures as flat strings, so classification is by
// message content.
func (a *HostedAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)

	switch {
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid api key") || strings.Contains(msgLower, "invalid key"):
		return &AuthenticationError{ProviderError: ProviderError{
			GatewayError: GatewayError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 401,
		}}
	case strings.Contains(msgLower, "404") || strings.Contains(msgLower, "model not found") || strings.Contains(msgLower, "does not exist"):
		return &ModelNotFoundError{ProviderError: ProviderError{
			GatewayError: GatewayError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 404,
		}}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		return &RateLimitError{ProviderError: ProviderError{
			GatewayError: GatewayError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 429, Retryable: true,
		}}
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens") || strings.Contains(msgLower, "maximum context"):
		return &ContextLengthError{ProviderError: ProviderError{
			GatewayError: GatewayError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 413,
		}}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server") || strings.Contains(msgLower, "503") || strings.Contains(msgLower, "overloaded"):
		return &ServerError{ProviderError: ProviderError{
			GatewayError: GatewayError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 500, Retryable: true,
		}}
	case strings.Contains(msgLower, "timeout") || strings.Contains(msgLower, "deadline exceeded"):
		return &RequestTimeoutError{GatewayError: GatewayError{Message: msg, Cause: err}}
	case strings.Contains(msgLower, "connection refused") || strings.Contains(msgLower, "no such host"):
		return &NetworkError{GatewayError: GatewayError{Message: msg, Cause: err}}
	default:
		return &ProviderError{
			GatewayError: GatewayError{Message: msg, Cause: err},
			Provider:     a.provider,
			Retryable:    true,
		}
	}
}

// estimateTokens provides a rough token count from the conversation.
func estimateTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content) / 4
	}
	if total == 0 {
		total = 10
	}
	return total
}
