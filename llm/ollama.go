package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaTimeout = 120 * time.Second
)

// OllamaConfig configures an OllamaAdapter.
type OllamaConfig struct {
	BaseURL     string        // defaults to http://localhost:11434
	Model       string        // defaults to the catalog default for ollama
	Timeout     time.Duration // per-request timeout
	Temperature float64
	NumCtx      int // context window override; 0 leaves the model default
	MaxTokens   int // num_predict; 0 leaves the model default
}

// OllamaAdapter talks to a local Ollama daemon over its native HTTP API:
// /api/tags for availability, /api/chat for generation (JSON object when
// stream is false, newline-delimited JSON chunks when true).
type OllamaAdapter struct {
	cfg    OllamaConfig
	client *http.Client
	stats  Stats
}

// NewOllamaAdapter builds an adapter for a local Ollama daemon.
func NewOllamaAdapter(cfg OllamaConfig) *OllamaAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel("ollama")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOllamaTimeout
	}
	return &OllamaAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *OllamaAdapter) Name() string { return "ollama" }

// Stats returns a snapshot of the adapter's usage counters.
func (a *OllamaAdapter) Stats() StatsSnapshot { return a.stats.Snapshot("ollama") }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Response        string `json:"response"` // /api/generate compatibility
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

// IsAvailable probes the daemon's tag list and checks that the configured
// model is present.
func (a *OllamaAdapter) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	if a.cfg.Model == "" {
		return true
	}
	want := a.cfg.Model
	for _, m := range tags.Models {
		// "qwen2.5-coder" matches "qwen2.5-coder:7b".
		if m.Name == want || strings.SplitN(m.Name, ":", 2)[0] == strings.SplitN(want, ":", 2)[0] {
			return true
		}
	}
	return false
}

// Generate sends a blocking chat request.
func (a *OllamaAdapter) Generate(ctx context.Context, messages []Message) (*Response, error) {
	start := time.Now()
	resp, err := a.chat(ctx, messages, false)
	if err != nil {
		a.stats.Record(false, 0, 0)
		return nil, err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		a.stats.Record(false, 0, 0)
		return nil, &ProviderError{
			GatewayError: GatewayError{Message: "malformed response from ollama", Cause: err},
			Provider:     "ollama",
		}
	}

	text := out.Message.Content
	if text == "" {
		text = out.Response
	}
	if strings.TrimSpace(text) == "" {
		a.stats.Record(false, 0, 0)
		return nil, &EmptyResponseError{ProviderError: ProviderError{
			GatewayError: GatewayError{Message: fmt.Sprintf("ollama returned an empty response for model %q", a.cfg.Model)},
			Provider:     "ollama",
		}}
	}

	usage := Usage{
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
		TotalTokens:  out.PromptEvalCount + out.EvalCount,
	}
	elapsed := time.Since(start)
	a.stats.Record(true, elapsed, usage.TotalTokens)

	return &Response{
		Text:     text,
		Model:    a.cfg.Model,
		Provider: "ollama",
		Usage:    usage,
		Duration: elapsed,
	}, nil
}

// StreamGenerate sends a streaming chat request. Chunks arrive as
// newline-delimited JSON objects; the one with done=true is last.
func (a *OllamaAdapter) StreamGenerate(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	start := time.Now()
	resp, err := a.chat(ctx, messages, true)
	if err != nil {
		a.stats.Record(false, 0, 0)
		return nil, err
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		tokens := 0
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue // skip malformed keep-alive lines
			}
			if chunk.Error != "" {
				a.stats.Record(false, 0, 0)
				ch <- StreamChunk{Err: &ProviderError{
					GatewayError: GatewayError{Message: chunk.Error},
					Provider:     "ollama",
				}}
				return
			}

			text := chunk.Message.Content
			if text == "" {
				text = chunk.Response
			}
			if chunk.Done {
				usage := Usage{
					InputTokens:  chunk.PromptEvalCount,
					OutputTokens: chunk.EvalCount,
					TotalTokens:  chunk.PromptEvalCount + chunk.EvalCount,
				}
				tokens += usage.TotalTokens
				a.stats.Record(true, time.Since(start), tokens)
				ch <- StreamChunk{Text: text, Done: true, Usage: &usage}
				return
			}
			ch <- StreamChunk{Text: text}
		}
		if err := scanner.Err(); err != nil {
			a.stats.Record(false, 0, 0)
			ch <- StreamChunk{Err: a.transportError(err)}
		}
	}()

	return ch, nil
}

// chat issues the POST and converts HTTP-level failures into typed errors.
func (a *OllamaAdapter) chat(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	options := map[string]any{}
	if a.cfg.Temperature > 0 {
		options["temperature"] = a.cfg.Temperature
	}
	if a.cfg.NumCtx > 0 {
		options["num_ctx"] = a.cfg.NumCtx
	}
	if a.cfg.MaxTokens > 0 {
		options["num_predict"] = a.cfg.MaxTokens
	}
	if len(options) == 0 {
		options = nil
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    a.cfg.Model,
		Messages: messages,
		Stream:   stream,
		Options:  options,
	})
	if err != nil {
		return nil, &GatewayError{Message: "failed to encode ollama request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &GatewayError{Message: "failed to build ollama request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.transportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := readErrorBody(resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, &ModelNotFoundError{ProviderError: ProviderError{
				GatewayError: GatewayError{Message: fmt.Sprintf("model %q not found; pull it with: ollama pull %s", a.cfg.Model, a.cfg.Model)},
				Provider:     "ollama",
				StatusCode:   404,
			}}
		}
		return nil, ErrorFromStatusCode(resp.StatusCode, msg, "ollama", nil)
	}
	return resp, nil
}

func (a *OllamaAdapter) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &RequestTimeoutError{GatewayError: GatewayError{
			Message: fmt.Sprintf("ollama request timed out after %s", a.cfg.Timeout),
			Cause:   err,
		}}
	}
	return &NetworkError{GatewayError: GatewayError{
		Message: "cannot reach ollama; is the daemon running? (ollama serve)",
		Cause:   err,
	}}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "request failed"
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = "request failed"
	}
	return msg
}
