package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patcode-ai/patcode/llm"
)

// Outcome says how a run terminated.
type Outcome string

const (
	// OutcomeFinalized means the model answered in plain text with no
	// tool call, which is the normal end of a run.
	OutcomeFinalized Outcome = "finalized"
	// OutcomeIterationLimit means the iteration ceiling was hit while
	// the model was still calling tools.
	OutcomeIterationLimit Outcome = "iteration_limit_reached"
)

// DefaultMaxIterations is the per-run tool-call ceiling.
const DefaultMaxIterations = 5

// ErrEmptyModelResponse terminates a run when the model produces blank
// output; there is nothing to parse and nothing to show.
var ErrEmptyModelResponse = errors.New("model returned an empty response")

// ErrRunInProgress is returned when Run is called while another run is
// active on the same loop.
var ErrRunInProgress = errors.New("a run is already in progress on this loop")

// Generator produces one model response for a conversation. *llm.Gateway
// satisfies it.
type Generator interface {
	GenerateResponse(ctx context.Context, messages []llm.Message) (*llm.Response, error)
}

// ToolRecord is one executed tool call in a run's history.
type ToolRecord struct {
	Iteration int           `json:"iteration"` // 1-based
	Call      ToolCall      `json:"call"`
	Result    ToolResult    `json:"result"`
	Duration  time.Duration `json:"duration"`
}

// RunResult is the terminal outcome of one Run.
type RunResult struct {
	Outcome    Outcome      `json:"outcome"`
	FinalText  string       `json:"final_text"`
	Iterations int          `json:"iterations"`
	ToolCalls  []ToolRecord `json:"tool_calls"`
}

// RunStatistics summarizes tool usage across the most recent run.
type RunStatistics struct {
	Iterations int            `json:"iterations"`
	ToolCalls  int            `json:"tool_calls"`
	Successes  int            `json:"successes"`
	Failures   int            `json:"failures"`
	ByTool     map[string]int `json:"by_tool"`
}

// Loop drives the think/act cycle: ask the model, detect a tool call,
// execute it, feed the result back, repeat until the model answers in
// plain text or the iteration ceiling is hit. Tool failures are folded
// into feedback and never terminate the run; only transport-level
// failures and empty responses do.
type Loop struct {
	gen           Generator
	registry      *ToolRegistry
	maxIterations int
	emitter       *EventEmitter

	mu      sync.Mutex
	running bool

	history    []ToolRecord
	iterations int
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxIterations overrides the tool-call ceiling.
func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithEmitter attaches an event emitter for run observability.
func WithEmitter(e *EventEmitter) LoopOption {
	return func(l *Loop) {
		l.emitter = e
	}
}

// NewLoop creates a loop over a generator and a tool registry.
func NewLoop(gen Generator, registry *ToolRegistry, opts ...LoopOption) *Loop {
	l := &Loop{
		gen:           gen,
		registry:      registry,
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes one instruction to completion. A Loop runs one
// instruction at a time; concurrent calls get ErrRunInProgress. History
// and statistics from the run stay queryable afterwards, whatever the
// outcome.
func (l *Loop) Run(ctx context.Context, instruction string) (*RunResult, error) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil, ErrRunInProgress
	}
	l.running = true
	l.history = nil
	l.iterations = 0
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	l.emitter.Emit(EventRunStart, map[string]any{"instruction": instruction})

	messages := []llm.Message{
		llm.SystemMessage(BuildToolContext(l.registry)),
		llm.UserMessage(instruction),
	}

	var detector repeatDetector

	for iteration := 1; ; iteration++ {
		// Ceiling check comes before any work, so maxIterations model
		// calls is the hard upper bound.
		if iteration > l.maxIterations {
			l.emitter.Emit(EventRunEnd, map[string]any{"outcome": string(OutcomeIterationLimit)})
			return l.finish(OutcomeIterationLimit, iterationLimitMessage(l.maxIterations)), nil
		}
		l.setIterations(iteration)
		l.emitter.Emit(EventIterationStart, map[string]any{"iteration": iteration})

		resp, err := l.gen.GenerateResponse(ctx, messages)
		if err != nil {
			l.emitter.Emit(EventError, map[string]any{"error": err.Error()})
			return nil, fmt.Errorf("model call failed on iteration %d: %w", iteration, err)
		}
		text := resp.Text
		if strings.TrimSpace(text) == "" {
			l.emitter.Emit(EventError, map[string]any{"error": ErrEmptyModelResponse.Error()})
			return nil, fmt.Errorf("iteration %d: %w", iteration, ErrEmptyModelResponse)
		}
		l.emitter.Emit(EventModelResponse, map[string]any{"iteration": iteration, "length": len(text)})
		messages = append(messages, llm.AssistantMessage(text))

		call, ok := Extract(text)
		if !ok {
			l.emitter.Emit(EventRunEnd, map[string]any{"outcome": string(OutcomeFinalized)})
			return l.finish(OutcomeFinalized, text), nil
		}

		l.emitter.Emit(EventToolCall, map[string]any{
			"iteration": iteration,
			"tool":      call.Name,
			"arguments": call.Arguments,
		})

		start := time.Now()
		result := l.registry.Execute(ctx, call.Name, call.Arguments)
		elapsed := time.Since(start)

		l.appendRecord(ToolRecord{
			Iteration: iteration,
			Call:      call,
			Result:    result,
			Duration:  elapsed,
		})
		l.emitter.Emit(EventToolResult, map[string]any{
			"iteration": iteration,
			"tool":      call.Name,
			"success":   result.Success,
		})

		feedback := RenderFeedback(call, result)
		if streak := detector.Observe(call); detector.Repeating() {
			feedback += repeatWarning(call, streak)
			l.emitter.Emit(EventRepeatedCall, map[string]any{"tool": call.Name, "streak": streak})
		}
		messages = append(messages, llm.UserMessage(feedback))
	}
}

// iterationLimitMessage is the terminal answer when the ceiling is hit
// while the model is still calling tools.
func iterationLimitMessage(max int) string {
	return fmt.Sprintf("Reached the maximum of %d iterations without a final answer. Try breaking the task into smaller pieces.", max)
}

func (l *Loop) setIterations(n int) {
	l.mu.Lock()
	l.iterations = n
	l.mu.Unlock()
}

func (l *Loop) appendRecord(rec ToolRecord) {
	l.mu.Lock()
	l.history = append(l.history, rec)
	l.mu.Unlock()
}

func (l *Loop) finish(outcome Outcome, finalText string) *RunResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	calls := make([]ToolRecord, len(l.history))
	copy(calls, l.history)
	return &RunResult{
		Outcome:    outcome,
		FinalText:  finalText,
		Iterations: l.iterations,
		ToolCalls:  calls,
	}
}

// ToolHistory returns the tool calls of the most recent run in execution
// order.
func (l *Loop) ToolHistory() []ToolRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ToolRecord, len(l.history))
	copy(out, l.history)
	return out
}

// Statistics summarizes the most recent run.
func (l *Loop) Statistics() RunStatistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := RunStatistics{
		Iterations: l.iterations,
		ToolCalls:  len(l.history),
		ByTool:     make(map[string]int),
	}
	for _, rec := range l.history {
		stats.ByTool[rec.Call.Name]++
		if rec.Result.Success {
			stats.Successes++
		} else {
			stats.Failures++
		}
	}
	return stats
}
