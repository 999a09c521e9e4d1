package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patcode-ai/patcode/llm"
)

// scriptedGenerator replays canned responses in order. When the script
// runs out, the last response repeats.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	seen      [][]llm.Message
}

func (g *scriptedGenerator) GenerateResponse(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	copied := make([]llm.Message, len(messages))
	copy(copied, messages)
	g.seen = append(g.seen, copied)

	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i >= len(g.responses) {
		i = len(g.responses) - 1
	}
	return &llm.Response{Text: g.responses[i], Provider: "mock"}, nil
}

func writeFileCall(path string) string {
	return `{"tool": "write_file", "arguments": {"path": "` + path + `", "content": "x"}}`
}

func TestLoopImmediateFinalize(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"The answer is 42."}}
	loop := NewLoop(gen, NewDefaultRegistry(NewLocalEnv(t.TempDir())))

	result, err := loop.Run(context.Background(), "what is the answer?")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinalized, result.Outcome)
	assert.Equal(t, "The answer is 42.", result.FinalText)
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, result.ToolCalls)
}

func TestLoopToolCallThenFinalize(t *testing.T) {
	env := NewLocalEnv(t.TempDir())
	gen := &scriptedGenerator{responses: []string{
		writeFileCall("hello.txt"),
		"Created the file.",
	}}
	loop := NewLoop(gen, NewDefaultRegistry(env))

	result, err := loop.Run(context.Background(), "create hello.txt")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinalized, result.Outcome)
	assert.Equal(t, 2, result.Iterations)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, 1, result.ToolCalls[0].Iteration)
	assert.True(t, result.ToolCalls[0].Result.Success)
	assert.True(t, env.FileExists("hello.txt"))

	// The tool result went back to the model as a user message.
	lastConversation := gen.seen[len(gen.seen)-1]
	last := lastConversation[len(lastConversation)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Contains(t, last.Content, `Tool "write_file" succeeded`)
}

func TestLoopIterationCeiling(t *testing.T) {
	// The model never stops calling tools; the run ends at exactly
	// maxIterations model calls.
	gen := &scriptedGenerator{responses: []string{writeFileCall("a.txt")}}
	loop := NewLoop(gen, NewDefaultRegistry(NewLocalEnv(t.TempDir())), WithMaxIterations(3))

	result, err := loop.Run(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIterationLimit, result.Outcome)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, 3, gen.calls)
	assert.Len(t, result.ToolCalls, 3)
	// The terminal text tells the user how to recover, not whatever the
	// model said last.
	assert.Contains(t, result.FinalText, "maximum of 3 iterations")
	assert.Contains(t, result.FinalText, "breaking the task into smaller pieces")
}

func TestLoopToolFailureIsNotFatal(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"tool": "read_file", "arguments": {"path": "missing.go"}}`,
		"That file does not exist.",
	}}
	loop := NewLoop(gen, NewDefaultRegistry(NewLocalEnv(t.TempDir())))

	result, err := loop.Run(context.Background(), "read missing.go")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinalized, result.Outcome)
	require.Len(t, result.ToolCalls, 1)
	assert.False(t, result.ToolCalls[0].Result.Success)

	lastConversation := gen.seen[len(gen.seen)-1]
	last := lastConversation[len(lastConversation)-1]
	assert.Contains(t, last.Content, `Tool "read_file" failed`)
}

func TestLoopEmptyResponseIsFatal(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"   \n"}}
	loop := NewLoop(gen, NewDefaultRegistry(NewLocalEnv(t.TempDir())))

	_, err := loop.Run(context.Background(), "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyModelResponse)
}

func TestLoopGeneratorErrorIsFatal(t *testing.T) {
	gen := &scriptedGenerator{
		responses: []string{""},
		errs:      []error{errors.New("connection refused")},
	}
	loop := NewLoop(gen, NewDefaultRegistry(NewLocalEnv(t.TempDir())))

	_, err := loop.Run(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLoopRepeatWarningInFeedback(t *testing.T) {
	call := `{"tool": "read_file", "arguments": {"path": "same.go"}}`
	gen := &scriptedGenerator{responses: []string{call, call, call, "giving up"}}
	env := NewLocalEnv(t.TempDir())
	require.NoError(t, env.WriteFile("same.go", "package same"))
	loop := NewLoop(gen, NewDefaultRegistry(env))

	result, err := loop.Run(context.Background(), "read same.go repeatedly")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinalized, result.Outcome)

	// After the third identical call the feedback carries a warning.
	fourth := gen.seen[3]
	last := fourth[len(fourth)-1]
	assert.Contains(t, last.Content, "identical arguments 3 times in a row")

	// The second identical call does not warn yet.
	third := gen.seen[2]
	assert.NotContains(t, third[len(third)-1].Content, "identical arguments")
}

func TestLoopHistoryAndStatistics(t *testing.T) {
	env := NewLocalEnv(t.TempDir())
	gen := &scriptedGenerator{responses: []string{
		writeFileCall("a.txt"),
		`{"tool": "read_file", "arguments": {"path": "nope.txt"}}`,
		"done",
	}}
	loop := NewLoop(gen, NewDefaultRegistry(env))

	_, err := loop.Run(context.Background(), "do things")
	require.NoError(t, err)

	history := loop.ToolHistory()
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Iteration)
	assert.Equal(t, "write_file", history[0].Call.Name)
	assert.Equal(t, 2, history[1].Iteration)
	assert.Equal(t, "read_file", history[1].Call.Name)

	stats := loop.Statistics()
	assert.Equal(t, 3, stats.Iterations)
	assert.Equal(t, 2, stats.ToolCalls)
	assert.Equal(t, 1, stats.Successes)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.ByTool["write_file"])
}

func TestLoopHistorySurvivesIterationLimit(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{writeFileCall("b.txt")}}
	loop := NewLoop(gen, NewDefaultRegistry(NewLocalEnv(t.TempDir())), WithMaxIterations(2))

	result, err := loop.Run(context.Background(), "never finish")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIterationLimit, result.Outcome)
	assert.Len(t, loop.ToolHistory(), 2)
	assert.Equal(t, 2, loop.Statistics().Iterations)
}

func TestLoopRejectsConcurrentRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce sync.Once
	gen := generatorFunc(func(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
		startedOnce.Do(func() { close(started) })
		<-release
		return &llm.Response{Text: "done"}, nil
	})
	loop := NewLoop(gen, NewDefaultRegistry(NewLocalEnv(t.TempDir())))

	done := make(chan error, 1)
	go func() {
		_, err := loop.Run(context.Background(), "slow")
		done <- err
	}()

	<-started
	_, err := loop.Run(context.Background(), "second")
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)

	// The loop is reusable once the first run finishes.
	_, err = loop.Run(context.Background(), "third")
	require.NoError(t, err)
}

// generatorFunc adapts a function to the Generator interface.
type generatorFunc func(ctx context.Context, messages []llm.Message) (*llm.Response, error)

func (f generatorFunc) GenerateResponse(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	return f(ctx, messages)
}

func TestLoopEmitsEvents(t *testing.T) {
	emitter := NewEventEmitter("run-1", 64)
	gen := &scriptedGenerator{responses: []string{writeFileCall("c.txt"), "done"}}
	loop := NewLoop(gen, NewDefaultRegistry(NewLocalEnv(t.TempDir())), WithEmitter(emitter))

	_, err := loop.Run(context.Background(), "emit")
	require.NoError(t, err)
	emitter.Close()

	kinds := map[EventKind]int{}
	for event := range emitter.Events() {
		kinds[event.Kind]++
		assert.NotEmpty(t, event.ID)
		assert.Equal(t, "run-1", event.RunID)
	}
	assert.Equal(t, 1, kinds[EventRunStart])
	assert.Equal(t, 1, kinds[EventRunEnd])
	assert.Equal(t, 2, kinds[EventIterationStart])
	assert.Equal(t, 1, kinds[EventToolCall])
	assert.Equal(t, 1, kinds[EventToolResult])
}
