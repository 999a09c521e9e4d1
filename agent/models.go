package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task or of one of its steps.
type TaskStatus string

const (
	TaskPending            TaskStatus = "pending"
	TaskInProgress         TaskStatus = "in_progress"
	TaskCompleted          TaskStatus = "completed"
	TaskFailed             TaskStatus = "failed"
	TaskRequiresHumanInput TaskStatus = "requires_human_input"
)

// StepType classifies what a plan step is for. Analysis steps are
// advisory: their failure does not abort the current plan.
type StepType string

const (
	StepAnalysis       StepType = "analysis"
	StepPlanning       StepType = "planning"
	StepCodeGeneration StepType = "code_generation"
	StepFileOperation  StepType = "file_operation"
	StepShellCommand   StepType = "shell_command"
	StepTesting        StepType = "testing"
	StepDebugging      StepType = "debugging"
	StepReflection     StepType = "reflection"
)

var stepTypes = map[StepType]bool{
	StepAnalysis: true, StepPlanning: true, StepCodeGeneration: true,
	StepFileOperation: true, StepShellCommand: true, StepTesting: true,
	StepDebugging: true, StepReflection: true,
}

// ParseStepType maps free-form model output onto a known step type,
// defaulting to analysis.
func ParseStepType(s string) StepType {
	t := StepType(strings.ToLower(strings.TrimSpace(s)))
	if stepTypes[t] {
		return t
	}
	return StepAnalysis
}

// Step is one unit of a plan. A step with a tool name is dispatched
// directly through the registry with ToolInput as arguments; a step
// without one is handed to the agentic loop as an instruction.
type Step struct {
	Type           StepType       `json:"type"`
	Description    string         `json:"description"`
	ToolName       string         `json:"tool_name,omitempty"`
	ToolInput      map[string]any `json:"tool_input,omitempty"`
	ExpectedOutput string         `json:"expected_output,omitempty"`

	Status     TaskStatus `json:"status"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
}

// Start marks the step as running.
func (s *Step) Start() {
	s.Status = TaskInProgress
	s.StartedAt = time.Now()
}

// Complete marks the step as finished with a result.
func (s *Step) Complete(result string) {
	s.Status = TaskCompleted
	s.Result = result
	s.FinishedAt = time.Now()
}

// Fail marks the step as failed.
func (s *Step) Fail(err string) {
	s.Status = TaskFailed
	s.Error = err
	s.FinishedAt = time.Now()
}

// Duration reports how long the step ran, or zero if it never finished.
func (s *Step) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Critical reports whether a failure of this step should abort the
// remaining steps of the current plan.
func (s *Step) Critical() bool {
	return s.Type != StepAnalysis
}

// Task is one user request being driven through plan, execute and
// reflect. Iterations counts outer plan/execute/reflect cycles against
// MaxIterations.
type Task struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`

	Steps       []*Step `json:"steps"`
	CurrentStep int     `json:"current_step"`

	Status        TaskStatus `json:"status"`
	Iterations    int        `json:"iterations"`
	MaxIterations int        `json:"max_iterations"`

	FinalResult  string `json:"final_result,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// NewTask creates a pending task for the given request.
func NewTask(description string) *Task {
	return &Task{
		ID:            uuid.NewString(),
		Description:   description,
		Status:        TaskPending,
		MaxIterations: DefaultMaxOrchestratorIterations,
	}
}

// Start marks the task as running.
func (t *Task) Start() {
	t.Status = TaskInProgress
	t.StartedAt = time.Now()
}

// Complete marks the task as done with a final result.
func (t *Task) Complete(result string) {
	t.Status = TaskCompleted
	t.FinalResult = result
	t.FinishedAt = time.Now()
}

// Fail marks the task as failed.
func (t *Task) Fail(message string) {
	t.Status = TaskFailed
	t.ErrorMessage = message
	t.FinishedAt = time.Now()
}

// ActiveStep returns the step the task is currently on, or nil when the
// plan is exhausted.
func (t *Task) ActiveStep() *Step {
	if t.CurrentStep >= 0 && t.CurrentStep < len(t.Steps) {
		return t.Steps[t.CurrentStep]
	}
	return nil
}

// Advance moves the task to the next step.
func (t *Task) Advance() {
	t.CurrentStep++
}

// AddStep appends a step to the plan.
func (t *Task) AddStep(step *Step) {
	t.Steps = append(t.Steps, step)
}

// ClearPlan discards the current step list and rewinds the cursor,
// forcing a fresh planning phase.
func (t *Task) ClearPlan() {
	t.Steps = nil
	t.CurrentStep = 0
}

// ShouldContinue reports whether another outer iteration may run.
func (t *Task) ShouldContinue() bool {
	return t.Status == TaskInProgress && t.Iterations < t.MaxIterations
}

// StepsSucceeded reports whether every step of the current plan
// completed.
func (t *Task) StepsSucceeded() bool {
	for _, s := range t.Steps {
		if s.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// Progress returns completed and total step counts for the current plan.
func (t *Task) Progress() (completed, total int) {
	for _, s := range t.Steps {
		if s.Status == TaskCompleted {
			completed++
		}
	}
	return completed, len(t.Steps)
}

// Duration reports how long the task ran, or zero if it never finished.
func (t *Task) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// ExecutionContext is the side-channel accumulator threaded through all
// steps of one task run: which files changed, which commands ran, what
// the tests said.
type ExecutionContext struct {
	ProjectRoot      string
	FilesModified    []string
	CommandsExecuted []string
	TestResults      map[string]any
}

// NewExecutionContext creates an empty accumulator rooted at the
// project directory.
func NewExecutionContext(projectRoot string) *ExecutionContext {
	return &ExecutionContext{
		ProjectRoot: projectRoot,
		TestResults: make(map[string]any),
	}
}

// AddFileModified records a changed file once.
func (c *ExecutionContext) AddFileModified(path string) {
	for _, p := range c.FilesModified {
		if p == path {
			return
		}
	}
	c.FilesModified = append(c.FilesModified, path)
}

// AddCommandExecuted records a shell command.
func (c *ExecutionContext) AddCommandExecuted(command string) {
	c.CommandsExecuted = append(c.CommandsExecuted, command)
}

// Summary renders what the run has touched so far.
func (c *ExecutionContext) Summary() string {
	var parts []string
	if n := len(c.FilesModified); n > 0 {
		parts = append(parts, fmt.Sprintf("Modified %d files (%s)", n, strings.Join(c.FilesModified, ", ")))
	}
	if n := len(c.CommandsExecuted); n > 0 {
		parts = append(parts, fmt.Sprintf("Executed %d commands", n))
	}
	if len(c.TestResults) > 0 {
		parts = append(parts, fmt.Sprintf("Test results: %v", c.TestResults))
	}
	if len(parts) == 0 {
		return "No changes made"
	}
	return strings.Join(parts, " | ")
}
