package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planToolStep = `Here is the plan:
{"steps": [
  {"type": "file_operation", "description": "Create hello.txt", "tool_name": "write_file", "tool_input": {"path": "hello.txt", "content": "hi"}}
]}`

const reflectDone = `{"task_complete": true, "reasoning": "all steps finished"}`
const reflectNotDone = `{"task_complete": false, "reasoning": "tests were never run"}`

func TestParsePlan(t *testing.T) {
	plan := parsePlan(`{"steps": [
		{"type": "analysis", "description": "Look at the parser", "tool_name": "read_file", "tool_input": {"path": "parser.go"}},
		{"type": "code_generation", "description": "Fix the bug", "expected_output": "parser accepts nested calls"}
	]}`)
	require.Len(t, plan.Steps, 2)
	assert.False(t, plan.Defaulted)
	assert.Equal(t, StepAnalysis, plan.Steps[0].Type)
	assert.Equal(t, "read_file", plan.Steps[0].ToolName)
	assert.Equal(t, "parser.go", plan.Steps[0].ToolInput["path"])
	assert.Equal(t, TaskPending, plan.Steps[0].Status)
	assert.Equal(t, StepCodeGeneration, plan.Steps[1].Type)
	assert.Empty(t, plan.Steps[1].ToolName)
	assert.Equal(t, "parser accepts nested calls", plan.Steps[1].ExpectedOutput)
}

func TestParsePlanBareArray(t *testing.T) {
	plan := parsePlan(`[
		{"type": "testing", "description": "Run the tests"},
		"read the file"
	]`)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, StepTesting, plan.Steps[0].Type)
	// Bare string steps degrade to analysis.
	assert.Equal(t, StepAnalysis, plan.Steps[1].Type)
	assert.Equal(t, "read the file", plan.Steps[1].Description)
}

func TestParsePlanUnknownTypeDefaultsToAnalysis(t *testing.T) {
	plan := parsePlan(`[{"type": "pondering", "description": "think hard"}]`)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, StepAnalysis, plan.Steps[0].Type)
}

func TestParsePlanDefaulted(t *testing.T) {
	plan := parsePlan("Sure! I'd be happy to help with that.")
	require.Len(t, plan.Steps, 1)
	assert.True(t, plan.Defaulted)
	// The fallback is a single generic analysis step, so its failure
	// cannot abort a plan on its own.
	assert.Equal(t, StepAnalysis, plan.Steps[0].Type)
	assert.Equal(t, "Analyze project structure", plan.Steps[0].Description)
	assert.Equal(t, "analyze_code", plan.Steps[0].ToolName)
	assert.False(t, plan.Steps[0].Critical())
}

func TestParseReflection(t *testing.T) {
	r := parseReflection(reflectNotDone, true)
	assert.False(t, r.TaskComplete)
	assert.False(t, r.Defaulted)
	assert.Equal(t, "tests were never run", r.Reasoning)
}

func TestParseReflectionDefaultedFromStepOutcomes(t *testing.T) {
	// An unparseable reflection inherits its verdict from the plan:
	// complete only when every step succeeded.
	r := parseReflection("I am not JSON at all", false)
	assert.False(t, r.TaskComplete)
	assert.True(t, r.Defaulted)

	r = parseReflection("Sounds about right.", true)
	assert.True(t, r.TaskComplete)
	assert.True(t, r.Defaulted)
}

func TestOrchestratorDispatchesNamedToolSteps(t *testing.T) {
	env := NewLocalEnv(t.TempDir())
	gen := &scriptedGenerator{responses: []string{planToolStep, reflectDone}}
	o := NewOrchestrator(gen, NewDefaultRegistry(env))

	task, err := o.ExecuteTask(context.Background(), "create hello.txt")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
	assert.True(t, env.FileExists("hello.txt"))
	assert.Equal(t, TaskCompleted, task.Steps[0].Status)
	// Plan and reflect are the only model calls: the named tool goes
	// straight through the registry, no nested loop.
	assert.Equal(t, 2, gen.calls)
	completed, total := task.Progress()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, task.Iterations)
}

func TestOrchestratorRunsLoopForStepsWithoutTool(t *testing.T) {
	env := NewLocalEnv(t.TempDir())
	gen := &scriptedGenerator{responses: []string{
		`{"steps": [{"type": "code_generation", "description": "create hello.txt"}]}`,
		writeFileCall("hello.txt"),
		"File created.",
		reflectDone,
	}}
	o := NewOrchestrator(gen, NewDefaultRegistry(env))

	task, err := o.ExecuteTask(context.Background(), "create hello.txt")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
	assert.True(t, env.FileExists("hello.txt"))
	assert.Contains(t, task.Steps[0].Result, "File created.")
	assert.Equal(t, 4, gen.calls)
}

func TestOrchestratorUnparseableReflectionAfterFailure(t *testing.T) {
	// The only step fails, then the reflection reply is prose. The
	// derived verdict must be "not complete": the task may not end up
	// completed on the strength of an unparseable reflection.
	gen := &scriptedGenerator{responses: []string{
		`{"steps": [{"type": "analysis", "description": "look around"}]}`,
		"", // the step's loop dies on an empty response
		"I am not JSON at all",
	}}
	o := NewOrchestrator(gen, NewDefaultRegistry(NewLocalEnv(t.TempDir())),
		WithOrchestratorIterations(1))

	task, err := o.ExecuteTask(context.Background(), "look around")
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, "Maximum iterations reached")
	assert.Contains(t, task.ErrorMessage, "not every step succeeded")
}

func TestOrchestratorUnparseableReflectionAfterSuccess(t *testing.T) {
	env := NewLocalEnv(t.TempDir())
	gen := &scriptedGenerator{responses: []string{planToolStep, "Sounds about right."}}
	o := NewOrchestrator(gen, NewDefaultRegistry(env))

	task, err := o.ExecuteTask(context.Background(), "create hello.txt")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
	assert.Contains(t, task.FinalResult, "every step succeeded")
}

func TestOrchestratorReplansAfterCriticalFailure(t *testing.T) {
	// A failed critical step aborts only the current plan: reflection
	// still runs, says "not done", and the next iteration replans.
	env := NewLocalEnv(t.TempDir())
	gen := &scriptedGenerator{responses: []string{
		`{"steps": [{"type": "code_generation", "description": "read the old code", "tool_name": "read_file", "tool_input": {"path": "missing.go"}}]}`,
		reflectNotDone,
		planToolStep,
		reflectDone,
	}}
	o := NewOrchestrator(gen, NewDefaultRegistry(env))

	task, err := o.ExecuteTask(context.Background(), "rewrite missing.go")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
	assert.True(t, env.FileExists("hello.txt"))
	assert.Equal(t, 2, task.Iterations)
	// All four scripted calls were consumed: the reflection after the
	// failure was consulted and a fresh plan followed.
	assert.Equal(t, 4, gen.calls)
}

func TestOrchestratorCriticalFailureAbortsRemainingSteps(t *testing.T) {
	env := NewLocalEnv(t.TempDir())
	gen := &scriptedGenerator{responses: []string{
		`{"steps": [
			{"type": "code_generation", "description": "read the old code", "tool_name": "read_file", "tool_input": {"path": "missing.go"}},
			{"type": "file_operation", "description": "write the new code", "tool_name": "write_file", "tool_input": {"path": "new.go", "content": "package new"}}
		]}`,
		reflectNotDone,
	}}
	o := NewOrchestrator(gen, NewDefaultRegistry(env), WithOrchestratorIterations(1))

	task, err := o.ExecuteTask(context.Background(), "rewrite missing.go")
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Equal(t, TaskFailed, task.Steps[0].Status)
	assert.NotEmpty(t, task.Steps[0].Error)
	// The second step never ran.
	assert.Equal(t, TaskPending, task.Steps[1].Status)
	assert.False(t, env.FileExists("new.go"))
}

func TestOrchestratorAnalysisFailureIsNotFatal(t *testing.T) {
	env := NewLocalEnv(t.TempDir())
	gen := &scriptedGenerator{responses: []string{
		`{"steps": [
			{"type": "analysis", "description": "inspect missing.go", "tool_name": "read_file", "tool_input": {"path": "missing.go"}},
			{"type": "file_operation", "description": "create hello.txt", "tool_name": "write_file", "tool_input": {"path": "hello.txt", "content": "hi"}}
		]}`,
		reflectDone,
	}}
	o := NewOrchestrator(gen, NewDefaultRegistry(env))

	task, err := o.ExecuteTask(context.Background(), "create hello.txt")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
	assert.Equal(t, TaskFailed, task.Steps[0].Status)
	assert.Equal(t, TaskCompleted, task.Steps[1].Status)
	assert.True(t, env.FileExists("hello.txt"))
}

func TestOrchestratorFallbackPlanRuns(t *testing.T) {
	// An unparseable plan degrades to one analysis step that runs
	// analyze_code; the task can still complete.
	gen := &scriptedGenerator{responses: []string{
		"I'd be happy to help with that!",
		reflectDone,
	}}
	o := NewOrchestrator(gen, NewDefaultRegistry(NewLocalEnv(t.TempDir())))

	task, err := o.ExecuteTask(context.Background(), "what is in this project?")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
	require.Len(t, task.Steps, 1)
	assert.Equal(t, StepAnalysis, task.Steps[0].Type)
	assert.Equal(t, "analyze_code", task.Steps[0].ToolName)
	assert.Equal(t, 2, gen.calls)
}

func TestOrchestratorIterationCeiling(t *testing.T) {
	// Reflection never says done; the outer ceiling caps the churn and
	// the failure carries the last reflection's reasoning.
	gen := &scriptedGenerator{responses: []string{
		planToolStep, reflectNotDone,
		planToolStep, reflectNotDone,
	}}
	o := NewOrchestrator(gen, NewDefaultRegistry(NewLocalEnv(t.TempDir())),
		WithOrchestratorIterations(2))

	task, err := o.ExecuteTask(context.Background(), "never done")
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Equal(t, 2, task.Iterations)
	assert.Contains(t, task.ErrorMessage, "Maximum iterations reached")
	assert.Contains(t, task.ErrorMessage, "tests were never run")
}

func TestRecordEffects(t *testing.T) {
	execCtx := NewExecutionContext(t.TempDir())

	recordEffects(execCtx, "write_file", map[string]any{"path": "a.go"}, ToolResult{Success: true})
	recordEffects(execCtx, "edit_file", map[string]any{"path": "a.go"}, ToolResult{Success: true})
	recordEffects(execCtx, "run_command", map[string]any{"command": "go test ./..."},
		ToolResult{Success: true, Data: map[string]any{"exit_code": 0}})
	recordEffects(execCtx, "git_commit", map[string]any{"message": "fix"}, ToolResult{Success: true})

	assert.Equal(t, []string{"a.go"}, execCtx.FilesModified)
	assert.Equal(t, []string{"go test ./...", "git commit"}, execCtx.CommandsExecuted)
	assert.Equal(t, 0, execCtx.TestResults["go test ./..."])
}

func TestTaskLifecycle(t *testing.T) {
	task := NewTask("do something")
	assert.Equal(t, TaskPending, task.Status)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, DefaultMaxOrchestratorIterations, task.MaxIterations)
	assert.Nil(t, task.ActiveStep())
	assert.False(t, task.ShouldContinue())

	task.Start()
	assert.True(t, task.ShouldContinue())

	task.AddStep(&Step{Type: StepAnalysis, Description: "a", Status: TaskPending})
	task.AddStep(&Step{Type: StepCodeGeneration, Description: "b", Status: TaskPending})
	assert.Equal(t, "a", task.ActiveStep().Description)
	task.Advance()
	assert.Equal(t, "b", task.ActiveStep().Description)
	task.Advance()
	assert.Nil(t, task.ActiveStep())

	task.ClearPlan()
	assert.Empty(t, task.Steps)
	assert.Equal(t, 0, task.CurrentStep)

	task.Iterations = task.MaxIterations
	assert.False(t, task.ShouldContinue())

	task.Complete("done")
	assert.Equal(t, TaskCompleted, task.Status)
	assert.Equal(t, "done", task.FinalResult)
}

func TestTaskStepsSucceeded(t *testing.T) {
	task := NewTask("t")
	assert.True(t, task.StepsSucceeded())

	task.AddStep(&Step{Type: StepAnalysis, Status: TaskCompleted})
	task.AddStep(&Step{Type: StepTesting, Status: TaskFailed})
	assert.False(t, task.StepsSucceeded())

	task.Steps[1].Status = TaskCompleted
	assert.True(t, task.StepsSucceeded())
}

func TestStepLifecycle(t *testing.T) {
	step := &Step{Type: StepTesting, Description: "run tests", Status: TaskPending}
	step.Start()
	assert.Equal(t, TaskInProgress, step.Status)
	step.Complete("all green")
	assert.Equal(t, TaskCompleted, step.Status)
	assert.Equal(t, "all green", step.Result)
	assert.False(t, step.FinishedAt.IsZero())

	failed := &Step{Type: StepDebugging, Status: TaskPending}
	failed.Start()
	failed.Fail("still broken")
	assert.Equal(t, TaskFailed, failed.Status)
	assert.Equal(t, "still broken", failed.Error)
}

func TestStepCritical(t *testing.T) {
	assert.False(t, (&Step{Type: StepAnalysis}).Critical())
	for _, typ := range []StepType{
		StepPlanning, StepCodeGeneration, StepFileOperation,
		StepShellCommand, StepTesting, StepDebugging, StepReflection,
	} {
		assert.True(t, (&Step{Type: typ}).Critical(), string(typ))
	}
}

func TestParseStepType(t *testing.T) {
	for _, typ := range []StepType{
		StepAnalysis, StepPlanning, StepCodeGeneration, StepFileOperation,
		StepShellCommand, StepTesting, StepDebugging, StepReflection,
	} {
		assert.Equal(t, typ, ParseStepType(string(typ)))
	}
	assert.Equal(t, StepTesting, ParseStepType("  Testing "))
	assert.Equal(t, StepAnalysis, ParseStepType("pondering"))
	assert.Equal(t, StepAnalysis, ParseStepType(""))
}

func TestTaskStatusValues(t *testing.T) {
	assert.Equal(t, TaskStatus("pending"), TaskPending)
	assert.Equal(t, TaskStatus("in_progress"), TaskInProgress)
	assert.Equal(t, TaskStatus("completed"), TaskCompleted)
	assert.Equal(t, TaskStatus("failed"), TaskFailed)
	assert.Equal(t, TaskStatus("requires_human_input"), TaskRequiresHumanInput)
}

func TestExecutionContextSummary(t *testing.T) {
	execCtx := NewExecutionContext(t.TempDir())
	assert.Equal(t, "No changes made", execCtx.Summary())

	execCtx.AddFileModified("a.go")
	execCtx.AddFileModified("b.go")
	execCtx.AddFileModified("a.go") // deduped
	execCtx.AddCommandExecuted("go test ./...")
	execCtx.TestResults["go test ./..."] = 0

	summary := execCtx.Summary()
	assert.Contains(t, summary, "Modified 2 files (a.go, b.go)")
	assert.Contains(t, summary, "Executed 1 commands")
	assert.Contains(t, summary, "Test results:")
	assert.Contains(t, summary, " | ")
}
