package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/patcode-ai/patcode/llm"
)

// DefaultMaxOrchestratorIterations caps the outer plan/execute/reflect
// cycles for one task.
const DefaultMaxOrchestratorIterations = 10

// PlanResult is the parsed outcome of a planning call. Defaulted means
// the model's reply was not parseable and the generic analysis fallback
// plan was substituted.
type PlanResult struct {
	Steps     []*Step
	Defaulted bool
}

// Reflection is the parsed outcome of a reflection call. Defaulted means
// the reply was not parseable and the verdict was derived from step
// outcomes instead.
type Reflection struct {
	TaskComplete bool
	Reasoning    string
	Defaulted    bool
}

// Orchestrator drives a task through plan, execute and reflect: ask the
// model for a plan of typed steps, dispatch each step's named tool (or
// run an agentic loop for steps without one), then ask whether the task
// is done. While the verdict is "not done" and iterations remain, the
// plan is discarded and rebuilt, so a failed plan gets another chance
// instead of sinking the task.
type Orchestrator struct {
	gen      Generator
	registry *ToolRegistry
	emitter  *EventEmitter

	maxIterations  int
	stepIterations int
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorIterations overrides the outer cycle ceiling.
func WithOrchestratorIterations(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithStepIterations overrides the tool-call ceiling of the nested loop
// used for steps without a named tool.
func WithStepIterations(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.stepIterations = n
		}
	}
}

// WithOrchestratorEmitter attaches an event emitter.
func WithOrchestratorEmitter(e *EventEmitter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.emitter = e
	}
}

// NewOrchestrator creates an orchestrator over a generator and a tool
// registry.
func NewOrchestrator(gen Generator, registry *ToolRegistry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		gen:            gen,
		registry:       registry,
		maxIterations:  DefaultMaxOrchestratorIterations,
		stepIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ExecuteTask runs one task to a terminal status. The returned task
// carries the executed plan and outcome; err is non-nil only for
// transport-level failures, not for task-level failure.
func (o *Orchestrator) ExecuteTask(ctx context.Context, description string) (*Task, error) {
	task := NewTask(description)
	task.MaxIterations = o.maxIterations
	task.Start()
	execCtx := NewExecutionContext(o.registry.Environment().WorkingDirectory())

	var lastReflection Reflection
	for task.ShouldContinue() {
		task.Iterations++

		if len(task.Steps) == 0 {
			plan, err := o.plan(ctx, task, execCtx)
			if err != nil {
				task.Fail(err.Error())
				return task, err
			}
			for _, step := range plan.Steps {
				task.AddStep(step)
			}
			o.emitter.Emit(EventPlanCreated, map[string]any{
				"task_id":   task.ID,
				"iteration": task.Iterations,
				"steps":     len(plan.Steps),
				"defaulted": plan.Defaulted,
			})
		}

		o.executeSteps(ctx, task, execCtx)

		reflection, err := o.reflect(ctx, task, execCtx)
		if err != nil {
			task.Fail(err.Error())
			return task, err
		}
		lastReflection = reflection
		o.emitter.Emit(EventReflection, map[string]any{
			"task_id":   task.ID,
			"iteration": task.Iterations,
			"complete":  reflection.TaskComplete,
			"reasoning": reflection.Reasoning,
			"defaulted": reflection.Defaulted,
		})

		if reflection.TaskComplete {
			task.Complete(reflection.Reasoning)
			return task, nil
		}
		if task.Iterations >= task.MaxIterations {
			break
		}

		// Not done: discard the plan so the next iteration replans with
		// the failures in view.
		task.ClearPlan()
	}

	if task.Status == TaskInProgress {
		task.Fail(fmt.Sprintf("Maximum iterations reached. Last reflection: %s", lastReflection.Reasoning))
	}
	return task, nil
}

// executeSteps walks the current plan in order. A failed critical step
// aborts the remaining steps of this plan only; reflection then decides
// whether to replan.
func (o *Orchestrator) executeSteps(ctx context.Context, task *Task, execCtx *ExecutionContext) {
	for task.CurrentStep < len(task.Steps) {
		step := task.ActiveStep()
		o.emitter.Emit(EventStepStart, map[string]any{
			"task_id": task.ID,
			"step":    step.Description,
			"type":    string(step.Type),
			"tool":    step.ToolName,
		})

		step.Start()
		output, err := o.executeStep(ctx, task, step, execCtx)
		if err != nil {
			step.Fail(err.Error())
			o.emitter.Emit(EventStepEnd, map[string]any{
				"task_id": task.ID, "step": step.Description, "success": false,
			})
			if step.Critical() {
				break
			}
		} else {
			step.Complete(output)
			o.emitter.Emit(EventStepEnd, map[string]any{
				"task_id": task.ID, "step": step.Description, "success": true,
			})
		}
		task.Advance()
	}
}

// executeStep dispatches one step: through the registry when the plan
// named a tool, through a fresh agentic loop otherwise.
func (o *Orchestrator) executeStep(ctx context.Context, task *Task, step *Step, execCtx *ExecutionContext) (string, error) {
	if step.ToolName != "" {
		result := o.registry.Execute(ctx, step.ToolName, step.ToolInput)
		if !result.Success {
			return "", errors.New(result.Error)
		}
		recordEffects(execCtx, step.ToolName, step.ToolInput, result)
		return result.Message, nil
	}

	loop := NewLoop(o.gen, o.registry,
		WithMaxIterations(o.stepIterations),
		WithEmitter(o.emitter),
	)
	result, err := loop.Run(ctx, buildStepPrompt(task, step, execCtx))
	if err != nil {
		return "", err
	}
	for _, rec := range result.ToolCalls {
		if rec.Result.Success {
			recordEffects(execCtx, rec.Call.Name, rec.Call.Arguments, rec.Result)
		}
	}
	if result.Outcome == OutcomeIterationLimit {
		return "", fmt.Errorf("step hit the tool-call ceiling before finishing: %s", step.Description)
	}
	return result.FinalText, nil
}

// recordEffects folds a successful tool call into the execution
// context's accumulators.
func recordEffects(execCtx *ExecutionContext, toolName string, args map[string]any, result ToolResult) {
	switch toolName {
	case "write_file", "edit_file", "create_directory":
		if path := stringArg(args, "path", ""); path != "" {
			execCtx.AddFileModified(path)
		}
	case "run_command":
		command := stringArg(args, "command", "")
		if command == "" {
			return
		}
		execCtx.AddCommandExecuted(command)
		if strings.Contains(command, "test") {
			if code, ok := result.Data["exit_code"]; ok {
				execCtx.TestResults[command] = code
			}
		}
	case "git_commit":
		execCtx.AddCommandExecuted("git commit")
	}
}

// plan asks the model for a step plan.
func (o *Orchestrator) plan(ctx context.Context, task *Task, execCtx *ExecutionContext) (PlanResult, error) {
	prompt := buildPlanPrompt(task, o.registry.Describe(), execCtx)
	resp, err := o.gen.GenerateResponse(ctx, []llm.Message{llm.UserMessage(prompt)})
	if err != nil {
		return PlanResult{}, fmt.Errorf("planning failed: %w", err)
	}
	return parsePlan(resp.Text), nil
}

// reflect asks the model whether the task is complete.
func (o *Orchestrator) reflect(ctx context.Context, task *Task, execCtx *ExecutionContext) (Reflection, error) {
	resp, err := o.gen.GenerateResponse(ctx, []llm.Message{llm.UserMessage(buildReflectPrompt(task, execCtx))})
	if err != nil {
		return Reflection{}, fmt.Errorf("reflection failed: %w", err)
	}
	return parseReflection(resp.Text, task.StepsSucceeded()), nil
}

// fallbackPlan is substituted when the planning reply is unparseable: a
// single generic analysis step, advisory by type so its failure cannot
// sink the task on its own.
func fallbackPlan() PlanResult {
	return PlanResult{
		Steps: []*Step{{
			Type:        StepAnalysis,
			Description: "Analyze project structure",
			ToolName:    "analyze_code",
			Status:      TaskPending,
		}},
		Defaulted: true,
	}
}

// parsePlan extracts the step plan from model output: an object with a
// "steps" array, or a bare array. Each step may carry a type, a tool
// name and tool input. Unparseable output degrades to the generic
// analysis plan.
func parsePlan(text string) PlanResult {
	for i := 0; i < len(text); i++ {
		var raw []any
		switch text[i] {
		case '{':
			var obj map[string]any
			dec := json.NewDecoder(strings.NewReader(text[i:]))
			if err := dec.Decode(&obj); err != nil {
				continue
			}
			list, ok := obj["steps"].([]any)
			if !ok {
				continue
			}
			raw = list
		case '[':
			dec := json.NewDecoder(strings.NewReader(text[i:]))
			if err := dec.Decode(&raw); err != nil {
				continue
			}
		default:
			continue
		}

		if steps := stepsFromJSON(raw); len(steps) > 0 {
			return PlanResult{Steps: steps}
		}
	}
	return fallbackPlan()
}

func stepsFromJSON(raw []any) []*Step {
	var steps []*Step
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				steps = append(steps, &Step{Type: StepAnalysis, Description: v, Status: TaskPending})
			}
		case map[string]any:
			desc, _ := v["description"].(string)
			if strings.TrimSpace(desc) == "" {
				continue
			}
			typ, _ := v["type"].(string)
			step := &Step{
				Type:        ParseStepType(typ),
				Description: desc,
				Status:      TaskPending,
			}
			if name, ok := v["tool_name"].(string); ok {
				step.ToolName = name
			}
			if input, ok := v["tool_input"].(map[string]any); ok {
				step.ToolInput = input
			}
			if expected, ok := v["expected_output"].(string); ok {
				step.ExpectedOutput = expected
			}
			steps = append(steps, step)
		}
	}
	return steps
}

// parseReflection extracts the completion verdict from model output.
// When no verdict can be parsed, the verdict is derived from the plan
// itself: complete iff every step succeeded.
func parseReflection(text string, stepsSucceeded bool) Reflection {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		var raw map[string]any
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		complete, ok := raw["task_complete"].(bool)
		if !ok {
			continue
		}
		reasoning, _ := raw["reasoning"].(string)
		return Reflection{TaskComplete: complete, Reasoning: reasoning}
	}

	reasoning := "reflection was not parseable; not every step succeeded"
	if stepsSucceeded {
		reasoning = "reflection was not parseable; every step succeeded"
	}
	return Reflection{TaskComplete: stepsSucceeded, Reasoning: reasoning, Defaulted: true}
}
