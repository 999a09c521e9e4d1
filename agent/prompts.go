package agent

import (
	"fmt"
	"strings"
)

// BuildToolContext renders the instruction block that teaches the model
// how to call tools. It is injected ahead of the user's request at the
// start of a run.
func BuildToolContext(registry *ToolRegistry) string {
	var sb strings.Builder

	sb.WriteString("You are a coding assistant working inside a project directory. ")
	sb.WriteString("You can act on the project through tools.\n\n")
	sb.WriteString("Available tools:\n")
	sb.WriteString(registry.Describe())
	sb.WriteString(`
To call a tool, reply with a single JSON object and nothing else:

{"tool": "<tool_name>", "arguments": {"<param>": "<value>"}, "thought": "<why>"}

Rules:
- One tool call per reply.
- When you have enough information, answer the user directly in plain text instead of calling a tool.
- Tool results will be sent back to you as the next message.
`)
	return sb.String()
}

// buildPlanPrompt asks the model to decompose a task into typed steps.
// The reply is expected to be a JSON object with a "steps" array;
// anything else falls back to the generic analysis plan.
func buildPlanPrompt(task *Task, tools string, execCtx *ExecutionContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Break the following task into a short ordered plan of concrete steps.\n\nTask: %s\n\n", task.Description)
	fmt.Fprintf(&sb, "Project root: %s\n", execCtx.ProjectRoot)
	if summary := execCtx.Summary(); summary != "No changes made" {
		fmt.Fprintf(&sb, "Recent changes: %s\n", summary)
	}
	sb.WriteString("\nAvailable tools:\n")
	sb.WriteString(tools)
	sb.WriteString(`
Reply with a JSON object only, in this shape:

{
  "steps": [
    {"type": "analysis", "description": "Inspect the relevant files", "tool_name": "read_file", "tool_input": {"path": "main.go"}},
    {"type": "code_generation", "description": "Write the fix", "tool_name": "write_file", "tool_input": {"path": "main.go", "content": "..."}},
    {"type": "testing", "description": "Run the tests", "tool_name": "run_command", "tool_input": {"command": "go test ./..."}}
  ]
}

Step types: analysis, planning, code_generation, file_operation, shell_command, testing, debugging, reflection.
Name a tool with its input when one fits the step; omit "tool_name" for steps that need reasoning over several tool calls.
Use at most 5 steps.`)
	return sb.String()
}

// buildStepPrompt frames one plan step without a named tool as an
// instruction for the agentic loop, carrying forward what earlier steps
// produced.
func buildStepPrompt(task *Task, step *Step, execCtx *ExecutionContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are working on this task: %s\n\n", task.Description)
	if summary := execCtx.Summary(); summary != "No changes made" {
		fmt.Fprintf(&sb, "So far: %s\n", summary)
	}
	if done := summarizeResults(task.Steps[:task.CurrentStep]); done != "" {
		sb.WriteString("Earlier steps:\n")
		sb.WriteString(done)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Current step (%s): %s\n", step.Type, step.Description)
	if step.ExpectedOutput != "" {
		fmt.Fprintf(&sb, "Expected outcome: %s\n", step.ExpectedOutput)
	}
	sb.WriteString("Complete this step now, using tools as needed.")
	return sb.String()
}

// buildReflectPrompt asks the model whether the task is done after the
// plan ran. The reply is expected to be a JSON object; anything else
// falls back to a verdict derived from step outcomes.
func buildReflectPrompt(task *Task, execCtx *ExecutionContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The task was: %s\n\n", task.Description)
	sb.WriteString("Steps executed:\n")
	sb.WriteString(summarizeSteps(task.Steps))
	sb.WriteString("\n")
	if results := summarizeResults(task.Steps); results != "" {
		sb.WriteString("Results:\n")
		sb.WriteString(results)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Changes: %s\n", execCtx.Summary())
	sb.WriteString(`
Is the task fully complete?

Reply with a JSON object only:

{"task_complete": true, "reasoning": "<one sentence>"}

Set "task_complete" to false only if concrete work remains.`)
	return sb.String()
}

// summarizeSteps renders one status line per step for a prompt.
func summarizeSteps(steps []*Step) string {
	var sb strings.Builder
	for i, s := range steps {
		status := string(s.Status)
		if s.Status == "" {
			status = string(TaskPending)
		}
		fmt.Fprintf(&sb, "%d. [%s, %s] %s\n", i+1, s.Type, status, s.Description)
	}
	return sb.String()
}

// summarizeResults renders what finished steps produced, including
// failure detail.
func summarizeResults(steps []*Step) string {
	var sb strings.Builder
	for _, s := range steps {
		switch s.Status {
		case TaskCompleted:
			if out := strings.TrimSpace(s.Result); out != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", s.Description, truncateLines(out, 5))
			}
		case TaskFailed:
			fmt.Fprintf(&sb, "- %s failed: %s\n", s.Description, s.Error)
		}
	}
	return sb.String()
}
