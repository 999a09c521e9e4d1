package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolResult is the uniform outcome envelope of one tool dispatch.
// Exactly one of Message/Data or Error is meaningfully populated.
type ToolResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ToolOutput is what an executor produces on success; the registry wraps
// it into a ToolResult.
type ToolOutput struct {
	Message string
	Data    map[string]any
}

// ToolExecutor implements one capability. A returned error becomes a
// failure ToolResult; it never escapes the registry.
type ToolExecutor func(ctx context.Context, args map[string]any, env ExecutionEnvironment) (*ToolOutput, error)

// ToolDefinition describes a tool to the model and to the validator.
// Parameters is a JSON Schema object; its "required" list is enforced
// before the executor ever runs.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type registeredTool struct {
	def      ToolDefinition
	required []string
	schema   *jsonschema.Schema
	exec     ToolExecutor
}

// ToolRegistry maps tool names to capabilities and dispatches calls
// against an execution environment. Dispatch never panics and never
// returns a Go error: every failure mode is folded into the ToolResult,
// because the caller is a loop that must keep iterating.
type ToolRegistry struct {
	mu    sync.RWMutex
	env   ExecutionEnvironment
	tools map[string]*registeredTool
	order []string
}

// NewToolRegistry creates an empty registry bound to env.
func NewToolRegistry(env ExecutionEnvironment) *ToolRegistry {
	return &ToolRegistry{
		env:   env,
		tools: make(map[string]*registeredTool),
	}
}

// Register adds a tool, compiling its parameter schema. Registering an
// existing name replaces the earlier tool.
func (r *ToolRegistry) Register(def ToolDefinition, exec ToolExecutor) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition needs a name")
	}
	if exec == nil {
		return fmt.Errorf("tool %q needs an executor", def.Name)
	}

	tool := &registeredTool{def: def, exec: exec}
	if def.Parameters != nil {
		schema, err := compileSchema(def.Parameters)
		if err != nil {
			return fmt.Errorf("tool %q has an invalid parameter schema: %w", def.Name, err)
		}
		tool.schema = schema
		if req, ok := def.Parameters["required"].([]string); ok {
			tool.required = req
		} else if req, ok := def.Parameters["required"].([]any); ok {
			for _, v := range req {
				if s, ok := v.(string); ok {
					tool.required = append(tool.required, s)
				}
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = tool
	return nil
}

// mustRegister is Register for the built-in tool set, whose schemas are
// static.
func (r *ToolRegistry) mustRegister(def ToolDefinition, exec ToolExecutor) {
	if err := r.Register(def, exec); err != nil {
		panic(err)
	}
}

// Environment returns the execution environment this registry dispatches
// against.
func (r *ToolRegistry) Environment() ExecutionEnvironment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.env
}

// Names returns all registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the tool definitions in registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Describe renders one line per tool for the model's context.
func (r *ToolRegistry) Describe() string {
	var sb strings.Builder
	for _, def := range r.Definitions() {
		fmt.Fprintf(&sb, "- %s: %s\n", def.Name, def.Description)
	}
	return sb.String()
}

// Execute dispatches one tool call. Tool names are compared exactly as
// parsed (case-sensitive, no normalization).
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]any) (result ToolResult) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	env := r.env
	r.mu.RUnlock()

	if !ok {
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("unknown tool %q; available tools: %s", name, strings.Join(r.Names(), ", ")),
		}
	}

	if args == nil {
		args = map[string]any{}
	}

	for _, param := range tool.required {
		if _, present := args[param]; !present {
			return ToolResult{
				Success: false,
				Error:   fmt.Sprintf("missing required parameter %q for tool %q", param, name),
			}
		}
	}

	if tool.schema != nil {
		if err := tool.schema.Validate(normalizeForSchema(args)); err != nil {
			return ToolResult{
				Success: false,
				Error:   fmt.Sprintf("invalid arguments for tool %q: %v", name, err),
			}
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = ToolResult{
				Success: false,
				Error:   fmt.Sprintf("tool %q panicked: %v", name, rec),
			}
		}
	}()

	out, err := tool.exec(ctx, args, env)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error()}
	}
	if out == nil {
		out = &ToolOutput{Message: "done"}
	}
	return ToolResult{Success: true, Message: out.Message, Data: out.Data}
}

// compileSchema builds a validator from a raw schema map.
func compileSchema(raw map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// normalizeForSchema round-trips arguments through JSON so the validator
// sees the types it expects (ints as json numbers, nested maps plain).
func normalizeForSchema(args map[string]any) any {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return args
	}
	return doc
}
