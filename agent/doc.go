// Package agent implements the tool-use loop of a local coding
// assistant.
//
// A model that cannot call tools natively still emits tool calls as
// text; this package extracts them, dispatches them against a sandboxed
// project directory, and feeds the results back until the model answers
// in plain text.
//
// # Architecture
//
// The package is organized around these core concepts:
//
//   - Extract: Parses tool calls out of free-form model output,
//     accepting three grammars in priority order (JSON object, tagged
//     markup, function-call syntax).
//   - ToolRegistry: Registration, validation and dispatch of tool
//     definitions. Dispatch never fails the caller: every outcome is a
//     ToolResult.
//   - ExecutionEnvironment: Abstraction for where tools run; LocalEnv
//     confines all paths to a working root.
//   - Loop: The think/act cycle with an iteration ceiling, repeat
//     detection and a queryable tool history.
//   - Orchestrator: Plan, execute and reflect on multi-step tasks,
//     running each plan step through its own Loop.
//   - EventEmitter: Typed event stream for host application
//     integration.
//
// # Quick Start
//
//	env := agent.NewLocalEnv("/path/to/project")
//	registry := agent.NewDefaultRegistry(env)
//	loop := agent.NewLoop(gateway, registry)
//
//	result, err := loop.Run(ctx, "Add a unit test for the parser")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.FinalText)
package agent
