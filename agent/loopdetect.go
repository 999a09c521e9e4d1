package agent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// repeatThreshold is how many identical consecutive calls trigger a
// repetition warning in the feedback.
const repeatThreshold = 3

// callSignature computes a deterministic signature for a tool call
// (name + hash of its arguments).
func callSignature(call ToolCall) string {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		args = []byte(fmt.Sprintf("%v", call.Arguments))
	}
	h := sha256.Sum256(args)
	return fmt.Sprintf("%s:%x", call.Name, h[:8])
}

// repeatDetector tracks consecutive identical tool calls within one run.
type repeatDetector struct {
	lastSignature string
	streak        int
}

// Observe records a call and reports how many times in a row it has now
// been made.
func (d *repeatDetector) Observe(call ToolCall) int {
	sig := callSignature(call)
	if sig == d.lastSignature {
		d.streak++
	} else {
		d.lastSignature = sig
		d.streak = 1
	}
	return d.streak
}

// Repeating reports whether the current streak has reached the warning
// threshold.
func (d *repeatDetector) Repeating() bool {
	return d.streak >= repeatThreshold
}

// repeatWarning is appended to the feedback when the model keeps issuing
// the same call with the same arguments.
func repeatWarning(call ToolCall, streak int) string {
	return fmt.Sprintf(
		"\nWarning: you have called %q with identical arguments %d times in a row. The result will not change; try a different approach or answer with what you have.",
		call.Name, streak)
}
