package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ToolCall is one parsed tool invocation extracted from model output.
// Arguments are free-form: the model emits them, the registry validates
// them. Rationale is whatever explanation the model attached, kept for
// logging and display only.
type ToolCall struct {
	Name      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Rationale string         `json:"rationale,omitempty"`
}

// grammars are tried in priority order; the first hit wins and later
// grammars are never consulted. The structured-object form is the one the
// model is instructed to use, so it always takes precedence.
var grammars = []func(string) (ToolCall, bool){
	extractStructured,
	extractTagged,
	extractFunctionCall,
}

// Extract parses raw model text into a tool call, or reports that none is
// present. Input is unconstrained free text; absence of a call is a
// normal outcome, never an error.
func Extract(text string) (ToolCall, bool) {
	for _, grammar := range grammars {
		if call, ok := grammar(text); ok && call.Name != "" {
			return call, true
		}
	}
	return ToolCall{}, false
}

// extractStructured locates a brace-delimited JSON object with a "tool"
// key amid surrounding prose. Each '{' is tried as the start of a value;
// the decoder stops at the value's end, so trailing text is tolerated and
// malformed candidates fall through silently.
func extractStructured(text string) (ToolCall, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		var raw map[string]any
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		name, ok := raw["tool"].(string)
		if !ok || name == "" {
			continue
		}

		call := ToolCall{Name: name, Arguments: map[string]any{}}
		args := raw["arguments"]
		if args == nil {
			args = raw["args"]
		}
		if m, ok := args.(map[string]any); ok {
			call.Arguments = m
		}
		if thought, ok := raw["thought"].(string); ok {
			call.Rationale = thought
		} else if reasoning, ok := raw["reasoning"].(string); ok {
			call.Rationale = reasoning
		}
		return call, true
	}
	return ToolCall{}, false
}

var (
	taggedSpanRe = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)
	taggedToolRe = regexp.MustCompile(`<tool>([^<]+)</tool>`)
	taggedArgRe  = regexp.MustCompile(`<(\w+)>([^<]*)</(\w+)>`)
)

// extractTagged parses the markup form:
//
//	<tool_call><tool>read_file</tool><path>main.go</path></tool_call>
//
// Every sibling tag other than <tool> supplies one argument.
func extractTagged(text string) (ToolCall, bool) {
	span := taggedSpanRe.FindStringSubmatch(text)
	if span == nil {
		return ToolCall{}, false
	}
	body := span[1]

	toolMatch := taggedToolRe.FindStringSubmatch(body)
	if toolMatch == nil {
		return ToolCall{}, false
	}

	call := ToolCall{Name: strings.TrimSpace(toolMatch[1]), Arguments: map[string]any{}}
	for _, m := range taggedArgRe.FindAllStringSubmatch(body, -1) {
		// Go's regexp has no backreferences; check tag pairing by hand.
		if m[1] != m[3] || m[1] == "tool" {
			continue
		}
		call.Arguments[m[1]] = m[2]
	}
	return call, true
}

var functionCallRe = regexp.MustCompile(`(\w+)\(([^)]*)\)`)

// extractFunctionCall parses name(key="value", key2="value2"). Commas
// inside quoted values are not separators.
func extractFunctionCall(text string) (ToolCall, bool) {
	m := functionCallRe.FindStringSubmatch(text)
	if m == nil {
		return ToolCall{}, false
	}

	call := ToolCall{Name: m[1], Arguments: map[string]any{}}
	for _, part := range splitArgs(m[2]) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key != "" {
			call.Arguments[key] = value
		}
	}
	return call, true
}

// splitArgs splits on commas outside quoted strings. A quote character
// toggles the in-string flag, so "Alice, Bob" stays one value.
func splitArgs(s string) []string {
	var parts []string
	var current strings.Builder
	inString := false

	for _, r := range s {
		switch {
		case r == '"' || r == '\'':
			inString = !inString
			current.WriteRune(r)
		case r == ',' && !inString:
			if p := strings.TrimSpace(current.String()); p != "" {
				parts = append(parts, p)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if p := strings.TrimSpace(current.String()); p != "" {
		parts = append(parts, p)
	}
	return parts
}

// actionPatterns detect phrasing that suggests the model wants to act on
// the project even when no parseable call is present.
var actionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(read|open|show|view|inspect)\b.{0,40}\b(file|code|content)`),
	regexp.MustCompile(`(?i)\b(list|browse|explore)\b.{0,40}\b(files|directory|folder|project)`),
	regexp.MustCompile(`(?i)\b(write|create|save|modify)\b.{0,40}\b(file|directory)`),
	regexp.MustCompile(`(?i)\b(run|execute)\b.{0,40}\b(command|test|tests|script)`),
	regexp.MustCompile(`(?i)\b(search|grep|look)\s+(for|in|through)\b`),
	regexp.MustCompile(`(?i)\blet me (see|check|look at|examine)\b`),
	regexp.MustCompile(`(?i)\bI (need|want) to (see|read|check)\b`),
}

// ShouldUseTool reports whether the text reads like the model intends to
// act on the project. It is a heuristic, independent of whether Extract
// found a parseable call; callers use it to re-prompt with tool context.
func ShouldUseTool(text string) bool {
	for _, p := range actionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

var filePathRe = regexp.MustCompile(`([\w./\\-]+\.(?:go|py|js|ts|jsx|tsx|java|c|h|cpp|hpp|rs|rb|php|sh|md|txt|json|yaml|yml|toml|html|css|sql|mod|sum))\b`)

// ExtractFilePath returns the first thing in the text that looks like a
// file path. Best effort, for when the model mentions a file in prose
// without a formal call.
func ExtractFilePath(text string) (string, bool) {
	m := filePathRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var dirPathRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:directory|folder|dir)\s+["'` + "`" + `]?([\w./-]+)`),
	regexp.MustCompile(`(?i)(?:in|under|inside)\s+["'` + "`" + `]?([\w.-]+/[\w./-]*)`),
}

// ExtractDirectoryPath returns the first thing in the text that looks
// like a directory path.
func ExtractDirectoryPath(text string) (string, bool) {
	for _, re := range dirPathRes {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSuffix(m[1], "/"), true
		}
	}
	return "", false
}
