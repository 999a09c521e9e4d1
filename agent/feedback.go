package agent

import (
	"fmt"
	"strings"
)

// Truncation ceilings for tool output folded back into the conversation.
// Model context is finite; oversized payloads get cut with a marker so
// the model knows content is missing.
const (
	maxFeedbackLines   = 100
	maxFeedbackEntries = 20
	maxFeedbackMatches = 10
)

// RenderFeedback turns a tool result into the user-role message fed back
// to the model on the next iteration. Failures are reported in the same
// shape as successes so the model can correct course instead of the loop
// dying.
func RenderFeedback(call ToolCall, result ToolResult) string {
	var sb strings.Builder

	if result.Success {
		fmt.Fprintf(&sb, "Tool %q succeeded: %s\n", call.Name, result.Message)
		if body := renderData(call.Name, result.Data); body != "" {
			sb.WriteString(body)
			sb.WriteString("\n")
		}
	} else {
		fmt.Fprintf(&sb, "Tool %q failed: %s\n", call.Name, result.Error)
		sb.WriteString("You can try a different tool, correct the arguments, or explain the problem to the user.\n")
	}

	sb.WriteString("\nBased on this result, either answer the user's request directly or call another tool.")
	return sb.String()
}

// renderData picks the payload worth showing per tool. Unknown tools get
// nothing beyond the message; their executors put the essentials there.
func renderData(tool string, data map[string]any) string {
	if data == nil {
		return ""
	}
	switch tool {
	case "read_file":
		content, _ := data["content"].(string)
		return truncateLines(content, maxFeedbackLines)
	case "edit_file":
		diff, _ := data["diff"].(string)
		return truncateLines(diff, maxFeedbackLines)
	case "list_files":
		return renderEntries(data)
	case "search_in_files":
		return renderMatches(data)
	case "run_command":
		return renderCommandOutput(data)
	case "git_status":
		status, _ := data["status"].(string)
		return truncateLines(status, maxFeedbackLines)
	case "git_diff":
		diff, _ := data["diff"].(string)
		return truncateLines(diff, maxFeedbackLines)
	case "git_log":
		log, _ := data["log"].(string)
		return truncateLines(log, maxFeedbackLines)
	}
	return ""
}

func renderEntries(data map[string]any) string {
	entries, _ := data["entries"].([]map[string]any)
	if entries == nil {
		return ""
	}
	var sb strings.Builder
	for i, e := range entries {
		if i >= maxFeedbackEntries {
			fmt.Fprintf(&sb, "... %d more entries\n", len(entries)-maxFeedbackEntries)
			break
		}
		name, _ := e["name"].(string)
		typ, _ := e["type"].(string)
		if typ == "directory" {
			fmt.Fprintf(&sb, "%s/\n", name)
		} else {
			fmt.Fprintf(&sb, "%s\n", name)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderMatches(data map[string]any) string {
	matches, _ := data["matches"].([]string)
	if matches == nil {
		return ""
	}
	var sb strings.Builder
	for i, m := range matches {
		if i >= maxFeedbackMatches {
			fmt.Fprintf(&sb, "... %d more matches\n", len(matches)-maxFeedbackMatches)
			break
		}
		sb.WriteString(m)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderCommandOutput(data map[string]any) string {
	stdout, _ := data["stdout"].(string)
	stderr, _ := data["stderr"].(string)

	var sb strings.Builder
	if strings.TrimSpace(stdout) != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(truncateLines(stdout, maxFeedbackLines))
		sb.WriteString("\n")
	}
	if strings.TrimSpace(stderr) != "" {
		sb.WriteString("stderr:\n")
		sb.WriteString(truncateLines(stderr, maxFeedbackLines))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// truncateLines keeps the first max lines of s and appends a marker with
// the count of what was dropped.
func truncateLines(s string, max int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= max {
		return s
	}
	kept := strings.Join(lines[:max], "\n")
	return fmt.Sprintf("%s\n... %d more lines truncated", kept, len(lines)-max)
}
