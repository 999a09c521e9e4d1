package llm

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in an ordered conversation. The agent layer treats
// Content opaquely; adapters translate the sequence into whatever shape
// their backend expects.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Usage reports token consumption for one request, when the backend
// reports it. Zero values mean the backend did not say.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates usage from another response.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// Response is the result of one blocking generation call.
type Response struct {
	Text     string        `json:"text"`
	Model    string        `json:"model"`
	Provider string        `json:"provider"`
	Usage    Usage         `json:"usage"`
	Duration time.Duration `json:"duration"`
}

// StreamChunk is one increment of a streaming generation. After a chunk
// with Done set (or a non-nil Err), no further chunks arrive and the
// channel is closed. A stream is finite and not restartable.
type StreamChunk struct {
	Text  string `json:"text"`
	Done  bool   `json:"done"`
	Usage *Usage `json:"usage,omitempty"`
	Err   error  `json:"-"`
}
