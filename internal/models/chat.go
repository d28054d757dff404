package models

import (
	"time"
)

// Chat represents a stored conversation. It provides basic identification and labeling capabilities
// for listing saved transcripts.
type Chat struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// Message represents an individual entry within a conversation. It contains its unique identifier, the
// participant's role, the accumulated content and the precise time when the message was created.
//
// Content and Reasoning are accumulators: an assistant message is created empty and grows as deltas
// arrive from the stream.
type Message struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time

	// Reasoning would be filled only for assistant messages whose model emits an intermediate
	// reasoning channel.
	Reasoning string

	// FinishReason and Usage would be filled once the upstream reports the end of generation.
	FinishReason string
	Usage        *Usage
}

// Usage holds the token accounting reported with a finished generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Turn is the outbound projection of a Message. Identifiers, timestamps and reasoning are never sent
// upstream.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload of one streaming chat request.
type ChatRequest struct {
	Messages []Turn `json:"messages"`

	// EnableThinking overrides the server default for the reasoning channel when not nil.
	EnableThinking *bool `json:"enable_thinking,omitempty"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a user message.
	RoleUser Role = "user"
	// RoleAssistant represents an assistant message. A message with this role may carry reasoning
	// alongside its content.
	RoleAssistant Role = "assistant"
	// RoleSystem is only used upstream of the relay, for the configured system prompt.
	RoleSystem Role = "system"
)

// Empty reports whether the message has received neither content nor reasoning.
func (m Message) Empty() bool {
	return m.Content == "" && m.Reasoning == ""
}

// Clone returns a copy of m that shares no mutable state with it.
func (m Message) Clone() Message {
	if m.Usage != nil {
		u := *m.Usage
		m.Usage = &u
	}
	return m
}

// Turns reduces messages to their outbound {role, content} form.
func Turns(messages []Message) []Turn {
	turns := make([]Turn, len(messages))
	for i, msg := range messages {
		turns[i] = Turn{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return turns
}
