// Package llm defines the Provider interface for the text chat backend.
//
// A provider wraps a remote or local model API and turns a system prompt plus
// conversation history into the character's next reply.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	// Role is RoleUser or RoleAssistant.
	Role string `json:"role"`

	Content string `json:"content"`
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs for one reply.
type CompletionRequest struct {
	// SystemPrompt is injected ahead of Messages.
	SystemPrompt string

	// Messages is the ordered history; the last entry is the user's turn.
	Messages []Message

	// Temperature in [0, 2]. Zero means the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero means the provider default.
	MaxTokens int
}

// CompletionResponse is a complete reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
