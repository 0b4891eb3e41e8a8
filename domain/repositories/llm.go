package repositories

import (
	"context"
	"encoding/json"
)

// LargeLanguageModel abstracts any chat/LLM provider
type LargeLanguageModel interface {
	// Generate takes a single prompt and returns the model's reply
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateChat creates a chat session with history
	GenerateChat(ctx context.Context, history []ChatMessage) (ChatSession, error)
}

// ChatSession represents an ongoing conversation session
type ChatSession interface {
	SendMessage(ctx context.Context, message ChatMessage) (ChatMessage, error)
	// Append adds a message to the history without generating a reply.
	Append(message ChatMessage)
	History() ([]ChatMessage, error)
	// SetTools replaces the functions the model may call on later turns.
	// A nil executor disables calling.
	SetTools(tools []Tool, exec ToolExecutor)
}

// Tool is a function offered to the model.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object; empty means no arguments.
	Parameters json.RawMessage
}

// ToolExecutor runs a call the model made and returns its text result.
type ToolExecutor func(ctx context.Context, name string, args map[string]interface{}) (string, error)

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role defines the type of message sender
type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
	SystemRole    Role = "system"
)
