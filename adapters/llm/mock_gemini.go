package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/satriahrh/voicectl/server/domain/repositories"
)

// MockLLM answers without a model so the server runs offline.
type MockLLM struct{}

var _ repositories.LargeLanguageModel = (*MockLLM)(nil)

// NewMockLLM creates a new mock model.
func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

// Generate implements repositories.LargeLanguageModel. Meeting matching
// prompts get "无".
func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "会议ID") {
		return "无", nil
	}
	return "好的，我知道了。", nil
}

// GenerateChat implements repositories.LargeLanguageModel
func (m *MockLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return &MockChatSession{history: append([]repositories.ChatMessage(nil), history...)}, nil
}

// MockChatSession implements repositories.ChatSession. A message that
// names a declared tool calls it without arguments.
type MockChatSession struct {
	mu      sync.Mutex
	history []repositories.ChatMessage
	tools   []repositories.Tool
	exec    repositories.ToolExecutor
}

// SendMessage implements repositories.ChatSession
func (s *MockChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return repositories.ChatMessage{}, err
	}
	s.mu.Lock()
	tools, exec := s.tools, s.exec
	s.mu.Unlock()

	content := fmt.Sprintf("你说的是“%s”。我听到了！还有什么想聊的吗？", message.Content)
	for _, t := range tools {
		if exec == nil || !strings.Contains(message.Content, t.Name) {
			continue
		}
		output, err := exec(ctx, t.Name, nil)
		if err != nil {
			content = fmt.Sprintf("调用%s失败了。", t.Name)
		} else {
			content = fmt.Sprintf("已调用%s：%s", t.Name, output)
		}
		break
	}

	reply := repositories.ChatMessage{Role: repositories.AssistantRole, Content: content}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, message, reply)
	return reply, nil
}

// SetTools implements repositories.ChatSession
func (s *MockChatSession) SetTools(tools []repositories.Tool, exec repositories.ToolExecutor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = tools
	s.exec = exec
}

// Append implements repositories.ChatSession
func (s *MockChatSession) Append(message repositories.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, message)
}

// History implements repositories.ChatSession
func (s *MockChatSession) History() ([]repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repositories.ChatMessage(nil), s.history...), nil
}
