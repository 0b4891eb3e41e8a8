package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/voicectl/server/domain/repositories"
)

// Fallbacks are spoken when the model cannot answer.
var Fallbacks = []string{
	"不好意思，我刚才走神了，我们换个话题聊聊吧。",
	"这个问题有点难，让我想一想再告诉你。",
	"网络好像有点慢，我们稍后再聊这个吧。",
}

// GeminiChatSession implements the ChatSession interface
type GeminiChatSession struct {
	llm    *GeminiLLM
	config *genai.GenerateContentConfig

	mu      sync.Mutex
	history []*genai.Content
	tools   []*genai.Tool
	exec    repositories.ToolExecutor
}

var _ repositories.ChatSession = (*GeminiChatSession)(nil)

// SendMessage sends a message and gets a response, updating the history.
// Model failures produce a fallback reply instead of an error.
func (s *GeminiChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userContent := genai.NewContentFromText(message.Content, genai.RoleUser)
	contents := make([]*genai.Content, 0, len(s.history)+1)
	contents = append(contents, s.history...)
	contents = append(contents, userContent)

	config := s.config
	if len(s.tools) > 0 && s.exec != nil {
		withTools := *s.config
		withTools.Tools = s.tools
		config = &withTools
	}
	responseText, err := s.llm.converse(ctx, contents, config, s.exec)
	if err != nil {
		if ctx.Err() != nil {
			return repositories.ChatMessage{}, ctx.Err()
		}
		s.llm.logger.Error("Failed to send message in chat session", zap.Error(err))
		responseText = Fallbacks[int(time.Now().UnixNano())%len(Fallbacks)]
	}

	s.history = append(s.history, userContent, genai.NewContentFromText(responseText, genai.RoleModel))
	s.llm.logger.Debug("Chat session message processed",
		zap.String("userMessage", preview(message.Content)),
		zap.String("responsePreview", preview(responseText)),
		zap.Int("historyLength", len(s.history)))

	return repositories.ChatMessage{Role: repositories.AssistantRole, Content: responseText}, nil
}

// Append adds a message to the history without calling the model.
func (s *GeminiChatSession) Append(message repositories.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, genai.NewContentFromText(message.Content, geminiRole(message.Role)))
}

// SetTools declares the functions the model may call from now on.
func (s *GeminiChatSession) SetTools(tools []repositories.Tool, exec repositories.ToolExecutor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = functionDeclarations(tools)
	s.exec = exec
}

// History returns the current conversation history
func (s *GeminiChatSession) History() ([]repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromGeminiContents(s.history), nil
}

func preview(text string) string {
	r := []rune(text)
	if len(r) > 50 {
		r = r[:50]
	}
	return string(r)
}

func geminiRole(role repositories.Role) genai.Role {
	if role == repositories.AssistantRole {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// toGeminiContents splits system messages off the history.
func toGeminiContents(messages []repositories.ChatMessage) (string, []*genai.Content) {
	var system []string
	var contents []*genai.Content
	for _, msg := range messages {
		if msg.Role == repositories.SystemRole {
			system = append(system, msg.Content)
			continue
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, geminiRole(msg.Role)))
	}
	return strings.Join(system, "\n"), contents
}

func fromGeminiContents(contents []*genai.Content) []repositories.ChatMessage {
	var messages []repositories.ChatMessage
	for _, content := range contents {
		role := repositories.UserRole
		if content.Role == genai.RoleModel {
			role = repositories.AssistantRole
		}
		var text strings.Builder
		for _, part := range content.Parts {
			text.WriteString(part.Text)
		}
		if text.Len() > 0 {
			messages = append(messages, repositories.ChatMessage{Role: role, Content: text.String()})
		}
	}
	return messages
}
