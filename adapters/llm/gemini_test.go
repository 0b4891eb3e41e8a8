package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/satriahrh/voicectl/server/domain/repositories"
)

func TestValidateGeminiConfig(t *testing.T) {
	assert.Error(t, ValidateGeminiConfig(GeminiConfig{}))
	assert.Error(t, ValidateGeminiConfig(GeminiConfig{APIKey: "k", TopP: 1.5}))
	assert.Error(t, ValidateGeminiConfig(GeminiConfig{APIKey: "k", TopK: -1}))
	assert.NoError(t, ValidateGeminiConfig(GeminiConfig{APIKey: "k"}))
}

func TestToGeminiContents_SplitsSystem(t *testing.T) {
	system, contents := toGeminiContents([]repositories.ChatMessage{
		{Role: repositories.SystemRole, Content: "你是小智"},
		{Role: repositories.UserRole, Content: "你好"},
		{Role: repositories.AssistantRole, Content: "你好呀"},
	})
	assert.Equal(t, "你是小智", system)
	require.Len(t, contents, 2)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)

	back := fromGeminiContents(contents)
	assert.Equal(t, []repositories.ChatMessage{
		{Role: repositories.UserRole, Content: "你好"},
		{Role: repositories.AssistantRole, Content: "你好呀"},
	}, back)
}

func TestPreviewCountsRunes(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "好"
	}
	assert.Equal(t, 50, len([]rune(preview(long))))
	assert.Equal(t, "短", preview("短"))
}

func TestMockLLM(t *testing.T) {
	m := NewMockLLM()
	ctx := context.Background()

	answer, err := m.Generate(ctx, "会议ID: 001 - 周会")
	require.NoError(t, err)
	assert.Equal(t, "无", answer)

	chat, err := m.GenerateChat(ctx, []repositories.ChatMessage{{Role: repositories.SystemRole, Content: "sys"}})
	require.NoError(t, err)
	reply, err := chat.SendMessage(ctx, repositories.ChatMessage{Role: repositories.UserRole, Content: "讲个故事"})
	require.NoError(t, err)
	assert.Equal(t, repositories.AssistantRole, reply.Role)
	assert.Contains(t, reply.Content, "讲个故事")

	chat.Append(repositories.ChatMessage{Role: repositories.AssistantRole, Content: "主动话题"})
	history, err := chat.History()
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestMockChatSession_CallsNamedTool(t *testing.T) {
	chat, err := NewMockLLM().GenerateChat(context.Background(), nil)
	require.NoError(t, err)

	var called []string
	chat.SetTools([]repositories.Tool{{Name: "get_volume"}}, func(ctx context.Context, name string, args map[string]interface{}) (string, error) {
		called = append(called, name)
		return "50", nil
	})

	reply, err := chat.SendMessage(context.Background(), repositories.ChatMessage{Role: repositories.UserRole, Content: "请帮我 get_volume"})
	require.NoError(t, err)
	assert.Equal(t, []string{"get_volume"}, called)
	assert.Equal(t, "已调用get_volume：50", reply.Content)

	chat.SetTools(nil, nil)
	reply, err = chat.SendMessage(context.Background(), repositories.ChatMessage{Role: repositories.UserRole, Content: "get_volume"})
	require.NoError(t, err)
	assert.Len(t, called, 1)
	assert.Contains(t, reply.Content, "我听到了")
}

// geminiServer answers generateContent requests with the scripted bodies in
// order and records the requests it saw.
type geminiServer struct {
	mu       sync.Mutex
	replies  []string
	requests []map[string]any
}

func (s *geminiServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, body)
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(reply))
}

func newGeminiForTest(t *testing.T, srv *geminiServer) *GeminiLLM {
	t.Helper()
	server := httptest.NewServer(srv)
	t.Cleanup(server.Close)
	g, err := NewGeminiLLM(context.Background(), GeminiConfig{APIKey: "test-key", BaseURL: server.URL + "/"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return g
}

func TestGeminiChatSession_FunctionCalling(t *testing.T) {
	srv := &geminiServer{replies: []string{
		`{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"self.audio_speaker.set_volume","args":{"volume":30}}}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"好的，音量调到30了。"}]}}]}`,
	}}
	g := newGeminiForTest(t, srv)
	chat, err := g.GenerateChat(context.Background(), nil)
	require.NoError(t, err)

	var gotArgs map[string]interface{}
	chat.SetTools([]repositories.Tool{{
		Name:        "self.audio_speaker.set_volume",
		Description: "Set the volume",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"volume":{"type":"integer"}}}`),
	}}, func(ctx context.Context, name string, args map[string]interface{}) (string, error) {
		gotArgs = args
		return "volume set", nil
	})

	reply, err := chat.SendMessage(context.Background(), repositories.ChatMessage{Role: repositories.UserRole, Content: "小声一点"})
	require.NoError(t, err)
	assert.Equal(t, "好的，音量调到30了。", reply.Content)
	assert.Equal(t, map[string]interface{}{"volume": float64(30)}, gotArgs)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.requests, 2)
	assert.Contains(t, srv.requests[0], "tools")

	contents, ok := srv.requests[1]["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 3, "question, call and result")
	last := contents[2].(map[string]any)
	part := last["parts"].([]any)[0].(map[string]any)
	response := part["functionResponse"].(map[string]any)
	assert.Equal(t, "self.audio_speaker.set_volume", response["name"])
	assert.Equal(t, map[string]any{"output": "volume set"}, response["response"])

	history, err := chat.History()
	require.NoError(t, err)
	assert.Equal(t, []repositories.ChatMessage{
		{Role: repositories.UserRole, Content: "小声一点"},
		{Role: repositories.AssistantRole, Content: "好的，音量调到30了。"},
	}, history)
}

func TestGeminiChatSession_FunctionErrorIsReported(t *testing.T) {
	srv := &geminiServer{replies: []string{
		`{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"self.reboot","args":{}}}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"重启失败了。"}]}}]}`,
	}}
	g := newGeminiForTest(t, srv)
	chat, err := g.GenerateChat(context.Background(), nil)
	require.NoError(t, err)
	chat.SetTools([]repositories.Tool{{Name: "self.reboot"}}, func(ctx context.Context, name string, args map[string]interface{}) (string, error) {
		return "", errors.New("not allowed")
	})

	reply, err := chat.SendMessage(context.Background(), repositories.ChatMessage{Role: repositories.UserRole, Content: "重启一下"})
	require.NoError(t, err)
	assert.Equal(t, "重启失败了。", reply.Content)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	contents := srv.requests[1]["contents"].([]any)
	part := contents[len(contents)-1].(map[string]any)["parts"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"error": "not allowed"}, part["functionResponse"].(map[string]any)["response"])
}

func TestGeminiChatSession_ToolRoundsBounded(t *testing.T) {
	srv := &geminiServer{replies: []string{
		`{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"ping","args":{}}}]}}]}`,
	}}
	g := newGeminiForTest(t, srv)
	chat, err := g.GenerateChat(context.Background(), nil)
	require.NoError(t, err)
	calls := 0
	chat.SetTools([]repositories.Tool{{Name: "ping"}}, func(ctx context.Context, name string, args map[string]interface{}) (string, error) {
		calls++
		return "pong", nil
	})

	reply, err := chat.SendMessage(context.Background(), repositories.ChatMessage{Role: repositories.UserRole, Content: "一直调用"})
	require.NoError(t, err)
	assert.Contains(t, Fallbacks, reply.Content)
	assert.Equal(t, maxToolRounds, calls)
}
