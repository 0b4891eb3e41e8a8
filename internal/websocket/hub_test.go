package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/config"
	"github.com/satriahrh/voicectl/server/internal/metrics"
	"github.com/satriahrh/voicectl/server/internal/playback"
	"github.com/satriahrh/voicectl/server/internal/protocol"
	"github.com/satriahrh/voicectl/server/usecase"
)

type fakeConversation struct {
	mu       sync.Mutex
	detected []string
	goodbyes int
	aborts   int
	closed   int
}

func (f *fakeConversation) Detect(ctx context.Context, sess *entities.Session, ch playback.Channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detected = append(f.detected, text)
	return nil
}

func (f *fakeConversation) Goodbye(ctx context.Context, sess *entities.Session, ch playback.Channel) {
	if !sess.MarkClosePending() {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.goodbyes++
}

func (f *fakeConversation) ActiveChat(ctx context.Context, sess *entities.Session, ch playback.Channel, topic string) error {
	return nil
}

func (f *fakeConversation) MeetingReminder(ctx context.Context, sess *entities.Session, ch playback.Channel, msg protocol.MeetingReminder) error {
	return nil
}

func (f *fakeConversation) Abort(sess *entities.Session, ch playback.Channel) {
	sess.Abort()
	f.mu.Lock()
	f.aborts++
	f.mu.Unlock()
	_ = ch.SendJSON(protocol.NewTTS(sess.ID(), protocol.TTSStop, ""))
}

func (f *fakeConversation) SessionClosed(sess *entities.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *fakeConversation) counts() (goodbyes, aborts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.goodbyes, f.aborts
}

type fakeSegments struct {
	mu       sync.Mutex
	segments []*entities.SpeechSegment
}

func (f *fakeSegments) Process(ctx context.Context, sess *entities.Session, seg *entities.SpeechSegment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, seg)
	return nil
}

func (f *fakeSegments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.segments)
}

// firstByteVAD treats frames starting with 1 as voiced.
type firstByteVAD struct{}

func (firstByteVAD) NewDetector(entities.AudioParams) (repositories.VoiceActivityDetector, error) {
	return firstByteVAD{}, nil
}

func (firstByteVAD) HasVoice(frame []byte) bool {
	return len(frame) > 0 && frame[0] == 1
}

type testEnv struct {
	hub      *Hub
	clock    *clock.Mock
	conv     *fakeConversation
	segments *fakeSegments
	server   *httptest.Server
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func setupTestHub(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	sched, err := playback.New(cfg.Playback, clk, m, logger)
	require.NoError(t, err)

	hub := NewHub(Deps{
		Config:    config.NewStaticManager(cfg, logger),
		Scheduler: sched,
		VAD:       firstByteVAD{},
		Tools:     usecase.NewDeviceTools(logger),
		Clock:     clk,
		Metrics:   m,
	}, logger)
	env := &testEnv{
		hub:      hub,
		clock:    clk,
		conv:     &fakeConversation{},
		segments: &fakeSegments{},
		metrics:  m,
		logger:   logger,
	}
	hub.Attach(env.conv, env.segments)
	go hub.Run()

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocketWithAuth(hub, c, "device-1", logger)
	})
	env.server = httptest.NewServer(e)
	t.Cleanup(func() {
		env.server.Close()
		hub.Stop(time.Second)
	})
	return env
}

func (env *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.Eventually(t, func() bool { return env.hub.ActiveSessions() == 1 }, time.Second, 5*time.Millisecond)
	return ws
}

func (env *testEnv) client(t *testing.T) *Client {
	t.Helper()
	clients := env.hub.snapshot()
	require.Len(t, clients, 1)
	return clients[0]
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()
	for {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		mt, data, err := ws.ReadMessage()
		require.NoError(t, err)
		if mt != websocket.TextMessage {
			continue
		}
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg), string(data))
		return msg
	}
}

func sendJSON(t *testing.T, ws *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func TestHub_HelloAck(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)

	sendJSON(t, ws, `{"type":"hello","device_name":"kitchen","audio_params":{"format":"opus","sample_rate":16000,"channels":1,"frame_duration":60}}`)
	ack := readJSON(t, ws)

	sess := env.client(t).session
	assert.Equal(t, "hello", ack["type"])
	assert.Equal(t, sess.ID(), ack["session_id"])
	assert.Equal(t, "websocket", ack["transport"])
	assert.Equal(t, float64(protocol.KeepaliveInterval), ack["keepalive_interval"])
	assert.Equal(t, "device-1", ack["device_id"])
	assert.Equal(t, "kitchen", ack["device_name"])
	assert.NotNil(t, ack["audio_params"])
}

func TestHub_HelloTwiceInitializesToolsOnce(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)

	hello := `{"type":"hello","features":{"mcp":true},"client_listen_mode":"manual"}`
	sendJSON(t, ws, hello)
	sendJSON(t, ws, `{"type":"hello","features":{"mcp":true},"client_listen_mode":"auto"}`)

	var acks, inits int
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		ws.SetReadDeadline(deadline)
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		switch msg["type"] {
		case "hello":
			acks++
		case "mcp":
			inits++
		}
	}
	assert.Equal(t, 2, acks)
	assert.Equal(t, 1, inits)
	assert.Equal(t, entities.ListenModeAuto, env.client(t).session.ListenMode())
}

func TestHub_HeartbeatAck(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)
	sess := env.client(t).session

	env.clock.Add(30 * time.Second)
	sendJSON(t, ws, `{"type":"heartbeat"}`)
	ack := readJSON(t, ws)

	assert.Equal(t, "heartbeat", ack["type"])
	assert.Equal(t, float64(env.clock.Now().UnixMilli()), ack["timestamp"])
	assert.True(t, env.clock.Now().Equal(sess.LastHeartbeat()))
	assert.True(t, env.clock.Now().Equal(sess.LastActivity()))
}

func TestHub_MalformedMessageEchoed(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)

	sendJSON(t, ws, `not json at all`)
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "not json at all", string(data))
}

func TestHub_UnknownKindIgnored(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)

	sendJSON(t, ws, `{"type":"teleport"}`)
	sendJSON(t, ws, `{"type":"heartbeat"}`)
	msg := readJSON(t, ws)
	assert.Equal(t, "heartbeat", msg["type"])
}

func TestHub_ServerSecret(t *testing.T) {
	env := setupTestHub(t, func(cfg *config.Config) { cfg.Server.Secret = "s3cret" })
	ws := env.dial(t)

	sendJSON(t, ws, `{"type":"server","action":"update_config","content":{"secret":"wrong"}}`)
	msg := readJSON(t, ws)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, float64(protocol.CodeUnauthorized), msg["code"])
	assert.Equal(t, "服务器密钥验证失败", msg["message"])
}

func TestHub_ServerRestart(t *testing.T) {
	restarted := make(chan struct{})
	env := setupTestHub(t, func(cfg *config.Config) { cfg.Server.Secret = "s3cret" })
	env.hub.deps.Restart = func() { close(restarted) }
	ws := env.dial(t)

	sendJSON(t, ws, `{"type":"server","action":"restart","content":{"secret":"s3cret"}}`)
	msg := readJSON(t, ws)
	assert.Equal(t, "server", msg["type"])
	assert.Equal(t, "success", msg["status"])

	select {
	case <-restarted:
	case <-time.After(time.Second):
		t.Fatal("restart was not triggered")
	}
}

func TestHub_ServerIgnoredWithoutSecret(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)

	sendJSON(t, ws, `{"type":"server","action":"restart","content":{"secret":""}}`)
	sendJSON(t, ws, `{"type":"heartbeat"}`)
	assert.Equal(t, "heartbeat", readJSON(t, ws)["type"])
}

func TestHub_DetectAndAbort(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)

	sendJSON(t, ws, `{"type":"listen","state":"detect","text":"你好"}`)
	sendJSON(t, ws, `{"type":"abort"}`)
	msg := readJSON(t, ws)
	assert.Equal(t, "tts", msg["type"])
	assert.Equal(t, "stop", msg["state"])

	env.conv.mu.Lock()
	defer env.conv.mu.Unlock()
	assert.Equal(t, []string{"你好"}, env.conv.detected)
	assert.Equal(t, 1, env.conv.aborts)
}

func TestHub_MeetingToggle(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)
	sess := env.client(t).session

	sendJSON(t, ws, `{"type":"listen","mode":"meeting","state":"start"}`)
	sendJSON(t, ws, `{"type":"heartbeat"}`)
	readJSON(t, ws)
	assert.True(t, sess.InMeeting())

	sendJSON(t, ws, `{"type":"listen","mode":"meeting","state":"end"}`)
	sendJSON(t, ws, `{"type":"heartbeat"}`)
	readJSON(t, ws)
	assert.False(t, sess.InMeeting())
}

func TestHub_SilentFramesNeverDispatch(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)

	for i := 0; i < 60; i++ {
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0, 0, 0}))
	}
	sendJSON(t, ws, `{"type":"heartbeat"}`)
	readJSON(t, ws)
	assert.Equal(t, 0, env.segments.count())
}

func TestHub_SpeechThenSilenceDispatchesOnce(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)

	for i := 0; i < 37; i++ {
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{1, 0, 0}))
	}
	for i := 0; i < 27; i++ {
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0, 0, 0}))
	}
	sendJSON(t, ws, `{"type":"heartbeat"}`)
	readJSON(t, ws)

	require.Equal(t, 1, env.segments.count())
	env.segments.mu.Lock()
	defer env.segments.mu.Unlock()
	seg := env.segments.segments[0]
	assert.Equal(t, entities.FlushSilence, seg.Reason)
	assert.Equal(t, 37, seg.VoiceFrames)
}

func TestHub_VoiceDuringPlaybackAborts(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)
	env.client(t).session.BeginResponse()

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{1, 0, 0}))
	msg := readJSON(t, ws)
	assert.Equal(t, "stop", msg["state"])
	_, aborts := env.conv.counts()
	assert.Equal(t, 1, aborts)
}

func TestHub_WakeGraceOnlyMutesVoice(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)
	sess := env.client(t).session
	sess.WakeUp(time.Hour)
	sess.BeginResponse()

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{1, 0, 0}))
	sendJSON(t, ws, `{"type":"heartbeat"}`)
	readJSON(t, ws)

	env.clock.Add(121 * time.Second)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0, 0, 0}))
	sendJSON(t, ws, `{"type":"heartbeat"}`)
	readJSON(t, ws)

	goodbyes, aborts := env.conv.counts()
	assert.Equal(t, 0, aborts, "voice right after waking is ignored")
	assert.Equal(t, 1, goodbyes, "silence still counts toward idle")
}

func TestHub_PlaybackFramesCountedOnce(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)
	c := env.client(t)
	id := c.session.BeginResponse()

	// A short first sentence goes out entirely from the pre-buffer.
	require.NoError(t, c.Enqueue(context.Background(), entities.PlaybackItem{
		Type: entities.SentenceFirst, Frames: [][]byte{{1}, {2}, {3}}, Text: "你好呀朋友", ResponseID: id,
	}))

	binary := 0
	for binary < 3 {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		mt, _, err := ws.ReadMessage()
		require.NoError(t, err)
		if mt == websocket.BinaryMessage {
			binary++
		}
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(env.metrics.PlaybackFrames) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return testutil.ToFloat64(env.metrics.PlaybackFrames) > 3
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSessionCleanup_IdleGoodbyeOnce(t *testing.T) {
	env := setupTestHub(t, nil)
	env.dial(t)
	cleanup := NewSessionCleanupService(env.hub, env.logger)

	env.clock.Add(119 * time.Second)
	cleanup.runCleanup()
	goodbyes, _ := env.conv.counts()
	assert.Equal(t, 0, goodbyes)

	env.clock.Add(2 * time.Second)
	cleanup.runCleanup()
	cleanup.runCleanup()
	goodbyes, _ = env.conv.counts()
	assert.Equal(t, 1, goodbyes)
	assert.True(t, env.client(t).session.ClosePending())
}

func TestSessionCleanup_StaleSessionClosed(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)
	cleanup := NewSessionCleanupService(env.hub, env.logger)

	env.clock.Add(6 * time.Minute)
	cleanup.runCleanup()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
	}
	require.Eventually(t, func() bool { return env.hub.ActiveSessions() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_SessionsListing(t *testing.T) {
	env := setupTestHub(t, nil)
	ws := env.dial(t)
	sendJSON(t, ws, `{"type":"hello","device_name":"desk"}`)
	readJSON(t, ws)

	sessions := env.hub.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "device-1", sessions[0].DeviceID)
	assert.Equal(t, "desk", sessions[0].DeviceName)
	assert.Equal(t, "auto", sessions[0].ListenMode)
}

func TestHub_ChannelLookup(t *testing.T) {
	env := setupTestHub(t, nil)
	env.dial(t)
	sess := env.client(t).session

	ch, ok := env.hub.Channel(sess.ID())
	require.True(t, ok)
	assert.NotNil(t, ch)

	_, ok = env.hub.Channel("missing")
	assert.False(t, ok)
}
