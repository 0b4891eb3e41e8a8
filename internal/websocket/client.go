package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/playback"
	"github.com/satriahrh/voicectl/server/internal/protocol"
	"github.com/satriahrh/voicectl/server/internal/segmenter"
)

const transportName = "websocket"

// ErrClientClosed is returned by sends after the connection went away.
var ErrClientClosed = errors.New("client connection closed")

// WriteData is one outbound websocket message.
type WriteData struct {
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub. Its
// read loop is the only writer of the session's inbound state.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	session   *entities.Session
	segmenter *segmenter.Segmenter
	vad       repositories.VoiceActivityDetector
	queue     *playback.Queue

	ctx    context.Context
	cancel context.CancelFunc

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	logger *zap.Logger
}

var _ playback.Channel = (*Client)(nil)

func newClient(hub *Hub, conn *websocket.Conn, deviceID string, logger *zap.Logger) (*Client, error) {
	cfg := hub.deps.Config.Get()
	seg, err := segmenter.New(cfg.Segmenter, logger)
	if err != nil {
		return nil, fmt.Errorf("segmenter: %w", err)
	}

	sess := entities.NewSession(deviceID, hub.deps.Clock)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan WriteData, sendBufferSize),
		session:   sess,
		segmenter: seg,
		ctx:       ctx,
		cancel:    cancel,
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		logger: logger.With(
			zap.String("deviceID", deviceID),
			zap.String("sessionID", sess.ID())),
	}
	c.queue = hub.deps.Scheduler.NewQueue(sess, c, cfg.Session.PlaybackQueueSize)
	if err := c.resetDetector(); err != nil {
		c.logger.Warn("Voice activity detection unavailable", zap.Error(err))
	}
	return c, nil
}

// HandleWebSocketWithAuth handles websocket requests with pre-authenticated device ID
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, deviceID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client, err := newClient(hub, conn, deviceID, logger)
	if err != nil {
		logger.Error("Failed to create session", zap.String("deviceID", deviceID), zap.Error(err))
		conn.Close()
		return err
	}

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.queue.Run(client.ctx)
	go client.writePump()
	go client.readPump()

	return nil
}

// Session returns the client's session.
func (c *Client) Session() *entities.Session {
	return c.session
}

func (c *Client) resetDetector() error {
	if c.hub.deps.VAD == nil {
		c.vad = nil
		return nil
	}
	d, err := c.hub.deps.VAD.NewDetector(c.session.AudioParams())
	if err != nil {
		c.vad = nil
		return err
	}
	c.vad = d
	return nil
}

// SendAudio implements playback.Sink.
func (c *Client) SendAudio(frame []byte) error {
	return c.write(WriteData{Type: websocket.BinaryMessage, Payload: frame})
}

// SendJSON implements playback.Sink.
func (c *Client) SendJSON(msg interface{}) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (c *Client) write(data WriteData) error {
	select {
	case <-c.done:
		return ErrClientClosed
	case <-c.closing:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-c.closing:
		return ErrClientClosed
	}
}

// Close asks the write pump to flush queued messages and close the
// connection. It never blocks.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	return nil
}

// Enqueue implements playback.Channel.
func (c *Client) Enqueue(ctx context.Context, item entities.PlaybackItem) error {
	return c.queue.Enqueue(ctx, item)
}

// teardown releases everything the session holds. Called once by the hub.
func (c *Client) teardown() {
	c.doneOnce.Do(func() {
		c.cancel()
		c.queue.Stop()
		close(c.done)
		if c.hub.conversation != nil {
			c.hub.conversation.SessionClosed(c.session)
		}
		if c.hub.deps.Tools != nil {
			c.hub.deps.Tools.Forget(c.session.ID())
		}
	})
}

// readPump pumps messages from the websocket connection to the session.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processAudioFrame(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the session to the websocket connection.
func (c *Client) writePump() {
	ticker := c.hub.deps.Clock.Ticker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.writeMessage(message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-c.closing:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-c.done:
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeMessage(message WriteData) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
		return err
	}
	if message.Type == websocket.BinaryMessage {
		c.hub.deps.Metrics.FrameSent()
	}
	return nil
}

// flush writes whatever is still buffered before a close.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			if err := c.writeMessage(message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// processAudioFrame runs one inbound frame through voice detection and
// segmentation.
func (c *Client) processAudioFrame(frame []byte) {
	sess := c.session
	sess.TouchHeartbeat()

	hasVoice := false
	if c.vad != nil {
		hasVoice = c.vad.HasVoice(frame)
	}

	if hasVoice && sess.JustWokenUp() {
		c.segmenter.Reset()
		return
	}

	if hasVoice {
		if sess.Speaking() && sess.ListenMode() != entities.ListenModeManual {
			c.logger.Info("Voice during playback, aborting")
			c.hub.conversation.Abort(sess, c)
		}
		sess.TouchActivity()
	} else {
		c.checkIdle()
	}

	c.segmenter.SetMeeting(sess.InMeeting())
	seg, outcome := c.segmenter.Ingest(frame, hasVoice)
	switch outcome {
	case segmenter.Flushed:
		c.dispatch(seg)
	case segmenter.Discarded:
		c.hub.deps.Metrics.SegmentDiscarded()
	}
}

// checkIdle starts the farewell once the session went quiet for too long.
func (c *Client) checkIdle() {
	sess := c.session
	timeout := c.hub.deps.Config.Get().Session.IdleTimeout
	if timeout <= 0 || sess.ClosePending() || sess.IdleFor() <= timeout {
		return
	}
	c.hub.conversation.Goodbye(c.ctx, sess, c)
}

func (c *Client) dispatch(seg *entities.SpeechSegment) {
	if seg.Len() == 0 {
		return
	}
	seg.FlushedAt = c.session.Now()
	c.hub.deps.Metrics.SegmentFlushed(string(seg.Reason), seg.Len())
	if c.hub.segments == nil {
		return
	}
	if err := c.hub.segments.Process(c.ctx, c.session, seg); err != nil {
		c.logger.Warn("Failed to dispatch segment", zap.Error(err))
	}
}

// processMessage handles one control message. Malformed input is echoed
// back unchanged; unknown kinds are logged and ignored.
func (c *Client) processMessage(message []byte) {
	c.session.TouchHeartbeat()

	msg, err := protocol.Parse(message)
	switch {
	case errors.Is(err, protocol.ErrUnknownKind):
		c.hub.deps.Metrics.ProtocolError("unknown")
		c.logger.Warn("Unknown message type", zap.Error(err))
		return
	case err != nil:
		c.hub.deps.Metrics.ProtocolError("malformed")
		c.logger.Warn("Malformed message", zap.Error(err))
		if werr := c.write(WriteData{Type: websocket.TextMessage, Payload: message}); werr != nil {
			c.logger.Debug("Failed to echo malformed message", zap.Error(werr))
		}
		return
	}

	switch m := msg.(type) {
	case protocol.Hello:
		c.handleHello(m)
	case protocol.Heartbeat:
		c.session.TouchActivity()
		c.reply(protocol.NewHeartbeatAck(c.session.ID(), c.session.Now()))
	case protocol.Listen:
		c.handleListen(m)
	case protocol.Abort:
		c.hub.conversation.Abort(c.session, c)
	case protocol.TerminalModeSync:
		c.session.SetTerminalMode(m.Mode)
	case protocol.ListenModeUpdate:
		c.setListenMode(m.ClientListenMode)
	case protocol.IoT:
		c.session.SetIoT(m.Descriptors, m.States)
	case protocol.MCP:
		c.handleMCP(m)
	case protocol.ActiveChat:
		c.background("active_chat", func(ctx context.Context) error {
			return c.hub.conversation.ActiveChat(ctx, c.session, c, m.Topic)
		})
	case protocol.MeetingReminder:
		c.background("meeting_reminder", func(ctx context.Context) error {
			return c.hub.conversation.MeetingReminder(ctx, c.session, c, m)
		})
	case protocol.Server:
		c.handleServer(m)
	}
}

func (c *Client) reply(msg interface{}) {
	if err := c.SendJSON(msg); err != nil {
		c.logger.Warn("Failed to send reply", zap.Error(err))
	}
}

func (c *Client) background(label string, fn func(ctx context.Context) error) {
	if err := c.hub.tasks.Go(c.ctx, label, fn); err != nil {
		c.logger.Warn("Background task rejected", zap.String("task", label), zap.Error(err))
	}
}

func (c *Client) setListenMode(mode entities.ListenMode) {
	if !mode.Valid() {
		c.logger.Warn("Ignoring unsupported listen mode", zap.String("mode", string(mode)))
		return
	}
	c.session.SetListenMode(mode)
	c.segmenter.SetListenMode(mode)
}

func (c *Client) handleHello(msg protocol.Hello) {
	sess := c.session
	if err := c.applyHello(msg); err != nil {
		c.logger.Error("Failed to handle hello", zap.Error(err))
		c.reply(protocol.NewError(protocol.CodeHelloFailed, "处理hello消息失败", err.Error()))
		return
	}

	params := c.hub.deps.Config.Get().Audio.Params()
	c.reply(protocol.NewHelloAck(sess, transportName, &params, sess.Now()))
	c.logger.Info("Session hello",
		zap.String("listenMode", string(sess.ListenMode())),
		zap.String("format", sess.AudioParams().Format))

	if sess.HasFeature("mcp") && c.hub.deps.Tools != nil {
		c.background("mcp_init", func(ctx context.Context) error {
			return c.hub.deps.Tools.Start(ctx, sess, c)
		})
	}
}

func (c *Client) applyHello(msg protocol.Hello) error {
	sess := c.session
	deviceID := sess.DeviceID()
	if deviceID == "" {
		deviceID = msg.DeviceID
	}
	sess.SetDevice(deviceID, msg.DeviceName)
	c.setListenMode(msg.ClientListenMode)
	sess.SetFeatures(msg.Features)
	if msg.AudioParams == nil {
		return nil
	}
	sess.SetAudioParams(*msg.AudioParams)
	if err := c.resetDetector(); err != nil {
		return fmt.Errorf("audio params: %w", err)
	}
	return nil
}

func (c *Client) handleListen(msg protocol.Listen) {
	sess := c.session
	if msg.Mode == protocol.ListenModeMeeting {
		switch msg.State {
		case protocol.ListenStart:
			sess.SetInMeeting(true)
			c.segmenter.Reset()
			c.logger.Info("Meeting started")
		case protocol.ListenEnd, protocol.ListenStop:
			sess.SetInMeeting(false)
			c.segmenter.Reset()
			c.logger.Info("Meeting ended")
		}
		return
	}
	if msg.Mode != "" {
		c.setListenMode(entities.ListenMode(msg.Mode))
	}

	switch msg.State {
	case protocol.ListenStart:
		if sess.ListenMode() == entities.ListenModeManual {
			c.segmenter.StartCapture()
		}
	case protocol.ListenStop:
		if sess.ListenMode() == entities.ListenModeManual {
			c.dispatch(c.segmenter.StopCapture())
		}
	case protocol.ListenDetect:
		c.segmenter.Reset()
		if !msg.HasText {
			return
		}
		if err := c.hub.conversation.Detect(c.ctx, sess, c, msg.Text); err != nil {
			c.logger.Warn("Failed to handle detect", zap.Error(err))
		}
	}
}

func (c *Client) handleMCP(msg protocol.MCP) {
	if c.hub.deps.Tools == nil {
		c.logger.Debug("Dropping mcp message, device tools disabled")
		return
	}
	if err := c.hub.deps.Tools.Handle(c.session, msg.Payload); err != nil {
		c.logger.Warn("Failed to handle mcp message", zap.Error(err))
	}
}

// handleServer runs an authenticated control command.
func (c *Client) handleServer(msg protocol.Server) {
	secret := c.hub.deps.Config.Get().Server.Secret
	if secret == "" {
		c.logger.Warn("Server command ignored, no secret configured", zap.String("action", msg.Action))
		return
	}
	if msg.Secret != secret {
		c.logger.Warn("Server command rejected", zap.String("action", msg.Action))
		c.reply(protocol.NewError(protocol.CodeUnauthorized, "服务器密钥验证失败", ""))
		return
	}

	switch msg.Action {
	case protocol.ActionUpdateConfig:
		if err := c.hub.deps.Config.Reload(); err != nil {
			c.reply(protocol.NewServerReply("error", "更新服务器配置失败", msg.Action))
			return
		}
		c.reply(protocol.NewServerReply("success", "配置更新成功", msg.Action))
	case protocol.ActionRestart:
		c.reply(protocol.NewServerReply("success", "服务器重启中...", msg.Action))
		if c.hub.deps.Restart != nil {
			c.logger.Info("Restart requested")
			go c.hub.deps.Restart()
		}
	default:
		c.logger.Warn("Unknown server action", zap.String("action", msg.Action))
	}
}
