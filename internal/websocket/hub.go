package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/config"
	"github.com/satriahrh/voicectl/server/internal/metrics"
	"github.com/satriahrh/voicectl/server/internal/playback"
	"github.com/satriahrh/voicectl/server/internal/protocol"
	"github.com/satriahrh/voicectl/server/internal/task"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Outbound buffer per client, in messages.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Devices authenticate with a bearer token, not cookies.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Conversation is the chat policy the controller hands text events to.
type Conversation interface {
	Detect(ctx context.Context, sess *entities.Session, ch playback.Channel, text string) error
	Goodbye(ctx context.Context, sess *entities.Session, ch playback.Channel)
	ActiveChat(ctx context.Context, sess *entities.Session, ch playback.Channel, topic string) error
	MeetingReminder(ctx context.Context, sess *entities.Session, ch playback.Channel, msg protocol.MeetingReminder) error
	Abort(sess *entities.Session, ch playback.Channel)
	SessionClosed(sess *entities.Session)
}

// SegmentProcessor takes ownership of flushed speech segments.
type SegmentProcessor interface {
	Process(ctx context.Context, sess *entities.Session, seg *entities.SpeechSegment) error
}

// ToolChannel is the device-side tool server reached over mcp messages.
type ToolChannel interface {
	Start(ctx context.Context, sess *entities.Session, ch playback.Channel) error
	Handle(sess *entities.Session, payload json.RawMessage) error
	Tools(sessionID string) []string
	Forget(sessionID string)
}

// Deps are the collaborators shared by every client.
type Deps struct {
	Config    *config.Manager
	Scheduler *playback.Scheduler
	VAD       repositories.VoiceActivityDetectorFactory
	Tools     ToolChannel
	// Restart is invoked after a restart command was acknowledged.
	Restart func()
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

// SessionInfo describes a connected session for the admin API.
type SessionInfo struct {
	SessionID     string    `json:"session_id"`
	DeviceID      string    `json:"device_id"`
	DeviceName    string    `json:"device_name,omitempty"`
	ListenMode    string    `json:"listen_mode"`
	TerminalMode  string    `json:"terminal_mode"`
	InMeeting     bool      `json:"in_meeting"`
	Speaking      bool      `json:"speaking"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Tools         []string  `json:"tools,omitempty"`
}

// Hub maintains the set of active clients.
type Hub struct {
	// Registered clients, keyed by session id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	deps         Deps
	conversation Conversation
	segments     SegmentProcessor
	tasks        *task.Group

	done   chan struct{}
	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(deps Deps, logger *zap.Logger) *Hub {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deps:       deps,
		tasks:      task.NewGroup("session", 0, logger),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Attach wires the conversation flow. It must be called before Run.
func (h *Hub) Attach(conversation Conversation, segments SegmentProcessor) {
	h.conversation = conversation
	h.segments = segments
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.session.ID()] = client
			h.mu.Unlock()
			h.deps.Metrics.SessionOpened()
			h.logger.Info("Client registered",
				zap.String("deviceID", client.session.DeviceID()),
				zap.String("sessionID", client.session.ID()))

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.session.ID()]
			if ok {
				delete(h.clients, client.session.ID())
			}
			h.mu.Unlock()
			if ok {
				client.teardown()
				h.deps.Metrics.SessionClosed()
			}
			h.logger.Info("Client unregistered",
				zap.String("deviceID", client.session.DeviceID()),
				zap.String("sessionID", client.session.ID()))

		case <-h.done:
			return
		}
	}
}

// Stop ends Run, closes every connection and waits up to timeout for
// session tasks.
func (h *Hub) Stop(timeout time.Duration) {
	close(h.done)
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.teardown()
		h.deps.Metrics.SessionClosed()
	}
	if !h.tasks.Close(timeout) {
		h.logger.Warn("Session tasks still running at shutdown")
	}
}

// Channel returns the outbound channel of a session.
func (h *Hub) Channel(sessionID string) (playback.Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[sessionID]
	if !ok {
		return nil, false
	}
	return c, true
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// Sessions lists connected sessions ordered by connection time.
func (h *Hub) Sessions() []SessionInfo {
	clients := h.snapshot()
	infos := make([]SessionInfo, 0, len(clients))
	for _, c := range clients {
		s := c.session
		info := SessionInfo{
			SessionID:     s.ID(),
			DeviceID:      s.DeviceID(),
			DeviceName:    s.DeviceName(),
			ListenMode:    string(s.ListenMode()),
			TerminalMode:  string(s.TerminalMode()),
			InMeeting:     s.InMeeting(),
			Speaking:      s.Speaking(),
			ConnectedAt:   s.CreatedAt(),
			LastActivity:  s.LastActivity(),
			LastHeartbeat: s.LastHeartbeat(),
		}
		if h.deps.Tools != nil {
			info.Tools = h.deps.Tools.Tools(s.ID())
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// ActiveSessions returns the number of connected clients.
func (h *Hub) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
