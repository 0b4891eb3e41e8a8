package protocol

import (
	"encoding/json"
	"time"

	"github.com/satriahrh/voicectl/server/domain/entities"
)

// KeepaliveInterval is advertised in the hello acknowledgement, in seconds.
const KeepaliveInterval = 30

// TTSState is the state field of a tts message.
type TTSState string

const (
	TTSStart         TTSState = "start"
	TTSSentenceStart TTSState = "sentence_start"
	TTSSentenceEnd   TTSState = "sentence_end"
	TTSStop          TTSState = "stop"
)

// Error codes
const (
	CodeUnauthorized = 401
	CodeHelloFailed  = 5000
)

// HelloAck acknowledges a hello.
type HelloAck struct {
	Type              Kind                  `json:"type"`
	SessionID         string                `json:"session_id"`
	Status            string                `json:"status"`
	Transport         string                `json:"transport"`
	Keepalive         bool                  `json:"keepalive"`
	KeepaliveInterval int                   `json:"keepalive_interval"`
	Timestamp         int64                 `json:"timestamp"`
	AudioParams       *entities.AudioParams `json:"audio_params,omitempty"`
	DeviceID          string                `json:"device_id,omitempty"`
	DeviceName        string                `json:"device_name,omitempty"`
}

// HeartbeatAck answers a heartbeat.
type HeartbeatAck struct {
	Type      Kind   `json:"type"`
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"session_id"`
}

// STTMessage echoes recognized speech.
type STTMessage struct {
	Type      Kind   `json:"type"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// LLMMessage echoes assistant text or an emotion emoji.
type LLMMessage struct {
	Type      Kind   `json:"type"`
	Text      string `json:"text"`
	Emotion   string `json:"emotion,omitempty"`
	SessionID string `json:"session_id"`
}

// TTSMessage marks playback boundaries.
type TTSMessage struct {
	Type      Kind     `json:"type"`
	State     TTSState `json:"state"`
	Text      string   `json:"text,omitempty"`
	SessionID string   `json:"session_id"`
}

// TerminalModeMessage tells the client to switch work/sleep mode.
type TerminalModeMessage struct {
	Type Kind                  `json:"type"`
	Mode entities.TerminalMode `json:"mode"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	Type    Kind   `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ServerContent names the action a server reply refers to.
type ServerContent struct {
	Action string `json:"action"`
}

// ServerReply answers a control-channel command.
type ServerReply struct {
	Type    Kind           `json:"type"`
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Content *ServerContent `json:"content,omitempty"`
}

// MCPMessage carries one JSON-RPC message to the device's tool server.
type MCPMessage struct {
	Type      Kind            `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// IoTCommand invokes one method of a device thing.
type IoTCommand struct {
	Name       string                 `json:"name"`
	Method     string                 `json:"method"`
	Parameters map[string]interface{} `json:"parameters"`
}

// IoTCommandMessage asks the device to run IoT methods.
type IoTCommandMessage struct {
	Type      Kind         `json:"type"`
	SessionID string       `json:"session_id"`
	Commands  []IoTCommand `json:"commands"`
}

// NewHelloAck builds the handshake acknowledgement for sess.
func NewHelloAck(sess *entities.Session, transport string, serverParams *entities.AudioParams, now time.Time) *HelloAck {
	return &HelloAck{
		Type:              KindHello,
		SessionID:         sess.ID(),
		Status:            "success",
		Transport:         transport,
		Keepalive:         true,
		KeepaliveInterval: KeepaliveInterval,
		Timestamp:         now.UnixMilli(),
		AudioParams:       serverParams,
		DeviceID:          sess.DeviceID(),
		DeviceName:        sess.DeviceName(),
	}
}

func NewHeartbeatAck(sessionID string, now time.Time) *HeartbeatAck {
	return &HeartbeatAck{Type: KindHeartbeat, Timestamp: now.UnixMilli(), SessionID: sessionID}
}

func NewSTT(sessionID, text string) *STTMessage {
	return &STTMessage{Type: KindSTT, Text: text, SessionID: sessionID}
}

func NewLLM(sessionID, text, emotion string) *LLMMessage {
	return &LLMMessage{Type: KindLLM, Text: text, Emotion: emotion, SessionID: sessionID}
}

func NewTTS(sessionID string, state TTSState, text string) *TTSMessage {
	return &TTSMessage{Type: KindTTS, State: state, Text: text, SessionID: sessionID}
}

func NewTerminalMode(mode entities.TerminalMode) *TerminalModeMessage {
	return &TerminalModeMessage{Type: KindTerminalMode, Mode: mode}
}

// NewError creates a standardized error message
func NewError(code int, message, details string) *ErrorMessage {
	return &ErrorMessage{Type: KindError, Code: code, Message: message, Details: details}
}

func NewServerReply(status, message, action string) *ServerReply {
	reply := &ServerReply{Type: KindServer, Status: status, Message: message}
	if action != "" {
		reply.Content = &ServerContent{Action: action}
	}
	return reply
}

func NewMCP(sessionID string, payload json.RawMessage) *MCPMessage {
	return &MCPMessage{Type: KindMCP, SessionID: sessionID, Payload: payload}
}

func NewIoTCommand(sessionID string, commands ...IoTCommand) *IoTCommandMessage {
	return &IoTCommandMessage{Type: KindIoT, SessionID: sessionID, Commands: commands}
}
