// Package protocol defines the JSON control messages exchanged with devices
// over the websocket. Inbound messages decode into one concrete type per
// kind; binary frames are audio and never pass through here.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/satriahrh/voicectl/server/domain/entities"
)

// Kind is the "type" tag of a control message.
type Kind string

// Supported message kinds
const (
	KindHello            Kind = "hello"
	KindHeartbeat        Kind = "heartbeat"
	KindListen           Kind = "listen"
	KindAbort            Kind = "abort"
	KindTerminalModeSync Kind = "terminal_mode_sync"
	KindListenModeUpdate Kind = "listen_mode_update"
	KindIoT              Kind = "iot"
	KindMCP              Kind = "mcp"
	KindActiveChat       Kind = "active_chat"
	KindMeetingReminder  Kind = "meeting_reminder"
	KindServer           Kind = "server"

	// Outbound only
	KindSTT          Kind = "stt"
	KindLLM          Kind = "llm"
	KindTTS          Kind = "tts"
	KindTerminalMode Kind = "terminal_mode"
	KindError        Kind = "error"
)

var (
	// ErrMalformed means the payload is not a JSON object of the expected
	// shape. The raw message is echoed back to the client.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownKind means the message parsed but its type is not handled.
	ErrUnknownKind = errors.New("unknown message kind")
)

// Inbound is implemented by every message a device may send.
type Inbound interface {
	Kind() Kind
}

// Hello opens the session and negotiates audio and features.
type Hello struct {
	DeviceID         string
	DeviceName       string
	Token            string
	ClientListenMode entities.ListenMode
	AudioParams      *entities.AudioParams
	Features         map[string]bool
}

// Heartbeat keeps the session alive.
type Heartbeat struct{}

// ListenState is the state field of a listen message.
type ListenState string

const (
	ListenStart  ListenState = "start"
	ListenStop   ListenState = "stop"
	ListenDetect ListenState = "detect"
	ListenEnd    ListenState = "end"
)

// ListenModeMeeting is the listen mode that toggles meeting capture.
const ListenModeMeeting = "meeting"

// Listen drives capture boundaries. Detect carries recognized text inline.
type Listen struct {
	Mode    string
	State   ListenState
	Text    string
	HasText bool
}

// Abort interrupts playback.
type Abort struct{}

// TerminalModeSync reports the client's work/sleep mode.
type TerminalModeSync struct {
	Mode entities.TerminalMode
}

// ListenModeUpdate changes the capture policy.
type ListenModeUpdate struct {
	ClientListenMode entities.ListenMode
}

// IoT carries device capability descriptors and state snapshots.
type IoT struct {
	Descriptors json.RawMessage
	States      json.RawMessage
}

// MCP wraps one JSON-RPC message from the device's tool server.
type MCP struct {
	Payload json.RawMessage
}

// ActiveChat asks the assistant to speak first about a topic.
type ActiveChat struct {
	Topic    string
	UserName string
}

// MeetingReminder announces an upcoming meeting.
type MeetingReminder struct {
	MeetingID     string
	MeetingType   string
	MeetingNumber string
	MeetingName   string
	MeetingTime   string
}

// Server is a control-channel command authenticated by a shared secret.
type Server struct {
	Action  string
	Secret  string
	Content json.RawMessage
}

// Server actions
const (
	ActionUpdateConfig = "update_config"
	ActionRestart      = "restart"
)

func (Hello) Kind() Kind            { return KindHello }
func (Heartbeat) Kind() Kind        { return KindHeartbeat }
func (Listen) Kind() Kind           { return KindListen }
func (Abort) Kind() Kind            { return KindAbort }
func (TerminalModeSync) Kind() Kind { return KindTerminalModeSync }
func (ListenModeUpdate) Kind() Kind { return KindListenModeUpdate }
func (IoT) Kind() Kind              { return KindIoT }
func (MCP) Kind() Kind              { return KindMCP }
func (ActiveChat) Kind() Kind       { return KindActiveChat }
func (MeetingReminder) Kind() Kind  { return KindMeetingReminder }
func (Server) Kind() Kind           { return KindServer }

type envelope struct {
	Type Kind `json:"type"`
}

// Parse decodes one text frame. Anything that is not a JSON object yields
// ErrMalformed; an object with an unhandled type yields ErrUnknownKind.
func Parse(data []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid type field", ErrMalformed)
	}

	switch env.Type {
	case KindHello:
		return parseHello(data)
	case KindHeartbeat:
		return Heartbeat{}, nil
	case KindListen:
		return parseListen(data)
	case KindAbort:
		return Abort{}, nil
	case KindTerminalModeSync:
		var raw struct {
			Mode entities.TerminalMode `json:"mode"`
		}
		if err := decode(data, &raw); err != nil {
			return nil, err
		}
		switch raw.Mode {
		case "":
			raw.Mode = entities.TerminalModeWork
		case entities.TerminalModeWork, entities.TerminalModeSleep:
		default:
			return nil, fmt.Errorf("%w: unknown terminal mode %q", ErrMalformed, raw.Mode)
		}
		return TerminalModeSync{Mode: raw.Mode}, nil
	case KindListenModeUpdate:
		var raw struct {
			Mode entities.ListenMode `json:"client_listen_mode"`
		}
		if err := decode(data, &raw); err != nil {
			return nil, err
		}
		if raw.Mode == "" {
			raw.Mode = entities.ListenModeAuto
		}
		return ListenModeUpdate{ClientListenMode: raw.Mode}, nil
	case KindIoT:
		return IoT{Descriptors: fields["descriptors"], States: fields["states"]}, nil
	case KindMCP:
		payload, ok := fields["payload"]
		if !ok {
			return nil, fmt.Errorf("%w: mcp payload is required", ErrMalformed)
		}
		return MCP{Payload: payload}, nil
	case KindActiveChat:
		var raw struct {
			Topic    string `json:"topic"`
			UserName string `json:"user_name"`
		}
		if err := decode(data, &raw); err != nil {
			return nil, err
		}
		if raw.Topic == "" {
			return nil, fmt.Errorf("%w: active_chat topic is required", ErrMalformed)
		}
		return ActiveChat{Topic: raw.Topic, UserName: raw.UserName}, nil
	case KindMeetingReminder:
		var raw struct {
			MeetingID     string `json:"meeting_id"`
			MeetingType   string `json:"meeting_type"`
			MeetingNumber string `json:"meeting_number"`
			MeetingName   string `json:"meeting_name"`
			MeetingTime   string `json:"meeting_time"`
		}
		if err := decode(data, &raw); err != nil {
			return nil, err
		}
		return MeetingReminder(raw), nil
	case KindServer:
		var raw struct {
			Action  string          `json:"action"`
			Content json.RawMessage `json:"content"`
		}
		if err := decode(data, &raw); err != nil {
			return nil, err
		}
		msg := Server{Action: raw.Action, Content: raw.Content}
		if len(raw.Content) > 0 {
			var content struct {
				Secret string `json:"secret"`
			}
			// A content object without a string secret simply fails auth.
			_ = json.Unmarshal(raw.Content, &content)
			msg.Secret = content.Secret
		}
		return msg, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrUnknownKind)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, env.Type)
	}
}

func parseHello(data []byte) (Inbound, error) {
	var raw struct {
		DeviceID         string                 `json:"device_id"`
		DeviceName       string                 `json:"device_name"`
		Token            string                 `json:"token"`
		ClientListenMode entities.ListenMode    `json:"client_listen_mode"`
		AudioParams      *entities.AudioParams  `json:"audio_params"`
		Features         map[string]interface{} `json:"features"`
	}
	if err := decode(data, &raw); err != nil {
		return nil, err
	}
	if raw.ClientListenMode == "" {
		raw.ClientListenMode = entities.ListenModeAuto
	}
	if !raw.ClientListenMode.Valid() {
		return nil, fmt.Errorf("%w: unsupported listen mode %q", ErrMalformed, raw.ClientListenMode)
	}

	features := make(map[string]bool, len(raw.Features))
	for name, v := range raw.Features {
		if on, ok := v.(bool); ok {
			features[name] = on
		}
	}
	return Hello{
		DeviceID:         raw.DeviceID,
		DeviceName:       raw.DeviceName,
		Token:            raw.Token,
		ClientListenMode: raw.ClientListenMode,
		AudioParams:      raw.AudioParams,
		Features:         features,
	}, nil
}

func parseListen(data []byte) (Inbound, error) {
	var raw struct {
		Mode  string      `json:"mode"`
		State ListenState `json:"state"`
		Text  *string     `json:"text"`
	}
	if err := decode(data, &raw); err != nil {
		return nil, err
	}
	switch raw.State {
	case ListenStart, ListenStop, ListenDetect, ListenEnd:
	case "":
		return nil, fmt.Errorf("%w: listen state is required", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: unsupported listen state %q", ErrMalformed, raw.State)
	}
	msg := Listen{Mode: raw.Mode, State: raw.State}
	if raw.Text != nil {
		msg.Text, msg.HasText = *raw.Text, true
	}
	return msg, nil
}

func decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
