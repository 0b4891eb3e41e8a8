package entities

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Session is the per-connection state. Fields are only reachable through
// methods; flags touched by background tasks are atomic.
type Session struct {
	id        string
	clock     clock.Clock
	createdAt time.Time

	mu             sync.RWMutex
	deviceID       string
	deviceName     string
	listenMode     ListenMode
	terminalMode   TerminalMode
	audioParams    AudioParams
	features       map[string]bool
	speaker        string
	inMeeting      bool
	iotDescriptors json.RawMessage
	iotStates      json.RawMessage
	lastExchangeAt time.Time
	wokenUntil     time.Time

	speaking      atomic.Bool
	aborted       atomic.Bool
	closePending  atomic.Bool
	firstSentence atomic.Bool
	responseID    atomic.Uint64
	lastActivity  atomic.Int64
	lastHeartbeat atomic.Int64
}

// NewSession creates a new session for a device
func NewSession(deviceID string, clk clock.Clock) *Session {
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	s := &Session{
		id:           uuid.NewString(),
		clock:        clk,
		createdAt:    now,
		deviceID:     deviceID,
		listenMode:   ListenModeAuto,
		terminalMode: TerminalModeWork,
		audioParams: AudioParams{
			Format:        "opus",
			SampleRate:    16000,
			Channels:      1,
			FrameDuration: 60,
		},
		features: make(map[string]bool),
	}
	s.lastActivity.Store(now.UnixNano())
	s.lastHeartbeat.Store(now.UnixNano())
	return s
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) Now() time.Time       { return s.clock.Now() }

func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

func (s *Session) DeviceName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceName
}

// SetDevice records the identity announced in hello. An empty id keeps the
// authenticated one.
func (s *Session) SetDevice(deviceID, deviceName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deviceID != "" {
		s.deviceID = deviceID
	}
	s.deviceName = deviceName
}

func (s *Session) ListenMode() ListenMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenMode
}

func (s *Session) SetListenMode(mode ListenMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenMode = mode
}

func (s *Session) TerminalMode() TerminalMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminalMode
}

func (s *Session) SetTerminalMode(mode TerminalMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminalMode = mode
}

func (s *Session) AudioParams() AudioParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioParams
}

// SetAudioParams overrides the negotiated format, keeping defaults for
// zero fields.
func (s *Session) SetAudioParams(p AudioParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Format != "" {
		s.audioParams.Format = p.Format
	}
	if p.SampleRate > 0 {
		s.audioParams.SampleRate = p.SampleRate
	}
	if p.Channels > 0 {
		s.audioParams.Channels = p.Channels
	}
	if p.FrameDuration > 0 {
		s.audioParams.FrameDuration = p.FrameDuration
	}
}

// SetFeatures replaces the feature flags.
func (s *Session) SetFeatures(features map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features = make(map[string]bool, len(features))
	for k, v := range features {
		s.features[k] = v
	}
}

func (s *Session) HasFeature(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.features[name]
}

func (s *Session) Speaker() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speaker
}

func (s *Session) SetSpeaker(speaker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaker = speaker
}

func (s *Session) InMeeting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inMeeting
}

func (s *Session) SetInMeeting(in bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inMeeting = in
}

// SetIoT stores the latest descriptors and states reported by the device.
// Nil arguments leave the previous value in place.
func (s *Session) SetIoT(descriptors, states json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if descriptors != nil {
		s.iotDescriptors = descriptors
	}
	if states != nil {
		s.iotStates = states
	}
}

func (s *Session) IoT() (descriptors, states json.RawMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iotDescriptors, s.iotStates
}

// WakeUp suppresses voice detection for the given grace period.
func (s *Session) WakeUp(grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wokenUntil = s.clock.Now().Add(grace)
}

// JustWokenUp reports whether the wake-up grace period is still running.
func (s *Session) JustWokenUp() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock.Now().Before(s.wokenUntil)
}

// TouchActivity records voice or playback activity.
func (s *Session) TouchActivity() {
	s.lastActivity.Store(s.clock.Now().UnixNano())
}

// TouchHeartbeat records any inbound traffic.
func (s *Session) TouchHeartbeat() {
	s.lastHeartbeat.Store(s.clock.Now().UnixNano())
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastHeartbeat.Load())
}

// IdleFor returns how long the session has gone without activity.
func (s *Session) IdleFor() time.Duration {
	return s.clock.Now().Sub(s.LastActivity())
}

// BeginResponse starts a new assistant response: it clears the abort flag,
// re-arms first-sentence pre-buffering and returns the response id that
// playback items must carry.
func (s *Session) BeginResponse() uint64 {
	id := s.responseID.Add(1)
	s.aborted.Store(false)
	s.firstSentence.Store(true)
	s.speaking.Store(true)
	return id
}

// ResponseID returns the id of the current response.
func (s *Session) ResponseID() uint64 {
	return s.responseID.Load()
}

// TakeFirstSentence returns true exactly once per response.
func (s *Session) TakeFirstSentence() bool {
	return s.firstSentence.CompareAndSwap(true, false)
}

// Abort raises the abort flag and clears the speaking state. It returns
// whether the session was speaking.
func (s *Session) Abort() bool {
	s.aborted.Store(true)
	return s.speaking.Swap(false)
}

func (s *Session) Aborted() bool {
	return s.aborted.Load()
}

// ClearAbort lowers the abort flag without starting a response.
func (s *Session) ClearAbort() {
	s.aborted.Store(false)
}

func (s *Session) Speaking() bool {
	return s.speaking.Load()
}

func (s *Session) SetSpeaking(v bool) {
	s.speaking.Store(v)
}

// MarkClosePending flags the session for closure after the current
// response. It returns false when the flag was already set.
func (s *Session) MarkClosePending() bool {
	return s.closePending.CompareAndSwap(false, true)
}

func (s *Session) ClosePending() bool {
	return s.closePending.Load()
}

// RecordExchange marks the time of the latest dialogue exchange.
func (s *Session) RecordExchange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastExchangeAt = s.clock.Now()
}

// ShouldResetDialogue reports whether the last exchange is older than
// timeout. A zero timeout never resets.
func (s *Session) ShouldResetDialogue(timeout time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if timeout <= 0 || s.lastExchangeAt.IsZero() {
		return false
	}
	return s.clock.Now().Sub(s.lastExchangeAt) > timeout
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.DeviceID() == "" {
		return errors.New("device_id is required")
	}
	if !s.ListenMode().Valid() {
		return errors.New("invalid listen mode")
	}
	switch s.TerminalMode() {
	case TerminalModeWork, TerminalModeSleep:
	default:
		return errors.New("invalid terminal mode")
	}
	return nil
}
