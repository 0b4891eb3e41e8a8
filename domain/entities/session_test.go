package entities

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestSessionCreation(t *testing.T) {
	deviceID := "test-device-123"
	session := NewSession(deviceID, clock.NewMock())

	if session.DeviceID() != deviceID {
		t.Errorf("Expected device ID %s, got %s", deviceID, session.DeviceID())
	}

	if session.ID() == "" {
		t.Error("Expected session ID to be generated")
	}

	if session.ListenMode() != ListenModeAuto {
		t.Errorf("Expected listen mode auto, got %s", session.ListenMode())
	}

	if session.TerminalMode() != TerminalModeWork {
		t.Errorf("Expected terminal mode work, got %s", session.TerminalMode())
	}

	if session.Speaking() || session.Aborted() || session.ClosePending() {
		t.Error("Expected fresh session flags to be cleared")
	}
}

func TestSessionAbortAndResponse(t *testing.T) {
	session := NewSession("test-device", clock.NewMock())

	first := session.BeginResponse()
	if !session.Speaking() {
		t.Error("Expected session to be speaking after BeginResponse")
	}

	if !session.TakeFirstSentence() {
		t.Error("Expected first sentence to be available once")
	}
	if session.TakeFirstSentence() {
		t.Error("Expected first sentence to be taken only once")
	}

	if !session.Abort() {
		t.Error("Expected Abort to report the session was speaking")
	}
	if session.Abort() {
		t.Error("Expected second Abort to be a no-op")
	}
	if !session.Aborted() {
		t.Error("Expected abort flag to stay raised")
	}

	second := session.BeginResponse()
	if second == first {
		t.Error("Expected a new response id")
	}
	if session.Aborted() {
		t.Error("Expected BeginResponse to clear the abort flag")
	}
}

func TestSessionClosePending(t *testing.T) {
	session := NewSession("test-device", clock.NewMock())

	if !session.MarkClosePending() {
		t.Error("Expected first MarkClosePending to succeed")
	}
	if session.MarkClosePending() {
		t.Error("Expected second MarkClosePending to report already pending")
	}
}

func TestSessionIdle(t *testing.T) {
	mock := clock.NewMock()
	session := NewSession("test-device", mock)

	mock.Add(90 * time.Second)
	if got := session.IdleFor(); got != 90*time.Second {
		t.Errorf("Expected idle 90s, got %s", got)
	}

	session.TouchActivity()
	if got := session.IdleFor(); got != 0 {
		t.Errorf("Expected idle reset, got %s", got)
	}
}

func TestShouldResetDialogue(t *testing.T) {
	mock := clock.NewMock()
	session := NewSession("test-device", mock)

	// No exchange yet
	if session.ShouldResetDialogue(30 * time.Minute) {
		t.Error("Should not reset before any exchange")
	}

	session.RecordExchange()
	mock.Add(29 * time.Minute)
	if session.ShouldResetDialogue(30 * time.Minute) {
		t.Error("Should not reset within the timeout")
	}

	mock.Add(2 * time.Minute)
	if !session.ShouldResetDialogue(30 * time.Minute) {
		t.Error("Should reset after the timeout")
	}

	if session.ShouldResetDialogue(0) {
		t.Error("Zero timeout should never reset")
	}
}

func TestSessionWakeUp(t *testing.T) {
	mock := clock.NewMock()
	session := NewSession("test-device", mock)

	session.WakeUp(time.Second)
	if !session.JustWokenUp() {
		t.Error("Expected wake grace to be active")
	}

	mock.Add(1500 * time.Millisecond)
	if session.JustWokenUp() {
		t.Error("Expected wake grace to expire")
	}
}

func TestSessionSetAudioParams(t *testing.T) {
	session := NewSession("test-device", clock.NewMock())

	session.SetAudioParams(AudioParams{Format: "pcm"})
	params := session.AudioParams()
	if params.Format != "pcm" {
		t.Errorf("Expected format pcm, got %s", params.Format)
	}
	if params.SampleRate != 16000 || params.FrameDuration != 60 {
		t.Errorf("Expected defaults to be kept, got %+v", params)
	}
}

func TestSessionValidation(t *testing.T) {
	session := NewSession("", clock.NewMock())
	if err := session.Validate(); err == nil {
		t.Error("Expected validation error for empty device ID")
	}

	session.SetDevice("device-1", "desk")
	if err := session.Validate(); err != nil {
		t.Errorf("Expected valid session, got %v", err)
	}

	session.SetListenMode("bogus")
	if err := session.Validate(); err == nil {
		t.Error("Expected validation error for invalid listen mode")
	}
}
