package entities

import (
	"errors"
	"time"
)

// ListenMode is the client's capture policy.
type ListenMode string

const (
	ListenModeAuto     ListenMode = "auto"
	ListenModeManual   ListenMode = "manual"
	ListenModeRealtime ListenMode = "realtime"
)

// Valid reports whether m is a known listen mode.
func (m ListenMode) Valid() bool {
	switch m {
	case ListenModeAuto, ListenModeManual, ListenModeRealtime:
		return true
	}
	return false
}

// TerminalMode is the client-declared work/sleep state.
type TerminalMode string

const (
	TerminalModeWork  TerminalMode = "work"
	TerminalModeSleep TerminalMode = "sleep"
)

// AudioParams describes the negotiated audio format.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// IsOpus reports whether frames on the wire are opus packets.
func (p AudioParams) IsOpus() bool {
	return p.Format == "" || p.Format == "opus"
}

// FlushReason records why a segment left the segmenter.
type FlushReason string

const (
	FlushSilence FlushReason = "silence"
	FlushHardCap FlushReason = "hard_cap"
	FlushManual  FlushReason = "manual"
	FlushMeeting FlushReason = "meeting"
)

// SpeechSegment is an owned copy of the frames collected for one utterance.
type SpeechSegment struct {
	Frames      [][]byte
	VoiceFrames int
	Reason      FlushReason
	FlushedAt   time.Time
}

// Len returns the number of frames in the segment.
func (s *SpeechSegment) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Frames)
}

// TranscriptionResult is the fused output of ASR and speaker identification.
type TranscriptionResult struct {
	Text     string
	Speaker  string
	AudioRef string
}

// SentenceType tags a playback item within an utterance.
type SentenceType int

const (
	SentenceFirst SentenceType = iota
	SentenceMiddle
	SentenceLast
)

func (t SentenceType) String() string {
	switch t {
	case SentenceFirst:
		return "FIRST"
	case SentenceMiddle:
		return "MIDDLE"
	case SentenceLast:
		return "LAST"
	}
	return "UNKNOWN"
}

// PlaybackItem is one tagged unit of the outbound audio stream.
type PlaybackItem struct {
	Type   SentenceType
	Frames [][]byte
	Text   string
	// ResponseID ties the item to the response that produced it.
	ResponseID uint64
	// Final marks the LAST item of the final utterance in a response.
	Final bool
}

// HasText reports whether the item carries display text.
func (p PlaybackItem) HasText() bool {
	return p.Text != ""
}

// Report is one usage record handed to the report sink.
type Report struct {
	ID        string    `json:"id" bson:"_id"`
	SessionID string    `json:"session_id" bson:"session_id"`
	DeviceID  string    `json:"device_id" bson:"device_id"`
	Text      string    `json:"text" bson:"text"`
	Speaker   string    `json:"speaker,omitempty" bson:"speaker,omitempty"`
	Audio     [][]byte  `json:"-" bson:"audio,omitempty"`
	Frames    int       `json:"frames" bson:"frames"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Validate validates the report data
func (r *Report) Validate() error {
	if r.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if r.Text == "" {
		return errors.New("text is required")
	}
	return nil
}

// MeetingSummary is a stored summary of a past meeting.
type MeetingSummary struct {
	MeetingID   string
	Theme       string
	MeetingTime string
	Summary     string
	KeyPoints   []string
	Attendees   []string
}
