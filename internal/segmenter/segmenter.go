// Package segmenter groups inbound audio frames into speech segments.
//
// In auto and realtime listen modes a segment closes after a stretch of
// silence that follows voice. In manual mode the client's start/stop
// messages bound it. Meeting mode uses a short fixed window and drops
// windows that carry too little voice. Silence is measured in frame time,
// not wall time, so the outcome depends only on the frame sequence.
package segmenter

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
)

// Config holds the segmentation thresholds.
type Config struct {
	// PrerollFrames is how many frames are kept while no voice is present.
	PrerollFrames int `yaml:"preroll_frames"`
	// SilenceTimeout is the silence after voice that ends a segment.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`
	// MinSegmentFrames must be exceeded for a silence-ended segment to flush.
	MinSegmentFrames int `yaml:"min_segment_frames"`
	// MaxSegmentFrames forces a flush once exceeded.
	MaxSegmentFrames int `yaml:"max_segment_frames"`
	// ManualMinFrames must be exceeded for a manual capture to flush.
	ManualMinFrames int `yaml:"manual_min_frames"`
	// MeetingMaxFrames is the window size in meeting mode.
	MeetingMaxFrames int `yaml:"meeting_max_frames"`
	// MeetingMinVoiceFrames must be exceeded for a meeting window to flush.
	MeetingMinVoiceFrames int `yaml:"meeting_min_voice_frames"`
	// FrameDuration is the nominal duration of one frame.
	FrameDuration time.Duration `yaml:"frame_duration"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		PrerollFrames:         10,
		SilenceTimeout:        1500 * time.Millisecond,
		MinSegmentFrames:      42,
		MaxSegmentFrames:      500,
		ManualMinFrames:       15,
		MeetingMaxFrames:      50,
		MeetingMinVoiceFrames: 2,
		FrameDuration:         60 * time.Millisecond,
	}
}

// Validate checks that the thresholds are consistent.
func (c Config) Validate() error {
	if c.PrerollFrames < 0 {
		return fmt.Errorf("preroll frames must not be negative, got %d", c.PrerollFrames)
	}
	if c.SilenceTimeout <= 0 {
		return fmt.Errorf("silence timeout must be positive, got %s", c.SilenceTimeout)
	}
	if c.FrameDuration <= 0 {
		return fmt.Errorf("frame duration must be positive, got %s", c.FrameDuration)
	}
	if c.MinSegmentFrames < 0 {
		return fmt.Errorf("min segment frames must not be negative, got %d", c.MinSegmentFrames)
	}
	if c.MaxSegmentFrames <= c.MinSegmentFrames {
		return fmt.Errorf("max segment frames (%d) must exceed min segment frames (%d)", c.MaxSegmentFrames, c.MinSegmentFrames)
	}
	if c.MaxSegmentFrames <= c.PrerollFrames {
		return fmt.Errorf("max segment frames (%d) must exceed preroll frames (%d)", c.MaxSegmentFrames, c.PrerollFrames)
	}
	if c.ManualMinFrames < 0 || c.ManualMinFrames >= c.MaxSegmentFrames {
		return fmt.Errorf("manual min frames must be in [0, %d), got %d", c.MaxSegmentFrames, c.ManualMinFrames)
	}
	if c.MeetingMaxFrames <= 0 {
		return fmt.Errorf("meeting max frames must be positive, got %d", c.MeetingMaxFrames)
	}
	if c.MeetingMinVoiceFrames < 0 || c.MeetingMinVoiceFrames >= c.MeetingMaxFrames {
		return fmt.Errorf("meeting min voice frames must be in [0, %d), got %d", c.MeetingMaxFrames, c.MeetingMinVoiceFrames)
	}
	return nil
}

// Outcome says what happened to the buffer on an Ingest call.
type Outcome int

const (
	// Buffered means the frame was kept and nothing left the buffer.
	Buffered Outcome = iota
	// Flushed means a segment was returned.
	Flushed
	// Discarded means a meeting window was dropped for lack of voice.
	Discarded
)

// Segmenter is owned by a single session's inbound loop and is not safe
// for concurrent use.
type Segmenter struct {
	cfg    Config
	logger *zap.Logger

	mode      entities.ListenMode
	meeting   bool
	capturing bool

	buf          [][]byte
	voiceFrames  int
	haveVoice    bool
	voiceStopped bool
	silence      time.Duration
}

// New creates a segmenter in auto mode.
func New(cfg Config, logger *zap.Logger) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{
		cfg:    cfg,
		logger: logger,
		mode:   entities.ListenModeAuto,
		buf:    make([][]byte, 0, cfg.PrerollFrames+1),
	}, nil
}

// SetListenMode switches between silence-driven and client-driven capture.
func (s *Segmenter) SetListenMode(mode entities.ListenMode) {
	if mode == s.mode {
		return
	}
	s.mode = mode
	s.capturing = false
	s.resetVoice()
}

// SetMeeting enters or leaves meeting mode, dropping any partial buffer.
func (s *Segmenter) SetMeeting(on bool) {
	if on == s.meeting {
		return
	}
	s.meeting = on
	s.Reset()
}

// StartCapture opens a manual capture window. The pre-roll is kept.
func (s *Segmenter) StartCapture() {
	s.capturing = true
	s.haveVoice = true
	s.voiceStopped = false
	s.silence = 0
}

// StopCapture closes a manual capture window and returns what it collected.
// Captures of ManualMinFrames frames or fewer are dropped.
func (s *Segmenter) StopCapture() *entities.SpeechSegment {
	s.capturing = false
	if len(s.buf) <= s.cfg.ManualMinFrames {
		if len(s.buf) > 0 {
			s.logger.Debug("Manual capture too short, dropping", zap.Int("frames", len(s.buf)))
		}
		s.Reset()
		return nil
	}
	return s.flush(entities.FlushManual)
}

// Reset drops the buffer and voice state.
func (s *Segmenter) Reset() {
	s.buf = make([][]byte, 0, s.cfg.PrerollFrames+1)
	s.resetVoice()
	s.capturing = false
}

// Len returns the current buffer length.
func (s *Segmenter) Len() int {
	return len(s.buf)
}

// Ingest appends one frame and returns a segment when one completes.
func (s *Segmenter) Ingest(frame []byte, hasVoice bool) (*entities.SpeechSegment, Outcome) {
	s.buf = append(s.buf, frame)
	if hasVoice {
		s.voiceFrames++
	}

	if s.meeting {
		return s.ingestMeeting()
	}
	if s.mode == entities.ListenModeManual {
		return s.ingestManual()
	}
	return s.ingestAuto(hasVoice)
}

func (s *Segmenter) ingestAuto(hasVoice bool) (*entities.SpeechSegment, Outcome) {
	if hasVoice {
		s.haveVoice = true
		s.voiceStopped = false
		s.silence = 0
	} else if s.haveVoice {
		s.silence += s.cfg.FrameDuration
		if s.silence > s.cfg.SilenceTimeout {
			s.voiceStopped = true
		}
	}

	if len(s.buf) > s.cfg.MaxSegmentFrames {
		s.logger.Info("Segment hit hard cap, forcing flush", zap.Int("frames", len(s.buf)))
		return s.flush(entities.FlushHardCap), Flushed
	}

	if !s.haveVoice {
		s.trimToPreroll()
		return nil, Buffered
	}

	if s.voiceStopped {
		if len(s.buf) > s.cfg.MinSegmentFrames {
			return s.flush(entities.FlushSilence), Flushed
		}
		// Too short to be an utterance; keep listening.
		s.voiceStopped = false
	}
	return nil, Buffered
}

func (s *Segmenter) ingestManual() (*entities.SpeechSegment, Outcome) {
	if !s.capturing {
		s.trimToPreroll()
		return nil, Buffered
	}
	if len(s.buf) > s.cfg.MaxSegmentFrames {
		s.logger.Info("Manual capture hit hard cap, forcing flush", zap.Int("frames", len(s.buf)))
		seg := s.flush(entities.FlushHardCap)
		s.haveVoice = true
		return seg, Flushed
	}
	return nil, Buffered
}

func (s *Segmenter) ingestMeeting() (*entities.SpeechSegment, Outcome) {
	if len(s.buf) < s.cfg.MeetingMaxFrames {
		return nil, Buffered
	}
	if s.voiceFrames > s.cfg.MeetingMinVoiceFrames {
		return s.flush(entities.FlushMeeting), Flushed
	}
	s.logger.Debug("Discarding meeting window without voice",
		zap.Int("frames", len(s.buf)),
		zap.Int("voiceFrames", s.voiceFrames))
	s.buf = make([][]byte, 0, s.cfg.MeetingMaxFrames)
	s.resetVoice()
	return nil, Discarded
}

// flush hands the buffer to the caller and starts a fresh one.
func (s *Segmenter) flush(reason entities.FlushReason) *entities.SpeechSegment {
	seg := &entities.SpeechSegment{
		Frames:      s.buf,
		VoiceFrames: s.voiceFrames,
		Reason:      reason,
	}
	s.buf = make([][]byte, 0, s.cfg.PrerollFrames+1)
	s.resetVoice()
	return seg
}

func (s *Segmenter) trimToPreroll() {
	n := len(s.buf)
	if n <= s.cfg.PrerollFrames {
		return
	}
	copy(s.buf, s.buf[n-s.cfg.PrerollFrames:])
	for i := s.cfg.PrerollFrames; i < n; i++ {
		s.buf[i] = nil
	}
	s.buf = s.buf[:s.cfg.PrerollFrames]
	// Pre-roll frames are not counted as voice.
	s.voiceFrames = 0
}

func (s *Segmenter) resetVoice() {
	s.voiceFrames = 0
	s.haveVoice = false
	s.voiceStopped = false
	s.silence = 0
}
