// Package playback streams synthesized audio to a device at real-time pace
// and drives the tts start/sentence/stop markers around it.
package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/internal/metrics"
	"github.com/satriahrh/voicectl/server/internal/protocol"
	"github.com/satriahrh/voicectl/server/internal/textutil"
)

const (
	DefaultFrameDuration    = 60 * time.Millisecond
	DefaultPreBufferFrames  = 3
	DefaultLongStreamFrames = 100
	DefaultMaxDelayLong     = 100 * time.Millisecond
	DefaultMaxDelayShort    = 500 * time.Millisecond
)

// Sink is the outbound side of a device connection.
type Sink interface {
	SendAudio(frame []byte) error
	SendJSON(msg interface{}) error
	Close() error
}

// Config holds the pacing parameters.
type Config struct {
	FrameDuration    time.Duration `yaml:"frame_duration"`
	PreBufferFrames  int           `yaml:"pre_buffer_frames"`
	LongStreamFrames int           `yaml:"long_stream_frames"`
	MaxDelayLong     time.Duration `yaml:"max_delay_long"`
	MaxDelayShort    time.Duration `yaml:"max_delay_short"`
	EnableEmoji      bool          `yaml:"enable_emoji"`
}

// DefaultConfig returns 60ms frames with a 3 frame pre-buffer.
func DefaultConfig() Config {
	return Config{
		FrameDuration:    DefaultFrameDuration,
		PreBufferFrames:  DefaultPreBufferFrames,
		LongStreamFrames: DefaultLongStreamFrames,
		MaxDelayLong:     DefaultMaxDelayLong,
		MaxDelayShort:    DefaultMaxDelayShort,
		EnableEmoji:      true,
	}
}

// Validate checks the playback configuration
func (c Config) Validate() error {
	if c.FrameDuration <= 0 {
		return errors.New("frame_duration must be positive")
	}
	if c.PreBufferFrames < 0 {
		return errors.New("pre_buffer_frames must not be negative")
	}
	if c.LongStreamFrames <= 0 {
		return errors.New("long_stream_frames must be positive")
	}
	if c.MaxDelayLong <= 0 || c.MaxDelayShort <= 0 {
		return errors.New("max delays must be positive")
	}
	return nil
}

// Scheduler paces frames for every session. It holds no per-session state.
type Scheduler struct {
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a scheduler. A nil clock uses wall time.
func New(cfg Config, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid playback config: %w", err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{cfg: cfg, clock: clk, metrics: m, logger: logger}, nil
}

// Config returns the active pacing parameters.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// preBufferCount is how many frames go out before pacing starts.
func (s *Scheduler) preBufferCount(total int, requested bool) int {
	if !requested || total > s.cfg.LongStreamFrames {
		return 0
	}
	return min(s.cfg.PreBufferFrames, total)
}

func (s *Scheduler) maxDelay(total int) time.Duration {
	if total > s.cfg.LongStreamFrames {
		return s.cfg.MaxDelayLong
	}
	return s.cfg.MaxDelayShort
}

// Stream sends frames in order, paced against a clock anchored at the call.
// The abort flag is checked before every frame; on abort the remaining
// frames are dropped and Stream returns without error. A send failure stops
// the stream and is returned.
func (s *Scheduler) Stream(ctx context.Context, sess *entities.Session, sink Sink, frames [][]byte, preBuffer bool) (int, error) {
	total := len(frames)
	if total == 0 {
		return 0, nil
	}
	if total > s.cfg.LongStreamFrames {
		s.logger.Debug("Long stream, pre-buffer disabled",
			zap.String("sessionID", sess.ID()),
			zap.Int("frames", total))
	}

	start := s.clock.Now()
	maxDelay := s.maxDelay(total)
	pre := s.preBufferCount(total, preBuffer)
	var position time.Duration
	sent := 0

	for i, frame := range frames {
		if sess.Aborted() {
			s.logger.Info("Playback aborted",
				zap.String("sessionID", sess.ID()),
				zap.Int("sent", sent),
				zap.Int("frames", total))
			return sent, nil
		}

		if i >= pre {
			delay := start.Add(position).Sub(s.clock.Now())
			if delay > maxDelay {
				delay = maxDelay
			}
			if delay > 0 {
				select {
				case <-s.clock.After(delay):
				case <-ctx.Done():
					return sent, ctx.Err()
				}
				if sess.Aborted() {
					continue
				}
			}
			position += s.cfg.FrameDuration
		}

		if err := sink.SendAudio(frame); err != nil {
			s.metrics.PlaybackError()
			return sent, fmt.Errorf("failed to send frame %d: %w", i, err)
		}
		sent++
		sess.TouchActivity()
	}
	return sent, nil
}

// Play delivers one item of a response. Items from a superseded response
// are dropped. While the session is aborted only the final LAST item has
// an effect: it honors a pending close. The abort already sent tts stop and
// the next turn owns the speaking state.
func (s *Scheduler) Play(ctx context.Context, sess *entities.Session, sink Sink, item entities.PlaybackItem) error {
	if item.ResponseID != sess.ResponseID() {
		s.logger.Debug("Dropping stale playback item",
			zap.String("sessionID", sess.ID()),
			zap.Uint64("responseID", item.ResponseID),
			zap.Stringer("type", item.Type))
		return nil
	}

	var streamErr error
	if !sess.Aborted() && s.deliverable(item) {
		streamErr = s.playSentence(ctx, sess, sink, item)
		if streamErr != nil {
			s.logger.Error("Playback interrupted",
				zap.String("sessionID", sess.ID()),
				zap.Error(streamErr))
		}
	}

	if item.Type == entities.SentenceLast && item.Final {
		if sess.Aborted() {
			if err := s.closeIfPending(sess, sink); err != nil {
				return err
			}
			return streamErr
		}
		if err := s.Finish(sess, sink); err != nil {
			return err
		}
	}
	return streamErr
}

func (s *Scheduler) deliverable(item entities.PlaybackItem) bool {
	if item.HasText() && textutil.IsRecognitionError(item.Text) {
		s.logger.Info("Skipping sentence that looks like a recognition error",
			zap.String("text", item.Text))
		return false
	}
	return item.HasText() || len(item.Frames) > 0
}

func (s *Scheduler) playSentence(ctx context.Context, sess *entities.Session, sink Sink, item entities.PlaybackItem) error {
	id := sess.ID()
	if item.HasText() && s.cfg.EnableEmoji {
		emotion := textutil.AnalyzeEmotion(item.Text)
		if err := sink.SendJSON(protocol.NewLLM(id, textutil.Emoji(emotion), emotion)); err != nil {
			return err
		}
	}

	preBuffer := item.HasText() && sess.TakeFirstSentence()
	if err := sink.SendJSON(protocol.NewTTS(id, protocol.TTSSentenceStart, item.Text)); err != nil {
		return err
	}
	if _, err := s.Stream(ctx, sess, sink, item.Frames, preBuffer); err != nil {
		return err
	}
	if sess.Aborted() {
		return nil
	}
	return sink.SendJSON(protocol.NewTTS(id, protocol.TTSSentenceEnd, item.Text))
}

// Finish ends a response: tts stop, speaking cleared, and the connection
// closed when a close is pending.
func (s *Scheduler) Finish(sess *entities.Session, sink Sink) error {
	err := sink.SendJSON(protocol.NewTTS(sess.ID(), protocol.TTSStop, ""))
	sess.SetSpeaking(false)
	if cerr := s.closeIfPending(sess, sink); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *Scheduler) closeIfPending(sess *entities.Session, sink Sink) error {
	if !sess.ClosePending() {
		return nil
	}
	s.logger.Info("Closing session after final utterance",
		zap.String("sessionID", sess.ID()),
		zap.String("deviceID", sess.DeviceID()))
	return sink.Close()
}
