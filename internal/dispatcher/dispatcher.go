// Package dispatcher turns flushed speech segments into transcripts. Each
// segment is decoded once, recognized and speaker-identified in parallel,
// filtered, and handed to chat and reporting at most once.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/codec"
	"github.com/satriahrh/voicectl/server/internal/metrics"
	"github.com/satriahrh/voicectl/server/internal/task"
	"github.com/satriahrh/voicectl/server/internal/textutil"
)

const (
	DefaultProviderTimeout = 15 * time.Second
	DefaultMaxConcurrent   = 32
	DefaultLanguage        = "zh-CN"
)

// ChatSink receives resolved transcripts. payload is either the plain text
// or a JSON object {"speaker","content"}.
type ChatSink interface {
	Submit(ctx context.Context, sess *entities.Session, payload string)
}

// ReportSink records recognized speech. Enqueue must not block.
type ReportSink interface {
	Enqueue(sess *entities.Session, result entities.TranscriptionResult, audio [][]byte)
}

// Config holds the dispatcher tunables.
type Config struct {
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	MaxConcurrent   int64         `yaml:"max_concurrent"`
	Language        string        `yaml:"language"`
}

// DefaultConfig returns a 15s provider timeout and 32 concurrent dispatches.
func DefaultConfig() Config {
	return Config{
		ProviderTimeout: DefaultProviderTimeout,
		MaxConcurrent:   DefaultMaxConcurrent,
		Language:        DefaultLanguage,
	}
}

// Validate checks the dispatcher configuration
func (c Config) Validate() error {
	if c.ProviderTimeout <= 0 {
		return errors.New("provider_timeout must be positive")
	}
	if c.MaxConcurrent < 0 {
		return errors.New("max_concurrent must not be negative")
	}
	return nil
}

// Dispatcher runs the transcription pipeline for every session.
type Dispatcher struct {
	cfg        Config
	stt        repositories.SpeechToText
	voiceprint repositories.Voiceprint
	chat       ChatSink
	reports    ReportSink
	pool       *task.Group
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// New creates a dispatcher. voiceprint and reports may be nil.
func New(
	cfg Config,
	stt repositories.SpeechToText,
	voiceprint repositories.Voiceprint,
	chat ChatSink,
	reports ReportSink,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dispatcher config: %w", err)
	}
	if stt == nil || chat == nil {
		return nil, errors.New("speech to text and chat sink are required")
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	return &Dispatcher{
		cfg:        cfg,
		stt:        stt,
		voiceprint: voiceprint,
		chat:       chat,
		reports:    reports,
		pool:       task.NewGroup("dispatcher", cfg.MaxConcurrent, logger),
		metrics:    m,
		logger:     logger,
	}, nil
}

// Process dispatches seg in the background and returns immediately.
func (d *Dispatcher) Process(ctx context.Context, sess *entities.Session, seg *entities.SpeechSegment) error {
	if seg.Len() == 0 {
		return nil
	}
	return d.pool.Go(ctx, "dispatch", func(ctx context.Context) error {
		d.Dispatch(ctx, sess, seg)
		return nil
	})
}

// Close waits for in-flight dispatches.
func (d *Dispatcher) Close(timeout time.Duration) bool {
	return d.pool.Close(timeout)
}

// Dispatch runs the pipeline synchronously. It returns the fused result and
// whether it was forwarded to chat.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *entities.Session, seg *entities.SpeechSegment) (entities.TranscriptionResult, bool) {
	logger := d.logger.With(
		zap.String("sessionID", sess.ID()),
		zap.String("deviceID", sess.DeviceID()))

	params := sess.AudioParams()
	pcm, err := d.decode(params, seg, logger)
	if err != nil {
		logger.Error("Failed to decode segment", zap.Error(err))
		return entities.TranscriptionResult{}, false
	}
	if len(pcm) == 0 {
		logger.Debug("Segment decoded to no audio", zap.Int("frames", seg.Len()))
		return entities.TranscriptionResult{}, false
	}

	start := time.Now()
	result := d.recognize(ctx, params, pcm, logger)
	d.metrics.ObserveTranscription(time.Since(start))

	if result.Text == "" {
		return result, false
	}
	if textutil.IsRecognitionError(result.Text) {
		d.metrics.TranscriptSuppressed()
		logger.Info("Dropping likely recognition error", zap.String("text", result.Text))
		return result, false
	}
	if textutil.Len(result.Text) == 0 {
		logger.Debug("Recognized text is only punctuation")
		return result, false
	}

	if result.Speaker != "" {
		sess.SetSpeaker(result.Speaker)
	}
	if d.reports != nil {
		d.reports.Enqueue(sess, result, seg.Frames)
	}
	d.chat.Submit(ctx, sess, Payload(result))
	d.metrics.TranscriptDispatched()
	return result, true
}

func (d *Dispatcher) decode(params entities.AudioParams, seg *entities.SpeechSegment, logger *zap.Logger) ([]byte, error) {
	if !params.IsOpus() {
		size := 0
		for _, f := range seg.Frames {
			size += len(f)
		}
		pcm := make([]byte, 0, size)
		for _, f := range seg.Frames {
			pcm = append(pcm, f...)
		}
		return pcm, nil
	}
	dec, err := codec.NewDecoder(codec.ConfigFor(params), logger)
	if err != nil {
		return nil, err
	}
	pcm := dec.DecodeAll(seg.Frames)
	if n := dec.Corrupt(); n > 0 {
		logger.Info("Segment had corrupt frames",
			zap.Int("corrupt", n),
			zap.Int("frames", seg.Len()))
	}
	return pcm, nil
}

// recognize runs ASR and speaker identification side by side. Either branch
// failing leaves its half of the result empty.
func (d *Dispatcher) recognize(ctx context.Context, params entities.AudioParams, pcm []byte, logger *zap.Logger) entities.TranscriptionResult {
	var result entities.TranscriptionResult
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		type asr struct{ text, ref string }
		out, err := task.Call(gctx, d.cfg.ProviderTimeout, func(ctx context.Context) (asr, error) {
			text, ref, err := d.stt.TranscribeAudio(ctx, pcm, repositories.AudioConfig{
				SampleRate: params.SampleRate,
				Encoding:   "LINEAR16",
				Language:   d.cfg.Language,
			})
			return asr{text, ref}, err
		})
		if err != nil {
			d.metrics.ProviderFailure("stt")
			logger.Warn("Speech recognition failed", zap.Error(err))
			return nil
		}
		result.Text, result.AudioRef = out.text, out.ref
		return nil
	})

	if d.voiceprint != nil {
		g.Go(func() error {
			wav, err := codec.EncodeWAV(pcm, params.SampleRate, params.Channels)
			if err != nil {
				logger.Warn("Failed to wrap segment as wav", zap.Error(err))
				return nil
			}
			speaker, err := task.Call(gctx, d.cfg.ProviderTimeout, func(ctx context.Context) (string, error) {
				return d.voiceprint.IdentifySpeaker(ctx, wav)
			})
			if err != nil {
				d.metrics.ProviderFailure("voiceprint")
				logger.Warn("Speaker identification failed", zap.Error(err))
				return nil
			}
			result.Speaker = speaker
			return nil
		})
	}

	// Branches never return errors; Wait only joins them.
	_ = g.Wait()
	return result
}

type speakerPayload struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// Payload renders the chat input for a result.
func Payload(result entities.TranscriptionResult) string {
	if result.Speaker == "" {
		return result.Text
	}
	b, err := json.Marshal(speakerPayload{Speaker: result.Speaker, Content: result.Text})
	if err != nil {
		return result.Text
	}
	return string(b)
}

// ParsePayload splits a chat input back into speaker and content. Plain text
// has no speaker.
func ParsePayload(payload string) (speaker, content string) {
	var p speakerPayload
	if len(payload) > 1 && payload[0] == '{' && json.Unmarshal([]byte(payload), &p) == nil && p.Content != "" {
		return p.Speaker, p.Content
	}
	return "", payload
}
