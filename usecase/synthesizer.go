package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/codec"
)

// ErrNoAudio is returned when the TTS provider produced nothing.
var ErrNoAudio = errors.New("tts produced no audio")

// Synthesizer turns text into frames in the server's outbound format.
type Synthesizer struct {
	tts    repositories.TextToSpeech
	params entities.AudioParams
	logger *zap.Logger
}

// NewSynthesizer creates a synthesizer emitting frames described by params.
func NewSynthesizer(tts repositories.TextToSpeech, params entities.AudioParams, logger *zap.Logger) (*Synthesizer, error) {
	if tts == nil {
		return nil, errors.New("text to speech is required")
	}
	if params.IsOpus() {
		if err := codec.ConfigFor(params).Validate(); err != nil {
			return nil, fmt.Errorf("invalid output audio params: %w", err)
		}
	}
	return &Synthesizer{tts: tts, params: params, logger: logger}, nil
}

// Synthesize collects the provider's PCM stream and frames it. Each call
// uses its own encoder.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	stream, err := s.tts.ConvertTextToSpeech(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("tts failed: %w", err)
	}

	var pcm []byte
	for {
		select {
		case chunk, ok := <-stream:
			if !ok {
				return s.frame(pcm)
			}
			pcm = append(pcm, chunk...)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Synthesizer) frame(pcm []byte) ([][]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	cfg := codec.ConfigFor(s.params)
	if !s.params.IsOpus() {
		return splitPCM(pcm, cfg.FrameBytes()), nil
	}

	enc, err := codec.NewEncoder(cfg, s.logger)
	if err != nil {
		return nil, err
	}
	// Pad the tail so the last syllable is not cut off.
	if rem := len(pcm) % cfg.FrameBytes(); rem != 0 {
		pcm = append(pcm, make([]byte, cfg.FrameBytes()-rem)...)
	}
	return enc.Encode(pcm, true)
}

func splitPCM(pcm []byte, size int) [][]byte {
	frames := make([][]byte, 0, len(pcm)/size+1)
	for start := 0; start < len(pcm); start += size {
		end := start + size
		if end > len(pcm) {
			end = len(pcm)
		}
		frames = append(frames, pcm[start:end])
	}
	return frames
}
