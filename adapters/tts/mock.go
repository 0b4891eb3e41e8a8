package tts

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/repositories"
)

const (
	mockSampleRate   = 16000
	mockToneHz       = 440
	mockAmplitude    = 8000
	mockRunePeriodMs = 120
	mockChunkBytes   = 1920
)

// MockTextToSpeech produces a quiet sine tone whose length follows the
// text, 120ms per character.
type MockTextToSpeech struct {
	logger *zap.Logger
}

var _ repositories.TextToSpeech = (*MockTextToSpeech)(nil)

// NewMockTextToSpeech creates a new mock text-to-speech service
func NewMockTextToSpeech(logger *zap.Logger) *MockTextToSpeech {
	return &MockTextToSpeech{logger: logger}
}

// ConvertTextToSpeech implements repositories.TextToSpeech
func (t *MockTextToSpeech) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	samples := utf8.RuneCountInString(text) * mockRunePeriodMs * mockSampleRate / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(mockAmplitude * math.Sin(2*math.Pi*mockToneHz*float64(i)/mockSampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	t.logger.Debug("Processing mock text-to-speech",
		zap.String("text", text),
		zap.Int("bytes", len(pcm)))

	out := make(chan []byte, 4)
	go func() {
		defer close(out)
		for off := 0; off < len(pcm); off += mockChunkBytes {
			end := off + mockChunkBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			select {
			case out <- pcm[off:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
