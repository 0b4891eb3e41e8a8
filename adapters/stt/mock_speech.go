package stt

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/repositories"
)

// DefaultMockTranscripts are returned in turn by the mock recognizer.
var DefaultMockTranscripts = []string{
	"今天天气怎么样？",
	"给我讲个笑话吧。",
	"谢谢你，再见。",
}

// MockSpeechToText cycles through scripted transcripts. It lets the server
// run end to end without cloud credentials.
type MockSpeechToText struct {
	mu          sync.Mutex
	transcripts []string
	next        int
	logger      *zap.Logger
}

var _ repositories.SpeechToText = (*MockSpeechToText)(nil)

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger, transcripts ...string) *MockSpeechToText {
	if len(transcripts) == 0 {
		transcripts = DefaultMockTranscripts
	}
	return &MockSpeechToText{transcripts: transcripts, logger: logger}
}

// TranscribeAudio implements repositories.SpeechToText
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, string, error) {
	if len(audioData) == 0 {
		return "", "", fmt.Errorf("no audio data received")
	}
	s.mu.Lock()
	text := s.transcripts[s.next%len(s.transcripts)]
	s.next++
	s.mu.Unlock()

	s.logger.Info("Processing mock speech-to-text",
		zap.Int("audioSize", len(audioData)),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("text", text))
	return text, "", nil
}
