package repositories

import "context"

// SpeechToText abstracts speech recognition services. Implementations must
// tolerate concurrent calls with a voiceprint lookup on the same audio.
type SpeechToText interface {
	// TranscribeAudio converts linear PCM to text. audioRef optionally
	// points at a saved copy of the audio.
	TranscribeAudio(ctx context.Context, audioData []byte, config AudioConfig) (text string, audioRef string, err error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}
