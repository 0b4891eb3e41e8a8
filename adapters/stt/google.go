package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/repositories"
)

// GoogleSpeechToText implements SpeechToText for Google Cloud. One client
// is shared by all sessions; it is safe for concurrent use.
type GoogleSpeechToText struct {
	client *speech.Client
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates the Cloud Speech client using application
// default credentials.
func NewGoogleSpeechToText(ctx context.Context, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleSpeechToText{client: client, logger: logger}, nil
}

// TranscribeAudio recognizes one complete utterance. Google keeps no copy
// of the audio, so the returned reference is always empty.
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, string, error) {
	if len(audioData) == 0 {
		return "", "", fmt.Errorf("no audio data received")
	}
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return "", "", err
	}

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encoding,
			SampleRateHertz:            int32(config.SampleRate),
			LanguageCode:               config.Language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioData},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to recognize audio: %w", err)
	}

	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 {
			// Take the best alternative
			parts = append(parts, result.Alternatives[0].Transcript)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, ""))
	g.logger.Debug("Speech recognized",
		zap.Int("audioSize", len(audioData)),
		zap.Int("results", len(resp.Results)),
		zap.String("text", text))
	return text, "", nil
}

// Close releases the underlying gRPC connection.
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "", "WAV", "LINEAR16", "pcm":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
