package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/repositories"
)

const (
	defaultAPIBaseURL   = "https://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM"   // Rachel voice
	defaultChunkSize    = 1920                     // 60ms of 16kHz mono PCM
	defaultOutputFormat = "pcm_16000"              // matches the device's opus sample rate
	defaultModelID      = "eleven_multilingual_v2" // Default model ID
	defaultStability    = 0.5                      // Default voice stability
	defaultClarity      = 0.75                     // Default voice clarity/similarity_boost
	defaultTimeout      = 60 * time.Second
)

// ElevenLabsConfig holds configuration for the ElevenLabsTTS adapter.
// Only APIKey is required.
type ElevenLabsConfig struct {
	APIKey       string
	APIBaseURL   string
	VoiceID      string
	ModelID      string
	LanguageCode string
	OutputFormat string // must be a pcm_* format
	ChunkSize    int
	Stability    float64
	Clarity      float64
	Timeout      time.Duration
}

// ElevenLabsTTS implements TextToSpeech interface using Eleven Labs API
type ElevenLabsTTS struct {
	cfg    ElevenLabsConfig
	client *http.Client
	logger *zap.Logger
}

// Ensure ElevenLabsTTS implements the TextToSpeech interface
var _ repositories.TextToSpeech = (*ElevenLabsTTS)(nil)

// ElevenLabsVoiceSettings represents voice settings for Eleven Labs API
type ElevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

// ElevenLabsRequest represents the request payload for Eleven Labs TTS API
type ElevenLabsRequest struct {
	Text                   string                  `json:"text"`
	ModelID                string                  `json:"model_id"`
	LanguageCode           string                  `json:"language_code,omitempty"`
	VoiceSettings          ElevenLabsVoiceSettings `json:"voice_settings"`
	ApplyTextNormalization string                  `json:"apply_text_normalization,omitempty"`
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("eleven labs API key is required")
	}
	if config.Stability < 0 || config.Stability > 1 {
		return fmt.Errorf("stability must be between 0 and 1, got %f", config.Stability)
	}
	if config.Clarity < 0 || config.Clarity > 1 {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", config.Clarity)
	}
	if config.ChunkSize < 0 || config.ChunkSize%2 != 0 {
		return fmt.Errorf("chunk size must be a positive even number, got %d", config.ChunkSize)
	}
	if config.OutputFormat != "" && !strings.HasPrefix(config.OutputFormat, "pcm_") {
		return fmt.Errorf("output format must be pcm, got %q", config.OutputFormat)
	}
	return nil
}

// NewElevenLabsTTS creates a new Eleven Labs TTS instance
func NewElevenLabsTTS(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
		logger.Info("Using default API base URL", zap.String("apiBaseURL", config.APIBaseURL))
	}
	if config.VoiceID == "" {
		config.VoiceID = defaultVoiceID
		logger.Info("Using default voice ID", zap.String("voiceID", config.VoiceID))
	}
	if config.ModelID == "" {
		config.ModelID = defaultModelID
		logger.Info("Using default model ID", zap.String("modelID", config.ModelID))
	}
	if config.OutputFormat == "" {
		config.OutputFormat = defaultOutputFormat
		logger.Info("Using default output format", zap.String("outputFormat", config.OutputFormat))
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = defaultChunkSize
	}
	if config.Stability == 0 {
		config.Stability = defaultStability
	}
	if config.Clarity == 0 {
		config.Clarity = defaultClarity
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &ElevenLabsTTS{
		cfg:    config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}, nil
}

// ConvertTextToSpeech streams 16-bit PCM for text. Every chunk holds whole
// samples. On failure the channel closes without data.
func (e *ElevenLabsTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	requestBody, err := json.Marshal(ElevenLabsRequest{
		Text:                   text,
		ModelID:                e.cfg.ModelID,
		LanguageCode:           e.cfg.LanguageCode,
		ApplyTextNormalization: "auto",
		VoiceSettings: ElevenLabsVoiceSettings{
			Stability:       e.cfg.Stability,
			SimilarityBoost: e.cfg.Clarity,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s&enable_logging=false",
		e.cfg.APIBaseURL, e.cfg.VoiceID, e.cfg.OutputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/pcm")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.cfg.APIKey)

	audioChan := make(chan []byte, 10)
	go func() {
		defer close(audioChan)
		if err := e.stream(ctx, httpReq, audioChan); err != nil {
			e.logger.Error("Text-to-speech failed", zap.String("text", text), zap.Error(err))
		}
	}()
	return audioChan, nil
}

func (e *ElevenLabsTTS) stream(ctx context.Context, req *http.Request, out chan<- []byte) error {
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("eleven labs returned %d: %s", resp.StatusCode, string(errorBody))
	}

	totalBytes := 0
	for {
		chunk := make([]byte, e.cfg.ChunkSize)
		n, err := io.ReadFull(resp.Body, chunk)
		// A trailing odd byte is half a sample.
		n -= n % 2
		if n > 0 {
			totalBytes += n
			select {
			case out <- chunk[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			e.logger.Debug("Finished streaming audio data", zap.Int("totalBytes", totalBytes))
			return nil
		default:
			return fmt.Errorf("error reading response body: %w", err)
		}
	}
}
