package voiceprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/config"
)

const (
	identifyPath   = "/voiceprint/identify"
	defaultTimeout = 5 * time.Second
	maxErrorBody   = 1024
)

// Client identifies speakers through a voiceprint HTTP service.
type Client struct {
	baseURL    string
	apiKey     string
	speakers   []string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.Voiceprint = (*Client)(nil)

// identifyResponse is the service's answer for one clip.
type identifyResponse struct {
	SpeakerID string  `json:"speaker_id"`
	Score     float64 `json:"score"`
}

// NewClient creates a voiceprint client.
func NewClient(cfg config.VoiceprintConfig, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("voiceprint url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
		logger.Info("Using default voiceprint timeout", zap.Duration("timeout", timeout))
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		speakers:   cfg.Speakers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// IdentifySpeaker uploads the clip and returns the matched speaker id, or
// an empty string when nobody matched.
func (c *Client) IdentifySpeaker(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", errors.New("empty audio")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if len(c.speakers) > 0 {
		if err := form.WriteField("speaker_ids", strings.Join(c.speakers, ",")); err != nil {
			return "", fmt.Errorf("write speaker ids: %w", err)
		}
	}
	part, err := form.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+identifyPath, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("voiceprint request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("voiceprint service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out identifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode voiceprint response: %w", err)
	}

	c.logger.Debug("Voiceprint identified",
		zap.String("speaker", out.SpeakerID),
		zap.Float64("score", out.Score),
		zap.Duration("elapsed", time.Since(start)))
	return out.SpeakerID, nil
}
