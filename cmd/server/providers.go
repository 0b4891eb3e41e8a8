package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/satriahrh/voicectl/server/adapters/llm"
	"github.com/satriahrh/voicectl/server/adapters/stt"
	"github.com/satriahrh/voicectl/server/adapters/tts"
	"github.com/satriahrh/voicectl/server/adapters/voiceprint"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/config"
)

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// providers are the external collaborators selected by configuration.
type providers struct {
	stt        repositories.SpeechToText
	tts        repositories.TextToSpeech
	llm        repositories.LargeLanguageModel
	voiceprint repositories.Voiceprint
	closers    []io.Closer
}

func (p *providers) Close() {
	for _, c := range p.closers {
		c.Close()
	}
}

func newProviders(ctx context.Context, cfg config.ProvidersConfig, logger *zap.Logger) (*providers, error) {
	p := &providers{}

	switch cfg.STT.Type {
	case "google":
		client, err := stt.NewGoogleSpeechToText(ctx, logger)
		if err != nil {
			return nil, fmt.Errorf("speech to text: %w", err)
		}
		p.stt = client
		p.closers = append(p.closers, client)
	default:
		p.stt = stt.NewMockSpeechToText(logger)
	}

	switch cfg.TTS.Type {
	case "elevenlabs":
		client, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:  cfg.TTS.APIKey,
			VoiceID: cfg.TTS.VoiceID,
			ModelID: cfg.TTS.ModelID,
		}, logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("text to speech: %w", err)
		}
		p.tts = client
	default:
		p.tts = tts.NewMockTextToSpeech(logger)
	}

	switch cfg.LLM.Type {
	case "gemini":
		client, err := llm.NewGeminiLLM(ctx, llm.GeminiConfig{
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			BaseURL: cfg.LLM.BaseURL,
		}, logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("llm: %w", err)
		}
		p.llm = client
	default:
		p.llm = llm.NewMockLLM()
	}

	if cfg.Voiceprint.URL != "" {
		client, err := voiceprint.NewClient(cfg.Voiceprint, logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("voiceprint: %w", err)
		}
		p.voiceprint = client
	}

	logger.Info("Providers ready",
		zap.String("stt", cfg.STT.Type),
		zap.String("tts", cfg.TTS.Type),
		zap.String("llm", cfg.LLM.Type),
		zap.Bool("voiceprint", p.voiceprint != nil))
	return p, nil
}
