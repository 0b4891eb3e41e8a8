package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/internal/dispatcher"
	"github.com/satriahrh/voicectl/server/internal/playback"
	"github.com/satriahrh/voicectl/server/internal/segmenter"
)

// Config represents the complete server configuration
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Auth       AuthConfig        `yaml:"auth"`
	Audio      AudioConfig       `yaml:"audio"`
	Segmenter  segmenter.Config  `yaml:"segmenter"`
	Dispatcher dispatcher.Config `yaml:"dispatcher"`
	Playback   playback.Config   `yaml:"playback"`
	Session    SessionConfig     `yaml:"session"`
	Providers  ProvidersConfig   `yaml:"providers"`
	Mongo      MongoConfig       `yaml:"mongo"`
	Redis      RedisConfig       `yaml:"redis"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains HTTP and control-channel settings
type ServerConfig struct {
	Port string `yaml:"port"`
	// Secret authenticates server control messages. Empty disables them.
	Secret          string        `yaml:"secret"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig contains device token settings
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// AdminKey is exchanged for an admin token. Empty disables admin login.
	AdminKey string `yaml:"admin_key"`
	// Devices are registered in the device store at startup.
	Devices []DeviceSeed `yaml:"devices"`
}

// DeviceSeed is a device known to the server before it first connects.
type DeviceSeed struct {
	SerialNumber string `yaml:"serial_number"`
	SecretKey    string `yaml:"secret_key"`
	Model        string `yaml:"model"`
	OwnerID      string `yaml:"owner_id"`
}

// AudioConfig is the output format advertised in the hello acknowledgement.
type AudioConfig struct {
	Format        string `yaml:"format"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	FrameDuration int    `yaml:"frame_duration"` // milliseconds
	Bitrate       int    `yaml:"bitrate"`
}

// EndPromptConfig controls the idle farewell.
type EndPromptConfig struct {
	Enable bool   `yaml:"enable"`
	Prompt string `yaml:"prompt"`
}

// SessionConfig contains per-connection behavior
type SessionConfig struct {
	IdleTimeout            time.Duration   `yaml:"idle_timeout"`
	HeartbeatTimeout       time.Duration   `yaml:"heartbeat_timeout"`
	CleanupInterval        time.Duration   `yaml:"cleanup_interval"`
	EndPrompt              EndPromptConfig `yaml:"end_prompt"`
	EnableGreeting         bool            `yaml:"enable_greeting"`
	WakeupWords            []string        `yaml:"wakeup_words"`
	WakeGrace              time.Duration   `yaml:"wake_grace"`
	RequireBinding         bool            `yaml:"require_binding"`
	MaxOutputSize          int             `yaml:"max_output_size"`
	DialogueHistoryTimeout time.Duration   `yaml:"dialogue_history_timeout"`
	SystemPrompt           string          `yaml:"system_prompt"`
	TerminalWakeKeywords   []string        `yaml:"terminal_wake_keywords"`
	TerminalSleepKeywords  []string        `yaml:"terminal_sleep_keywords"`
	MeetingEndKeywords     []string        `yaml:"meeting_end_keywords"`
	ReportQueueSize        int             `yaml:"report_queue_size"`
	PlaybackQueueSize      int             `yaml:"playback_queue_size"`
	VADThreshold           float64         `yaml:"vad_threshold"`
}

// ProvidersConfig selects and configures external collaborators
type ProvidersConfig struct {
	STT        STTConfig        `yaml:"stt"`
	TTS        TTSConfig        `yaml:"tts"`
	LLM        LLMConfig        `yaml:"llm"`
	Voiceprint VoiceprintConfig `yaml:"voiceprint"`
}

type STTConfig struct {
	Type     string `yaml:"type"` // google | mock
	Language string `yaml:"language"`
}

type TTSConfig struct {
	Type    string `yaml:"type"` // elevenlabs | mock
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
	ModelID string `yaml:"model_id"`
}

type LLMConfig struct {
	Type    string `yaml:"type"` // gemini | mock
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type VoiceprintConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	// Speakers limits identification to these enrolled ids. Empty means all.
	Speakers []string `yaml:"speakers"`
}

// MongoConfig configures the report store. An empty URI disables it.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// RedisConfig configures the output limiter. An empty address disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SQLiteConfig configures the meeting summary store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const DefaultEndPrompt = "请你以```时间过得真快```未来头，用富有感情、依依不舍的话来结束这场对话吧。！"

// Default returns a configuration that runs entirely on mock providers.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Audio: AudioConfig{
			Format:        "opus",
			SampleRate:    16000,
			Channels:      1,
			FrameDuration: 60,
			Bitrate:       16000,
		},
		Segmenter:  segmenter.DefaultConfig(),
		Dispatcher: dispatcher.DefaultConfig(),
		Playback:   playback.DefaultConfig(),
		Session: SessionConfig{
			IdleTimeout:           120 * time.Second,
			HeartbeatTimeout:      5 * time.Minute,
			CleanupInterval:       30 * time.Second,
			EndPrompt:             EndPromptConfig{Enable: true, Prompt: DefaultEndPrompt},
			EnableGreeting:        true,
			WakeupWords:           []string{"你好", "你好啊", "嘿，你好", "嗨"},
			WakeGrace:             time.Second,
			TerminalWakeKeywords:  []string{"小智小智", "醒一醒"},
			TerminalSleepKeywords: []string{"去睡觉吧", "休息一下"},
			MeetingEndKeywords:    []string{"结束会议", "退出会议"},
			ReportQueueSize:       256,
			PlaybackQueueSize:     64,
			VADThreshold:          500,
		},
		Providers: ProvidersConfig{
			STT: STTConfig{Type: "mock", Language: dispatcher.DefaultLanguage},
			TTS: TTSConfig{Type: "mock"},
			LLM: LLMConfig{Type: "mock", Model: "gemini-2.5-flash"},
			Voiceprint: VoiceprintConfig{
				Timeout: dispatcher.DefaultProviderTimeout,
			},
		},
		Mongo: MongoConfig{
			Database:   "voicectl",
			Collection: "asr_reports",
		},
		SQLite: SQLiteConfig{Path: "meeting_summaries.db"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.Secret, "SERVER_SECRET")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.AdminKey, "ADMIN_KEY")
	setString(&c.Providers.LLM.APIKey, "GEMINI_API_KEY")
	setString(&c.Providers.TTS.APIKey, "ELEVEN_LABS_API_KEY")
	setString(&c.Providers.TTS.VoiceID, "ELEVEN_LABS_VOICE_ID")
	setString(&c.Providers.Voiceprint.URL, "VOICEPRINT_URL")
	setString(&c.Mongo.URI, "MONGODB_URI")
	setString(&c.Mongo.Database, "MONGODB_DATABASE")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Logging.Level, "LOG_LEVEL")

	if v := os.Getenv("MAX_OUTPUT_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_OUTPUT_SIZE %q: %w", v, err)
		}
		c.Session.MaxOutputSize = n
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}
	if err := c.Dispatcher.Validate(); err != nil {
		return fmt.Errorf("dispatcher config: %w", err)
	}
	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Providers.Validate(); err != nil {
		return fmt.Errorf("providers config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	port, err := strconv.Atoi(s.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %q", s.Port)
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", s.ShutdownTimeout)
	}
	return nil
}

// Validate validates auth configuration
func (a *AuthConfig) Validate() error {
	if a.JWTSecret == "" {
		return fmt.Errorf("jwt_secret cannot be empty")
	}
	if a.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive, got %s", a.TokenTTL)
	}
	seen := make(map[string]bool, len(a.Devices))
	for i, d := range a.Devices {
		if d.SerialNumber == "" || d.SecretKey == "" {
			return fmt.Errorf("devices[%d]: serial_number and secret_key are required", i)
		}
		if seen[d.SerialNumber] {
			return fmt.Errorf("devices[%d]: duplicate serial_number %q", i, d.SerialNumber)
		}
		seen[d.SerialNumber] = true
	}
	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.Format {
	case "opus", "pcm":
	default:
		return fmt.Errorf("format must be 'opus' or 'pcm', got '%s'", a.Format)
	}
	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}
	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}
	if a.FrameDuration <= 0 {
		return fmt.Errorf("frame_duration must be positive, got %d", a.FrameDuration)
	}
	return nil
}

// Params returns the audio parameters sent to devices.
func (a *AudioConfig) Params() entities.AudioParams {
	return entities.AudioParams{
		Format:        a.Format,
		SampleRate:    a.SampleRate,
		Channels:      a.Channels,
		FrameDuration: a.FrameDuration,
	}
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got %s", s.IdleTimeout)
	}
	if s.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be positive, got %s", s.HeartbeatTimeout)
	}
	if s.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive, got %s", s.CleanupInterval)
	}
	if s.EndPrompt.Enable && s.EndPrompt.Prompt == "" {
		return fmt.Errorf("end_prompt.prompt cannot be empty when enabled")
	}
	if s.WakeGrace < 0 {
		return fmt.Errorf("wake_grace must not be negative, got %s", s.WakeGrace)
	}
	if s.MaxOutputSize < 0 {
		return fmt.Errorf("max_output_size must not be negative, got %d", s.MaxOutputSize)
	}
	if s.DialogueHistoryTimeout < 0 {
		return fmt.Errorf("dialogue_history_timeout must not be negative, got %s", s.DialogueHistoryTimeout)
	}
	if s.ReportQueueSize < 1 {
		return fmt.Errorf("report_queue_size must be at least 1, got %d", s.ReportQueueSize)
	}
	if s.VADThreshold <= 0 {
		return fmt.Errorf("vad_threshold must be positive, got %f", s.VADThreshold)
	}
	return nil
}

// Validate validates provider selection
func (p *ProvidersConfig) Validate() error {
	switch p.STT.Type {
	case "google", "mock":
	default:
		return fmt.Errorf("stt.type must be 'google' or 'mock', got '%s'", p.STT.Type)
	}
	switch p.TTS.Type {
	case "elevenlabs":
		if p.TTS.APIKey == "" {
			return fmt.Errorf("tts.api_key is required for elevenlabs")
		}
	case "mock":
	default:
		return fmt.Errorf("tts.type must be 'elevenlabs' or 'mock', got '%s'", p.TTS.Type)
	}
	switch p.LLM.Type {
	case "gemini":
		if p.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for gemini")
		}
	case "mock":
	default:
		return fmt.Errorf("llm.type must be 'gemini' or 'mock', got '%s'", p.LLM.Type)
	}
	if p.Voiceprint.URL != "" && p.Voiceprint.Timeout <= 0 {
		return fmt.Errorf("voiceprint.timeout must be positive, got %s", p.Voiceprint.Timeout)
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	if l.Format != "json" && l.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got '%s'", l.Format)
	}
	return nil
}
