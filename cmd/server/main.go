package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/adapters"
	"github.com/satriahrh/voicectl/server/adapters/mongo"
	"github.com/satriahrh/voicectl/server/adapters/redis"
	"github.com/satriahrh/voicectl/server/adapters/sqlite"
	"github.com/satriahrh/voicectl/server/adapters/vad"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/api"
	"github.com/satriahrh/voicectl/server/internal/auth"
	"github.com/satriahrh/voicectl/server/internal/config"
	"github.com/satriahrh/voicectl/server/internal/dispatcher"
	"github.com/satriahrh/voicectl/server/internal/metrics"
	"github.com/satriahrh/voicectl/server/internal/playback"
	"github.com/satriahrh/voicectl/server/internal/websocket"
	"github.com/satriahrh/voicectl/server/usecase"
)

func main() {
	configPath := flag.String("config", os.Getenv("VOICECTL_CONFIG"), "path to config.yaml")
	flag.Parse()
	if *configPath == "" {
		*configPath = "config.yaml"
	}

	config.LoadDotEnv()

	bootstrap, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := newLogger(bootstrap.Logging)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	restart, err := run(*configPath, logger)
	if err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	if restart {
		reexec(logger)
	}
	logger.Info("Server exited")
}

// run serves until a signal or restart request arrives. It reports whether
// the process should re-exec itself.
func run(configPath string, logger *zap.Logger) (bool, error) {
	ctx := context.Background()

	cfgManager, err := config.NewManager(configPath, logger)
	if err != nil {
		return false, err
	}
	cfg := cfgManager.Get()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	clk := clock.New()

	jwtManager, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return false, err
	}

	devices := adapters.NewMemoryDeviceRepository()
	if err := devices.Seed(ctx, cfg.Auth.Devices); err != nil {
		return false, err
	}
	logger.Info("Devices registered", zap.Int("count", devices.Len()))

	p, err := newProviders(ctx, cfg.Providers, logger)
	if err != nil {
		return false, err
	}
	defer p.Close()

	st := openStorage(ctx, cfg, logger)
	defer st.Close(ctx)

	var reportSink dispatcher.ReportSink
	if st.reports != nil {
		reports := usecase.NewReportService(st.reports, cfg.Session.ReportQueueSize, m, logger)
		reports.Start()
		defer reports.Stop()
		reportSink = reports
	}

	var meetings *usecase.MeetingService
	if st.meetings != nil {
		meetings = usecase.NewMeetingService(st.meetings, p.llm, logger)
	}

	synth, err := usecase.NewSynthesizer(p.tts, cfg.Audio.Params(), logger)
	if err != nil {
		return false, err
	}
	deviceTools := usecase.NewDeviceTools(logger)
	functions := usecase.NewDeviceFunctions(deviceTools, logger)
	chat := usecase.NewChatService(p.llm, synth, st.limiter, functions, cfgManager, logger)

	scheduler, err := playback.New(cfg.Playback, clk, m, logger)
	if err != nil {
		return false, err
	}
	detectors, err := vad.NewFactory(cfg.Session.VADThreshold, logger)
	if err != nil {
		return false, err
	}

	restartCh := make(chan struct{}, 1)
	hub := websocket.NewHub(websocket.Deps{
		Config:    cfgManager,
		Scheduler: scheduler,
		VAD:       detectors,
		Tools:     deviceTools,
		Restart: func() {
			select {
			case restartCh <- struct{}{}:
			default:
			}
		},
		Clock:   clk,
		Metrics: m,
	}, logger)

	conversation := usecase.NewConversationService(chat, hub, devices, reportSink, meetings, cfgManager, m, logger)
	disp, err := dispatcher.New(cfg.Dispatcher, p.stt, p.voiceprint, conversation, reportSink, m, logger)
	if err != nil {
		return false, err
	}
	hub.Attach(conversation, disp)
	go hub.Run()

	cleanup := websocket.NewSessionCleanupService(hub, logger)
	cleanup.Start()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, api.Deps{
		Hub:     hub,
		Devices: devices,
		JWT:     jwtManager,
		Config:  cfgManager,
	}, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	logger.Info("Server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	restart := false
	select {
	case sig := <-quit:
		logger.Info("Server is shutting down...", zap.String("signal", sig.String()))
	case <-restartCh:
		logger.Info("Server is restarting...")
		restart = true
	case err := <-serverErr:
		return false, fmt.Errorf("http server: %w", err)
	}

	timeout := cfgManager.Get().Server.ShutdownTimeout
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cleanup.Stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	hub.Stop(timeout)
	if !disp.Close(timeout) {
		logger.Warn("Transcriptions still running at shutdown")
	}
	if !conversation.Close(timeout) {
		logger.Warn("Chat turns still running at shutdown")
	}
	return restart, nil
}

// reexec replaces the process with a fresh copy of itself.
func reexec(logger *zap.Logger) {
	exe, err := os.Executable()
	if err != nil {
		logger.Fatal("Cannot locate executable for restart", zap.Error(err))
	}
	logger.Info("Re-executing", zap.String("executable", exe))
	logger.Sync()
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		logger.Fatal("Restart failed", zap.Error(err))
	}
}

// storage holds the optional stores. A store that is not configured or
// cannot be reached is left nil and its feature is disabled.
type storage struct {
	mongo    *mongo.Client
	reports  repositories.ReportRepository
	limiter  repositories.OutputLimiter
	redis    *redis.OutputLimiter
	meetings *sqlite.MeetingSummaryRepository
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) *storage {
	st := &storage{}

	if cfg.Mongo.URI != "" {
		client, err := mongo.NewClient(ctx, cfg.Mongo, logger)
		if err != nil {
			logger.Error("Reports disabled: MongoDB unavailable", zap.Error(err))
		} else {
			repo := mongo.NewReportRepository(client.Database, cfg.Mongo.Collection)
			if err := repo.EnsureIndexes(ctx); err != nil {
				logger.Warn("Report index not created", zap.Error(err))
			}
			st.mongo = client
			st.reports = repo
		}
	}

	if cfg.Redis.Addr != "" {
		limiter, err := redis.NewOutputLimiter(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Error("Output limit disabled: Redis unavailable", zap.Error(err))
		} else {
			st.redis = limiter
			st.limiter = limiter
		}
	} else if cfg.Session.MaxOutputSize > 0 {
		logger.Warn("max_output_size is set but redis is not configured, limit disabled")
	}

	if cfg.SQLite.Path != "" {
		repo, err := sqlite.Open(ctx, cfg.SQLite.Path, logger)
		if err != nil {
			logger.Error("Meeting summaries disabled", zap.Error(err))
		} else if err := repo.SeedDefaults(ctx); err != nil {
			logger.Error("Meeting summaries disabled", zap.Error(err))
			repo.Close()
		} else {
			st.meetings = repo
		}
	}
	return st
}

func (s *storage) Close(ctx context.Context) {
	if s.mongo != nil {
		s.mongo.Close(ctx)
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if s.meetings != nil {
		s.meetings.Close()
	}
}
