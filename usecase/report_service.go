package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/dispatcher"
	"github.com/satriahrh/voicectl/server/internal/metrics"
)

const reportSaveTimeout = 5 * time.Second

// ReportService records recognized speech through a bounded queue drained
// by one worker. A full queue drops reports.
type ReportService struct {
	repo    repositories.ReportRepository
	queue   chan *entities.Report
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	metrics *metrics.Metrics
	logger  *zap.Logger
}

var _ dispatcher.ReportSink = (*ReportService)(nil)

// NewReportService creates the service; Start launches its worker.
func NewReportService(repo repositories.ReportRepository, size int, m *metrics.Metrics, logger *zap.Logger) *ReportService {
	if size < 1 {
		size = 1
	}
	return &ReportService{
		repo:    repo,
		queue:   make(chan *entities.Report, size),
		done:    make(chan struct{}),
		metrics: m,
		logger:  logger,
	}
}

// Enqueue implements dispatcher.ReportSink. It never blocks.
func (s *ReportService) Enqueue(sess *entities.Session, result entities.TranscriptionResult, audio [][]byte) {
	report := &entities.Report{
		ID:        uuid.NewString(),
		SessionID: sess.ID(),
		DeviceID:  sess.DeviceID(),
		Text:      result.Text,
		Speaker:   result.Speaker,
		Audio:     audio,
		Frames:    len(audio),
		CreatedAt: sess.Now(),
	}
	if err := report.Validate(); err != nil {
		s.logger.Debug("Skipping report", zap.String("sessionID", sess.ID()), zap.Error(err))
		return
	}

	select {
	case <-s.done:
		s.metrics.ReportDropped()
		return
	default:
	}
	select {
	case s.queue <- report:
	default:
		s.metrics.ReportDropped()
		s.logger.Warn("Report queue full, dropping report",
			zap.String("sessionID", sess.ID()),
			zap.String("deviceID", sess.DeviceID()))
	}
}

// Start runs the worker until Stop.
func (s *ReportService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case report := <-s.queue:
				s.save(report)
			case <-s.done:
				s.drain()
				return
			}
		}
	}()
	s.logger.Info("Report service started")
}

func (s *ReportService) drain() {
	for {
		select {
		case report := <-s.queue:
			s.save(report)
		default:
			return
		}
	}
}

func (s *ReportService) save(report *entities.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), reportSaveTimeout)
	defer cancel()
	if err := s.repo.Save(ctx, report); err != nil {
		s.logger.Error("Failed to save report",
			zap.String("sessionID", report.SessionID),
			zap.String("reportID", report.ID),
			zap.Error(err))
	}
}

// Stop flushes queued reports and stops the worker.
func (s *ReportService) Stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	s.logger.Info("Report service stopped")
}
