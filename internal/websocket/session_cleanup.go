package websocket

import (
	"go.uber.org/zap"
)

// SessionCleanupService sweeps connected sessions: idle ones get the
// farewell, ones without any traffic past the heartbeat timeout are closed.
type SessionCleanupService struct {
	hub      *Hub
	logger   *zap.Logger
	stopChan chan struct{}
}

// NewSessionCleanupService creates a new session cleanup service
func NewSessionCleanupService(hub *Hub, logger *zap.Logger) *SessionCleanupService {
	return &SessionCleanupService{
		hub:      hub,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started")
}

// Stop gracefully stops the cleanup service
func (s *SessionCleanupService) Stop() {
	close(s.stopChan)
	s.logger.Info("Session cleanup service stopped")
}

// cleanupLoop runs the sweep periodically
func (s *SessionCleanupService) cleanupLoop() {
	interval := s.hub.deps.Config.Get().Session.CleanupInterval
	ticker := s.hub.deps.Clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// runCleanup checks every session once.
func (s *SessionCleanupService) runCleanup() {
	cfg := s.hub.deps.Config.Get().Session
	var idle, stale int
	for _, c := range s.hub.snapshot() {
		sess := c.session
		switch {
		case cfg.HeartbeatTimeout > 0 && sess.Now().Sub(sess.LastHeartbeat()) > cfg.HeartbeatTimeout:
			stale++
			c.logger.Info("Closing session without heartbeat",
				zap.Time("lastHeartbeat", sess.LastHeartbeat()))
			c.Close()
		case cfg.IdleTimeout > 0 && !sess.ClosePending() && sess.IdleFor() > cfg.IdleTimeout:
			idle++
			s.hub.conversation.Goodbye(c.ctx, sess, c)
		}
	}
	if idle > 0 || stale > 0 {
		s.logger.Info("Session cleanup completed",
			zap.Int("idle", idle),
			zap.Int("stale", stale))
	}
}
