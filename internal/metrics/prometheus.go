package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice session engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	ActiveSessions prometheus.Gauge
	SessionsOpened prometheus.Counter
	IdleGoodbyes   prometheus.Counter
	Aborts         prometheus.Counter
	ProtocolErrors *prometheus.CounterVec

	// Segmentation metrics
	SegmentsFlushed   *prometheus.CounterVec
	SegmentsDiscarded prometheus.Counter
	SegmentFrames     prometheus.Histogram

	// Transcription metrics
	TranscriptionDuration prometheus.Histogram
	TranscriptionFailures *prometheus.CounterVec
	TranscriptsSuppressed prometheus.Counter
	TranscriptsDispatched prometheus.Counter

	// Playback metrics
	PlaybackFrames prometheus.Counter
	PlaybackErrors prometheus.Counter

	// Report metrics
	ReportsDropped prometheus.Counter
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicectl_active_sessions",
			Help: "Current number of connected device sessions",
		}),
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "voicectl_sessions_opened_total",
			Help: "Total number of device sessions opened",
		}),
		IdleGoodbyes: f.NewCounter(prometheus.CounterOpts{
			Name: "voicectl_idle_goodbyes_total",
			Help: "Total number of sessions closed by the idle timeout",
		}),
		Aborts: f.NewCounter(prometheus.CounterOpts{
			Name: "voicectl_playback_aborts_total",
			Help: "Total number of playback aborts",
		}),
		ProtocolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicectl_protocol_errors_total",
			Help: "Total number of rejected inbound messages",
		}, []string{"kind"}),
		SegmentsFlushed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicectl_segments_flushed_total",
			Help: "Total number of speech segments handed to transcription",
		}, []string{"reason"}),
		SegmentsDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "voicectl_segments_discarded_total",
			Help: "Total number of meeting windows discarded for lack of voice",
		}),
		SegmentFrames: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicectl_segment_frames",
			Help:    "Number of frames per flushed segment",
			Buckets: []float64{10, 25, 43, 75, 100, 200, 350, 500},
		}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicectl_transcription_duration_seconds",
			Help:    "Time spent transcribing a segment",
			Buckets: prometheus.DefBuckets,
		}),
		TranscriptionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicectl_transcription_failures_total",
			Help: "Total number of failed provider calls during dispatch",
		}, []string{"provider"}),
		TranscriptsSuppressed: f.NewCounter(prometheus.CounterOpts{
			Name: "voicectl_transcripts_suppressed_total",
			Help: "Total number of transcripts dropped as recognition errors",
		}),
		TranscriptsDispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "voicectl_transcripts_dispatched_total",
			Help: "Total number of transcripts forwarded to chat",
		}),
		PlaybackFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "voicectl_playback_frames_total",
			Help: "Total number of audio frames sent to devices",
		}),
		PlaybackErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "voicectl_playback_errors_total",
			Help: "Total number of playback streams cut by a send failure",
		}),
		ReportsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "voicectl_reports_dropped_total",
			Help: "Total number of usage reports dropped because the queue was full",
		}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpened.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) IdleGoodbye() {
	if m == nil {
		return
	}
	m.IdleGoodbyes.Inc()
}

func (m *Metrics) Abort() {
	if m == nil {
		return
	}
	m.Aborts.Inc()
}

func (m *Metrics) ProtocolError(kind string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SegmentFlushed(reason string, frames int) {
	if m == nil {
		return
	}
	m.SegmentsFlushed.WithLabelValues(reason).Inc()
	m.SegmentFrames.Observe(float64(frames))
}

func (m *Metrics) SegmentDiscarded() {
	if m == nil {
		return
	}
	m.SegmentsDiscarded.Inc()
}

func (m *Metrics) ObserveTranscription(d time.Duration) {
	if m == nil {
		return
	}
	m.TranscriptionDuration.Observe(d.Seconds())
}

func (m *Metrics) ProviderFailure(provider string) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.WithLabelValues(provider).Inc()
}

func (m *Metrics) TranscriptSuppressed() {
	if m == nil {
		return
	}
	m.TranscriptsSuppressed.Inc()
}

func (m *Metrics) TranscriptDispatched() {
	if m == nil {
		return
	}
	m.TranscriptsDispatched.Inc()
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.PlaybackFrames.Inc()
}

func (m *Metrics) PlaybackError() {
	if m == nil {
		return
	}
	m.PlaybackErrors.Inc()
}

func (m *Metrics) ReportDropped() {
	if m == nil {
		return
	}
	m.ReportsDropped.Inc()
}
