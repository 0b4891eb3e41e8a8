package usecase

import (
	"context"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/internal/metrics"
)

type memoryReports struct {
	mu    sync.Mutex
	saved []*entities.Report
}

func (r *memoryReports) Save(ctx context.Context, report *entities.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, report)
	return nil
}

func TestReportService_DropsWhenFull(t *testing.T) {
	repo := &memoryReports{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	svc := NewReportService(repo, 1, m, zaptest.NewLogger(t))
	sess := entities.NewSession("device-1", clock.NewMock())

	audio := [][]byte{{1}, {2}}
	svc.Enqueue(sess, entities.TranscriptionResult{Text: "第一句", Speaker: "alice"}, audio)
	svc.Enqueue(sess, entities.TranscriptionResult{Text: "第二句"}, nil)
	svc.Enqueue(sess, entities.TranscriptionResult{Text: ""}, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportsDropped), "empty text is skipped, not dropped")

	svc.Start()
	svc.Stop()

	require.Len(t, repo.saved, 1)
	report := repo.saved[0]
	assert.Equal(t, "第一句", report.Text)
	assert.Equal(t, "alice", report.Speaker)
	assert.Equal(t, sess.ID(), report.SessionID)
	assert.Equal(t, "device-1", report.DeviceID)
	assert.Equal(t, 2, report.Frames)
	assert.NotEmpty(t, report.ID)
}

func TestReportService_EnqueueAfterStop(t *testing.T) {
	repo := &memoryReports{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	svc := NewReportService(repo, 4, m, zaptest.NewLogger(t))
	sess := entities.NewSession("device-1", clock.NewMock())

	svc.Start()
	svc.Enqueue(sess, entities.TranscriptionResult{Text: "你好呀"}, nil)
	svc.Stop()
	svc.Stop()

	require.Len(t, repo.saved, 1)

	// The queue has room but the worker is gone.
	for i := 0; i < 8; i++ {
		svc.Enqueue(sess, entities.TranscriptionResult{Text: "还在吗"}, nil)
	}
	assert.Len(t, repo.saved, 1)
	assert.Equal(t, 8.0, testutil.ToFloat64(m.ReportsDropped))
}
