package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/internal/config"
)

// Requires a running MongoDB, skipped unless MONGODB_URI is set.
func TestReportRepository_Integration(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, config.MongoConfig{URI: uri, Database: "voicectl_test"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer client.Close(ctx)
	defer client.Database.Drop(ctx)

	repo := NewReportRepository(client.Database, "")
	require.NoError(t, repo.EnsureIndexes(ctx))

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, text := range []string{"第一句", "第二句"} {
		require.NoError(t, repo.Save(ctx, &entities.Report{
			SessionID: "s1",
			DeviceID:  "device-1",
			Text:      text,
			Frames:    40,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	reports, err := repo.ListByDevice(ctx, "device-1", 10)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "第二句", reports[0].Text)
	assert.NotEmpty(t, reports[0].ID)
}

func TestReportRepository_SaveRejectsInvalid(t *testing.T) {
	repo := &ReportRepository{}
	assert.Error(t, repo.Save(context.Background(), nil))
	assert.Error(t, repo.Save(context.Background(), &entities.Report{DeviceID: "d"}))
}

func TestNewClient_RequiresURI(t *testing.T) {
	_, err := NewClient(context.Background(), config.MongoConfig{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
