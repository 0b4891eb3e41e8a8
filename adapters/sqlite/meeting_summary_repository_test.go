package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
)

func openTestRepo(t *testing.T) *MeetingSummaryRepository {
	t.Helper()
	repo, err := Open(context.Background(), ":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.SeedDefaults(context.Background()))
	return repo
}

func TestSeedDefaults_OnlyOnce(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SeedDefaults(ctx))
	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(DefaultSummaries()))
	assert.Equal(t, "001", all[0].MeetingID)
}

func TestFindByTheme(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		theme string
		want  string
	}{
		{"substring of stored theme", "CES展筹备", "002"},
		{"stored theme inside query", "下午的电机参数选型评审会议", "003"},
		{"ascii case ignored", "OLLO机器人技术架构", "005"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.FindByTheme(ctx, tt.theme)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.MeetingID)
		})
	}

	_, err := repo.FindByTheme(ctx, "年度财务预算")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	_, err = repo.FindByTheme(ctx, "  ")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestSaveAndGetByID(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	s := &entities.MeetingSummary{
		MeetingID:   "101",
		Theme:       "语音服务上线复盘",
		MeetingTime: "2026-02-01 10:00",
		Summary:     "复盘上线问题。",
		KeyPoints:   []string{"延迟偏高"},
	}
	require.NoError(t, repo.Save(ctx, s))

	got, err := repo.GetByID(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, s.Theme, got.Theme)
	assert.Equal(t, []string{"延迟偏高"}, got.KeyPoints)
	assert.Empty(t, got.Attendees)

	s.Summary = "更新后的总结。"
	require.NoError(t, repo.Save(ctx, s))
	got, err = repo.GetByID(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, "更新后的总结。", got.Summary)

	_, err = repo.GetByID(ctx, "999")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summaries.db")
	ctx := context.Background()

	repo, err := Open(ctx, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, repo.SeedDefaults(ctx))
	require.NoError(t, repo.Close())

	repo, err = Open(ctx, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer repo.Close()
	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(DefaultSummaries()))
}
