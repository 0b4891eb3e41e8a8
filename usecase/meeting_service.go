package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
)

const meetingMatchPrompt = `你是一个智能会议助手，需要根据当前会议主题，从历史会议总结中找到最相关的会议。

请分析当前会议主题与历史会议总结的相关性，并返回最相关的会议ID。
只返回会议ID（如001、002）或"无"，不要返回其他内容。

当前会议主题：%s

历史会议总结列表：
%s`

// MeetingService finds summaries of past meetings related to a new one.
type MeetingService struct {
	repo   repositories.MeetingSummaryRepository
	llm    repositories.LargeLanguageModel
	logger *zap.Logger
}

// NewMeetingService creates a meeting service. llm may be nil, which limits
// matching to theme containment.
func NewMeetingService(repo repositories.MeetingSummaryRepository, llm repositories.LargeLanguageModel, logger *zap.Logger) *MeetingService {
	return &MeetingService{repo: repo, llm: llm, logger: logger}
}

// FindRelated returns the most related summary or nil when none matches.
func (s *MeetingService) FindRelated(ctx context.Context, theme string) (*entities.MeetingSummary, error) {
	summary, err := s.repo.FindByTheme(ctx, theme)
	switch {
	case err == nil:
		return summary, nil
	case !errors.Is(err, repositories.ErrNotFound):
		return nil, err
	case s.llm == nil:
		return nil, nil
	}

	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	var lines []string
	for _, m := range all {
		lines = append(lines, fmt.Sprintf("会议ID: %s - %s（%s）", m.MeetingID, m.Theme, m.MeetingTime))
	}
	answer, err := s.llm.Generate(ctx, fmt.Sprintf(meetingMatchPrompt, theme, strings.Join(lines, "\n")))
	if err != nil {
		return nil, fmt.Errorf("meeting match: %w", err)
	}

	id := strings.TrimSpace(answer)
	if id == "" || id == "无" || strings.EqualFold(id, "none") {
		s.logger.Info("No related meeting summary", zap.String("theme", theme))
		return nil, nil
	}
	summary, err = s.repo.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		s.logger.Warn("Model returned unknown meeting id", zap.String("meetingID", id))
		return nil, nil
	}
	return summary, err
}
