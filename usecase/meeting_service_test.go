package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicectl/server/adapters/llm"
	"github.com/satriahrh/voicectl/server/domain/entities"
)

// scriptedLLM answers every prompt with answer.
type scriptedLLM struct {
	*llm.MockLLM
	answer  string
	err     error
	prompts []string
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.answer, s.err
}

func sampleMeetings() *fakeMeetings {
	return &fakeMeetings{summaries: []*entities.MeetingSummary{
		{MeetingID: "001", Theme: "产品周会", MeetingTime: "2024-01-08", Summary: "确认了发布计划"},
		{MeetingID: "002", Theme: "技术评审", MeetingTime: "2024-01-09", Summary: "评审了缓存方案"},
	}}
}

func TestMeetingService_FindRelated(t *testing.T) {
	tests := []struct {
		name   string
		theme  string
		answer string
		err    error
		want   string
		asked  bool
	}{
		{name: "theme match skips the model", theme: "技术评审", want: "002"},
		{name: "model picks an id", theme: "缓存讨论", answer: " 002\n", want: "002", asked: true},
		{name: "model finds nothing", theme: "团建", answer: "无", asked: true},
		{name: "model returns unknown id", theme: "团建", answer: "009", asked: true},
		{name: "model fails", theme: "团建", err: errors.New("quota"), asked: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &scriptedLLM{MockLLM: llm.NewMockLLM(), answer: tt.answer, err: tt.err}
			svc := NewMeetingService(sampleMeetings(), model, zaptest.NewLogger(t))

			got, err := svc.FindRelated(context.Background(), tt.theme)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, tt.want, got.MeetingID)
			}

			if tt.asked {
				require.Len(t, model.prompts, 1)
				assert.Contains(t, model.prompts[0], tt.theme)
				assert.Contains(t, model.prompts[0], "会议ID: 001 - 产品周会")
			} else {
				assert.Empty(t, model.prompts)
			}
		})
	}
}

func TestMeetingService_WithoutModel(t *testing.T) {
	svc := NewMeetingService(sampleMeetings(), nil, zaptest.NewLogger(t))

	got, err := svc.FindRelated(context.Background(), "团建")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMeetingService_MockModelSaysNone(t *testing.T) {
	svc := NewMeetingService(sampleMeetings(), llm.NewMockLLM(), zaptest.NewLogger(t))

	got, err := svc.FindRelated(context.Background(), "团建")
	require.NoError(t, err)
	assert.Nil(t, got)
}
