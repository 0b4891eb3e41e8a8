package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/config"
	"github.com/satriahrh/voicectl/server/internal/dispatcher"
	"github.com/satriahrh/voicectl/server/internal/metrics"
	"github.com/satriahrh/voicectl/server/internal/playback"
	"github.com/satriahrh/voicectl/server/internal/protocol"
	"github.com/satriahrh/voicectl/server/internal/task"
	"github.com/satriahrh/voicectl/server/internal/textutil"
)

// Scripted texts
const (
	WakeGreeting        = "嘿，你好呀"
	BindPromptFormat    = "请登录控制面板，输入%s，绑定设备。"
	BindCodeInvalid     = "绑定码格式错误，请检查配置。"
	DeviceNotFound      = "没有找到该设备的版本信息，请正确配置 OTA地址，然后重新编译固件。"
	meetingReminderFmt  = "[会议提醒] 您有一个会议即将开始，会议主题：%s，会议时间：%s。"
	meetingReferenceFmt = "\n\n[历史会议参考]\n会议主题：%s\n会议时间：%s\n会议总结：%s\n"
)

// Concurrent LLM turns across all sessions.
const maxChatTasks = 64

// Channels finds the open channel of a session.
type Channels interface {
	Channel(sessionID string) (playback.Channel, bool)
}

// ConversationService decides what happens with recognized speech: echo,
// mode switches, binding prompts, quota checks, then the LLM turn.
type ConversationService struct {
	chat     *ChatService
	channels Channels
	devices  repositories.DeviceRepository
	reports  dispatcher.ReportSink
	meetings *MeetingService
	config   *config.Manager
	tasks    *task.Group
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

var _ dispatcher.ChatSink = (*ConversationService)(nil)

// NewConversationService creates a new conversation service. devices,
// reports and meetings may be nil.
func NewConversationService(
	chat *ChatService,
	channels Channels,
	devices repositories.DeviceRepository,
	reports dispatcher.ReportSink,
	meetings *MeetingService,
	cfg *config.Manager,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ConversationService {
	return &ConversationService{
		chat:     chat,
		channels: channels,
		devices:  devices,
		reports:  reports,
		meetings: meetings,
		config:   cfg,
		tasks:    task.NewGroup("chat", maxChatTasks, logger),
		metrics:  m,
		logger:   logger,
	}
}

// Submit hands a resolved transcript to chat without blocking the caller.
func (s *ConversationService) Submit(ctx context.Context, sess *entities.Session, payload string) {
	ch, ok := s.channels.Channel(sess.ID())
	if !ok {
		s.logger.Warn("Dropping transcript for a closed session",
			zap.String("sessionID", sess.ID()))
		return
	}
	s.submit(sess, ch, payload, false)
}

func (s *ConversationService) submit(sess *entities.Session, ch playback.Channel, text string, closing bool) {
	err := s.tasks.Go(context.Background(), "start_to_chat", func(ctx context.Context) error {
		return s.StartToChat(ctx, sess, ch, text, closing)
	})
	if err != nil {
		s.logger.Warn("Chat submission rejected", zap.String("sessionID", sess.ID()), zap.Error(err))
	}
}

// StartToChat applies the conversation policy to text and, unless a rule
// consumes it, runs an LLM turn. closing marks the idle farewell, which
// never interrupts playback.
func (s *ConversationService) StartToChat(ctx context.Context, sess *entities.Session, ch playback.Channel, text string, closing bool) error {
	cfg := s.config.Get().Session
	logger := s.logger.With(zap.String("sessionID", sess.ID()), zap.String("deviceID", sess.DeviceID()))

	if textutil.IsRecognitionError(text) {
		logger.Info("Recognition error, not sent to chat", zap.String("text", text))
		return nil
	}
	speaker, content := dispatcher.ParsePayload(text)
	if textutil.Len(content) == 0 {
		return nil
	}
	sess.SetSpeaker(speaker)

	if cfg.RequireBinding {
		bound, err := s.checkBinding(ctx, sess, ch)
		if err != nil || !bound {
			return err
		}
	}

	if s.chat.LimitReached(ctx, sess) {
		logger.Info("Daily output limit reached")
		if err := s.Echo(sess, ch, OutputLimitFarewell); err != nil {
			return err
		}
		return s.chat.Speak(ctx, sess, ch, OutputLimitFarewell, true)
	}

	if closing {
		// The farewell ends with the close, so mode gates must not swallow it.
		if err := s.Echo(sess, ch, text); err != nil {
			return err
		}
		return s.chat.Respond(ctx, sess, ch, text)
	}
	if sess.Speaking() {
		s.Abort(sess, ch)
	}

	if sess.InMeeting() {
		if !containsAny(content, cfg.MeetingEndKeywords) {
			logger.Info("Transcript dropped during meeting", zap.String("text", content))
			return nil
		}
		logger.Info("Meeting end requested")
		sess.SetInMeeting(false)
		if err := s.Echo(sess, ch, text); err != nil {
			return err
		}
		return s.chat.Respond(ctx, sess, ch, text)
	}

	if sess.TerminalMode() == entities.TerminalModeSleep {
		if !containsAny(content, cfg.TerminalWakeKeywords) {
			// Kept in history so the assistant knows what was said.
			_, err := s.chat.Observe(ctx, sess, text)
			return err
		}
		logger.Info("Terminal woken up")
		sess.SetTerminalMode(entities.TerminalModeWork)
		if err := ch.SendJSON(protocol.NewTerminalMode(entities.TerminalModeWork)); err != nil {
			return err
		}
	} else if containsAny(content, cfg.TerminalSleepKeywords) {
		logger.Info("Terminal going to sleep")
		sess.SetTerminalMode(entities.TerminalModeSleep)
		if err := ch.SendJSON(protocol.NewTerminalMode(entities.TerminalModeSleep)); err != nil {
			return err
		}
	}

	if err := s.Echo(sess, ch, text); err != nil {
		return err
	}
	return s.chat.Respond(ctx, sess, ch, text)
}

// Echo sends the recognized text back as stt followed by tts start. The
// farewell prompt is not echoed and recognition errors send nothing.
func (s *ConversationService) Echo(sess *entities.Session, ch playback.Channel, text string) error {
	endPrompt := s.config.Get().Session.EndPrompt.Prompt
	if endPrompt != "" && text == endPrompt {
		return ch.SendJSON(protocol.NewTTS(sess.ID(), protocol.TTSStart, ""))
	}
	if textutil.IsRecognitionError(text) {
		return nil
	}
	_, content := dispatcher.ParsePayload(text)
	if err := ch.SendJSON(protocol.NewSTT(sess.ID(), textutil.TrimPunctuation(content))); err != nil {
		return err
	}
	sess.SetSpeaking(true)
	return ch.SendJSON(protocol.NewTTS(sess.ID(), protocol.TTSStart, ""))
}

// Abort stops the current response and tells the device right away.
func (s *ConversationService) Abort(sess *entities.Session, ch playback.Channel) {
	sess.Abort()
	s.metrics.Abort()
	if err := ch.SendJSON(protocol.NewTTS(sess.ID(), protocol.TTSStop, "")); err != nil {
		s.logger.Warn("Failed to send tts stop", zap.String("sessionID", sess.ID()), zap.Error(err))
	}
}

// Detect handles text the device recognized itself. Wake words get a
// greeting instead of a chat turn.
func (s *ConversationService) Detect(ctx context.Context, sess *entities.Session, ch playback.Channel, text string) error {
	cfg := s.config.Get().Session
	if isWakeWord(text, cfg.WakeupWords) {
		if !cfg.EnableGreeting {
			if err := s.Echo(sess, ch, text); err != nil {
				return err
			}
			sess.SetSpeaking(false)
			return ch.SendJSON(protocol.NewTTS(sess.ID(), protocol.TTSStop, ""))
		}
		sess.WakeUp(cfg.WakeGrace)
		text = WakeGreeting
	}
	s.report(sess, text)
	s.submit(sess, ch, text, false)
	return nil
}

// Goodbye runs the idle farewell once per session and closes the
// connection after it has been spoken.
func (s *ConversationService) Goodbye(ctx context.Context, sess *entities.Session, ch playback.Channel) {
	if !sess.MarkClosePending() {
		return
	}
	s.metrics.IdleGoodbye()
	sess.ClearAbort()

	endPrompt := s.config.Get().Session.EndPrompt
	s.logger.Info("Session idle, saying goodbye",
		zap.String("sessionID", sess.ID()),
		zap.Duration("idle", sess.IdleFor()),
		zap.Bool("farewell", endPrompt.Enable))
	if !endPrompt.Enable {
		if err := ch.Close(); err != nil {
			s.logger.Warn("Failed to close idle session", zap.String("sessionID", sess.ID()), zap.Error(err))
		}
		return
	}
	s.submit(sess, ch, endPrompt.Prompt, true)
}

// ActiveChat lets the assistant speak first about topic.
func (s *ConversationService) ActiveChat(ctx context.Context, sess *entities.Session, ch playback.Channel, topic string) error {
	if err := s.chat.AppendAssistant(ctx, sess, topic); err != nil {
		s.logger.Warn("Failed to record active chat topic", zap.String("sessionID", sess.ID()), zap.Error(err))
	}
	return s.broadcast(ctx, sess, ch, topic)
}

// MeetingReminder announces an upcoming meeting together with the summary
// of a related past meeting, when one is found.
func (s *ConversationService) MeetingReminder(ctx context.Context, sess *entities.Session, ch playback.Channel, msg protocol.MeetingReminder) error {
	text := fmt.Sprintf(meetingReminderFmt, msg.MeetingName, msg.MeetingTime)
	if s.meetings != nil && msg.MeetingName != "" {
		summary, err := s.meetings.FindRelated(ctx, msg.MeetingName)
		switch {
		case err != nil:
			s.logger.Warn("Meeting summary lookup failed", zap.String("meeting", msg.MeetingName), zap.Error(err))
		case summary != nil:
			text += fmt.Sprintf(meetingReferenceFmt, summary.Theme, summary.MeetingTime, summary.Summary)
		}
	}
	s.logger.Info("Meeting reminder",
		zap.String("sessionID", sess.ID()),
		zap.String("meetingID", msg.MeetingID),
		zap.String("meeting", msg.MeetingName))
	return s.broadcast(ctx, sess, ch, text)
}

// broadcast interrupts any current speech and plays text as its own
// response, echoed as assistant text.
func (s *ConversationService) broadcast(ctx context.Context, sess *entities.Session, ch playback.Channel, text string) error {
	if sess.Speaking() {
		s.Abort(sess, ch)
	}
	sess.TouchActivity()
	if err := ch.SendJSON(protocol.NewLLM(sess.ID(), text, "")); err != nil {
		return err
	}

	frames, err := s.chat.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("broadcast synthesis: %w", err)
	}
	if err := ch.SendJSON(protocol.NewTTS(sess.ID(), protocol.TTSStart, "")); err != nil {
		return err
	}
	return s.chat.SpeakItems(ctx, sess, ch, []entities.PlaybackItem{
		{Type: entities.SentenceFirst, Frames: frames, Text: text},
	})
}

// checkBinding speaks the binding instructions for unclaimed devices. It
// reports whether the conversation may continue.
func (s *ConversationService) checkBinding(ctx context.Context, sess *entities.Session, ch playback.Channel) (bool, error) {
	if s.devices == nil {
		return true, nil
	}
	device, err := s.devices.GetByID(ctx, sess.DeviceID())
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		if err := s.Echo(sess, ch, DeviceNotFound); err != nil {
			return false, err
		}
		return false, s.chat.Speak(ctx, sess, ch, DeviceNotFound, false)
	case err != nil:
		return false, fmt.Errorf("device lookup: %w", err)
	case device.IsBound():
		return true, nil
	}

	if !validBindCode(device.BindCode) {
		s.logger.Error("Invalid bind code format", zap.String("deviceID", device.ID))
		if err := s.Echo(sess, ch, BindCodeInvalid); err != nil {
			return false, err
		}
		return false, s.chat.Speak(ctx, sess, ch, BindCodeInvalid, false)
	}

	prompt := fmt.Sprintf(BindPromptFormat, device.BindCode)
	if err := s.Echo(sess, ch, prompt); err != nil {
		return false, err
	}
	frames, err := s.chat.Synthesize(ctx, prompt)
	if err != nil {
		return false, err
	}
	items := []entities.PlaybackItem{{Type: entities.SentenceFirst, Frames: frames, Text: prompt}}
	for _, digit := range device.BindCode {
		digitFrames, err := s.chat.Synthesize(ctx, string(digit))
		if err != nil {
			s.logger.Warn("Failed to synthesize bind code digit", zap.Error(err))
			continue
		}
		items = append(items, entities.PlaybackItem{Type: entities.SentenceMiddle, Frames: digitFrames})
	}
	return false, s.chat.SpeakItems(ctx, sess, ch, items)
}

func (s *ConversationService) report(sess *entities.Session, text string) {
	if s.reports == nil {
		return
	}
	s.reports.Enqueue(sess, entities.TranscriptionResult{Text: text}, nil)
}

// SessionClosed releases per-session state.
func (s *ConversationService) SessionClosed(sess *entities.Session) {
	s.chat.Forget(sess.ID())
}

// Close waits for running chat turns.
func (s *ConversationService) Close(timeout time.Duration) bool {
	return s.tasks.Close(timeout)
}

func isWakeWord(text string, words []string) bool {
	filtered := textutil.StripPunctuation(text)
	for _, w := range words {
		if filtered == textutil.StripPunctuation(w) {
			return true
		}
	}
	return false
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func validBindCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
