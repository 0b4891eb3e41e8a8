package usecase

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/config"
	"github.com/satriahrh/voicectl/server/internal/playback"
	"github.com/satriahrh/voicectl/server/internal/textutil"
)

// OutputLimitFarewell is spoken when a device used up its daily output.
const OutputLimitFarewell = "不好意思，我现在有点事情要忙，明天这个时候我们再聊，约好了哦！明天不见不散，拜拜！"

// ChatService handles conversation logic: one LLM chat per session, the
// reply split into sentences, each sentence synthesized and queued for
// playback.
type ChatService struct {
	llm       repositories.LargeLanguageModel
	synth     *Synthesizer
	limiter   repositories.OutputLimiter
	functions Functions
	config    *config.Manager
	logger    *zap.Logger

	mu        sync.Mutex
	dialogues map[string]*dialogue
}

type dialogue struct {
	mu   sync.Mutex // one LLM turn at a time
	chat repositories.ChatSession
}

// NewChatService creates a new chat service. limiter and functions may be
// nil.
func NewChatService(
	llm repositories.LargeLanguageModel,
	synth *Synthesizer,
	limiter repositories.OutputLimiter,
	functions Functions,
	cfg *config.Manager,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		llm:       llm,
		synth:     synth,
		limiter:   limiter,
		functions: functions,
		config:    cfg,
		logger:    logger,
		dialogues: make(map[string]*dialogue),
	}
}

func (s *ChatService) dialogue(ctx context.Context, sess *entities.Session) (*dialogue, error) {
	cfg := s.config.Get().Session

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogues[sess.ID()]
	if ok && !sess.ShouldResetDialogue(cfg.DialogueHistoryTimeout) {
		return d, nil
	}
	if ok {
		history, _ := d.chat.History()
		s.logger.Info("Dialogue history expired, starting a new topic",
			zap.String("sessionID", sess.ID()),
			zap.Duration("timeout", cfg.DialogueHistoryTimeout),
			zap.Int("dropped", len(history)))
	}

	var history []repositories.ChatMessage
	if cfg.SystemPrompt != "" {
		history = append(history, repositories.ChatMessage{Role: repositories.SystemRole, Content: cfg.SystemPrompt})
	}
	chat, err := s.llm.GenerateChat(ctx, history)
	if err != nil {
		return nil, err
	}
	d = &dialogue{chat: chat}
	s.dialogues[sess.ID()] = d
	return d, nil
}

// Respond runs one LLM turn for text and queues the spoken reply. Output
// is counted against the device's daily quota.
func (s *ChatService) Respond(ctx context.Context, sess *entities.Session, ch playback.Channel, text string) error {
	logger := s.logger.With(zap.String("sessionID", sess.ID()), zap.String("deviceID", sess.DeviceID()))

	d, err := s.dialogue(ctx, sess)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.functions != nil {
		d.chat.SetTools(s.functions.Tools(sess), s.functions.Executor(sess, ch))
	}
	responseID := sess.BeginResponse()
	start := time.Now()
	reply, err := d.chat.SendMessage(ctx, repositories.ChatMessage{Role: repositories.UserRole, Content: text})
	if err != nil {
		// Still end the response so the device leaves the speaking state.
		_ = ch.Enqueue(ctx, entities.PlaybackItem{Type: entities.SentenceLast, ResponseID: responseID, Final: true})
		return err
	}
	sess.RecordExchange()
	logger.Info("Received chat response",
		zap.Duration("latency", time.Since(start)),
		zap.Int("length", utf8.RuneCountInString(reply.Content)))

	s.countOutput(ctx, sess, reply.Content)
	return s.play(ctx, sess, ch, responseID, SplitSentences(reply.Content))
}

// Speak queues a scripted utterance without consulting the LLM. With
// closeAfter the connection closes once it has been played.
func (s *ChatService) Speak(ctx context.Context, sess *entities.Session, ch playback.Channel, text string, closeAfter bool) error {
	if closeAfter {
		sess.MarkClosePending()
	}
	responseID := sess.BeginResponse()
	return s.play(ctx, sess, ch, responseID, []string{text})
}

// SpeakItems queues prepared items as one response.
func (s *ChatService) SpeakItems(ctx context.Context, sess *entities.Session, ch playback.Channel, items []entities.PlaybackItem) error {
	responseID := sess.BeginResponse()
	for _, item := range items {
		item.ResponseID = responseID
		if err := ch.Enqueue(ctx, item); err != nil {
			return err
		}
	}
	return ch.Enqueue(ctx, entities.PlaybackItem{Type: entities.SentenceLast, ResponseID: responseID, Final: true})
}

func (s *ChatService) play(ctx context.Context, sess *entities.Session, ch playback.Channel, responseID uint64, sentences []string) error {
	typ := entities.SentenceFirst
	for _, sentence := range sentences {
		if sess.Aborted() || sess.ResponseID() != responseID {
			break
		}
		frames, err := s.synth.Synthesize(ctx, sentence)
		if err != nil {
			s.logger.Warn("Failed to synthesize sentence",
				zap.String("sessionID", sess.ID()),
				zap.String("text", sentence),
				zap.Error(err))
			continue
		}
		if err := ch.Enqueue(ctx, entities.PlaybackItem{
			Type:       typ,
			Frames:     frames,
			Text:       sentence,
			ResponseID: responseID,
		}); err != nil {
			return err
		}
		typ = entities.SentenceMiddle
	}
	return ch.Enqueue(ctx, entities.PlaybackItem{Type: entities.SentenceLast, ResponseID: responseID, Final: true})
}

// Synthesize exposes the synthesizer for standalone announcements.
func (s *ChatService) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	return s.synth.Synthesize(ctx, text)
}

// AppendAssistant records text the assistant said outside an LLM turn.
func (s *ChatService) AppendAssistant(ctx context.Context, sess *entities.Session, text string) error {
	d, err := s.dialogue(ctx, sess)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chat.Append(repositories.ChatMessage{Role: repositories.AssistantRole, Content: text})
	return nil
}

// Observe runs an LLM turn whose reply is kept in history but not voiced.
func (s *ChatService) Observe(ctx context.Context, sess *entities.Session, text string) (string, error) {
	d, err := s.dialogue(ctx, sess)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// A silent turn must not act on the device.
	d.chat.SetTools(nil, nil)
	reply, err := d.chat.SendMessage(ctx, repositories.ChatMessage{Role: repositories.UserRole, Content: text})
	if err != nil {
		return "", err
	}
	sess.RecordExchange()
	return reply.Content, nil
}

// Forget drops the dialogue of a closed session.
func (s *ChatService) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dialogues, sessionID)
}

// LimitReached reports whether the device used up its daily output.
// Limiter failures never block the conversation.
func (s *ChatService) LimitReached(ctx context.Context, sess *entities.Session) bool {
	limit := s.config.Get().Session.MaxOutputSize
	if s.limiter == nil || limit <= 0 {
		return false
	}
	exceeded, err := s.limiter.Exceeded(ctx, sess.DeviceID(), limit, sess.Now())
	if err != nil {
		s.logger.Warn("Failed to check output limit", zap.String("deviceID", sess.DeviceID()), zap.Error(err))
		return false
	}
	return exceeded
}

func (s *ChatService) countOutput(ctx context.Context, sess *entities.Session, text string) {
	if s.limiter == nil || s.config.Get().Session.MaxOutputSize <= 0 {
		return
	}
	if err := s.limiter.Add(ctx, sess.DeviceID(), utf8.RuneCountInString(text), sess.Now()); err != nil {
		s.logger.Warn("Failed to count output", zap.String("deviceID", sess.DeviceID()), zap.Error(err))
	}
}

// SplitSentences cuts text after sentence-ending punctuation. Fragments
// without speakable content are merged into the previous sentence.
func SplitSentences(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		s := strings.TrimSpace(cur.String())
		cur.Reset()
		if s == "" {
			return
		}
		if textutil.Len(s) == 0 && len(out) > 0 {
			out[len(out)-1] += s
			return
		}
		out = append(out, s)
	}
	for _, r := range text {
		cur.WriteRune(r)
		switch r {
		case '。', '！', '？', '!', '?', '；', ';', '~', '\n':
			flush()
		}
	}
	flush()
	return out
}
