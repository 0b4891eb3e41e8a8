package dispatcher

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/codec"
)

type fakeSTT struct {
	text  string
	err   error
	delay time.Duration
	calls int
	got   []byte
	mu    sync.Mutex
}

func (f *fakeSTT) TranscribeAudio(ctx context.Context, audio []byte, cfg repositories.AudioConfig) (string, string, error) {
	f.mu.Lock()
	f.calls++
	f.got = audio
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.text, "", f.err
}

type fakeVoiceprint struct {
	speaker string
	err     error
	delay   time.Duration
}

func (f *fakeVoiceprint) IdentifySpeaker(ctx context.Context, wav []byte) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.speaker, f.err
}

type recordingChat struct {
	mu       sync.Mutex
	payloads []string
}

func (r *recordingChat) Submit(ctx context.Context, sess *entities.Session, payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
}

func (r *recordingChat) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

type recordingReports struct {
	results []entities.TranscriptionResult
}

func (r *recordingReports) Enqueue(sess *entities.Session, result entities.TranscriptionResult, audio [][]byte) {
	r.results = append(r.results, result)
}

func pcmSession() *entities.Session {
	sess := entities.NewSession("device-1", nil)
	sess.SetAudioParams(entities.AudioParams{Format: "pcm"})
	return sess
}

func pcmSegment() *entities.SpeechSegment {
	frames := make([][]byte, 50)
	for i := range frames {
		frames[i] = make([]byte, 1920)
	}
	return &entities.SpeechSegment{Frames: frames, VoiceFrames: 40, Reason: entities.FlushSilence}
}

func newDispatcher(t *testing.T, stt repositories.SpeechToText, vp repositories.Voiceprint, cfg Config) (*Dispatcher, *recordingChat, *recordingReports) {
	chat := &recordingChat{}
	reports := &recordingReports{}
	d, err := New(cfg, stt, vp, chat, reports, nil, zap.NewNop())
	require.NoError(t, err)
	return d, chat, reports
}

func TestDispatch_ForwardsPlainText(t *testing.T) {
	stt := &fakeSTT{text: "今天天气怎么样"}
	d, chat, reports := newDispatcher(t, stt, nil, DefaultConfig())

	result, ok := d.Dispatch(context.Background(), pcmSession(), pcmSegment())

	require.True(t, ok)
	assert.Equal(t, "今天天气怎么样", result.Text)
	assert.Equal(t, []string{"今天天气怎么样"}, chat.payloads)
	assert.Len(t, reports.results, 1)
	assert.Len(t, stt.got, 50*1920)
}

func TestDispatch_SuppressesErrorPhrase(t *testing.T) {
	d, chat, reports := newDispatcher(t, &fakeSTT{text: "请重新说一遍"}, nil, DefaultConfig())

	_, ok := d.Dispatch(context.Background(), pcmSession(), pcmSegment())

	assert.False(t, ok)
	assert.Zero(t, chat.count())
	assert.Empty(t, reports.results)
}

func TestDispatch_SuppressesShortText(t *testing.T) {
	d, chat, _ := newDispatcher(t, &fakeSTT{text: " 嗯 "}, nil, DefaultConfig())

	_, ok := d.Dispatch(context.Background(), pcmSession(), pcmSegment())

	assert.False(t, ok)
	assert.Zero(t, chat.count())
}

func TestDispatch_SpeakerPayload(t *testing.T) {
	sess := pcmSession()
	d, chat, _ := newDispatcher(t, &fakeSTT{text: "帮我打开客厅的灯"}, &fakeVoiceprint{speaker: "alice"}, DefaultConfig())

	_, ok := d.Dispatch(context.Background(), sess, pcmSegment())

	require.True(t, ok)
	require.Len(t, chat.payloads, 1)
	assert.JSONEq(t, `{"speaker":"alice","content":"帮我打开客厅的灯"}`, chat.payloads[0])
	assert.Equal(t, "alice", sess.Speaker())

	speaker, content := ParsePayload(chat.payloads[0])
	assert.Equal(t, "alice", speaker)
	assert.Equal(t, "帮我打开客厅的灯", content)
}

func TestDispatch_VoiceprintFailureDegrades(t *testing.T) {
	d, chat, _ := newDispatcher(t, &fakeSTT{text: "播放一首歌吧"}, &fakeVoiceprint{err: errors.New("service unavailable")}, DefaultConfig())

	_, ok := d.Dispatch(context.Background(), pcmSession(), pcmSegment())

	require.True(t, ok)
	assert.Equal(t, []string{"播放一首歌吧"}, chat.payloads)
}

func TestDispatch_TimeoutDegradesBranch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProviderTimeout = 30 * time.Millisecond
	vp := &fakeVoiceprint{speaker: "bob", delay: time.Second}
	d, chat, _ := newDispatcher(t, &fakeSTT{text: "现在几点了呢"}, vp, cfg)

	start := time.Now()
	result, ok := d.Dispatch(context.Background(), pcmSession(), pcmSegment())

	require.True(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Empty(t, result.Speaker)
	assert.Equal(t, []string{"现在几点了呢"}, chat.payloads)
}

func TestDispatch_RecognitionFailure(t *testing.T) {
	d, chat, reports := newDispatcher(t, &fakeSTT{err: errors.New("quota")}, nil, DefaultConfig())

	_, ok := d.Dispatch(context.Background(), pcmSession(), pcmSegment())

	assert.False(t, ok)
	assert.Zero(t, chat.count())
	assert.Empty(t, reports.results)
}

func TestDispatch_DecodesOpus(t *testing.T) {
	enc, err := codec.NewEncoder(codec.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	samples := make([]int16, 960*20)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	frames, err := enc.EncodeSamples(samples, true)
	require.NoError(t, err)
	require.Len(t, frames, 20)

	stt := &fakeSTT{text: "你好小助手"}
	d, chat, _ := newDispatcher(t, stt, nil, DefaultConfig())

	_, ok := d.Dispatch(context.Background(), entities.NewSession("device-1", nil), &entities.SpeechSegment{Frames: frames})

	require.True(t, ok)
	assert.Equal(t, 1, chat.count())
	assert.Len(t, stt.got, 20*960*2)
}

func TestProcess_RunsInBackground(t *testing.T) {
	stt := &fakeSTT{text: "讲个故事吧", delay: 20 * time.Millisecond}
	d, chat, _ := newDispatcher(t, stt, nil, DefaultConfig())

	require.NoError(t, d.Process(context.Background(), pcmSession(), pcmSegment()))
	assert.Zero(t, chat.count())

	require.True(t, d.Close(time.Second))
	assert.Equal(t, 1, chat.count())
}
