package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func collect(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	var out []byte
	timeout := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, chunk...)
		case <-timeout:
			t.Fatal("timed out waiting for audio")
		}
	}
}

func TestNewElevenLabsTTS(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewElevenLabsTTS(ElevenLabsConfig{}, logger)
	assert.Error(t, err, "API key is required")

	_, err = NewElevenLabsTTS(ElevenLabsConfig{APIKey: "k", OutputFormat: "mp3_44100_128"}, logger)
	assert.Error(t, err, "only pcm output is accepted")

	_, err = NewElevenLabsTTS(ElevenLabsConfig{APIKey: "k", Stability: 1.5}, logger)
	assert.Error(t, err)

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "test-api-key"}, logger)
	require.NoError(t, err)
	assert.Equal(t, defaultVoiceID, tts.cfg.VoiceID)
	assert.Equal(t, defaultOutputFormat, tts.cfg.OutputFormat)
	assert.Equal(t, defaultChunkSize, tts.cfg.ChunkSize)
}

func TestElevenLabsTTS_Stream(t *testing.T) {
	pcm := make([]byte, 5001) // odd length, last byte dropped
	for i := range pcm {
		pcm[i] = byte(i)
	}

	var got ElevenLabsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/text-to-speech/voice-1/stream", r.URL.Path)
		assert.Equal(t, "pcm_16000", r.URL.Query().Get("output_format"))
		assert.Equal(t, "test-api-key", r.Header.Get("xi-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write(pcm)
	}))
	defer server.Close()

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{
		APIKey:     "test-api-key",
		APIBaseURL: server.URL,
		VoiceID:    "voice-1",
		ChunkSize:  1000,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ch, err := tts.ConvertTextToSpeech(context.Background(), "你好")
	require.NoError(t, err)
	audio := collect(t, ch)

	assert.Equal(t, pcm[:5000], audio)
	assert.Equal(t, "你好", got.Text)
	assert.Equal(t, defaultModelID, got.ModelID)
}

func TestElevenLabsTTS_ErrorStatusYieldsNoAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "k", APIBaseURL: server.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ch, err := tts.ConvertTextToSpeech(context.Background(), "hello")
	require.NoError(t, err)
	assert.Empty(t, collect(t, ch))
}

func TestElevenLabsTTS_EmptyText(t *testing.T) {
	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "k"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = tts.ConvertTextToSpeech(context.Background(), "  ")
	assert.Error(t, err)
}

func TestMockTextToSpeech_LengthFollowsText(t *testing.T) {
	tts := NewMockTextToSpeech(zaptest.NewLogger(t))

	ch, err := tts.ConvertTextToSpeech(context.Background(), "你好呀")
	require.NoError(t, err)
	audio := collect(t, ch)

	// 3 runes * 120ms * 16kHz * 2 bytes
	assert.Len(t, audio, 3*120*16*2)
}
