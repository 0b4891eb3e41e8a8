package codec

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func sine(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/DefaultSampleRate))
	}
	return out
}

func TestConfig_FrameSize(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 960, cfg.FrameSize())
	assert.Equal(t, 1920, cfg.FrameBytes())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.FrameDuration = 30 * time.Millisecond
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.SampleRate = 44100
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Channels = 3
	assert.Error(t, bad.Validate())
}

func TestEncoder_BuffersPartialFrames(t *testing.T) {
	enc, err := NewEncoder(DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	frames, err := enc.EncodeSamples(sine(500), false)
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, 500, enc.Buffered())

	frames, err = enc.EncodeSamples(sine(500), false)
	require.NoError(t, err)
	assert.Len(t, frames, 1)
	assert.Equal(t, 40, enc.Buffered())

	frames, err = enc.EncodeSamples(nil, true)
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Zero(t, enc.Buffered())
}

func TestEncoder_RejectsMisalignedPCM(t *testing.T) {
	enc, err := NewEncoder(DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	_, err = enc.Encode([]byte{1, 2, 3}, false)
	assert.ErrorIs(t, err, ErrMisalignedPCM)

	cfg := DefaultConfig()
	cfg.Channels = 2
	stereo, err := NewEncoder(cfg, zap.NewNop())
	require.NoError(t, err)
	_, err = stereo.EncodeSamples(make([]int16, 3), false)
	assert.ErrorIs(t, err, ErrChannelMismatch)
}

func TestDecoder_SkipsCorruptFrames(t *testing.T) {
	enc, err := NewEncoder(DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	dec, err := NewDecoder(DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	frames, err := enc.EncodeSamples(sine(960*3), true)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	withBad := [][]byte{frames[0], {}, frames[1], frames[2]}
	pcm := dec.DecodeAll(withBad)
	assert.Equal(t, 3*960*2, len(pcm))
	assert.Equal(t, 1, dec.Corrupt())
}

func TestCodec_RoundTripFrameCount(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 960*20).Draw(rt, "samples")

		enc, err := NewEncoder(DefaultConfig(), zap.NewNop())
		require.NoError(rt, err)
		dec, err := NewDecoder(DefaultConfig(), zap.NewNop())
		require.NoError(rt, err)

		frames, err := enc.EncodeSamples(sine(n), false)
		require.NoError(rt, err)
		assert.Equal(rt, n/960, len(frames))
		assert.Equal(rt, n%960, enc.Buffered())

		pcm := dec.DecodeAll(frames)
		assert.Equal(rt, len(frames)*960*2, len(pcm))
	})
}

func TestWAV_RoundTrip(t *testing.T) {
	pcm := SamplesToBytes(sine(1600))
	wav, err := EncodeWAV(pcm, DefaultSampleRate, 1)
	require.NoError(t, err)
	assert.Equal(t, 44+len(pcm), len(wav))

	got, rate, channels, err := DecodeWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
	assert.Equal(t, DefaultSampleRate, rate)
	assert.Equal(t, 1, channels)

	_, err = EncodeWAV(nil, DefaultSampleRate, 1)
	assert.Error(t, err)
}
