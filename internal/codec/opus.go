package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/satriahrh/voicectl/server/domain/entities"
)

const (
	DefaultSampleRate    = 16000
	DefaultChannels      = 1
	DefaultFrameDuration = 60 * time.Millisecond
	defaultBitrate       = 16000
	defaultComplexity    = 5

	// Upper bound for a single opus packet.
	maxPacketSize = 4000
)

var (
	ErrMisalignedPCM   = errors.New("pcm length is not a whole number of 16-bit samples")
	ErrChannelMismatch = errors.New("pcm sample count is not divisible by channel count")
	ErrEmptyFrame      = errors.New("empty opus frame")
)

// Config describes one opus stream.
type Config struct {
	SampleRate    int
	Channels      int
	FrameDuration time.Duration
	Bitrate       int
	Complexity    int
}

// DefaultConfig is 16kHz mono with 60ms frames.
func DefaultConfig() Config {
	return Config{
		SampleRate:    DefaultSampleRate,
		Channels:      DefaultChannels,
		FrameDuration: DefaultFrameDuration,
		Bitrate:       defaultBitrate,
		Complexity:    defaultComplexity,
	}
}

// ConfigFor derives a stream config from negotiated session parameters,
// falling back to the defaults for unset fields.
func ConfigFor(p entities.AudioParams) Config {
	cfg := DefaultConfig()
	if p.SampleRate > 0 {
		cfg.SampleRate = p.SampleRate
	}
	if p.Channels > 0 {
		cfg.Channels = p.Channels
	}
	if p.FrameDuration > 0 {
		cfg.FrameDuration = time.Duration(p.FrameDuration) * time.Millisecond
	}
	return cfg
}

// Validate checks the stream parameters against what opus accepts.
func (c Config) Validate() error {
	switch c.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("unsupported sample rate %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("unsupported channel count %d", c.Channels)
	}
	switch c.FrameDuration {
	case 2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond,
		20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond:
	default:
		return fmt.Errorf("unsupported frame duration %s", c.FrameDuration)
	}
	if (int64(c.SampleRate)*int64(c.FrameDuration))%int64(time.Second) != 0 {
		return fmt.Errorf("frame duration %s does not divide sample rate %d", c.FrameDuration, c.SampleRate)
	}
	return nil
}

// FrameSize is the number of samples per channel in one frame.
func (c Config) FrameSize() int {
	return int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
}

// FrameBytes is the byte length of one interleaved PCM frame.
func (c Config) FrameBytes() int {
	return c.FrameSize() * c.Channels * 2
}

// Encoder turns linear PCM into fixed-duration opus frames. Samples that do
// not fill a frame are held until the next call.
type Encoder struct {
	cfg    Config
	enc    *opus.Encoder
	buf    []int16
	packet []byte
	logger *zap.Logger
}

// NewEncoder creates an encoder for one outbound stream.
func NewEncoder(cfg Config, logger *zap.Logger) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if cfg.Bitrate > 0 {
		if err := enc.SetBitrate(cfg.Bitrate); err != nil {
			return nil, fmt.Errorf("failed to set bitrate: %w", err)
		}
	}
	if cfg.Complexity > 0 {
		if err := enc.SetComplexity(cfg.Complexity); err != nil {
			return nil, fmt.Errorf("failed to set complexity: %w", err)
		}
	}
	return &Encoder{
		cfg:    cfg,
		enc:    enc,
		packet: make([]byte, maxPacketSize),
		logger: logger,
	}, nil
}

// Encode appends little-endian 16-bit PCM and returns every complete frame.
// With endOfStream the trailing partial frame is dropped rather than padded.
func (e *Encoder) Encode(pcm []byte, endOfStream bool) ([][]byte, error) {
	samples, err := BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}
	return e.EncodeSamples(samples, endOfStream)
}

// EncodeSamples is Encode for already decoded samples.
func (e *Encoder) EncodeSamples(samples []int16, endOfStream bool) ([][]byte, error) {
	if len(samples)%e.cfg.Channels != 0 {
		return nil, ErrChannelMismatch
	}
	e.buf = append(e.buf, samples...)

	step := e.cfg.FrameSize() * e.cfg.Channels
	var frames [][]byte
	offset := 0
	for ; offset+step <= len(e.buf); offset += step {
		n, err := e.enc.Encode(e.buf[offset:offset+step], e.packet)
		if err != nil {
			e.logger.Error("Opus encode failed", zap.Error(err))
			continue
		}
		frame := make([]byte, n)
		copy(frame, e.packet[:n])
		frames = append(frames, frame)
	}
	e.buf = append(e.buf[:0], e.buf[offset:]...)

	if endOfStream {
		e.buf = e.buf[:0]
	}
	return frames, nil
}

// Buffered returns the number of samples waiting for a full frame.
func (e *Encoder) Buffered() int {
	return len(e.buf)
}

// Reset drops buffered samples.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Decoder turns opus frames back into linear PCM. Corrupt frames are
// skipped; the first failure is logged, later ones are only counted.
type Decoder struct {
	cfg     Config
	dec     *opus.Decoder
	pcm     []int16
	logger  *zap.Logger
	once    sync.Once
	corrupt int
}

// NewDecoder creates a decoder for one inbound stream.
func NewDecoder(cfg Config, logger *zap.Logger) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dec, err := opus.NewDecoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	// 120ms is the longest opus packet.
	maxSamples := cfg.SampleRate * 120 / 1000 * cfg.Channels
	return &Decoder{
		cfg:    cfg,
		dec:    dec,
		pcm:    make([]int16, maxSamples),
		logger: logger,
	}, nil
}

// Decode returns the PCM bytes for one frame.
func (d *Decoder) Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	n, err := d.dec.Decode(frame, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("failed to decode opus frame: %w", err)
	}
	return SamplesToBytes(d.pcm[:n*d.cfg.Channels]), nil
}

// DecodeAll concatenates the PCM of every decodable frame.
func (d *Decoder) DecodeAll(frames [][]byte) []byte {
	out := make([]byte, 0, len(frames)*d.cfg.FrameBytes())
	for i, frame := range frames {
		pcm, err := d.Decode(frame)
		if err != nil {
			d.corrupt++
			d.once.Do(func() {
				d.logger.Warn("Skipping corrupt opus frame",
					zap.Int("frameIndex", i),
					zap.Error(err))
			})
			continue
		}
		out = append(out, pcm...)
	}
	return out
}

// Corrupt returns how many frames failed to decode.
func (d *Decoder) Corrupt() int {
	return d.corrupt
}

// BytesToSamples reads little-endian 16-bit PCM.
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrMisalignedPCM
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return samples, nil
}

// SamplesToBytes writes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
