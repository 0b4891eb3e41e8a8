package vad

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/codec"
)

const (
	// Speech ends below this share of the start threshold.
	silenceRatio = 0.6
	// Consecutive loud frames needed to enter speech.
	defaultSpeechFrames = 2
	// Consecutive quiet frames needed to leave speech.
	defaultSilenceFrames = 3
)

// Factory builds RMS detectors with a shared threshold.
type Factory struct {
	// Threshold is the RMS level, in 16-bit sample units, that starts speech.
	Threshold     float64
	SpeechFrames  int
	SilenceFrames int
	logger        *zap.Logger
}

var _ repositories.VoiceActivityDetectorFactory = (*Factory)(nil)

// NewFactory creates a detector factory. threshold must be positive.
func NewFactory(threshold float64, logger *zap.Logger) (*Factory, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("vad threshold must be positive, got %f", threshold)
	}
	return &Factory{
		Threshold:     threshold,
		SpeechFrames:  defaultSpeechFrames,
		SilenceFrames: defaultSilenceFrames,
		logger:        logger,
	}, nil
}

// NewDetector creates a detector for one session. Opus frames are decoded
// before measuring; pcm frames are measured as they are.
func (f *Factory) NewDetector(params entities.AudioParams) (repositories.VoiceActivityDetector, error) {
	d := &RMSDetector{
		speechThreshold:  f.Threshold,
		silenceThreshold: f.Threshold * silenceRatio,
		speechFrames:     max(f.SpeechFrames, 1),
		silenceFrames:    max(f.SilenceFrames, 1),
		logger:           f.logger,
	}
	if params.IsOpus() {
		dec, err := codec.NewDecoder(codec.ConfigFor(params), f.logger)
		if err != nil {
			return nil, err
		}
		d.decoder = dec
	}
	return d, nil
}

// RMSDetector is a voice activity detector based on RMS energy levels.
// Uses hysteresis to avoid flickering between speech and silence states.
type RMSDetector struct {
	speechThreshold  float64
	silenceThreshold float64
	speechFrames     int
	silenceFrames    int

	decoder *codec.Decoder
	logger  *zap.Logger
	once    sync.Once

	inSpeech     bool
	speechCount  int
	silenceCount int
}

// HasVoice reports whether the frame belongs to speech. Undecodable
// frames count as silence.
func (v *RMSDetector) HasVoice(frame []byte) bool {
	pcm := frame
	if v.decoder != nil {
		decoded, err := v.decoder.Decode(frame)
		if err != nil {
			v.once.Do(func() {
				v.logger.Warn("VAD could not decode frame", zap.Error(err))
			})
			return v.observe(0)
		}
		pcm = decoded
	}
	return v.observe(Level(pcm))
}

func (v *RMSDetector) observe(level float64) bool {
	if v.inSpeech {
		if level < v.silenceThreshold {
			v.silenceCount++
			if v.silenceCount >= v.silenceFrames {
				v.inSpeech = false
				v.silenceCount = 0
			}
		} else {
			v.silenceCount = 0
		}
	} else {
		if level >= v.speechThreshold {
			v.speechCount++
			if v.speechCount >= v.speechFrames {
				v.inSpeech = true
				v.speechCount = 0
			}
		} else {
			v.speechCount = 0
		}
	}
	return v.inSpeech
}

// Reset clears internal state.
func (v *RMSDetector) Reset() {
	v.inSpeech = false
	v.speechCount = 0
	v.silenceCount = 0
}

// Level returns the RMS of little-endian 16-bit PCM. A trailing odd byte
// is ignored.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
