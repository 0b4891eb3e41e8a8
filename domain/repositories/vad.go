package repositories

import "github.com/satriahrh/voicectl/server/domain/entities"

// VoiceActivityDetector judges one inbound frame. Detectors keep state
// across frames and belong to a single session.
type VoiceActivityDetector interface {
	HasVoice(frame []byte) bool
}

// VoiceActivityDetectorFactory builds a detector for a session's audio format.
type VoiceActivityDetectorFactory interface {
	NewDetector(params entities.AudioParams) (VoiceActivityDetector, error)
}
