package repositories

import "context"

// Voiceprint identifies the speaker of a WAV clip. An empty label means
// no enrolled speaker matched.
type Voiceprint interface {
	IdentifySpeaker(ctx context.Context, wav []byte) (string, error)
}
