package repositories

import "context"

// TextToSpeech streams 16-bit little-endian PCM for text. The channel is
// closed when synthesis ends; a failed synthesis yields no data.
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error)
}
