// Package tts defines the speech synthesis collaborator.
//
// SynthesizeStream takes a channel of text fragments and returns raw PCM
// audio as it is produced. The speech queue sends one chunk per stream.
// Implementations must be safe for concurrent use.
package tts

import "context"

// VoiceProfile selects a voice.
type VoiceProfile struct {
	// ID is the backend's voice identifier.
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`

	// Provider names the backend the voice belongs to.
	Provider string `json:"provider,omitempty"`

	// SpeedFactor adjusts speaking rate; 0 means the backend default.
	SpeedFactor float64 `json:"speed_factor,omitempty"`

	// Metadata holds backend-specific labels such as gender or accent.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Provider synthesises speech.
type Provider interface {
	// SynthesizeStream consumes text until the channel is closed and returns
	// a channel of PCM audio that the implementation closes when synthesis
	// ends or ctx is cancelled. The caller must drain it. A non-nil error
	// means the stream could not be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices the backend currently offers.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// Text returns a closed channel carrying the single fragment s, for callers
// that already have the whole text.
func Text(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}
