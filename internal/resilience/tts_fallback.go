package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// TTSFallback is a [tts.Provider] that fails over across several speech
// synthesis backends.
//
// SynthesizeStream reads the whole text channel before the first attempt so
// that a fallback receives the same text. Only stream setup is covered;
// errors after audio started flowing are the caller's concern.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.AddFallback(name, p) }

// Status reports the breaker state of every backend.
func (f *TTSFallback) Status() []EntryStatus { return f.group.Status() }

// SynthesizeStream returns the audio stream of the first backend that
// accepts the text.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	var fragments []string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case s, ok := <-text:
			if !ok {
				return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (<-chan []byte, error) {
					return p.SynthesizeStream(ctx, replay(fragments), voice)
				})
			}
			fragments = append(fragments, s)
		}
	}
}

// ListVoices returns the voices of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

func replay(fragments []string) <-chan string {
	ch := make(chan string, len(fragments))
	for _, s := range fragments {
		ch <- s
	}
	close(ch)
	return ch
}
