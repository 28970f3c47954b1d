// Package mock provides a recording test double for tts.Provider.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Call records one SynthesizeStream invocation. Text holds every fragment
// read from the input channel.
type Call struct {
	Text  []string
	Voice tts.VoiceProfile
}

// Provider is a mock tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is emitted for every synthesis call.
	Audio [][]byte

	// Err, if set, is returned by SynthesizeStream.
	Err error

	// FailText makes SynthesizeStream fail for any fragment equal to it.
	FailText string

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	calls []Call
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream drains text, records it and emits Audio.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	var fragments []string
	for s := range text {
		fragments = append(fragments, s)
	}

	p.mu.Lock()
	p.calls = append(p.calls, Call{Text: fragments, Voice: voice})
	err := p.Err
	if p.FailText != "" && slices.Contains(fragments, p.FailText) {
		err = errSynthesis
	}
	audio := slices.Clone(p.Audio)
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	out := make(chan []byte, len(audio))
	go func() {
		defer close(out)
		for _, a := range audio {
			select {
			case out <- a:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ListVoices returns Voices.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Voices), nil
}

// Calls returns a copy of the recorded synthesis calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

type mockError string

func (e mockError) Error() string { return string(e) }

const errSynthesis = mockError("mock: synthesis failed")
