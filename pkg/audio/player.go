// Package audio is the output side of speech: a [Player] consumes a stream of
// PCM chunks for one utterance and returns when it has been played.
//
// All PCM in this package is signed 16-bit little-endian.
package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Format describes a PCM stream.
type Format struct {
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`
	Channels   int `yaml:"channels" json:"channels"`
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	}
	return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
}

// Player plays one utterance. Play must return once pcm is closed and all
// audio has been handed to the device, or as soon as ctx is cancelled.
type Player interface {
	Play(ctx context.Context, pcm <-chan []byte) error
}

// Drain reads ch until it is closed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// WriterPlayer writes raw PCM to an io.Writer, converting from the source to
// the output format. Writes are serialised.
type WriterPlayer struct {
	mu  sync.Mutex
	w   io.Writer
	src Format
	dst Format
}

var _ Player = (*WriterPlayer)(nil)

// NewWriterPlayer returns a Player writing to w. PCM arrives in src and is
// written in dst.
func NewWriterPlayer(w io.Writer, src, dst Format) *WriterPlayer {
	return &WriterPlayer{w: w, src: src, dst: dst}
}

// Play implements [Player]. On cancellation the rest of pcm is drained in the
// background so the producer never blocks.
func (p *WriterPlayer) Play(ctx context.Context, pcm <-chan []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			go Drain(pcm)
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				return nil
			}
			if _, err := p.w.Write(Convert(chunk, p.src, p.dst)); err != nil {
				go Drain(pcm)
				return fmt.Errorf("audio: write: %w", err)
			}
		}
	}
}
