// Package mock provides a recording [audio.Player] for tests.
package mock

import (
	"bytes"
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// Play records one call to [Player.Play].
type Play struct {
	// Audio is every byte received, concatenated.
	Audio []byte
	// Cancelled is true when ctx ended before the stream closed.
	Cancelled bool
}

// Player records every utterance it is asked to play.
//
// When Block is non-nil, Play waits on it (or on ctx) after the stream is
// drained, which lets a test hold an utterance "on air".
type Player struct {
	mu    sync.Mutex
	plays []Play

	// Err is returned from every Play call after the stream is consumed.
	Err error
	// Block, if set, is received from before Play returns.
	Block chan struct{}
	// Started, if set, receives a value when Play begins.
	Started chan struct{}
}

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, pcm <-chan []byte) error {
	p.mu.Lock()
	started, block, err := p.Started, p.Block, p.Err
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}

	var buf bytes.Buffer
	cancelled := false
loop:
	for {
		select {
		case <-ctx.Done():
			cancelled = true
			go audio.Drain(pcm)
			break loop
		case chunk, ok := <-pcm:
			if !ok {
				break loop
			}
			buf.Write(chunk)
		}
	}
	if block != nil && !cancelled {
		select {
		case <-block:
		case <-ctx.Done():
			cancelled = true
		}
	}

	p.mu.Lock()
	p.plays = append(p.plays, Play{Audio: buf.Bytes(), Cancelled: cancelled})
	p.mu.Unlock()

	if cancelled {
		return ctx.Err()
	}
	return err
}

// Plays returns a copy of the recorded calls.
func (p *Player) Plays() []Play {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Play, len(p.plays))
	copy(out, p.plays)
	return out
}

// Reset clears recorded calls.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays = nil
}
