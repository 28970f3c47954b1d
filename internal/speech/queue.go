// Package speech turns cleaned NPC replies into audio. A [Queue] sanitises and
// chunks text, then a single background goroutine synthesises and plays the
// chunks one at a time in FIFO order. A chunk that fails is logged, counted
// and skipped; it never stalls the chunks behind it.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrNoAudio marks a chunk whose synthesis produced no audio at all.
var ErrNoAudio = errors.New("speech: synthesis produced no audio")

// Chunk is one queued piece of speech.
type Chunk struct {
	Seq     uint64 `json:"seq"`
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

// Status is the final state of a processed chunk.
type Status string

const (
	StatusPlayed    Status = "played"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Outcome reports how one chunk ended.
type Outcome struct {
	Chunk  Chunk
	Status Status
	Err    error
	Bytes  int
}

// Option configures a [Queue].
type Option func(*Queue)

// WithMaxChunk sets the per-chunk character budget. Values <= 0 are ignored.
func WithMaxChunk(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxChunk = n
		}
	}
}

// WithDefaultVoice sets the voice used when Enqueue gets an empty voice ID.
func WithDefaultVoice(id string) Option {
	return func(q *Queue) { q.defaultVoice = id }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithOnOutcome registers a callback run on the dispatch goroutine after each
// chunk ends. It must not block.
func WithOnOutcome(fn func(Outcome)) Option {
	return func(q *Queue) { q.onOutcome = fn }
}

// Queue is a sequential synthesis and playback queue. All exported methods
// are safe for concurrent use.
type Queue struct {
	synth        tts.Provider
	player       audio.Player
	maxChunk     int
	defaultVoice string
	log          *slog.Logger
	metrics      *observe.Metrics
	onOutcome    func(Outcome)

	base       context.Context
	cancelBase context.CancelFunc

	mu            sync.Mutex
	pending       []Chunk
	seq           uint64
	playing       *Chunk
	cancelPlaying context.CancelFunc
	closed        bool

	notify  chan struct{} // signalled on Enqueue
	done    chan struct{} // closed by Close
	stopped chan struct{} // closed when the dispatch goroutine exits
}

// New starts a Queue that synthesises with synth and plays through player.
// Call [Queue.Close] to stop its goroutine.
func New(synth tts.Provider, player audio.Player, opts ...Option) *Queue {
	q := &Queue{
		synth:    synth,
		player:   player,
		maxChunk: DefaultMaxChunk,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	if q.log == nil {
		q.log = slog.Default()
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}
	q.base, q.cancelBase = context.WithCancel(context.Background())
	go q.dispatch()
	return q
}

// Enqueue sanitises text, splits it and appends the chunks to the queue. It
// returns the number of chunks added; zero when nothing speakable remains or
// the queue is closed.
func (q *Queue) Enqueue(text, voiceID string) int {
	parts := Split(Sanitize(text), q.maxChunk)
	if len(parts) == 0 {
		return 0
	}
	if voiceID == "" {
		voiceID = q.defaultVoice
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	for _, p := range parts {
		q.seq++
		q.pending = append(q.pending, Chunk{Seq: q.seq, Text: p, VoiceID: voiceID})
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return len(parts)
}

// Stop clears the queue and cancels the chunk being played, if any.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	if q.cancelPlaying != nil {
		q.cancelPlaying()
		q.cancelPlaying = nil
	}
}

// Len returns the number of chunks waiting, not counting the one playing.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Idle reports whether nothing is queued or playing.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && q.playing == nil
}

// Pending returns a copy of the queued chunks.
func (q *Queue) Pending() []Chunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Chunk, len(q.pending))
	copy(out, q.pending)
	return out
}

// Close stops playback, drops the queue and waits for the dispatch goroutine
// to exit. It is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return nil
	}
	q.closed = true
	q.pending = nil
	q.mu.Unlock()

	q.cancelBase()
	close(q.done)
	<-q.stopped
	return nil
}

func (q *Queue) dispatch() {
	defer close(q.stopped)
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}
		for {
			c, ctx, ok := q.dequeue()
			if !ok {
				break
			}
			out := q.play(ctx, c)
			q.report(out)

			q.mu.Lock()
			if q.playing != nil && q.playing.Seq == c.Seq {
				q.playing = nil
				if q.cancelPlaying != nil {
					q.cancelPlaying()
					q.cancelPlaying = nil
				}
			}
			q.mu.Unlock()
		}
	}
}

func (q *Queue) dequeue() (Chunk, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 || q.closed {
		return Chunk{}, nil, false
	}
	c := q.pending[0]
	q.pending = q.pending[1:]
	ctx, cancel := context.WithCancel(q.base)
	q.playing = &c
	q.cancelPlaying = cancel
	return c, ctx, true
}

// play synthesises and plays one chunk, counting the bytes that reach the
// player.
func (q *Queue) play(ctx context.Context, c Chunk) Outcome {
	out := Outcome{Chunk: c}
	start := time.Now()

	pcm, err := q.synth.SynthesizeStream(ctx, tts.Text(c.Text), tts.VoiceProfile{ID: c.VoiceID})
	if err != nil {
		return q.finish(ctx, out, fmt.Errorf("speech: synthesize chunk %d: %w", c.Seq, err))
	}

	var n atomic.Int64
	relay := make(chan []byte)
	go func() {
		defer close(relay)
		for b := range pcm {
			n.Add(int64(len(b)))
			select {
			case relay <- b:
			case <-ctx.Done():
				audio.Drain(pcm)
				return
			}
		}
	}()

	err = q.player.Play(ctx, relay)
	q.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	out.Bytes = int(n.Load())
	if err != nil {
		return q.finish(ctx, out, fmt.Errorf("speech: play chunk %d: %w", c.Seq, err))
	}
	if out.Bytes == 0 && ctx.Err() == nil {
		return q.finish(ctx, out, ErrNoAudio)
	}
	return q.finish(ctx, out, nil)
}

func (q *Queue) finish(ctx context.Context, out Outcome, err error) Outcome {
	switch {
	case ctx.Err() != nil:
		out.Status = StatusCancelled
	case err != nil:
		out.Status = StatusFailed
		out.Err = err
	default:
		out.Status = StatusPlayed
	}
	return out
}

func (q *Queue) report(out Outcome) {
	q.metrics.RecordSpeechChunk(context.Background(), string(out.Status))
	switch out.Status {
	case StatusFailed:
		q.log.Warn("speech chunk skipped", "seq", out.Chunk.Seq, "voice", out.Chunk.VoiceID, "err", out.Err)
	case StatusCancelled:
		q.log.Debug("speech chunk cancelled", "seq", out.Chunk.Seq)
	default:
		q.log.Debug("speech chunk played", "seq", out.Chunk.Seq, "bytes", out.Bytes)
	}
	if q.onOutcome != nil {
		q.onOutcome(out)
	}
}
