package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// WAVDirPlayer writes every utterance to its own numbered WAV file in a
// directory. It stands in for a sound device when running headless.
type WAVDirPlayer struct {
	dir string
	src Format
	dst Format
	seq atomic.Int64
}

var _ Player = (*WAVDirPlayer)(nil)

// NewWAVDirPlayer creates dir if needed.
func NewWAVDirPlayer(dir string, src, dst Format) (*WAVDirPlayer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audio: create output dir: %w", err)
	}
	if dst.SampleRate == 0 || dst.Channels == 0 {
		dst = src
	}
	return &WAVDirPlayer{dir: dir, src: src, dst: dst}, nil
}

// Play implements [Player]. Nothing is written when ctx is cancelled before
// the stream ends.
func (p *WAVDirPlayer) Play(ctx context.Context, pcm <-chan []byte) error {
	var buf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			go Drain(pcm)
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				return p.write(buf.Bytes())
			}
			buf.Write(Convert(chunk, p.src, p.dst))
		}
	}
}

func (p *WAVDirPlayer) write(data []byte) error {
	n := p.seq.Add(1)
	name := filepath.Join(p.dir, fmt.Sprintf("utterance-%05d.wav", n))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", name, err)
	}
	if err := WriteWAV(f, data, p.dst); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteWAV writes a canonical 44-byte RIFF header followed by data.
func WriteWAV(w io.Writer, data []byte, f Format) error {
	byteRate := f.SampleRate * f.Channels * 2
	hdr := struct {
		RIFF          [4]byte
		ChunkSize     uint32
		WAVE          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(data)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(byteRate),
		BlockAlign:    uint16(f.Channels * 2),
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(data)),
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	return nil
}
