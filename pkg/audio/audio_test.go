package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func feed(chunks ...[]byte) <-chan []byte {
	ch := make(chan []byte, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestMonoStereoRoundTrip(t *testing.T) {
	t.Parallel()

	mono := pcm16(100, -200, 300)
	stereo := audio.MonoToStereo(mono)
	if got := samples(stereo); len(got) != 6 || got[0] != 100 || got[1] != 100 || got[5] != 300 {
		t.Fatalf("MonoToStereo = %v", got)
	}
	back := audio.StereoToMono(stereo)
	if !bytes.Equal(back, mono) {
		t.Errorf("StereoToMono = %v, want %v", samples(back), samples(mono))
	}
	if got := samples(audio.StereoToMono(pcm16(100, 200))); got[0] != 150 {
		t.Errorf("average = %d, want 150", got[0])
	}
}

func TestResample16(t *testing.T) {
	t.Parallel()

	src := pcm16(0, 100, 200, 300)
	up := audio.Resample16(src, 1, 8000, 16000)
	if got := samples(up); len(got) != 8 || got[1] != 50 {
		t.Errorf("upsample = %v", got)
	}
	down := audio.Resample16(src, 1, 16000, 8000)
	if got := samples(down); len(got) != 2 || got[0] != 0 || got[1] != 200 {
		t.Errorf("downsample = %v", got)
	}
	st := audio.Resample16(pcm16(0, 10, 100, 110), 2, 8000, 16000)
	if got := samples(st); len(got) != 8 || got[2] != 50 || got[3] != 60 {
		t.Errorf("stereo upsample = %v", got)
	}
	if got := audio.Resample16(src, 1, 8000, 8000); !bytes.Equal(got, src) {
		t.Error("same-rate resample should be identity")
	}
}

func TestConvert(t *testing.T) {
	t.Parallel()

	mono16k := audio.Format{SampleRate: 16000, Channels: 1}
	stereo48k := audio.Format{SampleRate: 48000, Channels: 2}

	in := pcm16(10, 20)
	out := audio.Convert(in, mono16k, stereo48k)
	if got := len(samples(out)); got != 12 {
		t.Errorf("converted sample count = %d, want 12", got)
	}
	if got := audio.Convert(in, mono16k, mono16k); !bytes.Equal(got, in) {
		t.Error("identity conversion changed data")
	}
	if got := audio.Convert([]byte{1, 2, 3}, mono16k, mono16k); len(got) != 2 {
		t.Errorf("odd trailing byte kept: len=%d", len(got))
	}
}

func TestWriterPlayer(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 16000, Channels: 1}
	var buf bytes.Buffer
	p := audio.NewWriterPlayer(&buf, f, f)
	if err := p.Play(context.Background(), feed(pcm16(1, 2), pcm16(3))); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := samples(buf.Bytes()); len(got) != 3 || got[2] != 3 {
		t.Errorf("written = %v", got)
	}
}

func TestWriterPlayer_Cancelled(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 16000, Channels: 1}
	p := audio.NewWriterPlayer(&bytes.Buffer{}, f, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := make(chan []byte)
	err := p.Play(ctx, ch)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	// The background drain must keep the producer unblocked.
	ch <- pcm16(1)
	close(ch)
}

func TestWAVDirPlayer(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	f := audio.Format{SampleRate: 22050, Channels: 1}
	p, err := audio.NewWAVDirPlayer(dir, f, audio.Format{})
	if err != nil {
		t.Fatalf("NewWAVDirPlayer: %v", err)
	}
	for range 2 {
		if err := p.Play(context.Background(), feed(pcm16(1, 2, 3))); err != nil {
			t.Fatalf("Play: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("files = %d, want 2", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, "utterance-00001.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 44+6 {
		t.Fatalf("file size = %d, want 50", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		t.Errorf("bad header %q", data[:44])
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 22050 {
		t.Errorf("sample rate = %d", rate)
	}
}
