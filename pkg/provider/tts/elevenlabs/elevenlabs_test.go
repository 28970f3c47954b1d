package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestStreamURL(t *testing.T) {
	p, _ := New("key", WithModel("eleven_turbo_v2"), WithOutputFormat("pcm_24000"))
	got := p.streamURL("voice abc")
	for _, want := range []string{
		"wss://api.elevenlabs.io/v1/text-to-speech/voice%20abc/stream-input?",
		"model_id=eleven_turbo_v2",
		"output_format=pcm_24000",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("URL %q missing %q", got, want)
		}
	}
}

// fakeServer accepts one stream, records client frames and answers each
// text frame with one audio frame.
type fakeServer struct {
	mu     sync.Mutex
	frames []textMessage
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var tm textMessage
		_ = json.Unmarshal(msg, &tm)
		f.mu.Lock()
		f.frames = append(f.frames, tm)
		f.mu.Unlock()

		switch {
		case tm.Text == "":
			final, _ := json.Marshal(audioResponse{IsFinal: true})
			_ = conn.Write(ctx, websocket.MessageText, final)
			return
		case strings.TrimSpace(tm.Text) != "":
			resp, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString([]byte("pcm:" + strings.TrimSpace(tm.Text)))})
			_ = conn.Write(ctx, websocket.MessageText, resp)
		}
	}
}

func TestSynthesizeStream_RoundTrip(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p, _ := New("secret", WithBaseURLs("ws"+strings.TrimPrefix(srv.URL, "http"), srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	audio, err := p.SynthesizeStream(ctx, tts.Text("Well met, traveller."), tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var got []string
	for chunk := range audio {
		got = append(got, string(chunk))
	}
	if len(got) != 1 || got[0] != "pcm:Well met, traveller." {
		t.Errorf("audio = %q", got)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.frames) != 3 {
		t.Fatalf("server saw %d frames, want handshake, text, flush", len(fake.frames))
	}
	if fake.frames[0].XiAPIKey != "secret" || fake.frames[0].VoiceSettings == nil {
		t.Errorf("handshake = %+v", fake.frames[0])
	}
	if fake.frames[2].Text != "" {
		t.Errorf("last frame = %+v, want flush", fake.frames[2])
	}
}

func TestSynthesizeStream_RequiresVoice(t *testing.T) {
	p, _ := New("key")
	if _, err := p.SynthesizeStream(context.Background(), tts.Text("hi"), tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error for empty voice id")
	}
}

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" || r.Header.Get("xi-api-key") != "key" {
			http.Error(w, "nope", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"abc","name":"Rachel","category":"premade","labels":{"accent":"american"}},
			{"voice_id":"def","name":"Adam"}
		]}`))
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURLs("ws://unused", srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices", len(voices))
	}
	if voices[0].Metadata["category"] != "premade" || voices[0].Metadata["accent"] != "american" || voices[0].Provider != "elevenlabs" {
		t.Errorf("voices[0] = %+v", voices[0])
	}
	if voices[1].Metadata == nil {
		t.Error("metadata should be non-nil")
	}

	bad, _ := New("wrong", WithBaseURLs("ws://unused", srv.URL))
	if _, err := bad.ListVoices(context.Background()); err == nil {
		t.Error("expected error on 401")
	}
}
