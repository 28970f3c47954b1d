package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Capabilities().MaxOutputTokens; got != 16_384 {
		t.Errorf("MaxOutputTokens = %d, want 16384", got)
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	sys, err := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "Be terse."})
	if err != nil || sys.OfSystem == nil {
		t.Errorf("system: %+v, %v", sys, err)
	}
	usr, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "Hello"})
	if err != nil || usr.OfUser == nil {
		t.Errorf("user: %+v, %v", usr, err)
	}
	asst, err := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "Well met."})
	if err != nil || asst.OfAssistant == nil {
		t.Errorf("assistant: %+v, %v", asst, err)
	}
	if _, err := convertMessage(llm.Message{Role: "narrator"}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p, _ := New("sk-test", "gpt-4o")
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Greta.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
		Temperature:  0.7,
		MaxTokens:    120,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 || params.Messages[0].OfSystem == nil {
		t.Errorf("messages = %+v, want system then user", params.Messages)
	}
	if params.Temperature.Value != 0.7 || params.MaxCompletionTokens.Value != 120 {
		t.Errorf("temperature/max tokens not set: %+v", params)
	}
	if _, err := p.buildParams(llm.CompletionRequest{}); err == nil {
		t.Error("expected error for empty request")
	}
}

func TestComplete_AgainstFakeServer(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "Welcome! {openMarket}"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "You are Greta.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Welcome! {openMarket}" || resp.Usage.TotalTokens != 15 || resp.FinishReason != "stop" {
		t.Errorf("response = %+v", resp)
	}
	if gotBody["model"] != "gpt-4o" {
		t.Errorf("request model = %v", gotBody["model"])
	}
}
