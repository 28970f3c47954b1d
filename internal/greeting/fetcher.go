package greeting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/internal/directive"
	"github.com/MrWong99/parley/internal/npc"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// ErrEmptyGreeting is returned when the generator produced nothing usable.
var ErrEmptyGreeting = errors.New("greeting: empty greeting")

// Fetcher produces a fresh greeting line.
type Fetcher interface {
	FetchGreeting(ctx context.Context, who npc.Descriptor, bucket Bucket) (string, error)
}

// FetcherFunc adapts a function to [Fetcher].
type FetcherFunc func(ctx context.Context, who npc.Descriptor, bucket Bucket) (string, error)

// FetchGreeting calls f.
func (f FetcherFunc) FetchGreeting(ctx context.Context, who npc.Descriptor, bucket Bucket) (string, error) {
	return f(ctx, who, bucket)
}

// LLMFetcher asks a text generator for a single greeting line. Any directive
// the generator slips into a greeting is stripped, never executed.
type LLMFetcher struct {
	Provider  llm.Provider
	MaxTokens int
}

var _ Fetcher = (*LLMFetcher)(nil)

// FetchGreeting implements [Fetcher].
func (f *LLMFetcher) FetchGreeting(ctx context.Context, who npc.Descriptor, bucket Bucket) (string, error) {
	maxTokens := f.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 60
	}
	resp, err := f.Provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: greetingPrompt(who),
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("A traveller approaches during the %s. Greet them in one short line.", bucket),
		}},
		Temperature: 0.9,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("greeting: generate for %s: %w", who.DisplayName(), err)
	}
	text := directive.Parse(resp.Content).Clean
	text = strings.Trim(text, `"“” `)
	if text == "" {
		return "", ErrEmptyGreeting
	}
	return text, nil
}

func greetingPrompt(who npc.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", who.DisplayName())
	if who.RoleType != "" {
		fmt.Fprintf(&b, ", a %s", strings.ReplaceAll(who.RoleType, "_", " "))
	}
	if who.Location != "" {
		fmt.Fprintf(&b, " at %s", strings.ReplaceAll(who.Location, "_", " "))
	}
	b.WriteString(".")
	if p := strings.TrimSpace(who.Personality); p != "" {
		b.WriteString(" ")
		b.WriteString(p)
	}
	b.WriteString("\nReply with the greeting only. No stage directions, no quotes.")
	return b.String()
}
