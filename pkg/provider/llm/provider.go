// Package llm defines the text generation collaborator.
//
// Conversation code depends only on [Provider]. Concrete backends live in
// sub-packages (openai, anyllm) and a recording fake in mock. Implementations
// must be safe for concurrent use and return promptly when ctx is cancelled.
package llm

import (
	"context"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the prompt conversation.
type Message struct {
	Role    string
	Content string
}

// Usage is token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is a single generation call.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages using the backend's native system
	// message.
	SystemPrompt string

	// Messages is the ordered conversation; the last entry is normally the
	// player's line.
	Messages []Message

	// Temperature of zero means the backend default.
	Temperature float64

	// MaxTokens of zero means the backend default.
	MaxTokens int
}

// CompletionResponse is the generated reply.
type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// ModelCapabilities describes the limits of the configured model.
type ModelCapabilities struct {
	ContextWindow   int
	MaxOutputTokens int
}

// Provider generates NPC replies.
type Provider interface {
	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities is constant for the lifetime of the provider.
	Capabilities() ModelCapabilities
}

// knownModels maps model name prefixes to their limits. Longer prefixes must
// come first.
var knownModels = []struct {
	prefix string
	caps   ModelCapabilities
}{
	{"gpt-4o-mini", ModelCapabilities{128_000, 16_384}},
	{"gpt-4o", ModelCapabilities{128_000, 16_384}},
	{"gpt-4.1", ModelCapabilities{1_047_576, 32_768}},
	{"gpt-4-turbo", ModelCapabilities{128_000, 4_096}},
	{"gpt-4", ModelCapabilities{8_192, 4_096}},
	{"gpt-3.5-turbo", ModelCapabilities{16_385, 4_096}},
	{"o1-mini", ModelCapabilities{128_000, 65_536}},
	{"o1", ModelCapabilities{200_000, 100_000}},
	{"o3", ModelCapabilities{200_000, 100_000}},
	{"claude", ModelCapabilities{200_000, 8_192}},
	{"gemini-1.5-pro", ModelCapabilities{2_097_152, 8_192}},
	{"gemini", ModelCapabilities{1_048_576, 8_192}},
}

// LookupCapabilities returns the limits of a known model family, or
// conservative defaults for anything else.
func LookupCapabilities(model string) ModelCapabilities {
	lower := strings.ToLower(model)
	for _, m := range knownModels {
		if strings.HasPrefix(lower, m.prefix) {
			return m.caps
		}
	}
	return ModelCapabilities{ContextWindow: 32_768, MaxOutputTokens: 4_096}
}
