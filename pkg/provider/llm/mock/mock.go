// Package mock provides a recording test double for llm.Provider.
//
//	p := &mock.Provider{Response: &llm.CompletionResponse{Content: "Hello!"}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// Call records one Complete invocation.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock llm.Provider. Configure the exported fields before use.
type Provider struct {
	mu sync.Mutex

	// Replies are returned in order, one per call, before falling back to
	// Response.
	Replies []string

	// Response is returned when Replies is exhausted.
	Response *llm.CompletionResponse

	// Err, if set, is returned by every call.
	Err error

	// CompleteFunc, if set, replaces all of the above.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	Caps llm.ModelCapabilities

	calls []Call
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the configured reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	req.Messages = slices.Clone(req.Messages)
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	if fn == nil && p.Err == nil && len(p.Replies) > 0 {
		next := p.Replies[0]
		p.Replies = p.Replies[1:]
		p.mu.Unlock()
		return &llm.CompletionResponse{Content: next, FinishReason: "stop"}, nil
	}
	resp, err := p.Response, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// Capabilities returns Caps.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Caps
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// CallCount returns the number of Complete calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reset clears the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
