package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/directive"
	"github.com/MrWong99/parley/internal/observe"
)

// Dispatch failures. Each is reported per directive and never stops the
// remaining directives of a reply.
var (
	ErrUnknownCommand   = errors.New("command: unknown command")
	ErrPermissionDenied = errors.New("command: permission denied")
	ErrHandlerMissing   = errors.New("command: handler missing")
	ErrHandlerError     = errors.New("command: handler error")
)

// Outcome classifies a dispatch for logs and metrics.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeUnknown          Outcome = "unknown_command"
	OutcomePermissionDenied Outcome = "permission_denied"
	OutcomeHandlerMissing   Outcome = "handler_missing"
	OutcomeHandlerError     Outcome = "handler_error"
)

// Authorizer decides whether an NPC role may use a directive.
type Authorizer interface {
	IsAllowed(name, role string) bool
}

// Result is the outcome of dispatching one directive.
type Result struct {
	Directive directive.Directive
	Outcome   Outcome
	Value     any
	Err       error
}

// Success reports whether the handler ran without error.
func (r Result) Success() bool { return r.Outcome == OutcomeOK }

// MarshalJSON renders Err as a string.
func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		Name    string   `json:"name"`
		Params  []string `json:"params,omitempty"`
		Success bool     `json:"success"`
		Outcome Outcome  `json:"outcome"`
		Value   any      `json:"result,omitempty"`
		Error   string   `json:"error,omitempty"`
	}{
		Name:    r.Directive.Name,
		Params:  r.Directive.Params,
		Success: r.Success(),
		Outcome: r.Outcome,
		Value:   r.Value,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Execution records a directive whose handler was invoked.
type Execution struct {
	Name   string    `json:"name"`
	Params []string  `json:"params,omitempty"`
	Result any       `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records dispatch outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock overrides time.Now for [Execution] timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher resolves directives against the definition table, the
// authorizer and the handler registry. It is safe for concurrent use.
type Dispatcher struct {
	table    *Table
	auth     Authorizer
	registry *Registry
	logger   *slog.Logger
	metrics  *observe.Metrics
	now      func() time.Time

	mu   sync.Mutex
	last *Execution
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(table *Table, auth Authorizer, registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		table:    table,
		auth:     auth,
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch runs one directive for the NPC in cc. It never panics and never
// returns an error directly: every failure is carried in the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, dir directive.Directive, cc *Context) Result {
	cc = withWorld(cc)
	ctx, span := observe.StartSpan(ctx, "command.dispatch", trace.WithAttributes(
		attribute.String("directive", dir.Name),
		attribute.String("npc.role", cc.NPC.RoleType),
	))
	defer span.End()

	res := d.dispatch(ctx, dir, cc)

	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	observe.SpanError(span, res.Err)
	if d.metrics != nil {
		d.metrics.RecordDispatch(ctx, dir.Name, string(res.Outcome))
	}
	attrs := []slog.Attr{
		slog.String("directive", dir.Name),
		slog.Any("params", dir.Params),
		slog.String("npc", cc.NPC.ID),
		slog.String("outcome", string(res.Outcome)),
	}
	if res.Err != nil {
		attrs = append(attrs, slog.String("err", res.Err.Error()))
		d.logger.LogAttrs(ctx, slog.LevelWarn, "directive rejected", attrs...)
	} else {
		d.logger.LogAttrs(ctx, slog.LevelInfo, "directive executed", attrs...)
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, dir directive.Directive, cc *Context) Result {
	res := Result{Directive: dir}

	def, ok := d.table.Lookup(dir.Name)
	if !ok {
		res.Outcome, res.Err = OutcomeUnknown, fmt.Errorf("%w: %q", ErrUnknownCommand, dir.Name)
		return res
	}
	if d.auth == nil || !d.auth.IsAllowed(dir.Name, cc.NPC.RoleType) {
		res.Outcome, res.Err = OutcomePermissionDenied,
			fmt.Errorf("%w: role %q may not use %q", ErrPermissionDenied, cc.NPC.RoleType, dir.Name)
		return res
	}
	fn, ok := d.registry.Lookup(def.Handler)
	if !ok {
		res.Outcome, res.Err = OutcomeHandlerMissing,
			fmt.Errorf("%w: %q (for %q)", ErrHandlerMissing, def.Handler, dir.Name)
		return res
	}

	res.Value, res.Err = invoke(ctx, fn, dir, cc)
	if res.Err != nil {
		res.Outcome = OutcomeHandlerError
	} else {
		res.Outcome = OutcomeOK
	}
	d.remember(res)
	return res
}

// invoke calls fn and converts both a returned error and a panic into an
// [ErrHandlerError].
func invoke(ctx context.Context, fn HandlerFunc, dir directive.Directive, cc *Context) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			val, err = nil, fmt.Errorf("%w: %s: panic: %v", ErrHandlerError, dir.Name, r)
		}
	}()
	val, err = fn(ctx, slices.Clone(dir.Params), cc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrHandlerError, dir.Name, err)
	}
	return val, nil
}

// DispatchAll runs dirs strictly in order; one failure never prevents the
// next directive from running.
func (d *Dispatcher) DispatchAll(ctx context.Context, dirs []directive.Directive, cc *Context) []Result {
	if len(dirs) == 0 {
		return nil
	}
	cc = withWorld(cc)
	out := make([]Result, 0, len(dirs))
	for _, dir := range dirs {
		out = append(out, d.Dispatch(ctx, dir, cc))
	}
	return out
}

func (d *Dispatcher) remember(res Result) {
	e := &Execution{
		Name:   res.Directive.Name,
		Params: slices.Clone(res.Directive.Params),
		Result: res.Value,
		At:     d.now(),
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	d.mu.Lock()
	d.last = e
	d.mu.Unlock()
}

// Last returns the most recently executed directive.
func (d *Dispatcher) Last() (Execution, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return Execution{}, false
	}
	return *d.last, true
}

// Allowed filters the definition table down to what role may use.
func (d *Dispatcher) Allowed(role string) []Definition {
	var out []Definition
	for _, def := range d.table.Definitions() {
		if d.auth != nil && d.auth.IsAllowed(def.Name, role) {
			out = append(out, def)
		}
	}
	return out
}

// withWorld returns cc, or a fresh Context when cc is nil, with every missing
// game system replaced by its no-op stub.
func withWorld(cc *Context) *Context {
	if cc == nil {
		cc = &Context{}
	}
	cc.World = cc.World.WithDefaults()
	return cc
}
