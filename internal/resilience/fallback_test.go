package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/parley/internal/observe"
)

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// requestCount sums parley.provider.requests data points for provider and
// status.
func requestCount(t *testing.T, reader *sdkmetric.ManualReader, provider, status string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "parley.provider.requests" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				p, _ := dp.Attributes.Value(attribute.Key("provider"))
				s, _ := dp.Attributes.Value(attribute.Key("status"))
				if p.AsString() == provider && s.AsString() == status {
					total += dp.Value
				}
			}
		}
	}
	return total
}

type named string

func TestFallbackGroup_PrimarySucceeds(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(named("a"), "a", FallbackConfig{})
	fg.AddFallback("b", named("b"))

	var tried []named
	err := fg.Execute(context.Background(), func(v named) error {
		tried = append(tried, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(tried) != 1 || tried[0] != "a" {
		t.Errorf("tried = %v", tried)
	}
}

func TestFallbackGroup_FailsOver(t *testing.T) {
	t.Parallel()

	m, reader := testMetrics(t)
	fg := NewFallbackGroup(named("a"), "a", FallbackConfig{Kind: "llm", Metrics: m})
	fg.AddFallback("b", named("b"))

	got, err := ExecuteWithResult(context.Background(), fg, func(v named) (string, error) {
		if v == "a" {
			return "", errTest
		}
		return "from " + string(v), nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "from b" {
		t.Errorf("got %q", got)
	}
	if n := requestCount(t, reader, "a", "error"); n != 1 {
		t.Errorf("a/error = %d, want 1", n)
	}
	if n := requestCount(t, reader, "b", "ok"); n != 1 {
		t.Errorf("b/ok = %d, want 1", n)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(named("a"), "a", FallbackConfig{})
	fg.AddFallback("b", named("b"))

	err := fg.Execute(context.Background(), func(named) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v does not wrap the provider error", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	m, reader := testMetrics(t)
	fg := NewFallbackGroup(named("a"), "a", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		Metrics:        m,
	})
	fg.AddFallback("b", named("b"))

	calls := map[named]int{}
	fn := func(v named) error {
		calls[v]++
		if v == "a" {
			return errTest
		}
		return nil
	}
	for range 3 {
		if err := fg.Execute(context.Background(), fn); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if calls["a"] != 1 || calls["b"] != 3 {
		t.Errorf("calls = %v, want a:1 b:3", calls)
	}
	if n := requestCount(t, reader, "a", "skipped"); n != 2 {
		t.Errorf("a/skipped = %d, want 2", n)
	}

	status := fg.Status()
	if len(status) != 2 || status[0].State != StateOpen || status[1].State != StateClosed {
		t.Errorf("Status = %+v", status)
	}
}

func TestFallbackGroup_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fg := NewFallbackGroup(named("a"), "a", FallbackConfig{})
	fg.AddFallback("b", named("b"))

	var tried []named
	err := fg.Execute(ctx, func(v named) error {
		tried = append(tried, v)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want only the primary", tried)
	}
	if s := fg.Status()[0].State; s != StateClosed {
		t.Errorf("primary breaker = %v, want closed", s)
	}
}
