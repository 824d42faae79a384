package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-gateway/internal/domain/entity"
	"github.com/garyjia/approval-gateway/internal/domain/event"
)

// scriptedAdapter fails for targets listed in failTargets and can hang
type scriptedAdapter struct {
	name        string
	failTargets map[string]bool
	hang        bool
	panics      bool

	mu    sync.Mutex
	sends []string
}

func (a *scriptedAdapter) Name() string       { return a.name }
func (a *scriptedAdapter) IsConfigured() bool { return true }

func (a *scriptedAdapter) Send(ctx context.Context, target string, evt *event.Event) *Result {
	if a.panics {
		panic("adapter blew up")
	}
	if a.hang {
		<-ctx.Done()
		return failure(a.name, target, "cancelled")
	}

	a.mu.Lock()
	a.sends = append(a.sends, target)
	a.mu.Unlock()

	if a.failTargets[target] {
		return failure(a.name, target, "delivery refused")
	}
	return success(a.name, target, "ok")
}

func (a *scriptedAdapter) sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sends...)
}

// memoryRecorder collects attempts in memory
type memoryRecorder struct {
	mu       sync.Mutex
	attempts []*entity.NotificationAttempt
}

func (r *memoryRecorder) RecordAttempt(ctx context.Context, attempt *entity.NotificationAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *memoryRecorder) recorded() []*entity.NotificationAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entity.NotificationAttempt(nil), r.attempts...)
}

func newTestDispatcher(t *testing.T, adapters []Adapter, routes []StaticRoute, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	registry := NewRegistry()
	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	router := NewRouter(routes, registry, "", "")
	return NewDispatcher(router, registry, zap.NewNop(), opts...)
}

func TestDispatchFansOutAndToleratesPartialFailure(t *testing.T) {
	adapter := &scriptedAdapter{
		name:        "webhook",
		failTargets: map[string]bool{"https://b.example.com": true},
	}
	recorder := &memoryRecorder{}
	d := newTestDispatcher(t, []Adapter{adapter}, []StaticRoute{
		{Channel: "webhook", Target: "https://a.example.com", Enabled: true},
		{Channel: "webhook", Target: "https://b.example.com", Enabled: true},
		{Channel: "webhook", Target: "https://c.example.com", Enabled: true},
	}, WithAttemptRecorder(recorder))
	defer d.Close()

	evt := event.New(event.TypeRequestCreated, "req-1", "test", nil)
	results := d.Dispatch(context.Background(), evt, nil)

	if len(results) != 3 {
		t.Fatalf("Dispatch() returned %d results, want 3", len(results))
	}

	successes := 0
	for _, res := range results {
		if res.Success {
			successes++
		}
	}
	if successes != 2 {
		t.Errorf("successes = %d, want 2", successes)
	}
	if got := adapter.sent(); len(got) != 3 {
		t.Errorf("adapter saw %d sends, want 3", len(got))
	}
	if got := recorder.recorded(); len(got) != 3 {
		t.Errorf("recorder saw %d attempts, want 3", len(got))
	}
}

func TestDispatchUnregisteredAndUnconfiguredChannels(t *testing.T) {
	configured := &scriptedAdapter{name: "webhook"}
	registry := NewRegistry()
	_ = registry.Register(configured)
	_ = registry.Register(&stubAdapter{name: "slack", configured: false})

	router := NewRouter([]StaticRoute{
		{Channel: "webhook", Target: "https://a.example.com", Enabled: true},
		{Channel: "slack", Target: "#approvals", Enabled: true},
		{Channel: "pager", Target: "oncall", Enabled: true},
	}, registry, "", "")
	d := NewDispatcher(router, registry, zap.NewNop())
	defer d.Close()

	evt := event.New(event.TypeRequestCreated, "req-1", "test", nil)
	results := d.Dispatch(context.Background(), evt, nil)

	if len(results) != 3 {
		t.Fatalf("Dispatch() returned %d results, want 3", len(results))
	}

	byTarget := make(map[string]*Result)
	for _, res := range results {
		byTarget[res.Target] = res
	}
	if !byTarget["https://a.example.com"].Success {
		t.Error("configured webhook route failed")
	}
	if byTarget["#approvals"].Success {
		t.Error("unconfigured slack route succeeded")
	}
	if byTarget["oncall"].Success {
		t.Error("unregistered pager route succeeded")
	}
}

func TestDispatchHungAdapterTimesOut(t *testing.T) {
	hung := &scriptedAdapter{name: "webhook", hang: true}
	d := newTestDispatcher(t, []Adapter{hung}, []StaticRoute{
		{Channel: "webhook", Target: "https://slow.example.com", Enabled: true},
	}, WithSendTimeout(30*time.Millisecond))
	defer d.Close()

	start := time.Now()
	evt := event.New(event.TypeRequestCreated, "req-1", "test", nil)
	results := d.Dispatch(context.Background(), evt, nil)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Dispatch() blocked %s on a hung adapter", elapsed)
	}
	if len(results) != 1 || results[0].Success {
		t.Fatalf("results = %+v, want single timeout failure", results)
	}
}

func TestDispatchPanickingAdapter(t *testing.T) {
	d := newTestDispatcher(t, []Adapter{&scriptedAdapter{name: "webhook", panics: true}}, []StaticRoute{
		{Channel: "webhook", Target: "https://a.example.com", Enabled: true},
	})
	defer d.Close()

	evt := event.New(event.TypeRequestCreated, "req-1", "test", nil)
	results := d.Dispatch(context.Background(), evt, nil)

	if len(results) != 1 {
		t.Fatalf("Dispatch() returned %d results, want 1", len(results))
	}
	if results[0].Success {
		t.Error("panicking adapter reported success")
	}
}

func TestDispatchAsyncDrainsOnClose(t *testing.T) {
	adapter := &scriptedAdapter{name: "webhook"}
	recorder := &memoryRecorder{}
	d := newTestDispatcher(t, []Adapter{adapter}, []StaticRoute{
		{Channel: "webhook", Target: "https://a.example.com", Enabled: true},
	}, WithAttemptRecorder(recorder))

	evt := event.New(event.TypeRequestCreated, "req-1", "test", nil)
	for i := 0; i < 5; i++ {
		d.DispatchAsync(context.Background(), evt, nil)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Close waited for every async dispatch, so all sends landed.
	if got := adapter.sent(); len(got) != 5 {
		t.Errorf("adapter saw %d sends after Close, want 5", len(got))
	}
}

func TestDispatchAfterCloseIsNoOp(t *testing.T) {
	adapter := &scriptedAdapter{name: "webhook"}
	d := newTestDispatcher(t, []Adapter{adapter}, []StaticRoute{
		{Channel: "webhook", Target: "https://a.example.com", Enabled: true},
	})

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Close(); err == nil {
		t.Error("second Close() succeeded, want error")
	}

	evt := event.New(event.TypeRequestCreated, "req-1", "test", nil)
	if results := d.Dispatch(context.Background(), evt, nil); results != nil {
		t.Errorf("Dispatch() after Close = %v, want nil", results)
	}
	d.DispatchAsync(context.Background(), evt, nil)
	if got := adapter.sent(); len(got) != 0 {
		t.Errorf("adapter saw %d sends after Close, want 0", len(got))
	}
}

func TestDispatchAsyncSurvivesCancelledCaller(t *testing.T) {
	adapter := &scriptedAdapter{name: "webhook"}
	d := newTestDispatcher(t, []Adapter{adapter}, []StaticRoute{
		{Channel: "webhook", Target: "https://a.example.com", Enabled: true},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	evt := event.New(event.TypeRequestCreated, "req-1", "test", nil)
	d.DispatchAsync(ctx, evt, nil)

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := adapter.sent(); len(got) != 1 {
		t.Errorf("adapter saw %d sends, want 1 despite cancelled caller context", len(got))
	}
}
