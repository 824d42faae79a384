package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/approval-gateway/internal/domain/entity"
	"github.com/garyjia/approval-gateway/internal/domain/event"
	"go.uber.org/zap"
)

// AttemptRecorder persists per-route delivery outcomes
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt *entity.NotificationAttempt) error
}

// Dispatcher fans one event out to every matched route. It is explicitly
// constructed and injected by process composition; there is no package-level
// instance.
type Dispatcher struct {
	router   *Router
	registry *Registry
	recorder AttemptRecorder
	logger   *zap.Logger

	// sendTimeout bounds each adapter call so a hung target cannot stall
	// delivery to the other routes.
	sendTimeout time.Duration

	wg     sync.WaitGroup
	closed atomic.Bool
}

// DispatcherOption configures the dispatcher
type DispatcherOption func(*Dispatcher)

// WithAttemptRecorder persists delivery outcomes for later inspection
func WithAttemptRecorder(recorder AttemptRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder = recorder
	}
}

// WithSendTimeout overrides the per-adapter-call timeout
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.sendTimeout = timeout
	}
}

// NewDispatcher creates a dispatcher over a router and adapter registry
func NewDispatcher(router *Router, registry *Registry, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		router:      router,
		registry:    registry,
		logger:      logger,
		sendTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch fans the event out to all matched routes concurrently and waits
// for every result. Failures are captured per route, never returned as an
// error; delivery problems must not fail the triggering call.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *event.Event, policyChannels []string) []*Result {
	if d.closed.Load() {
		d.logger.Error("Dispatch on closed dispatcher",
			zap.String("event_id", evt.ID), zap.String("event_type", string(evt.Type)))
		return nil
	}

	routes := d.router.Match(evt, policyChannels)
	if len(routes) == 0 {
		d.logger.Debug("No routes matched event",
			zap.String("event_id", evt.ID), zap.String("event_type", string(evt.Type)))
		return nil
	}

	results := make([]*Result, len(routes))
	var routeWG sync.WaitGroup
	for i, route := range routes {
		routeWG.Add(1)
		go func(i int, route Route) {
			defer routeWG.Done()
			results[i] = d.sendOne(ctx, route, evt)
		}(i, route)
	}
	routeWG.Wait()

	for _, res := range results {
		d.record(evt, res)
		if !res.Success {
			d.logger.Warn("Notification delivery failed",
				zap.String("event_id", evt.ID),
				zap.String("channel", res.Channel),
				zap.String("target", res.Target),
				zap.String("error", res.Error))
		}
	}

	return results
}

// DispatchAsync dispatches without blocking the caller. The spawned task is
// supervised by the dispatcher's WaitGroup so Close can drain it and
// failures are still logged even though nothing awaits them.
func (d *Dispatcher) DispatchAsync(ctx context.Context, evt *event.Event, policyChannels []string) {
	if d.closed.Load() {
		d.logger.Error("Async dispatch on closed dispatcher",
			zap.String("event_id", evt.ID), zap.String("event_type", string(evt.Type)))
		return
	}

	// Detach from the caller's cancellation: the HTTP response returning
	// must not abort in-flight deliveries.
	detached := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				d.logger.Error("Dispatch panic recovered",
					zap.String("event_id", evt.ID), zap.Any("panic", p))
			}
		}()
		d.Dispatch(detached, evt, policyChannels)
	}()
}

// Close stops accepting events and waits for in-flight async dispatches
func (d *Dispatcher) Close() error {
	if d.closed.Swap(true) {
		return fmt.Errorf("dispatcher already closed")
	}
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) sendOne(ctx context.Context, route Route, evt *event.Event) *Result {
	adapter, ok := d.registry.Get(route.Channel)
	if !ok {
		return failure(route.Channel, route.Target, "no adapter registered")
	}
	if !adapter.IsConfigured() {
		return failure(route.Channel, route.Target, "adapter is not configured")
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	resultCh := make(chan *Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultCh <- failure(route.Channel, route.Target, fmt.Sprintf("adapter panic: %v", p))
			}
		}()
		resultCh <- adapter.Send(sendCtx, route.Target, evt)
	}()

	select {
	case res := <-resultCh:
		return res
	case <-sendCtx.Done():
		// Best-effort abandon: the adapter goroutine keeps the cancelled
		// context and will exit on its own.
		return failure(route.Channel, route.Target, fmt.Sprintf("timeout after %s", d.sendTimeout))
	}
}

func (d *Dispatcher) record(evt *event.Event, res *Result) {
	if d.recorder == nil {
		return
	}

	attempt := &entity.NotificationAttempt{
		EventID:   evt.ID,
		RequestID: evt.RequestID,
		EventType: string(evt.Type),
		Channel:   res.Channel,
		Target:    res.Target,
		Success:   res.Success,
		Attempts:  1,
		Error:     res.Error,
		CreatedAt: time.Now().UTC(),
	}

	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.recorder.RecordAttempt(recordCtx, attempt); err != nil {
		d.logger.Error("Failed to record notification attempt",
			zap.String("event_id", evt.ID), zap.Error(err))
	}
}
