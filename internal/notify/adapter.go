// Package notify routes lifecycle events to delivery channels and fans them
// out through pluggable adapters, tolerating partial failure.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/approval-gateway/internal/domain/event"
)

// Result is the outcome of one adapter send. Adapters report failures here
// instead of returning errors, so nothing propagates past the dispatcher.
type Result struct {
	Success   bool      `json:"success"`
	Channel   string    `json:"channel"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
	Response  string    `json:"response,omitempty"`
}

// Adapter is a pluggable sender for one delivery mechanism
type Adapter interface {
	// Name returns the channel tag this adapter serves
	Name() string

	// IsConfigured reports whether the adapter has the credentials and
	// settings it needs to deliver
	IsConfigured() bool

	// Send delivers one event to one target. It never panics and never
	// returns an error; failures come back as Result.Success=false.
	Send(ctx context.Context, target string, evt *event.Event) *Result
}

// Registry maps channel tags to adapter instances. Populated once at
// startup, read-only afterwards; validation happens at registration time
// rather than per call.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under its channel tag
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if name == "" {
		return fmt.Errorf("adapter has empty channel name")
	}
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter %q already registered", name)
	}

	r.adapters[name] = a
	return nil
}

// Get returns the adapter for a channel tag
func (r *Registry) Get(channel string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[channel]
	return a, ok
}

// Has reports whether a channel tag is registered
func (r *Registry) Has(channel string) bool {
	_, ok := r.Get(channel)
	return ok
}

// Names returns registered channel tags in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unconfigured returns channel tags whose adapters lack configuration,
// for a startup warning
func (r *Registry) Unconfigured() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, a := range r.adapters {
		if !a.IsConfigured() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func failure(channel, target, errMsg string) *Result {
	return &Result{
		Success:   false,
		Channel:   channel,
		Target:    target,
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	}
}

func success(channel, target, response string) *Result {
	return &Result{
		Success:   true,
		Channel:   channel,
		Target:    target,
		Timestamp: time.Now().UTC(),
		Response:  response,
	}
}
