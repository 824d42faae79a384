package notify

import (
	"strings"

	"github.com/garyjia/approval-gateway/internal/domain/event"
)

// Route is one delivery destination
type Route struct {
	Channel string `json:"channel"`
	Target  string `json:"target"`
}

// StaticRoute is a configured route with optional filters. Absent filters
// are wildcards; present filters are ANDed.
type StaticRoute struct {
	Channel    string   `mapstructure:"channel" json:"channel"`
	Target     string   `mapstructure:"target" json:"target"`
	EventTypes []string `mapstructure:"event_types" json:"event_types,omitempty"`
	Actions    []string `mapstructure:"actions" json:"actions,omitempty"`
	Urgencies  []string `mapstructure:"urgencies" json:"urgencies,omitempty"`
	Enabled    bool     `mapstructure:"enabled" json:"enabled"`
}

// Router matches an event to delivery routes from static configuration and
// per-request policy hints.
type Router struct {
	routes         []StaticRoute
	registry       *Registry
	defaultChannel string
	defaultTarget  string
}

// NewRouter creates a router over static routes and the adapter registry.
// defaultChannel/defaultTarget form the fallback route used when nothing
// else matches; empty strings disable the fallback.
func NewRouter(routes []StaticRoute, registry *Registry, defaultChannel, defaultTarget string) *Router {
	return &Router{
		routes:         routes,
		registry:       registry,
		defaultChannel: defaultChannel,
		defaultTarget:  defaultTarget,
	}
}

// Match returns the ordered, deduplicated routes for an event. Static routes
// whose filters pass come first, then parsed policy hints whose channel is
// registered; hints naming unknown channels are silently dropped. An empty
// combined result falls back to the default route when one is configured.
func (r *Router) Match(evt *event.Event, policyChannels []string) []Route {
	var routes []Route
	seen := make(map[string]bool)

	add := func(route Route) {
		key := route.Channel + ":" + route.Target
		if seen[key] {
			return
		}
		seen[key] = true
		routes = append(routes, route)
	}

	for _, sr := range r.routes {
		if !sr.Enabled {
			continue
		}
		if !r.filtersPass(sr, evt) {
			continue
		}
		add(Route{Channel: sr.Channel, Target: sr.Target})
	}

	for _, hint := range policyChannels {
		channel, target, ok := parseHint(hint)
		if !ok {
			continue
		}
		if !r.registry.Has(channel) {
			continue
		}
		add(Route{Channel: channel, Target: target})
	}

	if len(routes) == 0 && r.defaultChannel != "" && r.defaultTarget != "" {
		routes = append(routes, Route{Channel: r.defaultChannel, Target: r.defaultTarget})
	}

	return routes
}

func (r *Router) filtersPass(sr StaticRoute, evt *event.Event) bool {
	if len(sr.EventTypes) > 0 && !containsString(sr.EventTypes, string(evt.Type)) {
		return false
	}
	if len(sr.Actions) > 0 && !containsString(sr.Actions, evt.PayloadString("action")) {
		return false
	}
	if len(sr.Urgencies) > 0 && !containsString(sr.Urgencies, evt.PayloadString("urgency")) {
		return false
	}
	return true
}

// parseHint splits a "channel:target" policy hint. Targets may themselves
// contain colons (URLs), so only the first separator counts.
func parseHint(hint string) (channel, target string, ok bool) {
	idx := strings.Index(hint, ":")
	if idx <= 0 || idx == len(hint)-1 {
		return "", "", false
	}
	return hint[:idx], hint[idx+1:], true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
