// Package policy implements the rule-based engine that classifies approval
// requests as auto-approved, auto-denied, or routed for a human/agent decision.
package policy

import (
	"encoding/json"
	"fmt"
	"time"
)

// Decision is the outcome a matching rule assigns to a request
type Decision string

const (
	DecisionAutoApprove  Decision = "auto_approve"
	DecisionAutoDeny     Decision = "auto_deny"
	DecisionRouteToHuman Decision = "route_to_human"
	DecisionRouteToAgent Decision = "route_to_agent"
)

// IsValid returns true if the decision is one of the defined outcomes
func (d Decision) IsValid() bool {
	switch d {
	case DecisionAutoApprove, DecisionAutoDeny, DecisionRouteToHuman, DecisionRouteToAgent:
		return true
	default:
		return false
	}
}

// String returns the string representation of the decision
func (d Decision) String() string {
	return string(d)
}

// Rule maps dotted field paths to matchers. A rule matches a request iff
// every matcher succeeds against its resolved field.
type Rule struct {
	Name      string              `json:"name,omitempty"`
	Match     map[string]*Matcher `json:"-"`
	RawMatch  map[string]any      `json:"match"`
	Decision  Decision            `json:"decision"`
	Approvers []string            `json:"approvers,omitempty"`
	Channels  []string            `json:"channels,omitempty"`
}

// Policy is a prioritized, enable-able ordered set of rules. Lower priority
// numbers evaluate first; disabled policies are skipped entirely.
type Policy struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Rules     []*Rule   `json:"rules"`
	Priority  int       `json:"priority"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Evaluation is the result of evaluating a request against policies
type Evaluation struct {
	Decision      Decision `json:"decision"`
	MatchedPolicy string   `json:"matched_policy,omitempty"`
	MatchedRule   string   `json:"matched_rule,omitempty"`
	Approvers     []string `json:"approvers,omitempty"`
	Channels      []string `json:"channels,omitempty"`
}

// ParseRules decodes and compiles a JSON rules document. Matchers are
// compiled once here, never re-dispatched on raw shape per evaluation.
func ParseRules(data []byte) ([]*Rule, error) {
	var rules []*Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	for i, rule := range rules {
		if !rule.Decision.IsValid() {
			return nil, fmt.Errorf("rule %d: unknown decision %q", i, rule.Decision)
		}
		rule.Match = make(map[string]*Matcher, len(rule.RawMatch))
		for path, raw := range rule.RawMatch {
			m, err := CompileMatcher(raw)
			if err != nil {
				return nil, fmt.Errorf("rule %d: field %q: %w", i, path, err)
			}
			rule.Match[path] = m
		}
	}

	return rules, nil
}

// EncodeRules serializes rules back to their JSON storage form
func EncodeRules(rules []*Rule) ([]byte, error) {
	return json.Marshal(rules)
}
