package policy

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/garyjia/approval-gateway/internal/domain/entity"
)

// Op identifies a comparison operator
type Op int

const (
	OpEquals Op = iota
	OpLt
	OpLte
	OpGt
	OpGte
	OpIn
	OpRegex
)

var opNames = map[string]Op{
	"$lt":    OpLt,
	"$lte":   OpLte,
	"$gt":    OpGt,
	"$gte":   OpGte,
	"$in":    OpIn,
	"$regex": OpRegex,
}

// Matcher is one comparison operator applied to one field of a request,
// resolved once at policy load time.
type Matcher struct {
	Op      Op
	Value   any
	Values  []any
	Number  float64
	Pattern *regexp.Regexp
}

// CompileMatcher turns a raw JSON matcher value into a tagged Matcher.
// A non-object value means exact equality; an object must carry exactly
// one recognized operator key.
func CompileMatcher(raw any) (*Matcher, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return &Matcher{Op: OpEquals, Value: raw}, nil
	}

	if len(obj) != 1 {
		return nil, fmt.Errorf("matcher object must have exactly one operator, got %d keys", len(obj))
	}

	for key, operand := range obj {
		op, known := opNames[key]
		if !known {
			return nil, fmt.Errorf("unknown operator %q", key)
		}

		switch op {
		case OpLt, OpLte, OpGt, OpGte:
			n, ok := toNumber(operand)
			if !ok {
				return nil, fmt.Errorf("operator %s requires a numeric operand", key)
			}
			return &Matcher{Op: op, Number: n}, nil

		case OpIn:
			values, ok := operand.([]any)
			if !ok {
				return nil, fmt.Errorf("operator $in requires an array operand")
			}
			return &Matcher{Op: OpIn, Values: values}, nil

		case OpRegex:
			pattern, ok := operand.(string)
			if !ok {
				return nil, fmt.Errorf("operator $regex requires a string operand")
			}
			if err := CheckPatternSafety(pattern); err != nil {
				return nil, err
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid regex: %w", err)
			}
			return &Matcher{Op: OpRegex, Pattern: re}, nil
		}
	}

	return nil, fmt.Errorf("empty matcher object")
}

// Matches applies the matcher to a resolved field value. An unresolved
// field (found=false) is a non-match, never an error.
func (m *Matcher) Matches(field any, found bool) bool {
	if !found {
		return false
	}

	switch m.Op {
	case OpEquals:
		return valuesEqual(field, m.Value)
	case OpLt, OpLte, OpGt, OpGte:
		n, ok := toNumber(field)
		if !ok {
			return false
		}
		switch m.Op {
		case OpLt:
			return n < m.Number
		case OpLte:
			return n <= m.Number
		case OpGt:
			return n > m.Number
		default:
			return n >= m.Number
		}
	case OpIn:
		for _, candidate := range m.Values {
			if valuesEqual(field, candidate) {
				return true
			}
		}
		return false
	case OpRegex:
		return m.Pattern.MatchString(stringify(field))
	}

	return false
}

// Evaluate classifies a request against an ordered policy set. It filters to
// enabled policies, stable-sorts ascending by priority, and returns the first
// fully-matching rule's decision. No match anywhere yields route_to_human.
// Pure and deterministic: no I/O, no mutation of inputs.
func Evaluate(req *entity.ApprovalRequest, policies []*Policy) Evaluation {
	enabled := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})

	for _, p := range enabled {
		for _, rule := range p.Rules {
			if ruleMatches(rule, req) {
				return Evaluation{
					Decision:      rule.Decision,
					MatchedPolicy: p.ID,
					MatchedRule:   ruleLabel(p, rule),
					Approvers:     rule.Approvers,
					Channels:      rule.Channels,
				}
			}
		}
	}

	return Evaluation{Decision: DecisionRouteToHuman}
}

func ruleMatches(rule *Rule, req *entity.ApprovalRequest) bool {
	for path, matcher := range rule.Match {
		field, found := resolveField(req, path)
		if !matcher.Matches(field, found) {
			return false
		}
	}
	return true
}

func ruleLabel(p *Policy, rule *Rule) string {
	if rule.Name != "" {
		return rule.Name
	}
	return p.Name
}

// resolveField traverses a dotted path into the request. The first segment
// selects one of the request's own attributes as traversal root; remaining
// segments descend through nested maps. A missing segment resolves to
// (nil, false).
func resolveField(req *entity.ApprovalRequest, path string) (any, bool) {
	segments := strings.Split(path, ".")

	var current any
	switch segments[0] {
	case "action":
		current = req.Action
	case "params":
		current = req.Params
	case "context":
		current = req.Context
	case "status":
		current = string(req.Status)
	case "urgency":
		current = string(req.Urgency)
	default:
		return nil, false
	}

	for _, segment := range segments[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// toNumber converts numeric Go values to float64. Strings and other
// non-numeric shapes are rejected so numeric operators never match them.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func valuesEqual(a, b any) bool {
	// Numbers compare numerically regardless of concrete type; JSON decoding
	// yields float64 but request params may carry native ints.
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
		return false
	}
	// Composite values are not comparable with ==; fall back to deep equality.
	switch a.(type) {
	case map[string]any, []any:
		return reflect.DeepEqual(a, b)
	}
	switch b.(type) {
	case map[string]any, []any:
		return false
	}
	return a == b
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
