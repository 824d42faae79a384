package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// maxPatternLength caps stored regex patterns. Long patterns are almost
// always misconfiguration and inflate every evaluation.
const maxPatternLength = 512

// ErrUnsafePattern wraps pattern-safety rejections so the HTTP layer can
// surface them as security-policy errors with explicit reasoning.
type ErrUnsafePattern struct {
	Pattern string
	Reason  string
}

func (e *ErrUnsafePattern) Error() string {
	return fmt.Sprintf("unsafe regex pattern %q: %s", e.Pattern, e.Reason)
}

// CheckPatternSafety rejects regex patterns with catastrophic-backtracking
// risk. It runs at policy create/update time, never at evaluation time.
//
// Go's regexp is RE2 and evaluates in linear time, but stored patterns are
// also consumed by dashboard clients and downstream receivers whose engines
// backtrack, so unsafe shapes are rejected before storage.
func CheckPatternSafety(pattern string) error {
	if len(pattern) > maxPatternLength {
		return &ErrUnsafePattern{Pattern: truncatePattern(pattern), Reason: fmt.Sprintf("longer than %d characters", maxPatternLength)}
	}

	if _, err := regexp.Compile(pattern); err != nil {
		return &ErrUnsafePattern{Pattern: pattern, Reason: err.Error()}
	}

	if reason := findNestedQuantifier(pattern); reason != "" {
		return &ErrUnsafePattern{Pattern: pattern, Reason: reason}
	}

	return nil
}

// findNestedQuantifier scans for a quantified group whose body itself
// contains a quantifier or an alternation, e.g. (a+)+, (a*)*, (a|aa)+.
// Returns a human-readable reason, or "" when the pattern looks safe.
func findNestedQuantifier(pattern string) string {
	type group struct {
		start          int
		hasQuantifier  bool
		hasAlternation bool
	}

	var stack []group
	escaped := false
	inClass := false

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]

		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '(':
			if !inClass {
				stack = append(stack, group{start: i})
			}
		case '|':
			if !inClass && len(stack) > 0 {
				stack[len(stack)-1].hasAlternation = true
			}
		case '*', '+':
			if inClass {
				continue
			}
			if len(stack) > 0 {
				stack[len(stack)-1].hasQuantifier = true
			}
		case '{':
			if inClass {
				continue
			}
			if isCountedRepetition(pattern[i:]) && len(stack) > 0 {
				stack[len(stack)-1].hasQuantifier = true
			}
		case ')':
			if inClass || len(stack) == 0 {
				continue
			}
			closed := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			quantified := false
			if i+1 < len(pattern) {
				switch pattern[i+1] {
				case '*', '+':
					quantified = true
				case '{':
					quantified = isCountedRepetition(pattern[i+1:])
				case '?':
					// (x)? repeats at most once, harmless on its own
				}
			}
			if quantified && closed.hasQuantifier {
				return "quantifier applied to a group that already contains a quantifier"
			}
			if quantified && closed.hasAlternation {
				return "quantifier applied to a group containing alternation"
			}
			// Quantifiers inside the closed group also count against the
			// enclosing group, so ((a+)b)+ is still caught.
			if len(stack) > 0 && closed.hasQuantifier {
				stack[len(stack)-1].hasQuantifier = true
			}
		}
	}

	return ""
}

// isCountedRepetition reports whether s starts with a {m} or {m,n} counted
// repetition rather than a literal brace.
func isCountedRepetition(s string) bool {
	end := strings.IndexByte(s, '}')
	if end <= 1 {
		return false
	}
	body := s[1:end]
	for _, c := range body {
		if (c < '0' || c > '9') && c != ',' {
			return false
		}
	}
	return strings.Trim(body, ",") != ""
}

func truncatePattern(pattern string) string {
	if len(pattern) <= 64 {
		return pattern
	}
	return pattern[:64] + "..."
}
