package policy

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckPatternSafety(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		safe    bool
	}{
		{"plain literal", "delete_user", true},
		{"anchored prefix", "^delete_", true},
		{"character class", "[a-z]+@example\\.com", true},
		{"single quantified group", "(abc)+", true},
		{"optional group", "(abc)?", true},
		{"counted repetition alone", "a{2,5}", true},
		{"alternation without outer quantifier", "(a|b)c", true},
		{"escaped parens", "\\(a+\\)+", true},
		{"quantifier inside class", "[a+]+", true},
		{"nested star", "(a*)*", false},
		{"nested plus", "(a+)+$", false},
		{"counted over quantified group", "(a+){2,}", false},
		{"quantified alternation", "(a|aa)+", false},
		{"deep nesting", "((a+)b)+", false},
		{"invalid regex", "(unclosed", false},
		{"over length cap", strings.Repeat("a", 600), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPatternSafety(tt.pattern)
			if tt.safe && err != nil {
				t.Errorf("CheckPatternSafety(%q) = %v, want nil", tt.pattern, err)
			}
			if !tt.safe && err == nil {
				t.Errorf("CheckPatternSafety(%q) = nil, want error", tt.pattern)
			}
		})
	}
}

func TestCheckPatternSafetyErrorType(t *testing.T) {
	err := CheckPatternSafety("(a+)+")
	if err == nil {
		t.Fatal("expected error for nested quantifier")
	}

	var unsafe *ErrUnsafePattern
	if !errors.As(err, &unsafe) {
		t.Fatalf("error type = %T, want *ErrUnsafePattern", err)
	}
	if unsafe.Pattern != "(a+)+" {
		t.Errorf("Pattern = %q, want %q", unsafe.Pattern, "(a+)+")
	}
	if unsafe.Reason == "" {
		t.Error("Reason is empty")
	}
}
