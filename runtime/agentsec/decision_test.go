package agentsec

import (
	"errors"
	"strings"
	"testing"
)

func TestDecisionConstructors(t *testing.T) {
	raw := map[string]any{"action": "Block"}

	tests := []struct {
		name string
		d    Decision
		want Action
	}{
		{"allow", Allow([]string{"ok"}, raw), ActionAllow},
		{"block", Block([]string{"Prompt Injection: SECURITY_VIOLATION"}, raw), ActionBlock},
		{"sanitize", Sanitize([]string{"PII: PRIVACY_VIOLATION"}, "redacted", raw), ActionSanitize},
		{"monitor_only", MonitorOnly(nil, nil), ActionMonitorOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.d.Action != tt.want {
				t.Errorf("Action = %q, want %q", tt.d.Action, tt.want)
			}
		})
	}

	s := Sanitize(nil, "clean text", nil)
	if s.SanitizedContent != "clean text" {
		t.Errorf("SanitizedContent = %q", s.SanitizedContent)
	}
	if !Block(nil, nil).Blocked() {
		t.Error("Block().Blocked() = false")
	}
	if Allow(nil, nil).Blocked() {
		t.Error("Allow().Blocked() = true")
	}
}

func TestDecisionEqual(t *testing.T) {
	a := Block([]string{"r1", "r2"}, map[string]any{"x": 1})
	b := Block([]string{"r1", "r2"}, nil)
	if !a.Equal(b) {
		t.Error("decisions with equal action+reasons should be Equal regardless of raw")
	}
	if a.Equal(Block([]string{"r1"}, nil)) {
		t.Error("different reasons should not be Equal")
	}
	if a.Equal(Allow([]string{"r1", "r2"}, nil)) {
		t.Error("different actions should not be Equal")
	}
}

func TestSecurityPolicyError(t *testing.T) {
	err := NewSecurityPolicyError(Block([]string{"Prompt Injection: SECURITY_VIOLATION"}, nil))
	if !errors.Is(err, ErrSecurityPolicy) {
		t.Error("errors.Is(err, ErrSecurityPolicy) = false")
	}
	if !strings.Contains(err.Error(), "Prompt Injection") {
		t.Errorf("Error() = %q, want block reason included", err.Error())
	}

	var spe *SecurityPolicyError
	if !errors.As(err, &spe) {
		t.Fatal("errors.As failed")
	}
	if spe.Decision.Action != ActionBlock {
		t.Errorf("attached decision action = %q", spe.Decision.Action)
	}
}
