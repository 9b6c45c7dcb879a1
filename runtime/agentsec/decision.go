// Package agentsec is the runtime interception core of the AI Defense SDK:
// process-wide security settings, per-call context, the decision model, and
// the Protect bootstrap that arms provider wrappers.
package agentsec

import "slices"

// Action is the verdict category of a Decision.
type Action string

// Decision actions.
const (
	ActionAllow       Action = "allow"
	ActionBlock       Action = "block"
	ActionSanitize    Action = "sanitize"
	ActionMonitorOnly Action = "monitor_only"
)

// Decision is the immutable verdict of one inspection: whether the call may
// proceed, must be blocked, needs content sanitization, or is recorded
// without enforcement. Construct only through Allow, Block, Sanitize, or
// MonitorOnly; never mutate a Decision after construction.
type Decision struct {
	// Action is the verdict.
	Action Action
	// Reasons are human-readable explanations, each usually of the form
	// "<rule_name>: <classification>" or a free-form error tag. A block
	// decision carries at least one reason.
	Reasons []string
	// SanitizedContent replaces the original content when Action is
	// sanitize.
	SanitizedContent string
	// Raw is the opaque original decision payload, kept for audit.
	Raw map[string]any
}

// Allow builds an allow decision.
func Allow(reasons []string, raw map[string]any) Decision {
	return Decision{Action: ActionAllow, Reasons: reasons, Raw: raw}
}

// Block builds a block decision.
func Block(reasons []string, raw map[string]any) Decision {
	return Decision{Action: ActionBlock, Reasons: reasons, Raw: raw}
}

// Sanitize builds a sanitize decision carrying the replacement content.
func Sanitize(reasons []string, sanitized string, raw map[string]any) Decision {
	return Decision{Action: ActionSanitize, Reasons: reasons, SanitizedContent: sanitized, Raw: raw}
}

// MonitorOnly builds a monitor-only decision.
func MonitorOnly(reasons []string, raw map[string]any) Decision {
	return Decision{Action: ActionMonitorOnly, Reasons: reasons, Raw: raw}
}

// Blocked reports whether the decision forbids the call.
func (d Decision) Blocked() bool { return d.Action == ActionBlock }

// Equal reports structural equality of two decisions, ignoring the raw
// audit payload.
func (d Decision) Equal(other Decision) bool {
	return d.Action == other.Action &&
		d.SanitizedContent == other.SanitizedContent &&
		slices.Equal(d.Reasons, other.Reasons)
}
