package agentsec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSecurityPolicy matches any SecurityPolicyError via errors.Is().
var ErrSecurityPolicy = errors.New("security policy violation")

// SecurityPolicyError is raised when an inspection blocks a call under
// enforcement, or when inspection fails and fail-open is disabled. It
// carries the Decision that forbade the call.
type SecurityPolicyError struct {
	// Decision is the block decision behind this error.
	Decision Decision
}

// Error returns a human-readable description including the block reasons.
func (e *SecurityPolicyError) Error() string {
	if len(e.Decision.Reasons) == 0 {
		return "security policy violation"
	}
	return fmt.Sprintf("security policy violation: %s", strings.Join(e.Decision.Reasons, "; "))
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrSecurityPolicy).
func (e *SecurityPolicyError) Is(target error) bool {
	return target == ErrSecurityPolicy
}

// NewSecurityPolicyError builds a SecurityPolicyError from a decision.
func NewSecurityPolicyError(decision Decision) *SecurityPolicyError {
	return &SecurityPolicyError{Decision: decision}
}
