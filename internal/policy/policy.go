// Package policy defines the Policy Engine contract shared by the two
// interchangeable backends: internal/policy/native (trust-level
// partition) and internal/policy/declarative (OPA/rego-backed).
package policy

import "context"

// Decision is the result of an authorization check.
type Decision struct {
	Allowed     bool
	Reason      string
	Diagnostics map[string]any
}

// Engine is the unified Policy Engine interface both backends satisfy.
type Engine interface {
	CheckOperation(ctx context.Context, agentID, agentType, operation, resource string, opCtx map[string]any) (Decision, error)
}
