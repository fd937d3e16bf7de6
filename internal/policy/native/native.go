// Package native implements the Policy Engine's trust-level backend:
// operations partitioned into read/write/admin categories gated by a
// numeric trust level, falling through to a per-agent-type profile
// for anything uncategorized.
package native

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentmesh/coordinator/internal/gateway"
	"github.com/agentmesh/coordinator/internal/policy"
)

// Category is one of the three trust-gated operation tiers.
type Category string

const (
	CategoryRead    Category = "read"
	CategoryWrite   Category = "write"
	CategoryAdmin   Category = "admin"
	CategoryUnknown Category = "unknown"
)

const (
	TrustSuspended = 0
	TrustWriteMin  = 2
	TrustAdminMin  = 3
)

// operationCategories is the default policy set's operation→category
// map. The six operations listed here are the ones the equivalence
// tests exercise against both backends.
var operationCategories = map[string]Category{
	"check_locks":         CategoryRead,
	"get_pending_tasks":   CategoryRead,
	"submit_task":         CategoryWrite,
	"claim_task":          CategoryWrite,
	"register_feature":    CategoryAdmin,
	"cleanup_dead_agents": CategoryAdmin,
}

// TrustLevelReader resolves an agent's current trust level, defaulting
// a never-set agent to the configured default.
type TrustLevelReader interface {
	TrustLevel(ctx context.Context, agentID string) (int, error)
}

// ProfileReader resolves a per-agent-type profile for operations that
// fall outside the three categories above.
type ProfileReader interface {
	Profile(ctx context.Context, agentType string) (allowed, blocked []string, maxFileModifications int, found bool, err error)
}

// Engine is the native trust-level Policy Engine backend.
type Engine struct {
	trust    TrustLevelReader
	profiles ProfileReader
	gw       gateway.Gateway // best-effort audit sink
}

var _ policy.Engine = (*Engine)(nil)

// New creates a native Policy Engine.
func New(trust TrustLevelReader, profiles ProfileReader, gw gateway.Gateway) *Engine {
	return &Engine{trust: trust, profiles: profiles, gw: gw}
}

// CheckOperation implements policy.Engine.
func (e *Engine) CheckOperation(ctx context.Context, agentID, agentType, operation, resource string, opCtx map[string]any) (policy.Decision, error) {
	trust, err := e.trust.TrustLevel(ctx, agentID)
	if err != nil {
		return policy.Decision{}, err
	}

	decision := e.decide(ctx, trust, agentType, operation, opCtx)
	e.audit(ctx, agentID, agentType, operation, decision)
	return decision, nil
}

func (e *Engine) decide(ctx context.Context, trust int, agentType, operation string, opCtx map[string]any) policy.Decision {
	if trust == TrustSuspended {
		return policy.Decision{Allowed: false, Reason: "suspended"}
	}

	switch operationCategories[operation] {
	case CategoryRead:
		return policy.Decision{Allowed: true, Reason: "read operations are allowed above suspension"}
	case CategoryWrite:
		if trust >= TrustWriteMin {
			return policy.Decision{Allowed: true, Reason: "trust level permits write"}
		}
		return policy.Decision{Allowed: false, Reason: "trust level below write threshold"}
	case CategoryAdmin:
		if trust >= TrustAdminMin {
			return policy.Decision{Allowed: true, Reason: "trust level permits admin"}
		}
		return policy.Decision{Allowed: false, Reason: "trust level below admin threshold"}
	default:
		return e.decideByProfile(ctx, agentType, operation, opCtx)
	}
}

// decideByProfile is the fallback for unknown operations: consult the
// agent-type profile; a profile miss defaults to allow. The soft file-modification limit is inclusive of the
// operation under evaluation (see DESIGN.md's Open Question
// decision): a limit of N permits at most N modifications total.
func (e *Engine) decideByProfile(ctx context.Context, agentType, operation string, opCtx map[string]any) policy.Decision {
	allowed, blocked, maxFiles, found, err := e.profiles.Profile(ctx, agentType)
	if err != nil || !found {
		return policy.Decision{Allowed: true, Reason: "no profile for agent type, defaulting to allow"}
	}
	for _, b := range blocked {
		if b == operation {
			return policy.Decision{Allowed: false, Reason: "operation is in the agent type's blocked list"}
		}
	}
	if len(allowed) > 0 && !contains(allowed, operation) {
		return policy.Decision{Allowed: false, Reason: "operation is not in the agent type's allowed list"}
	}
	if maxFiles > 0 {
		if n, ok := opCtx["files_modified"]; ok {
			if count := asInt(n); count >= maxFiles {
				return policy.Decision{Allowed: false, Reason: "agent type's max file modification limit reached",
					Diagnostics: map[string]any{"max_file_modifications": maxFiles, "files_modified": count}}
			}
		}
	}
	return policy.Decision{Allowed: true, Reason: "operation permitted by agent type profile"}
}

// audit is best-effort: a failure to record the decision must never
// change or surface as the decision's own error.
func (e *Engine) audit(ctx context.Context, agentID, agentType, operation string, decision policy.Decision) {
	if e.gw == nil {
		return
	}
	success := 0
	if decision.Allowed {
		success = 1
	}
	_, _ = e.gw.Insert(ctx, "audit_log", gateway.Row{
		"id": uuid.New().String(), "agent_id": agentID, "agent_type": agentType,
		"operation": "policy:" + operation, "parameters": "{}",
		"result": `{"engine":"native","reason":"` + decision.Reason + `"}`,
		"success": success,
	})
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
