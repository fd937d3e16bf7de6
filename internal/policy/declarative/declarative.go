// Package declarative implements the Policy Engine's rego-backed
// backend: policies loaded from persistence (or a compiled-in
// fallback), cached with a bounded TTL, evaluated against an
// entity-graph input built per call, hot-reloading the policy source
// and evaluating a typed input against it via
// github.com/open-policy-agent/opa/rego.
package declarative

import (
	"context"
	_ "embed"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/open-policy-agent/opa/rego"

	"github.com/agentmesh/coordinator/internal/coorderr"
	"github.com/agentmesh/coordinator/internal/gateway"
	"github.com/agentmesh/coordinator/internal/policy"
)

//go:embed fallback_policy.rego
var fallbackPolicy string

//go:embed schema.json
var schemaText string

// entityInput is the per-call entity-graph submitted to the rego
// query: the requesting agent, its type, the trust level it currently
// holds, and the operation and resource under evaluation.
type entityInput struct {
	AgentID    string `json:"agent_id"`
	AgentType  string `json:"agent_type"`
	TrustLevel int    `json:"trust_level"`
	Operation  string `json:"operation"`
	Resource   string `json:"resource"`
}

// TrustLevelReader resolves an agent's current trust level.
type TrustLevelReader interface {
	TrustLevel(ctx context.Context, agentID string) (int, error)
}

// Engine is the declarative, rego-evaluated Policy Engine backend.
type Engine struct {
	gw       gateway.Gateway
	trust    TrustLevelReader
	cacheTTL time.Duration

	mu        sync.Mutex
	cachedAt  time.Time
	prepared  rego.PreparedEvalQuery
	hasPolicy bool
}

var _ policy.Engine = (*Engine)(nil)

// New creates a declarative Policy Engine. cacheTTL bounds how long a
// compiled policy is reused before persistence is re-consulted.
func New(gw gateway.Gateway, trust TrustLevelReader, cacheTTL time.Duration) *Engine {
	return &Engine{gw: gw, trust: trust, cacheTTL: cacheTTL}
}

// CheckOperation implements policy.Engine.
func (e *Engine) CheckOperation(ctx context.Context, agentID, agentType, operation, resource string, opCtx map[string]any) (policy.Decision, error) {
	trust, err := e.trust.TrustLevel(ctx, agentID)
	if err != nil {
		return policy.Decision{}, err
	}

	query, err := e.preparedQuery(ctx)
	if err != nil {
		return policy.Decision{}, err
	}

	input := entityInput{AgentID: agentID, AgentType: agentType, TrustLevel: trust, Operation: operation, Resource: resource}
	results, err := query.Eval(ctx, rego.EvalInput(structToMap(input)))
	if err != nil {
		return policy.Decision{}, coorderr.Wrap(coorderr.KindBackendUnavailable, "rego evaluation", err)
	}
	decision := decodeDecision(results)
	e.audit(ctx, agentID, agentType, operation, decision)
	return decision, nil
}

// preparedQuery returns a compiled query, reloading the policy text
// from persistence when the cache has expired. On any load failure it
// falls back to the compiled-in policy rather than failing the call.
func (e *Engine) preparedQuery(ctx context.Context) (rego.PreparedEvalQuery, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hasPolicy && time.Since(e.cachedAt) < e.cacheTTL {
		return e.prepared, nil
	}

	policyText := e.loadPolicyText(ctx)
	q, err := rego.New(
		rego.Query("data.coordinator.authz.decision"),
		rego.Module("policy.rego", policyText),
	).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, coorderr.Wrap(coorderr.KindBackendUnavailable, "compile policy", err)
	}
	e.prepared = q
	e.cachedAt = time.Now()
	e.hasPolicy = true
	return q, nil
}

func (e *Engine) loadPolicyText(ctx context.Context) string {
	if e.gw == nil {
		return fallbackPolicy
	}
	rows, err := e.gw.Query(ctx, "policies", gateway.Filter{Eq: map[string]any{"name": "authz"}, Limit: 1}, nil)
	if err != nil || len(rows) == 0 {
		return fallbackPolicy
	}
	text, ok := rows[0]["policy_text"].(string)
	if !ok || text == "" {
		return fallbackPolicy
	}
	return text
}

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
		"result":  `{"engine":"declarative","reason":"` + decision.Reason + `"}`,
		"success": success,
	})
}

func decodeDecision(results rego.ResultSet) policy.Decision {
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return policy.Decision{Allowed: false, Reason: "policy produced no decision"}
	}
	m, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return policy.Decision{Allowed: false, Reason: "policy decision was not an object"}
	}
	allowed, _ := m["allowed"].(bool)
	reason, _ := m["reason"].(string)
	return policy.Decision{Allowed: allowed, Reason: reason}
}

func structToMap(in entityInput) map[string]any {
	return map[string]any{
		"agent_id": in.AgentID, "agent_type": in.AgentType, "trust_level": in.TrustLevel,
		"operation": in.Operation, "resource": in.Resource,
	}
}
