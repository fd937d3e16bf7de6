// Package agentregistry implements the Agent Registry: session
// registration, discovery, heartbeats, and periodic dead-agent
// cleanup, backed by the Gateway so the roster is shared by every
// coordinator instance.
package agentregistry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentmesh/coordinator/internal/gateway"
)

const defaultStalenessThreshold = 15 * time.Minute

// Session is a registered agent session.
type Session struct {
	AgentID      string
	AgentType    string
	SessionID    string
	Capabilities []string
	Status       string
	CurrentTask  string
	LastHeartbeat time.Time
	StartedAt    time.Time
}

// Registry is the Agent Registry.
type Registry struct {
	gw gateway.Gateway
}

// New creates an Agent Registry over the given Gateway.
func New(gw gateway.Gateway) *Registry {
	return &Registry{gw: gw}
}

// Register registers an agent session. Registering the same
// (agent_id, session_id) pair again refreshes the existing row rather
// than creating a duplicate.
func (r *Registry) Register(ctx context.Context, agentID, agentType, sessionID string, capabilities []string, currentTask string) (string, error) {
	res, err := r.gw.RPC(ctx, "register_agent_session", map[string]any{
		"agent_id": agentID, "agent_type": agentType, "session_id": sessionID,
		"capabilities": capabilities, "current_task": currentTask,
	})
	if err != nil {
		return "", err
	}
	return res.(map[string]any)["session_id"].(string), nil
}

// Heartbeat refreshes last_heartbeat for a session.
func (r *Registry) Heartbeat(ctx context.Context, sessionID string) error {
	_, err := r.gw.RPC(ctx, "agent_heartbeat", map[string]any{"session_id": sessionID})
	return err
}

// Discover lists registered sessions, optionally filtered by
// capability and/or status.
func (r *Registry) Discover(ctx context.Context, capability, status string) ([]Session, error) {
	filter := gateway.Filter{}
	if status != "" {
		filter.Eq = map[string]any{"status": status}
	}
	rows, err := r.gw.Query(ctx, "agent_sessions", filter, nil)
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(rows))
	for _, row := range rows {
		var caps []string
		_ = json.Unmarshal([]byte(str(row["capabilities"])), &caps)
		if capability != "" && !hasCapability(caps, capability) {
			continue
		}
		sessions = append(sessions, Session{
			AgentID: str(row["agent_id"]), AgentType: str(row["agent_type"]),
			SessionID: str(row["session_id"]), Capabilities: caps, Status: str(row["status"]),
			CurrentTask: str(row["current_task"]), LastHeartbeat: asTime(row["last_heartbeat"]),
			StartedAt: asTime(row["started_at"]),
		})
	}
	return sessions, nil
}

// CleanupDeadAgents atomically disconnects sessions stale past the
// threshold (a zero threshold means the 15-minute default) and releases
// every lock they held.
func (r *Registry) CleanupDeadAgents(ctx context.Context, stalenessThreshold time.Duration) (agentsCleaned, locksReleased int, err error) {
	if stalenessThreshold == 0 {
		stalenessThreshold = defaultStalenessThreshold
	}
	res, err := r.gw.RPC(ctx, "cleanup_dead_agents", map[string]any{
		"staleness_seconds": int(stalenessThreshold.Seconds()),
	})
	if err != nil {
		return 0, 0, err
	}
	m := res.(map[string]any)
	return m["agents_cleaned"].(int), m["locks_released"].(int), nil
}

func hasCapability(caps []string, target string) bool {
	for _, c := range caps {
		if c == target {
			return true
		}
	}
	return false
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}
