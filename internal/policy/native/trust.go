package native

import (
	"context"
	"encoding/json"

	"github.com/agentmesh/coordinator/internal/coorderr"
	"github.com/agentmesh/coordinator/internal/gateway"
)

// TrustStore resolves and records per-agent trust levels. It
// implements both TrustLevelReader here and queue.TrustLookup, so the
// Work Queue and the Policy Engine share one source of truth for an
// agent's current trust level.
type TrustStore struct {
	gw           gateway.Gateway
	defaultTrust int
}

// NewTrustStore creates a TrustStore. defaultTrust is returned for any
// agent that has never had a trust level explicitly set.
func NewTrustStore(gw gateway.Gateway, defaultTrust int) *TrustStore {
	return &TrustStore{gw: gw, defaultTrust: defaultTrust}
}

// TrustLevel returns agentID's current trust level, or the configured
// default if none has been set.
func (t *TrustStore) TrustLevel(ctx context.Context, agentID string) (int, error) {
	res, err := t.gw.RPC(ctx, "get_agent_trust_level", map[string]any{"agent_id": agentID})
	if err != nil {
		if coorderr.Is(err, coorderr.KindNotFound) {
			return t.defaultTrust, nil
		}
		return 0, err
	}
	m := res.(map[string]any)
	return m["trust_level"].(int), nil
}

// SetTrustLevel sets agentID's trust level, e.g. to suspend an agent
// (trust level 0) or promote one.
func (t *TrustStore) SetTrustLevel(ctx context.Context, agentID string, level int) error {
	_, err := t.gw.RPC(ctx, "set_agent_trust_level", map[string]any{"agent_id": agentID, "trust_level": level})
	return err
}

// ProfileStore resolves per-agent-type profiles.
type ProfileStore struct {
	gw gateway.Gateway
}

// NewProfileStore creates a ProfileStore.
func NewProfileStore(gw gateway.Gateway) *ProfileStore {
	return &ProfileStore{gw: gw}
}

// Profile implements ProfileReader.
func (p *ProfileStore) Profile(ctx context.Context, agentType string) (allowed, blocked []string, maxFileModifications int, found bool, err error) {
	res, err := p.gw.RPC(ctx, "get_agent_profile", map[string]any{"agent_type": agentType})
	if err != nil {
		if coorderr.Is(err, coorderr.KindNotFound) {
			return nil, nil, 0, false, nil
		}
		return nil, nil, 0, false, err
	}
	m := res.(map[string]any)
	var allowedOps, blockedOps []string
	_ = json.Unmarshal([]byte(m["allowed_operations"].(string)), &allowedOps)
	_ = json.Unmarshal([]byte(m["blocked_operations"].(string)), &blockedOps)
	return allowedOps, blockedOps, m["max_file_modifications"].(int), true, nil
}
