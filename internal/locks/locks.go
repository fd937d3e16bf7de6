// Package locks implements the Lock Service: exclusive, time-bounded
// leases on opaque string keys, backed by a Gateway-backed
// distributed lease rather than a local PID file.
package locks

import (
	"context"
	"time"

	"github.com/agentmesh/coordinator/internal/coorderr"
	"github.com/agentmesh/coordinator/internal/gateway"
)

// Status is the outcome of an Acquire call.
type Status string

const (
	StatusAcquired  Status = "acquired"
	StatusRefreshed Status = "refreshed"
	StatusDenied    Status = "denied"
)

// AcquireResult is the tagged result of Acquire.
type AcquireResult struct {
	Status    Status
	ExpiresAt time.Time
	LockedBy  string // set only when Status == StatusDenied
}

// Lease is an active, non-expired lock row returned by Check.
type Lease struct {
	Key        string
	HolderID   string
	HolderType string
	SessionID  string
	Reason     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// TTLClamper clamps a requested TTL into the configured envelope.
type TTLClamper interface {
	ClampTTL(requested time.Duration) time.Duration
}

// Service is the Lock Service.
type Service struct {
	gw   gateway.Gateway
	clamp TTLClamper
}

// New creates a Lock Service over the given Gateway.
func New(gw gateway.Gateway, clamp TTLClamper) *Service {
	return &Service{gw: gw, clamp: clamp}
}

// Acquire atomically acquires, refreshes, or denies a lease.
func (s *Service) Acquire(ctx context.Context, key, holderID, holderType, sessionID, reason string, ttl time.Duration) (AcquireResult, error) {
	if key == "" || holderID == "" {
		return AcquireResult{}, coorderr.New(coorderr.KindValidationFailed, "key and holder are required")
	}
	clamped := s.clamp.ClampTTL(ttl)

	res, err := s.gw.RPC(ctx, "acquire_lock", map[string]any{
		"key": key, "holder_id": holderID, "holder_type": holderType,
		"session_id": sessionID, "reason": reason, "ttl_seconds": int(clamped.Seconds()),
	})
	if err != nil {
		if ce, ok := err.(*coorderr.CoordError); ok && ce.Kind == coorderr.KindHeldByOther {
			lockedBy, _ := ce.Diagnostics["locked_by"].(string)
			return AcquireResult{Status: StatusDenied, LockedBy: lockedBy}, nil
		}
		return AcquireResult{}, err
	}

	m := res.(map[string]any)
	status := Status(m["status"].(string))
	expiresAt, _ := m["expires_at"].(time.Time)
	return AcquireResult{Status: status, ExpiresAt: expiresAt}, nil
}

// Release returns true iff the caller held the lock and it was
// released.
func (s *Service) Release(ctx context.Context, key, holderID string) (bool, error) {
	res, err := s.gw.RPC(ctx, "release_lock", map[string]any{"key": key, "holder_id": holderID})
	if err != nil {
		return false, err
	}
	m := res.(map[string]any)
	return m["status"] == "ok", nil
}

// Extend is an alias for Acquire by the same holder: the
// re-acquire-as-extend pattern gives agents one API for "take" and
// "keep". holderType, sessionID, and reason must be passed through
// unchanged from the original acquire: the native backend's refresh
// path overwrites those columns unconditionally, so blanking them here
// would wipe the row's session_id and strand the lease past its
// owning session's death.
func (s *Service) Extend(ctx context.Context, key, holderID, holderType, sessionID, reason string, ttl time.Duration) (AcquireResult, error) {
	return s.Acquire(ctx, key, holderID, holderType, sessionID, reason, ttl)
}

// Check returns the currently active (non-expired) leases, optionally
// filtered by key and/or holder.
func (s *Service) Check(ctx context.Context, keys []string, holderID string) ([]Lease, error) {
	filter := gateway.Filter{Gt: map[string]any{"expires_at": time.Now().UTC()}}
	if len(keys) > 0 {
		anyKeys := make([]any, len(keys))
		for i, k := range keys {
			anyKeys[i] = k
		}
		filter.In = map[string][]any{"key": anyKeys}
	}
	if holderID != "" {
		filter.Eq = map[string]any{"holder_id": holderID}
	}

	rows, err := s.gw.Query(ctx, "file_locks", filter, nil)
	if err != nil {
		return nil, err
	}

	leases := make([]Lease, 0, len(rows))
	for _, r := range rows {
		leases = append(leases, Lease{
			Key:        asString(r["key"]),
			HolderID:   asString(r["holder_id"]),
			HolderType: asString(r["holder_type"]),
			SessionID:  asString(r["session_id"]),
			Reason:     asString(r["reason"]),
			AcquiredAt: asTime(r["acquired_at"]),
			ExpiresAt:  asTime(r["expires_at"]),
		})
	}
	return leases, nil
}

func asString(v any) string {
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
