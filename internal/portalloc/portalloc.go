// Package portalloc implements the Port Allocator: an in-memory,
// mutex-guarded range allocator handing each session a contiguous
// four-port block at a configured stride, with lease-TTL expiry and
// duplicate-allocation refresh semantics.
package portalloc

import (
	"sync"
	"time"

	"github.com/agentmesh/coordinator/internal/coorderr"
)

// Roles are the fixed offsets within a session's four-port block.
var Roles = [4]string{"db", "rest", "realtime", "api"}

// Block is a session's allocated four-port range.
type Block struct {
	SessionID string
	Ports     map[string]int // role -> port
	ExpiresAt time.Time
}

type lease struct {
	base      int
	expiresAt time.Time
}

// Allocator is the Port Allocator. One instance covers one process;
// all state lives behind a single mutex.
type Allocator struct {
	mu          sync.Mutex
	basePort    int
	stride      int
	ttl         time.Duration
	maxSessions int
	leases      map[string]lease // sessionID -> lease
	usedBases   map[int]string   // base port -> sessionID, for uniqueness across sessions
}

// New creates an Allocator. basePort must be >= 1024 and stride >= 4.
func New(basePort, stride int, ttl time.Duration, maxSessions int) (*Allocator, error) {
	if basePort < 1024 {
		return nil, coorderr.Newf(coorderr.KindValidationFailed, "base port %d is below 1024", basePort)
	}
	if stride < 4 {
		return nil, coorderr.Newf(coorderr.KindValidationFailed, "stride %d is below the minimum of 4", stride)
	}
	return &Allocator{
		basePort: basePort, stride: stride, ttl: ttl, maxSessions: maxSessions,
		leases: make(map[string]lease), usedBases: make(map[int]string),
	}, nil
}

// Allocate returns sessionID's port block, allocating a fresh one on
// first call and refreshing (same ports, new expiry) on every
// subsequent call.
func (a *Allocator) Allocate(sessionID string) (Block, error) {
	if sessionID == "" {
		return Block{}, coorderr.New(coorderr.KindValidationFailed, "session id is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	a.expireLocked(now)

	if l, ok := a.leases[sessionID]; ok {
		l.expiresAt = now.Add(a.ttl)
		a.leases[sessionID] = l
		return a.blockLocked(sessionID, l), nil
	}

	if len(a.leases) >= a.maxSessions {
		return Block{}, coorderr.Newf(coorderr.KindPreconditionFailed, "port allocator is at capacity (%d sessions)", a.maxSessions)
	}

	base := a.basePort
	for {
		if _, taken := a.usedBases[base]; !taken {
			break
		}
		base += a.stride
	}

	l := lease{base: base, expiresAt: now.Add(a.ttl)}
	a.leases[sessionID] = l
	a.usedBases[base] = sessionID
	return a.blockLocked(sessionID, l), nil
}

// Release frees sessionID's block immediately, without waiting for
// lease expiry.
func (a *Allocator) Release(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if l, ok := a.leases[sessionID]; ok {
		delete(a.usedBases, l.base)
		delete(a.leases, sessionID)
	}
}

// ActiveSessions returns the session ids currently holding a
// non-expired block. No two simultaneously active sessions share any
// port: distinct base ports at a stride apart cannot overlap, so
// uniqueness across this set is structural.
func (a *Allocator) ActiveSessions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expireLocked(time.Now())
	sessions := make([]string, 0, len(a.leases))
	for id := range a.leases {
		sessions = append(sessions, id)
	}
	return sessions
}

func (a *Allocator) expireLocked(now time.Time) {
	for id, l := range a.leases {
		if now.After(l.expiresAt) {
			delete(a.usedBases, l.base)
			delete(a.leases, id)
		}
	}
}

func (a *Allocator) blockLocked(sessionID string, l lease) Block {
	ports := make(map[string]int, len(Roles))
	for i, role := range Roles {
		ports[role] = l.base + i
	}
	return Block{SessionID: sessionID, Ports: ports, ExpiresAt: l.expiresAt}
}
