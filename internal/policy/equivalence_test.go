package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentmesh/coordinator/internal/gateway/native"
	declarativepolicy "github.com/agentmesh/coordinator/internal/policy/declarative"
	nativepolicy "github.com/agentmesh/coordinator/internal/policy/native"
)

type fixedTrust struct{ level int }

func (f fixedTrust) TrustLevel(ctx context.Context, agentID string) (int, error) { return f.level, nil }

// TestNativeAndDeclarativeAgree checks that for every trust level in
// {0..4} and every predefined action
// category, both Policy Engine backends must produce the same
// allow/deny decision under the default policy set.
func TestNativeAndDeclarativeAgree(t *testing.T) {
	gw, err := native.Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer gw.Close()

	operations := []string{"check_locks", "get_pending_tasks", "submit_task", "claim_task", "register_feature", "cleanup_dead_agents"}

	for trust := 0; trust <= 4; trust++ {
		trustReader := fixedTrust{level: trust}
		nativeEngine := nativepolicy.New(trustReader, nativepolicy.NewProfileStore(gw), nil)
		declEngine := declarativepolicy.New(nil, trustReader, time.Minute)

		for _, op := range operations {
			nd, err := nativeEngine.CheckOperation(t.Context(), "a1", "coder", op, "", nil)
			if err != nil {
				t.Fatalf("native CheckOperation(%s, trust=%d) error = %v", op, trust, err)
			}
			dd, err := declEngine.CheckOperation(t.Context(), "a1", "coder", op, "", nil)
			if err != nil {
				t.Fatalf("declarative CheckOperation(%s, trust=%d) error = %v", op, trust, err)
			}
			if nd.Allowed != dd.Allowed {
				t.Errorf("trust=%d op=%s: native.Allowed=%v declarative.Allowed=%v (mismatch)", trust, op, nd.Allowed, dd.Allowed)
			}
		}
	}
}
