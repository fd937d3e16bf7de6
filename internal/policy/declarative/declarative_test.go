package declarative

import (
	"context"
	"testing"
	"time"
)

type fixedTrust struct{ level int }

func (f fixedTrust) TrustLevel(ctx context.Context, agentID string) (int, error) { return f.level, nil }

func TestSuspendedAgentDenied(t *testing.T) {
	e := New(nil, fixedTrust{level: 0}, time.Minute)
	d, err := e.CheckOperation(t.Context(), "a1", "coder", "check_locks", "", nil)
	if err != nil {
		t.Fatalf("CheckOperation() error = %v", err)
	}
	if d.Allowed || d.Reason != "suspended" {
		t.Fatalf("Decision = %+v, want denied/suspended", d)
	}
}

// TestScenarioD matches spec scenario D: trust=0 denies check_locks
// with reason "suspended"; trust=1 allows it.
func TestScenarioD(t *testing.T) {
	denied, err := New(nil, fixedTrust{level: 0}, time.Minute).CheckOperation(t.Context(), "a1", "coder", "check_locks", "", nil)
	if err != nil {
		t.Fatalf("CheckOperation() error = %v", err)
	}
	if denied.Allowed || denied.Reason != "suspended" {
		t.Fatalf("trust=0 decision = %+v, want denied/suspended", denied)
	}

	allowed, err := New(nil, fixedTrust{level: 1}, time.Minute).CheckOperation(t.Context(), "a1", "coder", "check_locks", "", nil)
	if err != nil {
		t.Fatalf("CheckOperation() error = %v", err)
	}
	if !allowed.Allowed {
		t.Fatalf("trust=1 decision = %+v, want allowed", allowed)
	}
}

func TestWriteAndAdminThresholds(t *testing.T) {
	cases := []struct {
		trust     int
		operation string
		want      bool
	}{
		{1, "submit_task", false},
		{2, "submit_task", true},
		{2, "register_feature", false},
		{3, "register_feature", true},
	}
	for _, c := range cases {
		e := New(nil, fixedTrust{level: c.trust}, time.Minute)
		d, err := e.CheckOperation(t.Context(), "a1", "coder", c.operation, "", nil)
		if err != nil {
			t.Fatalf("CheckOperation(%s, trust=%d) error = %v", c.operation, c.trust, err)
		}
		if d.Allowed != c.want {
			t.Errorf("CheckOperation(%s, trust=%d) allowed = %v, want %v", c.operation, c.trust, d.Allowed, c.want)
		}
	}
}
