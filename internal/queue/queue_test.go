package queue

import (
	"context"
	"testing"

	"github.com/agentmesh/coordinator/internal/gateway/native"
	"github.com/agentmesh/coordinator/internal/guardrails"
)

type fixedTrust struct{ level int }

func (f fixedTrust) TrustLevel(ctx context.Context, agentID string) (int, error) { return f.level, nil }

type perAgentTrust map[string]int

func (p perAgentTrust) TrustLevel(ctx context.Context, agentID string) (int, error) {
	return p[agentID], nil
}

func newTestService(t *testing.T, trust int) *Service {
	t.Helper()
	return newTestServiceWithTrust(t, fixedTrust{level: trust})
}

func newTestServiceWithTrust(t *testing.T, trust TrustLookup) *Service {
	t.Helper()
	gw, err := native.Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return New(gw, guardrails.New(gw), trust)
}

func TestSubmitClaimComplete(t *testing.T) {
	s := newTestService(t, 5)
	ctx := t.Context()

	id, err := s.Submit(ctx, "submitter", "code_review", "review the diff", map[string]any{}, 3, nil, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	task, err := s.Claim(ctx, "worker-1", nil)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if task == nil || task.ID != id {
		t.Fatalf("Claim() = %+v, want task %q", task, id)
	}

	status, err := s.Complete(ctx, id, "worker-1", true, map[string]any{"ok": true}, "")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if status != "completed" {
		t.Fatalf("status = %q, want completed", status)
	}
}

func TestClaimReturnsNilWhenNoneAvailable(t *testing.T) {
	s := newTestService(t, 5)
	task, err := s.Claim(t.Context(), "worker-1", nil)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if task != nil {
		t.Fatalf("Claim() = %+v, want nil", task)
	}
}

func TestDependencyGateBlocksClaimUntilDependencyCompletes(t *testing.T) {
	s := newTestService(t, 5)
	ctx := t.Context()

	depID, err := s.Submit(ctx, "submitter", "setup", "prepare env", nil, 1, nil, nil)
	if err != nil {
		t.Fatalf("Submit(dep) error = %v", err)
	}
	_, err = s.Submit(ctx, "submitter", "build", "build artifact", nil, 1, []string{depID}, nil)
	if err != nil {
		t.Fatalf("Submit(dependent) error = %v", err)
	}

	first, err := s.Claim(ctx, "worker-1", nil)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if first == nil || first.ID != depID {
		t.Fatalf("Claim() = %+v, want the dependency task first", first)
	}

	// Dependent task isn't ready yet: the only other pending task is
	// gated, so claim reports none available.
	none, err := s.Claim(ctx, "worker-2", nil)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if none != nil {
		t.Fatalf("Claim() = %+v, want nil while dependency is incomplete", none)
	}

	if _, err := s.Complete(ctx, depID, "worker-1", true, nil, ""); err != nil {
		t.Fatalf("Complete(dep) error = %v", err)
	}

	dependent, err := s.Claim(ctx, "worker-2", nil)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if dependent == nil {
		t.Fatal("Claim() = nil, want the now-unblocked dependent task")
	}
}

func TestSubmitRejectsDestructiveDescription(t *testing.T) {
	s := newTestService(t, 0)
	_, err := s.Submit(t.Context(), "submitter", "ops", "please run rm -rf / on prod", nil, 1, nil, nil)
	if err == nil {
		t.Fatal("expected submit to be blocked by the guardrail engine")
	}
}

func TestOnlyHolderMayComplete(t *testing.T) {
	s := newTestService(t, 5)
	ctx := t.Context()

	id, err := s.Submit(ctx, "submitter", "code_review", "review", nil, 1, nil, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := s.Claim(ctx, "worker-1", nil); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	if _, err := s.Complete(ctx, id, "someone-else", true, nil, ""); err == nil {
		t.Fatal("expected complete by a non-holder to fail")
	}
}

// TestClaimGuardrailBlockReturnsTaskToCleanPending checks that a task
// bounced back to pending by a claim-time guardrail block has no
// completed_at, records the block reason in error_message, and can
// still be claimed by a sufficiently trusted worker.
func TestClaimGuardrailBlockReturnsTaskToCleanPending(t *testing.T) {
	trust := perAgentTrust{"submitter": 5, "low-trust-worker": 0, "worker-2": 5}
	s := newTestServiceWithTrust(t, trust)
	ctx := t.Context()

	id, err := s.Submit(ctx, "submitter", "ops", "rm -rf / on the old staging box", nil, 1, nil, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if _, err := s.Claim(ctx, "low-trust-worker", nil); err == nil {
		t.Fatal("expected Claim() to be blocked by the guardrail engine")
	}

	tasks, err := s.GetPending(ctx, nil, 10)
	if err != nil {
		t.Fatalf("GetPending() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != id {
		t.Fatalf("GetPending() = %+v, want the bounced task back in pending", tasks)
	}
	if !tasks[0].CompletedAt.IsZero() {
		t.Fatalf("CompletedAt = %v, want zero on a pending task", tasks[0].CompletedAt)
	}
	if tasks[0].ErrorMessage != "destructive_operation_blocked" {
		t.Fatalf("ErrorMessage = %q, want destructive_operation_blocked", tasks[0].ErrorMessage)
	}

	task, err := s.Claim(ctx, "worker-2", nil)
	if err != nil {
		t.Fatalf("Claim() by a trusted worker error = %v", err)
	}
	if task == nil || task.ID != id {
		t.Fatalf("Claim() = %+v, want the same task claimable by a sufficiently trusted worker", task)
	}
}

func TestGetPendingCapsAtPageSize(t *testing.T) {
	s := newTestService(t, 5)
	ctx := t.Context()
	for i := 0; i < 5; i++ {
		if _, err := s.Submit(ctx, "submitter", "task", "do it", nil, 1, nil, nil); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	tasks, err := s.GetPending(ctx, nil, 2)
	if err != nil {
		t.Fatalf("GetPending() error = %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("GetPending(limit=2) returned %d tasks, want 2", len(tasks))
	}
}
