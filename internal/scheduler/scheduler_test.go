package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func pkg(id string, deps ...string) Package {
	return Package{ID: id, Title: id, Type: "implement", Description: id, DependsOn: deps}
}

// TestScenarioF matches spec scenario F: packages A, B, C with A->B->C
// and A->C (B and C both depend on A; C also depends on B), and a
// contracts file present on disk; preflight passes and the order is
// [A, B, C]. With the contracts file missing, preflight reports a
// single "missing contract" validation error.
func TestScenarioF(t *testing.T) {
	dir := t.TempDir()
	contractPath := filepath.Join(dir, "openapi.yaml")
	if err := os.WriteFile(contractPath, []byte("openapi: 3.0.0"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	doc := Document{
		FeatureID:      "F1",
		ContractsFiles: []string{"openapi.yaml"},
		Packages: []Package{
			pkg("A"),
			pkg("B", "A"),
			pkg("C", "A", "B"),
		},
	}

	order, err := Preflight(doc, dir)
	if err != nil {
		t.Fatalf("Preflight() error = %v", err)
	}
	want := []string{"A", "B", "C"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	missingDoc := doc
	missingDoc.ContractsFiles = []string{"missing.yaml"}
	if _, err := Preflight(missingDoc, dir); err == nil {
		t.Fatal("Preflight() with a missing contract file succeeded, want a validation error")
	}
}

// TestTopologicalOrderIsDeterministicAndAlphabeticalWithinALayer checks
// soundness and determinism, with the tiebreak rule exercised by three
// siblings at the same depth.
func TestTopologicalOrderIsDeterministicAndAlphabeticalWithinALayer(t *testing.T) {
	doc := Document{
		FeatureID: "F1",
		Packages: []Package{
			pkg("root"),
			pkg("zeta", "root"),
			pkg("alpha", "root"),
			pkg("mu", "root"),
		},
	}
	for i := 0; i < 5; i++ {
		order, err := TopologicalOrder(doc)
		if err != nil {
			t.Fatalf("TopologicalOrder() error = %v", err)
		}
		want := []string{"root", "alpha", "mu", "zeta"}
		if len(order) != len(want) {
			t.Fatalf("order = %v, want %v", order, want)
		}
		for i := range want {
			if order[i] != want[i] {
				t.Fatalf("order = %v, want %v", order, want)
			}
		}
	}
}

func TestCycleIsRejected(t *testing.T) {
	doc := Document{
		FeatureID: "F1",
		Packages: []Package{
			{ID: "A", Type: "implement", DependsOn: []string{"B"}},
			{ID: "B", Type: "implement", DependsOn: []string{"A"}},
		},
	}
	if _, err := Preflight(doc, t.TempDir()); err == nil {
		t.Fatal("Preflight() on a cyclic document succeeded, want a cycle error")
	}
}

func TestUnknownDependencyIsRejected(t *testing.T) {
	doc := Document{
		FeatureID: "F1",
		Packages:  []Package{pkg("A", "ghost")},
	}
	if _, err := Preflight(doc, t.TempDir()); err == nil {
		t.Fatal("Preflight() with an unknown dependency succeeded, want a reference error")
	}
}

func TestScopeOverlapWithoutDependencyEdgeIsRejected(t *testing.T) {
	doc := Document{
		FeatureID: "F1",
		Packages: []Package{
			{ID: "A", Type: "implement", ScopeWrite: []string{"internal/foo/**"}},
			{ID: "B", Type: "implement", ScopeWrite: []string{"internal/foo/bar.go"}},
		},
	}
	if _, err := Preflight(doc, t.TempDir()); err == nil {
		t.Fatal("Preflight() with overlapping write scope and no dependency edge succeeded, want a scope_overlap error")
	}
}

func TestScopeOverlapAllowedWithDependencyEdge(t *testing.T) {
	doc := Document{
		FeatureID: "F1",
		Packages: []Package{
			{ID: "A", Type: "implement", ScopeWrite: []string{"internal/foo/**"}},
			{ID: "B", Type: "implement", DependsOn: []string{"A"}, ScopeWrite: []string{"internal/foo/bar.go"}},
		},
	}
	if _, err := Preflight(doc, t.TempDir()); err != nil {
		t.Fatalf("Preflight() with a dependency edge permitting scope overlap error = %v", err)
	}
}

func TestLockOverlapWithoutDependencyEdgeIsRejected(t *testing.T) {
	doc := Document{
		FeatureID: "F1",
		Packages: []Package{
			{ID: "A", Type: "implement", Locks: []string{"db-migrations"}},
			{ID: "B", Type: "implement", Locks: []string{"db-migrations"}},
		},
	}
	if _, err := Preflight(doc, t.TempDir()); err == nil {
		t.Fatal("Preflight() with overlapping lock keys and no dependency edge succeeded, want a lock_overlap error")
	}
}

// TestPlanLifecycleWithTransitiveCancellation checks that after
// marking a package failed, every pending/ready descendant reachable
// through depends_on is cancelled.
func TestPlanLifecycleWithTransitiveCancellation(t *testing.T) {
	doc := Document{
		FeatureID: "F1",
		Packages: []Package{
			pkg("A"),
			pkg("B", "A"),
			pkg("C", "B"),
			pkg("D"),
		},
	}
	plan, err := NewPlan(doc, t.TempDir())
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	statusA, _ := plan.Status("A")
	if statusA.State != StateReady {
		t.Fatalf("A state = %v, want ready", statusA.State)
	}
	statusB, _ := plan.Status("B")
	if statusB.State != StatePending {
		t.Fatalf("B state = %v, want pending", statusB.State)
	}

	cancelled := plan.MarkFailed("A", "boom")
	if len(cancelled) != 2 || cancelled[0] != "B" || cancelled[1] != "C" {
		t.Fatalf("cancelled = %v, want [B C]", cancelled)
	}

	statusD, _ := plan.Status("D")
	if statusD.State != StateReady {
		t.Fatalf("D state = %v, want ready (unaffected by A's failure)", statusD.State)
	}
	if plan.Done() {
		t.Fatal("Done() = true, want false: D has not reached a terminal state")
	}
	plan.MarkCompleted("D")
	if !plan.Done() {
		t.Fatal("Done() = false, want true: every package has reached a terminal state")
	}
}

func TestMarkCompletedPromotesDependents(t *testing.T) {
	doc := Document{
		FeatureID: "F1",
		Packages:  []Package{pkg("A"), pkg("B", "A")},
	}
	plan, err := NewPlan(doc, t.TempDir())
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}
	plan.MarkCompleted("A")
	status, _ := plan.Status("B")
	if status.State != StateReady {
		t.Fatalf("B state = %v, want ready once its only dependency completed", status.State)
	}
}

type fakeSubmitter struct {
	calls []string
	next  int
}

func (f *fakeSubmitter) Submit(_ context.Context, _, taskType, _ string, _ map[string]any, _ int, _ []string, _ *time.Time) (string, error) {
	f.calls = append(f.calls, taskType)
	f.next++
	return fmt.Sprintf("task-%d", f.next), nil
}

func TestSubmitOnlySubmitsReadyPackages(t *testing.T) {
	doc := Document{
		FeatureID: "F1",
		Packages:  []Package{pkg("A"), pkg("B", "A")},
	}
	plan, err := NewPlan(doc, t.TempDir())
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	sub := &fakeSubmitter{}
	if err := plan.Submit(t.Context(), sub, "orchestrator"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(sub.calls) != 1 {
		t.Fatalf("Submit() made %d calls, want 1 (only A is ready)", len(sub.calls))
	}

	statusA, _ := plan.Status("A")
	if statusA.State != StateSubmitted || statusA.TaskID == "" {
		t.Fatalf("A status = %+v, want submitted with a task id", statusA)
	}
	statusB, _ := plan.Status("B")
	if statusB.State != StatePending {
		t.Fatalf("B state = %v, want pending (still awaiting A)", statusB.State)
	}
}
