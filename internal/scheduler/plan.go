package scheduler

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/agentmesh/coordinator/internal/coorderr"
)

const defaultTimeout = 60 // minutes, default per-package deadline

// TaskSubmitter is the subset of the Work Queue the scheduler submits
// packages through. Input is the pre-built submission envelope.
type TaskSubmitter interface {
	Submit(ctx context.Context, agent, taskType, description string, input map[string]any, priority int, dependsOn []string, deadline *time.Time) (string, error)
}

// Plan is a preflighted work-package document together with its
// per-package runtime state. One Plan instance must be driven by a
// single orchestrator goroutine; callers must serialize concurrent
// mutation of one plan.
type Plan struct {
	doc    Document
	order  []string
	byID   map[string]Package
	deps   map[string][]string // id -> ids it depends on
	rdeps  map[string][]string // id -> ids that depend on it
	mu     sync.Mutex
	status map[string]*PackageStatus
}

// NewPlan runs the preflight pipeline and, on success, returns a Plan
// with every package seeded into pending or ready (ready iff it has no
// dependencies).
func NewPlan(doc Document, baseDir string) (*Plan, error) {
	order, err := Preflight(doc, baseDir)
	if err != nil {
		return nil, err
	}

	for i, p := range doc.Packages {
		if p.Timeout == 0 {
			doc.Packages[i].Timeout = defaultTimeout * time.Minute
		}
	}

	byID := packagesByID(doc)
	deps := map[string][]string{}
	rdeps := map[string][]string{}
	for _, p := range doc.Packages {
		deps[p.ID] = p.DependsOn
		for _, dep := range p.DependsOn {
			rdeps[dep] = append(rdeps[dep], p.ID)
		}
	}

	status := make(map[string]*PackageStatus, len(doc.Packages))
	for _, p := range doc.Packages {
		state := StatePending
		if len(p.DependsOn) == 0 {
			state = StateReady
		}
		status[p.ID] = &PackageStatus{State: state}
	}

	return &Plan{doc: doc, order: order, byID: byID, deps: deps, rdeps: rdeps, status: status}, nil
}

// Order returns the topological submission order computed at
// preflight time.
func (p *Plan) Order() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Status returns a snapshot of a package's runtime state.
func (p *Plan) Status(id string) (PackageStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.status[id]
	if !ok {
		return PackageStatus{}, false
	}
	return *s, true
}

// Done reports whether every package has reached a terminal state.
func (p *Plan) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.status {
		if !s.State.IsTerminal() {
			return false
		}
	}
	return true
}

// Envelope builds the submission-preparation payload (preflight step
// 8): feature id, contracts revision, contracts file list, and the
// package itself. The plan revision and the contracts' primary file
// are not included.
func (p *Plan) Envelope(id string) (map[string]any, error) {
	pkg, ok := p.byID[id]
	if !ok {
		return nil, coorderr.Newf(coorderr.KindNotFound, "package %q not found in plan", id)
	}
	pkgJSON, err := json.Marshal(pkg)
	if err != nil {
		return nil, coorderr.Wrap(coorderr.KindValidationFailed, "marshal package envelope", err)
	}
	var pkgMap map[string]any
	_ = json.Unmarshal(pkgJSON, &pkgMap)

	return map[string]any{
		"feature_id":         p.doc.FeatureID,
		"contracts_revision": p.doc.ContractsRevision,
		"contracts_files":    p.doc.ContractsFiles,
		"package":            pkgMap,
	}, nil
}

// Submit submits every ready package (in topological order) to the
// given submitter, transitioning each to submitted on success. It
// only submits packages whose dependencies are all already completed,
// matching the queue's own dependency gate but enforced here so a
// failed dependency's descendants are never attempted.
func (p *Plan) Submit(ctx context.Context, submitter TaskSubmitter, agent string) error {
	for _, id := range p.order {
		p.mu.Lock()
		status := p.status[id]
		ready := status.State == StateReady
		p.mu.Unlock()
		if !ready {
			continue
		}

		envelope, err := p.Envelope(id)
		if err != nil {
			return err
		}
		pkg := p.byID[id]
		taskID, err := submitter.Submit(ctx, agent, pkg.Type, pkg.Description, envelope, pkg.Priority, pkg.DependsOn, nil)
		if err != nil {
			return err
		}

		p.mu.Lock()
		status.State = StateSubmitted
		status.TaskID = taskID
		status.AttemptCount++
		p.mu.Unlock()
	}
	return nil
}

// MarkInProgress transitions a submitted package to in_progress.
func (p *Plan) MarkInProgress(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.status[id]; ok {
		s.State = StateInProgress
	}
}

// MarkCompleted transitions a package to completed and promotes any
// sibling whose every dependency is now completed from pending to
// ready.
func (p *Plan) MarkCompleted(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.status[id]; ok {
		s.State = StateCompleted
	}
	for _, dependent := range p.rdeps[id] {
		if p.allDepsCompletedLocked(dependent) {
			if s := p.status[dependent]; s != nil && s.State == StatePending {
				s.State = StateReady
			}
		}
	}
}

func (p *Plan) allDepsCompletedLocked(id string) bool {
	for _, dep := range p.deps[id] {
		if s := p.status[dep]; s == nil || s.State != StateCompleted {
			return false
		}
	}
	return true
}

// MarkFailed transitions a package to failed, records the terminal
// error, and transitively cancels every pending/ready descendant
// reachable through depends_on edges, with reason "dependency failed".
func (p *Plan) MarkFailed(id, terminalError string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.status[id]; ok {
		s.State = StateFailed
		s.TerminalError = terminalError
	}

	var cancelled []string
	var walk func(from string)
	walk = func(from string) {
		for _, dependent := range p.rdeps[from] {
			s := p.status[dependent]
			if s == nil {
				continue
			}
			if s.State == StatePending || s.State == StateReady {
				s.State = StateCancelled
				s.TerminalError = "dependency failed"
				cancelled = append(cancelled, dependent)
			}
			walk(dependent)
		}
	}
	walk(id)

	sort.Strings(cancelled)
	return cancelled
}
