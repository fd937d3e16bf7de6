package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/multierr"

	"github.com/agentmesh/coordinator/internal/coorderr"
)

// ValidationIssue is a single preflight gate failure.
type ValidationIssue struct {
	Step    string
	Message string
}

func (v ValidationIssue) Error() string { return fmt.Sprintf("%s: %s", v.Step, v.Message) }

// gateFunc is one ordered preflight step. baseDir resolves contract
// file existence checks.
type gateFunc func(doc Document, baseDir string) []ValidationIssue

// gates lists the preflight steps in strict order; the pipeline stops
// at the first step that produces any issue so later steps never run
// against a structurally invalid document.
var gates = []gateFunc{
	validateSchema,
	validateReferences,
	detectCycles,
	validateScopeOverlap,
	validateLockOverlap,
	validateContractsExist,
}

// Preflight runs the ordered gate pipeline and, only if every gate
// passes, computes the topological order (step 7). It returns the
// combined issues of the first failing gate via multierr, or the
// topological order on success. Submission envelopes (step 8) are
// built per package by Plan.Envelope.
func Preflight(doc Document, baseDir string) ([]string, error) {
	for _, gate := range gates {
		issues := gate(doc, baseDir)
		if len(issues) > 0 {
			var combined error
			for _, issue := range issues {
				combined = multierr.Append(combined, issue)
			}
			return nil, coorderr.Wrap(coorderr.KindValidationFailed, "work package preflight failed", combined)
		}
	}
	return TopologicalOrder(doc)
}

func validateSchema(doc Document, _ string) []ValidationIssue {
	var issues []ValidationIssue
	if doc.FeatureID == "" {
		issues = append(issues, ValidationIssue{"schema", "feature id is required"})
	}
	if len(doc.Packages) == 0 {
		issues = append(issues, ValidationIssue{"schema", "document must declare at least one package"})
	}
	seen := map[string]bool{}
	for _, p := range doc.Packages {
		if p.ID == "" {
			issues = append(issues, ValidationIssue{"schema", "package with empty id"})
			continue
		}
		if seen[p.ID] {
			issues = append(issues, ValidationIssue{"schema", fmt.Sprintf("duplicate package id %q", p.ID)})
		}
		seen[p.ID] = true
		if p.Type == "" {
			issues = append(issues, ValidationIssue{"schema", fmt.Sprintf("package %q missing type", p.ID)})
		}
	}
	return issues
}

func validateReferences(doc Document, _ string) []ValidationIssue {
	var issues []ValidationIssue
	ids := packageIDs(doc)
	for _, p := range doc.Packages {
		for _, dep := range p.DependsOn {
			if _, ok := ids[dep]; !ok {
				issues = append(issues, ValidationIssue{"reference", fmt.Sprintf("package %q depends on unknown package %q", p.ID, dep)})
			}
		}
	}
	return issues
}

func detectCycles(doc Document, _ string) []ValidationIssue {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	byID := packagesByID(doc)

	var visit func(id string, path []string) []ValidationIssue
	visit = func(id string, path []string) []ValidationIssue {
		color[id] = gray
		for _, dep := range byID[id].DependsOn {
			switch color[dep] {
			case gray:
				return []ValidationIssue{{"cycle", fmt.Sprintf("cycle detected: %s", cyclePath(append(path, id, dep)))}}
			case white:
				if issues := visit(dep, append(path, id)); len(issues) > 0 {
					return issues
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, p := range doc.Packages {
		if color[p.ID] == white {
			if issues := visit(p.ID, nil); len(issues) > 0 {
				return issues
			}
		}
	}
	return nil
}

func cyclePath(ids []string) string {
	s := ""
	for i, id := range ids {
		if i > 0 {
			s += " -> "
		}
		s += id
	}
	return s
}

// validateScopeOverlap implements step 4: no two packages without a
// direct or transitive dependency edge may declare intersecting
// write-allowed globs.
func validateScopeOverlap(doc Document, _ string) []ValidationIssue {
	reachable := transitiveClosure(doc)
	var issues []ValidationIssue

	for i := 0; i < len(doc.Packages); i++ {
		for j := i + 1; j < len(doc.Packages); j++ {
			a, b := doc.Packages[i], doc.Packages[j]
			if related(reachable, a.ID, b.ID) {
				continue
			}
			if globSetsIntersect(a.ScopeWrite, b.ScopeWrite) {
				issues = append(issues, ValidationIssue{"scope_overlap", fmt.Sprintf("packages %q and %q declare overlapping write scope with no dependency edge", a.ID, b.ID)})
			}
		}
	}
	return issues
}

// validateLockOverlap implements step 5: no two packages without a
// dependency edge may declare the same logical lock key.
func validateLockOverlap(doc Document, _ string) []ValidationIssue {
	reachable := transitiveClosure(doc)
	var issues []ValidationIssue

	for i := 0; i < len(doc.Packages); i++ {
		for j := i + 1; j < len(doc.Packages); j++ {
			a, b := doc.Packages[i], doc.Packages[j]
			if related(reachable, a.ID, b.ID) {
				continue
			}
			for _, key := range a.Locks {
				if containsString(b.Locks, key) {
					issues = append(issues, ValidationIssue{"lock_overlap", fmt.Sprintf("packages %q and %q both declare lock key %q with no dependency edge", a.ID, b.ID, key)})
				}
			}
		}
	}
	return issues
}

func validateContractsExist(doc Document, baseDir string) []ValidationIssue {
	var issues []ValidationIssue
	for _, c := range doc.ContractsFiles {
		path := c
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, c)
		}
		if _, err := os.Stat(path); err != nil {
			issues = append(issues, ValidationIssue{"contract", "missing contract"})
		}
	}
	return issues
}

func globSetsIntersect(a, b []string) bool {
	aExpanded := expandGlobs(a)
	bExpanded := expandGlobs(b)
	for pattern := range aExpanded {
		for other := range bExpanded {
			if pattern == other {
				return true
			}
			if ok, _ := doublestar.Match(pattern, other); ok {
				return true
			}
			if ok, _ := doublestar.Match(other, pattern); ok {
				return true
			}
		}
	}
	return false
}

func expandGlobs(globs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(globs))
	for _, g := range globs {
		set[g] = struct{}{}
	}
	return set
}

func packageIDs(doc Document) map[string]struct{} {
	ids := make(map[string]struct{}, len(doc.Packages))
	for _, p := range doc.Packages {
		ids[p.ID] = struct{}{}
	}
	return ids
}

func packagesByID(doc Document) map[string]Package {
	byID := make(map[string]Package, len(doc.Packages))
	for _, p := range doc.Packages {
		byID[p.ID] = p
	}
	return byID
}

// transitiveClosure returns, for each package id, the set of package
// ids reachable from it by following depends_on edges.
func transitiveClosure(doc Document) map[string]map[string]struct{} {
	byID := packagesByID(doc)
	closure := map[string]map[string]struct{}{}

	var reach func(id string) map[string]struct{}
	reach = func(id string) map[string]struct{} {
		if r, ok := closure[id]; ok {
			return r
		}
		set := map[string]struct{}{}
		closure[id] = set // break cycles defensively; cycle detection runs earlier in the pipeline
		for _, dep := range byID[id].DependsOn {
			set[dep] = struct{}{}
			for d := range reach(dep) {
				set[d] = struct{}{}
			}
		}
		return set
	}

	for _, p := range doc.Packages {
		reach(p.ID)
	}
	return closure
}

func related(reachable map[string]map[string]struct{}, a, b string) bool {
	if _, ok := reachable[a][b]; ok {
		return true
	}
	if _, ok := reachable[b][a]; ok {
		return true
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// TopologicalOrder implements step 7: breadth-first layer expansion,
// alphabetical tiebreak by id within a layer, for a deterministic
// order.
func TopologicalOrder(doc Document) ([]string, error) {
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for _, p := range doc.Packages {
		if _, ok := indegree[p.ID]; !ok {
			indegree[p.ID] = 0
		}
		for _, dep := range p.DependsOn {
			indegree[p.ID]++
			dependents[dep] = append(dependents[dep], p.ID)
		}
	}

	var order []string
	layer := readyIDs(indegree)
	for len(layer) > 0 {
		sort.Strings(layer)
		order = append(order, layer...)
		var next []string
		for _, id := range layer {
			for _, dependent := range dependents[id] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		layer = next
	}

	if len(order) != len(doc.Packages) {
		return nil, coorderr.New(coorderr.KindValidationFailed, "dependency graph contains a cycle")
	}
	return order, nil
}

func readyIDs(indegree map[string]int) []string {
	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	return ready
}
