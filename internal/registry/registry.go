// Package registry implements the Feature Registry and its merge
// queue overlay: idempotent feature registration, resource-claim
// conflict analysis with a three-level feasibility verdict, and
// priority-ordered pre-merge checks.
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/agentmesh/coordinator/internal/coorderr"
	"github.com/agentmesh/coordinator/internal/gateway"
)

// overlapThreshold: above this ratio of overlapping candidate keys to
// total candidate keys, feasibility drops from PARTIAL to SEQUENTIAL.
const overlapThreshold = 0.5

// Feasibility is the three-level verdict from a conflict analysis.
type Feasibility string

const (
	FeasibilityFull       Feasibility = "FULL"
	FeasibilityPartial    Feasibility = "PARTIAL"
	FeasibilitySequential Feasibility = "SEQUENTIAL"
)

// Feature is a registered feature and its resource claims.
type Feature struct {
	ID             string
	FeatureID      string
	Title          string
	Status         string
	RegisteredBy   string
	ResourceClaims []string
	BranchName     string
	MergePriority  int
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ConflictReport is the result of a conflict analysis against the
// currently active features.
type ConflictReport struct {
	Feasibility   Feasibility
	OverlapByID   map[string][]string // feature_id -> overlapping candidate keys
}

// Registry is the Feature Registry and merge queue.
type Registry struct {
	gw gateway.Gateway
}

// New creates a Feature Registry over the given Gateway.
func New(gw gateway.Gateway) *Registry {
	return &Registry{gw: gw}
}

// Register is idempotent by feature_id.
func (r *Registry) Register(ctx context.Context, featureID, title, registeredBy string, claims []string, branchName string, mergePriority int) (string, error) {
	if featureID == "" {
		return "", coorderr.New(coorderr.KindValidationFailed, "feature_id is required")
	}
	res, err := r.gw.RPC(ctx, "register_feature", map[string]any{
		"feature_id": featureID, "title": title, "registered_by": registeredBy,
		"resource_claims": claims, "branch_name": branchName, "merge_priority": mergePriority,
	})
	if err != nil {
		return "", err
	}
	return res.(map[string]any)["id"].(string), nil
}

// activeFeatures lists every feature with status "active".
func (r *Registry) activeFeatures(ctx context.Context) ([]Feature, error) {
	rows, err := r.gw.Query(ctx, "feature_registry", gateway.Filter{Eq: map[string]any{"status": "active"}}, nil)
	if err != nil {
		return nil, err
	}
	return featuresFromRows(rows), nil
}

// AnalyzeConflicts computes the per-other-feature overlapping keys and
// an overall feasibility verdict. excludeFeatureID lets a feature
// re-check itself against its peers without counting its own prior
// claims.
func (r *Registry) AnalyzeConflicts(ctx context.Context, candidateClaims []string, excludeFeatureID string) (ConflictReport, error) {
	active, err := r.activeFeatures(ctx)
	if err != nil {
		return ConflictReport{}, err
	}

	candidateSet := toSet(candidateClaims)
	overlapByID := map[string][]string{}
	overlapping := map[string]struct{}{}

	for _, f := range active {
		if f.FeatureID == excludeFeatureID {
			continue
		}
		var keys []string
		for _, claim := range f.ResourceClaims {
			if _, ok := candidateSet[claim]; ok {
				keys = append(keys, claim)
				overlapping[claim] = struct{}{}
			}
		}
		if len(keys) > 0 {
			sort.Strings(keys)
			overlapByID[f.FeatureID] = keys
		}
	}

	feasibility := classify(len(overlapping), len(candidateClaims))
	return ConflictReport{Feasibility: feasibility, OverlapByID: overlapByID}, nil
}

// classify produces the three-level verdict. Monotonicity falls out
// of this being a pure function of the overlap count: adding more
// overlapping claims from other features can only raise overlapCount,
// never lower it.
func classify(overlapCount, totalCandidates int) Feasibility {
	if overlapCount == 0 {
		return FeasibilityFull
	}
	if totalCandidates == 0 {
		return FeasibilityFull
	}
	ratio := float64(overlapCount) / float64(totalCandidates)
	if ratio > overlapThreshold {
		return FeasibilitySequential
	}
	return FeasibilityPartial
}

// EnterMergeQueue stamps a feature's metadata with queued status,
// an optional PR reference, and the enqueue time.
func (r *Registry) EnterMergeQueue(ctx context.Context, featureID, prReference string) error {
	now := time.Now().UTC()
	metadata := map[string]any{"status": "queued", "pr_reference": prReference, "queued_at": now}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return coorderr.Wrap(coorderr.KindValidationFailed, "marshal merge queue metadata", err)
	}
	n, err := r.gw.Update(ctx, "feature_registry", gateway.Filter{Eq: map[string]any{"feature_id": featureID}}, gateway.Row{
		"metadata": string(metadataJSON), "updated_at": now,
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return coorderr.Newf(coorderr.KindNotFound, "feature %q not found", featureID)
	}
	return nil
}

// ListMergeQueue returns active features whose queue status is
// queued, ready or blocked, ordered by
// merge_priority ascending, then registration order.
func (r *Registry) ListMergeQueue(ctx context.Context) ([]Feature, error) {
	active, err := r.activeFeatures(ctx)
	if err != nil {
		return nil, err
	}
	queued := active[:0]
	for _, f := range active {
		if status, _ := f.Metadata["status"].(string); status == "queued" || status == "ready" || status == "blocked" {
			queued = append(queued, f)
		}
	}
	sort.SliceStable(queued, func(i, j int) bool {
		if queued[i].MergePriority != queued[j].MergePriority {
			return queued[i].MergePriority < queued[j].MergePriority
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})
	return queued, nil
}

// PreMergeCheck re-validates that a queued feature is still active,
// still carries queue metadata, and that
// conflicts have not re-introduced SEQUENTIAL feasibility. The queue
// status flips to "ready" or "blocked" and the check time is recorded.
func (r *Registry) PreMergeCheck(ctx context.Context, featureID string) (Feasibility, error) {
	rows, err := r.gw.Query(ctx, "feature_registry", gateway.Filter{Eq: map[string]any{"feature_id": featureID}}, nil)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", coorderr.Newf(coorderr.KindNotFound, "feature %q not found", featureID)
	}
	f := featuresFromRows(rows)[0]
	if f.Status != "active" {
		return "", coorderr.Newf(coorderr.KindPreconditionFailed, "feature %q is not active", featureID)
	}
	status, _ := f.Metadata["status"].(string)
	if status == "" {
		return "", coorderr.Newf(coorderr.KindPreconditionFailed, "feature %q does not carry queue metadata", featureID)
	}

	report, err := r.AnalyzeConflicts(ctx, f.ResourceClaims, featureID)
	if err != nil {
		return "", err
	}

	newStatus := "ready"
	if report.Feasibility == FeasibilitySequential {
		newStatus = "blocked"
	}
	f.Metadata["status"] = newStatus
	f.Metadata["checked_at"] = time.Now().UTC()
	metadataJSON, err := json.Marshal(f.Metadata)
	if err != nil {
		return "", coorderr.Wrap(coorderr.KindValidationFailed, "marshal merge queue metadata", err)
	}
	if _, err := r.gw.Update(ctx, "feature_registry", gateway.Filter{Eq: map[string]any{"feature_id": featureID}}, gateway.Row{
		"metadata": string(metadataJSON),
	}); err != nil {
		return "", err
	}
	return report.Feasibility, nil
}

// MarkMerged deregisters a feature atomically with status "completed".
func (r *Registry) MarkMerged(ctx context.Context, featureID string) error {
	_, err := r.gw.RPC(ctx, "deregister_feature", map[string]any{"feature_id": featureID, "status": "completed"})
	return err
}

func toSet(ss []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		set[s] = struct{}{}
	}
	return set
}

func featuresFromRows(rows []gateway.Row) []Feature {
	features := make([]Feature, 0, len(rows))
	for _, r := range rows {
		var claims []string
		_ = json.Unmarshal([]byte(str(r["resource_claims"])), &claims)
		metadata := map[string]any{}
		_ = json.Unmarshal([]byte(str(r["metadata"])), &metadata)
		features = append(features, Feature{
			ID: str(r["id"]), FeatureID: str(r["feature_id"]), Title: str(r["title"]),
			Status: str(r["status"]), RegisteredBy: str(r["registered_by"]), ResourceClaims: claims,
			BranchName: str(r["branch_name"]), MergePriority: asInt(r["merge_priority"]),
			Metadata: metadata, CreatedAt: asTime(r["created_at"]), UpdatedAt: asTime(r["updated_at"]),
		})
	}
	return features
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}
