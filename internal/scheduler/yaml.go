package scheduler

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentmesh/coordinator/internal/coorderr"
)

// wireDocument mirrors the work-package document's on-disk YAML shape
// (schema_version, feature{id,title,plan_revision}, contracts{revision,
// openapi{primary, files}}, packages[]), each package referenced only
// by its package_id. ParseDocument flattens this into the internal
// Document type the preflight pipeline and Plan operate on.
type wireDocument struct {
	SchemaVersion string `yaml:"schema_version"`
	Feature       struct {
		ID           string `yaml:"id"`
		Title        string `yaml:"title"`
		PlanRevision string `yaml:"plan_revision"`
	} `yaml:"feature"`
	Contracts struct {
		Revision string `yaml:"revision"`
		OpenAPI  struct {
			Primary string   `yaml:"primary"`
			Files   []string `yaml:"files"`
		} `yaml:"openapi"`
	} `yaml:"contracts"`
	Packages []wirePackage `yaml:"packages"`
}

type wirePackage struct {
	ID                 string   `yaml:"package_id"`
	Title              string   `yaml:"title"`
	Type               string   `yaml:"type"`
	Description        string   `yaml:"description"`
	Priority           int      `yaml:"priority"`
	DependsOn          []string `yaml:"depends_on"`
	Locks              []string `yaml:"locks"`
	ScopeWrite         []string `yaml:"scope_write"`
	ScopeRead          []string `yaml:"scope_read"`
	Worktree           string   `yaml:"worktree"`
	TimeoutMinutes     int      `yaml:"timeout_minutes"`
	RetryBudget        int      `yaml:"retry_budget"`
	Verification       []string `yaml:"verification"`
	ExpectedOutputKeys []string `yaml:"expected_output_keys"`
}

// ParseDocument parses a work-package document from its YAML wire
// format into the internal Document type.
func ParseDocument(data []byte) (Document, error) {
	var wire wireDocument
	if err := yaml.Unmarshal(data, &wire); err != nil {
		return Document{}, coorderr.Wrap(coorderr.KindValidationFailed, "parse work-package document", err)
	}

	packages := make([]Package, 0, len(wire.Packages))
	for _, p := range wire.Packages {
		packages = append(packages, Package{
			ID: p.ID, Title: p.Title, Type: p.Type, Description: p.Description,
			Priority: p.Priority, DependsOn: p.DependsOn, Locks: p.Locks,
			ScopeWrite: p.ScopeWrite, ScopeRead: p.ScopeRead, Worktree: p.Worktree,
			Timeout: time.Duration(p.TimeoutMinutes) * time.Minute, RetryBudget: p.RetryBudget,
			Verification: p.Verification, ExpectedOutputKeys: p.ExpectedOutputKeys,
		})
	}

	return Document{
		FeatureID:         wire.Feature.ID,
		ContractsRevision: wire.Contracts.Revision,
		ContractsFiles:    wire.Contracts.OpenAPI.Files,
		Packages:          packages,
	}, nil
}
