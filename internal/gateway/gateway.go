// Package gateway defines the Persistence Gateway: the single
// interface every other coordinator component uses to reach the
// relational store. It exposes five operations — rpc, query, insert,
// update, delete — over a small, fixed filter language. Two backends
// implement Gateway (internal/gateway/native, internal/gateway/rest);
// neither higher component may branch on which one is wired in.
package gateway

import (
	"context"
	"regexp"

	"github.com/agentmesh/coordinator/internal/coorderr"
)

// Row is a generic persisted record: column name to value.
type Row map[string]any

// Filter is the fixed filter-language subset every backend supports:
// equality, greater-than, greater-than-or-equal, less-than-or-
// equal, set membership, ordering, and row limit.
type Filter struct {
	Eq      map[string]any
	Gt      map[string]any
	Gte     map[string]any
	Lte     map[string]any
	In      map[string][]any
	OrderBy string
	Desc    bool
	Limit   int
}

// identifierPattern is the allowlist every backend must validate a
// column/table identifier against before interpolating it into a
// textually-built query. Both backends share it so the validation
// can't silently drift between them.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier reports whether name is safe to interpolate into
// a native-backend query string (table or column names cannot be bound
// as SQL parameters).
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return coorderr.Newf(coorderr.KindValidationFailed, "invalid identifier %q", name)
	}
	return nil
}

// Gateway is the narrow interface every coordinator component
// addresses persistence through. Any method may fail with
// coorderr.KindBackendUnavailable; callers treat that as recoverable
// and retryable and must never let it crash the process.
type Gateway interface {
	RPC(ctx context.Context, function string, params map[string]any) (any, error)
	Query(ctx context.Context, table string, filter Filter, projection []string) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table string, match Filter, patch Row) (int, error)
	Delete(ctx context.Context, table string, match Filter) error
}
