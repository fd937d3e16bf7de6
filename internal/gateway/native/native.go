// Package native implements the Persistence Gateway against a native
// SQL connection pool (modernc.org/sqlite — cgo-free, so the
// coordinator binary can be shipped to several cooperating machines
// without a C toolchain). Identifiers are validated against the
// gateway package's allowlist before any textual interpolation;
// values are always bound as parameters.
package native

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentmesh/coordinator/internal/coorderr"
	"github.com/agentmesh/coordinator/internal/gateway"
)

//go:embed schema.sql
var schemaSQL string

// Gateway is the native, SQLite-pool-backed Persistence Gateway.
type Gateway struct {
	db *sql.DB
}

// Open creates a native Gateway against the given DSN (a file path, or
// ":memory:" for tests), running migrations before returning.
func Open(dsn string) (*Gateway, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, coorderr.Wrap(coorderr.KindBackendUnavailable, "open sqlite", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single writer avoids SQLITE_BUSY under our own retry-less calls
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, coorderr.Wrap(coorderr.KindBackendUnavailable, "apply schema", err)
	}
	return &Gateway{db: db}, nil
}

// Close releases the underlying connection pool.
func (g *Gateway) Close() error { return g.db.Close() }

var _ gateway.Gateway = (*Gateway)(nil)

func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return coorderr.Wrap(coorderr.KindBackendUnavailable, "native gateway", err)
}

// buildWhere turns a Filter into a parameterized SQL WHERE clause.
// Every column name is validated against the identifier allowlist
// before being interpolated.
func buildWhere(f gateway.Filter) (string, []any, error) {
	var clauses []string
	var args []any

	add := func(col, op string, val any) error {
		if err := gateway.ValidateIdentifier(col); err != nil {
			return err
		}
		clauses = append(clauses, fmt.Sprintf("%s %s ?", col, op))
		args = append(args, val)
		return nil
	}

	for col, val := range f.Eq {
		if err := add(col, "=", val); err != nil {
			return "", nil, err
		}
	}
	for col, val := range f.Gt {
		if err := add(col, ">", val); err != nil {
			return "", nil, err
		}
	}
	for col, val := range f.Gte {
		if err := add(col, ">=", val); err != nil {
			return "", nil, err
		}
	}
	for col, val := range f.Lte {
		if err := add(col, "<=", val); err != nil {
			return "", nil, err
		}
	}
	for col, vals := range f.In {
		if err := gateway.ValidateIdentifier(col); err != nil {
			return "", nil, err
		}
		if len(vals) == 0 {
			clauses = append(clauses, "1 = 0")
			continue
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, placeholders))
		args = append(args, vals...)
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	return where, args, nil
}

func buildSuffix(f gateway.Filter) (string, error) {
	var b strings.Builder
	if f.OrderBy != "" {
		if err := gateway.ValidateIdentifier(f.OrderBy); err != nil {
			return "", err
		}
		dir := "ASC"
		if f.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", f.OrderBy, dir)
	}
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
	}
	return b.String(), nil
}

// Query implements gateway.Gateway.
func (g *Gateway) Query(ctx context.Context, table string, filter gateway.Filter, projection []string) ([]gateway.Row, error) {
	if err := gateway.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	cols := "*"
	if len(projection) > 0 {
		for _, c := range projection {
			if err := gateway.ValidateIdentifier(c); err != nil {
				return nil, err
			}
		}
		cols = strings.Join(projection, ", ")
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}
	suffix, err := buildSuffix(filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s %s%s", cols, table, where, suffix)
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return nil, wrapUnavailable(err)
	}

	var result []gateway.Row
	for rows.Next() {
		vals := make([]any, len(colNames))
		ptrs := make([]any, len(colNames))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, wrapUnavailable(err)
		}
		row := make(gateway.Row, len(colNames))
		for i, name := range colNames {
			row[name] = vals[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapUnavailable(err)
	}
	return result, nil
}

// Insert implements gateway.Gateway. If the row omits created_at, the
// current time is stamped in.
func (g *Gateway) Insert(ctx context.Context, table string, row gateway.Row) (gateway.Row, error) {
	if err := gateway.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	if _, ok := row["created_at"]; !ok {
		if _, hasCol := schemaHasCreatedAt[table]; hasCol {
			row = cloneRow(row)
			row["created_at"] = time.Now().UTC()
		}
	}

	cols := make([]string, 0, len(row))
	placeholders := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for col, val := range row {
		if err := gateway.ValidateIdentifier(col); err != nil {
			return nil, err
		}
		cols = append(cols, col)
		placeholders = append(placeholders, "?")
		args = append(args, val)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := g.db.ExecContext(ctx, query, args...); err != nil {
		return nil, wrapUnavailable(err)
	}
	return row, nil
}

// schemaHasCreatedAt lists tables whose schema carries a created_at
// column, so Insert only auto-stamps where the column actually exists.
var schemaHasCreatedAt = map[string]struct{}{
	"file_locks": {}, "work_queue": {}, "feature_registry": {}, "handoff_documents": {},
	"episodic_memories": {}, "guardrail_violations": {}, "audit_log": {},
}

func cloneRow(row gateway.Row) gateway.Row {
	out := make(gateway.Row, len(row)+1)
	for k, v := range row {
		out[k] = v
	}
	return out
}

// Update implements gateway.Gateway.
func (g *Gateway) Update(ctx context.Context, table string, match gateway.Filter, patch gateway.Row) (int, error) {
	if err := gateway.ValidateIdentifier(table); err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, coorderr.New(coorderr.KindValidationFailed, "update requires a non-empty patch")
	}

	setClauses := make([]string, 0, len(patch))
	args := make([]any, 0, len(patch)+4)
	for col, val := range patch {
		if err := gateway.ValidateIdentifier(col); err != nil {
			return 0, err
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", col))
		args = append(args, val)
	}

	where, whereArgs, err := buildWhere(match)
	if err != nil {
		return 0, err
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s %s", table, strings.Join(setClauses, ", "), where)
	res, err := g.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	return int(affected), nil
}

// Delete implements gateway.Gateway.
func (g *Gateway) Delete(ctx context.Context, table string, match gateway.Filter) error {
	if err := gateway.ValidateIdentifier(table); err != nil {
		return err
	}
	where, args, err := buildWhere(match)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s %s", table, where)
	if _, err := g.db.ExecContext(ctx, query, args...); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// RPC implements gateway.Gateway, dispatching to the atomic stored
// procedures below. Each procedure runs inside a single transaction so
// higher components see all-or-nothing semantics.
func (g *Gateway) RPC(ctx context.Context, function string, params map[string]any) (any, error) {
	proc, ok := procedures[function]
	if !ok {
		return nil, coorderr.Newf(coorderr.KindValidationFailed, "unknown procedure %q", function)
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	result, err := proc(ctx, tx, params)
	if err != nil {
		tx.Rollback()
		if isCoordError(err) {
			return nil, err
		}
		return nil, wrapUnavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapUnavailable(err)
	}
	return result, nil
}

// isCoordError reports whether err already carries one of the
// non-transient structured kinds a procedure can legitimately return;
// those propagate as-is instead of being folded into
// backend_unavailable.
func isCoordError(err error) bool {
	for _, k := range []coorderr.Kind{
		coorderr.KindNotFound, coorderr.KindHeldByOther, coorderr.KindDependencyUnsatisfied,
		coorderr.KindValidationFailed, coorderr.KindPreconditionFailed, coorderr.KindAuthorizationDenied,
		coorderr.KindBackendUnavailable,
	} {
		if coorderr.Is(err, k) {
			return true
		}
	}
	return false
}
