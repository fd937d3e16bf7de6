package native

import (
	"context"
	"testing"

	"github.com/agentmesh/coordinator/internal/coorderr"
	"github.com/agentmesh/coordinator/internal/gateway"
)

func openTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestInsertQueryRoundtrip(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	row, err := g.Insert(ctx, "handoff_documents", gateway.Row{
		"id": "h1", "agent_name": "dev-1", "session_id": "sess-1",
		"summary": "did the thing", "relevant_files": "[]",
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if row["id"] != "h1" {
		t.Fatalf("Insert() row id = %v, want h1", row["id"])
	}

	rows, err := g.Query(ctx, "handoff_documents", gateway.Filter{Eq: map[string]any{"session_id": "sess-1"}}, nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 1 || rows[0]["summary"] != "did the thing" {
		t.Fatalf("Query() = %v, want one row with summary 'did the thing'", rows)
	}
}

func TestRejectsUnsafeIdentifier(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	_, err := g.Query(ctx, "handoff_documents; DROP TABLE handoff_documents", gateway.Filter{}, nil)
	if !coorderr.Is(err, coorderr.KindValidationFailed) {
		t.Fatalf("expected validation_failed for unsafe table name, got %v", err)
	}
}

func TestAcquireLockExclusivity(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	res1, err := g.RPC(ctx, "acquire_lock", map[string]any{"key": "src/a.py", "holder_id": "alpha", "ttl_seconds": 300})
	if err != nil {
		t.Fatalf("first acquire error = %v", err)
	}
	if res1.(map[string]any)["status"] != "acquired" {
		t.Fatalf("expected first acquire to report acquired, got %v", res1)
	}

	res2, err := g.RPC(ctx, "acquire_lock", map[string]any{"key": "src/a.py", "holder_id": "alpha", "ttl_seconds": 300})
	if err != nil {
		t.Fatalf("re-acquire error = %v", err)
	}
	if res2.(map[string]any)["status"] != "refreshed" {
		t.Fatalf("expected re-acquire to report refreshed, got %v", res2)
	}

	_, err = g.RPC(ctx, "acquire_lock", map[string]any{"key": "src/a.py", "holder_id": "beta", "ttl_seconds": 300})
	if !coorderr.Is(err, coorderr.KindHeldByOther) {
		t.Fatalf("expected held_by_other for a competing holder, got %v", err)
	}
}

func TestClaimTaskUnknownProcedureRejected(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	_, err := g.RPC(ctx, "not_a_real_procedure", nil)
	if !coorderr.Is(err, coorderr.KindValidationFailed) {
		t.Fatalf("expected validation_failed for unknown procedure, got %v", err)
	}
}

func TestMemoryDeduplication(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	_, err := g.RPC(ctx, "store_episodic_memory", map[string]any{
		"agent_id": "a1", "event_type": "error", "summary": "db timeout", "relevance_score": 0.4,
	})
	if err != nil {
		t.Fatalf("first store error = %v", err)
	}
	res, err := g.RPC(ctx, "store_episodic_memory", map[string]any{
		"agent_id": "a1", "event_type": "error", "summary": "db timeout", "relevance_score": 0.9,
	})
	if err != nil {
		t.Fatalf("second store error = %v", err)
	}
	if res.(map[string]any)["deduplicated"] != true {
		t.Fatalf("expected second store to report deduplicated, got %v", res)
	}

	memories, err := g.RPC(ctx, "get_relevant_memories", map[string]any{"agent_id": "a1", "limit": 10})
	if err != nil {
		t.Fatalf("get_relevant_memories error = %v", err)
	}
	rows := memories.([]map[string]any)
	if len(rows) != 1 {
		t.Fatalf("expected exactly one deduplicated memory row, got %d", len(rows))
	}
	if rows[0]["relevance_score"] != 0.9 {
		t.Fatalf("expected newer relevance_score to win, got %v", rows[0]["relevance_score"])
	}
}
