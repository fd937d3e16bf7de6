package handoff

import (
	"testing"

	"github.com/agentmesh/coordinator/internal/gateway/native"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	gw, err := native.Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return New(gw)
}

func TestWriteThenRead(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	id, err := s.Write(ctx, Document{
		AgentName: "dev-1", SessionID: "sess-1", Summary: "finished the parser",
		CompletedWork: "lexer + parser", NextSteps: "add the type checker",
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if id == "" {
		t.Fatal("Write() returned empty id")
	}

	docs, err := s.Read(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(docs) != 1 || docs[0].Summary != "finished the parser" {
		t.Fatalf("Read() = %+v, want one document", docs)
	}
}

func TestWriteRejectsEmptySummary(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Write(t.Context(), Document{AgentName: "dev-1"}); err == nil {
		t.Fatal("expected error for empty summary")
	}
}

func TestReadOrdersMostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	if _, err := s.Write(ctx, Document{SessionID: "s1", Summary: "first"}); err != nil {
		t.Fatalf("Write(first) error = %v", err)
	}
	if _, err := s.Write(ctx, Document{SessionID: "s1", Summary: "second"}); err != nil {
		t.Fatalf("Write(second) error = %v", err)
	}

	docs, err := s.Read(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Read() returned %d docs, want 2", len(docs))
	}
	if docs[0].Summary != "second" {
		t.Fatalf("docs[0].Summary = %q, want most recent first", docs[0].Summary)
	}
}
