package memory

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

func TestRememberAndRecall(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, dedup, err := s.Remember(ctx, Event{
		AgentID: "a1", EventType: "bug_fix", Summary: "fixed race in worker pool",
		RelevanceScore: 0.7,
	})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if dedup {
		t.Fatal("expected first Remember() to not be deduplicated")
	}

	events, err := s.Recall(ctx, "a1", 10)
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(events) != 1 || events[0].Summary != "fixed race in worker pool" {
		t.Fatalf("Recall() = %+v, want one event", events)
	}
}

func TestRememberDeduplicatesBySummary(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	if _, _, err := s.Remember(ctx, Event{AgentID: "a1", EventType: "note", Summary: "x", RelevanceScore: 0.1}); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	_, dedup, err := s.Remember(ctx, Event{AgentID: "a1", EventType: "note", Summary: "x", RelevanceScore: 0.9})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if !dedup {
		t.Fatal("expected second Remember() with identical key to be deduplicated")
	}

	events, err := s.Recall(ctx, "a1", 10)
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(events) != 1 || events[0].RelevanceScore != 0.9 {
		t.Fatalf("Recall() = %+v, want single event with newer relevance score", events)
	}
}

func TestRecallOrdersByRelevanceDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	if _, _, err := s.Remember(ctx, Event{AgentID: "a1", EventType: "e", Summary: "low", RelevanceScore: 0.2}); err != nil {
		t.Fatalf("Remember(low) error = %v", err)
	}
	if _, _, err := s.Remember(ctx, Event{AgentID: "a1", EventType: "e", Summary: "high", RelevanceScore: 0.9}); err != nil {
		t.Fatalf("Remember(high) error = %v", err)
	}

	events, err := s.Recall(ctx, "a1", 10)
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(events) != 2 || events[0].Summary != "high" {
		t.Fatalf("Recall() = %+v, want highest relevance first", events)
	}
}
