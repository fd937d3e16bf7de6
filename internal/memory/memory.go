// Package memory implements Episodic Memory: tagged, deduplicated
// events agents store about their own work so a later session (of the
// same or another agent) can recall relevant history. Relevance scores
// are stored as supplied; no time-based decay is applied to them.
package memory

import (
	"context"
	"time"
)

// Gateway is the subset of gateway.Gateway the memory store needs.
type Gateway interface {
	RPC(ctx context.Context, function string, params map[string]any) (any, error)
}

// Event is a single episodic memory.
type Event struct {
	ID             string
	AgentID        string
	SessionID      string
	EventType      string
	Summary        string
	Details        string
	Outcome        string
	Lessons        string
	Tags           []string
	RelevanceScore float64
	CreatedAt      time.Time
}

// Store is the Episodic Memory store.
type Store struct {
	gw Gateway
}

// New creates an Episodic Memory store over the given Gateway.
func New(gw Gateway) *Store {
	return &Store{gw: gw}
}

// Remember stores an event. An event with the same (agent, event
// type, summary) as an existing one is deduplicated in place, with
// the newer relevance score winning — the recall ranking reflects how
// relevant this kind of event is now, not how many times it recurred.
func (s *Store) Remember(ctx context.Context, e Event) (id string, deduplicated bool, err error) {
	res, err := s.gw.RPC(ctx, "store_episodic_memory", map[string]any{
		"agent_id": e.AgentID, "session_id": e.SessionID, "event_type": e.EventType,
		"summary": e.Summary, "details": e.Details, "outcome": e.Outcome, "lessons": e.Lessons,
		"tags": e.Tags, "relevance_score": e.RelevanceScore,
	})
	if err != nil {
		return "", false, err
	}
	m := res.(map[string]any)
	return m["id"].(string), m["deduplicated"].(bool), nil
}

// Recall returns the most relevant memories for an agent, ordered by
// relevance score descending.
func (s *Store) Recall(ctx context.Context, agentID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	res, err := s.gw.RPC(ctx, "get_relevant_memories", map[string]any{"agent_id": agentID, "limit": limit})
	if err != nil {
		return nil, err
	}
	rows := res.([]map[string]any)
	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, Event{
			ID: str(r["id"]), AgentID: str(r["agent_id"]), SessionID: str(r["session_id"]),
			EventType: str(r["event_type"]), Summary: str(r["summary"]), Details: str(r["details"]),
			Outcome: str(r["outcome"]), Lessons: str(r["lessons"]),
			RelevanceScore: asFloat(r["relevance_score"]), CreatedAt: asTime(r["created_at"]),
		})
	}
	return events, nil
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asFloat(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}
