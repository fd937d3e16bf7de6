// Package handoff implements the Handoff Store: an append-only log of
// session-transition documents agents leave for whoever picks up their
// work next.
package handoff

import (
	"context"
	"time"

	"github.com/agentmesh/coordinator/internal/coorderr"
)

// Gateway is the subset of gateway.Gateway the handoff store needs.
type Gateway interface {
	RPC(ctx context.Context, function string, params map[string]any) (any, error)
}

// Document is a single handoff record.
type Document struct {
	ID            string
	AgentName     string
	SessionID     string
	Summary       string
	CompletedWork string
	InProgress    string
	Decisions     string
	NextSteps     string
	RelevantFiles []string
	CreatedAt     time.Time
}

// Store is the Handoff Store.
type Store struct {
	gw Gateway
}

// New creates a Handoff Store over the given Gateway.
func New(gw Gateway) *Store {
	return &Store{gw: gw}
}

// Write appends a handoff document. Summary is required; everything
// else is optional context for the next agent.
func (s *Store) Write(ctx context.Context, doc Document) (string, error) {
	if doc.Summary == "" {
		return "", coorderr.New(coorderr.KindValidationFailed, "summary is required")
	}
	res, err := s.gw.RPC(ctx, "write_handoff", map[string]any{
		"agent_name": doc.AgentName, "session_id": doc.SessionID, "summary": doc.Summary,
		"completed_work": doc.CompletedWork, "in_progress": doc.InProgress,
		"decisions": doc.Decisions, "next_steps": doc.NextSteps, "relevant_files": doc.RelevantFiles,
	})
	if err != nil {
		return "", err
	}
	return res.(map[string]any)["id"].(string), nil
}

// Read returns the most recent handoff documents, most recent first,
// optionally scoped to a session.
func (s *Store) Read(ctx context.Context, sessionID string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 10
	}
	res, err := s.gw.RPC(ctx, "read_handoff", map[string]any{"session_id": sessionID, "limit": limit})
	if err != nil {
		return nil, err
	}
	rows := res.([]map[string]any)
	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, Document{
			ID: str(r["id"]), AgentName: str(r["agent_name"]), SessionID: str(r["session_id"]),
			Summary: str(r["summary"]), CompletedWork: str(r["completed_work"]),
			InProgress: str(r["in_progress"]), Decisions: str(r["decisions"]),
			NextSteps: str(r["next_steps"]), CreatedAt: asTime(r["created_at"]),
		})
	}
	return docs, nil
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}
