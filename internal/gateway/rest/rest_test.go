package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentmesh/coordinator/internal/coorderr"
	"github.com/agentmesh/coordinator/internal/gateway"
)

func TestInsertSendsRowAndDecodesResponse(t *testing.T) {
	var gotPath string
	var gotBody gateway.Row

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(gotBody)
	}))
	defer srv.Close()

	g := New(srv.URL, "/api/v1")
	row, err := g.Insert(t.Context(), "handoff_documents", gateway.Row{"id": "h1", "summary": "x"})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if gotPath != "/api/v1/insert/handoff_documents" {
		t.Errorf("path = %q, want /api/v1/insert/handoff_documents", gotPath)
	}
	if row["id"] != "h1" {
		t.Errorf("row[id] = %v, want h1", row["id"])
	}
}

func TestServiceUnavailableMapsToBackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := New(srv.URL, "/api/v1")
	_, err := g.Query(t.Context(), "work_queue", gateway.Filter{}, nil)
	if !coorderr.Is(err, coorderr.KindBackendUnavailable) {
		t.Fatalf("expected backend_unavailable, got %v", err)
	}
}

func TestRejectsUnsafeTableName(t *testing.T) {
	g := New("http://example.invalid", "/api/v1")
	_, err := g.Query(t.Context(), "bad; drop table x", gateway.Filter{}, nil)
	if !coorderr.Is(err, coorderr.KindValidationFailed) {
		t.Fatalf("expected validation_failed, got %v", err)
	}
}
