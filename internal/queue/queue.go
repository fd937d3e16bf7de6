// Package queue implements the Work Queue: priority-and-FIFO task
// submission and atomic, dependency-gated claiming, with guardrail
// checkpoints at submit, claim, and complete.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentmesh/coordinator/internal/coorderr"
	"github.com/agentmesh/coordinator/internal/gateway"
	"github.com/agentmesh/coordinator/internal/guardrails"
)

// Guardrails is the subset of the Guardrails Engine the queue needs.
type Guardrails interface {
	CheckOperation(ctx context.Context, text string, filePaths []string, trustLevel int, agent string) guardrails.Result
}

// TrustLookup resolves an agent's trust level for guardrail checks.
type TrustLookup interface {
	TrustLevel(ctx context.Context, agentID string) (int, error)
}

const maxPageSize = 100

// Task is a work-queue item.
type Task struct {
	ID            string
	Type          string
	Description   string
	InputPayload  string
	Priority      int
	Status        string
	ClaimedBy     string
	ClaimedAt     time.Time
	CompletedAt   time.Time
	ResultPayload string
	ErrorMessage  string
	DependsOn     []string
	Deadline      time.Time
	CreatedAt     time.Time
}

// Service is the Work Queue.
type Service struct {
	gw         gateway.Gateway
	guardrails Guardrails
	trust      TrustLookup
}

// New creates a Work Queue over the given Gateway.
func New(gw gateway.Gateway, guardrails Guardrails, trust TrustLookup) *Service {
	return &Service{gw: gw, guardrails: guardrails, trust: trust}
}

// Submit enqueues a new task. It is rejected before it ever
// reaches persistence if its description or serialized input trips a
// block pattern at the submitting agent's trust level.
func (s *Service) Submit(ctx context.Context, agent, taskType, description string, input map[string]any, priority int, dependsOn []string, deadline *time.Time) (string, error) {
	if taskType == "" {
		return "", coorderr.New(coorderr.KindValidationFailed, "task type is required")
	}

	trust, err := s.trust.TrustLevel(ctx, agent)
	if err != nil {
		return "", err
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", coorderr.Wrap(coorderr.KindValidationFailed, "marshal task input", err)
	}
	if res := s.guardrails.CheckOperation(ctx, description+" "+string(inputJSON), nil, trust, agent); !res.Safe {
		return "", coorderr.New(coorderr.KindDestructiveOperationBlock, "submitted task trips a guardrail block pattern")
	}

	params := map[string]any{
		"type": taskType, "description": description, "input_payload": string(inputJSON),
		"priority": priority, "depends_on": dependsOn,
	}
	if deadline != nil {
		params["deadline"] = *deadline
	}
	res, err := s.gw.RPC(ctx, "submit_task", params)
	if err != nil {
		return "", err
	}
	return res.(map[string]any)["id"].(string), nil
}

// Claim atomically selects by priority then creation time among
// dependency-satisfied pending tasks, re-scanned
// by guardrails at the claiming agent's trust level.
func (s *Service) Claim(ctx context.Context, agent string, types []string) (*Task, error) {
	trust, err := s.trust.TrustLevel(ctx, agent)
	if err != nil {
		return nil, err
	}

	res, err := s.gw.RPC(ctx, "claim_task", map[string]any{"agent": agent, "types": types})
	if err != nil {
		if coorderr.Is(err, coorderr.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	m := res.(map[string]any)
	task := taskFromRPC(m)

	if guard := s.guardrails.CheckOperation(ctx, task.Description+" "+task.InputPayload, nil, trust, agent); !guard.Safe {
		if _, err := s.gw.Update(ctx, "work_queue", gateway.Filter{Eq: map[string]any{"id": task.ID}}, gateway.Row{
			"status": "pending", "claimed_by": nil, "claimed_at": nil,
			"error_message": "destructive_operation_blocked",
		}); err != nil {
			return nil, err
		}
		return nil, coorderr.New(coorderr.KindDestructiveOperationBlock, "claimed task trips a guardrail block pattern, returned to pending")
	}

	return &task, nil
}

// Complete marks a claimed task done. Only the claimed holder may
// complete its own task; the result payload is guardrail-scanned at
// the completing agent's trust level before the task is marked
// completed.
func (s *Service) Complete(ctx context.Context, taskID, agent string, success bool, result map[string]any, errMsg string) (string, error) {
	trust, err := s.trust.TrustLevel(ctx, agent)
	if err != nil {
		return "", err
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", coorderr.Wrap(coorderr.KindValidationFailed, "marshal task result", err)
	}

	blocked := false
	if success {
		if guard := s.guardrails.CheckOperation(ctx, string(resultJSON), nil, trust, agent); !guard.Safe {
			blocked = true
		}
	}

	res, err := s.gw.RPC(ctx, "complete_task", map[string]any{
		"task_id": taskID, "agent": agent, "success": success && !blocked,
		"blocked": blocked, "result_payload": string(resultJSON), "error_message": errMsg,
	})
	if err != nil {
		return "", err
	}
	return res.(map[string]any)["status"].(string), nil
}

// GetPending lists pending tasks, optionally filtered by type.
// Results are capped at 100; callers needing more must page by
// priority window themselves.
func (s *Service) GetPending(ctx context.Context, types []string, limit int) ([]Task, error) {
	limit = clampLimit(limit)
	filter := gateway.Filter{Eq: map[string]any{"status": "pending"}, OrderBy: "priority", Limit: limit}
	if len(types) > 0 {
		anyTypes := make([]any, len(types))
		for i, t := range types {
			anyTypes[i] = t
		}
		filter.In = map[string][]any{"type": anyTypes}
	}
	rows, err := s.gw.Query(ctx, "work_queue", filter, nil)
	if err != nil {
		return nil, err
	}
	return tasksFromRows(rows), nil
}

// GetMyTasks lists tasks claimed by agent, optionally including
// completed/failed/blocked ones.
func (s *Service) GetMyTasks(ctx context.Context, agent string, includeCompleted bool, limit int) ([]Task, error) {
	limit = clampLimit(limit)
	filter := gateway.Filter{Eq: map[string]any{"claimed_by": agent}, OrderBy: "created_at", Desc: true, Limit: limit}
	rows, err := s.gw.Query(ctx, "work_queue", filter, nil)
	if err != nil {
		return nil, err
	}
	tasks := tasksFromRows(rows)
	if includeCompleted {
		return tasks, nil
	}
	active := tasks[:0]
	for _, t := range tasks {
		if t.Status == "claimed" {
			active = append(active, t)
		}
	}
	return active, nil
}

// GetTask fetches a single task by id.
func (s *Service) GetTask(ctx context.Context, id string) (*Task, error) {
	rows, err := s.gw.Query(ctx, "work_queue", gateway.Filter{Eq: map[string]any{"id": id}}, nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, coorderr.Newf(coorderr.KindNotFound, "task %q not found", id)
	}
	tasks := tasksFromRows(rows)
	return &tasks[0], nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func taskFromRPC(m map[string]any) Task {
	var deps []string
	if ds, ok := m["depends_on"].(string); ok {
		_ = json.Unmarshal([]byte(ds), &deps)
	}
	return Task{
		ID: str(m["id"]), Type: str(m["type"]), Description: str(m["description"]),
		InputPayload: str(m["input_payload"]), Priority: asInt(m["priority"]),
		ClaimedBy: str(m["claimed_by"]), DependsOn: deps, Status: "claimed",
	}
}

func tasksFromRows(rows []gateway.Row) []Task {
	tasks := make([]Task, 0, len(rows))
	for _, r := range rows {
		var deps []string
		if ds, ok := r["depends_on"].(string); ok {
			_ = json.Unmarshal([]byte(ds), &deps)
		}
		tasks = append(tasks, Task{
			ID: str(r["id"]), Type: str(r["type"]), Description: str(r["description"]),
			InputPayload: str(r["input_payload"]), Priority: asInt(r["priority"]),
			Status: str(r["status"]), ClaimedBy: str(r["claimed_by"]),
			ResultPayload: str(r["result_payload"]), ErrorMessage: str(r["error_message"]),
			DependsOn: deps, CreatedAt: asTime(r["created_at"]),
		})
	}
	return tasks
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
