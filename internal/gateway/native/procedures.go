package native

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/coordinator/internal/coorderr"
)

type procedureFunc func(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error)

var procedures = map[string]procedureFunc{
	"acquire_lock":            acquireLock,
	"release_lock":            releaseLock,
	"claim_task":              claimTask,
	"complete_task":           completeTask,
	"submit_task":             submitTask,
	"register_agent_session":  registerAgentSession,
	"agent_heartbeat":         agentHeartbeat,
	"cleanup_dead_agents":     cleanupDeadAgents,
	"store_episodic_memory":   storeEpisodicMemory,
	"get_relevant_memories":   getRelevantMemories,
	"write_handoff":           writeHandoff,
	"read_handoff":            readHandoff,
	"register_feature":        registerFeature,
	"deregister_feature":      deregisterFeature,
	"get_agent_profile":       getAgentProfile,
	"set_agent_trust_level":   setAgentTrustLevel,
	"get_agent_trust_level":   getAgentTrustLevel,
}

func str(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func strSlice(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func jsonOf(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// acquireLock deletes expired leases on the key, then inserts if
// absent, refreshes if the existing holder matches,
// otherwise fail with held_by_other.
func acquireLock(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	key := str(params, "key")
	holderID := str(params, "holder_id")
	holderType := str(params, "holder_type")
	sessionID := str(params, "session_id")
	reason := str(params, "reason")
	ttlSeconds := intParam(params, "ttl_seconds", 0)
	if key == "" || holderID == "" {
		return nil, coorderr.New(coorderr.KindValidationFailed, "key and holder_id are required")
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_locks WHERE key = ? AND expires_at <= ?`, key, now); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `SELECT holder_id FROM file_locks WHERE key = ?`, key)
	var existingHolder string
	err := row.Scan(&existingHolder)
	expiresAt := now.Add(time.Duration(ttlSeconds) * time.Second)

	switch {
	case err == sql.ErrNoRows:
		id := uuid.New().String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_locks (id, key, holder_id, holder_type, session_id, reason, acquired_at, expires_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, key, holderID, holderType, sessionID, reason, now, expiresAt, now); err != nil {
			return nil, err
		}
		return map[string]any{"status": "acquired", "expires_at": expiresAt}, nil
	case err != nil:
		return nil, err
	case existingHolder == holderID:
		if _, err := tx.ExecContext(ctx, `
			UPDATE file_locks SET expires_at = ?, acquired_at = ?, holder_type = ?, session_id = ?, reason = ?
			WHERE key = ?
		`, expiresAt, now, holderType, sessionID, reason, key); err != nil {
			return nil, err
		}
		return map[string]any{"status": "refreshed", "expires_at": expiresAt}, nil
	default:
		return nil, coorderr.Newf(coorderr.KindHeldByOther, "key %q is held by %q", key, existingHolder).
			WithDiagnostics(map[string]any{"locked_by": existingHolder})
	}
}

func releaseLock(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	key := str(params, "key")
	holderID := str(params, "holder_id")

	var existingHolder string
	err := tx.QueryRowContext(ctx, `SELECT holder_id FROM file_locks WHERE key = ?`, key).Scan(&existingHolder)
	if err == sql.ErrNoRows {
		return map[string]any{"status": "not_held"}, nil
	}
	if err != nil {
		return nil, err
	}
	if existingHolder != holderID {
		return map[string]any{"status": "not_held"}, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_locks WHERE key = ?`, key); err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok"}, nil
}

// claimTask selects, among pending tasks whose every dependency is
// completed and whose optional type filter matches,
// claim the lowest priority number, earliest-created first.
func claimTask(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	agent := str(params, "agent")
	types := strSlice(params, "types")

	rows, err := tx.QueryContext(ctx, `
		SELECT id, type, description, input_payload, priority, depends_on, deadline, created_at
		FROM work_queue WHERE status = 'pending' ORDER BY priority ASC, created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type candidate struct {
		id, typ, description, inputPayload, dependsOn string
		priority                                      int
		deadline                                      sql.NullTime
		createdAt                                     time.Time
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.typ, &c.description, &c.inputPayload, &c.priority, &c.dependsOn, &c.deadline, &c.createdAt); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range candidates {
		if len(types) > 0 && !contains(types, c.typ) {
			continue
		}
		var deps []string
		if err := json.Unmarshal([]byte(c.dependsOn), &deps); err != nil {
			deps = nil
		}
		satisfied, err := allDepsCompleted(ctx, tx, deps)
		if err != nil {
			return nil, err
		}
		if !satisfied {
			continue
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE work_queue SET status = 'claimed', claimed_by = ?, claimed_at = ?
			WHERE id = ? AND status = 'pending'
		`, agent, now, c.id)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			continue // raced with another claimant; try the next candidate
		}
		return map[string]any{
			"id": c.id, "type": c.typ, "description": c.description,
			"input_payload": c.inputPayload, "priority": c.priority,
			"depends_on": c.dependsOn, "claimed_by": agent, "claimed_at": now,
		}, nil
	}
	return nil, coorderr.New(coorderr.KindNotFound, "no claimable task available")
}

func allDepsCompleted(ctx context.Context, tx *sql.Tx, deps []string) (bool, error) {
	for _, dep := range deps {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM work_queue WHERE id = ?`, dep).Scan(&status)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if status != "completed" {
			return false, nil
		}
	}
	return true, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func completeTask(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	taskID := str(params, "task_id")
	agent := str(params, "agent")
	success, _ := params["success"].(bool)
	resultPayload := str(params, "result_payload")
	errorMessage := str(params, "error_message")
	blocked, _ := params["blocked"].(bool)

	var claimedBy, status string
	err := tx.QueryRowContext(ctx, `SELECT claimed_by, status FROM work_queue WHERE id = ?`, taskID).Scan(&claimedBy, &status)
	if err == sql.ErrNoRows {
		return nil, coorderr.Newf(coorderr.KindNotFound, "task %q not found", taskID)
	}
	if err != nil {
		return nil, err
	}
	if claimedBy != agent {
		return nil, coorderr.Newf(coorderr.KindAuthorizationDenied, "task %q is not held by %q", taskID, agent)
	}

	now := time.Now().UTC()
	newStatus := "failed"
	switch {
	case blocked:
		newStatus = "blocked"
	case success:
		newStatus = "completed"
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE work_queue SET status = ?, completed_at = ?, result_payload = ?, error_message = ?
		WHERE id = ?
	`, newStatus, now, resultPayload, errorMessage, taskID); err != nil {
		return nil, err
	}
	return map[string]any{"status": newStatus, "completed_at": now}, nil
}

func submitTask(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	id := str(params, "id")
	if id == "" {
		id = uuid.New().String()
	}
	taskType := str(params, "type")
	if taskType == "" {
		return nil, coorderr.New(coorderr.KindValidationFailed, "type is required")
	}
	description := str(params, "description")
	inputPayload := str(params, "input_payload")
	if inputPayload == "" {
		inputPayload = "{}"
	}
	priority := intParam(params, "priority", 5)
	dependsOn := jsonOf(params["depends_on"])
	var deadline any
	if d, ok := params["deadline"]; ok {
		deadline = d
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO work_queue (id, type, description, input_payload, priority, status, depends_on, deadline, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?, ?)
	`, id, taskType, description, inputPayload, priority, dependsOn, deadline, now); err != nil {
		return nil, err
	}
	return map[string]any{"id": id}, nil
}

func registerAgentSession(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	agentID := str(params, "agent_id")
	sessionID := str(params, "session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	agentType := str(params, "agent_type")
	capabilities := jsonOf(params["capabilities"])
	currentTask := str(params, "current_task")

	now := time.Now().UTC()
	var existingID string
	err := tx.QueryRowContext(ctx, `SELECT id FROM agent_sessions WHERE agent_id = ? AND session_id = ?`, agentID, sessionID).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		id := uuid.New().String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_sessions (id, agent_id, agent_type, session_id, capabilities, status, current_task, last_heartbeat, started_at)
			VALUES (?, ?, ?, ?, ?, 'active', ?, ?, ?)
		`, id, agentID, agentType, sessionID, capabilities, currentTask, now, now); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE agent_sessions SET agent_type = ?, capabilities = ?, status = 'active', current_task = ?, last_heartbeat = ?
			WHERE id = ?
		`, agentType, capabilities, currentTask, now, existingID); err != nil {
			return nil, err
		}
	}
	return map[string]any{"session_id": sessionID}, nil
}

func agentHeartbeat(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	sessionID := str(params, "session_id")
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE agent_sessions SET last_heartbeat = ? WHERE session_id = ?`, now, sessionID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, coorderr.Newf(coorderr.KindNotFound, "session %q not found", sessionID)
	}
	return map[string]any{"status": "ok"}, nil
}

func cleanupDeadAgents(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	stalenessSeconds := intParam(params, "staleness_seconds", 900)
	threshold := time.Now().UTC().Add(-time.Duration(stalenessSeconds) * time.Second)

	rows, err := tx.QueryContext(ctx, `
		SELECT session_id FROM agent_sessions WHERE last_heartbeat < ? AND status != 'disconnected'
	`, threshold)
	if err != nil {
		return nil, err
	}
	var staleSessions []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return nil, err
		}
		staleSessions = append(staleSessions, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE agent_sessions SET status = 'disconnected' WHERE last_heartbeat < ? AND status != 'disconnected'
	`, threshold); err != nil {
		return nil, err
	}

	locksReleased := 0
	for _, sessionID := range staleSessions {
		res, err := tx.ExecContext(ctx, `DELETE FROM file_locks WHERE session_id = ?`, sessionID)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		locksReleased += int(n)
	}

	return map[string]any{"agents_cleaned": len(staleSessions), "locks_released": locksReleased}, nil
}

// storeEpisodicMemory dedups on insert: two entries with identical
// (agent_id, event_type, summary) collapse
// with the newer relevance_score winning.
func storeEpisodicMemory(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	agentID := str(params, "agent_id")
	sessionID := str(params, "session_id")
	eventType := str(params, "event_type")
	summary := str(params, "summary")
	details := str(params, "details")
	outcome := str(params, "outcome")
	lessons := str(params, "lessons")
	tags := jsonOf(params["tags"])
	relevance := 0.0
	switch v := params["relevance_score"].(type) {
	case float64:
		relevance = v
	case int:
		relevance = float64(v)
	}

	var existingID string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM episodic_memories WHERE agent_id = ? AND event_type = ? AND summary = ?
	`, agentID, eventType, summary).Scan(&existingID)

	now := time.Now().UTC()
	switch {
	case err == sql.ErrNoRows:
		id := uuid.New().String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO episodic_memories (id, agent_id, session_id, event_type, summary, details, outcome, lessons, tags, relevance_score, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, agentID, sessionID, eventType, summary, details, outcome, lessons, tags, relevance, now); err != nil {
			return nil, err
		}
		return map[string]any{"id": id, "deduplicated": false}, nil
	case err != nil:
		return nil, err
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE episodic_memories SET session_id = ?, details = ?, outcome = ?, lessons = ?, tags = ?, relevance_score = ?, created_at = ?
			WHERE id = ?
		`, sessionID, details, outcome, lessons, tags, relevance, now, existingID); err != nil {
			return nil, err
		}
		return map[string]any{"id": existingID, "deduplicated": true}, nil
	}
}

func getRelevantMemories(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	agentID := str(params, "agent_id")
	limit := intParam(params, "limit", 20)

	query := `SELECT id, agent_id, session_id, event_type, summary, details, outcome, lessons, tags, relevance_score, created_at FROM episodic_memories`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY relevance_score DESC LIMIT ?`
	args = append(args, limit)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var id, aID, sID, eventType, summary, details, outcome, lessons, tags string
		var relevance float64
		var createdAt time.Time
		if err := rows.Scan(&id, &aID, &sID, &eventType, &summary, &details, &outcome, &lessons, &tags, &relevance, &createdAt); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			"id": id, "agent_id": aID, "session_id": sID, "event_type": eventType,
			"summary": summary, "details": details, "outcome": outcome, "lessons": lessons,
			"tags": tags, "relevance_score": relevance, "created_at": createdAt,
		})
	}
	return out, rows.Err()
}

func writeHandoff(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	summary := str(params, "summary")
	if summary == "" {
		return nil, coorderr.New(coorderr.KindValidationFailed, "summary is required")
	}
	id := uuid.New().String()
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO handoff_documents (id, agent_name, session_id, summary, completed_work, in_progress, decisions, next_steps, relevant_files, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, str(params, "agent_name"), str(params, "session_id"), summary,
		str(params, "completed_work"), str(params, "in_progress"), str(params, "decisions"),
		str(params, "next_steps"), jsonOf(params["relevant_files"]), now); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "created_at": now}, nil
}

func readHandoff(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	sessionID := str(params, "session_id")
	limit := intParam(params, "limit", 10)

	query := `SELECT id, agent_name, session_id, summary, completed_work, in_progress, decisions, next_steps, relevant_files, created_at FROM handoff_documents`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var id, agentName, sID, summary, completedWork, inProgress, decisions, nextSteps, relevantFiles string
		var createdAt time.Time
		if err := rows.Scan(&id, &agentName, &sID, &summary, &completedWork, &inProgress, &decisions, &nextSteps, &relevantFiles, &createdAt); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			"id": id, "agent_name": agentName, "session_id": sID, "summary": summary,
			"completed_work": completedWork, "in_progress": inProgress, "decisions": decisions,
			"next_steps": nextSteps, "relevant_files": relevantFiles, "created_at": createdAt,
		})
	}
	return out, rows.Err()
}

// registerFeature is idempotent by feature_id.
func registerFeature(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	featureID := str(params, "feature_id")
	if featureID == "" {
		return nil, coorderr.New(coorderr.KindValidationFailed, "feature_id is required")
	}
	now := time.Now().UTC()

	var existingID string
	err := tx.QueryRowContext(ctx, `SELECT id FROM feature_registry WHERE feature_id = ?`, featureID).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		id := uuid.New().String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO feature_registry (id, feature_id, title, status, registered_by, resource_claims, branch_name, merge_priority, metadata, created_at, updated_at)
			VALUES (?, ?, ?, 'active', ?, ?, ?, ?, ?, ?, ?)
		`, id, featureID, str(params, "title"), str(params, "registered_by"), jsonOf(params["resource_claims"]),
			str(params, "branch_name"), intParam(params, "merge_priority", 5), jsonOf(params["metadata"]), now, now); err != nil {
			return nil, err
		}
		return map[string]any{"id": id, "feature_id": featureID, "created": true}, nil
	case err != nil:
		return nil, err
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE feature_registry SET title = ?, resource_claims = ?, branch_name = ?, merge_priority = ?, updated_at = ?
			WHERE feature_id = ?
		`, str(params, "title"), jsonOf(params["resource_claims"]), str(params, "branch_name"),
			intParam(params, "merge_priority", 5), now, featureID); err != nil {
			return nil, err
		}
		return map[string]any{"id": existingID, "feature_id": featureID, "created": false}, nil
	}
}

func deregisterFeature(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	featureID := str(params, "feature_id")
	status := str(params, "status")
	if status == "" {
		status = "completed"
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE feature_registry SET status = ?, updated_at = ? WHERE feature_id = ?`, status, now, featureID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, coorderr.Newf(coorderr.KindNotFound, "feature %q not found", featureID)
	}
	return map[string]any{"status": "ok"}, nil
}

func setAgentTrustLevel(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	agentID := str(params, "agent_id")
	if agentID == "" {
		return nil, coorderr.New(coorderr.KindValidationFailed, "agent_id is required")
	}
	level := intParam(params, "trust_level", -1)
	if level < 0 {
		return nil, coorderr.New(coorderr.KindValidationFailed, "trust_level is required")
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_trust_levels (agent_id, trust_level, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET trust_level = excluded.trust_level, updated_at = excluded.updated_at
	`, agentID, level, now); err != nil {
		return nil, err
	}
	return map[string]any{"agent_id": agentID, "trust_level": level}, nil
}

func getAgentTrustLevel(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	agentID := str(params, "agent_id")
	var level int
	err := tx.QueryRowContext(ctx, `SELECT trust_level FROM agent_trust_levels WHERE agent_id = ?`, agentID).Scan(&level)
	if err == sql.ErrNoRows {
		return nil, coorderr.Newf(coorderr.KindNotFound, "no trust level recorded for agent %q", agentID)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"agent_id": agentID, "trust_level": level}, nil
}

func getAgentProfile(ctx context.Context, tx *sql.Tx, params map[string]any) (any, error) {
	agentType := str(params, "agent_type")
	var allowed, blocked string
	var maxFiles int
	err := tx.QueryRowContext(ctx, `
		SELECT allowed_operations, blocked_operations, max_file_modifications FROM agent_profiles WHERE agent_type = ?
	`, agentType).Scan(&allowed, &blocked, &maxFiles)
	if err == sql.ErrNoRows {
		return nil, coorderr.Newf(coorderr.KindNotFound, "no profile for agent type %q", agentType)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"agent_type": agentType, "allowed_operations": allowed, "blocked_operations": blocked,
		"max_file_modifications": maxFiles,
	}, nil
}
