// Package audit implements the Audit Log: a fire-and-forget immutable
// operation record. Synchronous mode inserts directly through the
// Persistence Gateway; asynchronous mode (the default) publishes to an
// embedded, in-process NATS subject and a background subscriber
// performs the insert, so the caller never blocks on persistence.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agentmesh/coordinator/internal/gateway"
)

const subject = "coordinator.audit.log"

// Entry is one immutable audit row.
type Entry struct {
	AgentID     string
	AgentType   string
	Operation   string
	Parameters  map[string]any
	Result      map[string]any
	DurationMS  int64
	Success     bool
	ErrorMessage string
}

// Logger is the Audit Log. Construct with New; Close releases the
// embedded bus if one was started.
type Logger struct {
	gw     gateway.Gateway
	async  bool
	bus    *bus
	logger zerolog.Logger
}

// New creates a Logger. When async is true, an embedded NATS server
// and a background subscriber are started; Log then only blocks long
// enough to publish, never to persist. When async is false, Log
// performs the insert itself and reports success/failure.
func New(gw gateway.Gateway, async bool) (*Logger, error) {
	l := &Logger{gw: gw, async: async, logger: log.With().Str("component", "audit").Logger()}
	if async {
		b, err := newBus()
		if err != nil {
			return nil, err
		}
		l.bus = b
		b.subscribe(func(data []byte) {
			var entry Entry
			if err := json.Unmarshal(data, &entry); err != nil {
				l.logger.Warn().Err(err).Msg("audit: dropping malformed async entry")
				return
			}
			l.insert(context.Background(), entry)
		})
	}
	return l, nil
}

// Close shuts down the embedded bus, if one is running. Safe to call
// on a synchronous Logger (no-op).
func (l *Logger) Close() {
	if l.bus != nil {
		l.bus.close()
	}
}

// Log records one operation. In async mode this returns as soon as
// the entry is published; a publish failure is logged and dropped,
// never returned to the caller. In sync mode it awaits the insert and
// returns whether it succeeded.
func (l *Logger) Log(ctx context.Context, entry Entry) error {
	if !l.async {
		return l.insert(ctx, entry)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Warn().Err(err).Msg("audit: dropping entry that failed to marshal")
		return nil
	}
	if err := l.bus.publish(subject, data); err != nil {
		l.logger.Warn().Err(err).Msg("audit: dropping entry after publish failure")
	}
	return nil
}

func (l *Logger) insert(ctx context.Context, entry Entry) error {
	paramsJSON, _ := json.Marshal(entry.Parameters)
	resultJSON, _ := json.Marshal(entry.Result)
	success := 0
	if entry.Success {
		success = 1
	}
	_, err := l.gw.Insert(ctx, "audit_log", gateway.Row{
		"id": uuid.New().String(), "agent_id": entry.AgentID, "agent_type": entry.AgentType,
		"operation": entry.Operation, "parameters": string(paramsJSON), "result": string(resultJSON),
		"duration_ms": entry.DurationMS, "success": success, "error_message": entry.ErrorMessage,
		"created_at": time.Now().UTC(),
	})
	if err != nil {
		l.logger.Warn().Err(err).Str("operation", entry.Operation).Msg("audit: insert failed, dropping")
	}
	return err
}
