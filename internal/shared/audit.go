package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry represents a record stored in audit_logs. Before/After carry the
// entity state around the mutation and are persisted as JSON.
type AuditEntry struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Before   any
	After    any
	At       time.Time
}

// Execer abstracts pgxpool.Pool and pgx.Tx so audit rows can share the
// transaction of the mutation they describe.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger appends records to audit_logs. Records are never updated or
// deleted outside the retention job.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the entry using the logger's own pool.
func (l *AuditLogger) Record(ctx context.Context, entry AuditEntry) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	return l.RecordTx(ctx, l.pool, entry)
}

// RecordTx persists the entry on the given executor. Mutating services pass
// their open transaction so a failed append rolls the mutation back with it.
func (l *AuditLogger) RecordTx(ctx context.Context, exec Execer, entry AuditEntry) error {
	if l == nil || exec == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit entry requires action/entity/entity_id")
	}
	beforeJSON, err := json.Marshal(entry.Before)
	if err != nil {
		return err
	}
	afterJSON, err := json.Marshal(entry.After)
	if err != nil {
		return err
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = exec.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, before, after, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, beforeJSON, afterJSON, at)
	return err
}
