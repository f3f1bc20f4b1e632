package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads and prunes audit_logs. Writes happen through
// shared.AuditLogger on the mutating transactions.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns one page of records, newest first, plus a flag telling whether
// another page follows.
func (r *Repository) List(ctx context.Context, f Filter) ([]Record, bool, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.From != nil {
		add("occurred_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("occurred_at < $%d", *f.To)
	}

	query := `SELECT id, actor_id, action, entity, entity_id, before, after, occurred_at
	          FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.PageSize+1, (f.Page-1)*f.PageSize)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	records := make([]Record, 0, f.PageSize)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.Action, &rec.Entity, &rec.EntityID,
			&rec.Before, &rec.After, &rec.OccurredAt); err != nil {
			return nil, false, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasNext := len(records) > f.PageSize
	if hasNext {
		records = records[:f.PageSize]
	}
	return records, hasNext, nil
}

// Prune deletes records older than the cutoff and reports how many went.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
