package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// AuditPruner deletes audit records older than the retention window.
type AuditPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// NewAuditRetentionHandler returns the asynq handler for TaskAuditRetention.
func NewAuditRetentionHandler(logger *slog.Logger, pruner AuditPruner) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AuditRetentionPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Retention <= 0 {
			return asynq.SkipRetry
		}
		removed, err := pruner.Prune(ctx, payload.Retention)
		if err != nil {
			logger.Error("audit retention", slog.Any("error", err))
			return err
		}
		logger.Info("audit retention done", slog.Int64("removed", removed))
		return nil
	}
}
