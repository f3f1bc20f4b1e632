package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// OverrideSweeper removes expired overrides and reports how many went.
type OverrideSweeper interface {
	SweepExpired(ctx context.Context, grace time.Duration) (int64, error)
}

// NewOverrideSweepHandler returns the asynq handler for TaskOverrideSweep.
func NewOverrideSweepHandler(logger *slog.Logger, sweeper OverrideSweeper) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload OverrideSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		removed, err := sweeper.SweepExpired(ctx, payload.Grace)
		if err != nil {
			logger.Error("override sweep", slog.Any("error", err))
			return err
		}
		logger.Info("override sweep done",
			slog.Int64("removed", removed),
			slog.Duration("grace", payload.Grace))
		return nil
	}
}
