package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverrideSweep removes overrides that expired past the grace window.
	TaskOverrideSweep = "authz:override_sweep"
	// TaskAuditRetention prunes audit records older than the retention window.
	TaskAuditRetention = "audit:retention"
)

// OverrideSweepPayload carries the grace window for the expiry sweep.
type OverrideSweepPayload struct {
	Grace time.Duration `json:"grace"`
}

// AuditRetentionPayload carries the retention window for the audit prune.
type AuditRetentionPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewOverrideSweepTask constructs an Asynq task for the override sweep.
func NewOverrideSweepTask(payload OverrideSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverrideSweep, data), nil
}

// NewAuditRetentionTask constructs an Asynq task for the audit prune.
func NewAuditRetentionTask(payload AuditRetentionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, data), nil
}
