package audit

import (
	"encoding/json"
	"time"
)

// Record is one immutable audit_logs row.
type Record struct {
	ID         int64           `json:"id"`
	ActorID    string          `json:"actorId"`
	Action     string          `json:"action"`
	Entity     string          `json:"entity"`
	EntityID   string          `json:"entityId"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Filter narrows a timeline query. Zero fields match everything.
type Filter struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}
