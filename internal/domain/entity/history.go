package entity

import "time"

// ProcessHistory is an append-only audit record. Entries are never mutated
// or deleted except by the retention-cleanup sweep. PerformedBy is empty
// for system actions (e.g. scheduler-driven escalation).
type ProcessHistory struct {
	ID                int64          `json:"id"`
	ProcessInstanceID string         `json:"process_instance_id"`
	StepInstanceID    string         `json:"step_instance_id,omitempty"`
	Action            string         `json:"action"`
	PerformedBy       string         `json:"performed_by,omitempty"`
	FromStatus        string         `json:"from_status,omitempty"`
	ToStatus          string         `json:"to_status,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}
