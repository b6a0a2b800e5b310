package entity

import "time"

// Notification is an outbox row: appended transactionally with the state
// change that caused it, then drained asynchronously. Delivery failures
// are recorded on the row and retried, never propagated to the engine.
type Notification struct {
	ID             int64      `json:"id"`
	UserID         string     `json:"user_id"`
	Type           string     `json:"type"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	RelatedProcess string     `json:"related_process,omitempty"`
	RelatedStep    string     `json:"related_step,omitempty"`
	Priority       string     `json:"priority"`
	Status         string     `json:"status"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	Attempts       int        `json:"attempts"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
