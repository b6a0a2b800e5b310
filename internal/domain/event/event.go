package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event emitted by the workflow engine
type Event struct {
	ID                string         `json:"id"`
	Type              Type           `json:"type"`
	ProcessInstanceID string         `json:"process_instance_id"`
	StepInstanceID    string         `json:"step_instance_id,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// New creates a new domain event with an auto-generated id and timestamp
func New(eventType Type, processInstanceID, stepInstanceID string, payload map[string]any) *Event {
	return &Event{
		ID:                uuid.NewString(),
		Type:              eventType,
		ProcessInstanceID: processInstanceID,
		StepInstanceID:    stepInstanceID,
		Payload:           payload,
		Timestamp:         time.Now(),
	}
}

// PayloadString retrieves a string value from the payload
func (e *Event) PayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
