package event

// Type identifies the type of domain event
type Type string

const (
	TypeProcessStarted   Type = "process.started"
	TypeProcessCompleted Type = "process.completed"
	TypeProcessCancelled Type = "process.cancelled"
	TypeStepCreated      Type = "step.created"
	TypeStepCompleted    Type = "step.completed"
	TypeStepSkipped      Type = "step.skipped"
	TypeStepAssigned     Type = "step.assigned"
	TypeStepEscalated    Type = "step.escalated"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeProcessStarted,
		TypeProcessCompleted,
		TypeProcessCancelled,
		TypeStepCreated,
		TypeStepCompleted,
		TypeStepSkipped,
		TypeStepAssigned,
		TypeStepEscalated:
		return true
	default:
		return false
	}
}
