package entity

import "time"

// EscalationRecord is one entry in a step's escalation history
type EscalationRecord struct {
	Level       int       `json:"level"`
	EscalatedTo string    `json:"escalated_to"`
	At          time.Time `json:"at"`
	Reason      string    `json:"reason,omitempty"`
}

// StepInstance is one execution unit of a template step within a process
// instance. Escalation mutates only the Escalated/EscalationLevel/
// EscalationHistory fields, never Status; an eventual reassignment may
// reset in_progress back to pending.
type StepInstance struct {
	ID                string             `json:"id"`
	ProcessInstanceID string             `json:"process_instance_id"`
	StepID            string             `json:"step_id"`
	Name              string             `json:"name,omitempty"`
	Type              StepType           `json:"type"`
	Status            StepStatus         `json:"status"`
	AssignedTo        string             `json:"assigned_to,omitempty"`
	AssignedRole      string             `json:"assigned_role,omitempty"`
	AssignedDept      string             `json:"assigned_department,omitempty"`
	DueDate           *time.Time         `json:"due_date,omitempty"`
	Escalated         bool               `json:"escalated"`
	EscalationLevel   int                `json:"escalation_level"`
	EscalationHistory []EscalationRecord `json:"escalation_history,omitempty"`
	FormData          map[string]any     `json:"form_data,omitempty"`
	Variables         map[string]any     `json:"variables,omitempty"`
	StartDate         *time.Time         `json:"start_date,omitempty"`
	EndDate           *time.Time         `json:"end_date,omitempty"`
	CompletedBy       string             `json:"completed_by,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// IsOverdue reports whether the step is still live past its due date
func (s *StepInstance) IsOverdue(now time.Time) bool {
	return s.Status.IsLive() && s.DueDate != nil && s.DueDate.Before(now)
}

// MergeFormData merges submitted form data into the step's form data
func (s *StepInstance) MergeFormData(data map[string]any) {
	if len(data) == 0 {
		return
	}
	if s.FormData == nil {
		s.FormData = make(map[string]any, len(data))
	}
	for k, v := range data {
		s.FormData[k] = v
	}
}

// SetVariable stores a runtime variable on the step
func (s *StepInstance) SetVariable(key string, value any) {
	if s.Variables == nil {
		s.Variables = make(map[string]any)
	}
	s.Variables[key] = value
}
