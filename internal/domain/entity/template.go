package entity

import (
	"fmt"
	"time"
)

// Transition is a named outgoing edge of a step definition. An empty
// condition (or the literal "true") is treated as always satisfied.
type Transition struct {
	Condition string `json:"condition,omitempty"`
	StepID    string `json:"step_id"`
}

// StepDefinition describes one node of a process template graph
type StepDefinition struct {
	StepID         string       `json:"step_id"`
	Name           string       `json:"name"`
	Type           StepType     `json:"type"`
	AssigneeType   AssigneeType `json:"assignee_type"`
	Assignees      []string     `json:"assignees,omitempty"`
	NextSteps      []Transition `json:"next_steps,omitempty"`
	TimeLimitHours int          `json:"time_limit_hours,omitempty"` // 0 means no due date
	AutoComplete   bool         `json:"auto_complete,omitempty"`
}

// ProcessTemplate is a versioned definition of a task graph.
// It is mutable while in draft and frozen once published; edits to a
// published template require a new version.
type ProcessTemplate struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Version     int              `json:"version"`
	Status      TemplateStatus   `json:"status"`
	Steps       []StepDefinition `json:"steps"`
	StartStep   string           `json:"start_step"`
	EndSteps    []string         `json:"end_steps,omitempty"`
	CreatedBy   string           `json:"created_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// StepByID returns the step definition with the given id, or nil
func (t *ProcessTemplate) StepByID(stepID string) *StepDefinition {
	for i := range t.Steps {
		if t.Steps[i].StepID == stepID {
			return &t.Steps[i]
		}
	}
	return nil
}

// IsEndStep returns true if the step id belongs to the template's end set
func (t *ProcessTemplate) IsEndStep(stepID string) bool {
	for _, id := range t.EndSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// Validate checks the template graph for dangling references. The start
// step and every step id referenced by next_steps or end_steps must exist
// among the defined steps. Violations surface here, never at runtime.
func (t *ProcessTemplate) Validate() error {
	if len(t.Steps) == 0 {
		return fmt.Errorf("%w: template %s has no steps", ErrValidation, t.ID)
	}

	defined := make(map[string]bool, len(t.Steps))
	for _, step := range t.Steps {
		if step.StepID == "" {
			return fmt.Errorf("%w: template %s has a step with empty id", ErrValidation, t.ID)
		}
		if defined[step.StepID] {
			return fmt.Errorf("%w: duplicate step id %s", ErrValidation, step.StepID)
		}
		defined[step.StepID] = true
	}

	if t.StartStep == "" {
		return fmt.Errorf("%w: template %s has no start step", ErrValidation, t.ID)
	}
	if !defined[t.StartStep] {
		return fmt.Errorf("%w: start step %s is not defined", ErrValidation, t.StartStep)
	}

	for _, step := range t.Steps {
		for _, next := range step.NextSteps {
			if !defined[next.StepID] {
				return fmt.Errorf("%w: step %s references undefined step %s", ErrValidation, step.StepID, next.StepID)
			}
		}
	}

	for _, id := range t.EndSteps {
		if !defined[id] {
			return fmt.Errorf("%w: end step %s is not defined", ErrValidation, id)
		}
	}

	return nil
}
