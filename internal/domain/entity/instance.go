package entity

import "time"

// ProcessInstance is one runtime execution of a process template.
// CurrentSteps holds the template step ids currently in flight; under the
// current design at most one live StepInstance exists per step id.
type ProcessInstance struct {
	ID                   string         `json:"id"`
	TemplateID           string         `json:"template_id"`
	TemplateVersion      int            `json:"template_version"`
	Name                 string         `json:"name,omitempty"`
	Status               ProcessStatus  `json:"status"`
	InitiatedBy          string         `json:"initiated_by"`
	CurrentSteps         []string       `json:"current_steps,omitempty"`
	Variables            map[string]any `json:"variables,omitempty"`
	StartDate            *time.Time     `json:"start_date,omitempty"`
	EndDate              *time.Time     `json:"end_date,omitempty"`
	CompletionPercentage int            `json:"completion_percentage"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// HasCurrentStep reports whether the template step id is currently in flight
func (p *ProcessInstance) HasCurrentStep(stepID string) bool {
	for _, id := range p.CurrentSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// AddCurrentStep adds a template step id to the in-flight set (idempotent)
func (p *ProcessInstance) AddCurrentStep(stepID string) {
	if !p.HasCurrentStep(stepID) {
		p.CurrentSteps = append(p.CurrentSteps, stepID)
	}
}

// RemoveCurrentStep removes a template step id from the in-flight set
func (p *ProcessInstance) RemoveCurrentStep(stepID string) {
	filtered := p.CurrentSteps[:0]
	for _, id := range p.CurrentSteps {
		if id != stepID {
			filtered = append(filtered, id)
		}
	}
	p.CurrentSteps = filtered
}
