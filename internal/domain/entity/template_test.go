package entity

import (
	"errors"
	"testing"
)

func validTemplate() *ProcessTemplate {
	return &ProcessTemplate{
		ID:   "tmpl-1",
		Name: "Expense approval",
		Steps: []StepDefinition{
			{StepID: "submit", Name: "Submit", Type: StepTypeUserTask, NextSteps: []Transition{{StepID: "review"}}},
			{StepID: "review", Name: "Review", Type: StepTypeDecision, NextSteps: []Transition{
				{Condition: "approve", StepID: "done"},
				{Condition: "reject", StepID: "submit"},
			}},
			{StepID: "done", Name: "Done", Type: StepTypeEnd},
		},
		StartStep: "submit",
		EndSteps:  []string{"done"},
	}
}

func TestTemplateValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProcessTemplate)
		wantErr bool
	}{
		{
			name:   "valid graph",
			mutate: func(tmpl *ProcessTemplate) {},
		},
		{
			name:    "no steps",
			mutate:  func(tmpl *ProcessTemplate) { tmpl.Steps = nil },
			wantErr: true,
		},
		{
			name:    "missing start step",
			mutate:  func(tmpl *ProcessTemplate) { tmpl.StartStep = "" },
			wantErr: true,
		},
		{
			name:    "start step not defined",
			mutate:  func(tmpl *ProcessTemplate) { tmpl.StartStep = "ghost" },
			wantErr: true,
		},
		{
			name: "dangling next step reference",
			mutate: func(tmpl *ProcessTemplate) {
				tmpl.Steps[0].NextSteps = []Transition{{StepID: "ghost"}}
			},
			wantErr: true,
		},
		{
			name:    "dangling end step reference",
			mutate:  func(tmpl *ProcessTemplate) { tmpl.EndSteps = []string{"ghost"} },
			wantErr: true,
		},
		{
			name: "duplicate step id",
			mutate: func(tmpl *ProcessTemplate) {
				tmpl.Steps = append(tmpl.Steps, StepDefinition{StepID: "submit", Name: "Dup"})
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := validTemplate()
			tt.mutate(tmpl)

			err := tmpl.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestTemplateLookups(t *testing.T) {
	tmpl := validTemplate()

	if def := tmpl.StepByID("review"); def == nil || def.Name != "Review" {
		t.Errorf("StepByID(review) = %+v, want the review step", def)
	}
	if def := tmpl.StepByID("ghost"); def != nil {
		t.Errorf("StepByID(ghost) = %+v, want nil", def)
	}
	if !tmpl.IsEndStep("done") {
		t.Error("IsEndStep(done) = false, want true")
	}
	if tmpl.IsEndStep("submit") {
		t.Error("IsEndStep(submit) = true, want false")
	}
}

func TestProcessInstanceCurrentSteps(t *testing.T) {
	instance := &ProcessInstance{}

	instance.AddCurrentStep("a")
	instance.AddCurrentStep("b")
	instance.AddCurrentStep("a") // idempotent
	if len(instance.CurrentSteps) != 2 {
		t.Fatalf("CurrentSteps = %v, want [a b]", instance.CurrentSteps)
	}

	instance.RemoveCurrentStep("a")
	if instance.HasCurrentStep("a") {
		t.Error("step a still present after removal")
	}
	if !instance.HasCurrentStep("b") {
		t.Error("step b lost during removal of a")
	}
}
