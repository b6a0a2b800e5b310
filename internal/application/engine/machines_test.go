package engine

import (
	"context"
	"testing"

	"github.com/workstream-io/workstream/internal/domain/entity"
	"github.com/workstream-io/workstream/internal/domain/machine"
)

func TestBuildProcessMachine(t *testing.T) {
	tests := []struct {
		name      string
		initial   entity.ProcessStatus
		trigger   machine.Trigger
		wantState entity.ProcessStatus
		wantError bool
	}{
		{
			name:      "draft -> active on START",
			initial:   entity.ProcessStatusDraft,
			trigger:   TriggerStart,
			wantState: entity.ProcessStatusActive,
		},
		{
			name:      "active -> completed on COMPLETE",
			initial:   entity.ProcessStatusActive,
			trigger:   TriggerComplete,
			wantState: entity.ProcessStatusCompleted,
		},
		{
			name:      "active -> cancelled on CANCEL",
			initial:   entity.ProcessStatusActive,
			trigger:   TriggerCancel,
			wantState: entity.ProcessStatusCancelled,
		},
		{
			name:      "active -> suspended on SUSPEND",
			initial:   entity.ProcessStatusActive,
			trigger:   TriggerSuspend,
			wantState: entity.ProcessStatusSuspended,
		},
		{
			name:      "suspended -> active on RESUME",
			initial:   entity.ProcessStatusSuspended,
			trigger:   TriggerResume,
			wantState: entity.ProcessStatusActive,
		},
		{
			name:      "suspended -> cancelled on CANCEL",
			initial:   entity.ProcessStatusSuspended,
			trigger:   TriggerCancel,
			wantState: entity.ProcessStatusCancelled,
		},
		{
			name:      "draft cannot complete",
			initial:   entity.ProcessStatusDraft,
			trigger:   TriggerComplete,
			wantState: entity.ProcessStatusDraft,
			wantError: true,
		},
		{
			name:      "completed is terminal",
			initial:   entity.ProcessStatusCompleted,
			trigger:   TriggerCancel,
			wantState: entity.ProcessStatusCompleted,
			wantError: true,
		},
		{
			name:      "cancelled is terminal",
			initial:   entity.ProcessStatusCancelled,
			trigger:   TriggerStart,
			wantState: entity.ProcessStatusCancelled,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := BuildProcessMachine(tt.initial)

			err := m.Fire(context.Background(), tt.trigger)
			if tt.wantError && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := entity.ProcessStatus(m.State()); got != tt.wantState {
				t.Errorf("state = %s, want %s", got, tt.wantState)
			}
		})
	}
}

func TestBuildStepMachine(t *testing.T) {
	tests := []struct {
		name      string
		initial   entity.StepStatus
		trigger   machine.Trigger
		wantState entity.StepStatus
		wantError bool
	}{
		{
			name:      "pending -> in_progress on BEGIN",
			initial:   entity.StepStatusPending,
			trigger:   TriggerBegin,
			wantState: entity.StepStatusInProgress,
		},
		{
			name:      "pending -> completed on COMPLETE",
			initial:   entity.StepStatusPending,
			trigger:   TriggerComplete,
			wantState: entity.StepStatusCompleted,
		},
		{
			name:      "pending -> skipped on SKIP",
			initial:   entity.StepStatusPending,
			trigger:   TriggerSkip,
			wantState: entity.StepStatusSkipped,
		},
		{
			name:      "in_progress -> completed on COMPLETE",
			initial:   entity.StepStatusInProgress,
			trigger:   TriggerComplete,
			wantState: entity.StepStatusCompleted,
		},
		{
			name:      "in_progress -> pending on RESET",
			initial:   entity.StepStatusInProgress,
			trigger:   TriggerReset,
			wantState: entity.StepStatusPending,
		},
		{
			name:      "in_progress -> failed on FAIL",
			initial:   entity.StepStatusInProgress,
			trigger:   TriggerFail,
			wantState: entity.StepStatusFailed,
		},
		{
			name:      "in_progress -> cancelled on CANCEL",
			initial:   entity.StepStatusInProgress,
			trigger:   TriggerCancel,
			wantState: entity.StepStatusCancelled,
		},
		{
			name:      "pending cannot fail",
			initial:   entity.StepStatusPending,
			trigger:   TriggerFail,
			wantState: entity.StepStatusPending,
			wantError: true,
		},
		{
			name:      "completed is terminal",
			initial:   entity.StepStatusCompleted,
			trigger:   TriggerBegin,
			wantState: entity.StepStatusCompleted,
			wantError: true,
		},
		{
			name:      "skipped is terminal",
			initial:   entity.StepStatusSkipped,
			trigger:   TriggerComplete,
			wantState: entity.StepStatusSkipped,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := BuildStepMachine(tt.initial)

			err := m.Fire(context.Background(), tt.trigger)
			if tt.wantError && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := entity.StepStatus(m.State()); got != tt.wantState {
				t.Errorf("state = %s, want %s", got, tt.wantState)
			}
		})
	}
}
