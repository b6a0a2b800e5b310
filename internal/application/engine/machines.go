package engine

import (
	"context"
	"fmt"

	"github.com/workstream-io/workstream/internal/domain/entity"
	"github.com/workstream-io/workstream/internal/domain/machine"
)

// Process lifecycle triggers
const (
	TriggerStart    machine.Trigger = "START"
	TriggerComplete machine.Trigger = "COMPLETE"
	TriggerCancel   machine.Trigger = "CANCEL"
	TriggerSuspend  machine.Trigger = "SUSPEND"
	TriggerResume   machine.Trigger = "RESUME"
)

// Step lifecycle triggers
const (
	TriggerBegin machine.Trigger = "BEGIN"
	TriggerSkip  machine.Trigger = "SKIP"
	TriggerFail  machine.Trigger = "FAIL"
	TriggerReset machine.Trigger = "RESET"
)

// BuildProcessMachine returns the process instance transition table.
// completed and cancelled are terminal: they permit nothing.
func BuildProcessMachine(initial entity.ProcessStatus) machine.StateMachine {
	b := machine.NewBuilder()

	b.Configure(machine.State(entity.ProcessStatusDraft)).
		Permit(TriggerStart, machine.State(entity.ProcessStatusActive))

	b.Configure(machine.State(entity.ProcessStatusActive)).
		Permit(TriggerComplete, machine.State(entity.ProcessStatusCompleted)).
		Permit(TriggerCancel, machine.State(entity.ProcessStatusCancelled)).
		Permit(TriggerSuspend, machine.State(entity.ProcessStatusSuspended))

	b.Configure(machine.State(entity.ProcessStatusSuspended)).
		Permit(TriggerResume, machine.State(entity.ProcessStatusActive)).
		Permit(TriggerCancel, machine.State(entity.ProcessStatusCancelled))

	return b.Build(machine.State(initial))
}

// BuildStepMachine returns the step instance transition table. A pending
// step may complete directly (unassigned or auto-completing work), and
// reassignment resets in_progress back to pending. The escalated flag is
// orthogonal and never appears here.
func BuildStepMachine(initial entity.StepStatus) machine.StateMachine {
	b := machine.NewBuilder()

	b.Configure(machine.State(entity.StepStatusPending)).
		Permit(TriggerBegin, machine.State(entity.StepStatusInProgress)).
		Permit(TriggerComplete, machine.State(entity.StepStatusCompleted)).
		Permit(TriggerSkip, machine.State(entity.StepStatusSkipped)).
		Permit(TriggerCancel, machine.State(entity.StepStatusCancelled))

	b.Configure(machine.State(entity.StepStatusInProgress)).
		Permit(TriggerComplete, machine.State(entity.StepStatusCompleted)).
		Permit(TriggerSkip, machine.State(entity.StepStatusSkipped)).
		Permit(TriggerFail, machine.State(entity.StepStatusFailed)).
		Permit(TriggerCancel, machine.State(entity.StepStatusCancelled)).
		Permit(TriggerReset, machine.State(entity.StepStatusPending))

	return b.Build(machine.State(initial))
}

// fireProcess runs a trigger through the process transition table and
// applies the resulting status. An unlisted pair fails with ErrInvalidState.
func fireProcess(ctx context.Context, instance *entity.ProcessInstance, trigger machine.Trigger) error {
	m := BuildProcessMachine(instance.Status)
	if err := m.Fire(ctx, trigger); err != nil {
		return fmt.Errorf("%w: process %s cannot %s from %s", entity.ErrInvalidState, instance.ID, trigger, instance.Status)
	}
	instance.Status = entity.ProcessStatus(m.State())
	return nil
}

// fireStep runs a trigger through the step transition table and applies
// the resulting status. An unlisted pair fails with ErrInvalidState.
func fireStep(ctx context.Context, step *entity.StepInstance, trigger machine.Trigger) error {
	m := BuildStepMachine(step.Status)
	if err := m.Fire(ctx, trigger); err != nil {
		return fmt.Errorf("%w: step %s cannot %s from %s", entity.ErrInvalidState, step.ID, trigger, step.Status)
	}
	step.Status = entity.StepStatus(m.State())
	return nil
}
