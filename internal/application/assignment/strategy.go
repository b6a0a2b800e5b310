// Package assignment isolates worker selection behind strategy
// interfaces so load balancing can be added without touching engine
// control flow.
package assignment

import (
	"context"
	"fmt"

	"github.com/workstream-io/workstream/internal/application/port"
	"github.com/workstream-io/workstream/internal/domain/entity"
)

// Assignment is the resolved ownership of a new step instance. For
// role/department assignment the concrete user is unresolved until a
// human claims the step.
type Assignment struct {
	AssignedTo   string
	AssignedRole string
	AssignedDept string
}

// Strategy resolves a step definition's assignee configuration to an assignment
type Strategy interface {
	Assign(def *entity.StepDefinition) Assignment
}

// EscalationTargetResolver picks the user an overdue step escalates to
type EscalationTargetResolver interface {
	Resolve(ctx context.Context, users port.UserRepository) (*entity.User, error)
}

// FirstAssignee is the default strategy: user steps bind to the first
// listed assignee with no load distribution, role/department steps stay
// unresolved, system steps carry no assignment.
type FirstAssignee struct{}

// Assign resolves the step definition to an assignment
func (FirstAssignee) Assign(def *entity.StepDefinition) Assignment {
	var a Assignment
	if len(def.Assignees) == 0 {
		return a
	}

	switch def.AssigneeType {
	case entity.AssigneeTypeUser:
		a.AssignedTo = def.Assignees[0]
	case entity.AssigneeTypeRole:
		a.AssignedRole = def.Assignees[0]
	case entity.AssigneeTypeDepartment:
		a.AssignedDept = def.Assignees[0]
	}
	return a
}

// FirstActiveManager is the default escalation target resolver: the
// first active user with role manager, falling back to admin.
type FirstActiveManager struct{}

// Resolve picks the escalation target from the user directory
func (FirstActiveManager) Resolve(ctx context.Context, users port.UserRepository) (*entity.User, error) {
	for _, role := range []string{entity.RoleManager, entity.RoleAdmin} {
		candidates, err := users.FindActiveByRole(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("find active %s users: %w", role, err)
		}
		if len(candidates) > 0 {
			return candidates[0], nil
		}
	}
	return nil, fmt.Errorf("no active manager or admin to escalate to: %w", entity.ErrNotFound)
}
