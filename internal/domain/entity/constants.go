package entity

// ProcessStatus represents the lifecycle status of a process instance
type ProcessStatus string

const (
	ProcessStatusDraft     ProcessStatus = "draft"
	ProcessStatusActive    ProcessStatus = "active"
	ProcessStatusCompleted ProcessStatus = "completed"
	ProcessStatusCancelled ProcessStatus = "cancelled"
	ProcessStatusSuspended ProcessStatus = "suspended"
)

// IsTerminal returns true if no further step creation is permitted
func (s ProcessStatus) IsTerminal() bool {
	return s == ProcessStatusCompleted || s == ProcessStatusCancelled
}

// String returns the string representation of the status
func (s ProcessStatus) String() string {
	return string(s)
}

// StepStatus represents the lifecycle status of a step instance
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusSkipped    StepStatus = "skipped"
	StepStatusFailed     StepStatus = "failed"
	StepStatusCancelled  StepStatus = "cancelled"
)

// IsLive returns true if the step is still awaiting work
func (s StepStatus) IsLive() bool {
	return s == StepStatusPending || s == StepStatusInProgress
}

// String returns the string representation of the status
func (s StepStatus) String() string {
	return string(s)
}

// StepType identifies the kind of template step
type StepType string

const (
	StepTypeUserTask    StepType = "user_task"
	StepTypeServiceTask StepType = "service_task"
	StepTypeDecision    StepType = "decision"
	StepTypeParallel    StepType = "parallel"
	StepTypeExclusive   StepType = "exclusive"
	StepTypeStart       StepType = "start"
	StepTypeEnd         StepType = "end"
)

// AssigneeType identifies how a step definition resolves its worker
type AssigneeType string

const (
	AssigneeTypeUser       AssigneeType = "user"
	AssigneeTypeRole       AssigneeType = "role"
	AssigneeTypeDepartment AssigneeType = "department"
	AssigneeTypeSystem     AssigneeType = "system"
)

// TemplateStatus represents the publication lifecycle of a template
type TemplateStatus string

const (
	TemplateStatusDraft     TemplateStatus = "draft"
	TemplateStatusPublished TemplateStatus = "published"
	TemplateStatusArchived  TemplateStatus = "archived"
)

// History action constants
const (
	ActionProcessStarted   = "process_started"
	ActionProcessCompleted = "process_completed"
	ActionProcessCancelled = "process_cancelled"
	ActionStepCreated      = "step_created"
	ActionStepCompleted    = "step_completed"
	ActionStepSkipped      = "step_skipped"
	ActionStepClaimed      = "step_claimed"
	ActionStepAssigned     = "step_assigned"
	ActionStepEscalated    = "step_escalated"
)

// Notification type constants
const (
	NotificationTaskAssigned     = "task_assigned"
	NotificationTaskOverdue      = "task_overdue"
	NotificationTaskEscalated    = "task_escalated"
	NotificationProcessCompleted = "process_completed"
	NotificationProcessCancelled = "process_cancelled"
	NotificationProcessStuck     = "process_stuck"
	NotificationDigest           = "digest"
)

// Notification priority constants
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Notification delivery status constants (outbox lifecycle)
const (
	NotificationStatusPending = "pending"
	NotificationStatusSent    = "sent"
	NotificationStatusFailed  = "failed"
)

// Role constants used by escalation-target resolution
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// MaxEscalationLevel caps the escalation cascade; steps already at this
// level are skipped by further cascade cycles.
const MaxEscalationLevel = 3
