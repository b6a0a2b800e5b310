package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/workstream-io/workstream/internal/application/dispatcher"
	"github.com/workstream-io/workstream/internal/domain/entity"
	"github.com/workstream-io/workstream/internal/domain/event"
)

// In-memory fakes

type memTemplates struct {
	templates []*entity.ProcessTemplate
}

func (m *memTemplates) Create(ctx context.Context, tmpl *entity.ProcessTemplate) error {
	m.templates = append(m.templates, tmpl)
	return nil
}

func (m *memTemplates) GetByID(ctx context.Context, id string) (*entity.ProcessTemplate, error) {
	var latest *entity.ProcessTemplate
	for _, tmpl := range m.templates {
		if tmpl.ID == id && (latest == nil || tmpl.Version > latest.Version) {
			latest = tmpl
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("template %s: %w", id, entity.ErrNotFound)
	}
	return latest, nil
}

func (m *memTemplates) GetLatestPublished(ctx context.Context, id string) (*entity.ProcessTemplate, error) {
	var latest *entity.ProcessTemplate
	for _, tmpl := range m.templates {
		if tmpl.ID == id && tmpl.Status == entity.TemplateStatusPublished &&
			(latest == nil || tmpl.Version > latest.Version) {
			latest = tmpl
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("template %s: %w", id, entity.ErrNotFound)
	}
	return latest, nil
}

func (m *memTemplates) GetVersion(ctx context.Context, id string, version int) (*entity.ProcessTemplate, error) {
	for _, tmpl := range m.templates {
		if tmpl.ID == id && tmpl.Version == version {
			return tmpl, nil
		}
	}
	return nil, fmt.Errorf("template %s v%d: %w", id, version, entity.ErrNotFound)
}

func (m *memTemplates) Update(ctx context.Context, tmpl *entity.ProcessTemplate) error {
	for i, existing := range m.templates {
		if existing.ID == tmpl.ID && existing.Version == tmpl.Version {
			m.templates[i] = tmpl
			return nil
		}
	}
	return entity.ErrNotFound
}

func (m *memTemplates) List(ctx context.Context, limit, offset int) ([]*entity.ProcessTemplate, error) {
	return m.templates, nil
}

type memInstances struct {
	instances map[string]*entity.ProcessInstance
}

func (m *memInstances) Create(ctx context.Context, instance *entity.ProcessInstance) error {
	m.instances[instance.ID] = instance
	return nil
}

func (m *memInstances) GetByID(ctx context.Context, id string) (*entity.ProcessInstance, error) {
	instance, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, entity.ErrNotFound)
	}
	return instance, nil
}

func (m *memInstances) Update(ctx context.Context, instance *entity.ProcessInstance) error {
	if _, ok := m.instances[instance.ID]; !ok {
		return entity.ErrNotFound
	}
	m.instances[instance.ID] = instance
	return nil
}

func (m *memInstances) ListByStatus(ctx context.Context, status entity.ProcessStatus, limit, offset int) ([]*entity.ProcessInstance, error) {
	var out []*entity.ProcessInstance
	for _, instance := range m.instances {
		if instance.Status == status {
			out = append(out, instance)
		}
	}
	return out, nil
}

func (m *memInstances) ListStale(ctx context.Context, cutoff time.Time) ([]*entity.ProcessInstance, error) {
	var out []*entity.ProcessInstance
	for _, instance := range m.instances {
		if instance.Status == entity.ProcessStatusActive && instance.UpdatedAt.Before(cutoff) {
			out = append(out, instance)
		}
	}
	return out, nil
}

func (m *memInstances) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, instance := range m.instances {
		if instance.Status == entity.ProcessStatusCompleted && instance.EndDate != nil && instance.EndDate.Before(cutoff) {
			delete(m.instances, id)
			n++
		}
	}
	return n, nil
}

type memSteps struct {
	order      []string
	steps      map[string]*entity.StepInstance
	failUpdate string
}

func (m *memSteps) Create(ctx context.Context, step *entity.StepInstance) error {
	m.order = append(m.order, step.ID)
	m.steps[step.ID] = step
	return nil
}

func (m *memSteps) GetByID(ctx context.Context, id string) (*entity.StepInstance, error) {
	step, ok := m.steps[id]
	if !ok {
		return nil, fmt.Errorf("step %s: %w", id, entity.ErrNotFound)
	}
	return step, nil
}

func (m *memSteps) Update(ctx context.Context, step *entity.StepInstance) error {
	if step.ID == m.failUpdate {
		return errors.New("update failed")
	}
	if _, ok := m.steps[step.ID]; !ok {
		return entity.ErrNotFound
	}
	m.steps[step.ID] = step
	return nil
}

func (m *memSteps) all() []*entity.StepInstance {
	out := make([]*entity.StepInstance, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.steps[id])
	}
	return out
}

func (m *memSteps) ListByProcess(ctx context.Context, processInstanceID string) ([]*entity.StepInstance, error) {
	var out []*entity.StepInstance
	for _, step := range m.all() {
		if step.ProcessInstanceID == processInstanceID {
			out = append(out, step)
		}
	}
	return out, nil
}

func (m *memSteps) ListLiveByProcess(ctx context.Context, processInstanceID string) ([]*entity.StepInstance, error) {
	var out []*entity.StepInstance
	for _, step := range m.all() {
		if step.ProcessInstanceID == processInstanceID && step.Status.IsLive() {
			out = append(out, step)
		}
	}
	return out, nil
}

func (m *memSteps) ListOverdueUnescalated(ctx context.Context, now time.Time) ([]*entity.StepInstance, error) {
	var out []*entity.StepInstance
	for _, step := range m.all() {
		if step.IsOverdue(now) && !step.Escalated {
			out = append(out, step)
		}
	}
	return out, nil
}

func (m *memSteps) ListEscalatedOverdue(ctx context.Context, cutoff time.Time, maxLevel int) ([]*entity.StepInstance, error) {
	var out []*entity.StepInstance
	for _, step := range m.all() {
		if step.Status.IsLive() && step.Escalated && step.EscalationLevel < maxLevel &&
			step.DueDate != nil && step.DueDate.Before(cutoff) {
			out = append(out, step)
		}
	}
	return out, nil
}

func (m *memSteps) CountCompletedByProcess(ctx context.Context, processInstanceID string) (int, error) {
	n := 0
	for _, step := range m.steps {
		if step.ProcessInstanceID == processInstanceID && step.Status == entity.StepStatusCompleted {
			n++
		}
	}
	return n, nil
}

func (m *memSteps) CountLiveByAssignee(ctx context.Context, userID string) (int, error) {
	n := 0
	for _, step := range m.steps {
		if step.AssignedTo == userID && step.Status.IsLive() {
			n++
		}
	}
	return n, nil
}

func (m *memSteps) CountOverdueByAssignee(ctx context.Context, userID string, now time.Time) (int, error) {
	n := 0
	for _, step := range m.steps {
		if step.AssignedTo == userID && step.IsOverdue(now) {
			n++
		}
	}
	return n, nil
}

type memHistory struct {
	entries []*entity.ProcessHistory
}

func (m *memHistory) Append(ctx context.Context, entry *entity.ProcessHistory) error {
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memHistory) ListByProcess(ctx context.Context, processInstanceID string) ([]*entity.ProcessHistory, error) {
	var out []*entity.ProcessHistory
	for _, entry := range m.entries {
		if entry.ProcessInstanceID == processInstanceID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memHistory) actions() []string {
	out := make([]string, len(m.entries))
	for i, entry := range m.entries {
		out[i] = entry.Action
	}
	return out
}

type memNotifications struct {
	rows []*entity.Notification
}

func (m *memNotifications) Create(ctx context.Context, n *entity.Notification) error {
	n.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, n)
	return nil
}

func (m *memNotifications) GetByID(ctx context.Context, id int64) (*entity.Notification, error) {
	for _, n := range m.rows {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (m *memNotifications) ListPending(ctx context.Context, limit int) ([]*entity.Notification, error) {
	var out []*entity.Notification
	for _, n := range m.rows {
		if n.Status == entity.NotificationStatusPending {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memNotifications) MarkSent(ctx context.Context, id int64) error {
	for _, n := range m.rows {
		if n.ID == id {
			n.Status = entity.NotificationStatusSent
			return nil
		}
	}
	return entity.ErrNotFound
}

func (m *memNotifications) MarkFailed(ctx context.Context, id int64, msg string) error {
	for _, n := range m.rows {
		if n.ID == id {
			n.Status = entity.NotificationStatusFailed
			n.ErrorMessage = msg
			return nil
		}
	}
	return entity.ErrNotFound
}

func (m *memNotifications) MarkRead(ctx context.Context, id int64) error { return nil }

func (m *memNotifications) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memNotifications) byType(notificationType string) []*entity.Notification {
	var out []*entity.Notification
	for _, n := range m.rows {
		if n.Type == notificationType {
			out = append(out, n)
		}
	}
	return out
}

type memUsers struct {
	users map[string]*entity.User
}

func (m *memUsers) GetByID(ctx context.Context, id string) (*entity.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, entity.ErrNotFound)
	}
	return user, nil
}

func (m *memUsers) FindActiveByRole(ctx context.Context, role string) ([]*entity.User, error) {
	// Deterministic order for tests
	var out []*entity.User
	for _, id := range []string{"alice", "bob", "carol", "dave"} {
		user, ok := m.users[id]
		if ok && user.Active && user.Role == role {
			out = append(out, user)
		}
	}
	return out, nil
}

func (m *memUsers) ListDigestSubscribers(ctx context.Context) ([]*entity.User, error) {
	var out []*entity.User
	for _, user := range m.users {
		if user.Active && user.EmailNotifications && user.Email != "" {
			out = append(out, user)
		}
	}
	return out, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingDispatcher struct {
	events []*event.Event
}

func (d *recordingDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (d *recordingDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.events = append(d.events, evt)
	return nil
}

func (d *recordingDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.events = append(d.events, evt)
}

func (d *recordingDispatcher) Close() error { return nil }

func (d *recordingDispatcher) types() []event.Type {
	out := make([]event.Type, len(d.events))
	for i, evt := range d.events {
		out[i] = evt.Type
	}
	return out
}

// Fixture

var testClock = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	eng           Engine
	templates     *memTemplates
	instances     *memInstances
	steps         *memSteps
	history       *memHistory
	notifications *memNotifications
	users         *memUsers
	dispatched    *recordingDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		templates:     &memTemplates{},
		instances:     &memInstances{instances: make(map[string]*entity.ProcessInstance)},
		steps:         &memSteps{steps: make(map[string]*entity.StepInstance)},
		history:       &memHistory{},
		notifications: &memNotifications{},
		users: &memUsers{users: map[string]*entity.User{
			"alice": {ID: "alice", Name: "Alice", Role: entity.RoleEmployee, Department: "finance", Active: true},
			"bob":   {ID: "bob", Name: "Bob", Role: entity.RoleManager, Department: "finance", Active: true},
			"carol": {ID: "carol", Name: "Carol", Role: entity.RoleEmployee, Department: "eng", Active: true},
			"dave":  {ID: "dave", Name: "Dave", Role: entity.RoleAdmin, Active: true},
		}},
		dispatched: &recordingDispatcher{},
	}

	f.eng = New(
		f.templates,
		f.instances,
		f.steps,
		f.history,
		f.notifications,
		f.users,
		passthroughTx{},
		zap.NewNop(),
		WithClock(func() time.Time { return testClock }),
		WithDispatcher(f.dispatched),
	)
	return f
}

func (f *fixture) seedTemplate(t *testing.T, tmpl *entity.ProcessTemplate) {
	t.Helper()
	require.NoError(t, tmpl.Validate())
	tmpl.Status = entity.TemplateStatusPublished
	require.NoError(t, f.templates.Create(context.Background(), tmpl))
}

func (f *fixture) seedInstance(t *testing.T, tmpl *entity.ProcessTemplate) *entity.ProcessInstance {
	t.Helper()
	instance := &entity.ProcessInstance{
		ID:              "proc-1",
		TemplateID:      tmpl.ID,
		TemplateVersion: tmpl.Version,
		Name:            tmpl.Name,
		Status:          entity.ProcessStatusDraft,
		InitiatedBy:     "alice",
		CreatedAt:       testClock,
		UpdatedAt:       testClock,
	}
	require.NoError(t, f.instances.Create(context.Background(), instance))
	return instance
}

func (f *fixture) liveSteps(t *testing.T, processID string) []*entity.StepInstance {
	t.Helper()
	live, err := f.steps.ListLiveByProcess(context.Background(), processID)
	require.NoError(t, err)
	return live
}

func linearTemplate() *entity.ProcessTemplate {
	return &entity.ProcessTemplate{
		ID:      "tmpl-linear",
		Name:    "Linear review",
		Version: 1,
		Steps: []entity.StepDefinition{
			{
				StepID:         "review",
				Name:           "Review request",
				Type:           entity.StepTypeUserTask,
				AssigneeType:   entity.AssigneeTypeUser,
				Assignees:      []string{"alice"},
				TimeLimitHours: 24,
				NextSteps:      []entity.Transition{{StepID: "finish"}},
			},
			{StepID: "finish", Name: "Finish", Type: entity.StepTypeEnd},
		},
		StartStep: "review",
		EndSteps:  []string{"finish"},
	}
}

func decisionTemplate() *entity.ProcessTemplate {
	return &entity.ProcessTemplate{
		ID:      "tmpl-decision",
		Name:    "Approval decision",
		Version: 1,
		Steps: []entity.StepDefinition{
			{
				StepID:       "decide",
				Name:         "Decide",
				Type:         entity.StepTypeDecision,
				AssigneeType: entity.AssigneeTypeUser,
				Assignees:    []string{"alice"},
				NextSteps: []entity.Transition{
					{Condition: "approve", StepID: "fulfil"},
					{Condition: "reject", StepID: "notify_rejection"},
				},
			},
			{
				StepID:       "fulfil",
				Name:         "Fulfil",
				Type:         entity.StepTypeUserTask,
				AssigneeType: entity.AssigneeTypeUser,
				Assignees:    []string{"bob"},
				NextSteps:    []entity.Transition{{StepID: "finish"}},
			},
			{
				StepID:       "notify_rejection",
				Name:         "Notify rejection",
				Type:         entity.StepTypeUserTask,
				AssigneeType: entity.AssigneeTypeUser,
				Assignees:    []string{"bob"},
				NextSteps:    []entity.Transition{{StepID: "finish"}},
			},
			{StepID: "finish", Name: "Finish", Type: entity.StepTypeEnd},
		},
		StartStep: "decide",
		EndSteps:  []string{"finish"},
	}
}

// Tests

func TestStartProcess(t *testing.T) {
	f := newFixture(t)
	tmpl := linearTemplate()
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)

	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	assert.Equal(t, entity.ProcessStatusActive, instance.Status)
	require.NotNil(t, instance.StartDate)
	assert.Equal(t, testClock, *instance.StartDate)
	assert.Equal(t, []string{"review"}, instance.CurrentSteps)

	live := f.liveSteps(t, instance.ID)
	require.Len(t, live, 1)
	step := live[0]
	assert.Equal(t, "review", step.StepID)
	assert.Equal(t, entity.StepStatusPending, step.Status)
	assert.Equal(t, "alice", step.AssignedTo)
	require.NotNil(t, step.DueDate)
	assert.Equal(t, testClock.Add(24*time.Hour), *step.DueDate)

	assert.Contains(t, f.history.actions(), entity.ActionProcessStarted)
	assert.Contains(t, f.history.actions(), entity.ActionStepCreated)
	assert.Len(t, f.notifications.byType(entity.NotificationTaskAssigned), 1)

	// Events go out only after the transaction commits.
	assert.Contains(t, f.dispatched.types(), event.TypeProcessStarted)
	assert.Contains(t, f.dispatched.types(), event.TypeStepCreated)
}

func TestStartProcessRejectsNonDraft(t *testing.T) {
	f := newFixture(t)
	tmpl := linearTemplate()
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	instance.Status = entity.ProcessStatusActive

	err := f.eng.StartProcess(context.Background(), instance.ID, "alice")
	assert.ErrorIs(t, err, entity.ErrInvalidState)
}

func TestStartProcessUnknownInstance(t *testing.T) {
	f := newFixture(t)
	err := f.eng.StartProcess(context.Background(), "nope", "alice")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestCompleteStepWrongActor(t *testing.T) {
	f := newFixture(t)
	tmpl := linearTemplate()
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	step := f.liveSteps(t, instance.ID)[0]
	err := f.eng.CompleteStep(context.Background(), step.ID, "bob", nil, "")
	assert.ErrorIs(t, err, entity.ErrForbidden)
	assert.Equal(t, entity.StepStatusPending, step.Status)
}

func TestCompleteUnassignedStepAllowed(t *testing.T) {
	f := newFixture(t)
	tmpl := linearTemplate()
	tmpl.Steps[0].AssigneeType = ""
	tmpl.Steps[0].Assignees = nil
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	step := f.liveSteps(t, instance.ID)[0]
	require.Empty(t, step.AssignedTo)

	require.NoError(t, f.eng.CompleteStep(context.Background(), step.ID, "bob", nil, ""))
	assert.Equal(t, entity.StepStatusCompleted, step.Status)
	assert.Equal(t, "bob", step.CompletedBy)
}

func TestCompleteStepTwiceRejected(t *testing.T) {
	f := newFixture(t)
	tmpl := linearTemplate()
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	step := f.liveSteps(t, instance.ID)[0]
	require.NoError(t, f.eng.CompleteStep(context.Background(), step.ID, "alice", nil, ""))

	err := f.eng.CompleteStep(context.Background(), step.ID, "alice", nil, "")
	assert.ErrorIs(t, err, entity.ErrInvalidState)
}

func TestCompleteFinalStepCompletesProcess(t *testing.T) {
	f := newFixture(t)
	tmpl := linearTemplate()
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	step := f.liveSteps(t, instance.ID)[0]
	require.NoError(t, f.eng.CompleteStep(context.Background(), step.ID, "alice",
		map[string]any{"comment": "looks fine"}, ""))

	assert.Equal(t, entity.ProcessStatusCompleted, instance.Status)
	assert.Equal(t, 100, instance.CompletionPercentage)
	assert.Empty(t, instance.CurrentSteps)
	require.NotNil(t, instance.EndDate)

	assert.Equal(t, entity.StepStatusCompleted, step.Status)
	assert.Equal(t, "alice", step.CompletedBy)
	assert.Equal(t, "looks fine", step.FormData["comment"])

	// The initiator learns about completion through the outbox.
	completions := f.notifications.byType(entity.NotificationProcessCompleted)
	require.Len(t, completions, 1)
	assert.Equal(t, "alice", completions[0].UserID)

	assert.Contains(t, f.dispatched.types(), event.TypeStepCompleted)
	assert.Contains(t, f.dispatched.types(), event.TypeProcessCompleted)
}

func TestDecisionRoutesToMatchingBranch(t *testing.T) {
	f := newFixture(t)
	tmpl := decisionTemplate()
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	decide := f.liveSteps(t, instance.ID)[0]
	require.NoError(t, f.eng.CompleteStep(context.Background(), decide.ID, "alice", nil, "approve"))

	assert.Equal(t, []string{"fulfil"}, instance.CurrentSteps)
	assert.Equal(t, "approve", decide.Variables["decision"])

	live := f.liveSteps(t, instance.ID)
	require.Len(t, live, 1)
	assert.Equal(t, "fulfil", live[0].StepID)
	assert.Equal(t, "bob", live[0].AssignedTo)
}

func TestUnknownDecisionFallsBackToFirstBranch(t *testing.T) {
	f := newFixture(t)
	tmpl := decisionTemplate()
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	decide := f.liveSteps(t, instance.ID)[0]
	require.NoError(t, f.eng.CompleteStep(context.Background(), decide.ID, "alice", nil, "maybe"))

	live := f.liveSteps(t, instance.ID)
	require.Len(t, live, 1)
	assert.Equal(t, "fulfil", live[0].StepID)
}

func TestParallelFanOut(t *testing.T) {
	f := newFixture(t)
	tmpl := &entity.ProcessTemplate{
		ID:      "tmpl-fork",
		Name:    "Parallel checks",
		Version: 1,
		Steps: []entity.StepDefinition{
			{
				StepID:       "intake",
				Name:         "Intake",
				Type:         entity.StepTypeUserTask,
				AssigneeType: entity.AssigneeTypeUser,
				Assignees:    []string{"alice"},
				NextSteps: []entity.Transition{
					{Condition: "true", StepID: "legal_check"},
					{Condition: "", StepID: "budget_check"},
				},
			},
			{
				StepID:       "legal_check",
				Name:         "Legal check",
				Type:         entity.StepTypeUserTask,
				AssigneeType: entity.AssigneeTypeUser,
				Assignees:    []string{"bob"},
				NextSteps:    []entity.Transition{{StepID: "finish"}},
			},
			{
				StepID:       "budget_check",
				Name:         "Budget check",
				Type:         entity.StepTypeUserTask,
				AssigneeType: entity.AssigneeTypeUser,
				Assignees:    []string{"carol"},
				NextSteps:    []entity.Transition{{StepID: "finish"}},
			},
			{StepID: "finish", Name: "Finish", Type: entity.StepTypeEnd},
		},
		StartStep: "intake",
		EndSteps:  []string{"finish"},
	}
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	intake := f.liveSteps(t, instance.ID)[0]
	require.NoError(t, f.eng.CompleteStep(context.Background(), intake.ID, "alice", nil, ""))

	// Both simultaneously-true transitions fire; there is no join.
	assert.ElementsMatch(t, []string{"legal_check", "budget_check"}, instance.CurrentSteps)
	assert.Len(t, f.liveSteps(t, instance.ID), 2)
	assert.Equal(t, entity.ProcessStatusActive, instance.Status)
}

func TestServiceTaskCreatedCompleted(t *testing.T) {
	f := newFixture(t)
	tmpl := &entity.ProcessTemplate{
		ID:      "tmpl-auto",
		Name:    "Automated intake",
		Version: 1,
		Steps: []entity.StepDefinition{
			{
				StepID:       "register",
				Name:         "Register",
				Type:         entity.StepTypeServiceTask,
				AssigneeType: entity.AssigneeTypeSystem,
				NextSteps:    []entity.Transition{{StepID: "finish"}},
			},
			{StepID: "finish", Name: "Finish", Type: entity.StepTypeEnd},
		},
		StartStep: "register",
		EndSteps:  []string{"finish"},
	}
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	steps, err := f.steps.ListByProcess(context.Background(), instance.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	step := steps[0]

	// Service tasks execute inline: created already completed, no assignee.
	assert.Equal(t, entity.StepStatusCompleted, step.Status)
	assert.Empty(t, step.AssignedTo)
	require.NotNil(t, step.EndDate)
	assert.Equal(t, entity.ProcessStatusActive, instance.Status)
}

func TestSkipStepAdvancesRouting(t *testing.T) {
	f := newFixture(t)
	tmpl := decisionTemplate()
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	decide := f.liveSteps(t, instance.ID)[0]
	require.NoError(t, f.eng.SkipStep(context.Background(), decide.ID, "dave", "not needed"))

	assert.Equal(t, entity.StepStatusSkipped, decide.Status)
	// No decision was made, so the first branch is the default path.
	live := f.liveSteps(t, instance.ID)
	require.Len(t, live, 1)
	assert.Equal(t, "fulfil", live[0].StepID)
	assert.Contains(t, f.history.actions(), entity.ActionStepSkipped)
}

func TestCancelProcessCascades(t *testing.T) {
	f := newFixture(t)
	tmpl := linearTemplate()
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	step := f.liveSteps(t, instance.ID)[0]
	require.NoError(t, f.eng.CancelProcess(context.Background(), instance.ID, "dave", "duplicate request"))

	assert.Equal(t, entity.ProcessStatusCancelled, instance.Status)
	assert.Empty(t, instance.CurrentSteps)
	require.NotNil(t, instance.EndDate)

	assert.Equal(t, entity.StepStatusCancelled, step.Status)
	require.NotNil(t, step.EndDate)

	cancellations := f.notifications.byType(entity.NotificationProcessCancelled)
	require.Len(t, cancellations, 1)
	assert.Equal(t, "alice", cancellations[0].UserID)
}

func TestCancelCompletedProcessRejected(t *testing.T) {
	f := newFixture(t)
	tmpl := linearTemplate()
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	step := f.liveSteps(t, instance.ID)[0]
	require.NoError(t, f.eng.CompleteStep(context.Background(), step.ID, "alice", nil, ""))

	err := f.eng.CancelProcess(context.Background(), instance.ID, "dave", "too late")
	assert.ErrorIs(t, err, entity.ErrInvalidState)
}

func TestClaimStepRoleEligibility(t *testing.T) {
	f := newFixture(t)
	tmpl := &entity.ProcessTemplate{
		ID:      "tmpl-role",
		Name:    "Manager approval",
		Version: 1,
		Steps: []entity.StepDefinition{
			{
				StepID:       "approve",
				Name:         "Approve",
				Type:         entity.StepTypeUserTask,
				AssigneeType: entity.AssigneeTypeRole,
				Assignees:    []string{entity.RoleManager},
				NextSteps:    []entity.Transition{{StepID: "finish"}},
			},
			{StepID: "finish", Name: "Finish", Type: entity.StepTypeEnd},
		},
		StartStep: "approve",
		EndSteps:  []string{"finish"},
	}
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	step := f.liveSteps(t, instance.ID)[0]
	require.Empty(t, step.AssignedTo)
	require.Equal(t, entity.RoleManager, step.AssignedRole)

	// carol is an employee, not a manager
	err := f.eng.ClaimStep(context.Background(), step.ID, "carol")
	assert.ErrorIs(t, err, entity.ErrForbidden)

	require.NoError(t, f.eng.ClaimStep(context.Background(), step.ID, "bob"))
	assert.Equal(t, "bob", step.AssignedTo)
	assert.Equal(t, entity.StepStatusInProgress, step.Status)
	require.NotNil(t, step.StartDate)
}

func TestAssignAndReassign(t *testing.T) {
	f := newFixture(t)
	tmpl := &entity.ProcessTemplate{
		ID:      "tmpl-unassigned",
		Name:    "Unassigned work",
		Version: 1,
		Steps: []entity.StepDefinition{
			{
				StepID:    "work",
				Name:      "Work",
				Type:      entity.StepTypeUserTask,
				NextSteps: []entity.Transition{{StepID: "finish"}},
			},
			{StepID: "finish", Name: "Finish", Type: entity.StepTypeEnd},
		},
		StartStep: "work",
		EndSteps:  []string{"finish"},
	}
	f.seedTemplate(t, tmpl)
	instance := f.seedInstance(t, tmpl)
	require.NoError(t, f.eng.StartProcess(context.Background(), instance.ID, "alice"))

	step := f.liveSteps(t, instance.ID)[0]
	require.NoError(t, f.eng.AssignStep(context.Background(), step.ID, "bob", "alice"))
	assert.Equal(t, "alice", step.AssignedTo)

	// Assign on an already-assigned step must go through reassign.
	err := f.eng.AssignStep(context.Background(), step.ID, "bob", "carol")
	assert.ErrorIs(t, err, entity.ErrInvalidState)

	// The new assignee starts fresh: in_progress resets to pending.
	require.NoError(t, f.eng.ClaimStep(context.Background(), step.ID, "alice"))
	require.Equal(t, entity.StepStatusInProgress, step.Status)

	require.NoError(t, f.eng.ReassignStep(context.Background(), step.ID, "bob", "carol"))
	assert.Equal(t, "carol", step.AssignedTo)
	assert.Equal(t, entity.StepStatusPending, step.Status)
	assert.Nil(t, step.StartDate)

	assigned := f.notifications.byType(entity.NotificationTaskAssigned)
	require.Len(t, assigned, 2)
	assert.Equal(t, "carol", assigned[1].UserID)
}

func overdueStep(id string) *entity.StepInstance {
	due := testClock.Add(-3 * time.Hour)
	return &entity.StepInstance{
		ID:                id,
		ProcessInstanceID: "proc-1",
		StepID:            "review",
		Name:              "Review request",
		Type:              entity.StepTypeUserTask,
		Status:            entity.StepStatusPending,
		AssignedTo:        "alice",
		DueDate:           &due,
		CreatedAt:         testClock.Add(-27 * time.Hour),
		UpdatedAt:         testClock.Add(-27 * time.Hour),
	}
}

func TestEscalateOverdueTasks(t *testing.T) {
	f := newFixture(t)
	step := overdueStep("step-1")
	require.NoError(t, f.steps.Create(context.Background(), step))

	require.NoError(t, f.eng.EscalateOverdueTasks(context.Background()))

	assert.True(t, step.Escalated)
	assert.Equal(t, 1, step.EscalationLevel)
	// Escalation never touches the step status.
	assert.Equal(t, entity.StepStatusPending, step.Status)
	require.Len(t, step.EscalationHistory, 1)
	assert.Equal(t, "bob", step.EscalationHistory[0].EscalatedTo)

	// Assignee gets the overdue notice, the manager gets the escalation.
	require.Len(t, f.notifications.byType(entity.NotificationTaskOverdue), 1)
	escalated := f.notifications.byType(entity.NotificationTaskEscalated)
	require.Len(t, escalated, 1)
	assert.Equal(t, "bob", escalated[0].UserID)

	// The system performs escalation; history carries no actor.
	var escalationEntries []*entity.ProcessHistory
	for _, entry := range f.history.entries {
		if entry.Action == entity.ActionStepEscalated {
			escalationEntries = append(escalationEntries, entry)
		}
	}
	require.Len(t, escalationEntries, 1)
	assert.Empty(t, escalationEntries[0].PerformedBy)
}

func TestEscalateOverdueTasksIdempotent(t *testing.T) {
	f := newFixture(t)
	step := overdueStep("step-1")
	require.NoError(t, f.steps.Create(context.Background(), step))

	require.NoError(t, f.eng.EscalateOverdueTasks(context.Background()))
	require.NoError(t, f.eng.EscalateOverdueTasks(context.Background()))

	assert.Equal(t, 1, step.EscalationLevel)
	assert.Len(t, f.notifications.byType(entity.NotificationTaskEscalated), 1)

	// Clearing the guard flag re-arms the scan.
	step.Escalated = false
	require.NoError(t, f.eng.EscalateOverdueTasks(context.Background()))

	assert.Equal(t, 2, step.EscalationLevel)
	assert.True(t, step.Escalated)
	assert.Len(t, f.notifications.byType(entity.NotificationTaskEscalated), 2)
}

func TestEscalateOverdueTasksContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	failing := overdueStep("step-failing")
	healthy := overdueStep("step-healthy")
	require.NoError(t, f.steps.Create(context.Background(), failing))
	require.NoError(t, f.steps.Create(context.Background(), healthy))
	f.steps.failUpdate = failing.ID

	core, logs := observer.New(zapcore.InfoLevel)
	eng := New(
		f.templates,
		f.instances,
		f.steps,
		f.history,
		f.notifications,
		f.users,
		passthroughTx{},
		zap.New(core),
		WithClock(func() time.Time { return testClock }),
	)

	require.NoError(t, eng.EscalateOverdueTasks(context.Background()))

	// The healthy step escalated despite the earlier failure.
	assert.Equal(t, 1, healthy.EscalationLevel)
	assert.Len(t, f.notifications.byType(entity.NotificationTaskEscalated), 1)

	failures := logs.FilterMessage("Failed to escalate overdue step").All()
	require.Len(t, failures, 1)

	// The summary counts successes, not scan size.
	summaries := logs.FilterMessage("Overdue scan finished").All()
	require.Len(t, summaries, 1)
	fields := summaries[0].ContextMap()
	assert.EqualValues(t, 2, fields["overdue"])
	assert.EqualValues(t, 1, fields["escalated"])
	assert.EqualValues(t, 1, fields["failed"])
}

func TestEscalationCapIsSilent(t *testing.T) {
	f := newFixture(t)
	step := overdueStep("step-1")
	step.Escalated = true
	step.EscalationLevel = entity.MaxEscalationLevel
	require.NoError(t, f.steps.Create(context.Background(), step))

	// At the cap the call is a no-op, not an error.
	require.NoError(t, f.eng.EscalateStep(context.Background(), step.ID, "still overdue"))

	assert.Equal(t, entity.MaxEscalationLevel, step.EscalationLevel)
	assert.Empty(t, f.notifications.rows)
	assert.Empty(t, f.history.entries)
}

func TestEscalateStepRejectsFinishedStep(t *testing.T) {
	f := newFixture(t)
	step := overdueStep("step-1")
	step.Status = entity.StepStatusCompleted
	require.NoError(t, f.steps.Create(context.Background(), step))

	err := f.eng.EscalateStep(context.Background(), step.ID, "why not")
	assert.ErrorIs(t, err, entity.ErrInvalidState)
}

func TestRunEscalationCascade(t *testing.T) {
	f := newFixture(t)
	step := overdueStep("step-1")
	step.Escalated = true
	step.EscalationLevel = 1
	require.NoError(t, f.steps.Create(context.Background(), step))

	require.NoError(t, f.eng.RunEscalationCascade(context.Background()))

	assert.Equal(t, 2, step.EscalationLevel)
	assert.Equal(t, entity.StepStatusPending, step.Status)

	// Every active manager and admin hears about the cascade.
	escalated := f.notifications.byType(entity.NotificationTaskEscalated)
	require.Len(t, escalated, 2)
	recipients := []string{escalated[0].UserID, escalated[1].UserID}
	assert.ElementsMatch(t, []string{"bob", "dave"}, recipients)
	assert.Equal(t, entity.PriorityUrgent, escalated[0].Priority)
}

func TestCascadeStopsAtMaxLevel(t *testing.T) {
	f := newFixture(t)
	capped := overdueStep("step-capped")
	capped.Escalated = true
	capped.EscalationLevel = entity.MaxEscalationLevel
	below := overdueStep("step-below")
	below.Escalated = true
	below.EscalationLevel = entity.MaxEscalationLevel - 1
	require.NoError(t, f.steps.Create(context.Background(), capped))
	require.NoError(t, f.steps.Create(context.Background(), below))

	// Several cycles: the level is monotonic and never passes the cap.
	for i := 0; i < 3; i++ {
		require.NoError(t, f.eng.RunEscalationCascade(context.Background()))
	}

	assert.Equal(t, entity.MaxEscalationLevel, capped.EscalationLevel)
	assert.Equal(t, entity.MaxEscalationLevel, below.EscalationLevel)

	// Only the below-cap step produced a cascade round (one notification
	// per manager/admin recipient).
	escalated := f.notifications.byType(entity.NotificationTaskEscalated)
	assert.Len(t, escalated, 2)
}

func TestCascadeSkipsRecentlyOverdue(t *testing.T) {
	f := newFixture(t)
	step := overdueStep("step-1")
	step.Escalated = true
	step.EscalationLevel = 1
	recent := testClock.Add(-30 * time.Minute)
	step.DueDate = &recent
	require.NoError(t, f.steps.Create(context.Background(), step))

	require.NoError(t, f.eng.RunEscalationCascade(context.Background()))

	// Inside the grace period the cascade leaves the step alone.
	assert.Equal(t, 1, step.EscalationLevel)
	assert.Empty(t, f.notifications.rows)
}
