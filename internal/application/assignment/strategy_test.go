package assignment

import (
	"context"
	"errors"
	"testing"

	"github.com/workstream-io/workstream/internal/domain/entity"
)

func TestFirstAssignee(t *testing.T) {
	tests := []struct {
		name string
		def  entity.StepDefinition
		want Assignment
	}{
		{
			name: "user assignment binds first listed",
			def: entity.StepDefinition{
				AssigneeType: entity.AssigneeTypeUser,
				Assignees:    []string{"alice", "bob"},
			},
			want: Assignment{AssignedTo: "alice"},
		},
		{
			name: "role assignment stays unresolved",
			def: entity.StepDefinition{
				AssigneeType: entity.AssigneeTypeRole,
				Assignees:    []string{"manager"},
			},
			want: Assignment{AssignedRole: "manager"},
		},
		{
			name: "department assignment stays unresolved",
			def: entity.StepDefinition{
				AssigneeType: entity.AssigneeTypeDepartment,
				Assignees:    []string{"finance"},
			},
			want: Assignment{AssignedDept: "finance"},
		},
		{
			name: "system step carries nothing",
			def: entity.StepDefinition{
				AssigneeType: entity.AssigneeTypeSystem,
				Assignees:    []string{"automation"},
			},
			want: Assignment{},
		},
		{
			name: "no assignees carries nothing",
			def: entity.StepDefinition{
				AssigneeType: entity.AssigneeTypeUser,
			},
			want: Assignment{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FirstAssignee{}.Assign(&tt.def)
			if got != tt.want {
				t.Errorf("Assign() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

type stubUserRepo struct {
	byRole map[string][]*entity.User
}

func (s *stubUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return nil, entity.ErrNotFound
}

func (s *stubUserRepo) FindActiveByRole(ctx context.Context, role string) ([]*entity.User, error) {
	return s.byRole[role], nil
}

func (s *stubUserRepo) ListDigestSubscribers(ctx context.Context) ([]*entity.User, error) {
	return nil, nil
}

func TestFirstActiveManagerResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("prefers manager", func(t *testing.T) {
		repo := &stubUserRepo{byRole: map[string][]*entity.User{
			entity.RoleManager: {{ID: "mgr-1"}},
			entity.RoleAdmin:   {{ID: "adm-1"}},
		}}
		target, err := FirstActiveManager{}.Resolve(ctx, repo)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if target.ID != "mgr-1" {
			t.Errorf("target = %s, want mgr-1", target.ID)
		}
	})

	t.Run("falls back to admin", func(t *testing.T) {
		repo := &stubUserRepo{byRole: map[string][]*entity.User{
			entity.RoleAdmin: {{ID: "adm-1"}},
		}}
		target, err := FirstActiveManager{}.Resolve(ctx, repo)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if target.ID != "adm-1" {
			t.Errorf("target = %s, want adm-1", target.ID)
		}
	})

	t.Run("nobody to escalate to", func(t *testing.T) {
		repo := &stubUserRepo{byRole: map[string][]*entity.User{}}
		_, err := FirstActiveManager{}.Resolve(ctx, repo)
		if !errors.Is(err, entity.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
