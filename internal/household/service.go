// Package household manages houses and member assignment: house creation,
// invite resolution, and the member lists that drive assignment pickers.
package household

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukerupert/questboard/internal/model"
	"github.com/dukerupert/questboard/internal/quest"
	"github.com/dukerupert/questboard/internal/store"
)

type Service struct {
	houses  *store.HouseStore
	members *store.MemberStore
	logger  *slog.Logger
}

func NewService(houses *store.HouseStore, members *store.MemberStore, logger *slog.Logger) *Service {
	return &Service{houses: houses, members: members, logger: logger}
}

// CreateHouse creates a house owned by the founder and makes the founder its
// first parent. The two writes are not atomic: if the profile update fails
// the house row stays behind and the error is surfaced to the caller rather
// than recovered silently.
func (s *Service) CreateHouse(ctx context.Context, founderID int64, name string) (*model.House, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: house name is required", quest.ErrValidation)
	}

	founder, err := s.members.GetByID(founderID)
	if err != nil {
		return nil, fmt.Errorf("get founder: %w", err)
	}
	if founder == nil {
		return nil, fmt.Errorf("%w: member %d", quest.ErrNotFound, founderID)
	}

	house, err := s.houses.Create(name, founderID)
	if err != nil {
		return nil, fmt.Errorf("create house: %w", err)
	}

	if _, err := s.members.AssignHouse(founderID, house.ID, model.RoleParent); err != nil {
		s.logger.Error("house created but founder not assigned", "house_id", house.ID, "member_id", founderID, "error", err)
		return nil, fmt.Errorf("assign founder to house %d: %w", house.ID, err)
	}

	s.logger.Info("house created", "house_id", house.ID, "owner_id", founderID)
	return house, nil
}

// GetHouse returns a house by id, nil error with quest.ErrNotFound wrapping
// when it does not exist.
func (s *Service) GetHouse(ctx context.Context, houseID int64) (*model.House, error) {
	house, err := s.houses.GetByID(houseID)
	if err != nil {
		return nil, fmt.Errorf("get house: %w", err)
	}
	if house == nil {
		return nil, fmt.Errorf("%w: house %d", quest.ErrNotFound, houseID)
	}
	return house, nil
}

// RenameHouse updates the house name. Only the name is mutable after creation.
func (s *Service) RenameHouse(ctx context.Context, actor quest.Actor, name string) (*model.House, error) {
	if actor.Role != model.RoleParent {
		return nil, fmt.Errorf("%w: only parents can rename the house", quest.ErrPermission)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: house name is required", quest.ErrValidation)
	}
	house, err := s.houses.UpdateName(actor.HouseID, name)
	if err != nil {
		return nil, fmt.Errorf("rename house: %w", err)
	}
	if house == nil {
		return nil, fmt.Errorf("%w: house %d", quest.ErrNotFound, actor.HouseID)
	}
	return house, nil
}

// ResolvePendingInvite puts the member into the house with the invited role.
// Idempotent: replaying the same invite is a no-op in effect.
func (s *Service) ResolvePendingInvite(ctx context.Context, userID, houseID int64, role model.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", quest.ErrValidation, role)
	}

	house, err := s.houses.GetByID(houseID)
	if err != nil {
		return fmt.Errorf("get house: %w", err)
	}
	if house == nil {
		return fmt.Errorf("%w: house %d", quest.ErrNotFound, houseID)
	}

	member, err := s.members.GetByID(userID)
	if err != nil {
		return fmt.Errorf("get member: %w", err)
	}
	if member == nil {
		return fmt.Errorf("%w: member %d", quest.ErrNotFound, userID)
	}

	if _, err := s.members.AssignHouse(userID, houseID, role); err != nil {
		return fmt.Errorf("resolve invite: %w", err)
	}

	s.logger.Info("invite resolved", "member_id", userID, "house_id", houseID, "role", role)
	return nil
}

// ListMembers returns every member of the house, role-unscoped.
func (s *Service) ListMembers(ctx context.Context, houseID int64) ([]model.Member, error) {
	members, err := s.members.ListByHouse(houseID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}
