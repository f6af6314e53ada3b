// AngelaMos | 2026
// service.go

package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
)

type Service struct {
	repo      Repository
	publisher realtime.Publisher
	logger    *slog.Logger
}

func NewService(
	repo Repository,
	publisher realtime.Publisher,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// Create inserts a member profile. New profiles always start as members;
// only an admin can change the role afterwards.
func (s *Service) Create(
	ctx context.Context,
	id, email, fullName string,
) (*Profile, error) {
	p := &Profile{
		ID:       id,
		Email:    core.NormalizeEmail(email),
		FullName: fullName,
		Role:     RoleMember,
	}
	if p.FullName == "" {
		p.FullName = FullNameFrom(p.Email, nil)
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.publish(ctx, realtime.EventInsert, p)
	return p, nil
}

// Provision returns the identity's profile, creating it when missing. A
// concurrent create that wins the race is treated as success.
func (s *Service) Provision(
	ctx context.Context,
	id, email string,
	metadata map[string]string,
) (*Profile, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("provision profile: %w", err)
	}

	created, err := s.Create(ctx, id, email, FullNameFrom(email, metadata))
	if errors.Is(err, ErrAlreadyExists) {
		return s.repo.GetByID(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("provision profile: %w", err)
	}

	return created, nil
}

func (s *Service) UpdateFullName(
	ctx context.Context,
	id, fullName string,
) (*Profile, error) {
	p, err := s.repo.UpdateFullName(ctx, id, fullName)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, realtime.EventUpdate, p)
	return p, nil
}

func (s *Service) UpdateRole(
	ctx context.Context,
	id string,
	role Role,
) (*Profile, error) {
	if !role.Valid() {
		return nil, fmt.Errorf(
			"update role: invalid role %q: %w",
			string(role),
			core.ErrInvalidInput,
		)
	}

	p, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		return nil, err
	}

	s.logger.Info("profile role changed",
		"user_id", id,
		"role", role.String(),
	)

	s.publish(ctx, realtime.EventUpdate, p)
	return p, nil
}

func (s *Service) List(
	ctx context.Context,
	params ListProfilesParams,
) ([]Profile, int, error) {
	return s.repo.List(ctx, params)
}

func (s *Service) CountByRole(ctx context.Context) ([]RoleCount, error) {
	return s.repo.CountByRole(ctx)
}

// IsAdmin reports whether userID currently holds the admin role. A missing
// profile is not an admin.
func (s *Service) IsAdmin(ctx context.Context, userID string) (bool, error) {
	p, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.IsAdmin(), nil
}

func (s *Service) publish(
	ctx context.Context,
	eventType realtime.EventType,
	p *Profile,
) {
	if s.publisher == nil {
		return
	}

	evt, err := realtime.NewEvent(realtime.ProfileTopic(p.ID), eventType, p)
	if err != nil {
		s.logger.Warn("build profile event", "user_id", p.ID, "error", err)
		return
	}

	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish profile event",
			"user_id", p.ID,
			"type", eventType,
			"error", err,
		)
	}
}
