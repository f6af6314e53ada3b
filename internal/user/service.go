// AngelaMos | 2026
// service.go

package user

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carterperez-dev/templates/credit-ledger/internal/auth"
	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/middleware"
)

type Service struct {
	repo   Repository
	admins middleware.AdminChecker
}

// NewService builds the identity store. admins may be nil, in which case no
// user is protected from admin deletion.
func NewService(repo Repository, admins middleware.AdminChecker) *Service {
	return &Service{repo: repo, admins: admins}
}

func (s *Service) GetByID(
	ctx context.Context,
	id string,
) (*auth.UserInfo, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) GetByEmail(
	ctx context.Context,
	email string,
) (*auth.UserInfo, error) {
	user, err := s.repo.GetByEmail(ctx, core.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) Create(
	ctx context.Context,
	email, passwordHash string,
	metadata map[string]string,
	confirmed bool,
) (*auth.UserInfo, error) {
	user := &User{
		ID:           uuid.New().String(),
		Email:        core.NormalizeEmail(email),
		PasswordHash: passwordHash,
		Metadata:     Metadata(metadata),
	}
	if confirmed {
		now := time.Now()
		user.EmailConfirmedAt = &now
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) ConfirmEmail(ctx context.Context, userID string) error {
	return s.repo.ConfirmEmail(ctx, userID)
}

func (s *Service) IncrementTokenVersion(
	ctx context.Context,
	userID string,
) (int, error) {
	return s.repo.IncrementTokenVersion(ctx, userID)
}

func (s *Service) UpdatePassword(
	ctx context.Context,
	userID, passwordHash string,
) error {
	return s.repo.UpdatePassword(ctx, userID, passwordHash)
}

func (s *Service) UpdateMetadata(
	ctx context.Context,
	userID string,
	metadata map[string]string,
) (*auth.UserInfo, error) {
	user, err := s.repo.UpdateMetadata(ctx, userID, Metadata(metadata))
	if err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListUsers(
	ctx context.Context,
	params ListUsersParams,
) ([]User, int, error) {
	return s.repo.List(ctx, params)
}

func (s *Service) GetMe(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, fmt.Errorf("get me: %w", core.ErrUnauthorized)
	}

	return s.repo.GetByID(ctx, userID)
}

func (s *Service) DeleteMe(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("delete me: %w", core.ErrUnauthorized)
	}

	return s.repo.SoftDelete(ctx, userID)
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	return s.repo.SoftDelete(ctx, id)
}

// CanDeleteUser lets admins delete anyone except other admins.
func (s *Service) CanDeleteUser(
	ctx context.Context,
	requesterID, targetID string,
) error {
	if requesterID == targetID {
		return nil
	}

	target, err := s.repo.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if target.IsDeleted() {
		return fmt.Errorf("delete user: %w", core.ErrNotFound)
	}

	if s.admins == nil {
		return nil
	}

	targetIsAdmin, err := s.admins.IsAdmin(ctx, targetID)
	if err != nil {
		return fmt.Errorf("check target role: %w", err)
	}

	if targetIsAdmin {
		return fmt.Errorf("cannot delete admin users: %w", core.ErrForbidden)
	}

	return nil
}

func toUserInfo(u *User) *auth.UserInfo {
	metadata := map[string]string(u.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &auth.UserInfo{
		ID:             u.ID,
		Email:          u.Email,
		PasswordHash:   u.PasswordHash,
		Metadata:       metadata,
		EmailConfirmed: u.IsConfirmed(),
		TokenVersion:   u.TokenVersion,
		CreatedAt:      u.CreatedAt,
	}
}

var _ auth.UserProvider = (*Service)(nil)
