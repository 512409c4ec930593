package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/catalog"
	accessDatamodel "github.com/frahmantamala/consulthub/internal/core/datamodel/access"
	"github.com/frahmantamala/consulthub/internal/core/common/validation"
)

// Repository returns nil, nil when the profile does not exist.
type Repository interface {
	GetByID(ctx context.Context, id string) (*accessDatamodel.UserProfile, error)
	Upsert(ctx context.Context, u *accessDatamodel.UserProfile) error
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// GetProfile returns the profile in any status; ErrUnknownUser only when no
// row exists.
func (s *Service) GetProfile(ctx context.Context, id string) (*Profile, error) {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user profile %s: %w", id, err)
	}
	if row == nil {
		return nil, internal.ErrUnknownUser.WithMessage(fmt.Sprintf("user %q does not exist", id))
	}
	return FromDataModel(row), nil
}

// ActiveProfile additionally requires status ACTIVE.
func (s *Service) ActiveProfile(ctx context.Context, id string) (*Profile, error) {
	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive() {
		return nil, internal.ErrUnknownUser.WithMessage(fmt.Sprintf("user %q is %s", id, p.Status))
	}
	return p, nil
}

type UpsertRequest struct {
	ID       string `json:"id" validate:"required,uuid"`
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required,max=200"`
	Role     string `json:"role" validate:"required"`
	Status   string `json:"status" validate:"required,oneof=ACTIVE INVITED SUSPENDED DEACTIVATED"`
}

// Upsert provisions a profile; used to bootstrap the first administrator.
func (s *Service) Upsert(ctx context.Context, req UpsertRequest) (*Profile, error) {
	if appErr := validation.Struct(req); appErr != nil {
		return nil, appErr
	}
	role, err := catalog.ParseRoleCode(req.Role)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		ID:       req.ID,
		Email:    req.Email,
		FullName: req.FullName,
		Role:     role,
		Status:   Status(req.Status),
	}
	if err := s.repo.Upsert(ctx, ToDataModel(p)); err != nil {
		return nil, fmt.Errorf("upsert user profile %s: %w", req.ID, err)
	}
	s.logger.InfoContext(ctx, "user profile provisioned", "user_id", p.ID, "role", p.Role, "status", p.Status)
	return s.GetProfile(ctx, p.ID)
}
