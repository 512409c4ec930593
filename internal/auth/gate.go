package auth

import (
	"context"
	"errors"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/catalog"
	"github.com/frahmantamala/consulthub/internal/user"
)

// SystemActor is the actor id recorded for changes made by the seed command.
const SystemActor = "system"

type ProfileReader interface {
	ActiveProfile(ctx context.Context, userID string) (*user.Profile, error)
}

// RoleGate grants administrative authority to active users holding one of
// the configured roles.
type RoleGate struct {
	users ProfileReader
	roles map[catalog.RoleCode]struct{}
}

func NewRoleGate(users ProfileReader, adminRoles []string) (*RoleGate, error) {
	roles := make(map[catalog.RoleCode]struct{}, len(adminRoles))
	for _, r := range adminRoles {
		code, err := catalog.ParseRoleCode(r)
		if err != nil {
			return nil, err
		}
		roles[code] = struct{}{}
	}
	return &RoleGate{users: users, roles: roles}, nil
}

func (g *RoleGate) CanAdminister(ctx context.Context, actorID string) error {
	if actorID == "" {
		return internal.ErrNotAdministrator
	}
	profile, err := g.users.ActiveProfile(ctx, actorID)
	if err != nil {
		if errors.Is(err, internal.ErrUnknownUser) {
			return internal.ErrNotAdministrator.WithCause(err)
		}
		return err
	}
	if _, ok := g.roles[profile.Role]; !ok {
		return internal.ErrNotAdministrator
	}
	return nil
}

// TrustedGate accepts only SystemActor. It backs offline commands run by an
// operator with database access.
type TrustedGate struct{}

func (TrustedGate) CanAdminister(_ context.Context, actorID string) error {
	if actorID != SystemActor {
		return internal.ErrNotAdministrator
	}
	return nil
}
