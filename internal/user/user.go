package user

import (
	"time"

	"github.com/frahmantamala/consulthub/internal/catalog"
	accessDatamodel "github.com/frahmantamala/consulthub/internal/core/datamodel/access"
)

type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusInvited     Status = "INVITED"
	StatusSuspended   Status = "SUSPENDED"
	StatusDeactivated Status = "DEACTIVATED"
)

// Profile is the application-side view of a user. Role is kept as stored;
// callers that need a closed RoleCode go through catalog.ParseRoleCode.
type Profile struct {
	ID        string           `json:"id"`
	Email     string           `json:"email"`
	FullName  string           `json:"full_name"`
	Role      catalog.RoleCode `json:"role"`
	Status    Status           `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (p *Profile) IsActive() bool {
	return p.Status == StatusActive
}

func ToDataModel(p *Profile) *accessDatamodel.UserProfile {
	return &accessDatamodel.UserProfile{
		ID:        p.ID,
		Email:     p.Email,
		FullName:  p.FullName,
		Role:      string(p.Role),
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func FromDataModel(u *accessDatamodel.UserProfile) *Profile {
	return &Profile{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      catalog.RoleCode(u.Role),
		Status:    Status(u.Status),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
