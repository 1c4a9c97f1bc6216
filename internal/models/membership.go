package models

import (
	"time"

	"github.com/google/uuid"
)

// OrgRole defines the role of a user within an organization.
type OrgRole string

const (
	// OrgRoleOwner has full control over the organization.
	OrgRoleOwner OrgRole = "owner"
	// OrgRoleAdmin can manage members and all resources.
	OrgRoleAdmin OrgRole = "admin"
	// OrgRoleMember can create and manage resources.
	OrgRoleMember OrgRole = "member"
)

// ValidOrgRoles returns all valid organization roles.
func ValidOrgRoles() []OrgRole {
	return []OrgRole{OrgRoleOwner, OrgRoleAdmin, OrgRoleMember}
}

// IsValidOrgRole checks if the given role is a valid organization role.
func IsValidOrgRole(role string) bool {
	for _, r := range ValidOrgRoles() {
		if string(r) == role {
			return true
		}
	}
	return false
}

// MembershipStatus defines the lifecycle state of an organization membership.
type MembershipStatus string

const (
	// MembershipStatusInvited means the user has been invited but not yet joined.
	MembershipStatusInvited MembershipStatus = "invited"
	// MembershipStatusAccepted means the user is an active member.
	MembershipStatusAccepted MembershipStatus = "accepted"
)

// IsValidMembershipStatus checks if the given status is a valid membership status.
func IsValidMembershipStatus(status string) bool {
	switch MembershipStatus(status) {
	case MembershipStatusInvited, MembershipStatusAccepted:
		return true
	}
	return false
}

// OrgMembership represents a user's membership in an organization.
type OrgMembership struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	OrgID     uuid.UUID        `json:"org_id"`
	Role      OrgRole          `json:"role"`
	Status    MembershipStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// OrgMembershipWithUser includes user details for display.
type OrgMembershipWithUser struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	OrgID     uuid.UUID        `json:"org_id"`
	Role      OrgRole          `json:"role"`
	Status    MembershipStatus `json:"status"`
	Email     string           `json:"email"`
	Name      string           `json:"name"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewOrgMembership creates a new OrgMembership.
func NewOrgMembership(userID, orgID uuid.UUID, role OrgRole, status MembershipStatus) *OrgMembership {
	now := time.Now()
	return &OrgMembership{
		ID:        uuid.New(),
		UserID:    userID,
		OrgID:     orgID,
		Role:      role,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsOwner returns true if the membership role is owner.
func (m *OrgMembership) IsOwner() bool {
	return m.Role == OrgRoleOwner
}

// IsAdmin returns true if the membership role is admin or owner.
func (m *OrgMembership) IsAdmin() bool {
	return m.Role == OrgRoleAdmin || m.Role == OrgRoleOwner
}

// IsAccepted returns true if the membership is active.
func (m *OrgMembership) IsAccepted() bool {
	return m.Status == MembershipStatusAccepted
}
