package models

import (
	"time"

	"github.com/google/uuid"
)

// MembershipStatus is the lifecycle state of a membership.
type MembershipStatus string

const (
	// MembershipPending is an issued invitation that has not been accepted yet.
	MembershipPending MembershipStatus = "pending"
	// MembershipActive is an accepted membership bound to a user.
	MembershipActive MembershipStatus = "active"
	// MembershipInactive is a removed membership, kept for audit.
	MembershipInactive MembershipStatus = "inactive"
)

// OrgRole is the role of a member within an organization.
type OrgRole string

const (
	OrgRoleOwner   OrgRole = "owner"
	OrgRoleAdmin   OrgRole = "admin"
	OrgRoleManager OrgRole = "manager"
	OrgRoleMember  OrgRole = "member"
	OrgRoleViewer  OrgRole = "viewer"
)

// ValidOrgRole reports whether s is a known organization role.
func ValidOrgRole(s string) bool {
	switch OrgRole(s) {
	case OrgRoleOwner, OrgRoleAdmin, OrgRoleManager, OrgRoleMember, OrgRoleViewer:
		return true
	}
	return false
}

// Membership links a user (or a pending invitee identified only by email)
// to an organization with a role and a set of permission overrides.
//
// Pending rows always carry an invitation token and expiry and no user id;
// active rows always carry a user id and no token. The schema enforces both.
type Membership struct {
	ID               uuid.UUID        `json:"id"`
	OrganizationID   uuid.UUID        `json:"organization_id"`
	UserID           *uuid.UUID       `json:"user_id,omitempty"`
	Email            string           `json:"email"`
	Role             OrgRole          `json:"role"`
	Status           MembershipStatus `json:"status"`
	InvitationToken  *string          `json:"invitation_token,omitempty"`
	InvitationExpiry *time.Time       `json:"invitation_expiry,omitempty"`
	InvitedBy        uuid.UUID        `json:"invited_by"`
	Permissions      map[string]bool  `json:"permissions,omitempty"`
	LastAccessed     *time.Time       `json:"last_accessed,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
