package models

import (
	"time"

	"github.com/google/uuid"
)

// OrganizationStatus is the lifecycle state of a tenant.
type OrganizationStatus string

const (
	OrgStatusActive    OrganizationStatus = "active"
	OrgStatusSuspended OrganizationStatus = "suspended"
)

// Organization represents a tenant. MemberLimit caps the number of
// active plus pending memberships the organization may hold at once.
type Organization struct {
	ID          uuid.UUID          `json:"id"`
	Name        string             `json:"name"`
	Slug        string             `json:"slug"`
	MemberLimit int                `json:"member_limit"`
	Status      OrganizationStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
