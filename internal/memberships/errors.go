package memberships

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Domain errors surfaced by the membership store and service. Business
// rule failures are returned as-is and are never retried here; anything
// else is an infrastructure error with the transaction fully rolled back.
var (
	// ErrSeatLimitExceeded means the organization already holds
	// member_limit active plus pending memberships. No row was written.
	ErrSeatLimitExceeded = errors.New("seat limit exceeded")

	// ErrDuplicateMembership means the user already has a membership in
	// the organization.
	ErrDuplicateMembership = errors.New("duplicate membership")

	// ErrInvalidOrExpiredToken means no pending, unexpired invitation
	// matches the presented token.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired invitation token")

	// ErrTokenConflict means a freshly generated invitation token collided
	// with an existing one. Callers regenerate and retry.
	ErrTokenConflict = errors.New("invitation token conflict")

	// ErrOrganizationNotFound means the target organization does not exist.
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrMembershipNotFound means no membership matches the given id.
	ErrMembershipNotFound = errors.New("membership not found")

	// ErrInvalidRole means the requested role is not in the role catalog.
	ErrInvalidRole = errors.New("invalid role")
)

// Error codes for API responses.
const (
	CodeSeatLimitExceeded     = "SEAT_LIMIT_EXCEEDED"
	CodeDuplicateMembership   = "DUPLICATE_MEMBERSHIP"
	CodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
)

// PostgreSQL unique_violation constraint names from the schema.
const (
	constraintMemberToken = "idx_memberships_invitation_token"
	constraintMemberUser  = "idx_memberships_org_user"
)

// translateUnique maps a unique_violation (23505) to the matching domain
// error, or returns err unchanged for anything else.
func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintMemberToken:
		return ErrTokenConflict
	case constraintMemberUser:
		return ErrDuplicateMembership
	}
	return err
}
