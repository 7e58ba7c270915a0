package memberships

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerdesk/backend/internal/models"
)

const membershipColumns = `id, organization_id, user_id, email, role, status,
	invitation_token, invitation_expiry, invited_by, permissions, last_accessed,
	created_at, updated_at`

// Repository handles membership persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a memberships repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InviteParams describes a pending membership to be admitted.
type InviteParams struct {
	OrganizationID uuid.UUID
	Email          string
	Role           models.OrgRole
	InvitedBy      uuid.UUID
	Token          string
	Expiry         time.Time
	Permissions    map[string]bool
}

// CreateInvite admits a pending membership under the organization's seat
// limit. The organization row is locked FOR UPDATE, the active+pending
// count is recomputed under that lock, and the insert happens in the same
// transaction, so two concurrent invites can never both observe the last
// free seat.
func (r *Repository) CreateInvite(ctx context.Context, p InviteParams) (*models.Membership, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var memberLimit int
	err = tx.QueryRow(ctx,
		`SELECT member_limit FROM organizations WHERE id = $1 FOR UPDATE`,
		p.OrganizationID,
	).Scan(&memberLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("lock organization: %w", err)
	}

	var count int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM memberships
		 WHERE organization_id = $1 AND status IN ('active', 'pending')`,
		p.OrganizationID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}
	if count >= memberLimit {
		return nil, ErrSeatLimitExceeded
	}

	perms := p.Permissions
	if perms == nil {
		perms = map[string]bool{}
	}
	const q = `INSERT INTO memberships
		(id, organization_id, email, role, status, invitation_token, invitation_expiry, invited_by, permissions)
		VALUES (gen_random_uuid(), $1, $2, $3, 'pending', $4, $5, $6, $7)
		RETURNING ` + membershipColumns
	m, err := scanMembership(tx.QueryRow(ctx, q,
		p.OrganizationID, p.Email, string(p.Role), p.Token, p.Expiry, p.InvitedBy, perms))
	if err != nil {
		return nil, translateUnique(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// CreateFounder admits the organization creator directly as an active
// owner, under the same lock-and-recount discipline as CreateInvite.
func (r *Repository) CreateFounder(ctx context.Context, orgID, userID uuid.UUID, email string) (*models.Membership, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var memberLimit int
	err = tx.QueryRow(ctx,
		`SELECT member_limit FROM organizations WHERE id = $1 FOR UPDATE`, orgID,
	).Scan(&memberLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("lock organization: %w", err)
	}

	var count int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM memberships
		 WHERE organization_id = $1 AND status IN ('active', 'pending')`,
		orgID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}
	if count >= memberLimit {
		return nil, ErrSeatLimitExceeded
	}

	const q = `INSERT INTO memberships
		(id, organization_id, user_id, email, role, status, invited_by, permissions)
		VALUES (gen_random_uuid(), $1, $2, $3, 'owner', 'active', $2, '{}')
		RETURNING ` + membershipColumns
	m, err := scanMembership(tx.QueryRow(ctx, q, orgID, userID, email))
	if err != nil {
		return nil, translateUnique(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// RedeemToken atomically converts a pending membership into an active one.
// The predicate (pending, unexpired, matching token) is evaluated by the
// UPDATE itself, so a token is consumable exactly once.
func (r *Repository) RedeemToken(ctx context.Context, token string, userID uuid.UUID, now time.Time) (*models.Membership, error) {
	const q = `UPDATE memberships
		SET user_id = $2, status = 'active', invitation_token = NULL,
		    invitation_expiry = NULL, updated_at = NOW()
		WHERE invitation_token = $1 AND status = 'pending' AND invitation_expiry > $3
		RETURNING ` + membershipColumns
	m, err := scanMembership(r.pool.QueryRow(ctx, q, token, userID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, translateUnique(err)
	}
	return m, nil
}

// Deactivate transitions a membership to inactive, clearing any pending
// invitation credentials. Idempotent on an already inactive row.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE memberships
		 SET status = 'inactive', invitation_token = NULL, invitation_expiry = NULL, updated_at = NOW()
		 WHERE id = $1 AND status <> 'inactive'`,
		id)
	if err != nil {
		return fmt.Errorf("deactivate membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already inactive, or gone entirely.
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM memberships WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if !exists {
			return ErrMembershipNotFound
		}
	}
	return nil
}

// GetByID returns a membership by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Membership, error) {
	m, err := scanMembership(r.pool.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return m, nil
}

// GetActiveByUserAndOrg returns the caller's active membership in the
// organization, or nil if none.
func (r *Repository) GetActiveByUserAndOrg(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error) {
	m, err := scanMembership(r.pool.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE organization_id = $1 AND user_id = $2 AND status = 'active'`,
		orgID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// ListByOrganization returns all memberships for an organization, oldest first.
func (r *Repository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.Membership, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE organization_id = $1 ORDER BY created_at ASC`,
		orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// CountActiveAndPending returns the number of seats an organization
// currently consumes. Advisory outside a CreateInvite transaction.
func (r *Repository) CountActiveAndPending(ctx context.Context, orgID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM memberships
		 WHERE organization_id = $1 AND status IN ('active', 'pending')`,
		orgID).Scan(&count)
	return count, err
}

// UpdateRole changes a membership's role and resets its permission
// overrides to empty (the new role's defaults apply).
func (r *Repository) UpdateRole(ctx context.Context, id uuid.UUID, role models.OrgRole) (*models.Membership, error) {
	const q = `UPDATE memberships
		SET role = $2, permissions = '{}', updated_at = NOW()
		WHERE id = $1
		RETURNING ` + membershipColumns
	m, err := scanMembership(r.pool.QueryRow(ctx, q, id, string(role)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return m, nil
}

// SyncUserOrgRole refreshes the denormalized role copy on the user
// profile. Best-effort and outside the role change transaction.
func (r *Repository) SyncUserOrgRole(ctx context.Context, userID uuid.UUID, role models.OrgRole) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET org_role = $2, updated_at = NOW() WHERE id = $1`,
		userID, string(role))
	return err
}

// TouchLastAccessed stamps the advisory last_accessed field.
func (r *Repository) TouchLastAccessed(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE memberships SET last_accessed = $2 WHERE id = $1`, id, now)
	return err
}

// ExpiredInvitation is an expired, unaccepted invitation reclaimed by the reaper.
type ExpiredInvitation struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Email          string
	Role           models.OrgRole
	Expiry         time.Time
}

// DeleteExpiredInvitations removes every pending membership whose
// invitation expired before now and that was never accepted. The predicate
// is part of the DELETE itself and re-evaluated against live rows, never a
// previously captured id list, so an invitation accepted mid-sweep
// (user_id assigned) survives.
func (r *Repository) DeleteExpiredInvitations(ctx context.Context, now time.Time) ([]ExpiredInvitation, error) {
	rows, err := r.pool.Query(ctx,
		`DELETE FROM memberships
		 WHERE status = 'pending' AND invitation_expiry < $1 AND user_id IS NULL
		 RETURNING id, organization_id, email, role, invitation_expiry`,
		now)
	if err != nil {
		return nil, fmt.Errorf("delete expired invitations: %w", err)
	}
	defer rows.Close()
	var reclaimed []ExpiredInvitation
	for rows.Next() {
		var inv ExpiredInvitation
		var role string
		if err := rows.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &role, &inv.Expiry); err != nil {
			return nil, err
		}
		inv.Role = models.OrgRole(role)
		reclaimed = append(reclaimed, inv)
	}
	return reclaimed, rows.Err()
}

func scanMembership(row pgx.Row) (*models.Membership, error) {
	var m models.Membership
	var role, status string
	err := row.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Email, &role, &status,
		&m.InvitationToken, &m.InvitationExpiry, &m.InvitedBy, &m.Permissions,
		&m.LastAccessed, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Role = models.OrgRole(role)
	m.Status = models.MembershipStatus(status)
	return &m, nil
}
