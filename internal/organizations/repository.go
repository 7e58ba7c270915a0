package organizations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerdesk/backend/internal/models"
)

// ErrNotFound means no organization matches the lookup.
var ErrNotFound = errors.New("organization not found")

// Repository handles organization persistence. The membership subsystem
// treats organizations as read-only: member_limit is written here and
// only read (under lock) by the admission path.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an organizations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create creates an organization.
func (r *Repository) Create(ctx context.Context, org *models.Organization) error {
	const q = `INSERT INTO organizations (id, name, slug, member_limit, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, org.Name, org.Slug, org.MemberLimit, string(org.Status)).
		Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
}

// GetByID returns an organization by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	const q = `SELECT id, name, slug, member_limit, status, created_at, updated_at FROM organizations WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, id))
}

// GetBySlug returns an organization by slug.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	const q = `SELECT id, name, slug, member_limit, status, created_at, updated_at FROM organizations WHERE slug = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, slug))
}

// UpdateMemberLimit changes the seat capacity. Raising it frees seats
// immediately; lowering it never evicts existing members, it only blocks
// new admissions until attrition brings the count back under the cap.
func (r *Repository) UpdateMemberLimit(ctx context.Context, id uuid.UUID, limit int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE organizations SET member_limit = $2, updated_at = NOW() WHERE id = $1`, id, limit)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForUser returns organizations where the user has an active membership.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Organization, error) {
	const q = `SELECT o.id, o.name, o.slug, o.member_limit, o.status, o.created_at, o.updated_at
		FROM organizations o
		INNER JOIN memberships m ON m.organization_id = o.id
		WHERE m.user_id = $1 AND m.status = 'active'
		ORDER BY o.name`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Organization
	for rows.Next() {
		var o models.Organization
		var status string
		if err := rows.Scan(&o.ID, &o.Name, &o.Slug, &o.MemberLimit, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Status = models.OrganizationStatus(status)
		list = append(list, &o)
	}
	return list, rows.Err()
}

func (r *Repository) scanOne(row pgx.Row) (*models.Organization, error) {
	var o models.Organization
	var status string
	err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.MemberLimit, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.Status = models.OrganizationStatus(status)
	return &o, nil
}
