package memberships

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerdesk/backend/internal/models"
	"github.com/ledgerdesk/backend/internal/roles"
)

const (
	// InvitationTTL is how long an issued invitation stays redeemable.
	InvitationTTL = 7 * 24 * time.Hour
	// tokenInsertRetries bounds regeneration when a generated token
	// collides with an existing one.
	tokenInsertRetries = 3
)

// Store is the persistence surface the service needs. Implemented by
// *Repository; tests use an in-memory fake with the same semantics.
type Store interface {
	CreateInvite(ctx context.Context, p InviteParams) (*models.Membership, error)
	RedeemToken(ctx context.Context, token string, userID uuid.UUID, now time.Time) (*models.Membership, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Membership, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role models.OrgRole) (*models.Membership, error)
	SyncUserOrgRole(ctx context.Context, userID uuid.UUID, role models.OrgRole) error
}

// Notifier is informed after a successful invite. Fire-and-forget: it runs
// after the membership is committed and its failure never undoes the invite.
type Notifier interface {
	InvitationCreated(ctx context.Context, m *models.Membership, token string)
}

// Service implements the membership and invitation lifecycle.
type Service struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a membership service. notifier may be nil.
func NewService(store Store, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// Invite admits a pending membership for email under the organization's
// seat limit and issues a single-use invitation token valid for
// InvitationTTL. Returns ErrSeatLimitExceeded with no row written when the
// organization is full.
func (s *Service) Invite(ctx context.Context, orgID uuid.UUID, email string, role models.OrgRole, invitedBy uuid.UUID) (*models.Membership, error) {
	if !models.ValidOrgRole(string(role)) {
		return nil, ErrInvalidRole
	}

	var m *models.Membership
	var token string
	for attempt := 0; ; attempt++ {
		t, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("generate invitation token: %w", err)
		}
		m, err = s.store.CreateInvite(ctx, InviteParams{
			OrganizationID: orgID,
			Email:          email,
			Role:           role,
			InvitedBy:      invitedBy,
			Token:          t,
			Expiry:         s.now().Add(InvitationTTL),
		})
		if errors.Is(err, ErrTokenConflict) && attempt < tokenInsertRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		token = t
		break
	}

	s.logger.Info("invitation created",
		zap.String("membership_id", m.ID.String()),
		zap.String("organization_id", orgID.String()),
		zap.String("email", email),
		zap.String("role", string(role)),
	)
	if s.notifier != nil {
		s.notifier.InvitationCreated(ctx, m, token)
	}
	return m, nil
}

// Accept redeems an invitation token for userID, activating the pending
// membership. The token is consumed exactly once; a second attempt fails
// with ErrInvalidOrExpiredToken.
func (s *Service) Accept(ctx context.Context, token string, userID uuid.UUID) (*models.Membership, error) {
	m, err := s.store.RedeemToken(ctx, token, userID, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("invitation accepted",
		zap.String("membership_id", m.ID.String()),
		zap.String("organization_id", m.OrganizationID.String()),
		zap.String("user_id", userID.String()),
	)
	return m, nil
}

// Remove transitions a membership to inactive. Idempotent on an already
// inactive membership.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	return s.store.Deactivate(ctx, id)
}

// Get returns a membership by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Membership, error) {
	return s.store.GetByID(ctx, id)
}

// ChangeRole updates a membership's role. The denormalized role copy on
// the user profile is refreshed afterwards, best-effort: a failure there
// is logged and does not undo the committed role change.
func (s *Service) ChangeRole(ctx context.Context, id uuid.UUID, role models.OrgRole) (*models.Membership, error) {
	if !models.ValidOrgRole(string(role)) {
		return nil, ErrInvalidRole
	}
	m, err := s.store.UpdateRole(ctx, id, role)
	if err != nil {
		return nil, err
	}
	if m.UserID != nil {
		if err := s.store.SyncUserOrgRole(ctx, *m.UserID, role); err != nil {
			s.logger.Warn("user org_role sync failed",
				zap.String("user_id", m.UserID.String()),
				zap.String("role", string(role)),
				zap.Error(err),
			)
		}
	}
	return m, nil
}

// EffectivePermissions resolves a membership's capability set: role
// defaults from the catalog plus the membership's own overrides.
func (s *Service) EffectivePermissions(m *models.Membership) map[string]bool {
	return roles.Effective(m.Role, m.Permissions)
}

// generateToken returns a 43-char URL-safe token from 32 random bytes.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b)[:43], nil
}
