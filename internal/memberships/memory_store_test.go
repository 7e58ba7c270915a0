package memberships

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/backend/internal/models"
)

// memStore is an in-memory Store with the same admission semantics as the
// SQL repository: the mutex plays the role of the organization row lock,
// so the count-check and insert are one atomic unit.
type memStore struct {
	mu     sync.Mutex
	limits map[uuid.UUID]int
	rows   map[uuid.UUID]*models.Membership

	// forceTokenConflicts makes the next N CreateInvite calls fail with
	// ErrTokenConflict to exercise the retry path.
	forceTokenConflicts int
	// syncErr, when set, is returned by SyncUserOrgRole.
	syncErr error
	// syncedRoles records org role propagation per user.
	syncedRoles map[uuid.UUID]models.OrgRole
}

func newMemStore() *memStore {
	return &memStore{
		limits:      make(map[uuid.UUID]int),
		rows:        make(map[uuid.UUID]*models.Membership),
		syncedRoles: make(map[uuid.UUID]models.OrgRole),
	}
}

func (s *memStore) addOrg(limit int) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.limits[id] = limit
	return id
}

func (s *memStore) seatCount(orgID uuid.UUID) int {
	count := 0
	for _, m := range s.rows {
		if m.OrganizationID == orgID &&
			(m.Status == models.MembershipActive || m.Status == models.MembershipPending) {
			count++
		}
	}
	return count
}

func (s *memStore) CreateInvite(ctx context.Context, p InviteParams) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit, ok := s.limits[p.OrganizationID]
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	if s.forceTokenConflicts > 0 {
		s.forceTokenConflicts--
		return nil, ErrTokenConflict
	}
	for _, m := range s.rows {
		if m.InvitationToken != nil && *m.InvitationToken == p.Token {
			return nil, ErrTokenConflict
		}
	}
	if s.seatCount(p.OrganizationID) >= limit {
		return nil, ErrSeatLimitExceeded
	}

	now := time.Now()
	token := p.Token
	expiry := p.Expiry
	perms := p.Permissions
	if perms == nil {
		perms = map[string]bool{}
	}
	m := &models.Membership{
		ID:               uuid.New(),
		OrganizationID:   p.OrganizationID,
		Email:            p.Email,
		Role:             p.Role,
		Status:           models.MembershipPending,
		InvitationToken:  &token,
		InvitationExpiry: &expiry,
		InvitedBy:        p.InvitedBy,
		Permissions:      perms,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.rows[m.ID] = m
	return copyMembership(m), nil
}

func (s *memStore) RedeemToken(ctx context.Context, token string, userID uuid.UUID, now time.Time) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.rows {
		if m.Status != models.MembershipPending || m.InvitationToken == nil || *m.InvitationToken != token {
			continue
		}
		if !m.InvitationExpiry.After(now) {
			return nil, ErrInvalidOrExpiredToken
		}
		for _, other := range s.rows {
			if other.OrganizationID == m.OrganizationID && other.UserID != nil && *other.UserID == userID {
				return nil, ErrDuplicateMembership
			}
		}
		uid := userID
		m.UserID = &uid
		m.Status = models.MembershipActive
		m.InvitationToken = nil
		m.InvitationExpiry = nil
		m.UpdatedAt = now
		return copyMembership(m), nil
	}
	return nil, ErrInvalidOrExpiredToken
}

func (s *memStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return ErrMembershipNotFound
	}
	m.Status = models.MembershipInactive
	m.InvitationToken = nil
	m.InvitationExpiry = nil
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return nil, ErrMembershipNotFound
	}
	return copyMembership(m), nil
}

func (s *memStore) UpdateRole(ctx context.Context, id uuid.UUID, role models.OrgRole) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return nil, ErrMembershipNotFound
	}
	m.Role = role
	m.Permissions = map[string]bool{}
	return copyMembership(m), nil
}

func (s *memStore) SyncUserOrgRole(ctx context.Context, userID uuid.UUID, role models.OrgRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncErr != nil {
		return s.syncErr
	}
	s.syncedRoles[userID] = role
	return nil
}

func (s *memStore) GetActiveByUserAndOrg(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.OrganizationID == orgID && m.Status == models.MembershipActive &&
			m.UserID != nil && *m.UserID == userID {
			return copyMembership(m), nil
		}
	}
	return nil, nil
}

func (s *memStore) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.Membership
	for _, m := range s.rows {
		if m.OrganizationID == orgID {
			list = append(list, copyMembership(m))
		}
	}
	return list, nil
}

func (s *memStore) TouchLastAccessed(ctx context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.rows[id]; ok {
		t := now
		m.LastAccessed = &t
	}
	return nil
}

func (s *memStore) DeleteExpiredInvitations(ctx context.Context, now time.Time) ([]ExpiredInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reclaimed []ExpiredInvitation
	for id, m := range s.rows {
		if m.Status == models.MembershipPending && m.UserID == nil &&
			m.InvitationExpiry != nil && m.InvitationExpiry.Before(now) {
			reclaimed = append(reclaimed, ExpiredInvitation{
				ID:             m.ID,
				OrganizationID: m.OrganizationID,
				Email:          m.Email,
				Role:           m.Role,
				Expiry:         *m.InvitationExpiry,
			})
			delete(s.rows, id)
		}
	}
	return reclaimed, nil
}

func copyMembership(m *models.Membership) *models.Membership {
	out := *m
	if m.UserID != nil {
		uid := *m.UserID
		out.UserID = &uid
	}
	if m.InvitationToken != nil {
		t := *m.InvitationToken
		out.InvitationToken = &t
	}
	if m.InvitationExpiry != nil {
		e := *m.InvitationExpiry
		out.InvitationExpiry = &e
	}
	out.Permissions = make(map[string]bool, len(m.Permissions))
	for k, v := range m.Permissions {
		out.Permissions[k] = v
	}
	return &out
}
