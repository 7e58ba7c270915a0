package memberships

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerdesk/backend/internal/middleware"
	"github.com/ledgerdesk/backend/internal/models"
	"github.com/ledgerdesk/backend/internal/roles"
	"github.com/ledgerdesk/backend/pkg/response"
)

// AccessStore answers organization access questions for the handler.
// Implemented by *Repository.
type AccessStore interface {
	GetActiveByUserAndOrg(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.Membership, error)
	TouchLastAccessed(ctx context.Context, id uuid.UUID, now time.Time) error
}

// Handler handles membership and invitation HTTP endpoints.
type Handler struct {
	svc    *Service
	access AccessStore
	logger *zap.Logger
}

// NewHandler creates a memberships handler.
func NewHandler(svc *Service, access AccessStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, access: access, logger: logger}
}

// InviteRequest is the body for POST /organizations/:id/invitations.
type InviteRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required"`
}

// AcceptRequest is the body for POST /invitations/accept.
type AcceptRequest struct {
	Token string `json:"token" binding:"required"`
}

// ChangeRoleRequest is the body for PATCH /memberships/:id/role.
type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// Invite handles POST /organizations/:id/invitations. Requires the caller
// to hold the member.invite capability in the organization.
func (h *Handler) Invite(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return
	}
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "email and role required")
		return
	}
	callerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if !h.allow(c, orgID, callerID, roles.CapMemberInvite) {
		return
	}

	m, err := h.svc.Invite(c.Request.Context(), orgID, req.Email, models.OrgRole(req.Role), callerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, m)
}

// Accept handles POST /invitations/accept. The authenticated user redeems
// the single-use token and becomes an active member.
func (h *Handler) Accept(c *gin.Context) {
	var req AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "token required")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	m, err := h.svc.Accept(c.Request.Context(), req.Token, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, m)
}

// Remove handles DELETE /memberships/:id. Transitions the membership to
// inactive; repeating the call on an inactive membership still returns 204.
func (h *Handler) Remove(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid membership id")
		return
	}
	m, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	callerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if !h.allow(c, m.OrganizationID, callerID, roles.CapMemberRemove) {
		return
	}
	if err := h.svc.Remove(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

// ChangeRole handles PATCH /memberships/:id/role.
func (h *Handler) ChangeRole(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid membership id")
		return
	}
	var req ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "role required")
		return
	}
	m, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	callerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if !h.allow(c, m.OrganizationID, callerID, roles.CapMemberChangeRole) {
		return
	}
	updated, err := h.svc.ChangeRole(c.Request.Context(), id, models.OrgRole(req.Role))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, updated)
}

// ListMembers handles GET /organizations/:id/members.
func (h *Handler) ListMembers(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return
	}
	callerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if !h.allow(c, orgID, callerID, roles.CapMemberView) {
		return
	}
	members, err := h.access.ListByOrganization(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("list members failed", zap.Error(err), zap.String("organization_id", orgID.String()))
		response.Internal(c, "failed to load members")
		return
	}
	response.OK(c, members)
}

// RequireOrgAccess wraps next, admitting only callers who hold the
// member.view capability in the :id organization.
func (h *Handler) RequireOrgAccess(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid organization id")
			return
		}
		callerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
		if !h.allow(c, orgID, callerID, roles.CapMemberView) {
			return
		}
		next(c)
	}
}

// allow checks that the caller holds capability in the organization, writing a
// 403 when not. Platform admins bypass the check.
func (h *Handler) allow(c *gin.Context, orgID, callerID uuid.UUID, capability string) bool {
	if role, _ := c.Get(middleware.ContextUserRole); role == string(models.RoleAdmin) {
		return true
	}
	m, err := h.access.GetActiveByUserAndOrg(c.Request.Context(), orgID, callerID)
	if err != nil {
		h.logger.Error("membership lookup failed", zap.Error(err), zap.String("organization_id", orgID.String()))
		response.Internal(c, "failed to check organization access")
		return false
	}
	if m == nil || !roles.Effective(m.Role, m.Permissions)[capability] {
		response.Forbidden(c, "not authorized for this organization")
		return false
	}
	go func(id uuid.UUID) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.access.TouchLastAccessed(ctx, id, time.Now())
	}(m.ID)
	return true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSeatLimitExceeded):
		response.ErrorCode(c, http.StatusConflict, CodeSeatLimitExceeded, "organization seat limit reached")
	case errors.Is(err, ErrDuplicateMembership):
		response.ErrorCode(c, http.StatusConflict, CodeDuplicateMembership, "user is already a member of this organization")
	case errors.Is(err, ErrInvalidOrExpiredToken):
		response.ErrorCode(c, http.StatusBadRequest, CodeInvalidOrExpiredToken, "invalid or expired invitation token")
	case errors.Is(err, ErrInvalidRole):
		response.BadRequest(c, "unknown role")
	case errors.Is(err, ErrOrganizationNotFound):
		response.NotFound(c, "organization not found")
	case errors.Is(err, ErrMembershipNotFound):
		response.NotFound(c, "membership not found")
	default:
		h.logger.Error("membership operation failed", zap.Error(err))
		response.Internal(c, "internal error")
	}
}
