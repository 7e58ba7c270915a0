package organizations

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerdesk/backend/internal/middleware"
	"github.com/ledgerdesk/backend/internal/models"
	"github.com/ledgerdesk/backend/pkg/response"
)

// Slug must be lowercase alphanumeric and hyphens only, 2–64 chars.
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)

// DefaultMemberLimit is applied when a create request omits member_limit.
const DefaultMemberLimit = 5

// MemberStore is the membership surface the organizations handler needs:
// admitting the creator as the first active owner and reporting seat usage.
// Implemented by *memberships.Repository.
type MemberStore interface {
	CreateFounder(ctx context.Context, orgID, userID uuid.UUID, email string) (*models.Membership, error)
	CountActiveAndPending(ctx context.Context, orgID uuid.UUID) (int, error)
}

// Handler handles organization HTTP endpoints.
type Handler struct {
	repo    *Repository
	members MemberStore
	logger  *zap.Logger
}

// NewHandler creates an organizations handler.
func NewHandler(repo *Repository, members MemberStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, members: members, logger: logger}
}

// CreateOrganizationRequest is the body for POST /organizations.
type CreateOrganizationRequest struct {
	Name        string `json:"name" binding:"required"`
	Slug        string `json:"slug" binding:"required"`
	MemberLimit int    `json:"member_limit"`
}

// CreateOrganization handles POST /organizations. Creates the org and
// admits the current user as its first active owner; that seat counts
// against member_limit like any other.
func (h *Handler) CreateOrganization(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	email, _ := c.MustGet(middleware.ContextUserEmail).(string)
	var body CreateOrganizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name and slug required")
		return
	}
	body.Slug = strings.ToLower(strings.TrimSpace(body.Slug))
	if !slugRegex.MatchString(body.Slug) {
		response.BadRequest(c, "slug must be 2–64 chars, lowercase letters, numbers, hyphens only")
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if len(body.Name) < 1 || len(body.Name) > 255 {
		response.BadRequest(c, "name must be 1–255 characters")
		return
	}
	if body.MemberLimit == 0 {
		body.MemberLimit = DefaultMemberLimit
	}
	if body.MemberLimit < 1 {
		response.BadRequest(c, "member_limit must be a positive integer")
		return
	}
	org := &models.Organization{
		Name:        body.Name,
		Slug:        body.Slug,
		MemberLimit: body.MemberLimit,
		Status:      models.OrgStatusActive,
	}
	if err := h.repo.Create(c.Request.Context(), org); err != nil {
		if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique") {
			response.Conflict(c, "An organization with this slug already exists")
			return
		}
		h.logger.Error("create organization failed", zap.Error(err))
		response.Internal(c, "failed to create organization")
		return
	}
	if _, err := h.members.CreateFounder(c.Request.Context(), org.ID, userID, email); err != nil {
		h.logger.Error("admit founder failed", zap.Error(err), zap.String("organization_id", org.ID.String()))
		response.Internal(c, "failed to add you as owner")
		return
	}
	response.Created(c, org)
}

// GetOrganization handles GET /organizations/:id. The response includes
// current seat usage (active plus pending memberships) next to the limit.
func (h *Handler) GetOrganization(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return
	}
	org, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "organization not found")
			return
		}
		response.Internal(c, "failed to load organization")
		return
	}
	used, err := h.members.CountActiveAndPending(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("count seats failed", zap.Error(err), zap.String("organization_id", id.String()))
		response.Internal(c, "failed to load organization")
		return
	}
	response.OK(c, gin.H{
		"organization": org,
		"seats_used":   used,
		"member_limit": org.MemberLimit,
	})
}

// ListMyOrganizations handles GET /organizations. Returns orgs the current user is an active member of.
func (h *Handler) ListMyOrganizations(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	orgs, err := h.repo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to load organizations")
		return
	}
	response.OK(c, orgs)
}

// UpdateMemberLimitRequest is the body for PATCH /organizations/:id/member-limit.
type UpdateMemberLimitRequest struct {
	MemberLimit int `json:"member_limit" binding:"required,min=1"`
}

// UpdateMemberLimit handles PATCH /organizations/:id/member-limit (platform admin only).
func (h *Handler) UpdateMemberLimit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return
	}
	var body UpdateMemberLimitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "member_limit must be a positive integer")
		return
	}
	if err := h.repo.UpdateMemberLimit(c.Request.Context(), id, body.MemberLimit); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "organization not found")
			return
		}
		response.Internal(c, "failed to update member limit")
		return
	}
	response.NoContent(c)
}
