package memberships

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/backend/internal/middleware"
	"github.com/ledgerdesk/backend/internal/models"
	"github.com/ledgerdesk/backend/pkg/response"
)

// newTestRouter wires the handler behind a stub auth middleware that
// injects the given caller identity, mirroring the production JWT layer.
func newTestRouter(h *Handler, callerID uuid.UUID, platformRole string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, callerID)
		c.Set(middleware.ContextUserRole, platformRole)
		c.Set(middleware.ContextUserEmail, "caller@example.com")
		c.Next()
	})
	r.POST("/organizations/:id/invitations", h.Invite)
	r.POST("/invitations/accept", h.Accept)
	r.DELETE("/memberships/:id", h.Remove)
	r.PATCH("/memberships/:id/role", h.ChangeRole)
	r.GET("/organizations/:id/members", h.ListMembers)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, response.Body) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var parsed response.Body
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	}
	return w, parsed
}

// admitAdmin puts an active admin membership for callerID in the org so
// the handler's capability check passes.
func admitAdmin(t *testing.T, store *memStore, svc *Service, orgID, callerID uuid.UUID) {
	t.Helper()
	m, err := svc.Invite(context.Background(), orgID, "caller@example.com", models.OrgRoleAdmin, callerID)
	require.NoError(t, err)
	_, err = svc.Accept(context.Background(), *m.InvitationToken, callerID)
	require.NoError(t, err)
}

func TestHandlerInviteCreated(t *testing.T) {
	store := newMemStore()
	orgID := store.addOrg(5)
	svc := NewService(store, nil, nil)
	callerID := uuid.New()
	admitAdmin(t, store, svc, orgID, callerID)

	r := newTestRouter(NewHandler(svc, store, nil), callerID, "user")
	w, body := doJSON(t, r, http.MethodPost, "/organizations/"+orgID.String()+"/invitations",
		InviteRequest{Email: "new@example.com", Role: "member"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, body.Success)
}

func TestHandlerInviteSeatLimitCode(t *testing.T) {
	store := newMemStore()
	orgID := store.addOrg(1)
	svc := NewService(store, nil, nil)
	callerID := uuid.New()
	admitAdmin(t, store, svc, orgID, callerID) // consumes the only seat

	r := newTestRouter(NewHandler(svc, store, nil), callerID, "user")
	w, body := doJSON(t, r, http.MethodPost, "/organizations/"+orgID.String()+"/invitations",
		InviteRequest{Email: "new@example.com", Role: "member"})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeSeatLimitExceeded, body.Code)
}

func TestHandlerInviteForbiddenForNonMember(t *testing.T) {
	store := newMemStore()
	orgID := store.addOrg(5)
	svc := NewService(store, nil, nil)

	r := newTestRouter(NewHandler(svc, store, nil), uuid.New(), "user")
	w, _ := doJSON(t, r, http.MethodPost, "/organizations/"+orgID.String()+"/invitations",
		InviteRequest{Email: "new@example.com", Role: "member"})

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandlerInviteViewerLacksCapability(t *testing.T) {
	store := newMemStore()
	orgID := store.addOrg(5)
	svc := NewService(store, nil, nil)
	callerID := uuid.New()

	m, err := svc.Invite(context.Background(), orgID, "caller@example.com", models.OrgRoleViewer, callerID)
	require.NoError(t, err)
	_, err = svc.Accept(context.Background(), *m.InvitationToken, callerID)
	require.NoError(t, err)

	r := newTestRouter(NewHandler(svc, store, nil), callerID, "user")
	w, _ := doJSON(t, r, http.MethodPost, "/organizations/"+orgID.String()+"/invitations",
		InviteRequest{Email: "new@example.com", Role: "member"})

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandlerPlatformAdminBypassesOrgAccess(t *testing.T) {
	store := newMemStore()
	orgID := store.addOrg(5)
	svc := NewService(store, nil, nil)

	r := newTestRouter(NewHandler(svc, store, nil), uuid.New(), "admin")
	w, _ := doJSON(t, r, http.MethodPost, "/organizations/"+orgID.String()+"/invitations",
		InviteRequest{Email: "new@example.com", Role: "member"})

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHandlerAcceptInvalidTokenCode(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, nil)

	r := newTestRouter(NewHandler(svc, store, nil), uuid.New(), "user")
	w, body := doJSON(t, r, http.MethodPost, "/invitations/accept", AcceptRequest{Token: "bogus"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidOrExpiredToken, body.Code)
}

func TestHandlerAcceptActivates(t *testing.T) {
	store := newMemStore()
	orgID := store.addOrg(5)
	svc := NewService(store, nil, nil)
	callerID := uuid.New()

	m, err := svc.Invite(context.Background(), orgID, "caller@example.com", models.OrgRoleMember, uuid.New())
	require.NoError(t, err)

	r := newTestRouter(NewHandler(svc, store, nil), callerID, "user")
	w, body := doJSON(t, r, http.MethodPost, "/invitations/accept", AcceptRequest{Token: *m.InvitationToken})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, body.Success)
}

func TestHandlerRemoveIdempotent(t *testing.T) {
	store := newMemStore()
	orgID := store.addOrg(5)
	svc := NewService(store, nil, nil)
	callerID := uuid.New()
	admitAdmin(t, store, svc, orgID, callerID)

	m, err := svc.Invite(context.Background(), orgID, "target@example.com", models.OrgRoleMember, callerID)
	require.NoError(t, err)

	r := newTestRouter(NewHandler(svc, store, nil), callerID, "user")
	w, _ := doJSON(t, r, http.MethodDelete, "/memberships/"+m.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = doJSON(t, r, http.MethodDelete, "/memberships/"+m.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandlerRemoveUnknownMembership(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, nil)

	r := newTestRouter(NewHandler(svc, store, nil), uuid.New(), "admin")
	w, _ := doJSON(t, r, http.MethodDelete, "/memberships/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerListMembers(t *testing.T) {
	store := newMemStore()
	orgID := store.addOrg(5)
	svc := NewService(store, nil, nil)
	callerID := uuid.New()
	admitAdmin(t, store, svc, orgID, callerID)

	_, err := svc.Invite(context.Background(), orgID, "other@example.com", models.OrgRoleMember, callerID)
	require.NoError(t, err)

	r := newTestRouter(NewHandler(svc, store, nil), callerID, "user")
	w, body := doJSON(t, r, http.MethodGet, "/organizations/"+orgID.String()+"/members", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	members, ok := body.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, members, 2)
}
