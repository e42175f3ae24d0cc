package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kodix/kodix-server/internal/services"
	"github.com/kodix/kodix-server/pkg/errors"
	"github.com/kodix/kodix-server/pkg/response"
)

// InviteHandler exposes team invitations. Tokens travel by email; the API only
// ever sees them again when the invitee redeems or declines.
type InviteHandler struct {
	invites *services.InviteService
}

func NewInviteHandler(invites *services.InviteService) *InviteHandler {
	return &InviteHandler{invites: invites}
}

type createInviteRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/teams/:id/invites
func (h *InviteHandler) Create(c *gin.Context) {
	var req createInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	_, link, err := h.invites.Create(requestContext(c), currentUserID(c), c.Param("id"), req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"email": req.Email,
		"link":  link,
	})
}

// GET /api/teams/:id/invites
func (h *InviteHandler) ListPending(c *gin.Context) {
	invites, err := h.invites.ListPending(requestContext(c), currentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := make([]gin.H, 0, len(invites))
	for i := range invites {
		payload = append(payload, gin.H{
			"id":         invites[i].ID,
			"email":      invites[i].Email,
			"invited_by": invites[i].InvitedBy,
			"expires_at": invites[i].ExpiresAt,
			"created_at": invites[i].CreatedAt,
		})
	}

	response.Success(c, http.StatusOK, payload)
}

type inviteTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// POST /api/invites/accept
func (h *InviteHandler) Accept(c *gin.Context) {
	var req inviteTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	team, err := h.invites.Accept(requestContext(c), currentUserID(c), req.Token)
	if err != nil {
		response.Error(c, inviteError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"team": teamPayload(team),
	})
}

// POST /api/invites/decline
func (h *InviteHandler) Decline(c *gin.Context) {
	var req inviteTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.invites.Decline(requestContext(c), currentUserID(c), req.Token); err != nil {
		response.Error(c, inviteError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"declined": true})
}

// inviteError maps invite sentinel errors to the API taxonomy. Unknown and
// expired tokens are indistinguishable to the caller.
func inviteError(err error) error {
	switch err {
	case services.ErrInviteNotFound, services.ErrInviteExpired:
		return errors.ErrNotFound
	case services.ErrInviteAlreadyUsed:
		return errors.NewConflict("Invitation has already been accepted")
	default:
		return err
	}
}
