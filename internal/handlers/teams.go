package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kodix/kodix-server/internal/models"
	"github.com/kodix/kodix-server/internal/services"
	"github.com/kodix/kodix-server/pkg/errors"
	"github.com/kodix/kodix-server/pkg/response"
)

// TeamHandler exposes team CRUD, membership, and the active-team switch.
type TeamHandler struct {
	teams *services.TeamService
}

func NewTeamHandler(teams *services.TeamService) *TeamHandler {
	return &TeamHandler{teams: teams}
}

type createTeamRequest struct {
	Name string `json:"name" validate:"required,min=2,max=100"`
}

// POST /api/teams
func (h *TeamHandler) Create(c *gin.Context) {
	var req createTeamRequest
	if !bindAndValidate(c, &req) {
		return
	}

	team, err := h.teams.Create(requestContext(c), currentUserID(c), services.CreateTeamInput{Name: req.Name})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, teamPayload(team))
}

// GET /api/teams
func (h *TeamHandler) List(c *gin.Context) {
	teams, err := h.teams.List(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	user, _ := currentUser(c)
	payload := make([]gin.H, 0, len(teams))
	for i := range teams {
		entry := teamPayload(&teams[i])
		entry["active"] = user != nil && user.ActiveTeamID != nil && *user.ActiveTeamID == teams[i].ID
		payload = append(payload, entry)
	}

	response.Success(c, http.StatusOK, payload)
}

// GET /api/teams/:id
func (h *TeamHandler) Get(c *gin.Context) {
	team, err := h.teams.GetByID(requestContext(c), c.Param("id"), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, teamPayload(team))
}

// GET /api/teams/:id/members
func (h *TeamHandler) Members(c *gin.Context) {
	members, err := h.teams.ListMembers(requestContext(c), currentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := make([]gin.H, 0, len(members))
	for i := range members {
		payload = append(payload, gin.H{
			"id":     members[i].ID,
			"name":   members[i].Name,
			"email":  members[i].Email,
			"avatar": members[i].Avatar,
		})
	}

	response.Success(c, http.StatusOK, payload)
}

type switchTeamRequest struct {
	TeamID   string `json:"teamId" validate:"required"`
	Redirect string `json:"redirect"`
}

// POST /api/teams/switch
//
// Moves the caller's active-team pointer and answers with a redirect so the
// client lands on a page rendered for the new team. Non-members are refused.
func (h *TeamHandler) Switch(c *gin.Context) {
	var req switchTeamRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if _, err := h.teams.SwitchActiveTeam(requestContext(c), currentUserID(c), req.TeamID); err != nil {
		response.Error(c, err)
		return
	}

	target := strings.TrimSpace(req.Redirect)
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		target = "/team"
	}
	response.Redirect(c, target)
}

// POST /api/teams/:id/leave
func (h *TeamHandler) Leave(c *gin.Context) {
	if err := h.teams.LeaveTeam(requestContext(c), currentUserID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"left": true})
}

// DELETE /api/teams/:id/members/:userId
func (h *TeamHandler) RemoveMember(c *gin.Context) {
	memberID := strings.TrimSpace(c.Param("userId"))
	if memberID == "" {
		response.Error(c, errors.NewBadRequest("user id is required"))
		return
	}

	if err := h.teams.RemoveMember(requestContext(c), currentUserID(c), c.Param("id"), memberID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

// DELETE /api/teams/:id
func (h *TeamHandler) Delete(c *gin.Context) {
	if err := h.teams.Delete(requestContext(c), currentUserID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

func teamPayload(team *models.Team) gin.H {
	return gin.H{
		"id":         team.ID,
		"name":       team.Name,
		"owner_id":   team.OwnerID,
		"created_at": team.CreatedAt,
	}
}
