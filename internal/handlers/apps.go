package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kodix/kodix-server/internal/apps"
	"github.com/kodix/kodix-server/internal/services"
	"github.com/kodix/kodix-server/pkg/errors"
	"github.com/kodix/kodix-server/pkg/response"
)

// AppHome answers the gated landing route of an installed app with its
// catalogue entry and the resolved team. Reaching it at all means the gate
// passed.
func AppHome(c *gin.Context, app apps.App) {
	payload := gin.H{"app": app}
	if team, ok := activeTeam(c); ok {
		payload["team"] = gin.H{"id": team.ID, "name": team.Name}
	}
	response.Success(c, http.StatusOK, payload)
}

// AppHandler exposes the marketplace and per-team installations. All routes
// run behind the team gate, so an active team is always resolved.
type AppHandler struct {
	apps *services.AppService
}

func NewAppHandler(apps *services.AppService) *AppHandler {
	return &AppHandler{apps: apps}
}

// GET /api/apps
func (h *AppHandler) Marketplace(c *gin.Context) {
	team, ok := activeTeam(c)
	if !ok {
		response.Error(c, errors.ErrForbidden)
		return
	}

	entries, err := h.apps.Marketplace(requestContext(c), team.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entries)
}

// GET /api/apps/installed
func (h *AppHandler) Installed(c *gin.Context) {
	team, ok := activeTeam(c)
	if !ok {
		response.Error(c, errors.ErrForbidden)
		return
	}

	installations, err := h.apps.ListInstalled(requestContext(c), team.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := make([]gin.H, 0, len(installations))
	for i := range installations {
		payload = append(payload, gin.H{
			"app_id":       installations[i].AppID,
			"installed_by": installations[i].InstalledBy,
			"created_at":   installations[i].CreatedAt,
		})
	}
	response.Success(c, http.StatusOK, payload)
}

// POST /api/apps/:appId/install
func (h *AppHandler) Install(c *gin.Context) {
	team, ok := activeTeam(c)
	if !ok {
		response.Error(c, errors.ErrForbidden)
		return
	}

	installation, err := h.apps.Install(requestContext(c), currentUserID(c), team.ID, c.Param("appId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"app_id":  installation.AppID,
		"team_id": installation.TeamID,
	})
}

// DELETE /api/apps/:appId
func (h *AppHandler) Uninstall(c *gin.Context) {
	team, ok := activeTeam(c)
	if !ok {
		response.Error(c, errors.ErrForbidden)
		return
	}

	if err := h.apps.Uninstall(requestContext(c), currentUserID(c), team.ID, c.Param("appId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"uninstalled": true})
}
