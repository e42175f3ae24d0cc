package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/kodix/kodix-server/internal/middleware"
	"github.com/kodix/kodix-server/internal/models"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUser returns the authenticated user placed by the session middleware.
func currentUser(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get(middleware.CtxUserKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok && user != nil
}

// currentUserID returns the authenticated user id from either auth scheme.
func currentUserID(c *gin.Context) string {
	return c.GetString(middleware.CtxUserIDKey)
}

// activeTeam returns the resolved active team when a team gate ran.
func activeTeam(c *gin.Context) (*models.Team, bool) {
	value, ok := c.Get(middleware.CtxTeamKey)
	if !ok {
		return nil, false
	}
	team, ok := value.(*models.Team)
	return team, ok && team != nil
}

// currentSession returns the session placed by the session middleware.
func currentSession(c *gin.Context) (*models.Session, bool) {
	value, ok := c.Get(middleware.CtxSessionKey)
	if !ok {
		return nil, false
	}
	session, ok := value.(*models.Session)
	return session, ok && session != nil
}
