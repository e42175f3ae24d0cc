package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/apps"
	iauth "github.com/kodix/kodix-server/internal/auth"
	"github.com/kodix/kodix-server/internal/auth/providers"
	"github.com/kodix/kodix-server/internal/gates"
	"github.com/kodix/kodix-server/internal/handlers"
	"github.com/kodix/kodix-server/internal/middleware"
	"github.com/kodix/kodix-server/internal/realtime"
	"github.com/kodix/kodix-server/internal/services"
)

// Deps bundles everything the router needs. Construction happens in the
// server bootstrap so the router stays free of configuration parsing.
type Deps struct {
	DB       *gorm.DB
	Sessions *iauth.SessionService
	JWT      *iauth.JWTService
	Gate     *gates.Gate
	Cookies  iauth.CookieWriter
	Local    *providers.LocalProvider
	OAuth    *providers.Registry

	Users   *services.UserService
	Teams   *services.TeamService
	Invites *services.InviteService
	Apps    *services.AppService

	AppRegistry *apps.Registry
	Hub         *realtime.Hub

	// RateStore limits the public auth endpoints; nil disables limiting.
	RateStore      middleware.RateStore
	AuthRatePerMin int
}

// NewRouter builds the Gin engine, wires middleware, and registers all routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("gate must be provided")
	}
	if deps.Users == nil || deps.Teams == nil || deps.Invites == nil || deps.Apps == nil {
		return nil, fmt.Errorf("domain services must be provided")
	}
	if deps.AppRegistry == nil {
		deps.AppRegistry = apps.Default()
	}

	authRate := deps.AuthRatePerMin
	if authRate <= 0 {
		authRate = 30
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	r.GET("/health", handlers.Health(deps.DB))

	authHandler := handlers.NewAuthHandler(deps.Users, deps.Sessions, deps.JWT, deps.Local, deps.OAuth, deps.Cookies)
	teamHandler := handlers.NewTeamHandler(deps.Teams)
	inviteHandler := handlers.NewInviteHandler(deps.Invites)
	appHandler := handlers.NewAppHandler(deps.Apps)
	profileHandler := handlers.NewProfileHandler(deps.Users)

	// Public auth routes. Credential endpoints are rate limited per IP.
	authLimit := middleware.RateLimit(deps.RateStore, authRate, time.Minute)
	auth := r.Group("/api/auth")
	{
		auth.POST("/signup", authLimit, authHandler.SignUp)
		auth.POST("/signin", authLimit, authHandler.SignIn)
		auth.POST("/signout", authHandler.SignOut)
		auth.GET("/providers", authHandler.Providers)
		auth.GET("/oauth/:provider", authHandler.OAuthBegin)
		auth.GET("/oauth/:provider/callback", authHandler.OAuthCallback)
	}

	requireSession := middleware.SessionAuth(deps.Gate, deps.Sessions, deps.Cookies)
	requireTeam := middleware.TeamGate(deps.Gate, deps.Sessions, deps.Cookies)

	// Session-authenticated surface. No active team required: a fresh account
	// must be able to list teams, accept invites, and switch.
	api := r.Group("/api", requireSession)
	{
		api.GET("/auth/me", authHandler.Me)
		api.POST("/auth/token", authHandler.Token)
		api.POST("/auth/password", authHandler.ChangePassword)
		api.GET("/auth/sessions", authHandler.Sessions)
		api.DELETE("/auth/sessions/:id", authHandler.RevokeSession)

		api.PATCH("/profile", profileHandler.Update)

		api.POST("/teams", teamHandler.Create)
		api.GET("/teams", teamHandler.List)
		api.POST("/teams/switch", teamHandler.Switch)
		api.GET("/teams/:id", teamHandler.Get)
		api.DELETE("/teams/:id", teamHandler.Delete)
		api.GET("/teams/:id/members", teamHandler.Members)
		api.DELETE("/teams/:id/members/:userId", teamHandler.RemoveMember)
		api.POST("/teams/:id/leave", teamHandler.Leave)
		api.POST("/teams/:id/invites", inviteHandler.Create)
		api.GET("/teams/:id/invites", inviteHandler.ListPending)

		api.POST("/invites/accept", inviteHandler.Accept)
		api.POST("/invites/decline", inviteHandler.Decline)
	}

	if deps.Hub != nil {
		realtimeHandler := handlers.NewRealtimeHandler(deps.Hub)
		r.GET("/api/realtime/ws", requireSession, realtimeHandler.Serve)
	}

	// Marketplace and installations are scoped to the active team.
	marketplace := r.Group("/api/apps", requireTeam)
	{
		marketplace.GET("", appHandler.Marketplace)
		marketplace.GET("/installed", appHandler.Installed)
		marketplace.POST("/:appId/install", appHandler.Install)
		marketplace.DELETE("/:appId", appHandler.Uninstall)
	}

	// Every catalogue app gets its routes behind its own gate: valid session,
	// active team, and the app installed for that team.
	for _, app := range deps.AppRegistry.GetAll() {
		definition := *app
		group := r.Group(definition.DefaultPath,
			middleware.AppGate(deps.Gate, deps.Sessions, deps.Cookies, definition.ID, ""))
		group.GET("", func(c *gin.Context) {
			handlers.AppHome(c, definition)
		})
	}

	// JWT surface for native clients.
	mobile := r.Group("/api/m", middleware.TokenAuth(deps.JWT))
	{
		mobile.GET("/me", authHandler.MobileMe)
		mobile.GET("/teams", teamHandler.List)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
