package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/kodix/kodix-server/internal/auth"
	"github.com/kodix/kodix-server/internal/auth/providers"
	"github.com/kodix/kodix-server/internal/models"
	"github.com/kodix/kodix-server/internal/services"
	"github.com/kodix/kodix-server/pkg/crypto"
	"github.com/kodix/kodix-server/pkg/errors"
	"github.com/kodix/kodix-server/pkg/metrics"
	"github.com/kodix/kodix-server/pkg/response"
)

const (
	oauthStateCookie    = "oauth_state"
	oauthNonceCookie    = "oauth_nonce"
	oauthCallbackCookie = "oauth_callback"
	oauthCookieMaxAge   = 10 * 60
)

// AuthHandler manages sign-up, sign-in, sign-out, the mobile token exchange,
// and the redirect-based external provider flows.
type AuthHandler struct {
	users    *services.UserService
	sessions *iauth.SessionService
	jwt      *iauth.JWTService
	local    *providers.LocalProvider
	oauth    *providers.Registry
	cookies  iauth.CookieWriter
}

func NewAuthHandler(
	users *services.UserService,
	sessions *iauth.SessionService,
	jwt *iauth.JWTService,
	local *providers.LocalProvider,
	oauth *providers.Registry,
	cookies iauth.CookieWriter,
) *AuthHandler {
	return &AuthHandler{
		users:    users,
		sessions: sessions,
		jwt:      jwt,
		local:    local,
		oauth:    oauth,
		cookies:  cookies,
	}
}

type signUpRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// POST /api/auth/signup
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req signUpRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.SignUp(requestContext(c), services.SignUpInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	token, _, err := h.sessions.CreateSession(requestContext(c), user.ID, sessionMetadata(c))
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	h.cookies.Write(c, token, h.sessions.TTL())
	response.Success(c, http.StatusCreated, gin.H{
		"user":        userPayload(user),
		"redirect_to": "/team",
	})
}

type signInRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	CallbackURL string `json:"callbackUrl"`
}

// POST /api/auth/signin
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.local.Authenticate(providers.AuthenticateInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, signInError(err))
		return
	}

	token, _, err := h.sessions.CreateSession(requestContext(c), user.ID, sessionMetadata(c))
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	h.cookies.Write(c, token, h.sessions.TTL())
	response.Success(c, http.StatusOK, gin.H{
		"user":        userPayload(user),
		"redirect_to": safeCallbackURL(req.CallbackURL),
	})
}

// POST /api/auth/signout
func (h *AuthHandler) SignOut(c *gin.Context) {
	token := iauth.TokenFromRequest(c)
	if token != "" {
		if err := h.sessions.RevokeByToken(requestContext(c), token); err != nil && err != iauth.ErrSessionNotFound {
			response.Error(c, errors.ErrInternalServer.WithInternal(err))
			return
		}
	}

	h.cookies.Clear(c)
	response.Success(c, http.StatusOK, gin.H{"signed_out": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, userPayload(user))
}

// GET /api/m/me
//
// Profile endpoint for the JWT surface, where only the user id claim is on
// the context.
func (h *AuthHandler) MobileMe(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, userPayload(user))
}

// POST /api/auth/token
//
// Exchanges a valid browser session for a short-lived JWT used by native
// clients against /api/m. The token pins the team that was active at issue
// time.
func (h *AuthHandler) Token(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	input := iauth.AccessTokenInput{UserID: user.ID}
	if session, ok := currentSession(c); ok {
		input.SessionID = session.ID
	}
	if user.ActiveTeamID != nil {
		input.ActiveTeamID = *user.ActiveTeamID
	}

	token, err := h.jwt.GenerateAccessToken(input)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.jwt.AccessTokenTTL() / time.Second),
	})
}

// GET /api/auth/sessions
func (h *AuthHandler) Sessions(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	sessions, err := h.sessions.ListUserSessions(requestContext(c), userID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	current, _ := currentSession(c)
	payload := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		payload = append(payload, gin.H{
			"id":           s.ID,
			"ip_address":   s.IPAddress,
			"user_agent":   s.UserAgent,
			"device_name":  s.DeviceName,
			"last_used_at": s.LastUsedAt,
			"expires_at":   s.ExpiresAt,
			"current":      current != nil && current.ID == s.ID,
		})
	}

	response.Success(c, http.StatusOK, payload)
}

// DELETE /api/auth/sessions/:id
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	sessionID := strings.TrimSpace(c.Param("id"))
	if sessionID == "" {
		response.Error(c, errors.NewBadRequest("session id is required"))
		return
	}

	// Users may only revoke their own sessions.
	owned := false
	sessions, err := h.sessions.ListUserSessions(requestContext(c), userID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}
	for _, s := range sessions {
		if s.ID == sessionID {
			owned = true
			break
		}
	}
	if !owned {
		response.Error(c, errors.ErrNotFound)
		return
	}

	if err := h.sessions.RevokeSession(requestContext(c), sessionID); err != nil {
		if err == iauth.ErrSessionNotFound {
			response.Error(c, errors.ErrNotFound)
			return
		}
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
}

// POST /api/auth/password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req changePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.local.ChangePassword(userID, req.CurrentPassword, req.NewPassword); err != nil {
		if err == providers.ErrInvalidCredentials {
			response.Error(c, errors.ErrInvalidCredentials)
			return
		}
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"changed": true})
}

// GET /api/auth/providers
func (h *AuthHandler) Providers(c *gin.Context) {
	names := []string{"local"}
	if h.oauth != nil {
		names = append(names, h.oauth.Names()...)
	}
	response.Success(c, http.StatusOK, gin.H{"providers": names})
}

// GET /api/auth/oauth/:provider
//
// Starts the redirect-based flow: generates state and nonce, parks them in
// short-lived cookies, and sends the browser to the provider.
func (h *AuthHandler) OAuthBegin(c *gin.Context) {
	provider, ok := h.lookupProvider(c)
	if !ok {
		return
	}

	state, err := crypto.GenerateToken(16)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}
	nonce, err := crypto.GenerateToken(16)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	url, err := provider.Begin(requestContext(c), providers.BeginAuthRequest{
		State: state,
		Nonce: nonce,
	})
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, oauthCookieMaxAge, "/", "", h.cookies.Secure, true)
	c.SetCookie(oauthNonceCookie, nonce, oauthCookieMaxAge, "/", "", h.cookies.Secure, true)
	if callback := safeCallbackURL(c.Query("callbackUrl")); callback != "/team" {
		c.SetCookie(oauthCallbackCookie, callback, oauthCookieMaxAge, "/", "", h.cookies.Secure, true)
	}

	c.Redirect(http.StatusFound, url)
}

// GET /api/auth/oauth/:provider/callback
func (h *AuthHandler) OAuthCallback(c *gin.Context) {
	provider, ok := h.lookupProvider(c)
	if !ok {
		return
	}

	expectedState, err := c.Cookie(oauthStateCookie)
	if err != nil || expectedState == "" || c.Query("state") != expectedState {
		response.Error(c, errors.NewBadRequest("state mismatch, restart the sign-in flow"))
		return
	}
	nonce, _ := c.Cookie(oauthNonceCookie)

	identity, err := provider.Callback(requestContext(c), providers.CallbackRequest{
		State:          expectedState,
		ExpectedNonce:  nonce,
		RawHTTPRequest: c.Request,
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	user, err := h.users.FindOrCreateFromIdentity(requestContext(c), identity)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, err)
		return
	}

	token, _, err := h.sessions.CreateSession(requestContext(c), user.ID, sessionMetadata(c))
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	target := "/team"
	if callback, err := c.Cookie(oauthCallbackCookie); err == nil {
		target = safeCallbackURL(callback)
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, "", -1, "/", "", h.cookies.Secure, true)
	c.SetCookie(oauthNonceCookie, "", -1, "/", "", h.cookies.Secure, true)
	c.SetCookie(oauthCallbackCookie, "", -1, "/", "", h.cookies.Secure, true)

	h.cookies.Write(c, token, h.sessions.TTL())
	c.Redirect(http.StatusSeeOther, target)
}

func (h *AuthHandler) lookupProvider(c *gin.Context) (providers.OAuthProvider, bool) {
	name := strings.TrimSpace(c.Param("provider"))
	if h.oauth == nil {
		response.Error(c, errors.ErrNotFound)
		return nil, false
	}
	provider, ok := h.oauth.Get(name)
	if !ok {
		response.Error(c, errors.ErrNotFound)
		return nil, false
	}
	return provider, true
}

func sessionMetadata(c *gin.Context) iauth.SessionMetadata {
	return iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// signInError keeps credential failures indistinguishable while still telling
// locked or disabled accounts what happened.
func signInError(err error) error {
	switch err {
	case providers.ErrAccountLocked:
		return errors.New("ACCOUNT_LOCKED", "Account temporarily locked after too many failed attempts", http.StatusForbidden)
	case providers.ErrAccountDisabled:
		return errors.ErrForbidden
	default:
		return errors.ErrInvalidCredentials
	}
}

// safeCallbackURL restricts post-auth redirects to local paths so the signin
// flow cannot be used as an open redirector.
func safeCallbackURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return "/team"
	}
	return raw
}

func userPayload(user *models.User) gin.H {
	return gin.H{
		"id":             user.ID,
		"name":           user.Name,
		"email":          user.Email,
		"avatar":         user.Avatar,
		"provider":       user.Provider,
		"active_team_id": user.ActiveTeamID,
		"created_at":     user.CreatedAt,
	}
}
