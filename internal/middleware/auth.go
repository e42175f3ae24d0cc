package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/kodix/kodix-server/internal/auth"
	"github.com/kodix/kodix-server/internal/gates"
	"github.com/kodix/kodix-server/pkg/errors"
	"github.com/kodix/kodix-server/pkg/response"
)

const (
	CtxUserKey      = "authUser"
	CtxUserIDKey    = "userID"
	CtxSessionKey   = "authSession"
	CtxTeamKey      = "activeTeam"
	CtxClaimsKey    = "authClaims"
	CtxSessionIDKey = "sessionID"
)

// SessionAuth enforces cookie-session authentication. Requests without a
// valid session are redirected to sign-in (or get a JSON 303 payload). On GET
// requests the session expiry slides forward and the cookie is re-issued when
// the service extends it.
func SessionAuth(gate *gates.Gate, sessions *iauth.SessionService, cookies iauth.CookieWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := gate.RequireAuth(c.Request.Context(), iauth.TokenFromRequest(c), requestPath(c))
		if err != nil {
			response.Error(c, errors.ErrInternalServer.WithInternal(err))
			c.Abort()
			return
		}

		if location, redirected := gates.Redirected(result); redirected {
			response.Redirect(c, location)
			c.Abort()
			return
		}

		proceed := result.(gates.Proceed)
		applyProceed(c, proceed)
		refreshOnGet(c, sessions, cookies, proceed)

		c.Next()
	}
}

// TeamGate layers active-team resolution on top of session auth. Users
// without a usable active team are sent to team selection.
func TeamGate(gate *gates.Gate, sessions *iauth.SessionService, cookies iauth.CookieWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := gate.RequireTeam(c.Request.Context(), iauth.TokenFromRequest(c), requestPath(c))
		if err != nil {
			response.Error(c, errors.ErrInternalServer.WithInternal(err))
			c.Abort()
			return
		}

		if location, redirected := gates.Redirected(result); redirected {
			response.Redirect(c, location)
			c.Abort()
			return
		}

		proceed := result.(gates.Proceed)
		applyProceed(c, proceed)
		refreshOnGet(c, sessions, cookies, proceed)

		c.Next()
	}
}

// AppGate guards the routes of a single app: the session must be valid, an
// active team resolved, and the app installed for that team. customRedirect
// overrides the marketplace as the fallback target; leave it empty for the
// default.
func AppGate(gate *gates.Gate, sessions *iauth.SessionService, cookies iauth.CookieWriter, appID, customRedirect string) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := gate.RequireApp(c.Request.Context(), iauth.TokenFromRequest(c), appID, customRedirect, requestPath(c))
		if err != nil {
			response.Error(c, errors.ErrInternalServer.WithInternal(err))
			c.Abort()
			return
		}

		if location, redirected := gates.Redirected(result); redirected {
			response.Redirect(c, location)
			c.Abort()
			return
		}

		proceed := result.(gates.Proceed)
		applyProceed(c, proceed)
		refreshOnGet(c, sessions, cookies, proceed)

		c.Next()
	}
}

// TokenAuth enforces JWT bearer authentication for the native-client API surface.
func TokenAuth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		if claims.SessionID != "" {
			c.Set(CtxSessionIDKey, claims.SessionID)
		}

		c.Next()
	}
}

func applyProceed(c *gin.Context, proceed gates.Proceed) {
	c.Set(CtxUserKey, proceed.User)
	c.Set(CtxUserIDKey, proceed.User.ID)
	c.Set(CtxSessionKey, proceed.Session)
	c.Set(CtxSessionIDKey, proceed.Session.ID)
	if proceed.Team != nil {
		c.Set(CtxTeamKey, proceed.Team)
	}
}

// refreshOnGet slides session expiry on side-effect-free requests only and
// re-issues the cookie when the expiry moved.
func refreshOnGet(c *gin.Context, sessions *iauth.SessionService, cookies iauth.CookieWriter, proceed gates.Proceed) {
	if c.Request.Method != http.MethodGet {
		return
	}

	extended, err := sessions.ExtendIfNeeded(c.Request.Context(), proceed.Session)
	if err != nil || !extended {
		return
	}
	cookies.Write(c, proceed.Session.Token, sessions.TTL())
}

func requestPath(c *gin.Context) string {
	path := c.Request.URL.Path
	if query := c.Request.URL.RawQuery; query != "" {
		path += "?" + query
	}
	return path
}
