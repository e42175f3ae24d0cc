package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/kodix/kodix-server/internal/auth"
	"github.com/kodix/kodix-server/internal/database/testutil"
	"github.com/kodix/kodix-server/internal/gates"
	"github.com/kodix/kodix-server/internal/models"
)

type middlewareFixture struct {
	db       *gorm.DB
	sessions *iauth.SessionService
	gate     *gates.Gate
	clock    *stubClock
}

type stubClock struct {
	current time.Time
}

func (c *stubClock) Now() time.Time { return c.current }

func newMiddlewareFixture(t *testing.T) *middlewareFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)
	clock := &stubClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}

	sessions, err := iauth.NewSessionService(db, iauth.SessionConfig{Clock: clock.Now})
	require.NoError(t, err)

	gate, err := gates.New(db, sessions, nil)
	require.NoError(t, err)

	return &middlewareFixture{db: db, sessions: sessions, gate: gate, clock: clock}
}

func (f *middlewareFixture) seedUserWithTeam(t *testing.T, email string) (*models.User, *models.Team, string) {
	t.Helper()

	user := &models.User{Email: email, Name: "MW User", IsActive: true}
	require.NoError(t, f.db.Create(user).Error)
	require.NoError(t, f.db.Model(user).Update("is_active", true).Error)

	team := &models.Team{Name: "MW Team", OwnerID: user.ID}
	require.NoError(t, f.db.Create(team).Error)
	require.NoError(t, f.db.Model(user).Association("Teams").Append(team))
	require.NoError(t, f.db.Model(user).Update("active_team_id", team.ID).Error)

	token, _, err := f.sessions.CreateSession(t.Context(), user.ID, iauth.SessionMetadata{})
	require.NoError(t, err)

	return user, team, token
}

func TestSessionAuthRedirectsBrowserWithoutCookie(t *testing.T) {
	f := newMiddlewareFixture(t)

	router := gin.New()
	router.GET("/team", SessionAuth(f.gate, f.sessions, iauth.CookieWriter{}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/team", nil)
	request.Header.Set("Accept", "text/html")
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusSeeOther, recorder.Code)
	require.Equal(t, "/signin?callbackUrl=%2Fteam", recorder.Header().Get("Location"))
}

func TestSessionAuthReturnsJSONRedirectForAPIClients(t *testing.T) {
	f := newMiddlewareFixture(t)

	router := gin.New()
	router.GET("/team", SessionAuth(f.gate, f.sessions, iauth.CookieWriter{}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/team", nil)
	request.Header.Set("Accept", "application/json")
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "redirect_to")
	require.Contains(t, recorder.Body.String(), "/signin")
}

func TestSessionAuthProceedsWithValidCookie(t *testing.T) {
	f := newMiddlewareFixture(t)
	user, _, token := f.seedUserWithTeam(t, "mw1@example.com")

	router := gin.New()
	router.GET("/team", SessionAuth(f.gate, f.sessions, iauth.CookieWriter{}), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxUserIDKey))
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/team", nil)
	request.AddCookie(&http.Cookie{Name: iauth.SessionCookieName, Value: token})
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, user.ID, recorder.Body.String())
}

func TestSessionAuthSlidesExpiryOnGet(t *testing.T) {
	f := newMiddlewareFixture(t)
	_, _, token := f.seedUserWithTeam(t, "mw2@example.com")

	router := gin.New()
	router.GET("/team", SessionAuth(f.gate, f.sessions, iauth.CookieWriter{}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	f.clock.current = f.clock.current.Add(f.sessions.TTL()/2 + time.Hour)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/team", nil)
	request.AddCookie(&http.Cookie{Name: iauth.SessionCookieName, Value: token})
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)

	cookies := recorder.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, token, cookies[0].Value)

	var session models.Session
	require.NoError(t, f.db.Take(&session, "token = ?", token).Error)
	require.True(t, session.ExpiresAt.Equal(f.clock.current.Add(f.sessions.TTL())))
}

func TestSessionAuthDoesNotSlideOnPost(t *testing.T) {
	f := newMiddlewareFixture(t)
	_, _, token := f.seedUserWithTeam(t, "mw3@example.com")

	var before models.Session
	require.NoError(t, f.db.Take(&before, "token = ?", token).Error)

	router := gin.New()
	router.POST("/action", SessionAuth(f.gate, f.sessions, iauth.CookieWriter{}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	f.clock.current = f.clock.current.Add(f.sessions.TTL()/2 + time.Hour)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/action", nil)
	request.AddCookie(&http.Cookie{Name: iauth.SessionCookieName, Value: token})
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Empty(t, recorder.Result().Cookies())

	var after models.Session
	require.NoError(t, f.db.Take(&after, "token = ?", token).Error)
	require.True(t, after.ExpiresAt.Equal(before.ExpiresAt))
}

func TestAppGateRedirectsToMarketplace(t *testing.T) {
	f := newMiddlewareFixture(t)
	_, _, token := f.seedUserWithTeam(t, "mw4@example.com")

	router := gin.New()
	router.GET("/care", AppGate(f.gate, f.sessions, iauth.CookieWriter{}, "kodixCare", ""), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/care", nil)
	request.Header.Set("Accept", "text/html")
	request.AddCookie(&http.Cookie{Name: iauth.SessionCookieName, Value: token})
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusSeeOther, recorder.Code)
	require.Equal(t, "/apps", recorder.Header().Get("Location"))
}

func TestAppGateProceedsWhenInstalled(t *testing.T) {
	f := newMiddlewareFixture(t)
	user, team, token := f.seedUserWithTeam(t, "mw5@example.com")

	require.NoError(t, f.db.Create(&models.AppInstallation{
		TeamID:      team.ID,
		AppID:       "kodixCare",
		InstalledBy: user.ID,
	}).Error)

	router := gin.New()
	router.GET("/care", AppGate(f.gate, f.sessions, iauth.CookieWriter{}, "kodixCare", ""), func(c *gin.Context) {
		resolved := c.MustGet(CtxTeamKey).(*models.Team)
		c.String(http.StatusOK, resolved.ID)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/care", nil)
	request.AddCookie(&http.Cookie{Name: iauth.SessionCookieName, Value: token})
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, team.ID, recorder.Body.String())
}

func TestTokenAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "kodix"})
	require.NoError(t, err)

	router := gin.New()
	router.GET("/api/m/me", TokenAuth(jwt), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxUserIDKey))
	})

	// Missing header.
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/m/me", nil))
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	// Valid token.
	token, err := jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: "u1"})
	require.NoError(t, err)

	recorder = httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/m/me", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "u1", recorder.Body.String())
}
