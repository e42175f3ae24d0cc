package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/kodix/kodix-server/internal/auth"
	"github.com/kodix/kodix-server/internal/auth/providers"
	"github.com/kodix/kodix-server/internal/database/testutil"
	"github.com/kodix/kodix-server/internal/gates"
	"github.com/kodix/kodix-server/internal/middleware"
	"github.com/kodix/kodix-server/internal/models"
	"github.com/kodix/kodix-server/internal/services"
)

type handlerFixture struct {
	db       *gorm.DB
	router   *gin.Engine
	users    *services.UserService
	teams    *services.TeamService
	invites  *services.InviteService
	sessions *iauth.SessionService
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)

	sessions, err := iauth.NewSessionService(db, iauth.SessionConfig{})
	require.NoError(t, err)
	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "handler-test-secret", Issuer: "kodix"})
	require.NoError(t, err)
	local, err := providers.NewLocalProvider(db, providers.LocalConfig{})
	require.NoError(t, err)
	gate, err := gates.New(db, sessions, nil)
	require.NoError(t, err)

	users, err := services.NewUserService(db, nil)
	require.NoError(t, err)
	teams, err := services.NewTeamService(db, nil, nil, nil)
	require.NoError(t, err)
	invites, err := services.NewInviteService(db, nil, nil, services.WithInviteBaseURL("http://localhost:8080"))
	require.NoError(t, err)
	apps, err := services.NewAppService(db, nil, nil)
	require.NoError(t, err)

	cookies := iauth.CookieWriter{}
	authHandler := NewAuthHandler(users, sessions, jwt, local, providers.NewRegistry(), cookies)
	teamHandler := NewTeamHandler(teams)
	inviteHandler := NewInviteHandler(invites)
	appHandler := NewAppHandler(apps)

	router := gin.New()
	router.POST("/api/auth/signup", authHandler.SignUp)
	router.POST("/api/auth/signin", authHandler.SignIn)
	router.POST("/api/auth/signout", authHandler.SignOut)

	authed := router.Group("/", middleware.SessionAuth(gate, sessions, cookies))
	authed.GET("/api/auth/me", authHandler.Me)
	authed.POST("/api/auth/token", authHandler.Token)
	authed.POST("/api/teams", teamHandler.Create)
	authed.GET("/api/teams", teamHandler.List)
	authed.POST("/api/teams/switch", teamHandler.Switch)
	authed.POST("/api/teams/:id/invites", inviteHandler.Create)
	authed.POST("/api/invites/accept", inviteHandler.Accept)

	gated := router.Group("/", middleware.TeamGate(gate, sessions, cookies))
	gated.GET("/api/apps", appHandler.Marketplace)
	gated.POST("/api/apps/:appId/install", appHandler.Install)

	return &handlerFixture{
		db:       db,
		router:   router,
		users:    users,
		teams:    teams,
		invites:  invites,
		sessions: sessions,
	}
}

func (f *handlerFixture) signUp(t *testing.T, name, email, password string) (*models.User, string) {
	t.Helper()

	user, err := f.users.SignUp(t.Context(), services.SignUpInput{Name: name, Email: email, Password: password})
	require.NoError(t, err)

	token, _, err := f.sessions.CreateSession(t.Context(), user.ID, iauth.SessionMetadata{})
	require.NoError(t, err)
	return user, token
}

func (f *handlerFixture) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	if token != "" {
		request.AddCookie(&http.Cookie{Name: iauth.SessionCookieName, Value: token})
	}

	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, request)
	return recorder
}

func decodeData(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestSignUpCreatesSessionAndPersonalTeam(t *testing.T) {
	f := newHandlerFixture(t)

	recorder := f.request(t, http.MethodPost, "/api/auth/signup", "", gin.H{
		"name":     "Ada Lovelace",
		"email":    "ada@example.com",
		"password": "correct-horse-battery",
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	cookies := recorder.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, iauth.SessionCookieName, cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)
	require.NotEmpty(t, cookies[0].Value)

	data := decodeData(t, recorder)
	require.Equal(t, "/team", data["redirect_to"])

	user := data["user"].(map[string]any)
	require.NotEmpty(t, user["active_team_id"])

	var teams int64
	require.NoError(t, f.db.Model(&models.Team{}).Where("owner_id = ?", user["id"]).Count(&teams).Error)
	require.EqualValues(t, 1, teams)
}

func TestSignInRedirectTargets(t *testing.T) {
	f := newHandlerFixture(t)
	f.signUp(t, "Sign In", "signin@example.com", "correct-horse-battery")

	recorder := f.request(t, http.MethodPost, "/api/auth/signin", "", gin.H{
		"email":    "signin@example.com",
		"password": "correct-horse-battery",
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "/team", decodeData(t, recorder)["redirect_to"])

	recorder = f.request(t, http.MethodPost, "/api/auth/signin", "", gin.H{
		"email":       "signin@example.com",
		"password":    "correct-horse-battery",
		"callbackUrl": "/apps/todo",
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "/apps/todo", decodeData(t, recorder)["redirect_to"])

	// External URLs are not honoured as callback targets.
	recorder = f.request(t, http.MethodPost, "/api/auth/signin", "", gin.H{
		"email":       "signin@example.com",
		"password":    "correct-horse-battery",
		"callbackUrl": "https://evil.example.com/",
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "/team", decodeData(t, recorder)["redirect_to"])
}

func TestSignInRejectsBadPassword(t *testing.T) {
	f := newHandlerFixture(t)
	f.signUp(t, "Sign In", "badpw@example.com", "correct-horse-battery")

	recorder := f.request(t, http.MethodPost, "/api/auth/signin", "", gin.H{
		"email":    "badpw@example.com",
		"password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Empty(t, recorder.Result().Cookies())
}

func TestSignOutRevokesSession(t *testing.T) {
	f := newHandlerFixture(t)
	_, token := f.signUp(t, "Sign Out", "signout@example.com", "correct-horse-battery")

	recorder := f.request(t, http.MethodPost, "/api/auth/signout", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	cookies := recorder.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, -1, cookies[0].MaxAge)

	// The revoked session no longer authenticates; JSON clients get the
	// sign-in location instead of the profile.
	recorder = f.request(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "redirect_to")
	require.Contains(t, recorder.Body.String(), "/signin")
}

func TestMeReturnsProfile(t *testing.T) {
	f := newHandlerFixture(t)
	user, token := f.signUp(t, "Profile", "me@example.com", "correct-horse-battery")

	recorder := f.request(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, user.ID, decodeData(t, recorder)["id"])
}

func TestTokenExchangeCarriesActiveTeam(t *testing.T) {
	f := newHandlerFixture(t)
	user, token := f.signUp(t, "Mobile", "mobile@example.com", "correct-horse-battery")

	recorder := f.request(t, http.MethodPost, "/api/auth/token", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	data := decodeData(t, recorder)
	require.Equal(t, "Bearer", data["token_type"])

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "handler-test-secret", Issuer: "kodix"})
	require.NoError(t, err)
	claims, err := jwt.ValidateAccessToken(data["access_token"].(string))
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, *user.ActiveTeamID, claims.ActiveTeamID)
}

func TestSwitchTeamResponds(t *testing.T) {
	f := newHandlerFixture(t)
	user, token := f.signUp(t, "Switcher", "switch@example.com", "correct-horse-battery")

	second, err := f.teams.Create(t.Context(), user.ID, services.CreateTeamInput{Name: "Second"})
	require.NoError(t, err)

	recorder := f.request(t, http.MethodPost, "/api/teams/switch", token, gin.H{"teamId": second.ID})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "/team", decodeData(t, recorder)["redirect_to"])

	var refreshed models.User
	require.NoError(t, f.db.Take(&refreshed, "id = ?", user.ID).Error)
	require.NotNil(t, refreshed.ActiveTeamID)
	require.Equal(t, second.ID, *refreshed.ActiveTeamID)
}

func TestSwitchTeamHonoursRedirect(t *testing.T) {
	f := newHandlerFixture(t)
	user, token := f.signUp(t, "Switcher", "switch2@example.com", "correct-horse-battery")

	second, err := f.teams.Create(t.Context(), user.ID, services.CreateTeamInput{Name: "Second"})
	require.NoError(t, err)

	recorder := f.request(t, http.MethodPost, "/api/teams/switch", token, gin.H{
		"teamId":   second.ID,
		"redirect": "/apps/kodixCare",
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "/apps/kodixCare", decodeData(t, recorder)["redirect_to"])
}

func TestSwitchTeamForbiddenForNonMember(t *testing.T) {
	f := newHandlerFixture(t)
	_, token := f.signUp(t, "Outsider", "outsider@example.com", "correct-horse-battery")
	other, _ := f.signUp(t, "Other", "other@example.com", "correct-horse-battery")

	recorder := f.request(t, http.MethodPost, "/api/teams/switch", token, gin.H{"teamId": *other.ActiveTeamID})
	require.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestInviteAcceptEmailMismatchConflicts(t *testing.T) {
	f := newHandlerFixture(t)
	owner, _ := f.signUp(t, "Owner", "owner@example.com", "correct-horse-battery")
	_, strangerToken := f.signUp(t, "Stranger", "stranger@example.com", "correct-horse-battery")

	inviteToken, _, err := f.invites.Create(t.Context(), owner.ID, *owner.ActiveTeamID, "invited@example.com")
	require.NoError(t, err)

	recorder := f.request(t, http.MethodPost, "/api/invites/accept", strangerToken, gin.H{"token": inviteToken})
	require.Equal(t, http.StatusConflict, recorder.Code)
}

func TestInviteAcceptJoinsTeam(t *testing.T) {
	f := newHandlerFixture(t)
	owner, _ := f.signUp(t, "Owner", "owner2@example.com", "correct-horse-battery")
	invited, invitedToken := f.signUp(t, "Invited", "invited2@example.com", "correct-horse-battery")

	inviteToken, _, err := f.invites.Create(t.Context(), owner.ID, *owner.ActiveTeamID, "invited2@example.com")
	require.NoError(t, err)

	recorder := f.request(t, http.MethodPost, "/api/invites/accept", invitedToken, gin.H{"token": inviteToken})
	require.Equal(t, http.StatusOK, recorder.Code)

	teams, err := f.teams.List(t.Context(), invited.ID)
	require.NoError(t, err)
	require.Len(t, teams, 2)
}

func TestUnknownInviteTokenIsNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	_, token := f.signUp(t, "Nobody", "nobody@example.com", "correct-horse-battery")

	recorder := f.request(t, http.MethodPost, "/api/invites/accept", token, gin.H{"token": "does-not-exist"})
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestMarketplaceAndInstallBehindTeamGate(t *testing.T) {
	f := newHandlerFixture(t)
	_, token := f.signUp(t, "Installer", "installer@example.com", "correct-horse-battery")

	recorder := f.request(t, http.MethodPost, "/api/apps/kodixCare/install", token, nil)
	require.Equal(t, http.StatusCreated, recorder.Code)

	recorder = f.request(t, http.MethodGet, "/api/apps", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var envelope struct {
		Data []struct {
			App struct {
				ID string `json:"id"`
			} `json:"app"`
			Installed bool `json:"installed"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))

	found := false
	for _, entry := range envelope.Data {
		if entry.App.ID == "kodixCare" {
			found = true
			require.True(t, entry.Installed)
		} else {
			require.False(t, entry.Installed)
		}
	}
	require.True(t, found)
}

func TestValidationFailureIsBadRequest(t *testing.T) {
	f := newHandlerFixture(t)

	recorder := f.request(t, http.MethodPost, "/api/auth/signup", "", gin.H{
		"name":  "No Password",
		"email": "nopw@example.com",
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "password")
}
