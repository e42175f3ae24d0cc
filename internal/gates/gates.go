package gates

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/apps"
	"github.com/kodix/kodix-server/internal/auth"
	"github.com/kodix/kodix-server/internal/models"
	"github.com/kodix/kodix-server/pkg/metrics"
)

// Well-known redirect targets used by the gates.
const (
	SignInPath     = "/signin"
	TeamSelectPath = "/teams/select"
)

// Result is the outcome of evaluating a gate. It is either a Proceed, which
// carries the resolved request context, or a Redirect, which carries the
// location the client must be sent to. Gates never signal redirects through
// errors; an error return always means an infrastructure failure.
type Result interface {
	isGateResult()
}

// Proceed means the gate passed. Team is populated only by team-aware gates.
type Proceed struct {
	Session *models.Session
	User    *models.User
	Team    *models.Team
}

// Redirect means the caller must send the client to Location.
type Redirect struct {
	Location string
}

func (Proceed) isGateResult()  {}
func (Redirect) isGateResult() {}

// Redirected unpacks a Result for callers that only care about the redirect case.
func Redirected(r Result) (string, bool) {
	if redirect, ok := r.(Redirect); ok {
		return redirect.Location, true
	}
	return "", false
}

// Gate evaluates access rules against the session store and app registry.
type Gate struct {
	db       *gorm.DB
	sessions *auth.SessionService
	registry *apps.Registry
}

// New constructs a Gate. The registry defaults to the built-in app catalogue.
func New(db *gorm.DB, sessions *auth.SessionService, registry *apps.Registry) (*Gate, error) {
	if db == nil {
		return nil, stderrors.New("gate: db is required")
	}
	if sessions == nil {
		return nil, stderrors.New("gate: session service is required")
	}
	if registry == nil {
		registry = apps.Default()
	}
	return &Gate{db: db, sessions: sessions, registry: registry}, nil
}

// RequireAuth resolves the session behind token. Anonymous or stale tokens
// redirect to the sign-in page with the original path preserved so the client
// returns there after authenticating.
func (g *Gate) RequireAuth(ctx context.Context, token, currentPath string) (Result, error) {
	session, user, err := g.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil || user == nil {
		metrics.GateRedirects.WithLabelValues("auth").Inc()
		return Redirect{Location: signInLocation(currentPath)}, nil
	}
	return Proceed{Session: session, User: user}, nil
}

// RequireTeam runs the auth gate and then resolves the user's active team.
// A user with no active team, or whose stored active team no longer exists,
// is sent to the team selection page. A dangling reference is a normal
// outcome here, not a failure.
func (g *Gate) RequireTeam(ctx context.Context, token, currentPath string) (Result, error) {
	result, err := g.RequireAuth(ctx, token, currentPath)
	if err != nil {
		return nil, err
	}
	proceed, ok := result.(Proceed)
	if !ok {
		return result, nil
	}

	team, err := g.resolveActiveTeam(ctx, proceed.User)
	if err != nil {
		return nil, err
	}
	if team == nil {
		metrics.GateRedirects.WithLabelValues("team").Inc()
		return Redirect{Location: TeamSelectPath}, nil
	}

	proceed.Team = team
	return proceed, nil
}

// RequireApp runs the team gate and then checks that appID is installed for
// the active team. Missing installations redirect to customRedirect when set,
// otherwise to the marketplace.
func (g *Gate) RequireApp(ctx context.Context, token, appID, customRedirect, currentPath string) (Result, error) {
	result, err := g.RequireTeam(ctx, token, currentPath)
	if err != nil {
		return nil, err
	}
	proceed, ok := result.(Proceed)
	if !ok {
		return result, nil
	}

	installed := false
	if g.registry.Valid(appID) {
		installed, err = g.isInstalled(ctx, proceed.Team.ID, appID)
		if err != nil {
			return nil, err
		}
	}

	if !installed {
		metrics.GateRedirects.WithLabelValues("app").Inc()
		location := strings.TrimSpace(customRedirect)
		if location == "" {
			location = apps.MarketplacePath
		}
		return Redirect{Location: location}, nil
	}

	return proceed, nil
}

func (g *Gate) resolveActiveTeam(ctx context.Context, user *models.User) (*models.Team, error) {
	if user.ActiveTeamID == nil || strings.TrimSpace(*user.ActiveTeamID) == "" {
		return nil, nil
	}

	var team models.Team
	err := g.db.WithContext(ctx).Take(&team, "id = ?", *user.ActiveTeamID).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gate: resolve active team: %w", err)
	}
	return &team, nil
}

func (g *Gate) isInstalled(ctx context.Context, teamID, appID string) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&models.AppInstallation{}).
		Where("team_id = ? AND app_id = ?", teamID, appID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gate: check installation: %w", err)
	}
	return count > 0, nil
}

func signInLocation(currentPath string) string {
	currentPath = strings.TrimSpace(currentPath)
	if currentPath == "" || !strings.HasPrefix(currentPath, "/") {
		return SignInPath
	}
	return SignInPath + "?callbackUrl=" + url.QueryEscape(currentPath)
}
