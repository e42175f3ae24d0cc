package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/apps"
	"github.com/kodix/kodix-server/internal/models"
	apperrors "github.com/kodix/kodix-server/pkg/errors"
)

var (
	// ErrAppUnknown indicates the app id is not part of the catalogue.
	ErrAppUnknown = apperrors.New("APP_UNKNOWN", "Unknown app", http.StatusNotFound)
	// ErrAppNotInstalled indicates the app is not installed for the team.
	ErrAppNotInstalled = apperrors.New("APP_NOT_INSTALLED", "App is not installed for this team", http.StatusNotFound)
	// ErrAppAlreadyInstalled signals a duplicate installation attempt.
	ErrAppAlreadyInstalled = apperrors.NewConflict("App is already installed for this team")
)

// MarketplaceEntry pairs a catalogue app with its installation state for a team.
type MarketplaceEntry struct {
	App       apps.App `json:"app"`
	Installed bool     `json:"installed"`
}

// AppService manages per-team app installations against the static catalogue.
type AppService struct {
	db           *gorm.DB
	registry     *apps.Registry
	auditService *AuditService
}

// NewAppService constructs an AppService. The registry defaults to the built-in catalogue.
func NewAppService(db *gorm.DB, registry *apps.Registry, auditService *AuditService) (*AppService, error) {
	if db == nil {
		return nil, errors.New("app service: db is required")
	}
	if registry == nil {
		registry = apps.Default()
	}
	return &AppService{db: db, registry: registry, auditService: auditService}, nil
}

// IsInstalled reports whether appID is installed for teamID.
func (s *AppService) IsInstalled(ctx context.Context, teamID, appID string) (bool, error) {
	ctx = ensureContext(ctx)

	if !s.registry.Valid(appID) {
		return false, nil
	}

	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.AppInstallation{}).
		Where("team_id = ? AND app_id = ?", teamID, appID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("app service: check installation: %w", err)
	}
	return count > 0, nil
}

// Install adds appID to the team. Only the team owner may install apps.
func (s *AppService) Install(ctx context.Context, requesterID, teamID, appID string) (*models.AppInstallation, error) {
	ctx = ensureContext(ctx)

	if !s.registry.Valid(appID) {
		return nil, ErrAppUnknown
	}

	team, err := s.ownedTeam(ctx, requesterID, teamID)
	if err != nil {
		return nil, err
	}

	installation := &models.AppInstallation{
		TeamID:      team.ID,
		AppID:       appID,
		InstalledBy: strings.TrimSpace(requesterID),
	}

	if err := s.db.WithContext(ctx).Create(installation).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrAppAlreadyInstalled
		}
		return nil, fmt.Errorf("app service: install app: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &installation.InstalledBy,
		TeamID:   team.ID,
		Action:   "app.install",
		Resource: appID,
		Result:   "success",
	})

	return installation, nil
}

// Uninstall removes appID from the team. Only the team owner may uninstall.
func (s *AppService) Uninstall(ctx context.Context, requesterID, teamID, appID string) error {
	ctx = ensureContext(ctx)

	if !s.registry.Valid(appID) {
		return ErrAppUnknown
	}

	team, err := s.ownedTeam(ctx, requesterID, teamID)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Where("team_id = ? AND app_id = ?", team.ID, appID).
		Delete(&models.AppInstallation{})
	if result.Error != nil {
		return fmt.Errorf("app service: uninstall app: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAppNotInstalled
	}

	requesterID = strings.TrimSpace(requesterID)
	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &requesterID,
		TeamID:   team.ID,
		Action:   "app.uninstall",
		Resource: appID,
		Result:   "success",
	})

	return nil
}

// Marketplace lists every catalogue app with its installation state for the team.
func (s *AppService) Marketplace(ctx context.Context, teamID string) ([]MarketplaceEntry, error) {
	ctx = ensureContext(ctx)

	var installed []string
	err := s.db.WithContext(ctx).
		Model(&models.AppInstallation{}).
		Where("team_id = ?", teamID).
		Pluck("app_id", &installed).Error
	if err != nil {
		return nil, fmt.Errorf("app service: list installations: %w", err)
	}

	catalogue := s.registry.GetAll()
	entries := make([]MarketplaceEntry, 0, len(catalogue))
	for _, app := range catalogue {
		entries = append(entries, MarketplaceEntry{
			App:       *app,
			Installed: containsString(installed, app.ID),
		})
	}
	return entries, nil
}

// ListInstalled returns the installation rows for a team.
func (s *AppService) ListInstalled(ctx context.Context, teamID string) ([]models.AppInstallation, error) {
	ctx = ensureContext(ctx)

	var installations []models.AppInstallation
	err := s.db.WithContext(ctx).
		Where("team_id = ?", teamID).
		Order("created_at ASC").
		Find(&installations).Error
	if err != nil {
		return nil, fmt.Errorf("app service: list installed: %w", err)
	}
	return installations, nil
}

func (s *AppService) ownedTeam(ctx context.Context, requesterID, teamID string) (*models.Team, error) {
	var team models.Team
	err := s.db.WithContext(ctx).Take(&team, "id = ?", teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("app service: load team: %w", err)
	}
	if team.OwnerID != strings.TrimSpace(requesterID) {
		return nil, ErrNotTeamOwner
	}
	return &team, nil
}
