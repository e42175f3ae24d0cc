package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/cache"
	"github.com/kodix/kodix-server/internal/models"
	apperrors "github.com/kodix/kodix-server/pkg/errors"
	"github.com/kodix/kodix-server/pkg/metrics"
)

var (
	// ErrTeamNotFound indicates the requested team does not exist.
	ErrTeamNotFound = apperrors.New("TEAM_NOT_FOUND", "Team not found", http.StatusNotFound)
	// ErrNotTeamMember signals the user does not belong to the team.
	ErrNotTeamMember = apperrors.New("NOT_TEAM_MEMBER", "User is not a member of the team", http.StatusForbidden)
	// ErrNotTeamOwner signals the operation is restricted to the team owner.
	ErrNotTeamOwner = apperrors.New("NOT_TEAM_OWNER", "Only the team owner may perform this action", http.StatusForbidden)
	// ErrOwnerCannotLeave signals the owner must transfer or delete the team instead.
	ErrOwnerCannotLeave = apperrors.New("OWNER_CANNOT_LEAVE", "The team owner cannot leave their own team", http.StatusConflict)
)

// teamScopedCachePrefix builds the cache namespace for entries derived from a
// user's active team. Switching teams drops the whole namespace.
func teamScopedCachePrefix(userID string) string {
	return "teamctx:" + userID + ":"
}

// Invalidator pushes cache-invalidation notices to connected clients. The
// realtime hub satisfies this; a nil invalidator disables pushes.
type Invalidator interface {
	InvalidateUser(userID, reason string)
}

// CreateTeamInput captures new team metadata.
type CreateTeamInput struct {
	Name string
}

// TeamService handles team lifecycle, membership, and the active-team switch.
type TeamService struct {
	db           *gorm.DB
	auditService *AuditService
	store        cache.Store
	invalidator  Invalidator
}

// NewTeamService constructs a TeamService instance. Store and invalidator are optional.
func NewTeamService(db *gorm.DB, auditService *AuditService, store cache.Store, invalidator Invalidator) (*TeamService, error) {
	if db == nil {
		return nil, errors.New("team service: db is required")
	}
	return &TeamService{
		db:           db,
		auditService: auditService,
		store:        store,
		invalidator:  invalidator,
	}, nil
}

// Create registers a new team owned by ownerID. The owner becomes a member,
// and the team becomes their active team if they have none.
func (s *TeamService) Create(ctx context.Context, ownerID string, input CreateTeamInput) (*models.Team, error) {
	ctx = ensureContext(ctx)

	ownerID = strings.TrimSpace(ownerID)
	name := strings.TrimSpace(input.Name)
	if ownerID == "" {
		return nil, apperrors.NewBadRequest("owner id is required")
	}
	if name == "" {
		return nil, apperrors.NewBadRequest("team name is required")
	}

	var team *models.Team
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.User
		if err := tx.Take(&owner, "id = ?", ownerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound
			}
			return fmt.Errorf("team service: load owner: %w", err)
		}

		team = &models.Team{Name: name, OwnerID: owner.ID}
		if err := tx.Create(team).Error; err != nil {
			return fmt.Errorf("team service: create team: %w", err)
		}

		if err := tx.Model(&owner).Association("Teams").Append(team); err != nil {
			return fmt.Errorf("team service: append owner membership: %w", err)
		}

		if owner.ActiveTeamID == nil || strings.TrimSpace(*owner.ActiveTeamID) == "" {
			if err := tx.Model(&owner).Update("active_team_id", team.ID).Error; err != nil {
				return fmt.Errorf("team service: set default active team: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &ownerID,
		TeamID:   team.ID,
		Action:   "team.create",
		Resource: team.ID,
		Result:   "success",
		Metadata: map[string]any{"name": team.Name},
	})

	return team, nil
}

// List returns the teams the user belongs to, oldest first.
func (s *TeamService) List(ctx context.Context, userID string) ([]models.Team, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var teams []models.Team
	err := s.db.WithContext(ctx).
		Joins("JOIN user_teams ON user_teams.team_id = teams.id").
		Where("user_teams.user_id = ?", userID).
		Order("teams.created_at ASC").
		Find(&teams).Error
	if err != nil {
		return nil, fmt.Errorf("team service: list teams: %w", err)
	}
	return teams, nil
}

// GetByID loads a team the requester is a member of.
func (s *TeamService) GetByID(ctx context.Context, teamID, requesterID string) (*models.Team, error) {
	ctx = ensureContext(ctx)

	var team models.Team
	err := s.db.WithContext(ctx).Take(&team, "id = ?", teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("team service: get team: %w", err)
	}

	member, err := s.isMember(ctx, teamID, requesterID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotTeamMember
	}

	return &team, nil
}

// ListMembers returns the users assigned to a team the requester belongs to.
func (s *TeamService) ListMembers(ctx context.Context, requesterID, teamID string) ([]models.User, error) {
	ctx = ensureContext(ctx)

	if _, err := s.GetByID(ctx, teamID, requesterID); err != nil {
		return nil, err
	}

	var team models.Team
	if err := s.db.WithContext(ctx).Preload("Users").Take(&team, "id = ?", teamID).Error; err != nil {
		return nil, fmt.Errorf("team service: load members: %w", err)
	}
	return team.Users, nil
}

// SwitchActiveTeam moves the user's active-team pointer to teamID. Membership
// is verified first; non-members get a forbidden error. The write is a single
// row update, so concurrent switches resolve last-write-wins. On success the
// user's team-scoped cache entries are dropped and connected clients are told
// to refetch.
func (s *TeamService) SwitchActiveTeam(ctx context.Context, userID, teamID string) (*models.Team, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	teamID = strings.TrimSpace(teamID)
	if userID == "" || teamID == "" {
		return nil, apperrors.NewBadRequest("user id and team id are required")
	}

	var team models.Team
	err := s.db.WithContext(ctx).Take(&team, "id = ?", teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.TeamSwitches.WithLabelValues("not_found").Inc()
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("team service: load team: %w", err)
	}

	member, err := s.isMember(ctx, teamID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		metrics.TeamSwitches.WithLabelValues("forbidden").Inc()
		recordAudit(s.auditService, ctx, AuditEntry{
			UserID:   &userID,
			TeamID:   teamID,
			Action:   "team.switch",
			Resource: teamID,
			Result:   "forbidden",
		})
		return nil, ErrNotTeamMember
	}

	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("active_team_id", teamID).Error; err != nil {
		return nil, fmt.Errorf("team service: switch active team: %w", err)
	}

	if s.store != nil {
		if err := s.store.DeleteByPrefix(ctx, teamScopedCachePrefix(userID)); err != nil {
			// Stale cache entries are tolerable; the switch itself succeeded.
			recordAudit(s.auditService, ctx, AuditEntry{
				UserID:   &userID,
				TeamID:   teamID,
				Action:   "team.switch.cache_invalidate",
				Resource: teamID,
				Result:   "failure",
			})
		}
	}

	if s.invalidator != nil {
		s.invalidator.InvalidateUser(userID, "team_switched")
	}

	metrics.TeamSwitches.WithLabelValues("success").Inc()
	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &userID,
		TeamID:   teamID,
		Action:   "team.switch",
		Resource: teamID,
		Result:   "success",
	})

	return &team, nil
}

// RemoveMember detaches a user from a team. Only the owner may remove members,
// and the owner cannot remove themselves.
func (s *TeamService) RemoveMember(ctx context.Context, requesterID, teamID, userID string) error {
	ctx = ensureContext(ctx)

	var team models.Team
	err := s.db.WithContext(ctx).Take(&team, "id = ?", teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTeamNotFound
	}
	if err != nil {
		return fmt.Errorf("team service: load team: %w", err)
	}

	if team.OwnerID != strings.TrimSpace(requesterID) {
		return ErrNotTeamOwner
	}
	if team.OwnerID == strings.TrimSpace(userID) {
		return ErrOwnerCannotLeave
	}

	member, err := s.isMember(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotTeamMember
	}

	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("team service: load user: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&team).Association("Users").Delete(&user); err != nil {
		return fmt.Errorf("team service: remove member: %w", err)
	}

	// If the removed user had this team active, drop the pointer so gates send
	// them to team selection on their next request.
	if user.ActiveTeamID != nil && *user.ActiveTeamID == teamID {
		if err := s.db.WithContext(ctx).
			Model(&models.User{}).
			Where("id = ?", user.ID).
			Update("active_team_id", nil).Error; err != nil {
			return fmt.Errorf("team service: clear active team: %w", err)
		}
		if s.invalidator != nil {
			s.invalidator.InvalidateUser(user.ID, "team_removed")
		}
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &requesterID,
		TeamID:   teamID,
		Action:   "team.remove_member",
		Resource: teamID,
		Result:   "success",
		Metadata: map[string]any{"user_id": userID},
	})

	return nil
}

// LeaveTeam detaches the requester from a team they are a member of.
func (s *TeamService) LeaveTeam(ctx context.Context, userID, teamID string) error {
	ctx = ensureContext(ctx)

	var team models.Team
	err := s.db.WithContext(ctx).Take(&team, "id = ?", teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTeamNotFound
	}
	if err != nil {
		return fmt.Errorf("team service: load team: %w", err)
	}

	if team.OwnerID == strings.TrimSpace(userID) {
		return ErrOwnerCannotLeave
	}

	member, err := s.isMember(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotTeamMember
	}

	user := models.User{ID: strings.TrimSpace(userID)}
	if err := s.db.WithContext(ctx).Model(&team).Association("Users").Delete(&user); err != nil {
		return fmt.Errorf("team service: leave team: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND active_team_id = ?", userID, teamID).
		Update("active_team_id", nil).Error; err != nil {
		return fmt.Errorf("team service: clear active team: %w", err)
	}

	if s.invalidator != nil {
		s.invalidator.InvalidateUser(userID, "team_left")
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &userID,
		TeamID:   teamID,
		Action:   "team.leave",
		Resource: teamID,
		Result:   "success",
	})

	return nil
}

// Delete removes a team. Only the owner may delete it. Memberships and
// installations cascade; active-team pointers of members are cleared.
func (s *TeamService) Delete(ctx context.Context, requesterID, teamID string) error {
	ctx = ensureContext(ctx)

	var team models.Team
	err := s.db.WithContext(ctx).Take(&team, "id = ?", teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTeamNotFound
	}
	if err != nil {
		return fmt.Errorf("team service: load team: %w", err)
	}

	if team.OwnerID != strings.TrimSpace(requesterID) {
		return ErrNotTeamOwner
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).
			Where("active_team_id = ?", teamID).
			Update("active_team_id", nil).Error; err != nil {
			return fmt.Errorf("team service: clear active team pointers: %w", err)
		}
		if err := tx.Exec("DELETE FROM user_teams WHERE team_id = ?", teamID).Error; err != nil {
			return fmt.Errorf("team service: clear memberships: %w", err)
		}
		if err := tx.Delete(&team).Error; err != nil {
			return fmt.Errorf("team service: delete team: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &requesterID,
		TeamID:   teamID,
		Action:   "team.delete",
		Resource: teamID,
		Result:   "success",
	})

	return nil
}

func (s *TeamService) isMember(ctx context.Context, teamID, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, nil
	}

	var count int64
	err := s.db.WithContext(ctx).
		Table("user_teams").
		Where("team_id = ? AND user_id = ?", teamID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("team service: check membership: %w", err)
	}
	return count > 0, nil
}
