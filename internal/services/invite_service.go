package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/models"
	"github.com/kodix/kodix-server/pkg/crypto"
	apperrors "github.com/kodix/kodix-server/pkg/errors"
	"github.com/kodix/kodix-server/pkg/mail"
)

const (
	defaultInviteExpiry     = 7 * 24 * time.Hour
	defaultInviteTokenBytes = 48
)

var (
	// ErrInviteNotFound indicates no invite matches the provided token.
	ErrInviteNotFound = errors.New("invite: not found")
	// ErrInviteExpired indicates the invite token has expired.
	ErrInviteExpired = errors.New("invite: expired")
	// ErrInviteAlreadyUsed signals that the invite has already been accepted.
	ErrInviteAlreadyUsed = errors.New("invite: already accepted")
	// ErrInviteEmailMismatch signals the accepting account does not own the invited address.
	ErrInviteEmailMismatch = apperrors.NewConflict("Invitation was issued to a different email address")
	// ErrInviteAlreadyMember signals the invited user already belongs to the team.
	ErrInviteAlreadyMember = apperrors.NewConflict("User is already a member of the team")
)

// InviteOption customises InviteService behaviour.
type InviteOption func(*InviteService)

// WithInviteBaseURL configures the base URL used to create invite hyperlinks.
func WithInviteBaseURL(url string) InviteOption {
	return func(s *InviteService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithInviteExpiry overrides the invite token lifetime.
func WithInviteExpiry(d time.Duration) InviteOption {
	return func(s *InviteService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithInviteClock injects a custom clock primarily for testing.
func WithInviteClock(clock func() time.Time) InviteOption {
	return func(s *InviteService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InviteService manages team invitations from creation through acceptance.
type InviteService struct {
	db           *gorm.DB
	mailer       mail.Mailer
	auditService *AuditService
	baseURL      string
	expiry       time.Duration
	tokenLength  int
	now          func() time.Time
}

// NewInviteService constructs an InviteService with the provided dependencies.
func NewInviteService(db *gorm.DB, mailer mail.Mailer, auditService *AuditService, opts ...InviteOption) (*InviteService, error) {
	if db == nil {
		return nil, errors.New("invite service: db is required")
	}

	service := &InviteService{
		db:           db,
		mailer:       mailer,
		auditService: auditService,
		expiry:       defaultInviteExpiry,
		tokenLength:  defaultInviteTokenBytes,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Create issues an invitation for email to join teamID. Only the team owner
// may invite. The raw token is returned once for the invite link; the row
// stores only its hash.
func (s *InviteService) Create(ctx context.Context, requesterID, teamID, email string) (token, link string, err error) {
	ctx = ensureContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", "", apperrors.NewBadRequest("email is required")
	}

	var team models.Team
	if err := s.db.WithContext(ctx).Take(&team, "id = ?", teamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrTeamNotFound
		}
		return "", "", fmt.Errorf("invite service: load team: %w", err)
	}
	if team.OwnerID != strings.TrimSpace(requesterID) {
		return "", "", ErrNotTeamOwner
	}

	var existingMember int64
	if err := s.db.WithContext(ctx).
		Table("user_teams").
		Joins("JOIN users ON users.id = user_teams.user_id").
		Where("user_teams.team_id = ? AND LOWER(users.email) = ?", teamID, email).
		Count(&existingMember).Error; err != nil {
		return "", "", fmt.Errorf("invite service: check membership: %w", err)
	}
	if existingMember > 0 {
		return "", "", ErrInviteAlreadyMember
	}

	rawToken, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return "", "", fmt.Errorf("invite service: generate token: %w", err)
	}

	now := s.now()
	invite := models.Invitation{
		Email:     email,
		TeamID:    teamID,
		InvitedBy: strings.TrimSpace(requesterID),
		TokenHash: crypto.HashToken(rawToken),
		ExpiresAt: now.Add(s.expiry),
	}

	if err := s.db.WithContext(ctx).Create(&invite).Error; err != nil {
		return "", "", fmt.Errorf("invite service: create invite: %w", err)
	}

	link = s.inviteLink(rawToken)

	if s.mailer != nil {
		message := mail.Message{
			To:      []string{email},
			Subject: fmt.Sprintf("You're invited to join %s on Kodix", team.Name),
			Body:    s.inviteBody(link, team.Name),
		}
		if mailErr := s.mailer.Send(ctx, message); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
			return "", "", fmt.Errorf("invite service: send email: %w", mailErr)
		}
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &invite.InvitedBy,
		TeamID:   teamID,
		Action:   "invite.create",
		Resource: invite.ID,
		Result:   "success",
		Metadata: map[string]any{"email": email},
	})

	return rawToken, link, nil
}

// Accept redeems the invite token for userID. The accepting account's email
// must match the invited address; a mismatch is a conflict, not a not-found,
// so the client can explain the situation.
func (s *InviteService) Accept(ctx context.Context, userID, token string) (*models.Team, error) {
	ctx = ensureContext(ctx)

	invite, err := s.findByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("invite service: load user: %w", err)
	}

	if !strings.EqualFold(user.Email, invite.Email) {
		return nil, ErrInviteEmailMismatch
	}

	var team models.Team
	if err := s.db.WithContext(ctx).Take(&team, "id = ?", invite.TeamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("invite service: load team: %w", err)
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member int64
		if err := tx.Table("user_teams").
			Where("team_id = ? AND user_id = ?", team.ID, user.ID).
			Count(&member).Error; err != nil {
			return fmt.Errorf("invite service: check membership: %w", err)
		}
		if member == 0 {
			if err := tx.Model(&user).Association("Teams").Append(&team); err != nil {
				return fmt.Errorf("invite service: add membership: %w", err)
			}
		}

		if user.ActiveTeamID == nil || strings.TrimSpace(*user.ActiveTeamID) == "" {
			if err := tx.Model(&user).Update("active_team_id", team.ID).Error; err != nil {
				return fmt.Errorf("invite service: set active team: %w", err)
			}
		}

		if err := tx.Model(invite).Update("accepted_at", now).Error; err != nil {
			return fmt.Errorf("invite service: mark accepted: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &user.ID,
		TeamID:   team.ID,
		Action:   "invite.accept",
		Resource: invite.ID,
		Result:   "success",
	})

	return &team, nil
}

// Decline deletes a pending invite addressed to the user behind token.
func (s *InviteService) Decline(ctx context.Context, userID, token string) error {
	ctx = ensureContext(ctx)

	invite, err := s.findByToken(ctx, token)
	if err != nil {
		return err
	}

	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("invite service: load user: %w", err)
	}
	if !strings.EqualFold(user.Email, invite.Email) {
		return ErrInviteEmailMismatch
	}

	if err := s.db.WithContext(ctx).Delete(invite).Error; err != nil {
		return fmt.Errorf("invite service: delete invite: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &user.ID,
		TeamID:   invite.TeamID,
		Action:   "invite.decline",
		Resource: invite.ID,
		Result:   "success",
	})

	return nil
}

// ListPending returns the open invitations for a team, visible to the owner.
func (s *InviteService) ListPending(ctx context.Context, requesterID, teamID string) ([]models.Invitation, error) {
	ctx = ensureContext(ctx)

	var team models.Team
	if err := s.db.WithContext(ctx).Take(&team, "id = ?", teamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("invite service: load team: %w", err)
	}
	if team.OwnerID != strings.TrimSpace(requesterID) {
		return nil, ErrNotTeamOwner
	}

	var invites []models.Invitation
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND accepted_at IS NULL AND expires_at > ?", teamID, s.now()).
		Order("created_at DESC").
		Find(&invites).Error
	if err != nil {
		return nil, fmt.Errorf("invite service: list invites: %w", err)
	}
	return invites, nil
}

// CleanupExpired removes invitations past their expiry that were never accepted.
func (s *InviteService) CleanupExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("expires_at < ? AND accepted_at IS NULL", s.now()).
		Delete(&models.Invitation{})
	if result.Error != nil {
		return 0, fmt.Errorf("invite service: cleanup invites: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *InviteService) findByToken(ctx context.Context, token string) (*models.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.NewBadRequest("invite token is required")
	}

	var invite models.Invitation
	if err := s.db.WithContext(ctx).
		Where("token_hash = ?", crypto.HashToken(token)).
		First(&invite).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("invite service: find invite: %w", err)
	}

	if invite.ExpiresAt.Before(s.now()) {
		return nil, ErrInviteExpired
	}
	if invite.AcceptedAt != nil {
		return nil, ErrInviteAlreadyUsed
	}

	return &invite, nil
}

func (s *InviteService) inviteLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s/invites/accept?token=%s", s.baseURL, token)
}

func (s *InviteService) inviteBody(link, teamName string) string {
	return fmt.Sprintf("Hello,\n\nYou have been invited to join the team %q on Kodix. Use the following link to accept your invite:\n%s\n\nIf you did not expect this email, you can ignore it.\n", teamName, link)
}
