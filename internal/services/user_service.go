package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/auth/providers"
	"github.com/kodix/kodix-server/internal/models"
	"github.com/kodix/kodix-server/pkg/crypto"
	apperrors "github.com/kodix/kodix-server/pkg/errors"
)

// ErrEmailTaken signals that an account already exists for the email address.
var ErrEmailTaken = apperrors.NewConflict("An account with this email already exists")

// SignUpInput captures the details required to register a new account.
type SignUpInput struct {
	Name     string
	Email    string
	Password string
}

// UserService manages account lifecycle. Every new account gets a personal
// team so the user lands somewhere after signing in.
type UserService struct {
	db           *gorm.DB
	auditService *AuditService
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, auditService *AuditService) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, auditService: auditService}, nil
}

// SignUp registers a local account with a hashed password and a personal team.
func (s *UserService) SignUp(ctx context.Context, input SignUpInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if name == "" || email == "" || input.Password == "" {
		return nil, apperrors.NewBadRequest("name, email and password are required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Name:     name,
		Email:    email,
		Password: hashed,
		Provider: "local",
		IsActive: true,
	}

	if err := s.createWithPersonalTeam(ctx, user); err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &user.ID,
		Action:   "user.signup",
		Resource: user.ID,
		Result:   "success",
		Metadata: map[string]any{"provider": "local"},
	})

	return user, nil
}

// FindOrCreateFromIdentity resolves an external identity to a local account,
// creating one on first sign-in. Existing accounts are matched by provider
// subject first, then by verified email.
func (s *UserService) FindOrCreateFromIdentity(ctx context.Context, identity *providers.Identity) (*models.User, error) {
	ctx = ensureContext(ctx)

	if identity == nil {
		return nil, errors.New("user service: identity is required")
	}
	email := strings.ToLower(strings.TrimSpace(identity.Email))
	if email == "" {
		return nil, apperrors.NewBadRequest("external identity is missing an email address")
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Where("provider = ? AND external_id = ?", identity.Provider, identity.Subject).
		Take(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user service: lookup by subject: %w", err)
	}

	err = s.db.WithContext(ctx).Where("LOWER(email) = ?", email).Take(&user).Error
	if err == nil {
		if !identity.EmailVerified {
			return nil, apperrors.NewConflict("Email address is not verified by the identity provider")
		}
		if err := s.db.WithContext(ctx).Model(&user).Updates(map[string]any{
			"provider":    identity.Provider,
			"external_id": identity.Subject,
		}).Error; err != nil {
			return nil, fmt.Errorf("user service: link identity: %w", err)
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user service: lookup by email: %w", err)
	}

	name := strings.TrimSpace(identity.Name)
	if name == "" {
		name = email
	}

	created := &models.User{
		Name:       name,
		Email:      email,
		Avatar:     strings.TrimSpace(identity.AvatarURL),
		Provider:   identity.Provider,
		ExternalID: identity.Subject,
		IsActive:   true,
	}

	if err := s.createWithPersonalTeam(ctx, created); err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &created.ID,
		Action:   "user.signup",
		Resource: created.ID,
		Result:   "success",
		Metadata: map[string]any{"provider": identity.Provider},
	})

	return created, nil
}

// GetByID loads a user by identifier.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// UpdateProfileInput describes mutable account fields.
type UpdateProfileInput struct {
	Name   *string
	Avatar *string
}

// UpdateProfile modifies account metadata.
func (s *UserService) UpdateProfile(ctx context.Context, id string, input UpdateProfileInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		if name := strings.TrimSpace(*input.Name); name != "" && name != user.Name {
			updates["name"] = name
		}
	}
	if input.Avatar != nil {
		updates["avatar"] = strings.TrimSpace(*input.Avatar)
	}

	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("user service: update profile: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *UserService) createWithPersonalTeam(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrEmailTaken
			}
			return fmt.Errorf("user service: create user: %w", err)
		}

		team := &models.Team{Name: "Personal Team", OwnerID: user.ID}
		if err := tx.Create(team).Error; err != nil {
			return fmt.Errorf("user service: create personal team: %w", err)
		}
		if err := tx.Model(user).Association("Teams").Append(team); err != nil {
			return fmt.Errorf("user service: add personal membership: %w", err)
		}
		if err := tx.Model(user).Update("active_team_id", team.ID).Error; err != nil {
			return fmt.Errorf("user service: set active team: %w", err)
		}
		user.ActiveTeamID = &team.ID
		return nil
	})
}
