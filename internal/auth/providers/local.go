package providers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/models"
	"github.com/kodix/kodix-server/pkg/crypto"
)

var (
	// ErrInvalidCredentials is returned when the supplied email/password pair is invalid.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountLocked signals that the user has exceeded the permitted failed attempts.
	ErrAccountLocked = errors.New("auth: account locked")
	// ErrAccountDisabled signals that the user has been deactivated.
	ErrAccountDisabled = errors.New("auth: account disabled")
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 15 * time.Minute
)

// LocalConfig defines tunable behaviour for the local provider.
type LocalConfig struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	Clock            func() time.Time
}

// AuthenticateInput contains metadata required to authenticate a local user.
type AuthenticateInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LocalProvider implements email/password authentication with account lockout controls.
type LocalProvider struct {
	db        *gorm.DB
	clock     func() time.Time
	threshold int
	duration  time.Duration
}

// NewLocalProvider builds a provider with sane defaults.
func NewLocalProvider(db *gorm.DB, cfg LocalConfig) (*LocalProvider, error) {
	if db == nil {
		return nil, errors.New("local provider: db is required")
	}

	p := &LocalProvider{
		db:        db,
		clock:     time.Now,
		threshold: defaultLockoutThreshold,
		duration:  defaultLockoutDuration,
	}
	if cfg.LockoutThreshold > 0 {
		p.threshold = cfg.LockoutThreshold
	}
	if cfg.LockoutDuration > 0 {
		p.duration = cfg.LockoutDuration
	}
	if cfg.Clock != nil {
		p.clock = cfg.Clock
	}
	return p, nil
}

// Authenticate verifies the supplied credentials and returns the associated user when successful.
func (p *LocalProvider) Authenticate(input AuthenticateInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || input.Password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	err := p.db.Where("LOWER(email) = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("local provider: query user: %w", err)
	}

	now := p.clock()
	if err := p.guardAccountState(&user, now); err != nil {
		return nil, err
	}

	// Accounts created through an external provider have no password set.
	if user.Password == "" || !crypto.VerifyPassword(user.Password, input.Password) {
		return nil, p.registerFailure(&user, now)
	}

	return &user, p.registerSuccess(&user, now, input.IPAddress)
}

// guardAccountState rejects disabled and locked accounts, clearing an expired
// lock as a side effect.
func (p *LocalProvider) guardAccountState(user *models.User, now time.Time) error {
	if !user.IsActive {
		return ErrAccountDisabled
	}

	if user.LockedUntil == nil {
		return nil
	}
	if user.LockedUntil.After(now) {
		return ErrAccountLocked
	}

	user.LockedUntil = nil
	user.FailedAttempts = 0
	err := p.db.Model(user).Updates(map[string]any{
		"locked_until":    nil,
		"failed_attempts": 0,
	}).Error
	if err != nil {
		return fmt.Errorf("local provider: reset lock state: %w", err)
	}
	return nil
}

func (p *LocalProvider) registerSuccess(user *models.User, now time.Time, ip string) error {
	user.FailedAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now
	user.LastLoginIP = strings.TrimSpace(ip)

	err := p.db.Model(user).Updates(map[string]any{
		"failed_attempts": 0,
		"locked_until":    nil,
		"last_login_at":   now,
		"last_login_ip":   user.LastLoginIP,
	}).Error
	if err != nil {
		return fmt.Errorf("local provider: update user: %w", err)
	}
	return nil
}

// registerFailure bumps the failure counter and locks the account once the
// threshold is hit. The returned error is what the caller reports upstream.
func (p *LocalProvider) registerFailure(user *models.User, now time.Time) error {
	user.FailedAttempts++

	updates := map[string]any{"failed_attempts": user.FailedAttempts}
	if user.FailedAttempts >= p.threshold {
		lockUntil := now.Add(p.duration)
		user.LockedUntil = &lockUntil
		updates["locked_until"] = lockUntil
	}

	if err := p.db.Model(user).Updates(updates).Error; err != nil {
		return fmt.Errorf("local provider: update failed attempts: %w", err)
	}

	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		return ErrAccountLocked
	}
	return ErrInvalidCredentials
}

// ChangePassword updates a user's password after verifying the existing credential.
func (p *LocalProvider) ChangePassword(userID, currentPassword, newPassword string) error {
	if strings.TrimSpace(userID) == "" || newPassword == "" {
		return errors.New("local provider: user id and new password are required")
	}

	var user models.User
	if err := p.db.Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("local provider: find user: %w", err)
	}

	if user.Password != "" && !crypto.VerifyPassword(user.Password, currentPassword) {
		return ErrInvalidCredentials
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("local provider: hash password: %w", err)
	}

	if err := p.db.Model(&user).Update("password", hashed).Error; err != nil {
		return fmt.Errorf("local provider: update password: %w", err)
	}

	return nil
}
