package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/models"
	"github.com/kodix/kodix-server/pkg/crypto"
	"github.com/kodix/kodix-server/pkg/metrics"
)

// DefaultSessionTTL is the fallback session lifetime and matches the cookie max-age.
const DefaultSessionTTL = 30 * 24 * time.Hour

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	SessionTTL  time.Duration
	TokenLength int
	Clock       func() time.Time
	Cache       SessionCache
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
	Device    string
}

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionInvalidToken is returned when the supplied token is malformed or empty.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

// SessionCache represents a cache backend for session objects keyed by token.
type SessionCache interface {
	Get(ctx context.Context, token string) (*models.Session, error)
	Set(ctx context.Context, session *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}

// SessionService manages creation, validation, and revocation of user sessions.
type SessionService struct {
	db       *gorm.DB
	ttl      time.Duration
	tokenLen int
	now      func() time.Time
	cache    SessionCache
}

// NewSessionService constructs a session manager backed by the provided database.
func NewSessionService(db *gorm.DB, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	length := cfg.TokenLength
	if length <= 0 {
		length = 48
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:       db,
		ttl:      ttl,
		tokenLen: length,
		now:      clock,
		cache:    cfg.Cache,
	}, nil
}

// TTL returns the configured session lifetime.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// CreateSession generates a new session and returns its opaque token.
func (s *SessionService) CreateSession(ctx context.Context, userID string, meta SessionMetadata) (string, *models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return "", nil, errors.New("session service: user id is required")
	}

	token, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return "", nil, fmt.Errorf("session service: generate token: %w", err)
	}

	now := s.now()

	session := &models.Session{
		UserID:     userID,
		Token:      token,
		IPAddress:  strings.TrimSpace(meta.IPAddress),
		UserAgent:  strings.TrimSpace(meta.UserAgent),
		DeviceName: strings.TrimSpace(meta.Device),
		ExpiresAt:  now.Add(s.ttl),
		LastUsedAt: now,
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return "", nil, fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()

	if s.cache != nil {
		_ = s.cache.Set(ctx, session, s.ttl)
	}

	return token, session, nil
}

// Validate resolves the session and user for an opaque token. A missing,
// expired, or revoked token is a normal outcome and yields (nil, nil, nil);
// only infrastructure failures return an error.
func (s *SessionService) Validate(ctx context.Context, token string) (*models.Session, *models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, nil
	}

	session, err := s.lookup(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, nil
	}

	now := s.now()
	if session.RevokedAt != nil || !session.ExpiresAt.After(now) {
		if s.cache != nil {
			_ = s.cache.Delete(ctx, token)
		}
		return nil, nil, nil
	}

	var user models.User
	err = s.db.WithContext(ctx).Take(&user, "id = ?", session.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("session service: load user: %w", err)
	}
	if !user.IsActive {
		return nil, nil, nil
	}

	return session, &user, nil
}

// ExtendIfNeeded implements sliding expiration: once a valid session has
// passed the midpoint of its lifetime the expiry is pushed out to a full TTL.
// Callers invoke this on GET requests only, so side-effect-free requests do
// not rewrite the row on every hit.
func (s *SessionService) ExtendIfNeeded(ctx context.Context, session *models.Session) (bool, error) {
	if session == nil {
		return false, errors.New("session service: session is required")
	}

	now := s.now()
	if session.ExpiresAt.Sub(now) > s.ttl/2 {
		return false, nil
	}

	expires := now.Add(s.ttl)
	err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", session.ID).
		Updates(map[string]any{
			"expires_at":   expires,
			"last_used_at": now,
		}).Error
	if err != nil {
		return false, fmt.Errorf("session service: extend session: %w", err)
	}

	session.ExpiresAt = expires
	session.LastUsedAt = now

	if s.cache != nil {
		_ = s.cache.Set(ctx, session, s.ttl)
	}

	return true, nil
}

// RevokeByToken marks the session carrying the supplied token as revoked.
func (s *SessionService) RevokeByToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrSessionInvalidToken
	}

	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("token = ? AND revoked_at IS NULL", token).
		Update("revoked_at", now)
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, token)
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	return nil
}

// RevokeSession marks a session as revoked by identifier.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionInvalidToken
	}

	var tokenToDelete string
	if s.cache != nil {
		var session models.Session
		if err := s.db.WithContext(ctx).Select("token").Take(&session, "id = ?", sessionID).Error; err == nil {
			tokenToDelete = session.Token
		}
	}

	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", now)
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	if s.cache != nil && tokenToDelete != "" {
		_ = s.cache.Delete(ctx, tokenToDelete)
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	return nil
}

// RevokeUserSessions revokes every active session belonging to a user.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrSessionInvalidToken
	}

	var tokens []string
	if s.cache != nil {
		if err := s.db.WithContext(ctx).
			Model(&models.Session{}).
			Where("user_id = ? AND revoked_at IS NULL", userID).
			Pluck("token", &tokens).Error; err != nil {
			tokens = nil
		}
	}

	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", now)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	if s.cache != nil {
		for _, token := range tokens {
			if strings.TrimSpace(token) == "" {
				continue
			}
			_ = s.cache.Delete(ctx, token)
		}
	}
	return nil
}

// ListUserSessions returns the active sessions for a user, newest first.
func (s *SessionService) ListUserSessions(ctx context.Context, userID string) ([]models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("session service: user id is required")
	}

	now := s.now()
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now).
		Order("last_used_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("session service: list sessions: %w", err)
	}
	return sessions, nil
}

// CleanupExpired removes expired and revoked sessions.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()

	var activeExpired int64
	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("expires_at < ? AND revoked_at IS NULL", now).
		Count(&activeExpired).Error; err != nil {
		return 0, fmt.Errorf("session service: count expired sessions: %w", err)
	}

	var tokens []string
	if s.cache != nil {
		if err := s.db.WithContext(ctx).
			Model(&models.Session{}).
			Where("expires_at < ?", now).
			Or("revoked_at IS NOT NULL").
			Pluck("token", &tokens).Error; err != nil {
			tokens = nil
		}
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Or("revoked_at IS NOT NULL").
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	if s.cache != nil {
		for _, token := range tokens {
			if strings.TrimSpace(token) == "" {
				continue
			}
			_ = s.cache.Delete(ctx, token)
		}
	}

	if activeExpired > 0 {
		metrics.ActiveSessions.Sub(float64(activeExpired))
	}

	return result.RowsAffected, nil
}

func (s *SessionService) lookup(ctx context.Context, token string) (*models.Session, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, token); err == nil && cached != nil {
			return cached, nil
		}
	}

	var session models.Session
	err := s.db.WithContext(ctx).Where("token = ?", token).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	if s.cache != nil {
		if ttl := session.ExpiresAt.Sub(s.now()); ttl > 0 {
			_ = s.cache.Set(ctx, &session, ttl)
		}
	}

	return &session, nil
}
