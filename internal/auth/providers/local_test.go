package providers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/database/testutil"
	"github.com/kodix/kodix-server/internal/models"
	"github.com/kodix/kodix-server/pkg/crypto"
)

func TestAuthenticateSuccess(t *testing.T) {
	db, provider, _ := setupLocalProvider(t)
	seedUser(t, db, "alice@example.com", "s3cret")

	user, err := provider.Authenticate(AuthenticateInput{
		Email:     "Alice@Example.com",
		Password:  "s3cret",
		IPAddress: "10.0.0.9",
	})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.NotNil(t, user.LastLoginAt)
	require.Equal(t, "10.0.0.9", user.LastLoginIP)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	db, provider, _ := setupLocalProvider(t)
	seedUser(t, db, "bob@example.com", "correct")

	_, err := provider.Authenticate(AuthenticateInput{Email: "bob@example.com", Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	var user models.User
	require.NoError(t, db.Take(&user, "email = ?", "bob@example.com").Error)
	require.Equal(t, 1, user.FailedAttempts)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	_, provider, _ := setupLocalProvider(t)

	_, err := provider.Authenticate(AuthenticateInput{Email: "ghost@example.com", Password: "x"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateLockout(t *testing.T) {
	db, provider, clock := setupLocalProvider(t)
	seedUser(t, db, "carol@example.com", "correct")

	for i := 0; i < 2; i++ {
		_, err := provider.Authenticate(AuthenticateInput{Email: "carol@example.com", Password: "wrong"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := provider.Authenticate(AuthenticateInput{Email: "carol@example.com", Password: "wrong"})
	require.ErrorIs(t, err, ErrAccountLocked)

	// Locked even with the right password.
	_, err = provider.Authenticate(AuthenticateInput{Email: "carol@example.com", Password: "correct"})
	require.ErrorIs(t, err, ErrAccountLocked)

	clock.current = clock.current.Add(20 * time.Minute)

	user, err := provider.Authenticate(AuthenticateInput{Email: "carol@example.com", Password: "correct"})
	require.NoError(t, err)
	require.Equal(t, 0, user.FailedAttempts)
	require.Nil(t, user.LockedUntil)
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	db, provider, _ := setupLocalProvider(t)
	user := seedUser(t, db, "dave@example.com", "s3cret")
	require.NoError(t, db.Model(user).Update("is_active", false).Error)

	_, err := provider.Authenticate(AuthenticateInput{Email: "dave@example.com", Password: "s3cret"})
	require.ErrorIs(t, err, ErrAccountDisabled)
}

func TestAuthenticatePasswordlessAccount(t *testing.T) {
	db, provider, _ := setupLocalProvider(t)

	user := &models.User{Email: "sso@example.com", Name: "SSO User", Provider: "google"}
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, db.Model(user).Update("is_active", true).Error)

	_, err := provider.Authenticate(AuthenticateInput{Email: "sso@example.com", Password: "anything"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword(t *testing.T) {
	db, provider, _ := setupLocalProvider(t)
	user := seedUser(t, db, "erin@example.com", "old-pass")

	require.ErrorIs(t, provider.ChangePassword(user.ID, "wrong", "new-pass"), ErrInvalidCredentials)
	require.NoError(t, provider.ChangePassword(user.ID, "old-pass", "new-pass"))

	_, err := provider.Authenticate(AuthenticateInput{Email: "erin@example.com", Password: "new-pass"})
	require.NoError(t, err)
}

func setupLocalProvider(t *testing.T) (*gorm.DB, *LocalProvider, *fixedClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	clock := &fixedClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}

	provider, err := NewLocalProvider(db, LocalConfig{
		LockoutThreshold: 3,
		LockoutDuration:  15 * time.Minute,
		Clock:            clock.Now,
	})
	require.NoError(t, err)

	return db, provider, clock
}

func seedUser(t *testing.T, db *gorm.DB, email, password string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword(password)
	require.NoError(t, err)

	user := &models.User{
		Email:    email,
		Name:     "Test User",
		Password: hashed,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, db.Model(user).Update("is_active", true).Error)
	return user
}

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}
