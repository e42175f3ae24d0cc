package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kodix/kodix-server/internal/auth/providers"
	"github.com/kodix/kodix-server/internal/models"
	"github.com/kodix/kodix-server/pkg/crypto"
)

func TestSignUpCreatesPersonalTeam(t *testing.T) {
	db := openServiceDB(t)
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)

	user, err := svc.SignUp(context.Background(), SignUpInput{
		Name:     "Alice",
		Email:    " Alice@Example.com ",
		Password: "s3cret-pass",
	})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.True(t, crypto.VerifyPassword(user.Password, "s3cret-pass"))
	require.NotNil(t, user.ActiveTeamID)

	var team models.Team
	require.NoError(t, db.Take(&team, "id = ?", *user.ActiveTeamID).Error)
	require.Equal(t, "Personal Team", team.Name)
	require.Equal(t, user.ID, team.OwnerID)

	var memberships int64
	require.NoError(t, db.Table("user_teams").
		Where("user_id = ? AND team_id = ?", user.ID, team.ID).
		Count(&memberships).Error)
	require.EqualValues(t, 1, memberships)
}

func TestSignUpDuplicateEmail(t *testing.T) {
	db := openServiceDB(t)
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)

	_, err = svc.SignUp(context.Background(), SignUpInput{Name: "A", Email: "dup@example.com", Password: "pass-one"})
	require.NoError(t, err)

	_, err = svc.SignUp(context.Background(), SignUpInput{Name: "B", Email: "DUP@example.com", Password: "pass-two"})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestFindOrCreateFromIdentityNewAccount(t *testing.T) {
	db := openServiceDB(t)
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)

	user, err := svc.FindOrCreateFromIdentity(context.Background(), &providers.Identity{
		Provider:      "google",
		Subject:       "google-sub-1",
		Email:         "carol@example.com",
		EmailVerified: true,
		Name:          "Carol",
	})
	require.NoError(t, err)
	require.Equal(t, "google", user.Provider)
	require.Equal(t, "google-sub-1", user.ExternalID)
	require.NotNil(t, user.ActiveTeamID)

	// Second sign-in resolves to the same account.
	again, err := svc.FindOrCreateFromIdentity(context.Background(), &providers.Identity{
		Provider: "google",
		Subject:  "google-sub-1",
		Email:    "carol@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, user.ID, again.ID)
}

func TestFindOrCreateFromIdentityLinksVerifiedEmail(t *testing.T) {
	db := openServiceDB(t)
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)

	local, err := svc.SignUp(context.Background(), SignUpInput{Name: "Dana", Email: "dana@example.com", Password: "pass-word"})
	require.NoError(t, err)

	linked, err := svc.FindOrCreateFromIdentity(context.Background(), &providers.Identity{
		Provider:      "google",
		Subject:       "google-sub-2",
		Email:         "dana@example.com",
		EmailVerified: true,
	})
	require.NoError(t, err)
	require.Equal(t, local.ID, linked.ID)

	var reloaded models.User
	require.NoError(t, db.Take(&reloaded, "id = ?", local.ID).Error)
	require.Equal(t, "google", reloaded.Provider)
	require.Equal(t, "google-sub-2", reloaded.ExternalID)
}

func TestFindOrCreateFromIdentityUnverifiedEmailConflict(t *testing.T) {
	db := openServiceDB(t)
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)

	_, err = svc.SignUp(context.Background(), SignUpInput{Name: "Eve", Email: "eve@example.com", Password: "pass-word"})
	require.NoError(t, err)

	_, err = svc.FindOrCreateFromIdentity(context.Background(), &providers.Identity{
		Provider:      "google",
		Subject:       "google-sub-3",
		Email:         "eve@example.com",
		EmailVerified: false,
	})
	require.Error(t, err)
}

func TestUpdateProfile(t *testing.T) {
	db := openServiceDB(t)
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)

	user, err := svc.SignUp(context.Background(), SignUpInput{Name: "Frank", Email: "frank@example.com", Password: "pass-word"})
	require.NoError(t, err)

	name := "Franklin"
	updated, err := svc.UpdateProfile(context.Background(), user.ID, UpdateProfileInput{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Franklin", updated.Name)
}
