package maintenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	iauth "github.com/kodix/kodix-server/internal/auth"
	"github.com/kodix/kodix-server/internal/database/testutil"
	"github.com/kodix/kodix-server/internal/models"
	"github.com/kodix/kodix-server/internal/services"
)

func TestCleanerRunOncePurgesStaleRows(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	user := &models.User{Name: "Maintenance", Email: "maintenance@example.com", Provider: "local"}
	require.NoError(t, db.Create(user).Error)
	team := &models.Team{Name: "Maintenance Team", OwnerID: user.ID}
	require.NoError(t, db.Create(team).Error)

	expired := &models.Session{
		UserID:    user.ID,
		Token:     "expired-token",
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Create(expired).Error)

	live := &models.Session{
		UserID:    user.ID,
		Token:     "live-token",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, db.Create(live).Error)

	staleInvite := &models.Invitation{
		Email:     "late@example.com",
		TeamID:    team.ID,
		InvitedBy: user.ID,
		TokenHash: "stale-hash",
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Create(staleInvite).Error)

	oldLog := &models.AuditLog{
		TeamID:    team.ID,
		Action:    "auth.signin",
		Result:    "success",
		CreatedAt: time.Now().AddDate(0, 0, -120),
	}
	require.NoError(t, db.Create(oldLog).Error)

	sessions, err := iauth.NewSessionService(db, iauth.SessionConfig{})
	require.NoError(t, err)
	invites, err := services.NewInviteService(db, nil, nil)
	require.NoError(t, err)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	cleaner := NewCleaner(sessions, invites, audit, WithAuditRetentionDays(90))
	require.NoError(t, cleaner.RunOnce(t.Context()))

	var sessionCount int64
	require.NoError(t, db.Model(&models.Session{}).Count(&sessionCount).Error)
	require.Equal(t, int64(1), sessionCount)

	var inviteCount int64
	require.NoError(t, db.Model(&models.Invitation{}).Count(&inviteCount).Error)
	require.Zero(t, inviteCount)

	var auditCount int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&auditCount).Error)
	require.Zero(t, auditCount)
}

func TestCleanerStartWithoutDependenciesIsNoop(t *testing.T) {
	cleaner := NewCleaner(nil, nil, nil)
	require.NoError(t, cleaner.Start())

	ctx := cleaner.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	require.NoError(t, cleaner.RunOnce(t.Context()))
}
