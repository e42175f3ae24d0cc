package services

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/database/testutil"
	"github.com/kodix/kodix-server/internal/models"
)

func openServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t)
}

func seedServiceUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := &models.User{Email: email, Name: "Test User", IsActive: true}
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, db.Model(user).Update("is_active", true).Error)
	return user
}

func seedServiceTeam(t *testing.T, db *gorm.DB, owner *models.User, name string, members ...*models.User) *models.Team {
	t.Helper()

	team := &models.Team{Name: name, OwnerID: owner.ID}
	require.NoError(t, db.Create(team).Error)
	require.NoError(t, db.Model(owner).Association("Teams").Append(team))
	for _, member := range members {
		require.NoError(t, db.Model(member).Association("Teams").Append(team))
	}
	return team
}

type recordingInvalidator struct {
	userIDs []string
	reasons []string
}

func (r *recordingInvalidator) InvalidateUser(userID, reason string) {
	r.userIDs = append(r.userIDs, userID)
	r.reasons = append(r.reasons, reason)
}
