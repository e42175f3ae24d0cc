package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kodix/kodix-server/internal/apps"
)

func TestInstallAndUninstallApp(t *testing.T) {
	db := openServiceDB(t)
	svc, err := NewAppService(db, nil, nil)
	require.NoError(t, err)

	owner := seedServiceUser(t, db, "owner@example.com")
	team := seedServiceTeam(t, db, owner, "t1")

	installed, err := svc.IsInstalled(context.Background(), team.ID, apps.KodixCareAppID)
	require.NoError(t, err)
	require.False(t, installed)

	installation, err := svc.Install(context.Background(), owner.ID, team.ID, apps.KodixCareAppID)
	require.NoError(t, err)
	require.Equal(t, team.ID, installation.TeamID)
	require.Equal(t, owner.ID, installation.InstalledBy)

	installed, err = svc.IsInstalled(context.Background(), team.ID, apps.KodixCareAppID)
	require.NoError(t, err)
	require.True(t, installed)

	require.NoError(t, svc.Uninstall(context.Background(), owner.ID, team.ID, apps.KodixCareAppID))
	require.ErrorIs(t, svc.Uninstall(context.Background(), owner.ID, team.ID, apps.KodixCareAppID), ErrAppNotInstalled)
}

func TestInstallAppOwnerOnly(t *testing.T) {
	db := openServiceDB(t)
	svc, err := NewAppService(db, nil, nil)
	require.NoError(t, err)

	owner := seedServiceUser(t, db, "owner@example.com")
	member := seedServiceUser(t, db, "member@example.com")
	team := seedServiceTeam(t, db, owner, "t1", member)

	_, err = svc.Install(context.Background(), member.ID, team.ID, apps.TodoAppID)
	require.ErrorIs(t, err, ErrNotTeamOwner)
}

func TestInstallAppDuplicate(t *testing.T) {
	db := openServiceDB(t)
	svc, err := NewAppService(db, nil, nil)
	require.NoError(t, err)

	owner := seedServiceUser(t, db, "owner@example.com")
	team := seedServiceTeam(t, db, owner, "t1")

	_, err = svc.Install(context.Background(), owner.ID, team.ID, apps.TodoAppID)
	require.NoError(t, err)
	_, err = svc.Install(context.Background(), owner.ID, team.ID, apps.TodoAppID)
	require.ErrorIs(t, err, ErrAppAlreadyInstalled)
}

func TestInstallUnknownApp(t *testing.T) {
	db := openServiceDB(t)
	svc, err := NewAppService(db, nil, nil)
	require.NoError(t, err)

	owner := seedServiceUser(t, db, "owner@example.com")
	team := seedServiceTeam(t, db, owner, "t1")

	_, err = svc.Install(context.Background(), owner.ID, team.ID, "nope")
	require.ErrorIs(t, err, ErrAppUnknown)
}

func TestMarketplaceFlagsInstalledApps(t *testing.T) {
	db := openServiceDB(t)
	svc, err := NewAppService(db, nil, nil)
	require.NoError(t, err)

	owner := seedServiceUser(t, db, "owner@example.com")
	team := seedServiceTeam(t, db, owner, "t1")

	_, err = svc.Install(context.Background(), owner.ID, team.ID, apps.CalendarAppID)
	require.NoError(t, err)

	entries, err := svc.Marketplace(context.Background(), team.ID)
	require.NoError(t, err)
	require.Len(t, entries, len(apps.Default().GetAll()))

	byID := map[string]bool{}
	for _, entry := range entries {
		byID[entry.App.ID] = entry.Installed
	}
	require.True(t, byID[apps.CalendarAppID])
	require.False(t, byID[apps.KodixCareAppID])
}
