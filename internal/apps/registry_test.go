package apps

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryHoldsBuiltInApps(t *testing.T) {
	for _, id := range []string{TodoAppID, CalendarAppID, KodixCareAppID} {
		app, ok := Default().Get(id)
		require.True(t, ok, "expected %s to be registered", id)
		require.NotEmpty(t, app.Name)
		require.NotEmpty(t, app.DefaultPath)
	}

	require.False(t, Default().Valid("unknownApp"))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&App{ID: "todo"}))
	require.Error(t, reg.Register(&App{ID: "todo"}))
}

func TestRegisterDefaultsPath(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&App{ID: "calendar"}))

	app, ok := reg.Get("calendar")
	require.True(t, ok)
	require.Equal(t, "/calendar", app.DefaultPath)
}

func TestGetAllSorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&App{ID: "b", SortOrder: 2}))
	require.NoError(t, reg.Register(&App{ID: "a", SortOrder: 1}))

	all := reg.GetAll()
	require.Len(t, all, 2)
	require.Equal(t, "a", all[0].ID)
}

func TestGetReturnsCopy(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&App{ID: "todo", Name: "Todo"}))

	app, _ := reg.Get("todo")
	app.Name = "mutated"

	again, _ := reg.Get("todo")
	require.Equal(t, "Todo", again.Name)
}
