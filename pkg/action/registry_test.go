package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRequiresIdentity(t *testing.T) {
	r := NewRegistry()

	err := r.Register(&Def{}, nil)
	require.ErrorIs(t, err, ErrInvalidAction)

	err = r.Register(nil, nil)
	require.ErrorIs(t, err, ErrInvalidAction)

	// Type alone is a valid identity.
	require.NoError(t, r.Register(&Def{Type: "export"}, nil))
	assert.NotNil(t, r.Get("export"))
}

func TestNameWinsOverType(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Def{Name: "save-record", Type: "api"}, nil))
	assert.NotNil(t, r.Get("save-record"))
	assert.Nil(t, r.Get("api"))
}

func TestLocationPriorityOrdering(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Def{Name: "c"}, &Registration{Locations: []string{"toolbar"}, Priority: 200}))
	require.NoError(t, r.Register(&Def{Name: "a"}, &Registration{Locations: []string{"toolbar"}, Priority: 10}))
	require.NoError(t, r.Register(&Def{Name: "b"}, &Registration{Locations: []string{"toolbar"}, Priority: 100}))

	got := r.GetForLocation("toolbar")
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
	assert.Equal(t, "c", got[2].Name)
}

func TestEqualPriorityKeepsInsertionOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, r.Register(&Def{Name: name}, &Registration{Locations: []string{"row"}, Priority: 50}))
	}
	got := r.GetForLocation("row")
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "second", got[1].Name)
	assert.Equal(t, "third", got[2].Name)
}

func TestUnknownLocationIsEmpty(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.GetForLocation("nowhere"))
}

func TestShortcutBinding(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Def{Name: "save"}, &Registration{Shortcut: "shift+ctrl+s"}))

	bindings := r.Shortcuts()
	require.Len(t, bindings, 1)
	assert.Equal(t, "ctrl+shift+s", bindings[0].Keys)
	assert.Equal(t, "save", bindings[0].ActionName)

	// Lookup is modifier-order insensitive.
	name, ok := r.ActionForShortcut("ctrl+shift+s")
	require.True(t, ok)
	assert.Equal(t, "save", name)

	// Rebinding the same chord overwrites silently.
	require.NoError(t, r.Register(&Def{Name: "save-all"}, &Registration{Shortcut: "ctrl+shift+s"}))
	name, ok = r.ActionForShortcut("shift+ctrl+s")
	require.True(t, ok)
	assert.Equal(t, "save-all", name)
}

func TestInvalidShortcutFailsRegistration(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Def{Name: "broken"}, &Registration{Shortcut: "hyper+x"})
	require.Error(t, err)
	assert.Nil(t, r.Get("broken"))
}

func TestUnregisterRemovesEverything(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Def{Name: "del"}, &Registration{
		Locations:   []string{"toolbar", "row"},
		Shortcut:    "ctrl+d",
		BulkEnabled: true,
	}))

	r.Unregister("del")

	assert.Nil(t, r.Get("del"))
	assert.Empty(t, r.GetForLocation("toolbar"))
	assert.Empty(t, r.GetForLocation("row"))
	assert.Empty(t, r.Shortcuts())
	assert.Empty(t, r.GetBulkActions())

	// Idempotent.
	r.Unregister("del")
}

func TestRegisterManyCollectsFailures(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterMany([]*Def{
		{Name: "ok-1"},
		{}, // no identity
		{Name: "ok-2"},
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAction)

	// Fail-soft: the valid items registered anyway.
	assert.NotNil(t, r.Get("ok-1"))
	assert.NotNil(t, r.Get("ok-2"))
}

func TestBulkActions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Def{Name: "archive"}, &Registration{BulkEnabled: true}))
	require.NoError(t, r.Register(&Def{Name: "open"}, nil))

	bulk := r.GetBulkActions()
	require.Len(t, bulk, 1)
	assert.Equal(t, "archive", bulk[0].Name)
	assert.True(t, r.BulkEnabled("archive"))
	assert.False(t, r.BulkEnabled("open"))
}

func TestEngineVersionCompatibility(t *testing.T) {
	r := NewRegistry().WithEngineVersion("2.3.0")

	require.NoError(t, r.Register(&Def{Name: "modern", Requires: ">= 2.0.0"}, nil))

	err := r.Register(&Def{Name: "future", Requires: ">= 3.0.0"}, nil)
	require.ErrorIs(t, err, ErrIncompatibleAction)
	assert.Nil(t, r.Get("future"))

	// No engine version configured: constraints are not enforced.
	open := NewRegistry()
	require.NoError(t, open.Register(&Def{Name: "anything", Requires: ">= 99.0.0"}, nil))
}

func TestClear(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Def{Name: "x"}, &Registration{
		Locations: []string{"toolbar"},
		Shortcut:  "ctrl+x",
	}))
	r.Clear()
	assert.Nil(t, r.Get("x"))
	assert.Empty(t, r.GetForLocation("toolbar"))
	assert.Empty(t, r.Shortcuts())
}
