package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagecraft-io/actioncore/pkg/action"
	"github.com/pagecraft-io/actioncore/pkg/expr"
)

// recordingExecutor succeeds every action and records execution order.
type recordingExecutor struct {
	executed []string
}

func (r *recordingExecutor) Execute(ctx context.Context, def *action.Def, data map[string]any) action.Result {
	r.executed = append(r.executed, def.Identity())
	return action.OK(def.Identity())
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *action.Registry, *recordingExecutor) {
	t.Helper()
	eval, err := expr.NewEvaluator()
	require.NoError(t, err)
	reg := action.NewRegistry()
	exec := &recordingExecutor{}
	return NewDispatcher(reg, eval, exec), reg, exec
}

func TestDispatchInRegistrationOrder(t *testing.T) {
	d, reg, exec := newTestDispatcher(t)
	require.NoError(t, reg.Register(&action.Def{Name: "validate"}, nil))
	require.NoError(t, reg.Register(&action.Def{Name: "save"}, nil))

	d.AddMapping(Mapping{Event: "record.submit", ActionName: "validate"})
	d.AddMapping(Mapping{Event: "record.submit", ActionName: "save"})

	results := d.Dispatch(context.Background(), "record.submit", nil)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"validate", "save"}, exec.executed)
}

func TestDispatchUnmappedEventIsEmpty(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	results := d.Dispatch(context.Background(), "never.seen", nil)
	assert.Empty(t, results)
	assert.NotNil(t, results)
}

func TestDispatchConditionGating(t *testing.T) {
	d, reg, exec := newTestDispatcher(t)
	require.NoError(t, reg.Register(&action.Def{Name: "archive"}, nil))
	require.NoError(t, reg.Register(&action.Def{Name: "notify"}, nil))

	d.AddMapping(Mapping{Event: "row.select", ActionName: "archive", Condition: `data.status == "done"`})
	d.AddMapping(Mapping{Event: "row.select", ActionName: "notify"})

	results := d.Dispatch(context.Background(), "row.select", map[string]any{"status": "open"})
	require.Len(t, results, 1, "false condition skips silently")
	assert.Equal(t, []string{"notify"}, exec.executed)

	exec.executed = nil
	results = d.Dispatch(context.Background(), "row.select", map[string]any{"status": "done"})
	require.Len(t, results, 2)
	assert.Equal(t, []string{"archive", "notify"}, exec.executed)
}

func TestDispatchConditionErrorSkipsSilently(t *testing.T) {
	d, reg, exec := newTestDispatcher(t)
	require.NoError(t, reg.Register(&action.Def{Name: "guarded"}, nil))

	// data.missing does not exist: a runtime evaluation error, not a dispatch error.
	d.AddMapping(Mapping{Event: "e", ActionName: "guarded", Condition: `data.missing == 1`})

	results := d.Dispatch(context.Background(), "e", map[string]any{})
	assert.Empty(t, results)
	assert.Empty(t, exec.executed)
}

func TestDispatchUnknownActionCollectsFailure(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	d.AddMapping(Mapping{Event: "e", ActionName: "ghost"})

	results := d.Dispatch(context.Background(), "e", nil)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "not found")
}

func TestRemoveMappings(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	require.NoError(t, reg.Register(&action.Def{Name: "a"}, nil))
	d.AddMapping(Mapping{Event: "e", ActionName: "a"})
	d.AddMapping(Mapping{Event: "other", ActionName: "a"})

	d.RemoveMappings("e")
	assert.Empty(t, d.Dispatch(context.Background(), "e", nil))
	assert.Len(t, d.Dispatch(context.Background(), "other", nil), 1)
}

func TestHandleShortcut(t *testing.T) {
	d, reg, exec := newTestDispatcher(t)
	require.NoError(t, reg.Register(&action.Def{Name: "save"}, &action.Registration{Shortcut: "ctrl+s"}))

	// Modifier order does not matter for lookup.
	res, ok := d.HandleShortcut(context.Background(), "ctrl+s", nil)
	require.True(t, ok)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"save"}, exec.executed)

	res, ok = d.HandleShortcut(context.Background(), "ctrl+q", nil)
	assert.False(t, ok)
	assert.Nil(t, res)
}
