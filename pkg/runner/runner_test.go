package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagecraft-io/actioncore/pkg/action"
	"github.com/pagecraft-io/actioncore/pkg/expr"
)

type fakeCaller struct {
	calls    []string
	params   []map[string]any
	response any
	err      error
}

func (f *fakeCaller) Call(ctx context.Context, endpoint string, params map[string]any) (any, error) {
	f.calls = append(f.calls, endpoint)
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func newTestRunner(t *testing.T) (*Runner, *action.Registry, *fakeCaller) {
	t.Helper()
	eval, err := expr.NewEvaluator()
	require.NoError(t, err)
	reg := action.NewRegistry()
	caller := &fakeCaller{}
	return NewRunner(reg, eval, caller), reg, caller
}

func TestExecuteScript(t *testing.T) {
	r, _, _ := newTestRunner(t)

	res := r.Execute(context.Background(), &action.Def{
		Name:    "double",
		Type:    TypeScript,
		Execute: `data.n * 2`,
	}, map[string]any{"n": 21})

	require.True(t, res.Success, res.Error)
	assert.EqualValues(t, 42, res.Data)
}

func TestExecuteAPI(t *testing.T) {
	r, _, caller := newTestRunner(t)
	caller.response = map[string]any{"ok": true}

	res := r.Execute(context.Background(), &action.Def{
		Name:     "sync",
		Type:     TypeAPI,
		Endpoint: "https://api.example.com/sync",
		Params:   map[string]any{"mode": "full"},
	}, nil)

	require.True(t, res.Success, res.Error)
	require.Len(t, caller.calls, 1)
	assert.Equal(t, "https://api.example.com/sync", caller.calls[0])
	assert.Equal(t, "full", caller.params[0]["mode"])
}

func TestExecuteOnClick(t *testing.T) {
	r, _, _ := newTestRunner(t)

	var invoked bool
	res := r.Execute(context.Background(), &action.Def{
		Name: "custom",
		OnClick: func(ctx context.Context, params map[string]any) (any, error) {
			invoked = true
			return "done", nil
		},
	}, nil)

	require.True(t, res.Success)
	assert.True(t, invoked)
	assert.Equal(t, "done", res.Data)
}

func TestExecuteNoHandler(t *testing.T) {
	r, _, _ := newTestRunner(t)
	res := r.Execute(context.Background(), &action.Def{Name: "orphan"}, nil)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "no handler")
}

func TestCustomHandlerTakesPrecedence(t *testing.T) {
	r, _, caller := newTestRunner(t)
	r.RegisterHandler(TypeAPI, func(ctx context.Context, params map[string]any) (any, error) {
		return "handled locally", nil
	})

	res := r.Execute(context.Background(), &action.Def{
		Name:     "sync",
		Type:     TypeAPI,
		Endpoint: "https://api.example.com/sync",
	}, nil)

	require.True(t, res.Success)
	assert.Equal(t, "handled locally", res.Data)
	assert.Empty(t, caller.calls, "custom handler must bypass the API caller")
}

func TestHandlerErrorBecomesResult(t *testing.T) {
	r, _, _ := newTestRunner(t)
	res := r.Execute(context.Background(), &action.Def{
		Name: "boom",
		OnClick: func(ctx context.Context, params map[string]any) (any, error) {
			return nil, errors.New("backend unavailable")
		},
	}, nil)
	require.False(t, res.Success)
	assert.Equal(t, "backend unavailable", res.Error)
}

func TestPanicIsCaught(t *testing.T) {
	r, _, _ := newTestRunner(t)
	res := r.Execute(context.Background(), &action.Def{
		Name: "panics",
		OnClick: func(ctx context.Context, params map[string]any) (any, error) {
			panic("unexpected state")
		},
	}, nil)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "panicked")
}

func TestParamCollectionCancel(t *testing.T) {
	r, _, _ := newTestRunner(t)
	r.SetParamsHandler(func(ctx context.Context, defs []action.ParamDef) (map[string]any, error) {
		return nil, nil // user cancelled
	})

	var invoked bool
	res := r.Execute(context.Background(), &action.Def{
		Name:         "with-params",
		ActionParams: []action.ParamDef{{Name: "reason", Kind: action.ParamString}},
		OnClick: func(ctx context.Context, params map[string]any) (any, error) {
			invoked = true
			return nil, nil
		},
	}, nil)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "cancelled by user (params)")
	assert.False(t, invoked, "handler must not run after cancellation")
}

func TestParamCollectionMerge(t *testing.T) {
	r, _, _ := newTestRunner(t)
	r.SetParamsHandler(func(ctx context.Context, defs []action.ParamDef) (map[string]any, error) {
		return map[string]any{"mode": "collected"}, nil
	})

	def := &action.Def{
		Name:         "with-params",
		ActionParams: []action.ParamDef{{Name: "mode", Kind: action.ParamString}},
		Params:       map[string]any{"mode": "preset", "keep": "me"},
		OnClick: func(ctx context.Context, params map[string]any) (any, error) {
			return params, nil
		},
	}
	res := r.Execute(context.Background(), def, nil)

	require.True(t, res.Success)
	got := res.Data.(map[string]any)
	assert.Equal(t, "collected", got["mode"], "collected values win")
	assert.Equal(t, "me", got["keep"], "unrelated keys preserved")
	assert.Equal(t, "preset", def.Params["mode"], "registered definition is not mutated")
}

func TestNoParamsHandlerIsNoop(t *testing.T) {
	r, _, _ := newTestRunner(t)
	res := r.Execute(context.Background(), &action.Def{
		Name:         "with-params",
		ActionParams: []action.ParamDef{{Name: "reason"}},
		OnClick: func(ctx context.Context, params map[string]any) (any, error) {
			return "ran", nil
		},
	}, nil)
	require.True(t, res.Success)
	assert.Equal(t, "ran", res.Data)
}

func TestConfirmationDeclined(t *testing.T) {
	r, _, _ := newTestRunner(t)
	r.SetConfirmHandler(func(ctx context.Context, message string) (bool, error) {
		return false, nil
	})

	res := r.Execute(context.Background(), &action.Def{
		Name:    "dangerous",
		Confirm: "Really delete everything?",
		OnClick: func(ctx context.Context, params map[string]any) (any, error) {
			t.Fatal("must not execute after declined confirmation")
			return nil, nil
		},
	}, nil)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "cancelled")
}

func TestConfirmationAccepted(t *testing.T) {
	r, _, _ := newTestRunner(t)
	var prompt string
	r.SetConfirmHandler(func(ctx context.Context, message string) (bool, error) {
		prompt = message
		return true, nil
	})

	res := r.Execute(context.Background(), &action.Def{
		Name:    "dangerous",
		Confirm: "Proceed?",
		OnClick: func(ctx context.Context, params map[string]any) (any, error) {
			return "done", nil
		},
	}, nil)

	require.True(t, res.Success)
	assert.Equal(t, "Proceed?", prompt)
}

func TestExecuteByNameUnknown(t *testing.T) {
	r, _, _ := newTestRunner(t)
	res := r.ExecuteByName(context.Background(), "ghost", nil)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
}

func TestExecuteBulk(t *testing.T) {
	r, reg, _ := newTestRunner(t)

	var seen []any
	require.NoError(t, reg.Register(&action.Def{
		Name: "archive",
		OnClick: func(ctx context.Context, params map[string]any) (any, error) {
			return nil, nil
		},
	}, &action.Registration{BulkEnabled: true}))
	require.NoError(t, reg.Register(&action.Def{
		Name: "tag",
		OnClick: func(ctx context.Context, params map[string]any) (any, error) {
			return nil, nil
		},
	}, nil))

	records := []map[string]any{{"id": "1"}, {"id": "2"}, {"id": "3"}}

	// Bulk-disabled action fails every record without executing.
	out := r.ExecuteBulk(context.Background(), "tag", records)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 3, out.Failed)
	for _, res := range out.Results {
		assert.Contains(t, res.Error, "does not support bulk")
	}

	// Unknown action fails every record.
	out = r.ExecuteBulk(context.Background(), "ghost", records)
	assert.Equal(t, 3, out.Failed)

	// Mixed success and failure: processing continues past failures.
	require.NoError(t, reg.Register(&action.Def{
		Name: "flaky",
		OnClick: func(ctx context.Context, params map[string]any) (any, error) {
			record := params["record"].(map[string]any)
			seen = append(seen, record["id"])
			if record["id"] == "2" {
				return nil, errors.New("record locked")
			}
			return nil, nil
		},
	}, &action.Registration{BulkEnabled: true}))

	out = r.ExecuteBulk(context.Background(), "flaky", records)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, []any{"1", "2", "3"}, seen, "all records processed in order")
	assert.False(t, out.Results[1].Success)
}
