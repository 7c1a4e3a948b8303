package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	require.NoError(t, err)
	return e
}

func TestEvalBool(t *testing.T) {
	e := newEvaluator(t)

	tests := []struct {
		name    string
		expr    string
		data    map[string]any
		want    bool
		wantErr bool
	}{
		{
			name: "equality",
			expr: `data.status == "active"`,
			data: map[string]any{"status": "active"},
			want: true,
		},
		{
			name: "equality false",
			expr: `data.status == "active"`,
			data: map[string]any{"status": "archived"},
			want: false,
		},
		{
			name: "boolean operators",
			expr: `data.count > 3 && data.status != "locked"`,
			data: map[string]any{"count": 5, "status": "open"},
			want: true,
		},
		{
			name: "in operator",
			expr: `data.role in ["admin", "editor"]`,
			data: map[string]any{"role": "editor"},
			want: true,
		},
		{
			name: "nested access",
			expr: `data.record.owner == "alice"`,
			data: map[string]any{"record": map[string]any{"owner": "alice"}},
			want: true,
		},
		{
			name: "nil data",
			expr: `"missing" in data`,
			data: nil,
			want: false,
		},
		{
			name:    "non-bool result",
			expr:    `data.status`,
			data:    map[string]any{"status": "active"},
			wantErr: true,
		},
		{
			name:    "compile error",
			expr:    `data.status ===`,
			data:    map[string]any{},
			wantErr: true,
		},
		{
			name:    "missing key is a runtime error",
			expr:    `data.absent == 1`,
			data:    map[string]any{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvalBool(tt.expr, tt.data)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalValue(t *testing.T) {
	e := newEvaluator(t)

	v, err := e.Eval(`data.price * 2`, map[string]any{"price": 21})
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	v, err = e.Eval(`data.first + " " + data.last`, map[string]any{"first": "Ada", "last": "Lovelace"})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", v)
}

func TestProgramCacheReuse(t *testing.T) {
	e := newEvaluator(t)

	const src = `data.n == 1`
	_, err := e.EvalBool(src, map[string]any{"n": 1})
	require.NoError(t, err)

	e.mu.RLock()
	_, cached := e.cache[src]
	e.mu.RUnlock()
	assert.True(t, cached)

	// Second run goes through the cached program.
	got, err := e.EvalBool(src, map[string]any{"n": 2})
	require.NoError(t, err)
	assert.False(t, got)
}
