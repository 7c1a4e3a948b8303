package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/pagecraft-io/actioncore/pkg/datasource"
)

// bulkSpyDS layers a native bulk path over spyDS.
type bulkSpyDS struct {
	spyDS
	bulkErr error
}

func (b *bulkSpyDS) Bulk(ctx context.Context, resource string, op datasource.Operation, items []map[string]any) ([]map[string]any, error) {
	b.record("bulk %s %s x%d", resource, op, len(items))
	if b.bulkErr != nil {
		return nil, b.bulkErr
	}
	return items, nil
}

func TestBatchUsesBulkWhenAvailable(t *testing.T) {
	ds := &bulkSpyDS{}
	m := NewManager(ds, fastOptions())

	items := []map[string]any{{"id": "1"}, {"id": "2"}, {"id": "3"}}
	res := m.ExecuteBatch(context.Background(), "orders", datasource.OpCreate, items, nil)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Succeeded)
	assert.Zero(t, res.Failed)
	// One bulk call, zero individual calls.
	assert.Equal(t, []string{"bulk orders create x3"}, ds.callLog())
}

func TestBatchFallsBackWhenBulkFails(t *testing.T) {
	ds := &bulkSpyDS{bulkErr: errors.New("bulk endpoint gone")}
	m := NewManager(ds, fastOptions())

	items := []map[string]any{{"id": "1"}, {"id": "2"}}
	res := m.ExecuteBatch(context.Background(), "orders", datasource.OpCreate, items, nil)

	assert.True(t, res.Success, "fallback still completes the batch")
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, []string{
		"bulk orders create x2",
		"create orders",
		"create orders",
	}, ds.callLog())
}

func TestBatchWithoutBulkCapability(t *testing.T) {
	ds := &spyDS{}
	m := NewManager(ds, fastOptions())

	items := []map[string]any{{"id": "1"}, {"id": "2"}}
	res := m.ExecuteBatch(context.Background(), "orders", datasource.OpDelete, items, nil)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"delete orders/1", "delete orders/2"}, ds.callLog())
}

func TestBatchItemFailuresAreIsolated(t *testing.T) {
	ds := &spyDS{}
	m := NewManager(ds, fastOptions())

	// The second item has no id: update cannot target it.
	items := []map[string]any{
		{"id": "1", "status": "done"},
		{"status": "done"},
		{"id": "3", "status": "done"},
	}
	res := m.ExecuteBatch(context.Background(), "orders", datasource.OpUpdate, items, nil)

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "missing id", res.Errors[0].Error)
	assert.Equal(t, items[1], res.Errors[0].Item)
	// Items after the failure still ran.
	assert.Contains(t, ds.callLog(), "update orders/3")
}

func TestBatchRetryOnError(t *testing.T) {
	calls := 0
	ds := &flakyCreateDS{failures: 2, calls: &calls}
	m := NewManager(ds, fastOptions())

	res := m.ExecuteBatch(context.Background(), "orders", datasource.OpCreate,
		[]map[string]any{{"id": "1"}},
		&BatchOptions{RetryOnError: true, MaxRetries: 3})

	assert.True(t, res.Success)
	assert.Equal(t, 3, calls)
}

func TestBatchRetryExhaustion(t *testing.T) {
	calls := 0
	ds := &flakyCreateDS{failures: 10, calls: &calls}
	m := NewManager(ds, fastOptions())

	res := m.ExecuteBatch(context.Background(), "orders", datasource.OpCreate,
		[]map[string]any{{"id": "1"}},
		&BatchOptions{RetryOnError: true, MaxRetries: 2})

	assert.False(t, res.Success)
	assert.Equal(t, 2, calls)
	require.Len(t, res.Errors, 1)
}

func TestBatchProgressReporting(t *testing.T) {
	m := NewManager(&spyDS{}, fastOptions())

	var managerEvents, optEvents []Progress
	m.OnProgress(func(p Progress) { managerEvents = append(managerEvents, p) })

	items := []map[string]any{{"id": "1"}, {"id": "2"}}
	m.ExecuteBatch(context.Background(), "orders", datasource.OpDelete, items,
		&BatchOptions{OnProgress: func(p Progress) { optEvents = append(optEvents, p) }})

	want := []Progress{
		{Completed: 1, Total: 2, Percentage: 50},
		{Completed: 2, Total: 2, Percentage: 100},
	}
	assert.Equal(t, want, managerEvents)
	assert.Equal(t, want, optEvents)
}

func TestBatchBulkReportsSingleProgressEvent(t *testing.T) {
	m := NewManager(&bulkSpyDS{}, fastOptions())

	var events []Progress
	m.OnProgress(func(p Progress) { events = append(events, p) })

	items := []map[string]any{{"id": "1"}, {"id": "2"}, {"id": "3"}}
	m.ExecuteBatch(context.Background(), "orders", datasource.OpCreate, items, nil)

	require.Len(t, events, 1)
	assert.Equal(t, Progress{Completed: 3, Total: 3, Percentage: 100}, events[0])
}

func TestBatchEmptyItems(t *testing.T) {
	m := NewManager(&spyDS{}, fastOptions())
	res := m.ExecuteBatch(context.Background(), "orders", datasource.OpCreate, nil, nil)
	assert.True(t, res.Success)
	assert.Zero(t, res.Succeeded)
	assert.Zero(t, res.Failed)
}

func TestBatchWithLimiter(t *testing.T) {
	ds := &spyDS{}
	m := NewManager(ds, fastOptions())

	res := m.ExecuteBatch(context.Background(), "orders", datasource.OpDelete,
		[]map[string]any{{"id": "1"}, {"id": "2"}},
		&BatchOptions{Limiter: rate.NewLimiter(rate.Inf, 1)})

	assert.True(t, res.Success)
	assert.Len(t, ds.callLog(), 2)
}

// flakyCreateDS fails Create a fixed number of times, then succeeds.
type flakyCreateDS struct {
	spyDS
	failures int
	calls    *int
}

func (f *flakyCreateDS) Create(ctx context.Context, resource string, data map[string]any) (map[string]any, error) {
	*f.calls++
	if *f.calls <= f.failures {
		return nil, errors.New("transient")
	}
	return data, nil
}
