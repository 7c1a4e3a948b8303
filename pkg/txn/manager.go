// Package txn orchestrates multi-action transactions with all-or-nothing
// semantics: ordered execution, an operation log of what each step did,
// compensating rollback in reverse order, bounded conflict retry, progress
// reporting, optimistic-update bookkeeping, and batch CRUD execution with
// bulk-then-individual fallback.
//
// Execution is strictly sequential within one transaction or batch call;
// there is no parallelism in the core loop. That is deliberate: it keeps
// the compensating-operation order deterministic.
package txn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pagecraft-io/actioncore/pkg/action"
	"github.com/pagecraft-io/actioncore/pkg/datasource"
	"github.com/pagecraft-io/actioncore/pkg/telemetry"
)

// Options configures a Manager.
type Options struct {
	// MaxRetries is the total number of attempts for a failing action or
	// batch item when retry is requested. Values below 1 use the default.
	MaxRetries int
	// RetryDelay is the plain delay between attempts. There is no
	// exponential backoff in the core loop; callers needing one can wrap
	// the executor.
	RetryDelay time.Duration
	Logger     *slog.Logger
	// Telemetry, when set, traces each transaction and feeds the RED
	// instruments.
	Telemetry *telemetry.Provider
}

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 100 * time.Millisecond
)

// Progress is emitted after each completed action or batch item.
type Progress struct {
	Completed  int
	Total      int
	Percentage float64
}

// OperationRecord is one entry in a transaction's operation log, recorded
// by executor-side code after a successful side effect so rollback knows
// how to compensate it.
type OperationRecord struct {
	Type          datasource.Operation
	Resource      string
	ID            string
	Result        map[string]any
	PreviousState map[string]any
}

// Tx is the per-call transaction handle. Each ExecuteTransaction call owns
// its own Tx, so concurrent transactions never share an operation log.
type Tx struct {
	id string

	mu  sync.Mutex
	ops []OperationRecord
}

// ID returns the transaction's unique id.
func (t *Tx) ID() string { return t.id }

// RecordOperation appends to the operation log. Executors call this after
// each successful side effect; entries are compensated in reverse order if
// the transaction fails.
func (t *Tx) RecordOperation(op OperationRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = append(t.ops, op)
}

func (t *Tx) operations() []OperationRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]OperationRecord, len(t.ops))
	copy(out, t.ops)
	return out
}

// Executor runs one action inside a transaction. The Tx handle is how the
// executor registers compensating information via RecordOperation.
type Executor func(ctx context.Context, tx *Tx, act *action.Def) (action.Result, error)

// Descriptor describes one transaction call. It is ephemeral: constructed
// per call and never persisted.
type Descriptor struct {
	Name            string
	Actions         []*action.Def
	RetryOnConflict bool
	// MaxRetries overrides the manager default when > 0.
	MaxRetries int
}

// Result is the terminal outcome of one transaction.
type Result struct {
	TransactionID string
	Name          string
	Success       bool
	ActionResults []action.Result
	RolledBack    bool
	// RollbackErrors lists compensations that failed. Rollback is
	// best-effort: these never flip RolledBack or Success.
	RollbackErrors []string
	Error          string
	// DescriptorHash is the SHA-256 of the descriptor's canonical
	// (RFC 8785) JSON shape, for audit correlation across systems.
	DescriptorHash string
}

// Manager owns transaction execution, optimistic updates, and batches.
type Manager struct {
	ds     datasource.DataSource
	opts   Options
	logger *slog.Logger

	lmu       sync.Mutex
	listeners map[int]func(Progress)
	nextID    int

	omu     sync.Mutex
	pending map[string]*OptimisticUpdate
}

// NewManager creates a transaction manager over a data source.
func NewManager(ds datasource.DataSource, opts Options) *Manager {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ds:        ds,
		opts:      opts,
		logger:    logger.With("component", "txn"),
		listeners: make(map[int]func(Progress)),
		pending:   make(map[string]*OptimisticUpdate),
	}
}

// OnProgress subscribes to progress events for transactions and batches.
// The returned function unsubscribes.
func (m *Manager) OnProgress(fn func(Progress)) func() {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.lmu.Lock()
		defer m.lmu.Unlock()
		delete(m.listeners, id)
	}
}

// emitProgress fires synchronously to all subscribers, in the same call
// chain as the action that completed.
func (m *Manager) emitProgress(p Progress) {
	m.lmu.Lock()
	fns := make([]func(Progress), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.lmu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func progressAt(completed, total int) Progress {
	p := Progress{Completed: completed, Total: total}
	if total > 0 {
		p.Percentage = float64(completed) / float64(total) * 100
	} else {
		p.Percentage = 100
	}
	return p
}

// descriptorHash canonicalizes the identifying shape of a descriptor. The
// hash input deliberately excludes handler functions: only names, params,
// and retry settings participate.
func descriptorHash(desc Descriptor) string {
	type actionShape struct {
		Name   string         `json:"name"`
		Params map[string]any `json:"params,omitempty"`
	}
	shape := struct {
		Name            string        `json:"name"`
		Actions         []actionShape `json:"actions"`
		RetryOnConflict bool          `json:"retryOnConflict"`
	}{Name: desc.Name, RetryOnConflict: desc.RetryOnConflict}
	for _, act := range desc.Actions {
		shape.Actions = append(shape.Actions, actionShape{Name: act.Identity(), Params: act.Params})
	}
	raw, err := json.Marshal(shape)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ExecuteTransaction runs the descriptor's actions strictly in order. The
// first terminal failure halts the sequence and triggers best-effort
// rollback of everything the operation log recorded. Failures surface in
// the Result; this method never returns an error value and never panics.
func (m *Manager) ExecuteTransaction(ctx context.Context, desc Descriptor, exec Executor) *Result {
	tx := &Tx{id: uuid.New().String()}
	result := &Result{
		TransactionID:  tx.id,
		Name:           desc.Name,
		Success:        true,
		ActionResults:  []action.Result{},
		DescriptorHash: descriptorHash(desc),
	}

	if m.opts.Telemetry != nil {
		var done func(error)
		ctx, done = m.opts.Telemetry.TrackExecution(ctx, "transaction.execute",
			attribute.String("transaction.id", tx.id),
			attribute.String("transaction.name", desc.Name),
		)
		defer func() {
			if result.Success {
				done(nil)
			} else {
				done(errors.New(result.Error))
			}
		}()
	}

	if len(desc.Actions) == 0 {
		return result
	}

	maxAttempts := 1
	if desc.RetryOnConflict {
		maxAttempts = m.opts.MaxRetries
		if desc.MaxRetries > 0 {
			maxAttempts = desc.MaxRetries
		}
	}

	total := len(desc.Actions)
	for i, act := range desc.Actions {
		res := m.runWithRetry(ctx, tx, act, exec, maxAttempts)
		result.ActionResults = append(result.ActionResults, res)
		m.emitProgress(progressAt(i+1, total))

		if !res.Success {
			result.Success = false
			result.Error = res.Error
			result.RollbackErrors = m.rollback(ctx, tx)
			result.RolledBack = true
			m.logger.Warn("transaction failed, rolled back",
				"transaction", tx.id, "name", desc.Name,
				"failedAction", act.Identity(), "error", res.Error,
				"compensationFailures", len(result.RollbackErrors))
			return result
		}
	}

	m.logger.Info("transaction committed",
		"transaction", tx.id, "name", desc.Name, "actions", total)
	return result
}

// runWithRetry re-attempts only the failing action, never the whole
// transaction. maxAttempts is the total attempt count.
func (m *Manager) runWithRetry(ctx context.Context, tx *Tx, act *action.Def, exec Executor, maxAttempts int) action.Result {
	var res action.Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return action.Failf("transaction cancelled: %v", ctx.Err())
			case <-time.After(m.opts.RetryDelay):
			}
			m.logger.Debug("retrying action",
				"transaction", tx.id, "action", act.Identity(), "attempt", attempt)
		}
		res = m.safeExec(ctx, tx, act, exec)
		if res.Success {
			return res
		}
	}
	return res
}

// safeExec converts executor errors and panics into failed results so they
// never escape the transaction boundary.
func (m *Manager) safeExec(ctx context.Context, tx *Tx, act *action.Def, exec Executor) (res action.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("executor panicked",
				"transaction", tx.id, "action", act.Identity(), "panic", rec)
			res = action.Failf("action %q panicked: %v", act.Identity(), rec)
		}
	}()
	res, err := exec(ctx, tx, act)
	if err != nil {
		return action.Fail(err)
	}
	return res
}

// rollback walks the operation log in reverse and applies the compensating
// operation for each entry: created records are deleted, updated records
// restored, deleted records recreated. Individual compensation failures are
// collected and logged but never abort the walk.
func (m *Manager) rollback(ctx context.Context, tx *Tx) []string {
	ops := tx.operations()
	var failures []string
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if err := m.compensate(ctx, op); err != nil {
			failures = append(failures, err.Error())
			m.logger.Warn("rollback compensation failed",
				"transaction", tx.id, "type", op.Type, "resource", op.Resource, "error", err)
		}
	}
	return failures
}

func (m *Manager) compensate(ctx context.Context, op OperationRecord) error {
	switch op.Type {
	case datasource.OpCreate:
		id := op.ID
		if id == "" {
			var ok bool
			if id, ok = datasource.RecordID(op.Result); !ok {
				return fmt.Errorf("compensate create on %s: no record id", op.Resource)
			}
		}
		if _, err := m.ds.Delete(ctx, op.Resource, id); err != nil {
			return fmt.Errorf("compensate create %s/%s: %w", op.Resource, id, err)
		}
		return nil

	case datasource.OpUpdate:
		if op.ID == "" {
			return fmt.Errorf("compensate update on %s: no record id", op.Resource)
		}
		if _, err := m.ds.Update(ctx, op.Resource, op.ID, op.PreviousState); err != nil {
			return fmt.Errorf("compensate update %s/%s: %w", op.Resource, op.ID, err)
		}
		return nil

	case datasource.OpDelete:
		if op.PreviousState == nil {
			return fmt.Errorf("compensate delete on %s: no previous state", op.Resource)
		}
		if _, err := m.ds.Create(ctx, op.Resource, op.PreviousState); err != nil {
			return fmt.Errorf("compensate delete on %s: %w", op.Resource, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}
