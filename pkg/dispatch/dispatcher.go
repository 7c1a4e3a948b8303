// Package dispatch maps named UI events and keyboard shortcuts onto
// registered actions, with optional guard conditions evaluated against the
// current context data.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pagecraft-io/actioncore/pkg/action"
	"github.com/pagecraft-io/actioncore/pkg/expr"
)

// ActionExecutor runs one resolved action. *runner.Runner satisfies it.
type ActionExecutor interface {
	Execute(ctx context.Context, def *action.Def, data map[string]any) action.Result
}

// Mapping routes one event to one action, optionally gated by a condition
// expression over the event's context data. One event may map to many
// actions; they are evaluated in registration order.
type Mapping struct {
	Event      string
	ActionName string
	Condition  string
}

// Dispatcher resolves events to actions and executes them.
type Dispatcher struct {
	registry *action.Registry
	eval     *expr.Evaluator
	executor ActionExecutor
	logger   *slog.Logger

	mu       sync.RWMutex
	mappings []Mapping
}

// NewDispatcher wires a dispatcher to its registry, evaluator, and
// executor. eval may be nil when no mapping uses conditions.
func NewDispatcher(registry *action.Registry, eval *expr.Evaluator, executor ActionExecutor) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		eval:     eval,
		executor: executor,
		logger:   slog.Default().With("component", "dispatcher"),
	}
}

// AddMapping appends an event→action mapping.
func (d *Dispatcher) AddMapping(m Mapping) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mappings = append(d.mappings, m)
}

// RemoveMappings drops every mapping for an event.
func (d *Dispatcher) RemoveMappings(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.mappings[:0]
	for _, m := range d.mappings {
		if m.Event != event {
			kept = append(kept, m)
		}
	}
	d.mappings = kept
}

// Dispatch executes every action mapped to the event whose condition holds,
// in registration order, and returns their results. Unmapped events return
// an empty slice. A false or failing condition skips its mapping silently;
// condition evaluation errors are treated as "condition not met" and
// logged, never surfaced.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data map[string]any) []action.Result {
	d.mu.RLock()
	var matched []Mapping
	for _, m := range d.mappings {
		if m.Event == event {
			matched = append(matched, m)
		}
	}
	d.mu.RUnlock()

	results := make([]action.Result, 0, len(matched))
	for _, m := range matched {
		if m.Condition != "" {
			if d.eval == nil {
				d.logger.Debug("mapping has a condition but no evaluator; skipping",
					"event", event, "action", m.ActionName)
				continue
			}
			ok, err := d.eval.EvalBool(m.Condition, data)
			if err != nil {
				d.logger.Debug("condition evaluation failed; skipping mapping",
					"event", event, "action", m.ActionName, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}

		def := d.registry.Get(m.ActionName)
		if def == nil {
			results = append(results, action.Failf("action %q not found", m.ActionName))
			continue
		}
		results = append(results, d.executor.Execute(ctx, def, data))
	}
	return results
}

// HandleShortcut resolves a shortcut string (any modifier order) to its
// bound action and executes it. It returns (nil, false) when no binding
// exists; an unbound shortcut is not an error.
func (d *Dispatcher) HandleShortcut(ctx context.Context, keys string, data map[string]any) (*action.Result, bool) {
	name, ok := d.registry.ActionForShortcut(keys)
	if !ok {
		return nil, false
	}
	def := d.registry.Get(name)
	if def == nil {
		return nil, false
	}
	res := d.executor.Execute(ctx, def, data)
	return &res, true
}
