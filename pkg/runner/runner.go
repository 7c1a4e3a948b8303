// Package runner executes a single action end to end: parameter
// collection, confirmation, invocation, and result normalization.
//
// All UI concerns (confirmation dialogs, toasts, modals, navigation,
// parameter forms) are injected handlers owned by the host application.
// Handlers are instance fields, not process-wide globals, so multiple
// runners with independent UI bindings can coexist.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pagecraft-io/actioncore/pkg/action"
	"github.com/pagecraft-io/actioncore/pkg/expr"
)

// Built-in action types.
const (
	TypeScript = "script"
	TypeAPI    = "api"
)

// ConfirmHandler asks the user to confirm. false or an error aborts the
// action with a cancellation result.
type ConfirmHandler func(ctx context.Context, message string) (bool, error)

// ParamsHandler collects parameter values from the user. Returning a nil
// map with a nil error means the user cancelled.
type ParamsHandler func(ctx context.Context, defs []action.ParamDef) (map[string]any, error)

// ToastHandler shows a transient notification.
type ToastHandler func(message string, severity string)

// ModalHandler opens a modal surface identified by name.
type ModalHandler func(ctx context.Context, name string, props map[string]any) error

// NavigateHandler routes the host UI to a URL.
type NavigateHandler func(url string)

// Runner executes actions resolved from a registry. The zero handler set is
// valid: absent handlers make their pipeline stage a no-op.
type Runner struct {
	registry *action.Registry
	eval     *expr.Evaluator
	api      APICaller
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[string]action.HandlerFunc
	confirm  ConfirmHandler
	params   ParamsHandler
	toast    ToastHandler
	modal    ModalHandler
	navigate NavigateHandler
}

// NewRunner creates a runner. eval may be nil when no script actions are
// used; api may be nil when no api actions are used.
func NewRunner(registry *action.Registry, eval *expr.Evaluator, api APICaller) *Runner {
	return &Runner{
		registry: registry,
		eval:     eval,
		api:      api,
		logger:   slog.Default().With("component", "runner"),
		handlers: make(map[string]action.HandlerFunc),
	}
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger.With("component", "runner")
	}
}

// SetConfirmHandler installs the confirmation handler.
func (r *Runner) SetConfirmHandler(h ConfirmHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirm = h
}

// SetParamsHandler installs the parameter-collection handler.
func (r *Runner) SetParamsHandler(h ParamsHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = h
}

// SetToastHandler installs the toast handler.
func (r *Runner) SetToastHandler(h ToastHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toast = h
}

// SetModalHandler installs the modal handler.
func (r *Runner) SetModalHandler(h ModalHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modal = h
}

// SetNavigateHandler installs the navigation handler.
func (r *Runner) SetNavigateHandler(h NavigateHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.navigate = h
}

// RegisterHandler installs a custom invocation handler for an action type.
// A custom handler takes precedence over the built-in behavior for that
// type.
func (r *Runner) RegisterHandler(actionType string, h action.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = h
}

// ExecuteByName resolves an action from the registry and executes it.
func (r *Runner) ExecuteByName(ctx context.Context, name string, data map[string]any) action.Result {
	def := r.registry.Get(name)
	if def == nil {
		return action.Failf("action %q not found", name)
	}
	return r.Execute(ctx, def, data)
}

// Execute runs the full pipeline for one action. It never panics outward
// and never reports failure as a Go error: every outcome is a Result.
func (r *Runner) Execute(ctx context.Context, def *action.Def, data map[string]any) (res action.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("action panicked", "action", def.Identity(), "panic", rec)
			res = action.Failf("action %q panicked: %v", def.Identity(), rec)
		}
	}()

	r.mu.RLock()
	confirm := r.confirm
	params := r.params
	toast := r.toast
	handler := r.handlers[def.Type]
	r.mu.RUnlock()

	// 1. Param collection. The registered definition stays untouched;
	// collected values are merged into a copy.
	merged := cloneParams(def.Params)
	if len(def.ActionParams) > 0 && params != nil {
		collected, err := params(ctx, def.ActionParams)
		if err != nil {
			return action.Failf("parameter collection failed: %v", err)
		}
		if collected == nil {
			return action.Failf("action cancelled by user (params)")
		}
		for k, v := range collected {
			merged[k] = v
		}
	}

	// 2. Confirmation.
	if def.Confirm != "" && confirm != nil {
		ok, err := confirm(ctx, def.Confirm)
		if err != nil {
			return action.Failf("confirmation failed: %v", err)
		}
		if !ok {
			return action.Failf("action cancelled by user")
		}
	}

	// 3. Invocation.
	result := r.invoke(ctx, def, merged, data, handler)

	if toast != nil && !result.Success {
		toast(result.Error, "error")
	}
	return result
}

func (r *Runner) invoke(ctx context.Context, def *action.Def, params, data map[string]any, handler action.HandlerFunc) action.Result {
	switch {
	case handler != nil:
		out, err := handler(ctx, params)
		if err != nil {
			return action.Fail(err)
		}
		return action.OK(out)

	case def.Type == TypeScript:
		if r.eval == nil {
			return action.Failf("action %q is a script but no evaluator is configured", def.Identity())
		}
		scope := cloneParams(data)
		for k, v := range params {
			scope[k] = v
		}
		out, err := r.eval.Eval(def.Execute, scope)
		if err != nil {
			return action.Fail(err)
		}
		return action.OK(out)

	case def.Type == TypeAPI:
		if r.api == nil {
			return action.Failf("action %q targets an endpoint but no API caller is configured", def.Identity())
		}
		if def.Endpoint == "" {
			return action.Failf("action %q has no endpoint", def.Identity())
		}
		out, err := r.api.Call(ctx, def.Endpoint, params)
		if err != nil {
			return action.Fail(err)
		}
		return action.OK(out)

	case def.OnClick != nil:
		out, err := def.OnClick(ctx, params)
		if err != nil {
			return action.Fail(err)
		}
		return action.OK(out)

	default:
		return action.Failf("action %q has no handler", def.Identity())
	}
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// BulkResult tallies a bulk execution over a record selection.
type BulkResult struct {
	Total     int
	Succeeded int
	Failed    int
	Results   []action.Result
}

// ExecuteBulk runs the named action once per record, sequentially,
// continuing past individual failures. Actions not registered for bulk use
// fail every record without executing anything.
func (r *Runner) ExecuteBulk(ctx context.Context, actionName string, records []map[string]any) BulkResult {
	out := BulkResult{Total: len(records)}

	def := r.registry.Get(actionName)
	failAll := func(format string, args ...any) BulkResult {
		for range records {
			out.Results = append(out.Results, action.Failf(format, args...))
		}
		out.Failed = len(records)
		return out
	}
	if def == nil {
		return failAll("action %q not found", actionName)
	}
	if !r.registry.BulkEnabled(actionName) {
		return failAll("action %q does not support bulk execution", actionName)
	}

	for _, record := range records {
		// Each record rides in on a copy of the definition so handlers see
		// it in their params and scripts see it in their data scope.
		perRecord := *def
		perRecord.Params = cloneParams(def.Params)
		perRecord.Params["record"] = record

		res := r.Execute(ctx, &perRecord, map[string]any{"record": record})
		out.Results = append(out.Results, res)
		if res.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	r.logger.Info("bulk execution finished",
		"action", actionName, "total", out.Total, "succeeded", out.Succeeded, "failed", out.Failed)
	return out
}

// Navigate routes through the installed navigation handler, if any.
func (r *Runner) Navigate(url string) {
	r.mu.RLock()
	nav := r.navigate
	r.mu.RUnlock()
	if nav != nil {
		nav(url)
	}
}

// OpenModal opens a modal through the installed handler.
func (r *Runner) OpenModal(ctx context.Context, name string, props map[string]any) error {
	r.mu.RLock()
	modal := r.modal
	r.mu.RUnlock()
	if modal == nil {
		return fmt.Errorf("no modal handler configured")
	}
	return modal(ctx, name, props)
}
