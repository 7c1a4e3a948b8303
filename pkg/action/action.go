// Package action defines action descriptors, execution results, and the
// registry that owns per-location action lists, bulk eligibility, and
// shortcut bindings.
package action

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidAction is returned when a definition carries neither a name nor
// a type and therefore has no identity to register under.
var ErrInvalidAction = errors.New("action must have a name or a type")

// ErrIncompatibleAction is returned when a definition's Requires constraint
// rejects the engine version the registry was built for.
var ErrIncompatibleAction = errors.New("action is incompatible with this engine version")

// ParamKind enumerates the input widget kinds a param definition can ask
// the host UI to collect.
type ParamKind string

const (
	ParamString ParamKind = "string"
	ParamNumber ParamKind = "number"
	ParamBool   ParamKind = "bool"
	ParamSelect ParamKind = "select"
	ParamRecord ParamKind = "record"
)

// ParamDef describes one parameter the action wants collected from the user
// before it runs.
type ParamDef struct {
	Name     string
	Label    string
	Kind     ParamKind
	Required bool
	Default  any
	Options  []string
}

// HandlerFunc is a direct callback invocation, used for OnClick actions and
// for custom per-type handlers registered on the runner.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// Def is an action definition. Identity is Name, falling back to Type when
// Name is empty; a definition with neither cannot be registered.
//
// Definitions are treated as immutable once registered: the runner merges
// collected parameters into a copy, never into the registered value.
type Def struct {
	Name         string
	Type         string
	Endpoint     string
	Params       map[string]any
	Execute      string // expression source for type "script"
	Confirm      string // confirmation prompt, empty = no confirmation
	OnClick      HandlerFunc
	ActionParams []ParamDef
	Requires     string // optional semver constraint on the engine version
}

// Identity resolves the registration key: Name, falling back to Type.
func (d *Def) Identity() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Type
}

// Result is the terminal outcome of one action execution. Failures are
// values, never exceptions: anything thrown inside an action is caught at
// the boundary and converted into a failed Result.
type Result struct {
	Success bool
	Data    any
	Error   string
}

// OK builds a successful result carrying data.
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail builds a failed result from an error.
func Fail(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// Failf builds a failed result from a format string.
func Failf(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}
