// Package expr evaluates guard conditions and script bodies against a
// context object.
//
// Expressions are CEL (https://github.com/google/cel-go) compiled in an
// environment that exposes a single variable `data` of type
// map(string, dyn). The supported grammar is therefore the CEL core this
// environment admits: property access and indexing on `data`, equality and
// ordering comparisons, boolean operators (&&, ||, !), `in`, the ternary
// operator, arithmetic on numeric values, and string/list/map literals.
// There is no general eval: expressions cannot call out of the sandbox,
// mutate state, or reference anything but `data`.
package expr

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles and runs guard expressions. Compiled programs are
// cached by source text, so repeated dispatch of the same condition pays
// compilation cost once.
type Evaluator struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator builds the CEL environment. The only declared variable is
// `data`, the context object supplied per evaluation.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	return &Evaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

func (e *Evaluator) program(source string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[source]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", source, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", source, err)
	}

	e.mu.Lock()
	e.cache[source] = prg
	e.mu.Unlock()
	return prg, nil
}

// Eval runs an expression and returns its native Go value.
func (e *Evaluator) Eval(source string, data map[string]any) (any, error) {
	prg, err := e.program(source)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	val, _, err := prg.Eval(map[string]any{"data": data})
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", source, err)
	}
	return val.Value(), nil
}

// EvalBool runs a guard condition. A result of any type other than bool is
// an error, not a truthiness coercion.
func (e *Evaluator) EvalBool(source string, data map[string]any) (bool, error) {
	v, err := e.Eval(source, data)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", source, v)
	}
	return b, nil
}
