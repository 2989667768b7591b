package functions

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/ethpandaops/chfs/pkg/observability"
)

// Library holds the functions that can be evaluated in-process. Functions
// are evaluated lazily at request time and never precomputed.
type Library struct {
	mu  sync.RWMutex
	fns map[string]Function
}

// NewLibrary creates a library from validated functions
func NewLibrary(fns ...Function) (*Library, error) {
	l := &Library{fns: make(map[string]Function, len(fns))}

	for _, fn := range fns {
		if err := l.Add(fn); err != nil {
			return nil, err
		}
	}

	return l, nil
}

// Add validates and adds a function
func (l *Library) Add(fn Function) error {
	if err := fn.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.fns[fn.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFunction, fn.Name)
	}

	l.fns[fn.Name] = fn

	return nil
}

// Get returns the named function
func (l *Library) Get(name string) (Function, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fn, ok := l.fns[name]
	if !ok {
		return Function{}, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}

	return fn, nil
}

// All returns every function ordered by name
func (l *Library) All() []Function {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Function, 0, len(l.fns))
	for _, fn := range l.fns {
		out = append(out, fn)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Infos describes every function ordered by name
func (l *Library) Infos() []Info {
	fns := l.All()

	out := make([]Info, len(fns))
	for i, fn := range fns {
		out[i] = InfoOf(fn)
	}

	return out
}

// Evaluate runs the named function with arguments keyed by parameter name
func (l *Library) Evaluate(name string, args map[string]any) (float64, error) {
	fn, err := l.Get(name)
	if err != nil {
		return 0, err
	}

	return evaluate(fn, func(p Param) any { return args[p.Name] })
}

// EvaluateRecord runs the named function with arguments read from a feature
// record through the function's input bindings. Unbound parameters are read
// from the column of the same name.
func (l *Library) EvaluateRecord(name string, rec frame.Record) (float64, error) {
	fn, err := l.Get(name)
	if err != nil {
		return 0, err
	}

	return evaluate(fn, func(p Param) any {
		if col, ok := fn.Inputs[p.Name]; ok {
			return rec[col]
		}

		return rec[p.Name]
	})
}

func evaluate(fn Function, lookup func(Param) any) (result float64, err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.RecordFunctionEvaluation(fn.Name, status)
	}()

	if fn.Eval == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoEvaluator, fn.Name)
	}

	args := make([]float64, len(fn.Params))

	for i, p := range fn.Params {
		raw := lookup(p)
		if raw == nil {
			return 0, fmt.Errorf("%w: %s", ErrMissingArgument, p.Name)
		}

		v, ok := frame.ToFloat64(raw)
		if !ok {
			return 0, fmt.Errorf("%w: %s=%v", ErrNonNumericArg, p.Name, raw)
		}

		args[i] = v
	}

	return fn.Eval(args), nil
}
