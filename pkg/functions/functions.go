// Package functions defines on-demand feature functions: scalar functions
// registered in the warehouse for batch use and evaluated in-process when
// features are served.
package functions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethpandaops/chfs/pkg/frame"
)

// Static errors
var (
	ErrInvalidName       = errors.New("invalid function name")
	ErrInvalidParam      = errors.New("invalid function parameter")
	ErrBodyRequired      = errors.New("function body is required")
	ErrFunctionNotFound  = errors.New("function not found")
	ErrMissingArgument   = errors.New("missing function argument")
	ErrNonNumericArg     = errors.New("argument is not numeric")
	ErrNoEvaluator       = errors.New("function has no evaluator")
	ErrNonNumericParam   = errors.New("only numeric parameters can be evaluated")
	ErrDuplicateFunction = errors.New("duplicate function")
)

// LanguageSQL marks functions whose body is a ClickHouse lambda expression
const LanguageSQL = "SQL"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Param is a named, typed function parameter
type Param struct {
	Name string     `json:"name"`
	Type frame.Type `json:"type"`
}

// Evaluator computes a function result from its numeric arguments, given in
// parameter order
type Evaluator func(args []float64) float64

// Function is an on-demand scalar feature function
type Function struct {
	Name     string
	Params   []Param
	Returns  frame.Type
	Body     string
	Language string
	Comment  string

	// Inputs binds parameters to feature columns for online evaluation
	Inputs map[string]string
	// Eval evaluates the function in-process
	Eval Evaluator
}

// Validate checks names and the body
func (f *Function) Validate() error {
	if !identifierPattern.MatchString(f.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, f.Name)
	}

	seen := make(map[string]struct{}, len(f.Params))
	for _, p := range f.Params {
		if !identifierPattern.MatchString(p.Name) {
			return fmt.Errorf("%w: %q", ErrInvalidParam, p.Name)
		}

		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("%w: duplicate %q", ErrInvalidParam, p.Name)
		}
		seen[p.Name] = struct{}{}

		if f.Eval != nil && p.Type != frame.TypeFloat64 && p.Type != frame.TypeInt64 {
			return fmt.Errorf("%w: %s is %s", ErrNonNumericParam, p.Name, p.Type)
		}
	}

	if strings.TrimSpace(f.Body) == "" {
		return ErrBodyRequired
	}

	return nil
}

// Signature renders the function signature, e.g.
// "avg_price_increase(monthly_charges_in float64, ...) float64"
func (f *Function) Signature() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.Name + " " + string(p.Type)
	}

	return fmt.Sprintf("%s(%s) %s", f.Name, strings.Join(params, ", "), f.Returns)
}

// ParamNames returns the parameter names in order
func (f *Function) ParamNames() []string {
	names := make([]string, len(f.Params))
	for i, p := range f.Params {
		names[i] = p.Name
	}

	return names
}

// Info describes a registered function
type Info struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
	Returns   string `json:"returns"`
	Language  string `json:"language"`
	Comment   string `json:"comment"`
	Body      string `json:"body"`
}

// InfoOf describes fn
func InfoOf(fn Function) Info {
	return Info{
		Name:      fn.Name,
		Signature: fn.Signature(),
		Returns:   string(fn.Returns),
		Language:  fn.Language,
		Comment:   fn.Comment,
		Body:      fn.Body,
	}
}

// Registrar registers functions in a warehouse
type Registrar interface {
	// RegisterFunction creates or replaces the function
	RegisterFunction(ctx context.Context, fn Function) error
	// ListFunctions returns the registered functions ordered by name
	ListFunctions(ctx context.Context) ([]Info, error)
}
