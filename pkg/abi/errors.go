package abi

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Lowering error kinds. Every kind is fatal to the function being lowered.
var (
	ErrUnsupportedArgumentType      = kindError("unsupported argument type")
	ErrUnsupportedReturnLayout      = kindError("unsupported return layout")
	ErrUnsupportedProloguePlacement = kindError("unsupported prologue placement")
	ErrConsistencyViolation         = kindError("consistency violation")
	ErrOverAlignedStackObject       = kindError("over-aligned stack object")
)

// ErrUnsupportedConstruct covers constructs the backend declares
// unimplemented: f128 calls, thread-local addresses, setjmp/longjmp.
var ErrUnsupportedConstruct = kindError("unsupported construct")

type kindError string

func (k kindError) Error() string        { return string(k) }
func (k kindError) LoweringKind() string { return string(k) }

// LoweringError names the function and construct that could not be lowered.
type LoweringError struct {
	Func      string
	Construct string
	Kind      error
	frame     xerrors.Frame
}

// Errorf builds a LoweringError of the given kind.
func Errorf(kind error, fn, format string, args ...interface{}) error {
	return &LoweringError{
		Func:      fn,
		Construct: fmt.Sprintf(format, args...),
		Kind:      kind,
		frame:     xerrors.Caller(1),
	}
}

func (e *LoweringError) Error() string {
	if e.Func == "" {
		return fmt.Sprintf("%s: %v", e.Construct, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Func, e.Construct, e.Kind)
}

func (e *LoweringError) Unwrap() error { return e.Kind }

func (e *LoweringError) FormatError(p xerrors.Printer) error {
	p.Print(e.Error())
	e.frame.Format(p)
	return nil
}

func (e *LoweringError) Format(s fmt.State, v rune) { xerrors.FormatError(e, s, v) }

// InFunc attaches a function name to a LoweringError that lacks one.
// Other errors pass through unchanged.
func InFunc(err error, fn string) error {
	var le *LoweringError
	if xerrors.As(err, &le) && le.Func == "" {
		le.Func = fn
	}
	return err
}
