package types

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal invocation failure
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidPath
	KindLoanMismatch
	KindUnauthorizedCallback
	KindSlippageExceeded
	KindUnprofitableTrade
	KindArithmeticOverflow
	KindInvalidTolerance
	KindReentrancyDetected
	KindUnauthorizedCaller
	KindExternalFailure
)

var kindNames = map[Kind]string{
	KindUnknown:              "Unknown",
	KindInvalidPath:          "InvalidPath",
	KindLoanMismatch:         "LoanMismatch",
	KindUnauthorizedCallback: "UnauthorizedCallback",
	KindSlippageExceeded:     "SlippageExceeded",
	KindUnprofitableTrade:    "UnprofitableTrade",
	KindArithmeticOverflow:   "ArithmeticOverflow",
	KindInvalidTolerance:     "InvalidTolerance",
	KindReentrancyDetected:   "ReentrancyDetected",
	KindUnauthorizedCaller:   "UnauthorizedCaller",
	KindExternalFailure:      "ExternalFailure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels for errors.Is matching
var (
	ErrInvalidPath          = &Error{Kind: KindInvalidPath}
	ErrLoanMismatch         = &Error{Kind: KindLoanMismatch}
	ErrUnauthorizedCallback = &Error{Kind: KindUnauthorizedCallback}
	ErrSlippageExceeded     = &Error{Kind: KindSlippageExceeded}
	ErrUnprofitableTrade    = &Error{Kind: KindUnprofitableTrade}
	ErrArithmeticOverflow   = &Error{Kind: KindArithmeticOverflow}
	ErrInvalidTolerance     = &Error{Kind: KindInvalidTolerance}
	ErrReentrancyDetected   = &Error{Kind: KindReentrancyDetected}
	ErrUnauthorizedCaller   = &Error{Kind: KindUnauthorizedCaller}
	ErrExternalFailure      = &Error{Kind: KindExternalFailure}
)

// Error is a typed invocation failure
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError creates a typed error for the given operation
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first typed error in err's chain.
// Untyped errors are reported as KindExternalFailure.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindExternalFailure
}

// Classify wraps err as ExternalFailure unless it already carries a kind
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewError(KindExternalFailure, op, err)
}
