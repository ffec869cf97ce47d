package backend

import (
	"errors"
	"fmt"
)

// Kind classifies the errors raised by pools and routers. A Kind is itself an
// error so callers can write errors.Is(err, backend.RoutingFailed).
type Kind uint8

const (
	KindUnknown Kind = iota
	BackendUnavailable
	InvalidState
	RoutingFailed
	PoolExhausted
	Cancelled
)

var kindNames = [...]string{
	KindUnknown:        "unknown",
	BackendUnavailable: "backend unavailable",
	InvalidState:       "invalid state",
	RoutingFailed:      "routing failed",
	PoolExhausted:      "pool exhausted",
	Cancelled:          "cancelled",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Error() string { return k.String() }

// ErrClosed is the cause recorded when an operation hits a closed connection.
var ErrClosed = errors.New("connection is closed")

// Error is a kinded error annotated with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return newError(kind, op, fmt.Errorf(format, args...))
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

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf reports the kind of err, or KindUnknown if it carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return KindUnknown
}

// Wrap annotates err with kind and op. Errors that already carry a kind are
// returned unchanged.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return newError(kind, op, err)
}
