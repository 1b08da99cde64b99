package httpclient

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig indicates the client could not be constructed.
	ErrConfig = errors.New("configuration error")
	// ErrRequestBuild indicates a request was rejected before any network activity.
	ErrRequestBuild = errors.New("request build error")
	// ErrTransport indicates the exchange itself failed.
	ErrTransport = errors.New("transport error")
	// ErrBodyConsumed indicates the response body cannot be read (again).
	ErrBodyConsumed = errors.New("body consumption error")
	// ErrDecode indicates the cached body could not be parsed.
	ErrDecode = errors.New("decode error")
)

// Error carries one of the sentinel kinds above together with the operation
// that failed and the underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Kind != nil {
		parts = append(parts, e.Kind.Error())
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Is reports whether target matches the kind or anything in the cause chain.
func (e *Error) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}
