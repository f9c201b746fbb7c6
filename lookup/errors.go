package lookup

import (
	"errors"
	"fmt"
)

// ErrorKind classifies lookup failures. A record that does not exist is not
// an error; see Result.Found.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindTimeout
	KindAPI
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindAPI:
		return "ApiError"
	default:
		return "TransportError"
	}
}

// ErrEmptyQuery is returned when the normalized query is empty
var ErrEmptyQuery = errors.New("empty lookup query")

// Error is a classified lookup failure
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lookup %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("lookup %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a lookup error, or KindTransport for anything else
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindTransport
}
