package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by where it came from and how the feed pipeline
// treats it.
type Kind string

const (
	KindInternal Kind = "internal"
	// The caller sent something unusable, e.g. no identity header.
	KindInvalidRequest Kind = "invalid_request"
	// A collaborator the request cannot do without failed.
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	// A collaborator call failed but the request can carry on without it.
	KindPartialUpstreamFailure Kind = "partial_upstream_failure"
	// A collaborator answered with data that could not be interpreted.
	KindInvalidUpstreamData Kind = "invalid_upstream_data"
)

// Status is the HTTP status an error of this kind maps to when nothing more
// specific was given.
func (k Kind) Status() int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error represents a universal error type for the service.
type Error struct {
	Kind   Kind
	Status int
	Err    error // The error this wraps
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type transport struct {
	Error string `json:"error"`
}

// MarshalJSON writes the body callers see: just the message.
func (e *Error) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(transport{Error: msg})
}

// E builds an [Error] out of whatever it's given: a string or error becomes
// the wrapped error, an int the status, and a [Kind] the kind.
//
// The status falls back to the kind's status when no int is passed.
func E(args ...any) *Error {
	ret := &Error{
		Kind: KindInternal,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case int:
			ret.Status = arg
		case Kind:
			ret.Kind = arg
		}
	}
	if ret.Status == 0 {
		ret.Status = ret.Kind.Status()
	}

	return ret
}

// KindOf digs through the chain for an [Error] and reports its kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Kind
	}

	return KindInternal
}
