package hss

import (
	"errors"
	"fmt"
)

// Sentinel errors for error checking with errors.Is, mirroring the
// dialplan/errors.go pattern of declaring package-level sentinels for
// expected conditions.
var (
	// ErrNotFound means the public identity is unknown to the HSS. The
	// SIP layer maps this to 403 Forbidden (spec.md §4.B).
	ErrNotFound = errors.New("public identity not found")

	// ErrUpstream means the HSS returned an error other than "not
	// found", or could not be reached at all. The SIP layer maps this to
	// 504 Server Timeout.
	ErrUpstream = errors.New("hss upstream error")
)

// RequestError carries the HTTP status and trail id for a failed HSS
// call, for logging and diagnostics correlation.
type RequestError struct {
	Public     string
	HTTPStatus int
	TrailID    string
	Cause      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("hss request for %s failed (http %d, trail %s): %v",
		e.Public, e.HTTPStatus, e.TrailID, e.Cause)
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}
