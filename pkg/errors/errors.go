// Package errors defines the closed set of failure kinds the query service
// reports, and the mapping from those kinds to HTTP responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
)

// Kind is a stable, machine-readable failure classification.
type Kind string

const (
	// KindConfiguration - the workspace integration is missing, disabled, or misconfigured
	KindConfiguration Kind = "configuration_error"
	// KindInvalidQuery - malformed or empty query text, invalid parameters
	KindInvalidQuery Kind = "invalid_query"
	// KindRateLimited - the workspace exhausted its request budget
	KindRateLimited Kind = "rate_limited"
	// KindTimeout - the remote engine exceeded the deadline
	KindTimeout Kind = "timeout"
	// KindUpstream - the remote engine completed but reported an application error
	KindUpstream Kind = "upstream_error"
	// KindNotFound - a referenced session or resource does not exist
	KindNotFound Kind = "not_found"
)

// QueryError carries a failure kind plus a message safe to show to callers.
// The wrapped cause is for logs only and never reaches a response body.
type QueryError struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // set for KindRateLimited only
	cause      error
}

func (e *QueryError) Error() string {
	return e.Message
}

func (e *QueryError) Unwrap() error {
	return e.cause
}

// WithCause attaches an internal cause for logging. The cause is not
// rendered into responses.
func (e *QueryError) WithCause(cause error) *QueryError {
	e.cause = cause
	return e
}

func newError(kind Kind, format string, args ...any) *QueryError {
	return &QueryError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

func NewConfigurationError(format string, args ...any) *QueryError {
	return newError(KindConfiguration, format, args...)
}

func NewInvalidQueryError(format string, args ...any) *QueryError {
	return newError(KindInvalidQuery, format, args...)
}

func NewRateLimitError(retryAfter time.Duration) *QueryError {
	err := newError(KindRateLimited, "rate limit exceeded, retry in %s", retryAfter.Round(time.Millisecond))
	err.RetryAfter = retryAfter
	return err
}

func NewTimeoutError(format string, args ...any) *QueryError {
	return newError(KindTimeout, format, args...)
}

func NewUpstreamError(format string, args ...any) *QueryError {
	return newError(KindUpstream, format, args...)
}

func NewNotFoundError(format string, args ...any) *QueryError {
	return newError(KindNotFound, format, args...)
}

// As unwraps err into a *QueryError when it is one.
func As(err error) (*QueryError, bool) {
	var qe *QueryError
	ok := errors.As(err, &qe)
	return qe, ok
}

// IsKind reports whether err is a QueryError of the given kind.
func IsKind(err error, kind Kind) bool {
	qe, ok := As(err)
	return ok && qe.Kind == kind
}

// statusCodes is the closed kind -> status mapping.
var statusCodes = map[Kind]int{
	KindConfiguration: http.StatusBadRequest,
	KindInvalidQuery:  http.StatusBadRequest,
	KindRateLimited:   http.StatusTooManyRequests,
	KindTimeout:       http.StatusGatewayTimeout,
	KindUpstream:      http.StatusBadGateway,
	KindNotFound:      http.StatusNotFound,
}

// StatusCode returns the external status code for a kind.
func StatusCode(kind Kind) int {
	if code, ok := statusCodes[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// ToHTTPError maps any error to the HTTP error carrier rendered by the
// error middleware. It is pure: same input, same output, and it never
// exposes the wrapped cause.
func ToHTTPError(err error) *httperror.HTTPError {
	if qe, ok := As(err); ok {
		httpErr := httperror.NewHTTPError(StatusCode(qe.Kind), qe.Message).
			AddMetaValue("kind", string(qe.Kind))
		if qe.Kind == KindRateLimited {
			httpErr = httpErr.AddMetaValue("retry_after_ms", qe.RetryAfter.Milliseconds())
		}
		return httpErr
	}

	if httperror.IsHTTPError(err) {
		return httperror.ToHTTPError(err)
	}

	return httperror.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
