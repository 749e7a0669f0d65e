package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrOpenIDConnectURLRequired = errors.New("OPENID_CONNECT_URL is required")
	ErrAuthServerUnreachable    = errors.New("could not reach auth server")
	ErrBadJWKS                  = errors.New("badly formed jwks_uri")
	ErrMissingBearer            = errors.New("missing bearer token")
	ErrMissingAZP               = errors.New(`missing authorized party "azp" in IDToken when there are multiple audiences`)
	ErrMissingScope             = errors.New("missing scope token")
	ErrMissingKeyID             = errors.New("missing kid in token header")
	ErrUnhealthy                = errors.New("dependency reported unhealthy")
	ErrUnknownGrantType         = errors.New("unknown grant type")
)

// HTTPError pairs a failure with the status code and detail message the
// caller should respond with.
type HTTPError struct {
	Status int
	Detail string
	Err    error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Detail, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Detail)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Unauthorized returns a 401 error.
func Unauthorized(detail string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusUnauthorized, Detail: detail, Err: err}
}

// Forbidden returns a 403 error.
func Forbidden(detail string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusForbidden, Detail: detail, Err: err}
}

// Unavailable returns a 503 error.
func Unavailable(detail string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusServiceUnavailable, Detail: detail, Err: err}
}

// StatusOf reports the HTTP status carried by err, or 500 when err is not an
// HTTPError.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return http.StatusInternalServerError
}

// DetailOf reports the client-facing detail carried by err.
func DetailOf(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Detail
	}
	return http.StatusText(http.StatusInternalServerError)
}
