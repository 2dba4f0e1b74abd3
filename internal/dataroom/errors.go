package dataroom

import (
	"errors"
	"fmt"
)

// Sentinel errors. NetworkError and ResponseError unwrap to ErrNetwork and
// ErrResponse respectively, so callers can branch with errors.Is.
var (
	ErrNetwork          = errors.New("network error")
	ErrResponse         = errors.New("response error")
	ErrMissingDocuments = errors.New("response has no documents field")
	ErrUnmounted        = errors.New("panel unmounted")
)

// NetworkError reports that the request could not be sent or no response
// arrived.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}

// ResponseError reports a response that arrived but could not be used: a
// non-2xx status, an unparsable body, or a body without documents.
type ResponseError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ResponseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
}

func (e *ResponseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrResponse}
	}
	return []error{ErrResponse, e.Err}
}
