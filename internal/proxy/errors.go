package proxy

import (
	"errors"
	"fmt"
)

var (
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrMissingQuery     = errors.New("missing query parameter")
	ErrRouteNotFound    = errors.New("route not found")
)

// UpstreamError reports that an upstream could not be reached or its
// response could not be read. Upstreams that answer with an error status are
// not UpstreamErrors; their response is relayed as is.
type UpstreamError struct {
	Upstream string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Upstream, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func IsUpstreamError(err error) bool {
	if err == nil {
		return false
	}
	var upstreamErr *UpstreamError
	return errors.As(err, &upstreamErr)
}
