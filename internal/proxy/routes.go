package proxy

import (
	"fmt"
	"net/url"
	"strings"
)

// Upstream binds a route to an outbound service. When Query is set the
// caller's value for that inbound query parameter is copied into the
// upstream URL under Param.
type Upstream struct {
	Name  string
	URL   string
	Query string
	Param string
}

// Route is one entry of the static routing table. A nil Upstream means the
// route serves the page.
type Route struct {
	Path     string
	Methods  []string
	Upstream *Upstream
}

type Routes map[string]Route

var readOnlyMethods = []string{"GET", "OPTIONS"}

// DefaultRoutes is the public surface: the page and the two read-only APIs.
func DefaultRoutes(ipapi, cfTrace Upstream) Routes {
	return Routes{
		"/": {
			Path:    "/",
			Methods: readOnlyMethods,
		},
		"/api/ipapi": {
			Path:     "/api/ipapi",
			Methods:  readOnlyMethods,
			Upstream: &ipapi,
		},
		"/api/cf-trace": {
			Path:     "/api/cf-trace",
			Methods:  readOnlyMethods,
			Upstream: &cfTrace,
		},
	}
}

func (rs Routes) Lookup(path string) (Route, bool) {
	route, ok := rs[path]
	return route, ok
}

// buildURL returns the outbound URL for a request carrying query.
// Caller values are percent-encoded into the upstream query string.
func (u *Upstream) buildURL(query url.Values) (string, error) {
	target, err := url.Parse(u.URL)
	if err != nil {
		return "", fmt.Errorf("invalid upstream url %q: %w", u.URL, err)
	}
	if u.Query == "" {
		return target.String(), nil
	}

	value := strings.TrimSpace(query.Get(u.Query))
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingQuery, u.Query)
	}

	param := u.Param
	if param == "" {
		param = u.Query
	}
	values := target.Query()
	values.Set(param, value)
	target.RawQuery = values.Encode()

	return target.String(), nil
}
