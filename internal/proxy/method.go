package proxy

import (
	"net/http"
	"strings"
)

type methodDecision int

const (
	methodAllowed methodDecision = iota
	methodPreflight
	methodRejected
)

// canonicalMethods fixes the order methods are listed in Allow headers.
var canonicalMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// checkMethod runs before any upstream I/O. OPTIONS is always a preflight.
func checkMethod(method string, allowed []string) methodDecision {
	if method == http.MethodOptions {
		return methodPreflight
	}
	for _, m := range allowed {
		if m == method {
			return methodAllowed
		}
	}
	return methodRejected
}

// allowHeader lists methods in canonical order, e.g. "GET, OPTIONS".
// OPTIONS is always included since preflights are always answered.
func allowHeader(methods []string) string {
	set := make(map[string]struct{}, len(methods)+1)
	for _, m := range methods {
		set[strings.ToUpper(m)] = struct{}{}
	}
	set[http.MethodOptions] = struct{}{}

	ordered := make([]string, 0, len(set))
	for _, m := range canonicalMethods {
		if _, ok := set[m]; ok {
			ordered = append(ordered, m)
			delete(set, m)
		}
	}
	// Extension methods go last, in the order the route declared them.
	for _, m := range methods {
		m = strings.ToUpper(m)
		if _, ok := set[m]; ok {
			ordered = append(ordered, m)
			delete(set, m)
		}
	}
	return strings.Join(ordered, ", ")
}
