package proxy

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

var allowedHeaders = []string{
	"Content-Type",
}

// CORSPolicy only ever authorizes the router's own origin. The caller's
// Origin header is never reflected.
type CORSPolicy struct {
	MaxAge              time.Duration
	TrustForwardedProto bool
}

// SelfOrigin returns scheme://host of the request as the router received it.
func (p CORSPolicy) SelfOrigin(r *http.Request) string {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return p.scheme(r) + "://" + host
}

func (p CORSPolicy) scheme(r *http.Request) string {
	if p.TrustForwardedProto {
		proto := r.Header.Get("X-Forwarded-Proto")
		if i := strings.IndexByte(proto, ','); i >= 0 {
			proto = proto[:i]
		}
		proto = strings.ToLower(strings.TrimSpace(proto))
		if proto == "http" || proto == "https" {
			return proto
		}
	}
	if r.URL.Scheme != "" {
		return strings.ToLower(r.URL.Scheme)
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// Apply sets the allow-origin headers carried by every response.
func (p CORSPolicy) Apply(h http.Header, r *http.Request) {
	h.Set("Access-Control-Allow-Origin", p.SelfOrigin(r))
	h.Add("Vary", "Origin")
}

// ApplyPreflight adds the headers answering an OPTIONS request.
func (p CORSPolicy) ApplyPreflight(h http.Header, methods []string) {
	allow := allowHeader(methods)
	h.Set("Allow", allow)
	h.Set("Access-Control-Allow-Methods", allow)
	h.Set("Access-Control-Allow-Headers", strings.Join(allowedHeaders, ", "))
	if p.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.FormatInt(int64(p.MaxAge/time.Second), 10))
	}
}
