package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// End to end through a real client and listener on both sides.
func TestRouter_RealUpstream(t *testing.T) {
	var hits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Inc()
		switch r.URL.Path {
		case "/lookup":
			if r.URL.Query().Get("ip") == "8.8.8.8" {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Set-Cookie", "tracking=1")
				_, _ = io.WriteString(w, `{"ip":"8.8.8.8","asn":{"asn":15169}}`)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":"upstream limited"}`)
		case "/trace":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = io.WriteString(w, "fl=1\nip=203.0.113.9\nloc=NZ\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	router := NewRouter(nil, NewUpstreamClient(5*time.Second), Options{
		Routes: DefaultRoutes(
			Upstream{Name: "ipapi", URL: upstream.URL + "/lookup", Query: "q", Param: "ip"},
			Upstream{Name: "cf-trace", URL: upstream.URL + "/trace"},
		),
	})
	front := httptest.NewServer(router)
	defer front.Close()

	get := func(path, origin string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, front.URL+path, nil)
		require.NoError(t, err)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := get("/api/ipapi?q=8.8.8.8", "https://evil.example")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, `{"ip":"8.8.8.8","asn":{"asn":15169}}`, string(body))
	assert.Equal(t, front.URL, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Set-Cookie"))

	resp = get("/api/ipapi?q=1.1.1.1", "")
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.JSONEq(t, `{"error":"upstream limited"}`, string(body))

	resp = get("/api/cf-trace", "")
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	assert.Contains(t, string(body), "loc=NZ")

	assert.Equal(t, int64(3), hits.Load())
}

func TestRouter_UnreachableUpstream(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	router := NewRouter(nil, NewUpstreamClient(2*time.Second), Options{
		Routes: DefaultRoutes(
			Upstream{Name: "ipapi", URL: deadURL + "/lookup", Query: "q"},
			Upstream{Name: "cf-trace", URL: deadURL + "/trace"},
		),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "https://example.com/api/cf-trace", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"Upstream request failed"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "127.0.0.1")
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_OversizedUpstreamBody(t *testing.T) {
	client := clientFunc(func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, "text/plain", strings.Repeat("x", maxUpstreamBody+1)), nil
	})

	rec := httptest.NewRecorder()
	newTestRouter(client).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "https://example.com/api/cf-trace", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
