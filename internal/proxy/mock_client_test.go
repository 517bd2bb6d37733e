package proxy

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stretchr/testify/mock"
)

type mockUpstreamClient struct {
	mock.Mock
}

func (m *mockUpstreamClient) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

type clientFunc func(req *http.Request) (*http.Response, error)

func (f clientFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newResponse(status int, contentType, body string) *http.Response {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testRoutes() Routes {
	return DefaultRoutes(
		Upstream{Name: "ipapi", URL: "https://api.ipapi.is/", Query: "q", Param: "q"},
		Upstream{Name: "cf-trace", URL: "https://cloudflare.com/cdn-cgi/trace"},
	)
}

func newTestRouter(client UpstreamClient) *Router {
	return NewRouter(nil, client, Options{
		Routes:    testRoutes(),
		CORS:      CORSPolicy{MaxAge: 24 * time.Hour},
		UserAgent: "ipscope-test",
	})
}
