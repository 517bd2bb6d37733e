package proxy

import (
	"net"
	"net/http"
	"time"
)

// UpstreamClient is the outbound capability the Router is built with.
// *http.Client satisfies it.
type UpstreamClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func createTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	}
}

func NewUpstreamClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: createTransport(),
		Timeout:   timeout,
	}
}
