package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// breakerClient trips per upstream host after consecutive transport
// failures. Upstream error statuses count as successes: only failures to
// talk to the upstream at all are counted.
type breakerClient struct {
	next        UpstreamClient
	timeout     time.Duration
	maxFailures uint32

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func WithCircuitBreaker(next UpstreamClient, timeout time.Duration, maxFailures uint32) UpstreamClient {
	return &breakerClient{
		next:        next,
		timeout:     timeout,
		maxFailures: maxFailures,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *breakerClient) breaker(host string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[host]; ok {
		return cb
	}
	maxFailures := b.maxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     b.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// A caller hanging up says nothing about the upstream.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	b.breakers[host] = cb
	return cb
}

func (b *breakerClient) Do(req *http.Request) (*http.Response, error) {
	cb := b.breaker(req.URL.Host)
	res, err := cb.Execute(func() (interface{}, error) {
		return b.next.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("breaker (%s): %w", cb.Name(), err)
	}
	resp, ok := res.(*http.Response)
	if !ok || resp == nil {
		return nil, fmt.Errorf("breaker (%s): no response", cb.Name())
	}
	return resp, nil
}
