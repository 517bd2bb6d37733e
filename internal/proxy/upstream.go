package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// maxUpstreamBody caps how much of an upstream response is buffered.
const maxUpstreamBody = 10 << 20

var errUpstreamBodyTooLarge = errors.New("upstream response exceeds size limit")

// proxy makes exactly one GET to the route's upstream and relays its status,
// Content-Type and body unchanged, whatever the status.
func (rt *Router) proxy(w http.ResponseWriter, r *http.Request, route Route, logger *zap.Logger) error {
	upstream := route.Upstream

	target, err := upstream.buildURL(r.URL.Query())
	if err != nil {
		if errors.Is(err, ErrMissingQuery) {
			return err
		}
		return &UpstreamError{Upstream: upstream.Name, Err: err}
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		return &UpstreamError{Upstream: upstream.Name, Err: err}
	}
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.8")
	if rt.userAgent != "" {
		req.Header.Set("User-Agent", rt.userAgent)
	}

	logger = logger.With(zap.String("upstream", upstream.Name))
	logger.Debug("calling upstream", zap.String("target", target))

	start := time.Now()
	resp, err := rt.client.Do(req)
	if err != nil {
		rt.metrics.observeUpstream(upstream.Name, "error", time.Since(start))
		return &UpstreamError{Upstream: upstream.Name, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody+1))
	rt.metrics.observeUpstream(upstream.Name, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return &UpstreamError{Upstream: upstream.Name, Err: fmt.Errorf("reading body: %w", err)}
	}
	if len(body) > maxUpstreamBody {
		return &UpstreamError{Upstream: upstream.Name, Err: errUpstreamBodyTooLarge}
	}

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode >= http.StatusBadRequest {
		logUpstreamStatus(logger, resp.StatusCode, contentType, body)
	}

	h := w.Header()
	if contentType != "" {
		h.Set("Content-Type", contentType)
	} else {
		// Keep net/http from sniffing a type the upstream never sent.
		h["Content-Type"] = nil
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-store")

	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		logger.Warn("error writing response", zap.Error(err))
	}
	return nil
}

// logUpstreamStatus notes an upstream error status, with the upstream's own
// error message when its body is JSON carrying one.
func logUpstreamStatus(logger *zap.Logger, status int, contentType string, body []byte) {
	fields := []zap.Field{zap.Int("upstream_status", status)}
	if strings.Contains(contentType, "json") {
		if msg := fastjson.GetString(body, "error"); msg != "" {
			fields = append(fields, zap.String("upstream_error", msg))
		}
	}
	logger.Warn("upstream returned error status", fields...)
}
