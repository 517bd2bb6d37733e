package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	Routes    Routes
	CORS      CORSPolicy
	Metrics   *Metrics
	UserAgent string
}

// Router is a pure function of the inbound request: it holds no per-request
// state, so one Router serves any number of concurrent requests.
type Router struct {
	routes    Routes
	client    UpstreamClient
	cors      CORSPolicy
	logger    *zap.Logger
	metrics   *Metrics
	userAgent string
}

func NewRouter(logger *zap.Logger, client UpstreamClient, opts Options) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Router{
		routes:    opts.Routes,
		client:    client,
		cors:      opts.CORS,
		logger:    logger,
		metrics:   metrics,
		userAgent: opts.UserAgent,
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()

	rt.metrics.RequestCount.Add(1)

	logger := rt.logger.With(
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	)

	sw := &statusWriter{ResponseWriter: w}
	h := sw.Header()
	h.Set("X-Request-ID", requestID)
	setSecurityHeaders(h)

	route, found := rt.routes.Lookup(r.URL.Path)
	decision := methodRejected
	if found {
		decision = checkMethod(r.Method, route.Methods)
	}

	rt.cors.Apply(h, r)

	var err error
	switch {
	case !found:
		err = ErrRouteNotFound
	case decision == methodPreflight:
		rt.cors.ApplyPreflight(h, route.Methods)
		sw.WriteHeader(http.StatusNoContent)
	case decision == methodRejected:
		err = ErrMethodNotAllowed
	case route.Upstream == nil:
		rt.servePage(sw)
	default:
		err = rt.proxy(sw, r, route, logger)
	}

	if err != nil {
		rt.writeError(sw, err, route, logger)
	}

	routeLabel := route.Path
	if !found {
		routeLabel = "unmatched"
	}
	latency := time.Since(start)
	rt.metrics.observeRequest(routeLabel, r.Method, sw.status, latency)

	logger.Info("completed request",
		zap.String("route", routeLabel),
		zap.Int("status_code", sw.status),
		zap.Int64("latency_ms", latency.Milliseconds()),
	)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}

func (rt *Router) writeError(w http.ResponseWriter, err error, route Route, logger *zap.Logger) {
	var upstreamErr *UpstreamError
	switch {
	case errors.Is(err, ErrMethodNotAllowed):
		w.Header().Set("Allow", allowHeader(route.Methods))
		writeJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	case errors.Is(err, ErrMissingQuery):
		writeJSONError(w, http.StatusBadRequest, "Missing query parameter: "+route.Upstream.Query)
	case errors.Is(err, ErrRouteNotFound):
		writeJSONError(w, http.StatusNotFound, "Not Found")
	case errors.As(err, &upstreamErr):
		if errors.Is(err, context.Canceled) {
			logger.Info("client went away before upstream answered", zap.String("upstream", upstreamErr.Upstream))
		} else {
			logger.Error("upstream request failed", zap.String("upstream", upstreamErr.Upstream), zap.Error(err))
		}
		writeJSONError(w, http.StatusBadGateway, "Upstream request failed")
	default:
		logger.Error("unhandled router error", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}
