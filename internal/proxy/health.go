package proxy

import (
	"encoding/json"
	"net/http"
)

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// NewOpsMux serves health and metrics. It is mounted on its own listener,
// never on the public router.
func NewOpsMux(metrics *Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/stats", metrics.HandleStats)
	return mux
}
