package proxy

import (
	_ "embed"
	"net/http"
	"strconv"
)

//go:embed static/index.html
var indexPage []byte

func (rt *Router) servePage(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(indexPage)))
	h.Set("Content-Security-Policy", pageContentSecurityPolicy)
	h.Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(indexPage)
}
