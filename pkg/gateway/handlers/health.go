package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dispatchd/dispatch-gateway/pkg/gateway/lifecycle"
	"github.com/dispatchd/dispatch-gateway/pkg/relay"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Lifecycle *lifecycle.Lifecycle
	Registry  *relay.Registry
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool  `json:"ok"`
		Draining    bool  `json:"draining"`
		ActiveCalls int   `json:"active_calls"`
		ActiveConns int64 `json:"active_conns"`
	}

	draining := h.Lifecycle.IsDraining()
	status := http.StatusOK
	if draining {
		status = http.StatusServiceUnavailable
	}

	var calls int
	if h.Registry != nil {
		calls = h.Registry.Count()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:          !draining,
		Draining:    draining,
		ActiveCalls: calls,
		ActiveConns: h.Lifecycle.ActiveConns(),
	})
}
