package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dispatchd/dispatch-gateway/pkg/gateway/lifecycle"
	"github.com/dispatchd/dispatch-gateway/pkg/relay"
)

// StatusHandler reports the live call roster for operators.
type StatusHandler struct {
	Registry  *relay.Registry
	Lifecycle *lifecycle.Lifecycle
}

type callStatus struct {
	CallID      string `json:"call_id"`
	Status      string `json:"status"`
	MediaFrames int64  `json:"media_frames"`
	Escalated   bool   `json:"escalated"`
	CallEnded   bool   `json:"call_ended"`
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}

	ids := h.Registry.IDs()
	calls := make([]callStatus, 0, len(ids))
	for _, id := range ids {
		state, ok := h.Registry.Lookup(id)
		if !ok {
			continue
		}
		calls = append(calls, callStatus{
			CallID:      id,
			Status:      string(state.Status()),
			MediaFrames: state.MediaCount(),
			Escalated:   state.Escalated(),
			CallEnded:   state.CallEnded(),
		})
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(struct {
		Draining bool         `json:"draining"`
		Calls    []callStatus `json:"calls"`
	}{
		Draining: h.Lifecycle.IsDraining(),
		Calls:    calls,
	})
}
