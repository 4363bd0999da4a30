package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dispatchd/dispatch-gateway/pkg/gateway/mw"
)

type errorBody struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, typ, message string) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{
		Type:      typ,
		Message:   message,
		RequestID: reqID,
	}})
}

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r, http.StatusNotFound, "not_found", "not found")
}
