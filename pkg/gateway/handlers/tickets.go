package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dispatchd/dispatch-gateway/pkg/relay"
	"github.com/dispatchd/dispatch-gateway/pkg/workflow"
)

// TicketsHandler runs the classification pipeline over a posted
// transcript. The call path uses the same pipeline internally; this
// endpoint exists for reprocessing and for operators.
type TicketsHandler struct {
	Workflow *workflow.TicketWorkflow
	Logger   *slog.Logger
}

type ticketsRequest struct {
	Transcripts []relay.TranscriptEntry `json:"transcripts"`
}

type ticketsResponse struct {
	Status    string         `json:"status"`
	TicketID  string         `json:"ticket_id,omitempty"`
	Ticket    map[string]any `json:"ticket,omitempty"`
	Message   string         `json:"message,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
}

func (h TicketsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}

	var req ticketsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	state := h.Workflow.Run(r.Context(), req.Transcripts)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if state.Status == workflow.TicketCompleted {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(ticketsResponse{
			Status:   string(workflow.TicketCompleted),
			TicketID: state.TicketID,
			Ticket:   state.Parsed,
		})
		return
	}

	status := http.StatusBadGateway
	switch state.Err.Kind {
	case workflow.ErrKindInput:
		status = http.StatusBadRequest
	case workflow.ErrKindParse, workflow.ErrKindValidate:
		status = http.StatusUnprocessableEntity
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ticketsResponse{
		Status:    string(workflow.TicketFailed),
		Message:   state.Err.Message,
		ErrorType: state.Err.Kind,
	})
}
