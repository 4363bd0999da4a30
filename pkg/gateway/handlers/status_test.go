package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dispatchd/dispatch-gateway/pkg/gateway/lifecycle"
	"github.com/dispatchd/dispatch-gateway/pkg/relay"
)

func TestStatusHandler_ListsCalls(t *testing.T) {
	reg := relay.NewRegistry(relay.RegistryOptions{})
	state := reg.Register("call_a", relay.Handle{})
	state.CountMedia()
	state.MarkEscalated()

	h := StatusHandler{Registry: reg, Lifecycle: &lifecycle.Lifecycle{}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Draining bool         `json:"draining"`
		Calls    []callStatus `json:"calls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Calls) != 1 {
		t.Fatalf("calls = %+v", resp.Calls)
	}
	got := resp.Calls[0]
	if got.CallID != "call_a" || got.Status != "active" || got.MediaFrames != 1 || !got.Escalated {
		t.Fatalf("call = %+v", got)
	}
}

func TestStatusHandler_EmptyRoster(t *testing.T) {
	h := StatusHandler{Registry: relay.NewRegistry(relay.RegistryOptions{}), Lifecycle: &lifecycle.Lifecycle{}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var resp struct {
		Calls []callStatus `json:"calls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Calls) != 0 {
		t.Fatalf("calls = %+v", resp.Calls)
	}
}
