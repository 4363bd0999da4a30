package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dispatchd/dispatch-gateway/pkg/gateway/config"
	"github.com/dispatchd/dispatch-gateway/pkg/gateway/lifecycle"
)

func TestVoiceHandler_ConnectsMediaStream(t *testing.T) {
	h := VoiceHandler{Lifecycle: &lifecycle.Lifecycle{}}
	req := httptest.NewRequest(http.MethodPost, "/voice", nil)
	req.Host = "dispatch.example.com"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `<Stream url="wss://dispatch.example.com/media-stream" name="DispatchAI" track="both_tracks" />`) {
		t.Fatalf("body = %s", body)
	}
	if !strings.Contains(body, `<Pause length="3"/>`) {
		t.Fatalf("missing pause: %s", body)
	}
}

func TestVoiceHandler_PublicHostOverride(t *testing.T) {
	h := VoiceHandler{
		Config:    config.Config{PublicHost: "tunnel.example.net"},
		Lifecycle: &lifecycle.Lifecycle{},
	}
	req := httptest.NewRequest(http.MethodPost, "/voice", nil)
	req.Host = "localhost:8080"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "wss://tunnel.example.net/media-stream") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestVoiceHandler_RejectsWhileDraining(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	h := VoiceHandler{Lifecycle: lc}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/voice", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestVoiceHandler_MethodNotAllowed(t *testing.T) {
	h := VoiceHandler{Lifecycle: &lifecycle.Lifecycle{}}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/voice", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
