package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dispatchd/dispatch-gateway/pkg/gateway/config"
	"github.com/dispatchd/dispatch-gateway/pkg/gateway/lifecycle"
)

// VoiceHandler answers the telephony provider's incoming-call webhook
// with instructions to open a duplex media stream back to this gateway.
type VoiceHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

const voiceResponseTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="wss://%s/media-stream" name="DispatchAI" track="both_tracks" />
    </Connect>
    <Pause length="3"/>
</Response>
`

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	if h.Lifecycle.IsDraining() {
		writeJSONError(w, r, http.StatusServiceUnavailable, "overloaded", "gateway is draining")
		return
	}

	host := strings.TrimSpace(h.Config.PublicHost)
	if host == "" {
		host = r.Host
	}
	if host == "" {
		writeJSONError(w, r, http.StatusInternalServerError, "api_error", "cannot determine media stream host")
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, voiceResponseTemplate, host)
}
