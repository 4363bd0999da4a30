package server

import (
	"log/slog"
	"net/http"

	"github.com/dispatchd/dispatch-gateway/pkg/gateway/config"
	"github.com/dispatchd/dispatch-gateway/pkg/gateway/handlers"
	"github.com/dispatchd/dispatch-gateway/pkg/gateway/lifecycle"
	"github.com/dispatchd/dispatch-gateway/pkg/gateway/mw"
	"github.com/dispatchd/dispatch-gateway/pkg/relay"
	"github.com/dispatchd/dispatch-gateway/pkg/relay/aistream"
	"github.com/dispatchd/dispatch-gateway/pkg/workflow"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	lifecycle *lifecycle.Lifecycle
	registry  *relay.Registry
	relay     *relay.DuplexRelay
	monitor   *relay.HealthMonitor
	callWF    *workflow.CallWorkflow
	ticketWF  *workflow.TicketWorkflow
	dial      aistream.Dialer
}

// Deps carries the collaborators the server wires into its handlers.
// Dial is injectable for tests; nil means the real backend dialer.
type Deps struct {
	Registry  *relay.Registry
	Relay     *relay.DuplexRelay
	Monitor   *relay.HealthMonitor
	CallWF    *workflow.CallWorkflow
	TicketWF  *workflow.TicketWorkflow
	Lifecycle *lifecycle.Lifecycle
	Dial      aistream.Dialer
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		lifecycle: deps.Lifecycle,
		registry:  deps.Registry,
		relay:     deps.Relay,
		monitor:   deps.Monitor,
		callWF:    deps.CallWF,
		ticketWF:  deps.TicketWF,
		dial:      deps.Dial,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Lifecycle: s.lifecycle,
		Registry:  s.registry,
	})
	s.mux.Handle("/status", handlers.StatusHandler{
		Registry:  s.registry,
		Lifecycle: s.lifecycle,
	})

	s.mux.Handle("/voice", handlers.VoiceHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
	})
	s.mux.Handle("/media-stream", handlers.StreamHandler{
		Config:    s.cfg,
		Registry:  s.registry,
		Relay:     s.relay,
		Workflow:  s.callWF,
		Dial:      s.dial,
		Logger:    s.logger,
		Lifecycle: s.lifecycle,
	})
	s.mux.Handle("/tickets/classify", handlers.TicketsHandler{
		Workflow: s.ticketWF,
		Logger:   s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Lifecycle exposes the shared lifecycle state for shutdown plumbing.
func (s *Server) Lifecycle() *lifecycle.Lifecycle {
	return s.lifecycle
}
