package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dispatchd/dispatch-gateway/pkg/gateway/config"
	gatewayserver "github.com/dispatchd/dispatch-gateway/pkg/gateway/server"
	"github.com/dispatchd/dispatch-gateway/pkg/relay"
	"github.com/dispatchd/dispatch-gateway/pkg/ticketstore"
	"github.com/dispatchd/dispatch-gateway/pkg/workflow"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, cfg config.Config) (ticketstore.Store, func() error, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  openTicketStore,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func openTicketStore(ctx context.Context, cfg config.Config) (ticketstore.Store, func() error, error) {
	if cfg.SQLitePath == "" {
		return ticketstore.NewMemory(), func() error { return nil }, nil
	}
	s, err := ticketstore.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func buildGateway(cfg config.Config, store ticketstore.Store, logger *slog.Logger) (*gatewayserver.Server, *relay.HealthMonitor) {
	reg := relay.NewRegistry(relay.RegistryOptions{
		QueueCapacity: cfg.QueueCapacity,
		Logger:        logger,
	})
	rel := relay.NewDuplexRelay(reg, relay.RelayOptions{
		DrainTimeout: cfg.DrainTimeout,
		Logger:       logger,
	})
	monitor := relay.NewHealthMonitor(reg, relay.MonitorConfig{
		BacklogInterval:  cfg.BacklogInterval,
		BacklogHighWater: cfg.BacklogHighWater,
		IdleInterval:     cfg.IdleInterval,
		IdleTimeout:      cfg.IdleTimeout,
		LivenessInterval: cfg.LivenessInterval,
	}, logger)

	ticketWF := &workflow.TicketWorkflow{
		Classifier: &workflow.HTTPClassifier{
			URL:    cfg.ClassifyURL,
			APIKey: cfg.ClassifyAPIKey,
			Model:  cfg.ClassifyModel,
			Logger: logger,
		},
		Store:  store,
		Logger: logger,
	}
	callWF := &workflow.CallWorkflow{
		Registry:     reg,
		Relay:        rel,
		Monitor:      monitor,
		Saver:        &workflow.TicketSaver{Workflow: ticketWF, Logger: logger},
		Logger:       logger,
		DrainTimeout: cfg.DrainTimeout,
	}

	srv := gatewayserver.New(cfg, gatewayserver.Deps{
		Registry: reg,
		Relay:    rel,
		Monitor:  monitor,
		CallWF:   callWF,
		TicketWF: ticketWF,
	}, logger)
	return srv, monitor
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.openStore == nil {
		return errors.New("missing openStore dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, closeStore, err := deps.openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open ticket store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close ticket store", "error", err)
		}
	}()

	gw, monitor := buildGateway(cfg, store, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go monitor.Run(monitorCtx)

	logger.Info("starting dispatch gateway", "addr", cfg.Addr)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.Lifecycle().SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Shutdown does not wait for hijacked websocket connections; give
	// in-flight calls the same grace period to finish and persist.
	waitDeadline := time.Now().Add(cfg.ShutdownGracePeriod)
	for gw.Lifecycle().ActiveConns() > 0 && time.Now().Before(waitDeadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if n := gw.Lifecycle().ActiveConns(); n > 0 {
		logger.Warn("shutting down with calls still active", "active_conns", n)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("dispatch gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "dispatch-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "dispatch-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
