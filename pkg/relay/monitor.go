package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthMonitor runs three independent periodic checks over the registry:
// queue backlog warnings, idle-session teardown, and connection-liveness
// teardown. Each loop iterates a snapshot of ids and tolerates sessions
// that disappear before it reaches them.
type HealthMonitor struct {
	reg    *Registry
	logger *slog.Logger
	cfg    MonitorConfig
	now    func() time.Time
}

type MonitorConfig struct {
	BacklogInterval  time.Duration
	BacklogHighWater int
	IdleInterval     time.Duration
	IdleTimeout      time.Duration
	LivenessInterval time.Duration
}

func NewHealthMonitor(reg *Registry, cfg MonitorConfig, logger *slog.Logger) *HealthMonitor {
	if cfg.BacklogInterval <= 0 {
		cfg.BacklogInterval = 5 * time.Second
	}
	if cfg.BacklogHighWater <= 0 {
		cfg.BacklogHighWater = 50
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{reg: reg, logger: logger, cfg: cfg, now: reg.now}
}

// Run blocks until ctx is canceled, driving the three check loops.
func (m *HealthMonitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		m.loop(ctx, m.cfg.BacklogInterval, m.checkBacklog)
	}()
	go func() {
		defer wg.Done()
		m.loop(ctx, m.cfg.IdleInterval, m.checkIdle)
	}()
	go func() {
		defer wg.Done()
		m.loop(ctx, m.cfg.LivenessInterval, m.checkLiveness)
	}()
	wg.Wait()
}

func (m *HealthMonitor) loop(ctx context.Context, interval time.Duration, check func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func (m *HealthMonitor) checkBacklog() {
	for _, id := range m.reg.IDs() {
		aiBound, telBound, ok := m.reg.Backlog(id)
		if !ok {
			continue
		}
		if aiBound > m.cfg.BacklogHighWater {
			m.logger.Warn("ai-bound queue backlog", "call_id", id, "backlog", aiBound)
		}
		if telBound > m.cfg.BacklogHighWater {
			m.logger.Warn("telephony-bound queue backlog", "call_id", id, "backlog", telBound)
		}
	}
}

func (m *HealthMonitor) checkIdle() {
	for _, id := range m.reg.IDs() {
		state, ok := m.reg.Lookup(id)
		if !ok {
			continue
		}
		if m.IdleExceeded(state) {
			m.logger.Info("terminating idle call", "call_id", id)
			m.reg.Unregister(id)
		}
	}
}

// IdleExceeded reports whether a session has been quiet past the idle
// threshold. The workflow driver evaluates this inline on every step in
// addition to the periodic loop.
func (m *HealthMonitor) IdleExceeded(state *SessionState) bool {
	return m.now().Sub(state.LastActivityAt()) > m.cfg.IdleTimeout
}

func (m *HealthMonitor) checkLiveness() {
	for _, id := range m.reg.IDs() {
		entry, ok := m.reg.entry(id)
		if !ok {
			continue
		}
		if entry.handle.Alive != nil && !entry.handle.Alive() {
			m.logger.Warn("telephony connection not open", "call_id", id)
			m.reg.Unregister(id)
		}
	}
}
