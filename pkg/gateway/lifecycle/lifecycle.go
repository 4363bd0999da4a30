package lifecycle

import "sync/atomic"

// Lifecycle is a tiny process lifecycle state holder shared across
// handlers. Readiness flips off while draining, and the stream handler
// counts live telephony connections so shutdown can wait for calls to
// finish.
type Lifecycle struct {
	draining atomic.Bool
	conns    atomic.Int64
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

func (l *Lifecycle) ConnOpened() {
	if l == nil {
		return
	}
	l.conns.Add(1)
}

func (l *Lifecycle) ConnClosed() {
	if l == nil {
		return
	}
	l.conns.Add(-1)
}

func (l *Lifecycle) ActiveConns() int64 {
	if l == nil {
		return 0
	}
	return l.conns.Load()
}
