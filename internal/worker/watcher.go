package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pos-terminal/internal/util"
)

// Pinger reports whether the backoffice is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectivityWatcher polls the backoffice and fires the onOnline
// callback exactly once per offline-to-online transition. The watcher
// starts out assuming offline, so a terminal that boots with
// connectivity drains its queue on the first successful poll.
type ConnectivityWatcher struct {
	pinger   Pinger
	interval time.Duration
	onOnline func(ctx context.Context)
	online   bool
	stop     chan struct{}
	logger   *zap.Logger
}

// NewConnectivityWatcher creates a watcher polling at interval
func NewConnectivityWatcher(pinger Pinger, interval time.Duration, onOnline func(ctx context.Context)) *ConnectivityWatcher {
	return &ConnectivityWatcher{
		pinger:   pinger,
		interval: interval,
		onOnline: onOnline,
		stop:     make(chan struct{}),
		logger:   util.GetLogger(),
	}
}

// Online reports the last observed connectivity state
func (w *ConnectivityWatcher) Online() bool {
	return w.online
}

// Start runs the poll loop until the context is cancelled or Stop is
// called.
func (w *ConnectivityWatcher) Start(ctx context.Context) error {
	w.logger.Info("Starting connectivity watcher",
		zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// Stop stops the watcher
func (w *ConnectivityWatcher) Stop() {
	close(w.stop)
}

func (w *ConnectivityWatcher) poll(ctx context.Context) {
	err := w.pinger.Ping(ctx)
	nowOnline := err == nil

	if nowOnline {
		util.BackofficeOnline.Set(1)
	} else {
		util.BackofficeOnline.Set(0)
	}

	switch {
	case nowOnline && !w.online:
		w.logger.Info("Backoffice reachable again")
		w.online = true
		if w.onOnline != nil {
			w.onOnline(ctx)
		}
	case !nowOnline && w.online:
		w.logger.Warn("Backoffice became unreachable", zap.Error(err))
		w.online = false
	}
}
