package sync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Monitor polls service reachability and fires a callback on each
// offline-to-online transition, the cue for a sync pass and a websocket
// reconnect. It starts pessimistic: the first successful ping counts as a
// transition.
type Monitor struct {
	client   pinger
	log      *logrus.Logger
	interval time.Duration
	onOnline func()

	online atomic.Bool
}

func NewMonitor(client pinger, interval time.Duration, onOnline func(), log *logrus.Logger) *Monitor {
	return &Monitor{client: client, log: log, interval: interval, onOnline: onOnline}
}

// Online reports the last observed reachability.
func (m *Monitor) Online() bool { return m.online.Load() }

// Run polls until the context ends. The first check happens immediately.
func (m *Monitor) Run(ctx context.Context) {
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := m.client.Ping(pingCtx)
	cancel()

	wasOnline := m.online.Load()
	nowOnline := err == nil
	m.online.Store(nowOnline)

	switch {
	case nowOnline && !wasOnline:
		m.log.Info("connectivity restored")
		if m.onOnline != nil {
			m.onOnline()
		}
	case !nowOnline && wasOnline:
		m.log.WithError(err).Warn("connectivity lost")
	}
}
