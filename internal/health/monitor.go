package health

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/metrics"
	"chatsync/internal/models"

	"github.com/rs/zerolog"
)

// Prober is the health slice of the remote client.
type Prober interface {
	Health(ctx context.Context) error
}

// Listener receives every probe result.
type Listener func(state models.ConnectionState)

// Monitor periodically probes the remote service and caches the result.
// A failed probe is just "offline", not an error to recover from: the
// monitor never retries on its own.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *zerolog.Logger

	mu        sync.RWMutex
	state     models.ConnectionState
	listeners []Listener
}

// NewMonitor builds a monitor. interval <= 0 falls back to 5 minutes.
func NewMonitor(prober Prober, interval time.Duration, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Duration(models.ProbeIntervalSeconds) * time.Second
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		logger:   logger,
	}
}

// Subscribe registers a listener for probe results. Must be called before
// Start; listeners are invoked synchronously from the probing goroutine.
func (m *Monitor) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// State returns the cached connection state.
func (m *Monitor) State() models.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Probe runs one health check now and publishes the result. Callers use
// it on demand before user-initiated sync actions.
func (m *Monitor) Probe(ctx context.Context) models.ConnectionState {
	err := m.prober.Health(ctx)

	state := models.ConnectionState{
		Online:        err == nil,
		LastCheckedAt: time.Now(),
	}
	if err != nil {
		state.LastError = err.Error()
		metrics.IncProbe("fail")
	} else {
		metrics.IncProbe("ok")
	}
	metrics.SetOnline(state.Online)

	m.mu.Lock()
	changed := m.state.Online != state.Online || m.state.LastCheckedAt.IsZero()
	m.state = state
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if changed {
		m.logger.Info().Bool("online", state.Online).Str("last_error", state.LastError).
			Msg("health: connection state changed")
	}

	for _, l := range listeners {
		l(state)
	}
	return state
}

// Start probes once immediately, then on the fixed interval until ctx is
// done.
func (m *Monitor) Start(ctx context.Context) {
	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
