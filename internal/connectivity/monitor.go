package connectivity

import (
	"context"
	"sync"
	"time"

	"tillsync/internal/config"
	"tillsync/internal/events"

	"github.com/rs/zerolog"
)

// Prober checks reachability of the central server.
type Prober interface {
	Probe(ctx context.Context) error
}

// Monitor maintains the online/offline signal from periodic probes
// and OS-level network notifications. Transitions to online are
// immediate; transitions to offline require a run of consecutive
// failures so a single dropped probe does not flap the state.
type Monitor struct {
	prober    Prober
	bus       *events.EventBus
	interval  time.Duration
	threshold int
	logger    zerolog.Logger

	mu       sync.Mutex
	online   bool
	failures int
}

func NewMonitor(prober Prober, bus *events.EventBus, cfg config.ConnectivityConfig, logger *zerolog.Logger) *Monitor {
	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "connectivity").Logger()
	}

	return &Monitor{
		prober:    prober,
		bus:       bus,
		interval:  time.Duration(cfg.ProbeIntervalSec) * time.Second,
		threshold: cfg.OfflineThreshold,
		logger:    l,
		// Start offline; the first successful probe flips the state.
		online: false,
	}
}

// Start runs the probe loop until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info().Dur("interval", m.interval).Msg("connectivity monitor started")
	defer m.logger.Info().Msg("connectivity monitor stopped")

	m.probeOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.prober.Probe(probeCtx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("probe failed")
	}
	m.record(err == nil)
}

// IsOnline returns the current debounced connectivity signal.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// ReportOnline feeds an OS-level "network up" notification into the
// debounce as a probe success.
func (m *Monitor) ReportOnline() {
	m.record(true)
}

// ReportOffline feeds an OS-level "network down" notification. The OS
// knows the interface is gone, so the state flips without waiting for
// probe failures.
func (m *Monitor) ReportOffline() {
	m.mu.Lock()
	m.failures = m.threshold
	wasOnline := m.online
	m.online = false
	m.mu.Unlock()

	if wasOnline {
		m.notify(false)
	}
}

func (m *Monitor) record(success bool) {
	m.mu.Lock()
	var transitioned bool
	var nowOnline bool

	if success {
		m.failures = 0
		if !m.online {
			m.online = true
			transitioned = true
			nowOnline = true
		}
	} else {
		m.failures++
		if m.online && m.failures >= m.threshold {
			m.online = false
			transitioned = true
			nowOnline = false
		}
	}
	m.mu.Unlock()

	if transitioned {
		m.notify(nowOnline)
	}
}

func (m *Monitor) notify(online bool) {
	if online {
		m.logger.Info().Msg("connectivity restored")
	} else {
		m.logger.Warn().Msg("connectivity lost")
	}

	if m.bus != nil {
		_ = m.bus.PublishJSON(events.EventConnectivityChanged, events.ConnectivityEventPayload{Online: online})
	}
}
