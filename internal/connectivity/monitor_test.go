package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"tillsync/internal/config"
	"tillsync/internal/events"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu  sync.Mutex
	err error
}

func (f *fakeProber) Probe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeProber) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestMonitor(bus *events.EventBus) (*Monitor, *fakeProber) {
	prober := &fakeProber{}
	logger := zerolog.Nop()
	cfg := config.ConnectivityConfig{ProbeIntervalSec: 1, OfflineThreshold: 2}
	return NewMonitor(prober, bus, cfg, &logger), prober
}

func transitions(t *testing.T, bus *events.EventBus) *[]bool {
	t.Helper()
	var seen []bool
	bus.Subscribe(events.EventConnectivityChanged, func(ev *events.Event) error {
		var payload events.ConnectivityEventPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		seen = append(seen, payload.Online)
		return nil
	})
	return &seen
}

func TestMonitorStartsOffline(t *testing.T) {
	m, _ := newTestMonitor(events.NewEventBus())
	assert.False(t, m.IsOnline())
}

func TestMonitorGoesOnlineOnFirstSuccess(t *testing.T) {
	bus := events.NewEventBus()
	seen := transitions(t, bus)
	m, _ := newTestMonitor(bus)

	m.probeOnce(context.Background())

	assert.True(t, m.IsOnline())
	require.Len(t, *seen, 1)
	assert.True(t, (*seen)[0])
}

func TestMonitorDebouncesOffline(t *testing.T) {
	bus := events.NewEventBus()
	seen := transitions(t, bus)
	m, prober := newTestMonitor(bus)

	m.probeOnce(context.Background())
	require.True(t, m.IsOnline())

	prober.setErr(errors.New("unreachable"))

	// One failure is not enough to flip
	m.probeOnce(context.Background())
	assert.True(t, m.IsOnline())

	// Second consecutive failure crosses the threshold
	m.probeOnce(context.Background())
	assert.False(t, m.IsOnline())

	require.Len(t, *seen, 2)
	assert.True(t, (*seen)[0])
	assert.False(t, (*seen)[1])
}

func TestMonitorSuccessResetsFailureRun(t *testing.T) {
	m, prober := newTestMonitor(events.NewEventBus())

	m.probeOnce(context.Background())
	require.True(t, m.IsOnline())

	prober.setErr(errors.New("blip"))
	m.probeOnce(context.Background())
	prober.setErr(nil)
	m.probeOnce(context.Background())
	prober.setErr(errors.New("blip"))
	m.probeOnce(context.Background())

	// Interleaved successes keep the run below the threshold
	assert.True(t, m.IsOnline())
}

func TestReportOfflineFlipsImmediately(t *testing.T) {
	bus := events.NewEventBus()
	seen := transitions(t, bus)
	m, _ := newTestMonitor(bus)

	m.probeOnce(context.Background())
	require.True(t, m.IsOnline())

	m.ReportOffline()
	assert.False(t, m.IsOnline())
	require.Len(t, *seen, 2)
	assert.False(t, (*seen)[1])

	// Repeated reports do not publish duplicate transitions
	m.ReportOffline()
	assert.Len(t, *seen, 2)
}

func TestReportOnlineActsAsProbeSuccess(t *testing.T) {
	bus := events.NewEventBus()
	seen := transitions(t, bus)
	m, _ := newTestMonitor(bus)

	m.ReportOnline()
	assert.True(t, m.IsOnline())
	require.Len(t, *seen, 1)
	assert.True(t, (*seen)[0])
}
