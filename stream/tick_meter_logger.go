package stream

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/rotblauer/admintiles/common"
)

// TickMeter counts named events and logs their totals and rates on a ticker.
type TickMeter struct {
	msg      string
	logger   *slog.Logger
	interval time.Duration
	started  time.Time
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	label  string
	names  []string
	reg    metrics.Registry
	meters map[string]metrics.Meter
}

// NewTickMeter starts a meter logging msg every interval.
// A zero interval disables periodic logging; counts are still kept.
func NewTickMeter(msg string, interval time.Duration, logger *slog.Logger) *TickMeter {
	// Enable metrics package.
	// Won't work without this global setting.
	metrics.Enabled = true

	if logger == nil {
		logger = slog.Default()
	}
	m := &TickMeter{
		msg:      msg,
		logger:   logger,
		interval: interval,
		started:  time.Now(),
		done:     make(chan struct{}),
		reg:      metrics.NewRegistry(),
		meters:   map[string]metrics.Meter{},
	}
	if interval > 0 {
		m.ticker = time.NewTicker(interval)
		go m.run()
	}
	return m
}

func (m *TickMeter) meter(name string) metrics.Meter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mt, ok := m.meters[name]; ok {
		return mt
	}
	mt := metrics.GetOrRegisterMeter(name, m.reg)
	m.meters[name] = mt
	m.names = append(m.names, name)
	return mt
}

// Mark adds n events to the named meter.
func (m *TickMeter) Mark(name string, n int64) {
	m.meter(name).Mark(n)
}

// SetLabel sets a free-form value logged with each tick, eg. the current unit.
func (m *TickMeter) SetLabel(label string) {
	m.mu.Lock()
	m.label = label
	m.mu.Unlock()
}

// Count returns the total of the named meter.
func (m *TickMeter) Count(name string) int64 {
	return m.meter(name).Snapshot().Count()
}

func (m *TickMeter) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.ticker.C:
			m.Log()
		}
	}
}

// Log writes the current totals and one-minute rates.
func (m *TickMeter) Log() {
	m.mu.Lock()
	names := slices.Clone(m.names)
	label := m.label
	m.mu.Unlock()
	slices.Sort(names)

	attrs := make([]any, 0, 2*len(names)+4)
	for _, name := range names {
		snap := m.meter(name).Snapshot()
		attrs = append(attrs,
			name, humanize.Comma(snap.Count()),
			name+".rate", common.DecimalToFixed(snap.Rate1(), 0))
	}
	if label != "" {
		attrs = append(attrs, "at", label)
	}
	attrs = append(attrs, "running", time.Since(m.started).Round(time.Second))
	m.logger.Info(m.msg, attrs...)
}

func (m *TickMeter) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() {
		if m.ticker != nil {
			m.ticker.Stop()
			close(m.done)
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, mt := range m.meters {
			mt.Stop()
		}
	})
}
