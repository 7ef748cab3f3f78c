package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// DefaultInterval is the monitor refresh period.
const DefaultInterval = time.Second

// Monitor periodically prints the counters' sum against a total.
type Monitor struct {
	counters *Counters
	total    int64
	w        io.Writer
	interval time.Duration
	runID    string
	unit     string

	mu   sync.Mutex
	last int64
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithWriter sets the output writer. Defaults to os.Stdout.
func WithWriter(w io.Writer) MonitorOption {
	return func(m *Monitor) {
		m.w = w
	}
}

// WithInterval sets the refresh period.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithRunID sets the run id shown in the progress line.
func WithRunID(id string) MonitorOption {
	return func(m *Monitor) {
		m.runID = id
	}
}

// WithUnit sets the unit noun ("nodes", "edges").
func WithUnit(unit string) MonitorOption {
	return func(m *Monitor) {
		m.unit = unit
	}
}

// NewMonitor creates a monitor over counters that completes at total.
func NewMonitor(counters *Counters, total int64, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		counters: counters,
		total:    total,
		w:        os.Stdout,
		interval: DefaultInterval,
		unit:     "nodes",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run prints the progress line every interval until the sum reaches the
// total or ctx is done, then prints the final state followed by a newline.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if m.render() >= m.total {
			break
		}
		select {
		case <-ctx.Done():
			m.render()
			fmt.Fprintln(m.w)
			return
		case <-ticker.C:
		}
	}
	fmt.Fprintln(m.w)
}

// Processed returns the value shown by the last refresh.
func (m *Monitor) Processed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Monitor) render() int64 {
	n := m.counters.Sum()

	m.mu.Lock()
	m.last = n
	m.mu.Unlock()

	fmt.Fprintf(m.w, "\rRun %s progress: %d/%d %s processed", m.runID, n, m.total, m.unit)
	return n
}
