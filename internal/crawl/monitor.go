package crawl

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hydra_checks_total",
		Help: "Number of resource checks performed.",
	})
	metricCheckErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hydra_check_errors_total",
		Help: "Number of checks ending in a transport error or timeout.",
	})
	metricBackoffs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hydra_backoffs_total",
		Help: "Number of resources moved to BACKOFF.",
	})
	metricAnalyses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hydra_analyses_total",
		Help: "Number of resource analyses (downloads) performed.",
	})
	metricParsings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hydra_csv_parsings_total",
		Help: "Number of CSV parsing runs.",
	})
	metricNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hydra_notifications_total",
		Help: "Number of webhook notifications dispatched.",
	})
)

// Monitor is the process-wide crawler status, shared between the scheduler
// and the admin API.
type Monitor struct {
	mu          sync.Mutex
	running     bool
	lastStatus  string
	statusAt    time.Time
	iterations  int64
	checks      int64
	errors      int64
	analyses    int64
	parsings    int64
	lastBatchAt time.Time
}

// MonitorSnapshot is a point-in-time copy of the monitor counters.
type MonitorSnapshot struct {
	Running     bool      `json:"running"`
	LastStatus  string    `json:"last_status"`
	StatusAt    time.Time `json:"status_at"`
	Iterations  int64     `json:"iterations"`
	Checks      int64     `json:"checks"`
	Errors      int64     `json:"errors"`
	Analyses    int64     `json:"analyses"`
	Parsings    int64     `json:"parsings"`
	LastBatchAt time.Time `json:"last_batch_at"`
}

// NewMonitor creates an idle monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// SetStatus records the most recent activity string.
func (m *Monitor) SetStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastStatus = status
	m.statusAt = time.Now()
}

func (m *Monitor) setRunning(running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = running
}

func (m *Monitor) batchDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iterations++
	m.lastBatchAt = time.Now()
}

func (m *Monitor) countCheck(errored bool) {
	metricChecks.Inc()
	if errored {
		metricCheckErrors.Inc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if errored {
		m.errors++
	}
}

func (m *Monitor) countAnalysis() {
	metricAnalyses.Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses++
}

func (m *Monitor) countParsing() {
	metricParsings.Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parsings++
}

// Snapshot returns a copy of the current counters.
func (m *Monitor) Snapshot() MonitorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MonitorSnapshot{
		Running:     m.running,
		LastStatus:  m.lastStatus,
		StatusAt:    m.statusAt,
		Iterations:  m.iterations,
		Checks:      m.checks,
		Errors:      m.errors,
		Analyses:    m.analyses,
		Parsings:    m.parsings,
		LastBatchAt: m.lastBatchAt,
	}
}
