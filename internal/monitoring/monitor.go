// Package monitoring tracks the health of the export pipeline.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/bunnystream/internal/logging"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/metrics"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
)

const (
	defaultInterval = 10 * time.Second

	dlqCriticalDepth   = 100
	queueWarningDepth  = 1000
	failureRateWarning = 0.1
)

// Health levels
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// Snapshot holds the latest pipeline state
type Snapshot struct {
	QueueDepth   int              `json:"queueDepth"`
	DLQDepth     int              `json:"dlqDepth"`
	JobsByStatus map[string]int64 `json:"jobsByStatus"`
	LastUpdated  time.Time        `json:"lastUpdated"`
}

// ActiveJobs counts jobs that have not finished
func (s Snapshot) ActiveJobs() int64 {
	return s.JobsByStatus[models.ExportStatusPending] +
		s.JobsByStatus[models.ExportStatusQueued] +
		s.JobsByStatus[models.ExportStatusProcessing]
}

// FailureRate is the share of finished jobs that failed
func (s Snapshot) FailureRate() float64 {
	failed := s.JobsByStatus[models.ExportStatusFailed]
	finished := failed + s.JobsByStatus[models.ExportStatusCompleted]
	if finished == 0 {
		return 0
	}
	return float64(failed) / float64(finished)
}

// StatsRepository counts export jobs
type StatsRepository interface {
	ExportJobStats(ctx context.Context) (map[string]int64, error)
}

// QueueProvider reports queue depths
type QueueProvider interface {
	Depth() (int, error)
	DLQDepth() (int, error)
}

// Monitor periodically samples the export queue and job table
type Monitor struct {
	snapshot Snapshot
	mu       sync.RWMutex
	repo     StatsRepository
	queue    QueueProvider
	interval time.Duration
	logger   *logging.Logger
}

// NewMonitor creates a monitor. A zero interval means every 10 seconds.
func NewMonitor(repo StatsRepository, queue QueueProvider, interval time.Duration, logger *logging.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Monitor{
		snapshot: Snapshot{JobsByStatus: map[string]int64{}},
		repo:     repo,
		queue:    queue,
		interval: interval,
		logger:   logger.WithComponent("monitor"),
	}
}

// Run collects until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Collect(ctx); err != nil {
				m.logger.WithError(err).Warn("Failed to collect pipeline metrics")
				continue
			}
			for _, alert := range m.Alerts() {
				m.logger.Warn(alert)
			}
		}
	}
}

// Collect takes one sample and publishes it as metrics
func (m *Monitor) Collect(ctx context.Context) error {
	queueDepth, err := m.queue.Depth()
	if err != nil {
		return fmt.Errorf("failed to get queue depth: %w", err)
	}

	dlqDepth, err := m.queue.DLQDepth()
	if err != nil {
		return fmt.Errorf("failed to get DLQ depth: %w", err)
	}

	stats, err := m.repo.ExportJobStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get export stats: %w", err)
	}

	metrics.SetExportPipelineState(queueDepth, dlqDepth, stats)

	m.mu.Lock()
	m.snapshot = Snapshot{
		QueueDepth:   queueDepth,
		DLQDepth:     dlqDepth,
		JobsByStatus: stats,
		LastUpdated:  time.Now(),
	}
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the latest sample
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.JobsByStatus = make(map[string]int64, len(m.snapshot.JobsByStatus))
	for k, v := range m.snapshot.JobsByStatus {
		s.JobsByStatus[k] = v
	}
	return s
}

// SystemHealth grades the latest sample
func (m *Monitor) SystemHealth() string {
	s := m.Snapshot()

	if s.DLQDepth > dlqCriticalDepth {
		return HealthCritical
	}
	if s.QueueDepth > queueWarningDepth || s.FailureRate() > failureRateWarning {
		return HealthWarning
	}
	return HealthHealthy
}

// Alerts describes every threshold the latest sample crosses
func (m *Monitor) Alerts() []string {
	s := m.Snapshot()
	var alerts []string

	if s.DLQDepth > dlqCriticalDepth {
		alerts = append(alerts, fmt.Sprintf("High DLQ depth: %d messages", s.DLQDepth))
	}
	if s.QueueDepth > queueWarningDepth {
		alerts = append(alerts, fmt.Sprintf("High queue depth: %d exports pending", s.QueueDepth))
	}
	if rate := s.FailureRate(); rate > failureRateWarning {
		alerts = append(alerts, fmt.Sprintf("High failure rate: %.1f%%", rate*100))
	}
	return alerts
}

// HealthReport is the body served by HealthHandler
type HealthReport struct {
	Status      string    `json:"status"`
	QueueDepth  int       `json:"queueDepth"`
	DLQDepth    int       `json:"dlqDepth"`
	ActiveJobs  int64     `json:"activeJobs"`
	FailureRate float64   `json:"failureRate"`
	Alerts      []string  `json:"alerts"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Report grades the latest sample and lists its alerts
func (m *Monitor) Report() HealthReport {
	s := m.Snapshot()
	alerts := m.Alerts()
	if alerts == nil {
		alerts = []string{}
	}
	return HealthReport{
		Status:      m.SystemHealth(),
		QueueDepth:  s.QueueDepth,
		DLQDepth:    s.DLQDepth,
		ActiveJobs:  s.ActiveJobs(),
		FailureRate: s.FailureRate(),
		Alerts:      alerts,
		LastUpdated: s.LastUpdated,
	}
}

// HealthHandler serves Report as JSON. A critical pipeline answers 503.
func (m *Monitor) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		report := m.Report()

		status := http.StatusOK
		if report.Status == HealthCritical {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(report); err != nil {
			m.logger.WithError(err).Warn("Failed to write health report")
		}
	})
}
