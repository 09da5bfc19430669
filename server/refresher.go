package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"fumapis/models"
	"fumapis/services"
	"fumapis/storage"
	"fumapis/utils"
)

// ErrNotReady is returned by Latest before the first successful refresh.
var ErrNotReady = errors.New("server: dashboard not computed yet")

// CitizenSource provides the full citizen list.
type CitizenSource interface {
	ListCitizens(ctx context.Context) ([]*models.CitizenRecord, error)
}

// Refresher periodically recomputes the dashboard and keeps the latest
// report. A failed refresh keeps the previous report and records the error.
type Refresher struct {
	source     CitizenSource
	aggregator *services.Aggregator
	metrics    *Metrics
	snapshots  storage.SnapshotWriter
	logger     *utils.Logger
	interval   time.Duration

	mu          sync.RWMutex
	report      *models.DashboardReport
	lastErr     error
	lastAttempt time.Time
}

// NewRefresher creates a Refresher. metrics may be nil.
func NewRefresher(source CitizenSource, aggregator *services.Aggregator, metrics *Metrics, logger *utils.Logger, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{
		source:     source,
		aggregator: aggregator,
		metrics:    metrics,
		logger:     logger,
		interval:   interval,
	}
}

// WithSnapshots makes every successful refresh persist a snapshot.
func (r *Refresher) WithSnapshots(w storage.SnapshotWriter) *Refresher {
	r.snapshots = w
	return r
}

// Refresh fetches, aggregates and stores one report.
func (r *Refresher) Refresh(ctx context.Context) error {
	start := time.Now()
	report, err := r.compute(ctx)
	elapsed := time.Since(start)

	if r.metrics != nil {
		r.metrics.ObserveRefresh(elapsed, err)
	}

	r.mu.Lock()
	r.lastAttempt = start
	r.lastErr = err
	if err == nil {
		r.report = report
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("[refresher] Dashboard refresh failed: %v", err)
		return err
	}

	if r.metrics != nil {
		r.metrics.ObserveReport(report)
	}
	r.logger.Info("[refresher] Dashboard refreshed: %d citizens, %d unmapped in %v",
		report.Summary.Total, report.Summary.Unmapped, elapsed.Round(time.Millisecond))

	if r.snapshots != nil {
		id, err := r.snapshots.SaveSnapshot(ctx, report)
		if err != nil {
			r.logger.Warn("[refresher] Snapshot not saved: %v", err)
		} else {
			r.logger.Debug("[refresher] Saved snapshot %d", id)
		}
	}
	return nil
}

func (r *Refresher) compute(ctx context.Context) (*models.DashboardReport, error) {
	records, err := r.source.ListCitizens(ctx)
	if err != nil {
		return nil, err
	}
	return r.aggregator.Generate(records)
}

// Run refreshes immediately and then on every interval until ctx is done.
// Refresh failures are logged and never stop the loop.
func (r *Refresher) Run(ctx context.Context) error {
	_ = r.Refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = r.Refresh(ctx)
		}
	}
}

// Latest returns the most recent report. Before any successful refresh it
// returns ErrNotReady, or the last refresh error when there was one.
func (r *Refresher) Latest() (*models.DashboardReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.report == nil {
		if r.lastErr != nil {
			return nil, r.lastErr
		}
		return nil, ErrNotReady
	}
	return r.report, nil
}

// Status describes the refresher state for health checks.
type Status struct {
	Ready       bool      `json:"ready"`
	LastAttempt time.Time `json:"last_attempt"`
	GeneratedAt time.Time `json:"generated_at"`
	LastError   string    `json:"last_error,omitempty"`
}

// Status returns a snapshot of the refresher state.
func (r *Refresher) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Status{Ready: r.report != nil, LastAttempt: r.lastAttempt}
	if r.report != nil {
		st.GeneratedAt = r.report.GeneratedAt
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	return st
}
