// Package housekeeping runs the periodic session cleanup: conversation
// sessions idle for longer than the configured TTL are pruned together with
// their history. Per-user modes are kept.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nous-labs/vacancy-bridge/internal/events"
)

// Pruner removes idle sessions.
type Pruner interface {
	PruneIdle(ctx context.Context, idle time.Duration) (int, error)
}

// Report holds the results of a single cleanup cycle.
type Report struct {
	CycleNumber int       `json:"cycle_number"`
	StartedAt   time.Time `json:"started_at"`
	Duration    string    `json:"duration"`
	Pruned      int       `json:"pruned"`
	Error       string    `json:"error,omitempty"`
}

// Config holds worker configuration.
type Config struct {
	Interval time.Duration // how often to clean (default 5m)
	IdleTTL  time.Duration // prune sessions idle longer than this (default 30m)
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		IdleTTL:  30 * time.Minute,
	}
}

// Worker is the cleanup background worker.
type Worker struct {
	pruner   Pruner
	events   events.Publisher
	interval time.Duration
	idleTTL  time.Duration

	mu         sync.RWMutex
	started    bool
	lastReport *Report
	cycleCount int
	wg         sync.WaitGroup
}

// NewWorker creates a worker. A nil publisher discards events.
func NewWorker(p Pruner, pub events.Publisher, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	if pub == nil {
		pub = events.Discard
	}
	return &Worker{
		pruner:   p,
		events:   pub,
		interval: cfg.Interval,
		idleTTL:  cfg.IdleTTL,
	}
}

// Start launches the loop once per process. Later calls are no-ops, so it
// is safe to call on every reconnect.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.Run(ctx)
	}()
}

// Wait blocks until a started loop has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Run runs the cleanup loop. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("housekeeping started", "interval", w.interval, "idle_ttl", w.idleTTL)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("housekeeping stopping")
			return
		case <-ticker.C:
			w.logReport(w.CleanOnce(ctx))
		}
	}
}

// CleanOnce runs a single cleanup cycle.
func (w *Worker) CleanOnce(ctx context.Context) *Report {
	w.mu.Lock()
	w.cycleCount++
	cycle := w.cycleCount
	w.mu.Unlock()

	start := time.Now()
	report := &Report{CycleNumber: cycle, StartedAt: start}

	n, err := w.pruner.PruneIdle(ctx, w.idleTTL)
	if err != nil {
		report.Error = err.Error()
		slog.Warn("housekeeping: prune failed", "error", err)
	}
	report.Pruned = n
	report.Duration = time.Since(start).Round(time.Millisecond).String()

	w.mu.Lock()
	w.lastReport = report
	w.mu.Unlock()
	return report
}

// LastReport returns the most recent report, or nil before the first cycle.
func (w *Worker) LastReport() *Report {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastReport
}

func (w *Worker) logReport(r *Report) {
	if r.Error != "" {
		w.events.Publish(events.Event{Type: events.TypeCleanup, Message: "cleanup failed: " + r.Error, Level: "warn"})
		return
	}
	if r.Pruned == 0 {
		return
	}
	summary := fmt.Sprintf("cleanup cycle %d (%s): %d idle sessions removed", r.CycleNumber, r.Duration, r.Pruned)
	slog.Info("housekeeping: cycle complete", "summary", summary)
	w.events.Publish(events.Event{Type: events.TypeCleanup, Message: summary, Level: "info"})
}
