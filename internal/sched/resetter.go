// Package sched owns the epoch lifecycle: it periodically snapshots the
// tracker, optionally exports a report for the finishing epoch, and
// resets the counters.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/keithlinneman/toptalkers/internal/log"
	"github.com/keithlinneman/toptalkers/internal/report"
	"github.com/keithlinneman/toptalkers/internal/tracker"
)

// Target is the view of the tracker the resetter drives.
type Target interface {
	Snapshot() []tracker.Entry
	Distinct() int
	Capacity() int
	EpochStart() time.Time
	Reset()
}

// Exporter receives the report document for each finishing epoch.
// Satisfied by *report.Exporter.
type Exporter interface {
	Export(ctx context.Context, doc report.Document) error
}

type ResetterOptions struct {
	Logger  log.Logger
	Target  Target
	Tracker *tracker.Tracker // convenience, used when Target is nil

	// Interval resets on a fixed cadence. Daily resets at midnight UTC
	// instead. Exactly one should be set; Daily wins when both are.
	Interval time.Duration
	Daily    bool

	// Exporter, when set, gets the epoch snapshot before each reset.
	// Export failures are logged and counted but never block the reset.
	Exporter Exporter

	// OnReset runs after every reset (scheduled or manual), used for
	// incrementing prometheus counters
	OnReset func()

	// OnExport reports export outcomes, used for prometheus counters
	OnExport func(ok bool, elapsed time.Duration)

	// now is a test hook
	now func() time.Time
}

type Resetter struct {
	logger   log.Logger
	target   Target
	interval time.Duration
	daily    bool
	exporter Exporter
	onReset  func()
	onExport func(ok bool, elapsed time.Duration)
	now      func() time.Time

	mu         sync.Mutex
	resetCount int64
}

// NewResetter creates a Resetter. Call Run to start the schedule loop;
// ResetNow may be used independently for manual resets.
func NewResetter(opts ResetterOptions) *Resetter {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	target := opts.Target
	if target == nil {
		target = opts.Tracker
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}
	return &Resetter{
		logger:   opts.Logger,
		target:   target,
		interval: opts.Interval,
		daily:    opts.Daily,
		exporter: opts.Exporter,
		onReset:  opts.OnReset,
		onExport: opts.OnExport,
		now:      now,
	}
}

// Scheduled reports whether Run has anything to do.
func (r *Resetter) Scheduled() bool {
	return r.daily || r.interval > 0
}

// nextReset returns when the next scheduled reset should fire.
func (r *Resetter) nextReset(now time.Time) time.Time {
	if r.daily {
		next := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		return next
	}
	return now.Add(r.interval)
}

// Run blocks until ctx is cancelled, resetting the epoch on schedule.
// Intended to be launched as: go resetter.Run(ctx)
func (r *Resetter) Run(ctx context.Context) error {
	if !r.Scheduled() {
		r.logger.Info(ctx, "epoch resets disabled, counters accumulate until restart or manual reset")
		<-ctx.Done()
		return ctx.Err()
	}

	next := r.nextReset(r.now())
	r.logger.Info(ctx, "epoch resetter starting",
		"daily", r.daily,
		"interval", r.interval.String(),
		"next_reset", next.UTC().Format(time.RFC3339),
	)

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			resets := r.resetCount
			r.mu.Unlock()
			r.logger.Info(ctx, "epoch resetter stopping",
				"reason", ctx.Err(),
				"resets", resets,
			)
			return ctx.Err()
		case <-timer.C:
			if err := r.ResetNow(ctx); err != nil {
				// ResetNow only fails when the export fails, and the
				// reset has already happened by then
				r.logger.Warn(ctx, "scheduled epoch reset completed with export failure", "error", err)
			}
			next = r.nextReset(r.now())
			timer.Reset(time.Until(next))
		}
	}
}

// ResetNow exports the current epoch (when an exporter is configured)
// and resets the tracker. The reset always happens; the returned error
// reports an export failure only.
func (r *Resetter) ResetNow(ctx context.Context) error {
	var exportErr error

	if r.exporter != nil {
		doc := report.Document{
			EpochStart: r.target.EpochStart().UTC(),
			EpochEnd:   r.now().UTC(),
			Capacity:   r.target.Capacity(),
			Distinct:   r.target.Distinct(),
			Ranking:    r.target.Snapshot(),
		}
		started := r.now()
		exportErr = r.exporter.Export(ctx, doc)
		if r.onExport != nil {
			r.onExport(exportErr == nil, r.now().Sub(started))
		}
		if exportErr != nil {
			r.logger.Error(ctx, exportErr, "epoch report export failed, resetting anyway")
		}
	}

	old := r.target.EpochStart()
	distinct := r.target.Distinct()
	r.target.Reset()

	r.mu.Lock()
	r.resetCount++
	resets := r.resetCount
	r.mu.Unlock()

	if r.onReset != nil {
		r.onReset()
	}

	r.logger.Info(ctx, "epoch reset",
		"previous_epoch_start", old.UTC().Format(time.RFC3339),
		"previous_distinct", distinct,
		"resets", resets,
	)
	return exportErr
}
