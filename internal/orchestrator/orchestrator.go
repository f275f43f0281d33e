// Package orchestrator runs the backup entry pipelines and aggregates their results.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tis24dev/panbackup/internal/config"
	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/storage"
	"github.com/tis24dev/panbackup/internal/types"
	"golang.org/x/sync/errgroup"
)

// Orchestrator runs every configured entry. Entries are independent: a
// failing entry never stops the others.
type Orchestrator struct {
	logger   *logging.Logger
	cfg      *config.Config
	backends []storage.Backend
	deps     Deps
}

// New creates an Orchestrator with production dependencies. backends must be
// ordered Baidu first, then Cloud189; disabled backends are simply absent.
func New(logger *logging.Logger, cfg *config.Config, backends []storage.Backend) *Orchestrator {
	return NewWithDeps(Deps{Logger: logger}, cfg, backends)
}

// NewWithDeps creates an Orchestrator using the provided dependencies.
func NewWithDeps(deps Deps, cfg *config.Config, backends []storage.Backend) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logging.GetDefaultLogger()
	}
	return &Orchestrator{
		logger:   deps.Logger,
		cfg:      cfg,
		backends: backends,
		deps:     deps.fill(),
	}
}

// entryUses reports whether the entry opted into backend b.
func (o *Orchestrator) entryUses(entry config.BackupEntry, b storage.Backend) bool {
	switch b.Name() {
	case types.BackendBaidu:
		return entry.UsesBaidu()
	case types.BackendCloud189:
		return entry.UsesCloud189()
	default:
		return true
	}
}

// Run executes all entries with at most app.concurrency running at once
// and returns one result per entry, in configuration order. Cancelling ctx
// lets running stages finish; entries that have not started yet fail.
func (o *Orchestrator) Run(ctx context.Context) *RunReport {
	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: o.deps.Time.Now(),
		Results:   make([]RunResult, len(o.cfg.Backups)),
	}

	limit := o.cfg.App.Concurrency
	if limit < 1 {
		limit = 1
	}
	o.logger.Info("Run %s: %d entries, concurrency %d", report.RunID, len(o.cfg.Backups), limit)

	var g errgroup.Group
	g.SetLimit(limit)
	for i, entry := range o.cfg.Backups {
		i, entry := i, entry
		g.Go(func() error {
			report.Results[i] = o.runEntry(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = o.deps.Time.Now()
	report.Interrupted = ctx.Err() != nil
	return report
}

// RunReport aggregates the outcome of a run.
type RunReport struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Results     []RunResult
	Interrupted bool
}

// Failed returns the results of failed entries.
func (r *RunReport) Failed() []RunResult {
	var out []RunResult
	for _, res := range r.Results {
		if res.Failed() {
			out = append(out, res)
		}
	}
	return out
}

// ExitCode maps the aggregate outcome to the process exit status. It is
// non-zero only when at least one entry failed.
func (r *RunReport) ExitCode() types.ExitCode {
	switch {
	case len(r.Failed()) == 0:
		return types.ExitSuccess
	case r.Interrupted:
		return types.ExitInterrupted
	default:
		return types.ExitBackupError
	}
}
