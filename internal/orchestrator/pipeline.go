package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tis24dev/panbackup/internal/backup"
	"github.com/tis24dev/panbackup/internal/config"
	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/placeholder"
	"github.com/tis24dev/panbackup/internal/source"
	"github.com/tis24dev/panbackup/internal/storage"
)

// plan is an entry with every placeholder resolved.
type plan struct {
	name              string
	baseName          string
	command           string
	workdir           string
	sourcePath        string
	remoteDir         string
	keepArchive       bool
	keepCommandSource bool
	backends          []storage.Backend
}

func (o *Orchestrator) resolve(entry config.BackupEntry, now time.Time) plan {
	base := strings.TrimSpace(placeholder.NewContext(now, "").Resolve(entry.BaseName()))
	if base == "" {
		base = config.DefaultArchiveName
	}
	pctx := placeholder.NewContext(now, base)

	p := plan{
		name:              entry.Identifier(),
		baseName:          base,
		command:           pctx.Resolve(entry.Command),
		workdir:           pctx.Resolve(strings.TrimSpace(entry.CommandWorkdir)),
		sourcePath:        pctx.Resolve(entry.Source()),
		remoteDir:         pctx.Resolve(strings.TrimSpace(entry.RemoteDir)),
		keepArchive:       entry.KeepsArchive(),
		keepCommandSource: entry.KeepsCommandSource(),
	}
	for _, b := range o.backends {
		if o.entryUses(entry, b) {
			p.backends = append(p.backends, b)
		}
	}
	return p
}

// pipeline carries the state of one entry through its stages.
type pipeline struct {
	o      *Orchestrator
	logger *logging.Logger
	plan   plan
	date   time.Time
	stage  Stage

	prepared source.Prepared
	archive  *backup.Result
	result   RunResult
}

// runEntry drives one entry through Preparing, Archiving, Uploading and
// Finalizing. It never returns an error: failures are recorded in the result.
func (o *Orchestrator) runEntry(ctx context.Context, entry config.BackupEntry) (result RunResult) {
	now := o.deps.Time.Now()
	p := &pipeline{
		o:     o,
		plan:  o.resolve(entry, now),
		date:  now,
		stage: StagePreparing,
	}
	p.logger = o.logger.WithPrefix(fmt.Sprintf("[entry %s] ", p.plan.name))
	p.result = RunResult{Entry: p.plan.name, StartedAt: now}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Critical("Entry panicked: %v", r)
			p.fail(p.stage, fmt.Errorf("panic: %v", r))
			p.result.FinishedAt = o.deps.Time.Now()
			result = p.result
		}
	}()

	// Stages run to completion once started; cancellation is honoured between them.
	stageCtx := context.WithoutCancel(ctx)

	if p.run(ctx, StagePreparing, func() error { return p.prepare(stageCtx) }) &&
		p.run(ctx, StageArchiving, func() error { return p.buildArchive(stageCtx) }) {
		p.run(ctx, StageUploading, func() error { return p.upload(ctx, stageCtx) })
	}

	p.stage = StageFinalizing
	p.finalize()

	p.result.FinishedAt = o.deps.Time.Now()
	if p.result.Err == nil {
		p.result.Stage = StageDone
		p.logger.Info("Entry completed in %s", backup.FormatDuration(p.result.Duration()))
	} else {
		p.logger.Error("Entry failed at %s: %v", p.result.Stage, p.result.Err)
	}
	return p.result
}

// run executes a stage unless the run was cancelled, and records its failure.
func (p *pipeline) run(ctx context.Context, stage Stage, fn func() error) bool {
	if err := ctx.Err(); err != nil {
		p.fail(stage, err)
		return false
	}
	p.stage = stage
	p.logger.Debug("Stage %s", stage)
	if err := p.call(fn); err != nil {
		p.fail(stage, err)
		return false
	}
	return true
}

// call turns a panic inside a stage into an error so finalizing still runs.
func (p *pipeline) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Critical("Stage %s panicked: %v", p.stage, r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (p *pipeline) fail(stage Stage, err error) {
	if p.result.Err != nil {
		return
	}
	p.result.Stage = stage
	p.result.Err = &StageError{Stage: stage, Err: err}
}

func (p *pipeline) prepare(ctx context.Context) error {
	prepared, err := p.o.deps.Preparer.Prepare(ctx, source.Request{
		Command:           p.plan.command,
		Workdir:           p.plan.workdir,
		SourcePath:        p.plan.sourcePath,
		KeepCommandSource: p.plan.keepCommandSource,
	})
	p.prepared = prepared
	return err
}

func (p *pipeline) buildArchive(ctx context.Context) error {
	p.logger.Step("Archiving %s", p.prepared.Path)
	res, err := p.o.deps.Archiver.CreateArchive(ctx, p.prepared.Path, p.o.cfg.App.ArchiveDir, p.plan.baseName, p.date)
	if err != nil {
		return err
	}
	p.archive = res
	p.result.ArchivePath = res.Path
	p.result.ArchiveSize = res.Size
	p.logger.Debug("Archive sha256=%s size=%d", res.SHA256, res.Size)
	return nil
}

// upload tries every enabled backend, in order, independently of each
// other. An authentication rejection triggers exactly one
// invalidate-and-retry per backend.
func (p *pipeline) upload(runCtx, ctx context.Context) error {
	if len(p.plan.backends) == 0 {
		p.logger.Skip("No upload backend enabled for this entry")
		return nil
	}

	var errs []error
	for _, b := range p.plan.backends {
		if err := runCtx.Err(); err != nil {
			p.result.Uploads = append(p.result.Uploads, BackendOutcome{Backend: b.Name(), Err: err})
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		outcome := p.uploadTo(ctx, b)
		p.result.Uploads = append(p.result.Uploads, outcome)
		if outcome.Err != nil {
			p.logger.Warning("Upload to %s failed: %v", b.Name(), outcome.Err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), outcome.Err))
		}
	}
	return errors.Join(errs...)
}

func (p *pipeline) uploadTo(ctx context.Context, b storage.Backend) BackendOutcome {
	start := time.Now()
	outcome := BackendOutcome{Backend: b.Name()}

	p.logger.Step("Uploading to %s:%s", b.Name(), p.plan.remoteDir)
	err := b.Upload(ctx, p.archive.Path, p.plan.remoteDir)
	if errors.Is(err, storage.ErrAuthRejected) && !errors.Is(err, storage.ErrInteractionRequired) {
		p.logger.Warning("%s rejected the credential, re-authenticating once", b.Name())
		b.Invalidate(err)
		outcome.Retried = true
		err = b.Upload(ctx, p.archive.Path, p.plan.remoteDir)
	}
	outcome.Err = err
	outcome.Duration = time.Since(start)
	return outcome
}

// finalize applies retention. Deletions are best-effort and never change
// the entry's outcome.
func (p *pipeline) finalize() {
	if p.archive != nil {
		p.result.ArchiveKept = true
		switch {
		case p.plan.keepArchive:
			p.logger.Info("Keeping archive %s", p.archive.Path)
		case !p.allUploadsSucceeded():
			p.logger.Warning("Keeping archive %s because not every upload succeeded", p.archive.Path)
		default:
			if err := p.o.deps.FS.Remove(p.archive.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				p.logger.Warning("Failed to delete archive %s: %v", p.archive.Path, err)
			} else {
				p.result.ArchiveKept = false
				p.logger.Debug("Deleted archive %s", p.archive.Path)
			}
		}
	}

	if !p.prepared.Generated {
		return
	}
	p.result.SourceKept = true
	if !p.prepared.Cleanup {
		return
	}
	if _, err := p.o.deps.FS.Stat(p.prepared.Path); errors.Is(err, os.ErrNotExist) {
		p.result.SourceKept = false
		return
	}
	if err := p.o.deps.FS.RemoveAll(p.prepared.Path); err != nil {
		p.logger.Warning("Failed to delete command output %s: %v", p.prepared.Path, err)
		return
	}
	p.result.SourceKept = false
	p.logger.Debug("Deleted command output %s", p.prepared.Path)
}

// allUploadsSucceeded is false when nothing was uploaded: an archive that
// exists nowhere else is never deleted.
func (p *pipeline) allUploadsSucceeded() bool {
	if len(p.plan.backends) == 0 || len(p.result.Uploads) != len(p.plan.backends) {
		return false
	}
	for _, u := range p.result.Uploads {
		if !u.Succeeded() {
			return false
		}
	}
	return true
}
