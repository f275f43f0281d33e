package orchestrator

import (
	"context"
	"os"
	"time"

	"github.com/tis24dev/panbackup/internal/backup"
	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/source"
)

// FS abstracts the filesystem operations of the finalizing stage.
type FS interface {
	Stat(path string) (os.FileInfo, error)
	Remove(path string) error
	RemoveAll(path string) error
}

// TimeProvider abstracts time acquisition for determinism in tests.
type TimeProvider interface {
	Now() time.Time
}

// SourcePreparer runs the optional source command.
type SourcePreparer interface {
	Prepare(ctx context.Context, req source.Request) (source.Prepared, error)
}

// ArchiveBuilder creates the compressed archive of a prepared source.
type ArchiveBuilder interface {
	CreateArchive(ctx context.Context, src, outputDir, baseName string, date time.Time) (*backup.Result, error)
}

// Deps groups optional orchestrator dependencies.
type Deps struct {
	Logger   *logging.Logger
	FS       FS
	Time     TimeProvider
	Preparer SourcePreparer
	Archiver ArchiveBuilder
}

type osFS struct{}

func (osFS) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }
func (osFS) Remove(path string) error              { return os.Remove(path) }
func (osFS) RemoveAll(path string) error           { return os.RemoveAll(path) }

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now() }

func defaultDeps(logger *logging.Logger) Deps {
	return Deps{
		Logger:   logger,
		FS:       osFS{},
		Time:     realTimeProvider{},
		Preparer: source.NewPreparer(logger, nil),
		Archiver: backup.NewArchiver(logger, backup.GetDefaultArchiverConfig()),
	}
}

// fill replaces missing dependencies with the production ones.
func (d Deps) fill() Deps {
	def := defaultDeps(d.Logger)
	if d.FS == nil {
		d.FS = def.FS
	}
	if d.Time == nil {
		d.Time = def.Time
	}
	if d.Preparer == nil {
		d.Preparer = def.Preparer
	}
	if d.Archiver == nil {
		d.Archiver = def.Archiver
	}
	return d
}
