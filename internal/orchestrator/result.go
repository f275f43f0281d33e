package orchestrator

import (
	"fmt"
	"time"

	"github.com/tis24dev/panbackup/internal/types"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stage is a step of the entry pipeline.
type Stage string

const (
	StagePreparing  Stage = "preparing"
	StageArchiving  Stage = "archiving"
	StageUploading  Stage = "uploading"
	StageFinalizing Stage = "finalizing"
	StageDone       Stage = "done"
)

// Label returns the capitalized stage name used in reports.
func (s Stage) Label() string {
	// Casers keep state; one per call.
	return cases.Title(language.English).String(string(s))
}

// StageError records the stage at which an entry stopped.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// BackendOutcome is the result of one backend upload for one entry.
type BackendOutcome struct {
	Backend types.BackendName
	Err     error
	// Retried is true when the credential was invalidated and the upload repeated.
	Retried  bool
	Duration time.Duration
}

// Succeeded reports whether the upload went through.
func (o BackendOutcome) Succeeded() bool {
	return o.Err == nil
}

// RunResult is the final state of one entry.
type RunResult struct {
	Entry string
	// Stage is StageDone on success, otherwise the stage that failed.
	Stage       Stage
	Err         error
	ArchivePath string
	ArchiveSize int64
	ArchiveKept bool
	SourceKept  bool
	Uploads     []BackendOutcome
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Failed reports whether the entry ended in a failure state.
func (r RunResult) Failed() bool {
	return r.Err != nil
}

// Duration is the wall time spent on the entry.
func (r RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
