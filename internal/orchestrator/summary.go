package orchestrator

import (
	"fmt"
	"strings"

	"github.com/tis24dev/panbackup/internal/backup"
	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/metrics"
)

// SummaryLines renders the final report: a totals line, one line per
// failed entry and one line per backend outcome.
func (r *RunReport) SummaryLines() []string {
	failed := r.Failed()
	lines := []string{fmt.Sprintf("%d entries, %d succeeded, %d failed",
		len(r.Results), len(r.Results)-len(failed), len(failed))}

	for _, res := range failed {
		lines = append(lines, fmt.Sprintf("entry=%s stage=%s cause=%s", res.Entry, res.Stage.Label(), causeOf(res)))
	}
	for _, res := range r.Results {
		for _, u := range res.Uploads {
			status := "ok"
			if !u.Succeeded() {
				status = "failed"
			}
			line := fmt.Sprintf("entry=%s backend=%s result=%s", res.Entry, u.Backend, status)
			if u.Retried {
				line += " retried=true"
			}
			lines = append(lines, line)
		}
	}
	return lines
}

// causeOf returns the underlying cause without the stage prefix.
func causeOf(res RunResult) string {
	if res.Err == nil {
		return ""
	}
	if se, ok := res.Err.(*StageError); ok && se.Err != nil {
		return oneLine(se.Err.Error())
	}
	return oneLine(res.Err.Error())
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// LogSummary writes the summary through logger.
func (r *RunReport) LogSummary(logger *logging.Logger) {
	lines := r.SummaryLines()
	failed := r.Failed()
	took := backup.FormatDuration(r.FinishedAt.Sub(r.StartedAt))
	if len(failed) == 0 {
		logger.Info("Run %s finished in %s: %s", r.RunID, took, lines[0])
	} else {
		logger.Error("Run %s finished in %s: %s", r.RunID, took, lines[0])
	}

	rest := lines[1:]
	for _, line := range rest[:len(failed)] {
		logger.Error("%s", line)
	}
	for _, line := range rest[len(failed):] {
		if strings.Contains(line, "result=failed") {
			logger.Warning("%s", line)
		} else {
			logger.Info("%s", line)
		}
	}
}

// Metrics converts the report into the exported metrics snapshot.
func (r *RunReport) Metrics() *metrics.BackupMetrics {
	m := &metrics.BackupMetrics{
		RunID:     r.RunID,
		StartTime: r.StartedAt,
		EndTime:   r.FinishedAt,
		ExitCode:  r.ExitCode().Int(),
	}
	for _, res := range r.Results {
		em := metrics.EntryMetrics{
			Name:        res.Entry,
			Failed:      res.Failed(),
			Stage:       string(res.Stage),
			ArchiveSize: res.ArchiveSize,
			Duration:    res.Duration(),
			Uploads:     make(map[string]bool, len(res.Uploads)),
		}
		for _, u := range res.Uploads {
			em.Uploads[u.Backend.String()] = u.Succeeded()
		}
		m.Entries = append(m.Entries, em)
	}
	return m
}
