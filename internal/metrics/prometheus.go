// Package metrics exports the outcome of a run in Prometheus textfile format
// for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tis24dev/panbackup/internal/logging"
)

// TextfileName is the file written into the textfile directory.
const TextfileName = "panbackup.prom"

// BackupMetrics is the snapshot of a run exported as Prometheus metrics.
type BackupMetrics struct {
	RunID     string
	StartTime time.Time
	EndTime   time.Time
	ExitCode  int
	Entries   []EntryMetrics
}

// EntryMetrics describes one backup entry.
type EntryMetrics struct {
	Name        string
	Failed      bool
	Stage       string
	ArchiveSize int64
	Duration    time.Duration
	// Uploads maps backend name to upload success.
	Uploads map[string]bool
}

// PrometheusExporter writes backup metrics in Prometheus textfile format for node_exporter.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

// NewPrometheusExporter creates a new PrometheusExporter using the provided directory.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

// Export writes the given metrics snapshot to panbackup.prom in textfileDir.
func (pe *PrometheusExporter) Export(m *BackupMetrics) error {
	if pe == nil || m == nil {
		return nil
	}
	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}
	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	reg := prometheus.NewRegistry()
	if err := register(reg, m); err != nil {
		return fmt.Errorf("build metrics: %w", err)
	}

	finalPath := filepath.Join(pe.textfileDir, TextfileName)
	if err := prometheus.WriteToTextfile(finalPath, reg); err != nil {
		return fmt.Errorf("write metrics file %s: %w", finalPath, err)
	}
	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics exported to %s", finalPath)
	}
	return nil
}

func gauge(name, help string, value float64) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	g.Set(value)
	return g
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func register(reg *prometheus.Registry, m *BackupMetrics) error {
	end := m.EndTime
	if end.IsZero() {
		end = m.StartTime
	}
	failed := 0
	for _, e := range m.Entries {
		if e.Failed {
			failed++
		}
	}

	collectors := []prometheus.Collector{
		gauge("panbackup_start_time_seconds", "Unix timestamp of run start", float64(m.StartTime.Unix())),
		gauge("panbackup_end_time_seconds", "Unix timestamp of run end", float64(end.Unix())),
		gauge("panbackup_duration_seconds", "Duration of last run in seconds", end.Sub(m.StartTime).Seconds()),
		gauge("panbackup_exit_code", "Exit code of last run", float64(m.ExitCode)),
		gauge("panbackup_entries_total", "Number of configured backup entries", float64(len(m.Entries))),
		gauge("panbackup_entries_failed_total", "Number of entries that failed in last run", float64(failed)),
	}

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "panbackup_run_info",
		Help: "Identifier of the last run",
	}, []string{"run_id"})
	info.WithLabelValues(m.RunID).Set(1)

	success := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "panbackup_entry_success",
		Help: "1 when the entry completed, 0 when it failed",
	}, []string{"entry", "stage"})
	size := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "panbackup_entry_archive_size_bytes",
		Help: "Size of the archive produced for the entry",
	}, []string{"entry"})
	duration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "panbackup_entry_duration_seconds",
		Help: "Wall time spent on the entry",
	}, []string{"entry"})
	uploads := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "panbackup_upload_success",
		Help: "1 when the archive reached the backend, 0 otherwise",
	}, []string{"entry", "backend"})

	for _, e := range m.Entries {
		success.WithLabelValues(e.Name, e.Stage).Set(boolValue(!e.Failed))
		if e.ArchiveSize > 0 {
			size.WithLabelValues(e.Name).Set(float64(e.ArchiveSize))
		}
		duration.WithLabelValues(e.Name).Set(e.Duration.Seconds())
		for backend, ok := range e.Uploads {
			uploads.WithLabelValues(e.Name, backend).Set(boolValue(ok))
		}
	}

	collectors = append(collectors, info, success, size, duration, uploads)
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
