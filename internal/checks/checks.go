// Package checks runs the pre-run checks on the archive directory.
// Failures are reported as warnings: entries still run and fail on their own.
package checks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tis24dev/panbackup/internal/backup"
	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/safefs"
)

const defaultTimeout = 10 * time.Second

var (
	osMkdirAll     = os.MkdirAll
	osCreateTemp   = os.CreateTemp
	osRemove       = os.Remove
	availableBytes = safefs.AvailableBytes
)

// CheckerConfig holds configuration for pre-run checks
type CheckerConfig struct {
	ArchiveDir string
	// MinFreeGB is the free space expected in ArchiveDir; 0 disables the check.
	MinFreeGB float64
	Timeout   time.Duration
}

// CheckResult holds the result of a validation check
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Error   error
}

// Checker performs pre-run validation checks
type Checker struct {
	logger *logging.Logger
	config CheckerConfig
}

// NewChecker creates a new pre-run checker
func NewChecker(logger *logging.Logger, config CheckerConfig) *Checker {
	if config.ArchiveDir == "" {
		config.ArchiveDir = "."
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	return &Checker{logger: logger, config: config}
}

// RunAllChecks runs every check and logs failures as warnings.
// The directory must be usable before disk space can be measured.
func (c *Checker) RunAllChecks(ctx context.Context) []CheckResult {
	c.logger.Debug("Running pre-run checks on %s", c.config.ArchiveDir)

	dir := c.CheckArchiveDir(ctx)
	results := []CheckResult{dir}
	if dir.Passed {
		results = append(results, c.CheckDiskSpace(ctx))
	}

	for _, r := range results {
		if r.Passed {
			c.logger.Debug("%s: %s", r.Name, r.Message)
		} else {
			c.logger.Warning("%s: %s", r.Name, r.Message)
		}
	}
	return results
}

// CheckArchiveDir verifies the archive directory exists (creating it if
// needed) and is writable.
func (c *Checker) CheckArchiveDir(ctx context.Context) CheckResult {
	result := CheckResult{Name: "Archive directory"}
	dir := c.config.ArchiveDir

	if err := osMkdirAll(dir, 0o755); err != nil {
		result.Error = err
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return result
	}
	f, err := osCreateTemp(dir, ".panbackup-write-test-*")
	if err != nil {
		result.Error = err
		result.Message = fmt.Sprintf("%s is not writable: %v", dir, err)
		return result
	}
	name := f.Name()
	_ = f.Close()
	if err := osRemove(name); err != nil {
		c.logger.Debug("Could not remove %s: %v", filepath.Base(name), err)
	}

	result.Passed = true
	result.Message = fmt.Sprintf("%s is writable", dir)
	return result
}

// CheckDiskSpace compares the space available in the archive directory
// with MinFreeGB.
func (c *Checker) CheckDiskSpace(ctx context.Context) CheckResult {
	result := CheckResult{Name: "Disk space"}

	avail, err := availableBytes(ctx, c.config.ArchiveDir, c.config.Timeout)
	if err != nil {
		result.Error = err
		result.Message = fmt.Sprintf("cannot measure free space on %s: %v", c.config.ArchiveDir, err)
		return result
	}

	human := backup.FormatBytes(int64(avail))
	if c.config.MinFreeGB > 0 {
		availGB := float64(avail) / (1024 * 1024 * 1024)
		if availGB < c.config.MinFreeGB {
			result.Message = fmt.Sprintf("%s available on %s, %.2f GB expected", human, c.config.ArchiveDir, c.config.MinFreeGB)
			return result
		}
	}

	result.Passed = true
	result.Message = fmt.Sprintf("%s available on %s", human, c.config.ArchiveDir)
	return result
}
