package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/safefs"
)

// sourceStatTimeout bounds the initial stat of a source on a hung network mount.
const sourceStatTimeout = 30 * time.Second

// ArchiveError reports a failure while building an archive.
type ArchiveError struct {
	Op   string
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("archive %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("archive %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// ArchiverConfig holds configuration for archive creation
type ArchiverConfig struct {
	Level       zstd.EncoderLevel
	Concurrency int
}

// GetDefaultArchiverConfig returns the settings used for backups: best ratio, all cores.
func GetDefaultArchiverConfig() *ArchiverConfig {
	return &ArchiverConfig{Level: zstd.SpeedBestCompression}
}

// Archiver packages a file or directory into a .tar.zst archive.
type Archiver struct {
	logger      *logging.Logger
	level       zstd.EncoderLevel
	concurrency int
}

// Result describes a finished archive.
type Result struct {
	Path     string
	Size     int64
	SHA256   string
	Duration time.Duration
}

// NewArchiver creates a new archiver
func NewArchiver(logger *logging.Logger, config *ArchiverConfig) *Archiver {
	if config == nil {
		config = GetDefaultArchiverConfig()
	}
	level := config.Level
	if level == 0 {
		level = zstd.SpeedBestCompression
	}
	return &Archiver{
		logger:      logger,
		level:       level,
		concurrency: config.Concurrency,
	}
}

// CreateArchive archives source into outputDir under a collision-free
// name derived from baseName and date. Entries inside the tar are rooted
// at the source's own base name.
func (a *Archiver) CreateArchive(ctx context.Context, source, outputDir, baseName string, date time.Time) (*Result, error) {
	start := time.Now()

	info, err := safefs.Stat(ctx, source, sourceStatTimeout)
	if err != nil {
		return nil, &ArchiveError{Op: "stat source", Path: source, Err: err}
	}
	if !info.Mode().IsDir() && !info.Mode().IsRegular() {
		return nil, &ArchiveError{Op: "stat source", Path: source, Err: errors.New("not a regular file or directory")}
	}

	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, &ArchiveError{Op: "prepare output directory", Path: outputDir, Err: err}
	}

	file, outputPath, err := ReserveArchivePath(outputDir, baseName, date)
	if err != nil {
		return nil, &ArchiveError{Op: "reserve name", Path: outputDir, Err: err}
	}
	a.logger.Debug("Creating zstd archive %s (level %s)", outputPath, a.level.String())

	// The output may live inside the source; it must not archive itself.
	self, err := file.Stat()
	if err != nil {
		_ = file.Close()
		_ = os.Remove(outputPath)
		return nil, &ArchiveError{Op: "stat archive", Path: outputPath, Err: err}
	}

	if err := a.writeArchive(ctx, file, source, self); err != nil {
		_ = file.Close()
		if rmErr := os.Remove(outputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			a.logger.Warning("Failed to remove incomplete archive %s: %v", outputPath, rmErr)
		}
		return nil, err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(outputPath)
		return nil, &ArchiveError{Op: "close", Path: outputPath, Err: err}
	}

	absPath, err := filepath.Abs(outputPath)
	if err != nil {
		absPath = outputPath
	}
	size, err := GetArchiveSize(absPath)
	if err != nil {
		return nil, &ArchiveError{Op: "stat archive", Path: absPath, Err: err}
	}
	checksum, err := GenerateChecksum(ctx, a.logger, absPath)
	if err != nil {
		return nil, &ArchiveError{Op: "checksum", Path: absPath, Err: err}
	}

	result := &Result{Path: absPath, Size: size, SHA256: checksum, Duration: time.Since(start)}
	a.logger.Info("Archive created: %s (%s in %s)", filepath.Base(absPath), FormatBytes(size), FormatDuration(result.Duration))
	return result, nil
}

func (a *Archiver) writeArchive(ctx context.Context, w io.Writer, source string, skip os.FileInfo) error {
	opts := []zstd.EOption{zstd.WithEncoderLevel(a.level)}
	if a.concurrency > 0 {
		opts = append(opts, zstd.WithEncoderConcurrency(a.concurrency))
	}
	encoder, err := zstd.NewWriter(w, opts...)
	if err != nil {
		return &ArchiveError{Op: "init zstd", Err: err}
	}

	tarWriter := tar.NewWriter(encoder)
	if err := a.addToTar(ctx, tarWriter, source, entryRoot(source), skip); err != nil {
		_ = tarWriter.Close()
		_ = encoder.Close()
		var archiveErr *ArchiveError
		if errors.As(err, &archiveErr) {
			return err
		}
		return &ArchiveError{Op: "write", Path: source, Err: err}
	}
	if err := tarWriter.Close(); err != nil {
		_ = encoder.Close()
		return &ArchiveError{Op: "finalize tar", Path: source, Err: err}
	}
	if err := encoder.Close(); err != nil {
		return &ArchiveError{Op: "finalize zstd", Path: source, Err: err}
	}
	return nil
}

// entryRoot is the top-level name used inside the archive.
func entryRoot(source string) string {
	base := filepath.Base(filepath.Clean(source))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "backup"
	}
	return base
}

// addToTar walks source and writes every entry under baseInArchive.
// A single file becomes one entry named baseInArchive. The file skip
// refers to, if any, is left out.
func (a *Archiver) addToTar(ctx context.Context, tarWriter *tar.Writer, source, baseInArchive string, skip os.FileInfo) error {
	return filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return &ArchiveError{Op: "read source", Path: path, Err: err}
		}

		relPath, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		archivePath := baseInArchive
		if relPath != "." {
			archivePath = filepath.Join(baseInArchive, relPath)
		}

		// Lstat keeps symlinks as links instead of following them
		linkInfo, err := os.Lstat(path)
		if err != nil {
			return &ArchiveError{Op: "read source", Path: path, Err: err}
		}

		if skip != nil && os.SameFile(linkInfo, skip) {
			a.logger.Debug("Skipping archive being written: %s", path)
			return nil
		}

		var linkTarget string
		if linkInfo.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return &ArchiveError{Op: "read symlink", Path: path, Err: err}
			}
		}

		header, err := tar.FileInfoHeader(linkInfo, linkTarget)
		if err != nil {
			a.logger.Warning("Skipping %s: %v", path, err)
			return nil
		}
		header.Format = tar.FormatPAX
		header.Name = filepath.ToSlash(archivePath)
		if linkInfo.IsDir() && !strings.HasSuffix(header.Name, "/") {
			header.Name += "/"
		}

		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}

		if linkInfo.Mode().IsRegular() {
			if err := copyFile(tarWriter, path); err != nil {
				return &ArchiveError{Op: "read source", Path: path, Err: err}
			}
			a.logger.Debug("Added file to archive: %s", header.Name)
		} else if linkTarget != "" {
			a.logger.Debug("Added symlink to archive: %s -> %s", header.Name, linkTarget)
		}
		return nil
	})
}

func copyFile(w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return err
}

// GetArchiveSize returns the size of the archive in bytes.
func GetArchiveSize(archivePath string) (int64, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to stat archive: %w", err)
	}
	return info.Size(), nil
}

// FormatDuration formats a duration for log lines
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// FormatBytes formats bytes in human-readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
