package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tis24dev/panbackup/internal/types"
)

// maxNameAttempts bounds the suffix search; reaching it means the
// directory is pathological or not writable.
const maxNameAttempts = 10000

// ArchiveFileName returns "{base}-{YYYYMMDD}.tar.zst", or with "-{n}" before
// the extension when n > 0.
func ArchiveFileName(base string, date time.Time, n int) string {
	stem := fmt.Sprintf("%s-%s", base, date.Format(types.DateLayout))
	if n > 0 {
		stem = fmt.Sprintf("%s-%d", stem, n)
	}
	return stem + types.ArchiveExtension
}

// ReserveArchivePath creates and opens the first free archive name in dir.
// The file is created with O_EXCL so an existing archive is never
// overwritten, even by a concurrent process.
func ReserveArchivePath(dir, base string, date time.Time) (*os.File, string, error) {
	for n := 0; n < maxNameAttempts; n++ {
		path := filepath.Join(dir, ArchiveFileName(base, date, n))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err == nil {
			return file, path, nil
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}
		return nil, "", err
	}
	return nil, "", fmt.Errorf("no free archive name for %s after %d attempts", base, maxNameAttempts)
}
