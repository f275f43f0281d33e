// Package placeholder substitutes {date} and {archive_name} tokens in
// configuration strings (paths, commands, remote directories).
package placeholder

import (
	"strings"
	"time"

	"github.com/tis24dev/panbackup/internal/types"
)

const (
	// DateToken is replaced with the run date (YYYYMMDD).
	DateToken = "{date}"
	// ArchiveNameToken is replaced with the entry's archive base name.
	ArchiveNameToken = "{archive_name}"
)

// Context holds the values substituted into templates.
type Context struct {
	Date        string
	ArchiveName string
}

// NewContext builds a Context for the given run time and archive base name.
func NewContext(now time.Time, archiveName string) Context {
	return Context{
		Date:        now.Format(types.DateLayout),
		ArchiveName: archiveName,
	}
}

// Resolve replaces every known token in template. Unknown {tokens} are left verbatim.
func (c Context) Resolve(template string) string {
	if !strings.Contains(template, "{") {
		return template
	}
	r := strings.NewReplacer(
		DateToken, c.Date,
		ArchiveNameToken, c.ArchiveName,
	)
	return r.Replace(template)
}
