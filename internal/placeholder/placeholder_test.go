package placeholder

import (
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	ctx := Context{Date: "20240131", ArchiveName: "db"}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"no placeholder", "/apps/backup/db", "/apps/backup/db"},
		{"date", "/apps/backup/{date}", "/apps/backup/20240131"},
		{"archive name", "/tmp/{archive_name}.sql", "/tmp/db.sql"},
		{"both repeated", "{archive_name}-{date}/{archive_name}-{date}", "db-20240131/db-20240131"},
		{"unknown kept", "/x/{host}/{date}", "/x/{host}/20240131"},
		{"unbalanced brace", "/x/{date", "/x/{date"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ctx.Resolve(tt.template); got != tt.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	ctx := Context{Date: "20240131", ArchiveName: "db"}
	once := ctx.Resolve("/apps/{archive_name}/{date}/{other}")
	if twice := ctx.Resolve(once); twice != once {
		t.Fatalf("second resolve changed output: %q -> %q", once, twice)
	}
}

func TestNewContextUsesLocalDateLayout(t *testing.T) {
	now := time.Date(2023, time.March, 7, 23, 59, 0, 0, time.Local)
	ctx := NewContext(now, "site")
	if ctx.Date != "20230307" {
		t.Fatalf("Date = %q, want 20230307", ctx.Date)
	}
	if ctx.ArchiveName != "site" {
		t.Fatalf("ArchiveName = %q", ctx.ArchiveName)
	}
}
