package main

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tis24dev/panbackup/internal/cli"
	"github.com/tis24dev/panbackup/internal/config"
	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/types"
)

func boolPtr(b bool) *bool { return &b }

func testLogger() *logging.Logger {
	logger := logging.New(types.LogLevelError, false)
	logger.SetOutput(io.Discard)
	return logger
}

func TestResolveLogLevel(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{LogLevel: "warning"}}

	if got := resolveLogLevel(&cli.Args{}, cfg); got != types.LogLevelWarning {
		t.Fatalf("config level: got %v", got)
	}
	if got := resolveLogLevel(&cli.Args{LogLevel: types.LogLevelDebug, LogLevelSet: true}, cfg); got != types.LogLevelDebug {
		t.Fatalf("flag level: got %v", got)
	}
	if got := resolveLogLevel(&cli.Args{}, &config.Config{}); got != types.LogLevelInfo {
		t.Fatalf("default level: got %v", got)
	}
}

func TestBuildBackendsOrder(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{App: config.AppConfig{
		BaiduEnabled:     boolPtr(true),
		BaiduAppKey:      "key",
		BaiduAppSecret:   "secret",
		BaiduConfig:      filepath.Join(dir, "baidu.json"),
		Cloud189Enabled:  true,
		Cloud189Username: "user",
		Cloud189Password: "pass",
		Cloud189Config:   filepath.Join(dir, "cloud189.json"),
	}}

	backends, err := buildBackends(testLogger(), cfg, nil)
	if err != nil {
		t.Fatalf("buildBackends error: %v", err)
	}
	if len(backends) != 2 || backends[0].Name() != types.BackendBaidu || backends[1].Name() != types.BackendCloud189 {
		t.Fatalf("backends = %v", backends)
	}
}

func TestBuildBackendsNoneEnabled(t *testing.T) {
	backends, err := buildBackends(testLogger(), &config.Config{}, nil)
	if err != nil || len(backends) != 0 {
		t.Fatalf("backends=%v err=%v", backends, err)
	}
}

func TestDescribeConfigOmitsSecrets(t *testing.T) {
	cfg := &config.Config{
		Path: "backup.toml",
		App: config.AppConfig{
			Cloud189Enabled:  true,
			Cloud189Password: "hunter2",
			Concurrency:      2,
		},
		Backups: []config.BackupEntry{{
			Name:       "db",
			SourcePath: "/tmp/db.sql",
			Command:    "pg_dump --password=hunter2 > /tmp/db.sql",
			RemoteDir:  "/backups",
		}},
	}

	var buf bytes.Buffer
	describeConfig(&buf, cfg)
	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Fatalf("secret leaked:\n%s", out)
	}
	for _, want := range []string{"Backends: cloud189", "Concurrency: 2", "db: /tmp/db.sql (generated by command) -> /backups"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestPrintFinalSummary(t *testing.T) {
	var buf bytes.Buffer
	printFinalSummary(&buf, testLogger(), types.ExitBackupError)
	if !strings.Contains(buf.String(), "exit 4 (backup error)") {
		t.Fatalf("summary = %q", buf.String())
	}
	if strings.Contains(buf.String(), "\033[") {
		t.Fatalf("colors used without a color logger: %q", buf.String())
	}
}

func TestPrintFinalSummaryColors(t *testing.T) {
	colorLogger := func() *logging.Logger {
		logger := logging.New(types.LogLevelDebug, true)
		logger.SetOutput(io.Discard)
		return logger
	}

	clean := colorLogger()
	withError := colorLogger()
	withError.Error("cleanup failed")

	tests := []struct {
		name   string
		logger *logging.Logger
		code   types.ExitCode
		color  string
	}{
		{"success", clean, types.ExitSuccess, "\033[32m"},
		{"success with logged errors", withError, types.ExitSuccess, "\033[33m"},
		{"failure", clean, types.ExitBackupError, "\033[31m"},
		{"interrupted", clean, types.ExitInterrupted, "\033[35m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printFinalSummary(&buf, tt.logger, tt.code)
			if !strings.Contains(buf.String(), tt.color) {
				t.Fatalf("expected color %q in %q", tt.color, buf.String())
			}
		})
	}
}
