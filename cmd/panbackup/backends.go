package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/tis24dev/panbackup/internal/config"
	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/storage"
)

// buildBackends creates the enabled backends, Baidu first.
func buildBackends(logger *logging.Logger, cfg *config.Config, prompter storage.Prompter) ([]storage.Backend, error) {
	var backends []storage.Backend

	if cfg.App.BaiduIsEnabled() {
		b, err := storage.NewBaidu(logger.WithPrefix("[baidu] "), storage.BaiduConfig{
			AppKey:    cfg.App.BaiduKey(),
			AppSecret: cfg.App.BaiduSecret(),
			TokenFile: cfg.App.BaiduConfig,
			Prompter:  prompter,
		})
		if err != nil {
			return nil, fmt.Errorf("baidu backend: %w", err)
		}
		backends = append(backends, b)
	}

	if cfg.App.Cloud189Enabled {
		c, err := storage.NewCloud189(logger.WithPrefix("[cloud189] "), storage.Cloud189Config{
			Username:    cfg.App.Cloud189Username,
			Password:    cfg.App.Cloud189Password,
			UseQR:       cfg.App.Cloud189UseQR,
			SessionFile: cfg.App.Cloud189Config,
			Prompter:    prompter,
		})
		if err != nil {
			return nil, fmt.Errorf("cloud189 backend: %w", err)
		}
		backends = append(backends, c)
	}

	if len(backends) == 0 {
		logger.Warning("No upload backend enabled: archives will be created and kept locally")
	}
	return backends, nil
}

// describeConfig prints what a run would do, without secrets.
func describeConfig(w io.Writer, cfg *config.Config) {
	var enabled []string
	if cfg.App.BaiduIsEnabled() {
		enabled = append(enabled, "baidu")
	}
	if cfg.App.Cloud189Enabled {
		enabled = append(enabled, "cloud189")
	}
	if len(enabled) == 0 {
		enabled = append(enabled, "none")
	}

	fmt.Fprintf(w, "Configuration: %s\n", cfg.Path)
	fmt.Fprintf(w, "Backends: %s\n", strings.Join(enabled, ", "))
	fmt.Fprintf(w, "Concurrency: %d\n", cfg.App.Concurrency)
	fmt.Fprintf(w, "Entries: %d\n", len(cfg.Backups))
	for _, e := range cfg.Backups {
		src := e.Source()
		if e.HasCommand() {
			src += " (generated by command)"
		}
		fmt.Fprintf(w, "  - %s: %s -> %s\n", e.Identifier(), src, e.RemoteDir)
	}
}
