// Package config loads the TOML configuration describing the upload backends
// and the list of backup entries.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultConfigPath is used when no positional argument is given.
	DefaultConfigPath = "backup.toml"

	// DefaultArchiveName is used when archive_name is empty, also after
	// placeholder resolution.
	DefaultArchiveName = "backup"
	defaultConcurrency = 1
)

// Config is the whole configuration file.
type Config struct {
	App     AppConfig     `toml:"app"`
	Backups []BackupEntry `toml:"backups" validate:"dive"`

	// Path is the file the configuration was loaded from.
	Path string `toml:"-"`
}

// AppConfig contains per-application settings.
type AppConfig struct {
	// Baidu (token-based backend). app_key/app_secret are the legacy names.
	BaiduEnabled   *bool  `toml:"baidu_enabled"`
	BaiduAppKey    string `toml:"baidu_app_key"`
	BaiduAppSecret string `toml:"baidu_app_secret"`
	AppKey         string `toml:"app_key"`
	AppSecret      string `toml:"app_secret"`
	BaiduConfig    string `toml:"baidu_config"`

	// Cloud189 (session-based backend).
	Cloud189Enabled  bool   `toml:"cloud189_enabled"`
	Cloud189Username string `toml:"cloud189_username"`
	Cloud189Password string `toml:"cloud189_password"`
	Cloud189UseQR    bool   `toml:"cloud189_use_qr"`
	Cloud189Config   string `toml:"cloud189_config"`

	ArchiveDir     string  `toml:"archive_dir"`
	MinFreeSpaceGB float64 `toml:"min_free_space_gb" validate:"gte=0"`
	Concurrency    int     `toml:"concurrency" validate:"gte=1,lte=16"`
	LogLevel       string  `toml:"log_level" validate:"omitempty,oneof=debug info warning warn error critical none"`
	LogFile        string  `toml:"log_file"`
	MetricsDir     string  `toml:"metrics_dir"`
}

// BackupEntry is one configured backup target.
type BackupEntry struct {
	Name              string `toml:"name"`
	SourceDir         string `toml:"source_dir"`
	SourcePath        string `toml:"source_path" validate:"required_without=SourceDir"`
	Command           string `toml:"command"`
	CommandWorkdir    string `toml:"command_workdir"`
	KeepCommandSource *bool  `toml:"keep_command_source"`
	RemoteDir         string `toml:"remote_dir" validate:"required"`
	ArchiveName       string `toml:"archive_name"`
	KeepArchive       *bool  `toml:"keep_archive"`

	// Per-entry opt-out of an enabled backend (default: use it).
	Baidu    *bool `toml:"baidu"`
	Cloud189 *bool `toml:"cloud189"`
}

// ConfigError is a fatal configuration problem detected before any entry runs.
type ConfigError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Field != "" {
		b.WriteString(" (" + e.Field + ")")
	}
	b.WriteString(": " + e.Msg)
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads, parses, applies environment overrides and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Msg: "failed to read config file " + path, Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML data. Unknown keys are rejected so typos do not silently
// disable a setting.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, &ConfigError{Msg: "unknown keys in config file", Err: errors.New(strict.String())}
		}
		var decErr *toml.DecodeError
		if errors.As(err, &decErr) {
			row, col := decErr.Position()
			return nil, &ConfigError{Msg: fmt.Sprintf("failed to parse config file at line %d column %d", row, col), Err: err}
		}
		return nil, &ConfigError{Msg: "failed to parse config file", Err: err}
	}
	return cfg, nil
}

// ApplyEnv applies CLOUD189_USERNAME, CLOUD189_PASSWORD and CLOUD189_USE_QR overrides.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("CLOUD189_USERNAME")); v != "" {
		c.App.Cloud189Username = v
	}
	if v := getenv("CLOUD189_PASSWORD"); v != "" {
		c.App.Cloud189Password = v
	}
	if v := strings.TrimSpace(getenv("CLOUD189_USE_QR")); v != "" {
		c.App.Cloud189UseQR = v == "1" || strings.EqualFold(v, "true")
	}
}

// OverrideConcurrency replaces app.concurrency (the -jobs flag) and checks
// the result against the same bounds as the file value.
func (c *Config) OverrideConcurrency(n int) error {
	c.App.Concurrency = n
	return Validate(c)
}

func (c *Config) applyDefaults() error {
	if c.App.Concurrency == 0 {
		c.App.Concurrency = defaultConcurrency
	}
	home, homeErr := os.UserHomeDir()
	defaultUnderHome := func(parts ...string) (string, error) {
		if homeErr != nil {
			return "", &ConfigError{Field: "app", Msg: "cannot determine home directory for default credential path", Err: homeErr}
		}
		return filepath.Join(append([]string{home}, parts...)...), nil
	}

	var err error
	if c.App.BaiduConfig == "" {
		if c.App.BaiduConfig, err = defaultUnderHome(".baidu", "baidu_pan_config.json"); err != nil && c.App.BaiduIsEnabled() {
			return err
		}
	}
	if c.App.Cloud189Config == "" {
		if c.App.Cloud189Config, err = defaultUnderHome(".cloud189", "session.json"); err != nil && c.App.Cloud189Enabled {
			return err
		}
	}
	c.App.BaiduConfig = expandPath(c.App.BaiduConfig, home)
	c.App.Cloud189Config = expandPath(c.App.Cloud189Config, home)
	c.App.ArchiveDir = expandPath(c.App.ArchiveDir, home)
	c.App.LogFile = expandPath(c.App.LogFile, home)
	c.App.MetricsDir = expandPath(c.App.MetricsDir, home)
	return nil
}

// expandPath expands $VAR/${VAR} references and a leading "~/".
func expandPath(p, home string) string {
	p = os.ExpandEnv(strings.TrimSpace(p))
	if home != "" && (p == "~" || strings.HasPrefix(p, "~/")) {
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

// BaiduKey returns the Baidu app key, falling back to the legacy app_key.
func (a AppConfig) BaiduKey() string {
	if v := strings.TrimSpace(a.BaiduAppKey); v != "" {
		return v
	}
	return strings.TrimSpace(a.AppKey)
}

// BaiduSecret returns the Baidu app secret, falling back to the legacy app_secret.
func (a AppConfig) BaiduSecret() string {
	if v := strings.TrimSpace(a.BaiduAppSecret); v != "" {
		return v
	}
	return strings.TrimSpace(a.AppSecret)
}

// BaiduIsEnabled reports whether the Baidu backend is enabled. When
// baidu_enabled is absent, configurations carrying Baidu keys keep the
// behaviour of older releases where Baidu was the only backend.
func (a AppConfig) BaiduIsEnabled() bool {
	if a.BaiduEnabled != nil {
		return *a.BaiduEnabled
	}
	return a.BaiduKey() != "" || a.BaiduSecret() != ""
}

// Identifier returns the name used for the entry in logs and the run summary.
func (e BackupEntry) Identifier() string {
	if v := strings.TrimSpace(e.Name); v != "" {
		return v
	}
	return e.BaseName()
}

// BaseName returns the trimmed archive base name or "backup" when empty.
func (e BackupEntry) BaseName() string {
	if v := strings.TrimSpace(e.ArchiveName); v != "" {
		return v
	}
	return DefaultArchiveName
}

// Source returns the configured source, preferring source_path over source_dir.
func (e BackupEntry) Source() string {
	if v := strings.TrimSpace(e.SourcePath); v != "" {
		return v
	}
	return strings.TrimSpace(e.SourceDir)
}

// HasCommand reports whether a command generates the source.
func (e BackupEntry) HasCommand() bool {
	return strings.TrimSpace(e.Command) != ""
}

// KeepsArchive returns keep_archive (default false).
func (e BackupEntry) KeepsArchive() bool {
	return e.KeepArchive != nil && *e.KeepArchive
}

// KeepsCommandSource returns keep_command_source (default true).
func (e BackupEntry) KeepsCommandSource() bool {
	return e.KeepCommandSource == nil || *e.KeepCommandSource
}

// UsesBaidu reports whether the entry opted into the Baidu backend (default true).
func (e BackupEntry) UsesBaidu() bool {
	return e.Baidu == nil || *e.Baidu
}

// UsesCloud189 reports whether the entry opted into the Cloud189 backend (default true).
func (e BackupEntry) UsesCloud189() bool {
	return e.Cloud189 == nil || *e.Cloud189
}
