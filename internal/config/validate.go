package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report TOML key names instead of Go field names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks struct-level constraints and the backend credential rules.
// It must run before any entry executes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ConfigError{Msg: "configuration is nil"}
	}
	if len(cfg.Backups) == 0 {
		return &ConfigError{Field: "backups", Msg: "No backups configured"}
	}

	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ConfigError{Field: fieldPath(verrs[0]), Msg: describe(verrs[0])}
		}
		return &ConfigError{Msg: "invalid configuration", Err: err}
	}

	for i, entry := range cfg.Backups {
		if entry.Source() == "" {
			return &ConfigError{Field: fmt.Sprintf("backups[%d]", i), Msg: "source_path/source_dir cannot be empty"}
		}
		if strings.TrimSpace(entry.RemoteDir) == "" {
			return &ConfigError{Field: fmt.Sprintf("backups[%d].remote_dir", i), Msg: "remote_dir cannot be empty"}
		}
	}

	app := cfg.App
	if app.BaiduIsEnabled() {
		if app.BaiduKey() == "" || app.BaiduSecret() == "" {
			return &ConfigError{Field: "app.baidu_app_key", Msg: "baidu is enabled but baidu_app_key/baidu_app_secret (or app_key/app_secret) are missing"}
		}
	}
	if app.Cloud189Enabled && !app.Cloud189UseQR {
		if strings.TrimSpace(app.Cloud189Username) == "" || app.Cloud189Password == "" {
			return &ConfigError{Field: "app.cloud189_username", Msg: "cloud189 is enabled but neither cloud189_use_qr nor cloud189_username/cloud189_password (or CLOUD189_USERNAME/CLOUD189_PASSWORD) are set"}
		}
	}
	return nil
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "required_without":
		return "either source_path or source_dir is required"
	case "gte":
		return fmt.Sprintf("%s must be at least %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("%s must be at most %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag())
	}
}
