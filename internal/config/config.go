// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

// Package config loads client configuration from a YAML file layered
// under command-line flags.
package config

import (
	"bytes"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/RepeaterTS/yggdrasil/internal/authflow"
	"github.com/RepeaterTS/yggdrasil/internal/session"
)

// Config is the full client configuration. Zero values fall back to the
// defaults from Default.
type Config struct {
	// Username selects the cache principal and identifies the account.
	Username string `koanf:"username" json:"username,omitempty" jsonschema:"description=Account name used as the token cache key"`

	// ClientID is the Azure application ID used for the device-code flow.
	ClientID string `koanf:"client_id" json:"client_id,omitempty" jsonschema:"description=OAuth client ID for the device-code flow"`

	// CacheDir overrides the platform token cache location.
	CacheDir string `koanf:"cache_dir" json:"cache_dir,omitempty" jsonschema:"description=Token cache directory (defaults to the platform cache location)"`

	// GraceWindow is subtracted from token lifetimes when judging
	// cached tokens, e.g. "1m" or "90s".
	GraceWindow string `koanf:"grace_window" json:"grace_window,omitempty" jsonschema:"description=Validity margin applied to cached token expiry,default=1m"`

	// TrustCachedToken skips revalidation of cached game tokens.
	TrustCachedToken bool `koanf:"trust_cached_token" json:"trust_cached_token,omitempty" jsonschema:"description=Return cached game tokens without checking expiry"`

	// SkipEntitlementCheck bypasses the game-ownership lookup.
	SkipEntitlementCheck bool `koanf:"skip_entitlement_check" json:"skip_entitlement_check,omitempty" jsonschema:"description=Skip the game ownership check after login"`

	// MetricsAddr enables the metrics/health HTTP server when set.
	MetricsAddr string `koanf:"metrics_addr" json:"metrics_addr,omitempty" jsonschema:"description=Listen address for the metrics server (empty = disabled)"`

	Log   LogConfig  `koanf:"log" json:"log,omitempty"`
	Hosts HostConfig `koanf:"hosts" json:"hosts,omitempty"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text,default=json"`
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
}

// HostConfig overrides the upstream endpoints, which makes the client
// usable against API-compatible third-party servers.
type HostConfig struct {
	Auth          string `koanf:"auth" json:"auth,omitempty" jsonschema:"description=Legacy password and session endpoint"`
	Services      string `koanf:"services" json:"services,omitempty" jsonschema:"description=Game services API endpoint"`
	XboxUserAuth  string `koanf:"xbox_user_auth" json:"xbox_user_auth,omitempty"`
	XboxXSTS      string `koanf:"xbox_xsts" json:"xbox_xsts,omitempty"`
	DeviceAuthURL string `koanf:"device_auth_url" json:"device_auth_url,omitempty"`
	TokenURL      string `koanf:"token_url" json:"token_url,omitempty"`
}

// flagKeys maps flat flag names onto nested config keys. Flags not
// listed here map by swapping dashes for underscores.
var flagKeys = map[string]string{
	"log-format":          "log.format",
	"log-level":           "log.level",
	"auth-host":           "hosts.auth",
	"services-host":       "hosts.services",
	"xbox-user-auth-host": "hosts.xbox_user_auth",
	"xbox-xsts-host":      "hosts.xbox_xsts",
	"device-auth-url":     "hosts.device_auth_url",
	"token-url":           "hosts.token_url",
}

// Default returns the configuration used when no file or flag overrides
// a value.
func Default() Config {
	return Config{
		GraceWindow: "1m",
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Hosts: HostConfig{
			Auth:          session.DefaultHost,
			Services:      authflow.DefaultServicesHost,
			XboxUserAuth:  authflow.DefaultXboxUserAuthHost,
			XboxXSTS:      authflow.DefaultXboxXSTSHost,
			DeviceAuthURL: authflow.DefaultDeviceAuthURL,
			TokenURL:      authflow.DefaultTokenURL,
		},
	}
}

// Load reads path (when non-empty), validates it against the generated
// JSON schema, and layers flags on top. Flag names use dashes and map
// onto underscore config keys, so --cache-dir overrides cache_dir.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrapf(err, "reading config file")
		}
		// An empty file means "all defaults"; everything else must pass
		// the generated schema before koanf sees it.
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := ValidateSchema(raw); err != nil {
				return cfg, oops.Code("CONFIG_INVALID").
					With("path", path).
					Wrapf(err, "config file rejected by schema")
			}
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrapf(err, "parsing config file")
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithValue(flags, ".", k, func(key string, value string) (string, any) {
			if mapped, ok := flagKeys[key]; ok {
				return mapped, value
			}
			return strings.ReplaceAll(key, "-", "_"), value
		})
		if err := k.Load(provider, nil); err != nil {
			return cfg, oops.Code("CONFIG_LOAD_FAILED").
				Wrapf(err, "reading flags")
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, oops.Code("CONFIG_LOAD_FAILED").
			With("path", path).
			Wrapf(err, "decoding config")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").
			With("log_format", c.Log.Format).
			Errorf("log format must be 'json' or 'text'")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return oops.Code("CONFIG_INVALID").
			With("log_level", c.Log.Level).
			Errorf("unknown log level %q", c.Log.Level)
	}
	if c.GraceWindow != "" {
		d, err := time.ParseDuration(c.GraceWindow)
		if err != nil {
			return oops.Code("CONFIG_INVALID").
				With("grace_window", c.GraceWindow).
				Wrapf(err, "parsing grace window")
		}
		if d < 0 {
			return oops.Code("CONFIG_INVALID").
				With("grace_window", c.GraceWindow).
				Errorf("grace window must not be negative")
		}
	}
	return nil
}

// GraceDuration returns the parsed grace window. Validate must have
// accepted the configuration first.
func (c *Config) GraceDuration() time.Duration {
	if c.GraceWindow == "" {
		return time.Minute
	}
	d, err := time.ParseDuration(c.GraceWindow)
	if err != nil {
		return time.Minute
	}
	return d
}
