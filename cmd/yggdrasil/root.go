// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/RepeaterTS/yggdrasil/internal/config"
	"github.com/RepeaterTS/yggdrasil/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the yggdrasil CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "yggdrasil",
		Short: "Yggdrasil - Minecraft authentication client",
		Long: `Yggdrasil authenticates Minecraft accounts against the layered
Microsoft identity chain (device code, Xbox Live, XSTS, Minecraft
services) and caches every intermediate token on disk so repeat logins
stay offline. It also speaks the legacy password and session protocols.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: yggdrasil.yaml in the config dir)")

	defaults := config.Default()
	pf := cmd.PersistentFlags()
	pf.String("username", "", "account name (token cache key)")
	pf.String("cache-dir", "", "token cache directory (default: platform cache location)")
	pf.String("log-format", defaults.Log.Format, "log format (json or text)")
	pf.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	pf.String("auth-host", defaults.Hosts.Auth, "legacy auth/session server")
	pf.String("services-host", defaults.Hosts.Services, "game services API server")

	// Add subcommands
	cmd.AddCommand(NewLoginCmd())
	cmd.AddCommand(NewProfileCmd())
	cmd.AddCommand(NewJoinCmd())
	cmd.AddCommand(NewHasJoinedCmd())
	cmd.AddCommand(NewSignoutCmd())
	cmd.AddCommand(NewCacheCmd())
	cmd.AddCommand(NewGenSchemaCmd())

	return cmd
}

// loadConfig layers the config file under this command's flags. With no
// --config, the conventional config location is used when a file exists
// there.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := configFile
	if path == "" {
		candidate := filepath.Join(xdg.ConfigDir(), "yggdrasil.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	return config.Load(path, cmd.Flags())
}

// cacheDir resolves the effective cache directory.
func cacheDir(cfg config.Config) string {
	if cfg.CacheDir != "" {
		return cfg.CacheDir
	}
	return xdg.CacheDir()
}

// errCode extracts the taxonomy code from an error, or returns "".
func errCode(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}
