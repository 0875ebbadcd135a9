// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/RepeaterTS/yggdrasil/internal/config"
	"github.com/RepeaterTS/yggdrasil/internal/docstore"
	"github.com/RepeaterTS/yggdrasil/internal/tokencache"
)

// NewProfileCmd creates the profile subcommand.
func NewProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the cached game profile for an account",
		Long: `Show the cached game profile and token expiry for the configured
account. Reads only the local token cache; no network calls are made.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Username == "" {
				return fmt.Errorf("username is required (set --username or the config file)")
			}

			cache, err := openCache(cfg)
			if err != nil {
				return err
			}

			mc, err := cache.MinecraftToken(cfg.Username)
			if err != nil {
				if errors.Is(err, tokencache.ErrNotFound) {
					return fmt.Errorf("no cached login for %q; run 'yggdrasil login' first", cfg.Username)
				}
				return err
			}

			entry := map[string]any{
				"username": cfg.Username,
			}
			if mc.Profile != nil {
				entry["id"] = mc.Profile.ID
				entry["name"] = mc.Profile.Name
			}
			if !mc.ExpiresAt.IsZero() {
				entry["expires_at"] = mc.ExpiresAt.Format(time.RFC3339)
				entry["expired"] = !time.Now().Before(mc.ExpiresAt)
			}

			out, err := json.MarshalIndent(entry, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}
}

// openCache opens the token cache for the configured directory.
func openCache(cfg config.Config) (*tokencache.Cache, error) {
	store := docstore.New(cacheDir(cfg))
	if err := store.Init(); err != nil {
		return nil, err
	}
	return tokencache.New(store, cfg.GraceDuration()), nil
}
