// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RepeaterTS/yggdrasil/internal/rest"
	"github.com/RepeaterTS/yggdrasil/internal/session"
	"github.com/RepeaterTS/yggdrasil/internal/tokencache"
)

// joinConfig holds configuration for the join and has-joined commands.
type joinConfig struct {
	serverID     string
	sharedSecret string
	serverKey    string
}

// Validate checks that the configuration is valid.
func (cfg *joinConfig) Validate() error {
	if cfg.serverID == "" {
		return fmt.Errorf("server-id is required")
	}
	if _, err := base64.StdEncoding.DecodeString(cfg.sharedSecret); err != nil {
		return fmt.Errorf("shared-secret must be base64: %w", err)
	}
	if _, err := base64.StdEncoding.DecodeString(cfg.serverKey); err != nil {
		return fmt.Errorf("server-key must be base64: %w", err)
	}
	return nil
}

func (cfg *joinConfig) secrets() (sharedSecret, serverKey string) {
	secret, _ := base64.StdEncoding.DecodeString(cfg.sharedSecret)
	key, _ := base64.StdEncoding.DecodeString(cfg.serverKey)
	return string(secret), string(key)
}

func addJoinFlags(cmd *cobra.Command, cfg *joinConfig) {
	cmd.Flags().StringVar(&cfg.serverID, "server-id", "", "server ID string from the encryption handshake")
	cmd.Flags().StringVar(&cfg.sharedSecret, "shared-secret", "", "base64 shared secret from the handshake")
	cmd.Flags().StringVar(&cfg.serverKey, "server-key", "", "base64 server public key from the handshake")
}

// NewJoinCmd creates the join subcommand.
func NewJoinCmd() *cobra.Command {
	jc := &joinConfig{}

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Announce a server join to the session server",
		Long: `Report the cached account's intent to join a server, using the server
hash derived from the handshake parameters. Requires a cached login.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := jc.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

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
			if mc.Profile == nil {
				return fmt.Errorf("cached login for %q has no profile; run 'yggdrasil login' again", cfg.Username)
			}

			secret, key := jc.secrets()
			client := session.NewClient(rest.NewClient(), cfg.Hosts.Auth)
			if err := client.Join(cmd.Context(), mc.AccessToken, mc.Profile.ID, jc.serverID, secret, key); err != nil {
				return err
			}

			cmd.Println("joined")
			return nil
		},
	}

	addJoinFlags(cmd, jc)
	return cmd
}

// NewHasJoinedCmd creates the has-joined subcommand.
func NewHasJoinedCmd() *cobra.Command {
	jc := &joinConfig{}

	cmd := &cobra.Command{
		Use:   "has-joined",
		Short: "Verify a player's join against the session server",
		Long: `Ask the session server whether the named player announced a join with
the same server hash, printing the authoritative profile on success.
This is the server side of the handshake; it needs no cached login.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := jc.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Username == "" {
				return fmt.Errorf("username is required (set --username or the config file)")
			}

			secret, key := jc.secrets()
			client := session.NewClient(rest.NewClient(), cfg.Hosts.Auth)
			profile, err := client.HasJoined(cmd.Context(), cfg.Username, jc.serverID, secret, key)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(profile, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}

	addJoinFlags(cmd, jc)
	return cmd
}
