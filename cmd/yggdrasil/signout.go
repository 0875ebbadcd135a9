// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RepeaterTS/yggdrasil/internal/rest"
	"github.com/RepeaterTS/yggdrasil/internal/yggdrasil"
)

// NewSignoutCmd creates the signout subcommand.
func NewSignoutCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "signout",
		Short: "Invalidate every legacy session for an account",
		Long: `Invalidate all access tokens issued to the account by the legacy
password endpoint. The password is read from --password or the
YGGDRASIL_PASSWORD environment variable. This does not touch the local
token cache; use 'yggdrasil cache rm' for that.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Username == "" {
				return fmt.Errorf("username is required (set --username or the config file)")
			}
			if password == "" {
				password = os.Getenv("YGGDRASIL_PASSWORD")
			}
			if password == "" {
				return fmt.Errorf("password is required (set --password or YGGDRASIL_PASSWORD)")
			}

			client := yggdrasil.NewClient(rest.NewClient(), cfg.Hosts.Auth)
			if err := client.Signout(cmd.Context(), cfg.Username, password); err != nil {
				return err
			}

			cmd.Println("signed out")
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}
