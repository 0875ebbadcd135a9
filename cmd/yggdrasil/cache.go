// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RepeaterTS/yggdrasil/internal/docstore"
)

// NewCacheCmd creates the cache subcommand group.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the local token cache",
	}

	cmd.AddCommand(newCacheLsCmd())
	cmd.AddCommand(newCacheRmCmd())
	cmd.AddCommand(newCachePathCmd())

	return cmd
}

func newCacheLsCmd() *cobra.Command {
	var match string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List cached accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store := docstore.New(cacheDir(cfg))

			var keys []string
			if match != "" {
				keys, err = store.KeysMatching(match)
			} else {
				keys, err = store.Keys()
			}
			if err != nil {
				return err
			}

			for _, key := range keys {
				cmd.Println(key)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&match, "match", "", "glob pattern to filter accounts")
	return cmd
}

func newCacheRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <account>...",
		Short: "Remove cached accounts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store := docstore.New(cacheDir(cfg))

			for _, key := range args {
				if err := store.Delete(key); err != nil {
					if errors.Is(err, docstore.ErrNotFound) {
						return fmt.Errorf("no cache entry for %q", key)
					}
					return err
				}
				cmd.Println("removed", key)
			}
			return nil
		},
	}
}

func newCachePathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the token cache directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.Println(cacheDir(cfg))
			return nil
		},
	}
}
