// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/RepeaterTS/yggdrasil/internal/authflow"
	"github.com/RepeaterTS/yggdrasil/internal/config"
	"github.com/RepeaterTS/yggdrasil/internal/logging"
	"github.com/RepeaterTS/yggdrasil/internal/observability"
	"github.com/RepeaterTS/yggdrasil/pkg/errutil"
)

// loginConfig holds configuration for the login command.
type loginConfig struct {
	clientID         string
	graceWindow      string
	metricsAddr      string
	trustCached      bool
	skipEntitlement  bool
	retries          uint64
	timeout          time.Duration
	deviceAuthURL    string
	tokenURL         string
	xboxUserAuthHost string
	xboxXSTSHost     string
}

// Validate checks that the configuration is valid.
func (cfg *loginConfig) Validate() error {
	if cfg.retries > 10 {
		return fmt.Errorf("retries must be at most 10, got %d", cfg.retries)
	}
	return nil
}

// Default values for login command flags.
const (
	defaultLoginRetries = 2
	retryBackoffBase    = time.Second
)

// NewLoginCmd creates the login subcommand.
func NewLoginCmd() *cobra.Command {
	lc := &loginConfig{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and print a game access token",
		Long: `Authenticate the configured account through the Microsoft device-code
chain, reusing cached tokens where possible, and print the resulting
game profile and access token as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd.Context(), cmd, lc)
		},
	}

	defaults := config.Default()
	cmd.Flags().StringVar(&lc.clientID, "client-id", "", "OAuth client ID for the device-code flow")
	cmd.Flags().StringVar(&lc.graceWindow, "grace-window", defaults.GraceWindow, "validity margin for cached tokens")
	cmd.Flags().StringVar(&lc.metricsAddr, "metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().BoolVar(&lc.trustCached, "trust-cached-token", false, "return cached game tokens without checking expiry")
	cmd.Flags().BoolVar(&lc.skipEntitlement, "skip-entitlement-check", false, "skip the game ownership check")
	cmd.Flags().Uint64Var(&lc.retries, "retries", defaultLoginRetries, "retries on network failure")
	cmd.Flags().DurationVar(&lc.timeout, "timeout", 0, "overall login timeout (0 = none)")
	cmd.Flags().StringVar(&lc.deviceAuthURL, "device-auth-url", defaults.Hosts.DeviceAuthURL, "device-code authorization endpoint")
	cmd.Flags().StringVar(&lc.tokenURL, "token-url", defaults.Hosts.TokenURL, "OAuth token endpoint")
	cmd.Flags().StringVar(&lc.xboxUserAuthHost, "xbox-user-auth-host", defaults.Hosts.XboxUserAuth, "Xbox user authentication server")
	cmd.Flags().StringVar(&lc.xboxXSTSHost, "xbox-xsts-host", defaults.Hosts.XboxXSTS, "XSTS authorization server")

	return cmd
}

func runLogin(ctx context.Context, cmd *cobra.Command, lc *loginConfig) error {
	if err := lc.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Username == "" {
		return fmt.Errorf("username is required (set --username or the config file)")
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("client-id is required for the device-code flow")
	}

	logging.SetDefault("yggdrasil", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))

	if lc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, lc.timeout)
		defer cancel()
	}

	// Optional metrics/health endpoint for long-lived wrapper processes.
	if cfg.MetricsAddr != "" {
		obs := observability.NewServer(cfg.MetricsAddr, nil)
		if _, err := obs.Start(); err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if stopErr := obs.Stop(stopCtx); stopErr != nil {
				slog.Warn("error stopping observability server", "error", stopErr)
			}
		}()
	}

	flow, err := authflow.New(authflow.Config{
		Username:                  cfg.Username,
		ClientID:                  cfg.ClientID,
		CacheDir:                  cacheDir(cfg),
		GraceWindow:               cfg.GraceDuration(),
		TrustCachedMinecraftToken: cfg.TrustCachedToken,
		SkipEntitlementCheck:      cfg.SkipEntitlementCheck,
		ServicesHost:              cfg.Hosts.Services,
		XboxUserAuthHost:          cfg.Hosts.XboxUserAuth,
		XboxXSTSHost:              cfg.Hosts.XboxXSTS,
		DeviceAuthURL:             cfg.Hosts.DeviceAuthURL,
		TokenURL:                  cfg.Hosts.TokenURL,
		Logger:                    slog.Default(),
		OnDeviceCode: func(dc authflow.DeviceCode) {
			if dc.Message != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), dc.Message)
				return
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "To sign in, visit %s and enter the code %s\n",
				dc.VerificationURI, dc.UserCode)
		},
	})
	if err != nil {
		return err
	}

	// The chain itself never retries; transient network failures are the
	// caller's call, and here the caller is us.
	backoff := retry.WithMaxRetries(lc.retries, retry.NewExponential(retryBackoffBase))
	var result *authflow.Result
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var loginErr error
		result, loginErr = flow.Login(ctx)
		if loginErr != nil && errCode(loginErr) == "NETWORK_FAILURE" {
			return retry.RetryableError(loginErr)
		}
		return loginErr
	})
	if err != nil {
		errutil.LogError(slog.Default(), "login failed", err)
		return err
	}

	out, err := json.MarshalIndent(map[string]string{
		"username":     cfg.Username,
		"id":           result.Profile.ID,
		"name":         result.Profile.Name,
		"access_token": result.AccessToken,
	}, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}
