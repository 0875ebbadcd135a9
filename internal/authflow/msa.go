// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/RepeaterTS/yggdrasil/internal/observability"
)

// msaToken resolves stage 4: a usable first-party Microsoft access token.
// Preference order: cached access token, refresh-token grant, interactive
// device-code login. Both non-interactive outcomes persist before
// returning; the device-code path blocks until the user redeems the code
// or ctx is cancelled (the caller owns any timeout).
func (f *Flow) msaToken(ctx context.Context) (*oauth2.Token, error) {
	ctx, span := tracer.Start(ctx, "authflow.stage.msa")
	defer span.End()

	// The oauth2 transport must share the flow's HTTP client so tests
	// and custom transports see every request.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.cfg.HTTPClient)

	cached, err := f.cache.MSAToken(f.cfg.Username)
	if err != nil && !isCacheMiss(err) {
		return nil, err
	}

	if cached != nil && cached.AccessToken != "" &&
		time.Now().Add(f.cache.GraceWindow()).Before(cached.Expiry) {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		f.logger.Debug("using cached microsoft token")
		return cached, nil
	}

	if cached != nil && cached.RefreshToken != "" {
		return f.refreshMSAToken(ctx, cached)
	}

	return f.deviceCodeLogin(ctx)
}

// refreshMSAToken redeems the cached refresh token for a fresh access
// token. A provider rejection is fatal for the stage; the orchestrator
// never falls back to an interactive login on its own.
func (f *Flow) refreshMSAToken(ctx context.Context, cached *oauth2.Token) (*oauth2.Token, error) {
	src := f.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cached.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		observability.RecordStage(stageDeviceCode, observability.OutcomeError)
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			return nil, oops.Code("AUTH_INVALID_CREDENTIALS").
				With("stage", stageDeviceCode).
				With("oauth_error", retrieve.ErrorCode).
				Wrapf(err, "refresh token rejected")
		}
		return nil, oops.Code("NETWORK_FAILURE").
			With("stage", stageDeviceCode).
			Wrap(err)
	}

	if fresh.RefreshToken == "" {
		// Providers may omit the refresh token on renewal; keep the
		// old one so the next run can refresh again.
		fresh.RefreshToken = cached.RefreshToken
	}
	if err := f.cache.SetMSAToken(f.cfg.Username, fresh); err != nil {
		return nil, err
	}
	observability.RecordStage(stageDeviceCode, observability.OutcomeExchanged)
	f.logger.Debug("refreshed microsoft token", "expiry", fresh.Expiry)
	return fresh, nil
}

// deviceCodeLogin runs the interactive device-code flow: obtain the
// challenge, surface it to the caller, then block until the identity
// provider reports redemption.
func (f *Flow) deviceCodeLogin(ctx context.Context) (*oauth2.Token, error) {
	ctx, span := tracer.Start(ctx, "authflow.stage.device_code")
	defer span.End()

	challenge, err := f.oauth.DeviceAuth(ctx)
	if err != nil {
		observability.RecordStage(stageDeviceCode, observability.OutcomeError)
		return nil, oops.Code("NETWORK_FAILURE").
			With("stage", stageDeviceCode).
			Wrapf(err, "device code request failed")
	}

	code := DeviceCode{
		UserCode:        challenge.UserCode,
		VerificationURI: challenge.VerificationURI,
		// The identity provider's own instruction text is not part of the
		// oauth2 device-auth contract, so compose an equivalent one.
		Message: fmt.Sprintf("To sign in, use a web browser to open the page %s and enter the code %s to authenticate.",
			challenge.VerificationURI, challenge.UserCode),
		ExpiresAt: challenge.Expiry,
	}
	if f.cfg.OnDeviceCode != nil {
		f.cfg.OnDeviceCode(code)
	} else {
		f.logger.Info("device code login required",
			"verification_uri", code.VerificationURI,
			"user_code", code.UserCode)
	}

	token, err := f.oauth.DeviceAccessToken(ctx, challenge)
	if err != nil {
		observability.RecordStage(stageDeviceCode, observability.OutcomeError)
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			return nil, oops.Code("AUTH_INVALID_CREDENTIALS").
				With("stage", stageDeviceCode).
				With("oauth_error", retrieve.ErrorCode).
				Wrapf(err, "device code not redeemed")
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, oops.Code("NETWORK_FAILURE").
			With("stage", stageDeviceCode).
			Wrap(err)
	}

	if err := f.cache.SetMSAToken(f.cfg.Username, token); err != nil {
		return nil, err
	}
	observability.RecordStage(stageDeviceCode, observability.OutcomeExchanged)
	f.logger.Info("device code redeemed", "expiry", token.Expiry)
	return token, nil
}
