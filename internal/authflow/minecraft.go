// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package authflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/RepeaterTS/yggdrasil/internal/observability"
	"github.com/RepeaterTS/yggdrasil/internal/tokencache"
)

// minecraftLogin completes the chain: submit the relying-party identity
// token to the profile-login endpoint, persist the returned access token,
// verify the entitlement, and attach the profile snapshot.
func (f *Flow) minecraftLogin(ctx context.Context, xsts tokencache.Record) (*Result, error) {
	ctx, span := tracer.Start(ctx, "authflow.stage.minecraft")
	defer span.End()

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	err := f.rest.PostJSON(ctx, f.cfg.ServicesHost+"/authentication/login_with_xbox", nil, map[string]any{
		"identityToken": fmt.Sprintf("XBL3.0 x=%s;%s", xsts.UserHash, xsts.Token),
	}, &resp)
	if err != nil {
		observability.RecordStage(stageMinecraft, observability.OutcomeError)
		return nil, err
	}
	if resp.AccessToken == "" {
		observability.RecordStage(stageMinecraft, observability.OutcomeError)
		return nil, oops.Code("PROTOCOL_VIOLATION").
			With("stage", stageMinecraft).
			Errorf("profile login returned no access token")
	}

	mc := tokencache.MinecraftToken{AccessToken: resp.AccessToken}
	if resp.ExpiresIn > 0 {
		mc.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	// Persist before the entitlement and profile calls so a crash here
	// resumes without repeating the login.
	if err := f.cache.SetMinecraftToken(f.cfg.Username, mc); err != nil {
		return nil, err
	}

	if !f.cfg.SkipEntitlementCheck {
		if err := f.checkEntitlement(ctx, mc.AccessToken); err != nil {
			return nil, err
		}
	}

	profile, err := f.fetchProfile(ctx, mc.AccessToken)
	if err != nil {
		return nil, err
	}
	mc.Profile = profile
	if err := f.cache.SetMinecraftToken(f.cfg.Username, mc); err != nil {
		return nil, err
	}

	observability.RecordStage(stageMinecraft, observability.OutcomeExchanged)
	f.logger.Info("login complete", "profile", profile.Name)
	return &Result{AccessToken: mc.AccessToken, Profile: *profile}, nil
}

// checkEntitlement verifies the account owns the game.
func (f *Flow) checkEntitlement(ctx context.Context, accessToken string) error {
	var resp struct {
		Items []struct {
			Name string `json:"name"`
		} `json:"items"`
	}
	header := http.Header{"Authorization": {"Bearer " + accessToken}}
	if err := f.rest.GetJSON(ctx, f.cfg.ServicesHost+"/entitlements/mcstore", header, &resp); err != nil {
		return err
	}
	if len(resp.Items) == 0 {
		return oops.Code("AUTH_NOT_ENTITLED").
			Errorf("this account does not own minecraft")
	}
	return nil
}

// fetchProfile retrieves the game profile for an access token.
func (f *Flow) fetchProfile(ctx context.Context, accessToken string) (*tokencache.Profile, error) {
	var profile tokencache.Profile
	header := http.Header{"Authorization": {"Bearer " + accessToken}}
	if err := f.rest.GetJSON(ctx, f.cfg.ServicesHost+"/minecraft/profile", header, &profile); err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, oops.Code("AUTH_PROFILE_FAILED").
			Errorf("account has no game profile")
	}
	return &profile, nil
}
