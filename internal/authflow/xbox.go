// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package authflow

import (
	"context"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"

	"github.com/RepeaterTS/yggdrasil/internal/observability"
	"github.com/RepeaterTS/yggdrasil/internal/tokencache"
)

// xblTokenResponse is the shape shared by the Xbox user-authenticate and
// XSTS-authorize endpoints. On XSTS denials the body carries XErr instead
// of a token.
type xblTokenResponse struct {
	IssueInstant  string `json:"IssueInstant"`
	NotAfter      string `json:"NotAfter"`
	Token         string `json:"Token"`
	DisplayClaims struct {
		XUI []struct {
			UHS string `json:"uhs"`
		} `json:"xui"`
	} `json:"DisplayClaims"`
	XErr    int64  `json:"XErr"`
	Message string `json:"Message"`
}

func (r *xblTokenResponse) record() tokencache.Record {
	rec := tokencache.Record{
		Token:     r.Token,
		ExpiresAt: parseXboxTime(r.NotAfter),
	}
	if len(r.DisplayClaims.XUI) > 0 {
		rec.UserHash = r.DisplayClaims.XUI[0].UHS
	}
	return rec
}

func parseXboxTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Known XSTS denial codes, surfaced as context so callers can explain the
// failure to the user.
var xstsDenials = map[int64]string{
	2148916233: "account has no Xbox profile",
	2148916235: "Xbox Live is not available in this region",
	2148916236: "account requires adult verification",
	2148916237: "account requires adult verification",
	2148916238: "account belongs to a child and needs to be added to a family",
}

// xstsToken resolves stage 2: a valid relying-party (XSTS) token. Both
// the XSTS token and its paired user token must be cached and valid to
// short-circuit; a valid user token alone allows the cheaper re-exchange;
// otherwise the chain falls through to the user-token stage.
func (f *Flow) xstsToken(ctx context.Context) (tokencache.Record, error) {
	ctx, span := tracer.Start(ctx, "authflow.stage.xsts")
	defer span.End()

	user, userErr := f.cache.UserToken(f.cfg.Username)
	xsts, xstsErr := f.cache.XSTSToken(f.cfg.Username)
	if userErr != nil && !isCacheMiss(userErr) {
		return tokencache.Record{}, userErr
	}
	if xstsErr != nil && !isCacheMiss(xstsErr) {
		return tokencache.Record{}, xstsErr
	}

	userValid := userErr == nil && f.cache.Valid(user)
	xstsValid := xstsErr == nil && f.cache.Valid(xsts)

	switch {
	case userValid && xstsValid:
		observability.RecordStage(stageXSTS, observability.OutcomeCacheHit)
		span.SetAttributes(attribute.Bool("cache_hit", true))
		f.logger.Debug("using cached xsts token")
		return xsts, nil
	case userValid:
		// Only the relying-party token went stale; re-exchange without
		// re-running the stages below.
		return f.exchangeXSTS(ctx, user)
	default:
		user, err := f.userToken(ctx)
		if err != nil {
			return tokencache.Record{}, err
		}
		return f.exchangeXSTS(ctx, user)
	}
}

// exchangeXSTS converts a device-linked user token into a token scoped to
// the configured relying party, persisting it before returning.
func (f *Flow) exchangeXSTS(ctx context.Context, user tokencache.Record) (tokencache.Record, error) {
	var resp xblTokenResponse
	err := f.rest.PostJSON(ctx, f.cfg.XboxXSTSHost+"/xsts/authorize", nil, map[string]any{
		"RelyingParty": f.cfg.RelyingParty,
		"TokenType":    "JWT",
		"Properties": map[string]any{
			"SandboxId":  "RETAIL",
			"UserTokens": []string{user.Token},
		},
	}, &resp)
	if err != nil {
		observability.RecordStage(stageXSTS, observability.OutcomeError)
		if resp.XErr != 0 {
			builder := oops.Code("AUTH_INVALID_CREDENTIALS").
				With("stage", stageXSTS).
				With("xerr", resp.XErr)
			if reason, ok := xstsDenials[resp.XErr]; ok {
				return tokencache.Record{}, builder.Wrapf(err, "XSTS denied: %s", reason)
			}
			return tokencache.Record{}, builder.Wrapf(err, "XSTS denied")
		}
		return tokencache.Record{}, err
	}

	rec := resp.record()
	if rec.UserHash == "" {
		rec.UserHash = user.UserHash
	}
	if err := f.cache.SetXSTSToken(f.cfg.Username, rec); err != nil {
		return tokencache.Record{}, err
	}
	observability.RecordStage(stageXSTS, observability.OutcomeExchanged)
	f.logger.Debug("exchanged xsts token", "not_after", rec.ExpiresAt)
	return rec, nil
}

// userToken resolves stage 3: exchange a first-party access token (minted
// by the device-code stage when necessary) for a device-linked Xbox user
// token. The result is persisted immediately, independent of whether the
// XSTS exchange above it succeeds.
func (f *Flow) userToken(ctx context.Context) (tokencache.Record, error) {
	ctx, span := tracer.Start(ctx, "authflow.stage.user_token")
	defer span.End()

	msa, err := f.msaToken(ctx)
	if err != nil {
		return tokencache.Record{}, err
	}

	rpsTicket := msa.AccessToken
	if !strings.HasPrefix(rpsTicket, "d=") {
		rpsTicket = "d=" + rpsTicket
	}

	var resp xblTokenResponse
	err = f.rest.PostJSON(ctx, f.cfg.XboxUserAuthHost+"/user/authenticate", nil, map[string]any{
		"RelyingParty": "http://auth.xboxlive.com",
		"TokenType":    "JWT",
		"Properties": map[string]any{
			"AuthMethod": "RPS",
			"SiteName":   "user.auth.xboxlive.com",
			"RpsTicket":  rpsTicket,
		},
	}, &resp)
	if err != nil {
		observability.RecordStage(stageUserToken, observability.OutcomeError)
		return tokencache.Record{}, err
	}

	rec := resp.record()
	if err := f.cache.SetUserToken(f.cfg.Username, rec); err != nil {
		return tokencache.Record{}, err
	}
	observability.RecordStage(stageUserToken, observability.OutcomeExchanged)
	f.logger.Debug("exchanged xbox user token", "not_after", rec.ExpiresAt)
	span.SetAttributes(attribute.Bool("cache_hit", false))
	return rec, nil
}
