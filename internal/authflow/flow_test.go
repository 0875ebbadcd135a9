// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package authflow_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/RepeaterTS/yggdrasil/internal/authflow"
	"github.com/RepeaterTS/yggdrasil/internal/docstore"
	"github.com/RepeaterTS/yggdrasil/internal/tokencache"
	"github.com/RepeaterTS/yggdrasil/pkg/errutil"
)

// fakeProvider simulates the whole identity chain behind one HTTP server:
// the Microsoft device-code endpoints, Xbox user and XSTS authentication,
// and the Minecraft services API.
type fakeProvider struct {
	t   *testing.T
	srv *httptest.Server

	mu     sync.Mutex
	counts map[string]int

	// Overridable behaviors.
	xstsDenyXErr int64
	entitled     bool
	tokenGrants  map[string]bool // grant types seen by /token
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		t:           t,
		counts:      map[string]int{},
		entitled:    true,
		tokenGrants: map[string]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/devicecode", p.handleDeviceCode)
	mux.HandleFunc("/token", p.handleToken)
	mux.HandleFunc("/user/authenticate", p.handleUserAuth)
	mux.HandleFunc("/xsts/authorize", p.handleXSTS)
	mux.HandleFunc("/authentication/login_with_xbox", p.handleLoginWithXbox)
	mux.HandleFunc("/entitlements/mcstore", p.handleEntitlements)
	mux.HandleFunc("/minecraft/profile", p.handleProfile)

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[path]
}

func (p *fakeProvider) totalRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.counts {
		total += n
	}
	return total
}

func (p *fakeProvider) record(r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[r.URL.Path]++
}

func (p *fakeProvider) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	writeJSON(w, map[string]any{
		"device_code":      "device-code-1",
		"user_code":        "ABCD-1234",
		"verification_uri": "https://example.com/link",
		"expires_in":       900,
		"interval":         1,
	})
}

func (p *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	require.NoError(p.t, r.ParseForm())
	p.mu.Lock()
	p.tokenGrants[r.Form.Get("grant_type")] = true
	p.mu.Unlock()

	writeJSON(w, map[string]any{
		"access_token":  "msa-access",
		"refresh_token": "msa-refresh",
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
}

func (p *fakeProvider) handleUserAuth(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	var payload struct {
		Properties struct {
			RpsTicket string `json:"RpsTicket"`
		} `json:"Properties"`
	}
	require.NoError(p.t, json.NewDecoder(r.Body).Decode(&payload))
	assert.Contains(p.t, payload.Properties.RpsTicket, "d=")

	writeJSON(w, xblResponse("xbox-user-token", "user-hash"))
}

func (p *fakeProvider) handleXSTS(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	if p.xstsDenyXErr != 0 {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]any{"XErr": p.xstsDenyXErr, "Message": ""})
		return
	}
	writeJSON(w, xblResponse("xsts-token", "user-hash"))
}

func (p *fakeProvider) handleLoginWithXbox(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	var payload struct {
		IdentityToken string `json:"identityToken"`
	}
	require.NoError(p.t, json.NewDecoder(r.Body).Decode(&payload))
	assert.Equal(p.t, "XBL3.0 x=user-hash;xsts-token", payload.IdentityToken)

	writeJSON(w, map[string]any{
		"access_token": "mc-access-token",
		"expires_in":   86400,
	})
}

func (p *fakeProvider) handleEntitlements(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	assert.Equal(p.t, "Bearer mc-access-token", r.Header.Get("Authorization"))
	items := []map[string]any{}
	if p.entitled {
		items = append(items, map[string]any{"name": "game_minecraft"})
	}
	writeJSON(w, map[string]any{"items": items})
}

func (p *fakeProvider) handleProfile(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	writeJSON(w, map[string]any{"id": "profile-uuid", "name": "Steve"})
}

func xblResponse(token, uhs string) map[string]any {
	return map[string]any{
		"IssueInstant": time.Now().UTC().Format(time.RFC3339Nano),
		"NotAfter":     time.Now().Add(16 * time.Hour).UTC().Format(time.RFC3339Nano),
		"Token":        token,
		"DisplayClaims": map[string]any{
			"xui": []map[string]any{{"uhs": uhs}},
		},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (p *fakeProvider) config(t *testing.T, username string) authflow.Config {
	t.Helper()
	return authflow.Config{
		Username:         username,
		ClientID:         "client-id",
		CacheDir:         t.TempDir(),
		ServicesHost:     p.srv.URL,
		XboxUserAuthHost: p.srv.URL,
		XboxXSTSHost:     p.srv.URL,
		DeviceAuthURL:    p.srv.URL + "/devicecode",
		TokenURL:         p.srv.URL + "/token",
		HTTPClient:       p.srv.Client(),
	}
}

// cacheFor opens the same cache a Flow built from cfg uses, for seeding
// and inspecting state.
func cacheFor(t *testing.T, cfg authflow.Config) *tokencache.Cache {
	t.Helper()
	store := docstore.New(cfg.CacheDir)
	require.NoError(t, store.Init())
	return tokencache.New(store, time.Minute)
}

func TestFlow_Login_ColdStart(t *testing.T) {
	provider := newFakeProvider(t)
	cfg := provider.config(t, "steve")

	var codes []authflow.DeviceCode
	cfg.OnDeviceCode = func(dc authflow.DeviceCode) {
		codes = append(codes, dc)
	}

	flow, err := authflow.New(cfg)
	require.NoError(t, err)

	result, err := flow.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mc-access-token", result.AccessToken)
	assert.Equal(t, "Steve", result.Profile.Name)
	assert.Equal(t, "profile-uuid", result.Profile.ID)

	t.Run("every stage executed exactly once", func(t *testing.T) {
		assert.Equal(t, 1, provider.count("/devicecode"))
		assert.Equal(t, 1, provider.count("/token"))
		assert.Equal(t, 1, provider.count("/user/authenticate"))
		assert.Equal(t, 1, provider.count("/xsts/authorize"))
		assert.Equal(t, 1, provider.count("/authentication/login_with_xbox"))
		assert.Equal(t, 1, provider.count("/entitlements/mcstore"))
		assert.Equal(t, 1, provider.count("/minecraft/profile"))
	})

	t.Run("device code surfaced through the handler", func(t *testing.T) {
		require.Len(t, codes, 1)
		assert.Equal(t, "ABCD-1234", codes[0].UserCode)
		assert.Equal(t, "https://example.com/link", codes[0].VerificationURI)
		assert.Contains(t, codes[0].Message, "ABCD-1234")
		assert.Contains(t, codes[0].Message, "https://example.com/link")
	})

	t.Run("every stage persisted", func(t *testing.T) {
		cache := cacheFor(t, cfg)

		msa, err := cache.MSAToken("steve")
		require.NoError(t, err)
		assert.Equal(t, "msa-access", msa.AccessToken)
		assert.Equal(t, "msa-refresh", msa.RefreshToken)

		user, err := cache.UserToken("steve")
		require.NoError(t, err)
		assert.Equal(t, "xbox-user-token", user.Token)
		assert.Equal(t, "user-hash", user.UserHash)

		xsts, err := cache.XSTSToken("steve")
		require.NoError(t, err)
		assert.Equal(t, "xsts-token", xsts.Token)

		mc, err := cache.MinecraftToken("steve")
		require.NoError(t, err)
		assert.Equal(t, "mc-access-token", mc.AccessToken)
		require.NotNil(t, mc.Profile)
		assert.Equal(t, "Steve", mc.Profile.Name)
	})

	t.Run("second login is served from cache with no network calls", func(t *testing.T) {
		before := provider.totalRequests()

		again, err := flow.Login(context.Background())
		require.NoError(t, err)
		assert.Equal(t, result, again)
		assert.Equal(t, before, provider.totalRequests())
	})
}

func TestFlow_Login_CachedMinecraftToken(t *testing.T) {
	t.Run("valid cached token short-circuits without network calls", func(t *testing.T) {
		provider := newFakeProvider(t)
		cfg := provider.config(t, "steve")
		cache := cacheFor(t, cfg)
		require.NoError(t, cache.SetMinecraftToken("steve", tokencache.MinecraftToken{
			AccessToken: "cached-token",
			ExpiresAt:   time.Now().Add(12 * time.Hour),
			Profile:     &tokencache.Profile{ID: "uuid", Name: "Steve"},
		}))

		flow, err := authflow.New(cfg)
		require.NoError(t, err)

		result, err := flow.Login(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "cached-token", result.AccessToken)
		assert.Zero(t, provider.totalRequests())
	})

	t.Run("token without expiry metadata is trusted", func(t *testing.T) {
		provider := newFakeProvider(t)
		cfg := provider.config(t, "steve")
		cache := cacheFor(t, cfg)
		require.NoError(t, cache.SetMinecraftToken("steve", tokencache.MinecraftToken{
			AccessToken: "legacy-token",
			Profile:     &tokencache.Profile{ID: "uuid", Name: "Steve"},
		}))

		flow, err := authflow.New(cfg)
		require.NoError(t, err)

		result, err := flow.Login(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "legacy-token", result.AccessToken)
		assert.Zero(t, provider.totalRequests())
	})

	t.Run("expired token is rebuilt unless trusted", func(t *testing.T) {
		provider := newFakeProvider(t)
		cfg := provider.config(t, "steve")
		cache := cacheFor(t, cfg)
		require.NoError(t, cache.SetMinecraftToken("steve", tokencache.MinecraftToken{
			AccessToken: "stale-token",
			ExpiresAt:   time.Now().Add(-time.Hour),
			Profile:     &tokencache.Profile{ID: "uuid", Name: "Steve"},
		}))
		// Valid user token lets the rebuild skip the interactive login.
		require.NoError(t, cache.SetUserToken("steve", tokencache.Record{
			Token:     "xbox-user-token",
			UserHash:  "user-hash",
			ExpiresAt: time.Now().Add(12 * time.Hour),
		}))

		flow, err := authflow.New(cfg)
		require.NoError(t, err)

		result, err := flow.Login(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "mc-access-token", result.AccessToken)
		assert.Zero(t, provider.count("/devicecode"))
	})

	t.Run("expired token is returned when trust is configured", func(t *testing.T) {
		provider := newFakeProvider(t)
		cfg := provider.config(t, "steve")
		cfg.TrustCachedMinecraftToken = true
		cache := cacheFor(t, cfg)
		require.NoError(t, cache.SetMinecraftToken("steve", tokencache.MinecraftToken{
			AccessToken: "stale-token",
			ExpiresAt:   time.Now().Add(-time.Hour),
			Profile:     &tokencache.Profile{ID: "uuid", Name: "Steve"},
		}))

		flow, err := authflow.New(cfg)
		require.NoError(t, err)

		result, err := flow.Login(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "stale-token", result.AccessToken)
		assert.Zero(t, provider.totalRequests())
	})

	t.Run("cached token without profile fetches only the profile", func(t *testing.T) {
		provider := newFakeProvider(t)
		cfg := provider.config(t, "steve")
		cache := cacheFor(t, cfg)
		require.NoError(t, cache.SetMinecraftToken("steve", tokencache.MinecraftToken{
			AccessToken: "mc-access-token",
			ExpiresAt:   time.Now().Add(12 * time.Hour),
		}))

		flow, err := authflow.New(cfg)
		require.NoError(t, err)

		result, err := flow.Login(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Steve", result.Profile.Name)
		assert.Equal(t, 1, provider.count("/minecraft/profile"))
		assert.Equal(t, 1, provider.totalRequests())

		// The snapshot is now persisted for the next run.
		mc, err := cache.MinecraftToken("steve")
		require.NoError(t, err)
		require.NotNil(t, mc.Profile)
	})
}

func TestFlow_Login_XSTSRefresh(t *testing.T) {
	// Expired XSTS token, valid user token: only the exchange fires,
	// never the device-code flow.
	provider := newFakeProvider(t)
	cfg := provider.config(t, "steve")
	cache := cacheFor(t, cfg)
	require.NoError(t, cache.SetUserToken("steve", tokencache.Record{
		Token:     "xbox-user-token",
		UserHash:  "user-hash",
		ExpiresAt: time.Now().Add(12 * time.Hour),
	}))
	require.NoError(t, cache.SetXSTSToken("steve", tokencache.Record{
		Token:     "stale-xsts",
		UserHash:  "user-hash",
		ExpiresAt: time.Now().Add(-time.Hour),
	}))

	flow, err := authflow.New(cfg)
	require.NoError(t, err)

	result, err := flow.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mc-access-token", result.AccessToken)

	assert.Equal(t, 1, provider.count("/xsts/authorize"))
	assert.Zero(t, provider.count("/user/authenticate"))
	assert.Zero(t, provider.count("/devicecode"))
	assert.Zero(t, provider.count("/token"))
}

func TestFlow_Login_MSARefreshGrant(t *testing.T) {
	// Expired MSA access token with a refresh token: the refresh grant
	// fires instead of the interactive device-code flow.
	provider := newFakeProvider(t)
	cfg := provider.config(t, "steve")
	cache := cacheFor(t, cfg)
	require.NoError(t, cache.SetMSAToken("steve", &oauth2.Token{
		AccessToken:  "stale-msa",
		RefreshToken: "msa-refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	flow, err := authflow.New(cfg)
	require.NoError(t, err)

	_, err = flow.Login(context.Background())
	require.NoError(t, err)

	assert.Zero(t, provider.count("/devicecode"))
	assert.Equal(t, 1, provider.count("/token"))
	provider.mu.Lock()
	assert.True(t, provider.tokenGrants["refresh_token"])
	provider.mu.Unlock()
}

func TestFlow_Login_XSTSDenied(t *testing.T) {
	provider := newFakeProvider(t)
	provider.xstsDenyXErr = 2148916233 // no Xbox profile
	cfg := provider.config(t, "steve")
	cache := cacheFor(t, cfg)
	require.NoError(t, cache.SetUserToken("steve", tokencache.Record{
		Token:     "xbox-user-token",
		UserHash:  "user-hash",
		ExpiresAt: time.Now().Add(12 * time.Hour),
	}))

	flow, err := authflow.New(cfg)
	require.NoError(t, err)

	_, err = flow.Login(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
	errutil.AssertErrorContext(t, err, "xerr", int64(2148916233))
	assert.Contains(t, err.Error(), "no Xbox profile")
}

func TestFlow_Login_NotEntitled(t *testing.T) {
	provider := newFakeProvider(t)
	provider.entitled = false
	cfg := provider.config(t, "steve")
	cache := cacheFor(t, cfg)
	require.NoError(t, cache.SetUserToken("steve", tokencache.Record{
		Token:     "xbox-user-token",
		UserHash:  "user-hash",
		ExpiresAt: time.Now().Add(12 * time.Hour),
	}))

	flow, err := authflow.New(cfg)
	require.NoError(t, err)

	_, err = flow.Login(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_NOT_ENTITLED")

	t.Run("skip flag bypasses the check", func(t *testing.T) {
		cfg := provider.config(t, "alex")
		cfg.SkipEntitlementCheck = true
		cache := cacheFor(t, cfg)
		require.NoError(t, cache.SetUserToken("alex", tokencache.Record{
			Token:     "xbox-user-token",
			UserHash:  "user-hash",
			ExpiresAt: time.Now().Add(12 * time.Hour),
		}))

		flow, err := authflow.New(cfg)
		require.NoError(t, err)

		_, err = flow.Login(context.Background())
		require.NoError(t, err)
	})
}

func TestFlow_Login_Cancellation(t *testing.T) {
	// The device-code stage blocks on user action; the caller's context
	// is the only way out.
	mux := http.NewServeMux()
	mux.HandleFunc("/devicecode", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"device_code":      "dc",
			"user_code":        "ABCD-1234",
			"verification_uri": "https://example.com/link",
			"expires_in":       900,
			"interval":         1,
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]any{"error": "authorization_pending"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	flow, err := authflow.New(authflow.Config{
		Username:      "steve",
		ClientID:      "client-id",
		CacheDir:      t.TempDir(),
		DeviceAuthURL: srv.URL + "/devicecode",
		TokenURL:      srv.URL + "/token",
		HTTPClient:    srv.Client(),
		OnDeviceCode:  func(authflow.DeviceCode) {},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = flow.Login(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_Validation(t *testing.T) {
	t.Run("requires a username", func(t *testing.T) {
		_, err := authflow.New(authflow.Config{ClientID: "c"})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "FLOW_BAD_CONFIG")
	})

	t.Run("requires a client id", func(t *testing.T) {
		_, err := authflow.New(authflow.Config{Username: "steve"})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "FLOW_BAD_CONFIG")
	})
}
