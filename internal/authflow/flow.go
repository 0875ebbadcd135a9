// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

// Package authflow drives the layered credential chain that turns a
// long-lived Microsoft device login into a short-lived Minecraft session
// token.
//
// The chain has four stages, each gated by a cached-and-valid check:
//
//  1. cached Minecraft access token (+ profile snapshot)
//  2. cached XSTS relying-party token
//  3. Xbox device-linked user token
//  4. interactive Microsoft device-code login
//
// Every successful exchange is persisted before the next network call, so
// a crash mid-chain leaves the cache valid and re-invoking the chain
// resumes from the last persisted stage. The orchestrator never retries a
// failed exchange; callers re-invoke the chain if they want retries.
package authflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/RepeaterTS/yggdrasil/internal/docstore"
	"github.com/RepeaterTS/yggdrasil/internal/observability"
	"github.com/RepeaterTS/yggdrasil/internal/rest"
	"github.com/RepeaterTS/yggdrasil/internal/tokencache"
	"github.com/RepeaterTS/yggdrasil/internal/xdg"
)

var tracer = otel.Tracer("yggdrasil/authflow")

// Stage names for metrics and spans.
const (
	stageMinecraft  = "minecraft_token"
	stageXSTS       = "xsts_token"
	stageUserToken  = "user_token"
	stageDeviceCode = "device_code"
)

// Default endpoints. All are overridable through Config for testing and
// for third-party deployments of the same protocol.
const (
	DefaultServicesHost     = "https://api.minecraftservices.com"
	DefaultXboxUserAuthHost = "https://user.auth.xboxlive.com"
	DefaultXboxXSTSHost     = "https://xsts.auth.xboxlive.com"
	DefaultRelyingParty     = "rp://api.minecraftservices.com/"
	DefaultDeviceAuthURL    = "https://login.microsoftonline.com/consumers/oauth2/v2.0/devicecode"
	DefaultTokenURL         = "https://login.microsoftonline.com/consumers/oauth2/v2.0/token"
)

// DefaultScopes are the OAuth scopes requested from the Microsoft
// identity platform. offline_access yields the refresh token that lets
// later chain runs skip the interactive login.
var DefaultScopes = []string{"XboxLive.signin", "offline_access"}

// DeviceCode is the out-of-band login challenge surfaced to the caller.
type DeviceCode struct {
	UserCode        string
	VerificationURI string
	Message         string
	ExpiresAt       time.Time
}

// DeviceCodeHandler receives the device-code challenge at the moment it
// becomes available, before the orchestrator starts polling for
// redemption. It is invoked synchronously.
type DeviceCodeHandler func(DeviceCode)

// Config configures a Flow. It is copied on construction and never
// mutated afterwards; a single Config value can build many flows.
type Config struct {
	// Username keys the principal's cache document.
	Username string
	// ClientID is the Microsoft identity platform public client id.
	ClientID string
	// CacheDir overrides the default token cache directory.
	CacheDir string
	// Scopes overrides DefaultScopes.
	Scopes []string
	// GraceWindow is the margin before expiry at which a token is
	// treated as unusable. Zero means tokencache.DefaultGraceWindow.
	GraceWindow time.Duration
	// TrustCachedMinecraftToken skips the expiry check on the cached
	// Minecraft access token, reproducing the historical behavior of
	// trusting the cache unconditionally. The default (false) applies
	// the same grace check as every other token. Cached tokens written
	// without expiry metadata are trusted either way.
	TrustCachedMinecraftToken bool
	// SkipEntitlementCheck disables the game-ownership check after
	// profile login.
	SkipEntitlementCheck bool

	ServicesHost     string
	XboxUserAuthHost string
	XboxXSTSHost     string
	RelyingParty     string
	DeviceAuthURL    string
	TokenURL         string

	// HTTPClient is used for every outbound call, including the OAuth
	// device-code exchange. Nil means http.DefaultClient.
	HTTPClient *http.Client
	// Logger receives flow progress. Nil discards.
	Logger *slog.Logger
	// OnDeviceCode surfaces the interactive login challenge. Nil logs
	// the challenge through Logger instead.
	OnDeviceCode DeviceCodeHandler
}

func (cfg Config) withDefaults() Config {
	if cfg.CacheDir == "" {
		cfg.CacheDir = xdg.CacheDir()
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = tokencache.DefaultGraceWindow
	}
	if cfg.ServicesHost == "" {
		cfg.ServicesHost = DefaultServicesHost
	}
	if cfg.XboxUserAuthHost == "" {
		cfg.XboxUserAuthHost = DefaultXboxUserAuthHost
	}
	if cfg.XboxXSTSHost == "" {
		cfg.XboxXSTSHost = DefaultXboxXSTSHost
	}
	if cfg.RelyingParty == "" {
		cfg.RelyingParty = DefaultRelyingParty
	}
	if cfg.DeviceAuthURL == "" {
		cfg.DeviceAuthURL = DefaultDeviceAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return cfg
}

// Result is a completed login: a usable game access token and the profile
// it belongs to.
type Result struct {
	AccessToken string
	Profile     tokencache.Profile
}

// Flow orchestrates the credential chain for one principal.
type Flow struct {
	cfg    Config
	store  *docstore.Store
	cache  *tokencache.Cache
	rest   *rest.Client
	oauth  oauth2.Config
	logger *slog.Logger
}

// New creates a Flow for cfg.Username, ensuring the cache directory
// exists.
func New(cfg Config) (*Flow, error) {
	if cfg.Username == "" {
		return nil, oops.Code("FLOW_BAD_CONFIG").Errorf("username is required")
	}
	if cfg.ClientID == "" {
		return nil, oops.Code("FLOW_BAD_CONFIG").Errorf("client id is required")
	}
	cfg = cfg.withDefaults()

	store := docstore.New(cfg.CacheDir)
	if err := store.Init(); err != nil {
		return nil, err
	}

	return &Flow{
		cfg:   cfg,
		store: store,
		cache: tokencache.New(store, cfg.GraceWindow),
		rest: rest.NewClient(
			rest.WithHTTPClient(cfg.HTTPClient),
			rest.WithLogger(cfg.Logger),
		),
		oauth: oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: cfg.DeviceAuthURL,
				TokenURL:      cfg.TokenURL,
			},
		},
		logger: cfg.Logger.With("username", cfg.Username),
	}, nil
}

// Cache exposes the principal token cache (for signout and inspection).
func (f *Flow) Cache() *tokencache.Cache {
	return f.cache
}

// Login runs the credential chain and returns a usable game access token
// with its profile. Stages execute strictly in order; whatever credential
// is cached and valid short-circuits the stages below it.
func (f *Flow) Login(ctx context.Context) (result *Result, err error) {
	ctx, span := tracer.Start(ctx, "authflow.login",
		trace.WithAttributes(attribute.String("principal", f.cfg.Username)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if result, err = f.cachedMinecraftToken(ctx); err == nil {
		observability.RecordStage(stageMinecraft, observability.OutcomeCacheHit)
		f.logger.Debug("using cached minecraft token")
		return result, nil
	} else if !isCacheMiss(err) {
		observability.RecordStage(stageMinecraft, observability.OutcomeError)
		return nil, err
	}

	xsts, err := f.xstsToken(ctx)
	if err != nil {
		return nil, err
	}

	return f.minecraftLogin(ctx, xsts)
}

// cachedMinecraftToken resolves stage 1 from the cache alone. A cache
// miss error (tokencache.ErrNotFound) tells Login to fall through.
func (f *Flow) cachedMinecraftToken(ctx context.Context) (*Result, error) {
	mc, err := f.cache.MinecraftToken(f.cfg.Username)
	if err != nil {
		return nil, err
	}

	// Tokens written before expiry tracking have no expiry metadata and
	// are trusted; tracked tokens pass the grace check unless the
	// caller opted into the historical trust-the-cache behavior.
	if !mc.ExpiresAt.IsZero() && !f.cfg.TrustCachedMinecraftToken {
		if !time.Now().Add(f.cache.GraceWindow()).Before(mc.ExpiresAt) {
			return nil, tokencache.ErrNotFound
		}
	}

	if mc.Profile == nil {
		// A crash between token persistence and profile fetch leaves
		// the token cached without its snapshot; finish the job here.
		profile, err := f.fetchProfile(ctx, mc.AccessToken)
		if err != nil {
			return nil, err
		}
		mc.Profile = profile
		if err := f.cache.SetMinecraftToken(f.cfg.Username, mc); err != nil {
			return nil, err
		}
	}

	return &Result{AccessToken: mc.AccessToken, Profile: *mc.Profile}, nil
}

func isCacheMiss(err error) bool {
	return errors.Is(err, tokencache.ErrNotFound)
}
