// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

// Package tokencache provides typed access to the token slots of a
// principal's cache document.
//
// A Cache holds a docstore.Store and delegates to it; it deliberately does
// not expose the generic document operations. Every setter goes through
// Update, so writing one token slot never destroys its siblings.
package tokencache

import (
	"errors"
	"time"

	"github.com/samber/oops"
	"golang.org/x/oauth2"

	"github.com/RepeaterTS/yggdrasil/internal/docstore"
)

// ErrNotFound is returned when a principal has no cached document or the
// requested token slot is absent.
var ErrNotFound = errors.New("token not cached")

// DefaultGraceWindow is the margin before a token's stated expiry at which
// it is proactively treated as unusable. A minute is the smallest window
// that survives clock skew plus a slow network hop; token lifetimes are on
// the order of hours.
const DefaultGraceWindow = time.Minute

// Document slot names within a principal's cache document.
const (
	slotXbox      = "xbox"
	slotUserToken = "user_token"
	slotXSTSToken = "xsts_token"
	slotMSA       = "msa"
	slotMinecraft = "minecraft"
)

// Record is one cached token with its expiry and, for Xbox-issued tokens,
// the user hash paired with it.
type Record struct {
	Token     string
	UserHash  string
	ExpiresAt time.Time
	Raw       map[string]any
}

// ValidAt reports whether the record is still usable at the given instant:
// the token must not be within grace of its expiry. A record without
// expiry metadata is never considered valid.
func (r Record) ValidAt(now time.Time, grace time.Duration) bool {
	if r.Token == "" || r.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(grace).Before(r.ExpiresAt)
}

// Profile is the immutable profile snapshot stored alongside the Minecraft
// access token.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MinecraftToken is the cached game access token. ExpiresAt is zero for
// records written before expiry tracking existed; such records are trusted
// or rejected according to the orchestrator's configuration.
type MinecraftToken struct {
	AccessToken string
	ExpiresAt   time.Time
	Profile     *Profile
}

// Cache reads and writes token slots for principals.
type Cache struct {
	store *docstore.Store
	grace time.Duration
}

// New creates a Cache over store. A non-positive grace falls back to
// DefaultGraceWindow.
func New(store *docstore.Store, grace time.Duration) *Cache {
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Cache{store: store, grace: grace}
}

// GraceWindow returns the configured expiry grace window.
func (c *Cache) GraceWindow() time.Duration {
	return c.grace
}

// Valid reports whether the record is usable right now under the cache's
// grace window.
func (c *Cache) Valid(r Record) bool {
	return r.ValidAt(time.Now(), c.grace)
}

// UserToken returns the cached device-linked Xbox user token.
func (c *Cache) UserToken(username string) (Record, error) {
	return c.xboxSlot(username, slotUserToken)
}

// XSTSToken returns the cached relying-party (XSTS) token.
func (c *Cache) XSTSToken(username string) (Record, error) {
	return c.xboxSlot(username, slotXSTSToken)
}

// SetUserToken persists the Xbox user token without touching sibling slots.
func (c *Cache) SetUserToken(username string, rec Record) error {
	return c.setXboxSlot(username, slotUserToken, rec)
}

// SetXSTSToken persists the XSTS token without touching sibling slots.
func (c *Cache) SetXSTSToken(username string, rec Record) error {
	return c.setXboxSlot(username, slotXSTSToken, rec)
}

func (c *Cache) xboxSlot(username, slot string) (Record, error) {
	doc, err := c.store.Get(username)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	xbox, ok := doc[slotXbox].(map[string]any)
	if !ok {
		return Record{}, ErrNotFound
	}
	raw, ok := xbox[slot].(map[string]any)
	if !ok {
		return Record{}, ErrNotFound
	}
	rec := Record{
		Token:     str(raw["token"]),
		UserHash:  str(raw["user_hash"]),
		ExpiresAt: parseTime(str(raw["not_after"])),
		Raw:       raw,
	}
	if rec.Token == "" {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (c *Cache) setXboxSlot(username, slot string, rec Record) error {
	if rec.Token == "" {
		return oops.Code("CACHE_EMPTY_TOKEN").
			With("slot", slot).
			Errorf("refusing to cache an empty token")
	}
	return c.store.Update(username, docstore.Document{
		slotXbox: map[string]any{
			slot: map[string]any{
				"token":     rec.Token,
				"user_hash": rec.UserHash,
				"not_after": rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
			},
		},
	})
}

// MSAToken returns the cached first-party (Microsoft account) OAuth token.
func (c *Cache) MSAToken(username string) (*oauth2.Token, error) {
	doc, err := c.store.Get(username)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	raw, ok := doc[slotMSA].(map[string]any)
	if !ok {
		return nil, ErrNotFound
	}
	tok := &oauth2.Token{
		AccessToken:  str(raw["access_token"]),
		RefreshToken: str(raw["refresh_token"]),
		TokenType:    str(raw["token_type"]),
		Expiry:       parseTime(str(raw["expiry"])),
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNotFound
	}
	return tok, nil
}

// SetMSAToken persists the Microsoft account OAuth token.
func (c *Cache) SetMSAToken(username string, tok *oauth2.Token) error {
	return c.store.Update(username, docstore.Document{
		slotMSA: map[string]any{
			"access_token":  tok.AccessToken,
			"refresh_token": tok.RefreshToken,
			"token_type":    tok.TokenType,
			"expiry":        tok.Expiry.UTC().Format(time.RFC3339Nano),
		},
	})
}

// MinecraftToken returns the cached game access token and profile snapshot.
func (c *Cache) MinecraftToken(username string) (MinecraftToken, error) {
	doc, err := c.store.Get(username)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return MinecraftToken{}, ErrNotFound
		}
		return MinecraftToken{}, err
	}
	raw, ok := doc[slotMinecraft].(map[string]any)
	if !ok {
		return MinecraftToken{}, ErrNotFound
	}
	mc := MinecraftToken{
		AccessToken: str(raw["access_token"]),
		ExpiresAt:   parseTime(str(raw["expires_at"])),
	}
	if mc.AccessToken == "" {
		return MinecraftToken{}, ErrNotFound
	}
	if profile, ok := raw["profile"].(map[string]any); ok {
		mc.Profile = &Profile{
			ID:   str(profile["id"]),
			Name: str(profile["name"]),
		}
	}
	return mc, nil
}

// SetMinecraftToken persists the game access token. A zero ExpiresAt is
// stored as absent, preserving the "no expiry metadata" state.
func (c *Cache) SetMinecraftToken(username string, mc MinecraftToken) error {
	if mc.AccessToken == "" {
		return oops.Code("CACHE_EMPTY_TOKEN").
			With("slot", slotMinecraft).
			Errorf("refusing to cache an empty token")
	}
	slot := map[string]any{
		"access_token": mc.AccessToken,
	}
	if !mc.ExpiresAt.IsZero() {
		slot["expires_at"] = mc.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	if mc.Profile != nil {
		slot["profile"] = map[string]any{
			"id":   mc.Profile.ID,
			"name": mc.Profile.Name,
		}
	}
	return c.store.Update(username, docstore.Document{slotMinecraft: slot})
}

// Delete removes a principal's entire cache document.
func (c *Cache) Delete(username string) error {
	err := c.store.Delete(username)
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// parseTime parses an RFC3339 timestamp, tolerating fractional seconds of
// any precision (Xbox NotAfter values carry seven digits). Zero on failure.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
