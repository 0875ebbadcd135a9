// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

// Package session implements the Minecraft server handshake: the client's
// join call and the server's hasJoined verification.
package session

import (
	"context"
	"net/url"

	"github.com/samber/oops"

	"github.com/RepeaterTS/yggdrasil/internal/mcdigest"
	"github.com/RepeaterTS/yggdrasil/internal/rest"
)

// DefaultHost serves the session/minecraft endpoints. Historically the
// same host as the legacy authentication server.
const DefaultHost = "https://authserver.mojang.com"

// Profile is the authoritative profile returned by hasJoined.
type Profile struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Properties []Property `json:"properties,omitempty"`
}

// Property is a signed profile attribute (skin textures and the like).
type Property struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

// Client performs session handshake calls.
type Client struct {
	rest *rest.Client
	host string
}

// NewClient creates a Client against host (DefaultHost when empty).
func NewClient(rc *rest.Client, host string) *Client {
	if host == "" {
		host = DefaultHost
	}
	return &Client{rest: rc, host: host}
}

// Join announces the client's session to the session server. The server
// id submitted on the wire is the verification hash derived from the
// handshake secrets, not the raw server id.
func (c *Client) Join(ctx context.Context, accessToken, profileID, serverID, sharedSecret, serverPublicKey string) error {
	return c.rest.PostJSON(ctx, c.host+"/session/minecraft/join", nil, map[string]any{
		"accessToken":     accessToken,
		"selectedProfile": profileID,
		"serverId":        mcdigest.Sum(serverID, sharedSecret, serverPublicKey),
	}, nil)
}

// HasJoined asks the session server whether username completed a join
// with the same handshake secrets. A response without a profile id means
// verification failed, which is distinct from any transport error.
func (c *Client) HasJoined(ctx context.Context, username, serverID, sharedSecret, serverPublicKey string) (*Profile, error) {
	query := url.Values{
		"username": {username},
		"serverId": {mcdigest.Sum(serverID, sharedSecret, serverPublicKey)},
	}

	var profile Profile
	err := c.rest.GetJSON(ctx, c.host+"/session/minecraft/hasJoined?"+query.Encode(), nil, &profile)
	if err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, oops.Code("JOIN_VERIFICATION_FAILED").
			With("username", username).
			Errorf("failed to verify username")
	}
	return &profile, nil
}
