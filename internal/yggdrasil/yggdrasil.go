// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

// Package yggdrasil is a client for the legacy Mojang authentication
// endpoints (authenticate, refresh, validate, signout). Every call is a
// stateless single-request wrapper; nothing here touches the token cache.
package yggdrasil

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/RepeaterTS/yggdrasil/internal/rest"
)

// DefaultHost is the legacy Mojang authentication server.
const DefaultHost = "https://authserver.mojang.com"

// DefaultAgentName is the agent reported when the caller does not name one.
const DefaultAgentName = "Minecraft"

// Client talks to a legacy yggdrasil-protocol authentication server.
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

// Agent identifies the game to the authentication server.
type Agent struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// Profile is a game profile attached to an account.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Legacy bool   `json:"legacy,omitempty"`
}

// AuthenticateOptions configures an Authenticate call.
type AuthenticateOptions struct {
	Username string
	Password string
	// ClientToken is the client-chosen opaque token. When empty one is
	// minted, unless OmitClientToken is set.
	ClientToken     string
	OmitClientToken bool
	// AgentName defaults to DefaultAgentName; AgentVersion defaults to 1
	// for the default agent.
	AgentName    string
	AgentVersion int
	RequestUser  bool
}

// AuthenticateResponse is the server's reply to a successful login.
type AuthenticateResponse struct {
	AccessToken       string         `json:"accessToken"`
	ClientToken       string         `json:"clientToken"`
	SelectedProfile   *Profile       `json:"selectedProfile"`
	AvailableProfiles []Profile      `json:"availableProfiles"`
	User              map[string]any `json:"user,omitempty"`
}

// Authenticate logs in with username and password.
func (c *Client) Authenticate(ctx context.Context, opts AuthenticateOptions) (*AuthenticateResponse, error) {
	if opts.Username == "" || opts.Password == "" {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").
			Errorf("username and password are required")
	}

	agentName := opts.AgentName
	if agentName == "" {
		agentName = DefaultAgentName
	}
	agentVersion := opts.AgentVersion
	if agentName == DefaultAgentName || agentVersion == 0 {
		agentVersion = 1
	}

	payload := map[string]any{
		"agent":       Agent{Name: agentName, Version: agentVersion},
		"username":    opts.Username,
		"password":    opts.Password,
		"requestUser": opts.RequestUser,
	}
	if !opts.OmitClientToken {
		token := opts.ClientToken
		if token == "" {
			token = ulid.Make().String()
		}
		payload["clientToken"] = token
	}

	var out AuthenticateResponse
	if err := c.rest.PostJSON(ctx, c.host+"/authenticate", nil, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshResponse is the server's reply to a token refresh.
type RefreshResponse struct {
	AccessToken     string         `json:"accessToken"`
	ClientToken     string         `json:"clientToken"`
	SelectedProfile *Profile       `json:"selectedProfile"`
	User            map[string]any `json:"user,omitempty"`
}

// Refresh exchanges an old access token for a fresh one. The server must
// echo the client token back; a mismatch is a protocol violation.
func (c *Client) Refresh(ctx context.Context, accessToken, clientToken string, requestUser bool) (string, *RefreshResponse, error) {
	var out RefreshResponse
	err := c.rest.PostJSON(ctx, c.host+"/refresh", nil, map[string]any{
		"accessToken": accessToken,
		"clientToken": clientToken,
		"requestUser": requestUser,
	}, &out)
	if err != nil {
		return "", nil, err
	}
	if out.ClientToken != clientToken {
		return "", nil, oops.Code("PROTOCOL_VIOLATION").
			With("sent", clientToken).
			With("received", out.ClientToken).
			Errorf("clientToken assertion failed")
	}
	return out.AccessToken, &out, nil
}

// Validate checks whether an access token is still usable. A nil error
// means the token is valid.
func (c *Client) Validate(ctx context.Context, accessToken string) error {
	return c.rest.PostJSON(ctx, c.host+"/validate", nil, map[string]any{
		"accessToken": accessToken,
	}, nil)
}

// Signout invalidates every access token for the account.
func (c *Client) Signout(ctx context.Context, username, password string) error {
	return c.rest.PostJSON(ctx, c.host+"/signout", nil, map[string]any{
		"username": username,
		"password": password,
	}, nil)
}
