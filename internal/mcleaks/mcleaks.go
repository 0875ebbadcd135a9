// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

// Package mcleaks is a client for the MCLeaks alt-token service: redeem
// an alt token for a session, then announce server joins through the
// service instead of the regular session server.
package mcleaks

import (
	"context"

	"github.com/samber/oops"

	"github.com/RepeaterTS/yggdrasil/internal/rest"
)

// DefaultHost is the public MCLeaks API endpoint.
const DefaultHost = "https://auth.mcleaks.net/v1"

// Session is a redeemed alt: the account name and the session id used
// for subsequent calls on its behalf.
type Session struct {
	Name string
	ID   string
}

// Client talks to an MCLeaks-protocol alt-token server.
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

// envelope is the response wrapper shared by every MCLeaks endpoint.
type envelope struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage"`
	Result       struct {
		MCName  string `json:"mcname"`
		Session string `json:"session"`
	} `json:"result"`
}

// Redeem exchanges an alt token for a session.
func (c *Client) Redeem(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").
			Errorf("alt token is required")
	}

	var resp envelope
	err := c.rest.PostJSON(ctx, c.host+"/redeem", nil, map[string]any{
		"token": token,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").
			With("provider_message", resp.ErrorMessage).
			Errorf("alt token rejected")
	}
	return &Session{Name: resp.Result.MCName, ID: resp.Result.Session}, nil
}

// JoinServer announces a server join on behalf of the redeemed alt. The
// service relays the call to the regular session server, so serverHash
// is the same handshake digest a direct join would submit, and server is
// the "host:port" address being joined.
func (c *Client) JoinServer(ctx context.Context, session Session, serverHash, server string) error {
	var resp envelope
	err := c.rest.PostJSON(ctx, c.host+"/joinserver", nil, map[string]any{
		"session":    session.ID,
		"mcname":     session.Name,
		"serverhash": serverHash,
		"server":     server,
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.Success {
		return oops.Code("JOIN_VERIFICATION_FAILED").
			With("mcname", session.Name).
			With("provider_message", resp.ErrorMessage).
			Errorf("alt join rejected")
	}
	return nil
}
