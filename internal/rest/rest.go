// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

// Package rest is the JSON transport shared by every yggdrasil client.
//
// It implements the provider error-envelope contract: any JSON response
// carrying an "error" field is a failure with "errorMessage" as the
// surfaced message. Non-JSON bodies from endpoints that promised JSON are
// protocol violations, with the known edge-network block pages called out
// by name. The helper never retries; transient failures are the caller's
// problem.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/samber/oops"

	"github.com/RepeaterTS/yggdrasil/internal/observability"
)

// Version is the library version reported in the User-Agent header.
const Version = "2.0.0"

const defaultUserAgent = "go-yggdrasil/" + Version

// Client issues JSON requests with the yggdrasil error conventions.
type Client struct {
	http      *http.Client
	logger    *slog.Logger
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a Client. Defaults: http.DefaultClient, discard
// logger, go-yggdrasil User-Agent.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:      http.DefaultClient,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON sends payload as a JSON POST and decodes the response into out
// (which may be nil).
func (c *Client) PostJSON(ctx context.Context, url string, header http.Header, payload, out any) error {
	return c.do(ctx, http.MethodPost, url, header, payload, out)
}

// GetJSON issues a GET and decodes the response into out (which may be nil).
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	return c.do(ctx, http.MethodGet, url, header, nil, out)
}

func (c *Client) do(ctx context.Context, method, url string, header http.Header, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return oops.Code("PROTOCOL_VIOLATION").
				With("url", url).
				Wrap(err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return oops.Code("NETWORK_FAILURE").
			With("url", url).
			Wrap(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		observability.RecordRequest(method, "network_error")
		return oops.Code("NETWORK_FAILURE").
			With("url", url).
			Wrap(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.RecordRequest(method, "network_error")
		return oops.Code("NETWORK_FAILURE").
			With("url", url).
			Wrap(err)
	}

	c.logger.Debug("request complete",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"bytes", len(raw))

	if len(raw) == 0 {
		if resp.StatusCode >= 400 {
			observability.RecordRequest(method, "provider_error")
			return oops.Code("PROVIDER_ERROR").
				With("url", url).
				With("status", resp.StatusCode).
				Errorf("provider returned status %d with no body", resp.StatusCode)
		}
		observability.RecordRequest(method, "ok")
		return nil
	}

	var envelope struct {
		Error        string `json:"error"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		observability.RecordRequest(method, "protocol_violation")
		return protocolViolation(url, resp.StatusCode, raw, err)
	}

	if envelope.Error != "" {
		observability.RecordRequest(method, "provider_error")
		msg := envelope.ErrorMessage
		if msg == "" {
			msg = envelope.Error
		}
		code := "PROVIDER_ERROR"
		if envelope.Error == "ForbiddenOperationException" {
			code = "AUTH_INVALID_CREDENTIALS"
		}
		return oops.Code(code).
			With("url", url).
			With("status", resp.StatusCode).
			With("provider_error", envelope.Error).
			Errorf("%s", msg)
	}

	if resp.StatusCode >= 400 {
		observability.RecordRequest(method, "provider_error")
		// Decode what we can so callers can inspect provider-specific
		// failure fields (XSTS responses carry XErr, not "error").
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		return oops.Code("PROVIDER_ERROR").
			With("url", url).
			With("status", resp.StatusCode).
			Errorf("provider returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			observability.RecordRequest(method, "protocol_violation")
			return oops.Code("PROTOCOL_VIOLATION").
				With("url", url).
				With("status", resp.StatusCode).
				Wrap(err)
		}
	}
	observability.RecordRequest(method, "ok")
	return nil
}

// protocolViolation classifies a non-JSON response, distinguishing the
// known edge-network block pages from unknown garbage.
func protocolViolation(url string, status int, raw []byte, cause error) error {
	body := string(raw)
	if status == http.StatusForbidden {
		if strings.Contains(body, "Request blocked.") {
			return oops.Code("PROTOCOL_VIOLATION").
				With("url", url).
				With("status", status).
				Errorf("request blocked by CloudFlare")
		}
		if strings.Contains(body, `cf-error-code">1009`) {
			return oops.Code("PROTOCOL_VIOLATION").
				With("url", url).
				With("status", status).
				Errorf("IP banned by CloudFlare")
		}
	}
	return oops.Code("PROTOCOL_VIOLATION").
		With("url", url).
		With("status", status).
		Wrapf(cause, "response is not JSON (status %d)", status)
}
