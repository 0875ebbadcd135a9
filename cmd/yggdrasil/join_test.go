// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package main

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSecret = base64.StdEncoding.EncodeToString([]byte("shared-secret"))
	testKey    = base64.StdEncoding.EncodeToString([]byte("server-public-key"))
)

func TestJoinCommand_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "missing server id",
			args: []string{"join", "--shared-secret", testSecret, "--server-key", testKey},
			want: "server-id",
		},
		{
			name: "shared secret not base64",
			args: []string{"join", "--server-id", "srv", "--shared-secret", "not base64!", "--server-key", testKey},
			want: "base64",
		},
		{
			name: "server key not base64",
			args: []string{"join", "--server-id", "srv", "--shared-secret", testSecret, "--server-key", "not base64!"},
			want: "base64",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestJoinCommand_RequiresCachedLogin(t *testing.T) {
	_, _, err := execute(t, "join",
		"--username", "steve",
		"--cache-dir", t.TempDir(),
		"--server-id", "srv",
		"--shared-secret", testSecret,
		"--server-key", testKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cached login")
}

func TestJoinCommand_Success(t *testing.T) {
	dir := t.TempDir()
	seedLogin(t, dir, "steve")

	var joined struct {
		AccessToken     string `json:"accessToken"`
		SelectedProfile string `json:"selectedProfile"`
		ServerID        string `json:"serverId"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/minecraft/join", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&joined))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	out, _, err := execute(t, "join",
		"--username", "steve",
		"--cache-dir", dir,
		"--auth-host", srv.URL,
		"--server-id", "srv",
		"--shared-secret", testSecret,
		"--server-key", testKey)
	require.NoError(t, err)

	assert.Contains(t, out, "joined")
	assert.Equal(t, "cached-token", joined.AccessToken)
	assert.Equal(t, "profile-uuid", joined.SelectedProfile)
	assert.NotEmpty(t, joined.ServerID, "join must send the computed server hash")
}

func TestHasJoinedCommand_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/minecraft/hasJoined", r.URL.Path)
		assert.Equal(t, "steve", r.URL.Query().Get("username"))
		assert.NotEmpty(t, r.URL.Query().Get("serverId"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":   "profile-uuid",
			"name": "Steve",
		})
	}))
	defer srv.Close()

	out, _, err := execute(t, "has-joined",
		"--username", "steve",
		"--auth-host", srv.URL,
		"--server-id", "srv",
		"--shared-secret", testSecret,
		"--server-key", testKey)
	require.NoError(t, err)

	assert.Contains(t, out, "profile-uuid")
	assert.Contains(t, out, "Steve")
}

func TestHasJoinedCommand_NotJoined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	_, _, err := execute(t, "has-joined",
		"--username", "steve",
		"--auth-host", srv.URL,
		"--server-id", "srv",
		"--shared-secret", testSecret,
		"--server-key", testKey)
	require.Error(t, err)
}
