// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package observability_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RepeaterTS/yggdrasil/internal/observability"
)

func TestServer_Lifecycle(t *testing.T) {
	srv := observability.NewServer("127.0.0.1:0", nil)

	errCh, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})

	t.Run("rejects double start", func(t *testing.T) {
		_, err := srv.Start()
		assert.Error(t, err)
	})

	t.Run("serves health probe", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("http://%s/healthz", srv.Addr()))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("serves readiness probe", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("http://%s/readyz", srv.Addr()))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("serves metrics", func(t *testing.T) {
		observability.RecordStage("minecraft_token", observability.OutcomeCacheHit)

		resp, err := http.Get(fmt.Sprintf("http://%s/metrics", srv.Addr()))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "yggdrasil_flow_stage_total")
	})

	t.Run("reports not ready", func(t *testing.T) {
		notReady := observability.NewServer("127.0.0.1:0", func() bool { return false })
		_, err := notReady.Start()
		require.NoError(t, err)
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = notReady.Stop(ctx)
		})

		resp, err := http.Get(fmt.Sprintf("http://%s/readyz", notReady.Addr()))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("stops cleanly", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, srv.Stop(ctx))

		select {
		case err, ok := <-errCh:
			if ok {
				t.Fatalf("unexpected serve error: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("error channel not closed after stop")
		}
	})
}
