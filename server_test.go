package authc_test

import (
	"context"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shardkit/authc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_BootsFromConfig(t *testing.T) {
	srv, err := authc.NewServer(context.Background(), authc.Config{
		IssuerBase:   "https://auth.test",
		SQLiteDSN:    "file::memory:?cache=shared",
		TenantHeader: tenantHeader,
	}, nil)
	require.NoError(t, err)
	defer srv.Close()

	resp, body := doJSON(t, srv.App, fiber.MethodPost, "/api/v1/setup", nil, map[string]any{
		"name":     "T1",
		"email":    "owner@x.com",
		"password": "owner-pw",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	tid, _ := body["application_id"].(string)
	require.NotEmpty(t, tid)

	headers := map[string]string{tenantHeader: tid}
	resp, login := doJSON(t, srv.App, fiber.MethodPost, "/api/v1/login", headers, map[string]any{
		"email":    "owner@x.com",
		"password": "owner-pw",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, login["access_token"])

	// The queue-backed sink lands the bootstrap event in the activity log.
	assert.Eventually(t, func() bool {
		events, err := srv.Dir.Activity(tid).Recent(context.Background(), 10)
		return err == nil && len(events) > 0
	}, 2*time.Second, 20*time.Millisecond)
}
