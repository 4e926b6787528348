package authc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shardkit/authc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenantHeader = "X-Tenant-ID"

func newTestApp(t *testing.T) (*fiber.App, *authc.Authenticator) {
	t.Helper()
	auth, _ := newTestAuth()
	app := fiber.New()
	authc.NewHTTPController(auth, tenantHeader).RegisterRoutes(app)
	return app, auth
}

func doJSON(t *testing.T, app *fiber.App, method, path string, headers map[string]string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	decoded := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

func setupViaHTTP(t *testing.T, app *fiber.App) (tenantID string) {
	t.Helper()
	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/setup", nil, map[string]any{
		"name":     "T1",
		"email":    "owner@x.com",
		"password": "owner-pw",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	tenantID, _ = body["application_id"].(string)
	require.NotEmpty(t, tenantID)
	return tenantID
}

func TestHTTP_SetupAndRegister(t *testing.T) {
	app, _ := newTestApp(t)
	tid := setupViaHTTP(t, app)

	headers := map[string]string{tenantHeader: tid}
	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/register", headers, map[string]any{
		"name":     "Bob",
		"email":    "bob@x.com",
		"password": "pw123",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.NotEmpty(t, body["local_id"])
	assert.Equal(t, "bob@x.com", body["email"])
}

func TestHTTP_RegisterDuplicateRendersConflict(t *testing.T) {
	app, _ := newTestApp(t)
	tid := setupViaHTTP(t, app)
	headers := map[string]string{tenantHeader: tid}

	payload := map[string]any{"email": "bob@x.com", "password": "pw123"}
	resp, _ := doJSON(t, app, fiber.MethodPost, "/api/v1/register", headers, payload)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/register", headers, payload)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "duplicate_identity", body["code"])
	assert.NotEmpty(t, body["message"])
}

func TestHTTP_LoginWrongPassword(t *testing.T) {
	app, _ := newTestApp(t)
	tid := setupViaHTTP(t, app)
	headers := map[string]string{tenantHeader: tid}

	resp, _ := doJSON(t, app, fiber.MethodPost, "/api/v1/register", headers, map[string]any{
		"email": "bob@x.com", "password": "pw123",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/login", headers, map[string]any{
		"email": "bob@x.com", "password": "wrong",
	})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_credential", body["code"])
}

func TestHTTP_MissingTenantHeader(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/login", nil, map[string]any{
		"email": "bob@x.com", "password": "pw123",
	})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["code"])
}

func TestHTTP_ValidationFailure(t *testing.T) {
	app, _ := newTestApp(t)
	tid := setupViaHTTP(t, app)
	headers := map[string]string{tenantHeader: tid}

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/register", headers, map[string]any{
		"email": "not-an-email", "password": "pw123",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", body["code"])
}

func TestHTTP_RefreshToken(t *testing.T) {
	app, _ := newTestApp(t)
	tid := setupViaHTTP(t, app)
	headers := map[string]string{tenantHeader: tid}

	_, reg := doJSON(t, app, fiber.MethodPost, "/api/v1/register", headers, map[string]any{
		"email": "bob@x.com", "password": "pw123",
	})
	refreshToken, _ := reg["refresh_token"].(string)
	require.NotEmpty(t, refreshToken)

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/accounts/token", headers, map[string]any{
		"refresh_token": refreshToken,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["access_token"])
	assert.Equal(t, refreshToken, body["refresh_token"])
	assert.Equal(t, reg["local_id"], body["local_id"])

	resp, body = doJSON(t, app, fiber.MethodPost, "/api/v1/accounts/token", headers, map[string]any{
		"refresh_token": "0xneverissued",
	})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "token_not_valid", body["code"])
}

func TestHTTP_ProviderSettingsOmitSecret(t *testing.T) {
	app, auth := newTestApp(t)
	tid := setupViaHTTP(t, app)

	cfg, err := auth.TenantSettings(context.Background(), tid)
	require.NoError(t, err)

	resp, body := doJSON(t, app, fiber.MethodGet, "/api/v1/providers/settings", map[string]string{tenantHeader: tid}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, cfg.Name, body["name"])
	_, hasSecret := body["secret"]
	assert.False(t, hasSecret)
}

func TestHTTP_ApplicationAdmin(t *testing.T) {
	app, _ := newTestApp(t)

	resp, setup := doJSON(t, app, fiber.MethodPost, "/api/v1/setup", nil, map[string]any{
		"name": "T1", "email": "owner@x.com", "password": "owner-pw",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	tid, _ := setup["application_id"].(string)

	headers := map[string]string{tenantHeader: tid}
	_, login := doJSON(t, app, fiber.MethodPost, "/api/v1/login", headers, map[string]any{
		"email": "owner@x.com", "password": "owner-pw",
	})
	access, _ := login["access_token"].(string)
	require.NotEmpty(t, access)

	authed := map[string]string{
		tenantHeader:              tid,
		fiber.HeaderAuthorization: "Bearer " + access,
	}

	resp, body := doJSON(t, app, fiber.MethodGet, "/api/v1/applications/"+tid, authed, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "T1", body["name"])

	resp, body = doJSON(t, app, fiber.MethodPatch, "/api/v1/applications/"+tid, authed, map[string]any{
		"name": "T1 v2",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "T1 v2", body["name"])

	resp, body = doJSON(t, app, fiber.MethodGet, fmt.Sprintf("/api/v1/applications/%s/activities?limit=10", tid), authed, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	_, hasEvents := body["events"]
	assert.True(t, hasEvents)
}

func TestHTTP_ApplicationAdminRequiresBearer(t *testing.T) {
	app, _ := newTestApp(t)
	tid := setupViaHTTP(t, app)

	resp, body := doJSON(t, app, fiber.MethodGet, "/api/v1/applications/"+tid, map[string]string{tenantHeader: tid}, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["code"])
}
