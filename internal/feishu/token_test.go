// ABOUTME: Tests for tenant_access_token retrieval
// ABOUTME: Checks the raw body pass-through and platform error decoding

package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T, reply string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/open-apis/auth/v3/tenant_access_token/internal" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &got)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Tt-Logid", "log-tok")
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestClient_TenantAccessToken(t *testing.T) {
	reply := `{"code":0,"msg":"ok","tenant_access_token":"t-abc","expire":7140}`
	srv, got := newTokenServer(t, reply)
	client := NewClient(Options{AppID: "cli_token", AppSecret: "s3cret", BaseURL: srv.URL}, nil)

	body, err := client.TenantAccessToken(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, reply, string(body))
	assert.Equal(t, "cli_token", (*got)["app_id"])
	assert.Equal(t, "s3cret", (*got)["app_secret"])
}

func TestClient_TenantAccessTokenRejected(t *testing.T) {
	srv, _ := newTokenServer(t, `{"code":10003,"msg":"invalid app_secret"}`)
	client := NewClient(Options{AppID: "cli_bad", AppSecret: "wrong", BaseURL: srv.URL}, nil)

	_, err := client.TenantAccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAPI))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 10003, apiErr.Code)
	assert.Equal(t, "invalid app_secret", apiErr.Msg)
	assert.Equal(t, "log-tok", apiErr.RequestID)
}
