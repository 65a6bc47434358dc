// ABOUTME: Tests for the bearer token HTTP middleware
// ABOUTME: Covers missing, malformed, invalid, and valid Authorization headers

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		token   string
		wantErr string
	}{
		{"missing", "", "", "missing authorization header"},
		{"wrong scheme", "Basic abc", "", "invalid authorization header format"},
		{"empty", "Bearer ", "", "empty token"},
		{"ok", "Bearer abc.def", "abc.def", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, errMsg := extractBearerToken(tt.header)
			assert.Equal(t, tt.token, token)
			assert.Equal(t, tt.wantErr, errMsg)
		})
	}
}

func TestRequireBearer(t *testing.T) {
	signer := NewSigner([]byte("proxy-secret"))
	valid, err := signer.Sign("ops-tool", "", time.Hour)
	require.NoError(t, err)

	var gotSubject string
	handler := RequireBearer(signer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("rejects missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/feishu/x", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing authorization header")
	})

	t.Run("rejects bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/feishu/x", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid token")
	})

	t.Run("passes valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/feishu/x", nil)
		req.Header.Set("Authorization", "Bearer "+valid)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "ops-tool", gotSubject)
	})
}
