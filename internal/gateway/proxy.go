// ABOUTME: Pass-through from /api/feishu/* to the Feishu Open API with tenant credentials, plus the token endpoint
// ABOUTME: Lets internal callers reach any endpoint without managing app tokens themselves

package gateway

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/null-object-0000/feishu-bridge/internal/feishu"
)

const (
	proxyPrefix = "/api/feishu"
	tokenPath   = "/api/auth/tenant_access_token"
)

// handleTenantToken returns a fresh tenant_access_token body as issued by
// the platform. Platform rejections map to 502 with the code and msg.
func (g *Gateway) handleTenantToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := g.feishu.TenantAccessToken(r.Context())
	var apiErr *feishu.APIError
	switch {
	case errors.As(err, &apiErr):
		g.logger.Error("tenant access token rejected", "code", apiErr.Code, "msg", apiErr.Msg)
		writeJSON(w, http.StatusBadGateway, map[string]any{"code": apiErr.Code, "msg": apiErr.Msg})
		return
	case err != nil:
		g.logger.Error("tenant access token request failed", "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "upstream request failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, proxyPrefix)
	if path == "" || path == "/" {
		g.sendJSONError(w, http.StatusNotFound, "missing api path")
		return
	}

	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "reading body failed")
			return
		}
		body = b
	}

	g.logger.Info("proxying request", "method", r.Method, "path", r.URL.Path, "target", "/open-apis"+path)

	resp, err := g.feishu.Proxy(r.Context(), r.Method, path, r.URL.Query(), body)
	if err != nil {
		g.logger.Error("proxy request failed", "method", r.Method, "path", path, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "upstream request failed")
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	if logID := resp.Header.Get("X-Tt-Logid"); logID != "" {
		w.Header().Set("X-Tt-Logid", logID)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
