// ABOUTME: HTTP handlers for Feishu event and card callbacks plus the health probe
// ABOUTME: Callbacks are decoded, verified and dispatched, and answered without waiting on replies

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/null-object-0000/feishu-bridge/internal/feishu"
	"github.com/null-object-0000/feishu-bridge/internal/router"
)

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleEvents receives event subscriptions.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	env, body, ok := g.decodeCallback(w, r)
	if !ok {
		return
	}
	resp, err := g.router.OnEvent(r.Context(), env, body)
	g.writeCallbackResponse(w, resp, err)
}

// handleCard receives interactive card callbacks.
func (g *Gateway) handleCard(w http.ResponseWriter, r *http.Request) {
	env, body, ok := g.decodeCallback(w, r)
	if !ok {
		return
	}
	resp, err := g.router.HandleCardCallback(r.Context(), env, body)
	g.writeCallbackResponse(w, resp, err)
}

// decodeCallback reads and verifies a callback body. It answers the
// url_verification handshake itself and reports ok=false whenever the
// response has already been written.
func (g *Gateway) decodeCallback(w http.ResponseWriter, r *http.Request) (*feishu.Envelope, []byte, bool) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, nil, false
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "reading body failed")
		return nil, nil, false
	}

	env, body, err := g.decoder.Decode(raw)
	switch {
	case errors.Is(err, feishu.ErrTokenMismatch):
		g.logger.Warn("callback rejected", "path", r.URL.Path, "error", err)
		g.sendJSONError(w, http.StatusUnauthorized, "invalid verification token")
		return nil, nil, false
	case err != nil:
		g.logger.Warn("callback decode failed", "path", r.URL.Path, "error", err)
		g.sendJSONError(w, http.StatusBadRequest, "invalid callback body")
		return nil, nil, false
	}

	if env.IsURLVerification() {
		g.logger.Info("url verification handshake", "path", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]string{"challenge": env.Challenge})
		return nil, nil, false
	}
	return env, body, true
}

func (g *Gateway) writeCallbackResponse(w http.ResponseWriter, resp any, err error) {
	if errors.Is(err, router.ErrClosed) {
		g.sendJSONError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	if err != nil {
		g.logger.Error("callback handling failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if resp == nil {
		resp = struct{}{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
