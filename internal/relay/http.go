// ABOUTME: HTTP webhook destination for relayed events
// ABOUTME: POSTs the JSON envelope, optionally with a short-lived signed bearer token

package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/null-object-0000/feishu-bridge/internal/auth"
)

// Headers set on every webhook delivery.
const (
	HeaderDeliveryID = "X-Feishu-Bridge-Delivery"
	HeaderEventType  = "X-Feishu-Bridge-Event"
)

const tokenTTL = 5 * time.Minute

// HTTPSink posts envelopes to one URL.
type HTTPSink struct {
	url     string
	client  *http.Client
	signer  *auth.Signer
	headers map[string]string
}

// HTTPOption configures an HTTPSink.
type HTTPOption func(*HTTPSink)

// WithSigner attaches an HS256 bearer token to every delivery.
func WithSigner(s *auth.Signer) HTTPOption {
	return func(h *HTTPSink) { h.signer = s }
}

// WithHeaders adds static headers to every delivery.
func WithHeaders(headers map[string]string) HTTPOption {
	return func(h *HTTPSink) { h.headers = headers }
}

// WithHTTPClient overrides the client used for deliveries.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPSink) { h.client = c }
}

// NewHTTPSink creates a webhook destination.
func NewHTTPSink(url string, opts ...HTTPOption) *HTTPSink {
	h := &HTTPSink{url: url, client: http.DefaultClient}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPSink) Name() string { return h.url }

func (h *HTTPSink) Deliver(ctx context.Context, d Delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(d.Body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderDeliveryID, d.ID)
	req.Header.Set(HeaderEventType, d.EventType)
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	if h.signer != nil {
		token, err := h.signer.Sign(string(d.Kind), d.ID, tokenTTL)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", h.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("posting to %s: unexpected status %d", h.url, resp.StatusCode)
	}
	return nil
}
