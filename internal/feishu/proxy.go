// ABOUTME: Raw pass-through to arbitrary Open API endpoints with tenant authentication
// ABOUTME: Backs the /api/feishu proxy for callers that lack their own credentials

package feishu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// ProxyResponse is the platform's answer to a proxied call, unmodified.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Proxy forwards one request to path under /open-apis. The body, when
// present, must be JSON.
func (c *Client) Proxy(ctx context.Context, method, path string, query url.Values, body []byte) (*ProxyResponse, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasPrefix(path, "/open-apis/") {
		path = "/open-apis" + path
	}

	var reqBody any
	if len(body) > 0 {
		reqBody = json.RawMessage(body)
	}

	resp, err := c.do(ctx, method, path, query, reqBody)
	if err != nil {
		return nil, err
	}
	return &ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.RawBody,
	}, nil
}
