// ABOUTME: Feishu Open API client built on the Lark SDK's generic request path
// ABOUTME: Decodes the {code, msg, data} response envelope and surfaces platform errors

package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
)

// DefaultBaseURL is the public Feishu Open API origin.
const DefaultBaseURL = "https://open.feishu.cn"

// Sentinel errors
var (
	ErrAPI      = errors.New("feishu api error")
	ErrNotFound = errors.New("message not found")
)

// APIError is returned when the platform answers with a non-zero code.
type APIError struct {
	HTTPStatus int
	Code       int
	Msg        string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("feishu api: code=%d msg=%q status=%d log_id=%s", e.Code, e.Msg, e.HTTPStatus, e.RequestID)
	}
	return fmt.Sprintf("feishu api: code=%d msg=%q status=%d", e.Code, e.Msg, e.HTTPStatus)
}

// Is lets callers match any APIError with errors.Is(err, ErrAPI).
func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}

// Options configures a Client.
type Options struct {
	AppID     string
	AppSecret string
	BaseURL   string
	Timeout   time.Duration
	// HTTPClient overrides the transport used by the SDK. Optional.
	HTTPClient *http.Client
}

// Client wraps a Lark SDK client. Tenant access tokens are fetched and
// cached by the SDK.
type Client struct {
	sdk       *lark.Client
	appID     string
	appSecret string
	logger    *slog.Logger
}

// NewClient creates a Feishu API client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "feishu")

	sdkOpts := []lark.ClientOptionFunc{
		lark.WithLogger(&slogLogger{logger: logger}),
		lark.WithLogLevel(larkcore.LogLevelInfo),
	}
	if opts.BaseURL != "" {
		sdkOpts = append(sdkOpts, lark.WithOpenBaseUrl(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		sdkOpts = append(sdkOpts, lark.WithReqTimeout(opts.Timeout))
	}
	if opts.HTTPClient != nil {
		sdkOpts = append(sdkOpts, lark.WithHttpClient(opts.HTTPClient))
	}

	return &Client{
		sdk:       lark.NewClient(opts.AppID, opts.AppSecret, sdkOpts...),
		appID:     opts.AppID,
		appSecret: opts.AppSecret,
		logger:    logger,
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do performs one tenant-authenticated request and returns the raw response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*larkcore.ApiResp, error) {
	req := &larkcore.ApiReq{
		HttpMethod:                method,
		ApiPath:                   path,
		Body:                      body,
		PathParams:                larkcore.PathParams{},
		QueryParams:               larkcore.QueryParams{},
		SupportedAccessTokenTypes: []larkcore.AccessTokenType{larkcore.AccessTokenTypeTenant},
	}
	for k, vs := range query {
		req.QueryParams[k] = append(req.QueryParams[k], vs...)
	}

	resp, err := c.sdk.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// call performs a request and decodes data into out when it is non-nil.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(resp.RawBody, &env); err != nil {
		return fmt.Errorf("%s %s: decoding response (status %d): %w", method, path, resp.StatusCode, err)
	}
	if env.Code != 0 || resp.StatusCode >= http.StatusBadRequest {
		return &APIError{
			HTTPStatus: resp.StatusCode,
			Code:       env.Code,
			Msg:        env.Msg,
			RequestID:  resp.Header.Get("X-Tt-Logid"),
		}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decoding data: %w", method, path, err)
	}
	return nil
}
