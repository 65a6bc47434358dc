// ABOUTME: Fetches the app's tenant_access_token through the SDK auth service
// ABOUTME: Backs the token endpoint for integrations that call the Open API themselves

package feishu

import (
	"context"
	"fmt"

	larkauth "github.com/larksuite/oapi-sdk-go/v3/service/auth/v3"
)

// TenantAccessToken requests a fresh internal tenant_access_token. On
// success the platform's body is returned unmodified, since the token and
// its expiry sit at the top level rather than under data.
func (c *Client) TenantAccessToken(ctx context.Context) ([]byte, error) {
	req := larkauth.NewInternalTenantAccessTokenReqBuilder().
		Body(larkauth.NewInternalTenantAccessTokenReqBodyBuilder().
			AppId(c.appID).
			AppSecret(c.appSecret).
			Build()).
		Build()

	resp, err := c.sdk.Auth.V3.TenantAccessToken.Internal(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetching tenant access token: %w", err)
	}
	if !resp.Success() {
		return nil, &APIError{
			HTTPStatus: resp.StatusCode,
			Code:       resp.Code,
			Msg:        resp.Msg,
			RequestID:  resp.Header.Get("X-Tt-Logid"),
		}
	}
	return resp.RawBody, nil
}
