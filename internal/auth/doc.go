// Package auth signs and verifies the HS256 bearer tokens used at the edges
// of feishu-bridge.
//
// Outbound, every relay delivery carries a short-lived token signed with
// relay.signing_secret so subscribers can tell the bridge apart from other
// callers. Inbound, the optional /api/feishu proxy requires a token signed
// with proxy.auth_secret.
//
//	signer := auth.NewSigner([]byte(secret))
//	token, err := signer.Sign("relay", deliveryID, time.Minute)
//
//	mux.Handle("/api/feishu/", auth.RequireBearer(signer)(proxyHandler))
package auth
