// Package feishu is the bridge's boundary with the Feishu (Lark) Open Platform.
//
// # Messages
//
// Client wraps the official Lark SDK, which acquires and caches the tenant
// access token. On top of the SDK's generic request path it exposes the IM
// operations the bridge needs:
//
//   - CreateMessage and ReplyMessage send the first render of a reply
//   - PatchMessage updates an interactive card in place
//   - GetMessage and ListMessages read history
//
// A non-zero platform code comes back as *APIError, which also matches
// ErrAPI with errors.Is.
//
// # Events
//
// EventDecoder parses callback bodies. Encrypted bodies ({"encrypt": ...})
// are decrypted with the app's encrypt key, and the verification token is
// checked against either the schema 2.0 header or the legacy top-level
// field.
//
// # Cards
//
// Streaming replies are rendered as a single-markdown-element card, since
// only interactive messages can be patched.
package feishu
