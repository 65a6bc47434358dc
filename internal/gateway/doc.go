// Package gateway orchestrates the feishu-bridge server components.
//
// # Overview
//
// The Gateway owns the HTTP server and wires every other package together:
// the Feishu API client, the event router, the relay, the dedupe cache and,
// when streaming is enabled, the reply pipeline with its history assembler
// and conversation log.
//
// # HTTP Routes
//
//	GET  /health                        liveness probe, answers "OK"
//	POST /feishu/events                 event subscription callback (webhook mode)
//	POST /feishu/card                   interactive card callback (webhook mode)
//	*    /api/feishu/...                pass-through to /open-apis/... (when proxy.enabled)
//	GET  /api/auth/tenant_access_token  fresh tenant token (when proxy.enabled)
//
// Both callback endpoints answer the url_verification handshake, check the
// verification token and decrypt encrypted bodies. Event handling never
// waits on a streamed reply or a relay delivery, so the platform sees a
// response well inside its retry window.
//
// With feishu.mode set to ws the callback routes are not mounted. Events
// arrive over the platform's long connection instead, for the types listed
// in feishu.ws_events plus card actions, and reach the same router.
//
// The proxy attaches the app's tenant access token. When proxy.auth_secret
// is set, callers must present an HS256 bearer token signed with it.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// On shutdown the HTTP server stops first, then the router refuses new
// events, in-flight replies get until the shutdown deadline, and finally
// the relay and the dedupe sweeper are closed.
package gateway
