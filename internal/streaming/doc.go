// Package streaming turns an LLM's server-sent event stream into a live
// Feishu card.
//
// # Session lifecycle
//
// Each inbound message gets its own session which moves through
// requesting, streaming and finalizing to done, or to errored from any
// phase.
//
//   - Requesting: history is collected when memory is enabled, the
//     provider builds the request and it is sent. A non-2xx status ends the
//     session with a notice card.
//   - Streaming: data lines are decoded one at a time. Reasoning deltas are
//     counted for logs only. Content deltas are appended to the buffer.
//   - Finalizing: the last patch renders the complete buffer.
//
// # Rendering
//
// The first content delta starts a background create call. Later deltas
// start a background patch only when the card exists, UpdateInterval has
// passed since the previous render began, and no other patch is running.
// Deltas that arrive in between are coalesced into the next patch, so the
// stream reader never waits on the chat API and patches never overlap.
//
// Finalize waits up to CreateTimeout for the card, up to PatchWait for a
// running patch, then patches the full text. If the running patch is still
// going the final patch is queued behind it instead of racing it.
package streaming
