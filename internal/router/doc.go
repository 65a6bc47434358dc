// ABOUTME: Package router dispatches decoded Feishu callbacks to their handlers
// ABOUTME: Every event reaches the relay; chat messages also start a streamed reply

// Package router holds the event dispatch table. Handlers are keyed by event
// type with one default entry, so unrecognized types are relayed rather than
// dropped. Message events additionally start a streaming reply in the
// background and card callbacks answer with an acknowledgement toast.
package router
