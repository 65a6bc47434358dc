// Package dedupe drops Feishu events that were already handled, keyed by
// the event_id in the callback header.
package dedupe
