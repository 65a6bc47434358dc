// ABOUTME: Event dispatch table keyed by Feishu event type with a relay-only default
// ABOUTME: Starts background replies for text messages and acknowledges card callbacks

package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/null-object-0000/feishu-bridge/internal/feishu"
	"github.com/null-object-0000/feishu-bridge/internal/relay"
	"github.com/null-object-0000/feishu-bridge/internal/streaming"
)

// EventTypeUnknown is relayed when an envelope carries no event type.
const EventTypeUnknown = "unknown"

// ErrClosed is returned for events that arrive after Close.
var ErrClosed = errors.New("router closed")

// Event is one decoded callback handed to a handler.
type Event struct {
	Type     string
	Envelope *feishu.Envelope
	// Body is the plaintext callback body after decryption.
	Body []byte
}

// HandlerFunc handles one event. The returned value, if non-nil, is written
// back to the platform as the callback response.
type HandlerFunc func(ctx context.Context, ev Event) (any, error)

// Relayer forwards envelopes to subscribers without blocking.
type Relayer interface {
	Send(kind relay.Kind, eventType string, payload any) *relay.Dispatch
}

// Replier starts a streamed reply in the background.
type Replier interface {
	Go(ctx context.Context, in streaming.Inbound)
}

// SeenSet reports platform redeliveries.
type SeenSet interface {
	MarkSeen(key string) bool
}

// Config wires the router's collaborators. Replier and Dedupe are optional;
// a nil Replier disables streamed replies.
type Config struct {
	Relay   Relayer
	Replier Replier
	Dedupe  SeenSet
	Logger  *slog.Logger
}

// Router dispatches events by type.
type Router struct {
	relay   Relayer
	replier Replier
	dedupe  SeenSet
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	fallback HandlerFunc

	closed atomic.Bool
}

// New builds a router with the message and card handlers registered and
// relay-only as the default.
func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		relay:    cfg.Relay,
		replier:  cfg.Replier,
		dedupe:   cfg.Dedupe,
		logger:   logger.With("component", "router"),
		handlers: make(map[string]HandlerFunc),
	}
	r.fallback = r.relayEvent
	r.handle(feishu.EventMessageReceive, r.handleMessage)
	r.handle(feishu.EventCardAction, r.handleCardAction)
	return r
}

// handle registers h for eventType, replacing any existing entry.
func (r *Router) handle(eventType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = h
}

func (r *Router) lookup(eventType string) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[eventType]; ok {
		return h
	}
	return r.fallback
}

// OnEvent dispatches one decoded callback. It returns without waiting for
// relay deliveries or replies.
func (r *Router) OnEvent(ctx context.Context, env *feishu.Envelope, body []byte) (any, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	eventType := env.EventType()
	if eventType == "" {
		eventType = EventTypeUnknown
	}

	if r.dedupe != nil && r.dedupe.MarkSeen(env.EventID()) {
		r.logger.Debug("duplicate event ignored", "event_type", eventType, "event_id", env.EventID())
		if eventType == feishu.EventCardAction {
			return feishu.AckToast(), nil
		}
		return nil, nil
	}

	r.logger.Info("event received", "event_type", eventType, "event_id", env.EventID())
	return r.lookup(eventType)(ctx, Event{Type: eventType, Envelope: env, Body: body})
}

// HandleCardCallback handles a request to the dedicated card callback URL,
// whose bodies may omit the event header.
func (r *Router) HandleCardCallback(ctx context.Context, env *feishu.Envelope, body []byte) (any, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	return r.handleCardAction(ctx, Event{Type: feishu.EventCardAction, Envelope: env, Body: body})
}

// Close stops dispatching. Work already started is not interrupted.
func (r *Router) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *Router) relayEvent(_ context.Context, ev Event) (any, error) {
	if r.relay != nil {
		r.relay.Send(relay.KindEvent, ev.Type, decodePayload(ev.Body))
	}
	return nil, nil
}

func (r *Router) handleMessage(ctx context.Context, ev Event) (any, error) {
	_, _ = r.relayEvent(ctx, ev)

	if r.replier == nil {
		return nil, nil
	}

	in, ok, err := inboundFromEvent(ev.Envelope.Event)
	if err != nil {
		r.logger.Warn("parsing message event failed, skipping reply", "event_id", ev.Envelope.EventID(), "error", err)
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	r.logger.Info("starting streamed reply", "open_id", in.OpenID, "message_id", in.MessageID, "chars", len([]rune(in.Text)))
	r.replier.Go(context.WithoutCancel(ctx), in)
	return nil, nil
}

func (r *Router) handleCardAction(_ context.Context, ev Event) (any, error) {
	if r.relay != nil {
		var payload any = decodePayload(ev.Envelope.Event)
		if len(ev.Envelope.Event) == 0 {
			payload = decodePayload(ev.Body)
		}
		r.relay.Send(relay.KindCardAction, relay.EventTypeCardAction, payload)
	}
	return feishu.AckToast(), nil
}

// decodePayload returns raw as a generic JSON value, or as a string when it
// is not valid JSON.
func decodePayload(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

var mentionPattern = regexp.MustCompile(`@_user_\d+`)

// inboundFromEvent extracts a reply request from a message event. ok is
// false for events that should not be answered: non-text messages, messages
// sent by apps, and blank text.
func inboundFromEvent(raw json.RawMessage) (streaming.Inbound, bool, error) {
	ev, err := feishu.ParseMessageReceive(raw)
	if err != nil {
		return streaming.Inbound{}, false, err
	}
	if ev.Sender.SenderType == feishu.SenderApp {
		return streaming.Inbound{}, false, nil
	}
	if ev.Message.MessageType != feishu.MsgTypeText {
		return streaming.Inbound{}, false, nil
	}
	openID := ev.Sender.SenderID.OpenID
	if openID == "" {
		return streaming.Inbound{}, false, nil
	}

	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(ev.Message.Content), &content); err != nil {
		return streaming.Inbound{}, false, err
	}
	text := strings.TrimSpace(mentionPattern.ReplaceAllString(content.Text, ""))
	if text == "" {
		return streaming.Inbound{}, false, nil
	}

	return streaming.Inbound{
		OpenID:    openID,
		MessageID: ev.Message.MessageID,
		ParentID:  ev.Message.ParentID,
		ThreadID:  ev.Message.ThreadID,
		ChatID:    ev.Message.ChatID,
		Text:      text,
	}, true, nil
}
