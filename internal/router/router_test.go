// ABOUTME: Tests for the event dispatch table
// ABOUTME: Covers relay of every event type, reply triggering, card toasts, and dedupe

package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/null-object-0000/feishu-bridge/internal/dedupe"
	"github.com/null-object-0000/feishu-bridge/internal/feishu"
	"github.com/null-object-0000/feishu-bridge/internal/relay"
	"github.com/null-object-0000/feishu-bridge/internal/streaming"
)

type sent struct {
	kind      relay.Kind
	eventType string
	payload   any
}

type fakeRelay struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeRelay) Send(kind relay.Kind, eventType string, payload any) *relay.Dispatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{kind, eventType, payload})
	return nil
}

type fakeReplier struct {
	mu      sync.Mutex
	inbound []streaming.Inbound
	ctxErr  []error
}

func (f *fakeReplier) Go(ctx context.Context, in streaming.Inbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, in)
	f.ctxErr = append(f.ctxErr, ctx.Err())
}

func decode(t *testing.T, body string) (*feishu.Envelope, []byte) {
	t.Helper()
	env, plain, err := feishu.NewEventDecoder("", "").Decode([]byte(body))
	require.NoError(t, err)
	return env, plain
}

func messageEvent(eventID, senderType, msgType, content string) string {
	ev := map[string]any{
		"schema": "2.0",
		"header": map[string]any{"event_id": eventID, "event_type": feishu.EventMessageReceive},
		"event": map[string]any{
			"sender": map[string]any{
				"sender_id":   map[string]any{"open_id": "ou_sender"},
				"sender_type": senderType,
			},
			"message": map[string]any{
				"message_id":   "om_1",
				"parent_id":    "om_0",
				"thread_id":    "omt_1",
				"chat_id":      "oc_1",
				"message_type": msgType,
				"content":      content,
			},
		},
	}
	b, _ := json.Marshal(ev)
	return string(b)
}

func TestOnEvent_MessageRelaysAndReplies(t *testing.T) {
	rl := &fakeRelay{}
	rp := &fakeReplier{}
	r := New(Config{Relay: rl, Replier: rp})

	env, body := decode(t, messageEvent("ev1", feishu.SenderUser, "text", `{"text":"@_user_1 hello there "}`))

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := r.OnEvent(ctx, env, body)
	cancel()
	require.NoError(t, err)
	assert.Nil(t, resp)

	require.Len(t, rl.sent, 1)
	assert.Equal(t, relay.KindEvent, rl.sent[0].kind)
	assert.Equal(t, feishu.EventMessageReceive, rl.sent[0].eventType)
	payload, ok := rl.sent[0].payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2.0", payload["schema"])

	require.Len(t, rp.inbound, 1)
	assert.Equal(t, streaming.Inbound{
		OpenID:    "ou_sender",
		MessageID: "om_1",
		ParentID:  "om_0",
		ThreadID:  "omt_1",
		ChatID:    "oc_1",
		Text:      "hello there",
	}, rp.inbound[0])
	assert.NoError(t, rp.ctxErr[0])
}

func TestOnEvent_MessageNotAnswered(t *testing.T) {
	tests := []struct {
		name       string
		senderType string
		msgType    string
		content    string
	}{
		{"non-text", feishu.SenderUser, "image", `{"image_key":"img"}`},
		{"from app", feishu.SenderApp, "text", `{"text":"echo"}`},
		{"blank after mentions", feishu.SenderUser, "text", `{"text":"@_user_1  "}`},
		{"malformed content", feishu.SenderUser, "text", `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := &fakeRelay{}
			rp := &fakeReplier{}
			r := New(Config{Relay: rl, Replier: rp})

			env, body := decode(t, messageEvent("ev", tt.senderType, tt.msgType, tt.content))
			_, err := r.OnEvent(context.Background(), env, body)
			require.NoError(t, err)

			assert.Len(t, rl.sent, 1, "event still relayed")
			assert.Empty(t, rp.inbound)
		})
	}
}

func TestOnEvent_StreamingDisabled(t *testing.T) {
	rl := &fakeRelay{}
	r := New(Config{Relay: rl})

	env, body := decode(t, messageEvent("ev1", feishu.SenderUser, "text", `{"text":"hi"}`))
	_, err := r.OnEvent(context.Background(), env, body)
	require.NoError(t, err)
	assert.Len(t, rl.sent, 1)
}

func TestOnEvent_UnregisteredTypeReachesRelay(t *testing.T) {
	rl := &fakeRelay{}
	r := New(Config{Relay: rl, Replier: &fakeReplier{}})

	env, body := decode(t, `{"schema":"2.0","header":{"event_id":"e9","event_type":"contact.user.created_v3"},"event":{"x":1}}`)
	resp, err := r.OnEvent(context.Background(), env, body)
	require.NoError(t, err)
	assert.Nil(t, resp)

	require.Len(t, rl.sent, 1)
	assert.Equal(t, "contact.user.created_v3", rl.sent[0].eventType)
}

func TestOnEvent_MissingTypeRelayedAsUnknown(t *testing.T) {
	rl := &fakeRelay{}
	r := New(Config{Relay: rl})

	env, body := decode(t, `{"uuid":"u1","event":{"foo":"bar"}}`)
	_, err := r.OnEvent(context.Background(), env, body)
	require.NoError(t, err)

	require.Len(t, rl.sent, 1)
	assert.Equal(t, EventTypeUnknown, rl.sent[0].eventType)
}

func TestOnEvent_CardActionAcknowledged(t *testing.T) {
	rl := &fakeRelay{}
	r := New(Config{Relay: rl})

	env, body := decode(t, `{"schema":"2.0","header":{"event_id":"c1","event_type":"card.action.trigger"},"event":{"action":{"value":{"k":"v"}}}}`)
	resp, err := r.OnEvent(context.Background(), env, body)
	require.NoError(t, err)
	assert.Equal(t, feishu.AckToast(), resp)

	require.Len(t, rl.sent, 1)
	assert.Equal(t, relay.KindCardAction, rl.sent[0].kind)
	assert.Equal(t, relay.EventTypeCardAction, rl.sent[0].eventType)
	assert.Equal(t, map[string]any{"action": map[string]any{"value": map[string]any{"k": "v"}}}, rl.sent[0].payload)
}

func TestHandleCardCallback_LegacyBody(t *testing.T) {
	rl := &fakeRelay{}
	r := New(Config{Relay: rl})

	env, body := decode(t, `{"open_id":"ou_1","action":{"tag":"button"},"token":"t"}`)
	resp, err := r.HandleCardCallback(context.Background(), env, body)
	require.NoError(t, err)
	assert.Equal(t, feishu.AckToast(), resp)

	require.Len(t, rl.sent, 1)
	payload := rl.sent[0].payload.(map[string]any)
	assert.Equal(t, "ou_1", payload["open_id"])
}

func TestOnEvent_DuplicatesIgnored(t *testing.T) {
	rl := &fakeRelay{}
	rp := &fakeReplier{}
	seen := dedupe.New(time.Minute, 100)
	t.Cleanup(seen.Close)
	r := New(Config{Relay: rl, Replier: rp, Dedupe: seen})

	env, body := decode(t, messageEvent("dup", feishu.SenderUser, "text", `{"text":"hi"}`))
	for range 3 {
		_, err := r.OnEvent(context.Background(), env, body)
		require.NoError(t, err)
	}
	assert.Len(t, rl.sent, 1)
	assert.Len(t, rp.inbound, 1)

	card, cardBody := decode(t, `{"schema":"2.0","header":{"event_id":"cdup","event_type":"card.action.trigger"},"event":{}}`)
	for range 2 {
		resp, err := r.OnEvent(context.Background(), card, cardBody)
		require.NoError(t, err)
		assert.Equal(t, feishu.AckToast(), resp)
	}
	assert.Len(t, rl.sent, 2)
}

func TestRouter_HandleOverridesEntry(t *testing.T) {
	r := New(Config{Relay: &fakeRelay{}})
	var got Event
	r.handle("custom.type", func(_ context.Context, ev Event) (any, error) {
		got = ev
		return "handled", nil
	})

	env, body := decode(t, `{"schema":"2.0","header":{"event_id":"x","event_type":"custom.type"}}`)
	resp, err := r.OnEvent(context.Background(), env, body)
	require.NoError(t, err)
	assert.Equal(t, "handled", resp)
	assert.Equal(t, "custom.type", got.Type)
}

func TestOnEvent_AfterClose(t *testing.T) {
	rl := &fakeRelay{}
	r := New(Config{Relay: rl})
	require.NoError(t, r.Close())

	env, body := decode(t, `{"schema":"2.0","header":{"event_id":"x","event_type":"a.b"}}`)
	_, err := r.OnEvent(context.Background(), env, body)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, rl.sent)
}

func TestDecodePayload_FallsBackToString(t *testing.T) {
	assert.Equal(t, "not json", decodePayload([]byte("not json")))
	assert.Equal(t, map[string]any{"a": float64(1)}, decodePayload([]byte(`{"a":1}`)))
}
