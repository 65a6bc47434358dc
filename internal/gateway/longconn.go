// ABOUTME: Event intake over the Feishu long connection (WebSocket), for deployments without a public URL
// ABOUTME: Subscribed events and card actions feed the same router as the HTTP callbacks

package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher/callback"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/null-object-0000/feishu-bridge/internal/feishu"
)

// longConn is the blocking entry point of the long-connection client.
type longConn interface {
	Start(ctx context.Context) error
}

// newEventDispatcher registers every configured event type plus card
// actions. The SDK dispatcher has no catch-all, so unlisted types are
// dropped by the SDK before they reach the router.
func (g *Gateway) newEventDispatcher() *dispatcher.EventDispatcher {
	d := dispatcher.NewEventDispatcher(g.config.Feishu.VerificationToken, g.config.Feishu.EncryptKey)
	d.InitConfig(larkevent.WithLogger(feishu.NewSDKLogger(g.logger)))

	seen := map[string]bool{feishu.EventCardAction: true}
	for _, eventType := range g.config.Feishu.WSEvents {
		if seen[eventType] {
			continue
		}
		seen[eventType] = true
		d.OnCustomizedEvent(eventType, g.onLongConnEvent)
	}
	d.OnP2CardActionTrigger(g.onLongConnCardAction)
	return d
}

// startLongConn connects in the background. Once connected the SDK client
// never returns, so the goroutine lives until the process exits.
func (g *Gateway) startLongConn(ctx context.Context, errCh chan<- error) {
	go func() {
		g.logger.Info("long connection starting", "events", g.config.Feishu.WSEvents)
		if err := g.conn.Start(ctx); err != nil {
			errCh <- fmt.Errorf("long connection: %w", err)
		}
	}()
}

func (g *Gateway) newLongConn() longConn {
	opts := []larkws.ClientOption{
		larkws.WithEventHandler(g.newEventDispatcher()),
		larkws.WithLogger(feishu.NewSDKLogger(g.logger)),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	}
	if g.config.Feishu.BaseURL != "" {
		opts = append(opts, larkws.WithDomain(g.config.Feishu.BaseURL))
	}
	return larkws.NewClient(g.config.Feishu.AppID, g.config.Feishu.AppSecret, opts...)
}

// onLongConnEvent receives one plain (already decrypted) event payload.
func (g *Gateway) onLongConnEvent(ctx context.Context, req *larkevent.EventReq) error {
	var env feishu.Envelope
	if err := json.Unmarshal(req.Body, &env); err != nil {
		return fmt.Errorf("decoding long connection event: %w", err)
	}
	_, err := g.router.OnEvent(ctx, &env, req.Body)
	return err
}

// onLongConnCardAction answers a card click with the acknowledgement toast.
// Payloads with a header go through OnEvent so redeliveries are deduplicated.
func (g *Gateway) onLongConnCardAction(ctx context.Context, ev *callback.CardActionTriggerEvent) (*callback.CardActionTriggerResponse, error) {
	body, err := cardActionBody(ev)
	if err != nil {
		return nil, err
	}
	var env feishu.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding long connection card action: %w", err)
	}

	var resp any
	if env.Header != nil {
		resp, err = g.router.OnEvent(ctx, &env, body)
	} else {
		resp, err = g.router.HandleCardCallback(ctx, &env, body)
	}
	if err != nil {
		return nil, err
	}
	if ack, ok := resp.(feishu.CardActionResponse); ok {
		return &callback.CardActionTriggerResponse{
			Toast: &callback.Toast{Type: ack.Toast.Type, Content: ack.Toast.Content},
		}, nil
	}
	return nil, nil
}

// cardActionBody returns the raw payload the SDK decoded ev from, or
// re-encodes ev when the raw request is absent.
func cardActionBody(ev *callback.CardActionTriggerEvent) ([]byte, error) {
	if ev.EventReq != nil && len(ev.EventReq.Body) > 0 {
		return ev.EventReq.Body, nil
	}

	out := struct {
		Schema string                             `json:"schema,omitempty"`
		Header *larkevent.EventHeader             `json:"header,omitempty"`
		Event  *callback.CardActionTriggerRequest `json:"event"`
	}{Event: ev.Event}
	if ev.EventV2Base != nil {
		out.Schema = ev.EventV2Base.Schema
		out.Header = ev.EventV2Base.Header
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding card action: %w", err)
	}
	return body, nil
}
