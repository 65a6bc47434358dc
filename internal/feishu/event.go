// ABOUTME: Event callback envelope decoding for Feishu: decryption, token checks, and typed payloads
// ABOUTME: Handles schema 2.0 events, legacy 1.0 callbacks, and url_verification handshakes

package feishu

import (
	"encoding/json"
	"errors"
	"fmt"

	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
)

// Event types the bridge handles specifically.
const (
	EventMessageReceive = "im.message.receive_v1"
	EventCardAction     = "card.action.trigger"
)

// TypeURLVerification marks the handshake sent when a callback URL is saved.
const TypeURLVerification = "url_verification"

// Envelope errors
var (
	ErrTokenMismatch    = errors.New("verification token mismatch")
	ErrEncryptedPayload = errors.New("encrypted payload but no encrypt_key configured")
)

// Header is the schema 2.0 event header.
type Header struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	Token      string `json:"token"`
	AppID      string `json:"app_id"`
	TenantKey  string `json:"tenant_key"`
}

// Envelope is the outer shape of every callback body. Schema 2.0 events use
// Header and Event; legacy callbacks and handshakes use the top-level fields.
type Envelope struct {
	Schema    string          `json:"schema"`
	Header    *Header         `json:"header,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
	Type      string          `json:"type"`
	Token     string          `json:"token"`
	Challenge string          `json:"challenge"`
	Encrypt   string          `json:"encrypt"`
	UUID      string          `json:"uuid"`
}

// EventType returns the header event type, falling back to the legacy
// event.type field.
func (e *Envelope) EventType() string {
	if e.Header != nil && e.Header.EventType != "" {
		return e.Header.EventType
	}
	if len(e.Event) > 0 {
		var legacy struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(e.Event, &legacy) == nil {
			return legacy.Type
		}
	}
	return ""
}

// EventID returns a key identifying this delivery for deduplication.
func (e *Envelope) EventID() string {
	if e.Header != nil && e.Header.EventID != "" {
		return e.Header.EventID
	}
	return e.UUID
}

// IsURLVerification reports whether this is the callback URL handshake.
func (e *Envelope) IsURLVerification() bool {
	return e.Type == TypeURLVerification
}

func (e *Envelope) token() string {
	if e.Header != nil && e.Header.Token != "" {
		return e.Header.Token
	}
	return e.Token
}

// EventDecoder turns raw callback bodies into envelopes.
type EventDecoder struct {
	verificationToken string
	encryptKey        string
}

// NewEventDecoder creates a decoder. Empty values disable the token check
// and decryption respectively.
func NewEventDecoder(verificationToken, encryptKey string) *EventDecoder {
	return &EventDecoder{verificationToken: verificationToken, encryptKey: encryptKey}
}

// Decode decrypts body if needed, parses the envelope and checks the
// verification token. It also returns the plaintext body.
func (d *EventDecoder) Decode(body []byte) (*Envelope, []byte, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("decoding envelope: %w", err)
	}

	plain := body
	if env.Encrypt != "" {
		if d.encryptKey == "" {
			return nil, nil, ErrEncryptedPayload
		}
		decrypted, err := larkevent.EventDecrypt(env.Encrypt, d.encryptKey)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypting envelope: %w", err)
		}
		env = Envelope{}
		if err := json.Unmarshal(decrypted, &env); err != nil {
			return nil, nil, fmt.Errorf("decoding decrypted envelope: %w", err)
		}
		plain = decrypted
	}

	if d.verificationToken != "" && env.token() != d.verificationToken {
		return nil, nil, ErrTokenMismatch
	}

	return &env, plain, nil
}

// MessageReceiveEvent is the event body of im.message.receive_v1.
type MessageReceiveEvent struct {
	Sender struct {
		SenderID struct {
			OpenID  string `json:"open_id"`
			UnionID string `json:"union_id"`
			UserID  string `json:"user_id"`
		} `json:"sender_id"`
		SenderType string `json:"sender_type"`
		TenantKey  string `json:"tenant_key"`
	} `json:"sender"`
	Message struct {
		MessageID   string    `json:"message_id"`
		RootID      string    `json:"root_id"`
		ParentID    string    `json:"parent_id"`
		ThreadID    string    `json:"thread_id"`
		ChatID      string    `json:"chat_id"`
		ChatType    string    `json:"chat_type"`
		MessageType string    `json:"message_type"`
		Content     string    `json:"content"`
		CreateTime  string    `json:"create_time"`
		Mentions    []Mention `json:"mentions"`
	} `json:"message"`
}

// Mention is an @-mention placeholder inside message text.
type Mention struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// ParseMessageReceive decodes the event section of im.message.receive_v1.
func ParseMessageReceive(event json.RawMessage) (*MessageReceiveEvent, error) {
	var ev MessageReceiveEvent
	if err := json.Unmarshal(event, &ev); err != nil {
		return nil, fmt.Errorf("decoding message event: %w", err)
	}
	return &ev, nil
}
