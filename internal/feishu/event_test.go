// ABOUTME: Tests for callback envelope decoding
// ABOUTME: Covers schema 2.0 and legacy events, token checks, handshakes, and decryption

package feishu

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const messageEventBody = `{
  "schema": "2.0",
  "header": {"event_id": "evt_1", "event_type": "im.message.receive_v1", "token": "vt", "app_id": "cli_x"},
  "event": {
    "sender": {"sender_id": {"open_id": "ou_abc"}, "sender_type": "user"},
    "message": {
      "message_id": "om_1", "parent_id": "om_0", "thread_id": "omt_1", "chat_id": "oc_1",
      "chat_type": "p2p", "message_type": "text", "content": "{\"text\":\"@_user_1 hi\"}",
      "mentions": [{"key": "@_user_1", "name": "bot"}]
    }
  }
}`

func encryptForTest(t *testing.T, key string, plain []byte) string {
	t.Helper()
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	require.NoError(t, err)

	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)

	iv := bytes.Repeat([]byte{7}, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(append(iv, out...))
}

func TestEventDecoder_SchemaV2(t *testing.T) {
	env, plain, err := NewEventDecoder("vt", "").Decode([]byte(messageEventBody))
	require.NoError(t, err)

	assert.Equal(t, EventMessageReceive, env.EventType())
	assert.Equal(t, "evt_1", env.EventID())
	assert.False(t, env.IsURLVerification())
	assert.Equal(t, []byte(messageEventBody), plain)

	ev, err := ParseMessageReceive(env.Event)
	require.NoError(t, err)
	assert.Equal(t, "ou_abc", ev.Sender.SenderID.OpenID)
	assert.Equal(t, "om_1", ev.Message.MessageID)
	assert.Equal(t, "omt_1", ev.Message.ThreadID)
	assert.Equal(t, "text", ev.Message.MessageType)
	require.Len(t, ev.Message.Mentions, 1)
	assert.Equal(t, "@_user_1", ev.Message.Mentions[0].Key)
}

func TestEventDecoder_LegacyEventType(t *testing.T) {
	body := `{"uuid":"u-1","token":"vt","type":"event_callback","event":{"type":"message","text":"x"}}`
	env, _, err := NewEventDecoder("vt", "").Decode([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "message", env.EventType())
	assert.Equal(t, "u-1", env.EventID())
}

func TestEventDecoder_URLVerification(t *testing.T) {
	body := `{"challenge":"abc","token":"vt","type":"url_verification"}`
	env, _, err := NewEventDecoder("vt", "").Decode([]byte(body))
	require.NoError(t, err)

	assert.True(t, env.IsURLVerification())
	assert.Equal(t, "abc", env.Challenge)
}

func TestEventDecoder_TokenMismatch(t *testing.T) {
	_, _, err := NewEventDecoder("other", "").Decode([]byte(messageEventBody))
	assert.ErrorIs(t, err, ErrTokenMismatch)
}

func TestEventDecoder_NoTokenConfigured(t *testing.T) {
	_, _, err := NewEventDecoder("", "").Decode([]byte(messageEventBody))
	assert.NoError(t, err)
}

func TestEventDecoder_Encrypted(t *testing.T) {
	encrypted := encryptForTest(t, "encrypt-key", []byte(messageEventBody))
	body := []byte(`{"encrypt":"` + encrypted + `"}`)

	env, plain, err := NewEventDecoder("vt", "encrypt-key").Decode(body)
	require.NoError(t, err)
	assert.Equal(t, EventMessageReceive, env.EventType())
	assert.JSONEq(t, messageEventBody, string(plain))
}

func TestEventDecoder_EncryptedWithoutKey(t *testing.T) {
	_, _, err := NewEventDecoder("", "").Decode([]byte(`{"encrypt":"AAAA"}`))
	assert.ErrorIs(t, err, ErrEncryptedPayload)
}

func TestEventDecoder_Malformed(t *testing.T) {
	_, _, err := NewEventDecoder("", "").Decode([]byte(`not json`))
	assert.Error(t, err)
}
