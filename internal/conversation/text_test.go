// ABOUTME: Tests for message text extraction
// ABOUTME: Covers text bodies, flat and nested cards, unknown tags, and malformed content

package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/null-object-0000/feishu-bridge/internal/feishu"
)

func TestMessageText(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		content string
		want    string
		wantOK  bool
	}{
		{
			name:    "plain text",
			msgType: "text",
			content: `{"text":"hello there"}`,
			want:    "hello there",
			wantOK:  true,
		},
		{
			name:    "blank text",
			msgType: "text",
			content: `{"text":"   "}`,
			wantOK:  false,
		},
		{
			name:    "malformed text",
			msgType: "text",
			content: `{"text":`,
			wantOK:  false,
		},
		{
			name:    "flat card from our renderer",
			msgType: "interactive",
			content: feishu.MarkdownCard("**answer**"),
			want:    "**answer**",
			wantOK:  true,
		},
		{
			name:    "nested card as returned by the message api",
			msgType: "interactive",
			content: `{"title":null,"elements":[[{"tag":"text","text":"line one "}],[{"tag":"markdown","content":"line two"}]]}`,
			want:    "line one line two",
			wantOK:  true,
		},
		{
			name:    "unknown element tags contribute nothing",
			msgType: "interactive",
			content: `{"elements":[{"tag":"img","img_key":"x"},{"tag":"hr"},{"tag":"text","text":"kept"}]}`,
			want:    "kept",
			wantOK:  true,
		},
		{
			name:    "card with only unknown elements",
			msgType: "interactive",
			content: `{"elements":[{"tag":"img","img_key":"x"}]}`,
			wantOK:  false,
		},
		{
			name:    "card without elements",
			msgType: "interactive",
			content: `{"header":{}}`,
			wantOK:  false,
		},
		{
			name:    "malformed element is skipped",
			msgType: "interactive",
			content: `{"elements":["oops",{"tag":"markdown","content":"ok"}]}`,
			want:    "ok",
			wantOK:  true,
		},
		{
			name:    "unsupported message type",
			msgType: "image",
			content: `{"image_key":"img_x"}`,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MessageText(tt.msgType, tt.content)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRoleForSender(t *testing.T) {
	assert.Equal(t, RoleAssistant, RoleForSender("app"))
	assert.Equal(t, RoleAssistant, RoleForSender("bot"))
	assert.Equal(t, RoleUser, RoleForSender("user"))
	assert.Equal(t, RoleUser, RoleForSender(""))
}
