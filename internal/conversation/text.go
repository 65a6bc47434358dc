// ABOUTME: Extracts readable text from stored messages of different encodings
// ABOUTME: Handles plain text bodies and interactive cards with flat or nested element lists

package conversation

import (
	"encoding/json"
	"strings"

	"github.com/null-object-0000/feishu-bridge/internal/feishu"
)

// MessageText returns the text carried by a message body. The second return
// is false when the message has no usable text or cannot be decoded.
func MessageText(msgType, content string) (string, bool) {
	var text string
	switch msgType {
	case feishu.MsgTypeText:
		var body struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(content), &body); err != nil {
			return "", false
		}
		text = body.Text
	case feishu.MsgTypeInteractive:
		var body struct {
			Elements json.RawMessage `json:"elements"`
		}
		if err := json.Unmarshal([]byte(content), &body); err != nil || len(body.Elements) == 0 {
			return "", false
		}
		var b strings.Builder
		collectElements(body.Elements, &b)
		text = b.String()
	default:
		return "", false
	}

	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

type cardElement struct {
	Tag     string `json:"tag"`
	Text    any    `json:"text"`
	Content any    `json:"content"`
}

// collectElements walks a card element list. Lists may nest: the message
// API returns cards as a list of lines, each a list of elements.
func collectElements(raw json.RawMessage, b *strings.Builder) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return
	}

	for _, item := range list {
		trimmed := strings.TrimSpace(string(item))
		if strings.HasPrefix(trimmed, "[") {
			collectElements(item, b)
			continue
		}

		var el cardElement
		if err := json.Unmarshal(item, &el); err != nil {
			continue
		}
		switch el.Tag {
		case "markdown", "lark_md":
			b.WriteString(firstString(el.Content, el.Text))
		case "text", "plain_text":
			b.WriteString(firstString(el.Text, el.Content))
		}
	}
}

func firstString(values ...any) string {
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}
