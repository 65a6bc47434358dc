// ABOUTME: Builders for message content payloads: markdown cards, text, and callback toasts
// ABOUTME: Content is a JSON string embedded in the message body, as the IM API expects

package feishu

import "encoding/json"

type cardElement struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type card struct {
	Config struct {
		WideScreenMode bool `json:"wide_screen_mode"`
	} `json:"config"`
	Elements []cardElement `json:"elements"`
}

// MarkdownCard returns the content of an interactive card holding a single
// markdown element.
func MarkdownCard(markdown string) string {
	var c card
	c.Config.WideScreenMode = true
	c.Elements = []cardElement{{Tag: "markdown", Content: markdown}}
	data, _ := json.Marshal(c)
	return string(data)
}

// TextContent returns the content of a plain text message.
func TextContent(text string) string {
	data, _ := json.Marshal(map[string]string{"text": text})
	return string(data)
}

// Toast is the synchronous answer to a card callback.
type Toast struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// CardActionResponse is the body returned to a card.action.trigger callback.
type CardActionResponse struct {
	Toast Toast `json:"toast"`
}

// AckToast is the acknowledgement shown to a user who clicked a card.
func AckToast() CardActionResponse {
	return CardActionResponse{Toast: Toast{Type: "info", Content: "已收到"}}
}
