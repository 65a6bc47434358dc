// ABOUTME: Message operations on the Feishu IM API: send, reply, patch, get, and list
// ABOUTME: These are the render and history primitives used by the streaming pipeline

package feishu

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Receive ID types accepted by CreateMessage.
const (
	ReceiveIDOpenID = "open_id"
	ReceiveIDChatID = "chat_id"
	ReceiveIDUserID = "user_id"
)

// Message types.
const (
	MsgTypeText        = "text"
	MsgTypeInteractive = "interactive"
)

// Container types accepted by ListMessages.
const (
	ContainerChat   = "chat"
	ContainerThread = "thread"
)

// MaxPageSize is the largest page the list API returns.
const MaxPageSize = 50

// Sender types reported on messages.
const (
	SenderUser = "user"
	SenderApp  = "app"
)

// Message is the subset of an IM message the bridge reads.
type Message struct {
	ID         string
	ParentID   string
	RootID     string
	ThreadID   string
	ChatID     string
	MsgType    string
	Content    string
	SenderID   string
	SenderType string
	CreateTime int64 // unix milliseconds
	Deleted    bool
}

type apiMessage struct {
	MessageID  string `json:"message_id"`
	RootID     string `json:"root_id"`
	ParentID   string `json:"parent_id"`
	ThreadID   string `json:"thread_id"`
	ChatID     string `json:"chat_id"`
	MsgType    string `json:"msg_type"`
	CreateTime string `json:"create_time"`
	Deleted    bool   `json:"deleted"`
	Sender     struct {
		ID         string `json:"id"`
		IDType     string `json:"id_type"`
		SenderType string `json:"sender_type"`
	} `json:"sender"`
	Body struct {
		Content string `json:"content"`
	} `json:"body"`
}

func (m apiMessage) toMessage() Message {
	created, _ := strconv.ParseInt(m.CreateTime, 10, 64)
	return Message{
		ID:         m.MessageID,
		ParentID:   m.ParentID,
		RootID:     m.RootID,
		ThreadID:   m.ThreadID,
		ChatID:     m.ChatID,
		MsgType:    m.MsgType,
		Content:    m.Body.Content,
		SenderID:   m.Sender.ID,
		SenderType: m.Sender.SenderType,
		CreateTime: created,
		Deleted:    m.Deleted,
	}
}

const messagesPath = "/open-apis/im/v1/messages"

func messagePath(id string, suffix string) string {
	return messagesPath + "/" + url.PathEscape(id) + suffix
}

// CreateMessage sends a new message and returns its ID.
func (c *Client) CreateMessage(ctx context.Context, receiveID, receiveIDType, msgType, content string) (string, error) {
	body := map[string]string{
		"receive_id": receiveID,
		"msg_type":   msgType,
		"content":    content,
	}
	query := url.Values{"receive_id_type": {receiveIDType}}

	var out apiMessage
	if err := c.call(ctx, http.MethodPost, messagesPath, query, body, &out); err != nil {
		return "", fmt.Errorf("creating message: %w", err)
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("creating message: response carried no message_id")
	}
	return out.MessageID, nil
}

// ReplyMessage replies to messageID and returns the new message's ID. When
// inThread is set the reply lands in the message's thread.
func (c *Client) ReplyMessage(ctx context.Context, messageID, msgType, content string, inThread bool) (string, error) {
	body := map[string]any{
		"msg_type":        msgType,
		"content":         content,
		"reply_in_thread": inThread,
	}

	var out apiMessage
	if err := c.call(ctx, http.MethodPost, messagePath(messageID, "/reply"), nil, body, &out); err != nil {
		return "", fmt.Errorf("replying to message %s: %w", messageID, err)
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("replying to message %s: response carried no message_id", messageID)
	}
	return out.MessageID, nil
}

// PatchMessage replaces the content of an interactive card message.
func (c *Client) PatchMessage(ctx context.Context, messageID, content string) error {
	body := map[string]string{"content": content}
	if err := c.call(ctx, http.MethodPatch, messagePath(messageID, ""), nil, body, nil); err != nil {
		return fmt.Errorf("patching message %s: %w", messageID, err)
	}
	return nil
}

// GetMessage fetches one message. It returns ErrNotFound when the platform
// has no item for the ID.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	var out struct {
		Items []apiMessage `json:"items"`
	}
	if err := c.call(ctx, http.MethodGet, messagePath(messageID, ""), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("getting message %s: %w", messageID, err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("getting message %s: %w", messageID, ErrNotFound)
	}
	msg := out.Items[0].toMessage()
	return &msg, nil
}

// ListQuery selects one page of a chat or thread.
type ListQuery struct {
	ContainerIDType string
	ContainerID     string
	SortAscending   bool
	PageSize        int
	PageToken       string
}

// MessagePage is one page of ListMessages.
type MessagePage struct {
	Items     []Message
	HasMore   bool
	PageToken string
}

// ListMessages returns one page of messages from a chat or thread.
func (c *Client) ListMessages(ctx context.Context, q ListQuery) (*MessagePage, error) {
	size := q.PageSize
	if size <= 0 || size > MaxPageSize {
		size = MaxPageSize
	}
	sortType := "ByCreateTimeDesc"
	if q.SortAscending {
		sortType = "ByCreateTimeAsc"
	}

	query := url.Values{
		"container_id_type": {q.ContainerIDType},
		"container_id":      {q.ContainerID},
		"sort_type":         {sortType},
		"page_size":         {strconv.Itoa(size)},
	}
	if q.PageToken != "" {
		query.Set("page_token", q.PageToken)
	}

	var out struct {
		HasMore   bool         `json:"has_more"`
		PageToken string       `json:"page_token"`
		Items     []apiMessage `json:"items"`
	}
	if err := c.call(ctx, http.MethodGet, messagesPath, query, nil, &out); err != nil {
		return nil, fmt.Errorf("listing %s %s: %w", q.ContainerIDType, q.ContainerID, err)
	}

	page := &MessagePage{
		Items:     make([]Message, 0, len(out.Items)),
		HasMore:   out.HasMore,
		PageToken: out.PageToken,
	}
	for _, m := range out.Items {
		page.Items = append(page.Items, m.toMessage())
	}
	return page, nil
}
