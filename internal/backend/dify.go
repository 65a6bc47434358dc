// ABOUTME: Workflow and chat-app provider for Dify style endpoints
// ABOUTME: Events carry a typed discriminator; chat mode remembers the conversation per user

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/null-object-0000/feishu-bridge/internal/config"
	"github.com/null-object-0000/feishu-bridge/internal/conversation"
)

// Dify event types.
const (
	difyEventMessage          = "message"
	difyEventAgentMessage     = "agent_message"
	difyEventAgentThought     = "agent_thought"
	difyEventTextChunk        = "text_chunk"
	difyEventMessageEnd       = "message_end"
	difyEventWorkflowFinished = "workflow_finished"
	difyEventError            = "error"
)

// Dify talks to a Dify application. Chat apps keep server-side history
// keyed by conversation_id, so local history is not sent.
type Dify struct {
	cfg     config.DifyConfig
	anchors *AnchorStore
}

// NewDify creates a Dify provider sharing anchors across turns.
func NewDify(cfg config.DifyConfig, anchors *AnchorStore) *Dify {
	return &Dify{cfg: cfg, anchors: anchors}
}

func (p *Dify) Name() string { return config.ProviderDify }

func (p *Dify) sealed() {}

func (p *Dify) workflow() bool {
	return strings.EqualFold(p.cfg.AppType, config.DifyAppWorkflow)
}

type difyWorkflowRequest struct {
	Inputs       map[string]string `json:"inputs"`
	ResponseMode string            `json:"response_mode"`
	User         string            `json:"user"`
}

type difyChatRequest struct {
	Inputs         map[string]string `json:"inputs"`
	Query          string            `json:"query"`
	ResponseMode   string            `json:"response_mode"`
	User           string            `json:"user"`
	ConversationID string            `json:"conversation_id,omitempty"`
}

func (p *Dify) BuildRequest(ctx context.Context, query, userID string, _ []conversation.Turn) (*http.Request, error) {
	base := strings.TrimRight(p.cfg.APIURL, "/")

	var (
		path string
		body any
	)
	if p.workflow() {
		path = "/workflows/run"
		body = difyWorkflowRequest{
			Inputs:       map[string]string{"query": query},
			ResponseMode: "streaming",
			User:         userID,
		}
	} else {
		path = "/chat-messages"
		anchor, _ := p.anchors.Get(userID)
		body = difyChatRequest{
			Inputs:         map[string]string{},
			Query:          query,
			ResponseMode:   "streaming",
			User:           userID,
			ConversationID: anchor,
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding dify request: %w", err)
	}
	return newJSONRequest(ctx, base+path, p.cfg.APIKey, data)
}

type difyEvent struct {
	Event          string          `json:"event"`
	Answer         string          `json:"answer"`
	Thought        string          `json:"thought"`
	ConversationID string          `json:"conversation_id"`
	Data           json.RawMessage `json:"data"`
}

func decodeDifyEvent(data string) (difyEvent, bool) {
	var ev difyEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return ev, false
	}
	return ev, true
}

func (p *Dify) ParseChunk(data string) string {
	ev, ok := decodeDifyEvent(data)
	if !ok {
		return ""
	}
	switch ev.Event {
	case difyEventMessage, difyEventAgentMessage:
		return ev.Answer
	case difyEventTextChunk:
		var chunk struct {
			Text string `json:"text"`
		}
		if json.Unmarshal(ev.Data, &chunk) == nil {
			return chunk.Text
		}
	}
	return ""
}

func (p *Dify) ParseReasoningChunk(data string) string {
	ev, ok := decodeDifyEvent(data)
	if !ok || ev.Event != difyEventAgentThought {
		return ""
	}
	return ev.Thought
}

func (p *Dify) IsDone(data string) bool {
	ev, ok := decodeDifyEvent(data)
	if !ok {
		return false
	}
	return ev.Event == difyEventMessageEnd || ev.Event == difyEventWorkflowFinished
}

// OnStreamEvent remembers the conversation_id in chat mode. An error event
// drops it so the user's next turn opens a fresh conversation.
func (p *Dify) OnStreamEvent(userID, data string) {
	if p.workflow() {
		return
	}
	ev, ok := decodeDifyEvent(data)
	if !ok {
		return
	}
	if ev.Event == difyEventError {
		p.anchors.Forget(userID)
		return
	}
	p.anchors.Set(userID, ev.ConversationID)
}
