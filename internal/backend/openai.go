// ABOUTME: Chat-completion provider for OpenAI-compatible endpoints
// ABOUTME: Streams choices[0].delta.content and ends on the literal [DONE] sentinel

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

const doneSentinel = "[DONE]"

// OpenAI talks to a /chat/completions style endpoint.
type OpenAI struct {
	cfg config.OpenAIConfig
}

// NewOpenAI creates a chat-completion provider.
func NewOpenAI(cfg config.OpenAIConfig) *OpenAI {
	return &OpenAI{cfg: cfg}
}

func (p *OpenAI) Name() string { return config.ProviderOpenAI }

func (p *OpenAI) sealed() {}

type chatRequest struct {
	Model    string              `json:"model"`
	Messages []conversation.Turn `json:"messages"`
	Stream   bool                `json:"stream"`
}

func (p *OpenAI) BuildRequest(ctx context.Context, query, _ string, history []conversation.Turn) (*http.Request, error) {
	messages := make([]conversation.Turn, 0, len(history)+2)
	if strings.TrimSpace(p.cfg.SystemPrompt) != "" {
		messages = append(messages, conversation.Turn{Role: conversation.RoleSystem, Content: p.cfg.SystemPrompt})
	}
	messages = append(messages, history...)
	messages = append(messages, conversation.Turn{Role: conversation.RoleUser, Content: query})

	body, err := json.Marshal(chatRequest{Model: p.cfg.Model, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}
	return newJSONRequest(ctx, p.cfg.APIURL, p.cfg.APIKey, body)
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content          *string `json:"content"`
			ReasoningContent *string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
}

func decodeChatChunk(data string) (chatChunk, bool) {
	var chunk chatChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil || len(chunk.Choices) == 0 {
		return chunk, false
	}
	return chunk, true
}

func (p *OpenAI) ParseChunk(data string) string {
	chunk, ok := decodeChatChunk(data)
	if !ok || chunk.Choices[0].Delta.Content == nil {
		return ""
	}
	return *chunk.Choices[0].Delta.Content
}

func (p *OpenAI) ParseReasoningChunk(data string) string {
	chunk, ok := decodeChatChunk(data)
	if !ok || chunk.Choices[0].Delta.ReasoningContent == nil {
		return ""
	}
	return *chunk.Choices[0].Delta.ReasoningContent
}

func (p *OpenAI) IsDone(data string) bool {
	return strings.TrimSpace(data) == doneSentinel
}

func (p *OpenAI) OnStreamEvent(string, string) {}
