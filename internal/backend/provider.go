// ABOUTME: Backend adapter contract shared by the supported LLM providers
// ABOUTME: The provider set is closed: New returns one of the variants in this package

package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/null-object-0000/feishu-bridge/internal/config"
	"github.com/null-object-0000/feishu-bridge/internal/conversation"
)

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown streaming provider")

// Provider translates a query into a streaming HTTP request and decodes the
// data lines of the response. Decoders never fail: a line they do not
// understand yields no content and does not end the stream.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// BuildRequest creates the outbound streaming request. history is
	// ordered oldest first and may be empty.
	BuildRequest(ctx context.Context, query, userID string, history []conversation.Turn) (*http.Request, error)
	// ParseChunk returns the content delta carried by data, or "".
	ParseChunk(data string) string
	// ParseReasoningChunk returns the reasoning delta carried by data, or "".
	ParseReasoningChunk(data string) string
	// IsDone reports whether data marks the end of the stream.
	IsDone(data string) bool
	// OnStreamEvent observes every data line before it is parsed.
	OnStreamEvent(userID, data string)

	sealed()
}

// New returns the provider selected by cfg.Provider.
func New(cfg config.StreamingConfig, anchors *AnchorStore) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case config.ProviderOpenAI:
		return NewOpenAI(cfg.OpenAI), nil
	case config.ProviderDify:
		if anchors == nil {
			anchors = NewAnchorStore()
		}
		return NewDify(cfg.Dify, anchors), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

func newJSONRequest(ctx context.Context, url, apiKey string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}
