// ABOUTME: History assembler that rebuilds prior turns from a thread or a reply chain
// ABOUTME: Fetch failures degrade to partial history rather than failing the reply

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"

	"github.com/null-object-0000/feishu-bridge/internal/feishu"
)

// Unlimited asks for every available turn.
const Unlimited = math.MaxInt

// MessageSource is what the assembler needs from the platform
type MessageSource interface {
	GetMessage(ctx context.Context, messageID string) (*feishu.Message, error)
	ListMessages(ctx context.Context, q feishu.ListQuery) (*feishu.MessagePage, error)
}

// MessageRef locates an inbound message within its conversation.
type MessageRef struct {
	MessageID string
	ParentID  string
	ThreadID  string
}

// Assembler reconstructs bounded conversation history.
type Assembler struct {
	source  MessageSource
	pageCap int
	logger  *slog.Logger
}

// NewAssembler creates an assembler reading from source.
func NewAssembler(source MessageSource, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		source:  source,
		pageCap: feishu.MaxPageSize,
		logger:  logger.With("component", "history"),
	}
}

// Collect returns at most max turns preceding ref, oldest first. Messages in
// a thread are read from the thread; otherwise the reply chain is walked
// from the parent. A message with neither has no history.
func (a *Assembler) Collect(ctx context.Context, ref MessageRef, max int) []Turn {
	switch {
	case ref.ThreadID != "":
		return a.FromThread(ctx, ref.ThreadID, max, ref.MessageID)
	case ref.ParentID != "":
		return a.FromReplyChain(ctx, ref.ParentID, max)
	default:
		return nil
	}
}

// FromThread pages through a thread in ascending time order, skipping
// excludeID, until max turns are gathered or the thread is exhausted.
func (a *Assembler) FromThread(ctx context.Context, threadID string, max int, excludeID string) []Turn {
	turns := []Turn{}
	if max <= 0 {
		return turns
	}

	pageToken := ""
	for len(turns) < max {
		page, err := a.source.ListMessages(ctx, feishu.ListQuery{
			ContainerIDType: feishu.ContainerThread,
			ContainerID:     threadID,
			SortAscending:   true,
			PageSize:        min(max-len(turns), a.pageCap),
			PageToken:       pageToken,
		})
		if err != nil {
			a.logger.Warn("thread history fetch failed, using partial history",
				"thread_id", threadID,
				"collected", len(turns),
				"error", err,
			)
			break
		}

		for _, msg := range page.Items {
			if len(turns) >= max {
				break
			}
			if msg.ID == excludeID || msg.Deleted {
				continue
			}
			if text, ok := MessageText(msg.MsgType, msg.Content); ok {
				turns = append(turns, Turn{Role: RoleForSender(msg.SenderType), Content: text})
			}
		}

		if !page.HasMore || page.PageToken == "" {
			break
		}
		pageToken = page.PageToken
	}

	return turns
}

// FromReplyChain starts at messageID and follows parent references until
// max turns are gathered, a message has no parent, or a fetch fails. The
// result is ordered oldest first.
func (a *Assembler) FromReplyChain(ctx context.Context, messageID string, max int) []Turn {
	turns := []Turn{}
	if max <= 0 {
		return turns
	}

	seen := make(map[string]struct{})
	for id := messageID; id != "" && len(turns) < max; {
		if _, ok := seen[id]; ok {
			break
		}
		seen[id] = struct{}{}

		msg, err := a.source.GetMessage(ctx, id)
		if err != nil {
			if errors.Is(err, feishu.ErrNotFound) {
				a.logger.Debug("reply chain ends at unresolvable message", "message_id", id)
			} else {
				a.logger.Warn("reply chain fetch failed, using partial history",
					"message_id", id,
					"collected", len(turns),
					"error", err,
				)
			}
			break
		}

		if !msg.Deleted {
			if text, ok := MessageText(msg.MsgType, msg.Content); ok {
				turns = append(turns, Turn{Role: RoleForSender(msg.SenderType), Content: text})
			}
		}
		id = msg.ParentID
	}

	slices.Reverse(turns)
	return turns
}
