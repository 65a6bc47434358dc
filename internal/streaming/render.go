// ABOUTME: Create-then-patch rendering of one streaming reply card
// ABOUTME: Throttles and coalesces updates so at most one patch is ever in flight

package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/null-object-0000/feishu-bridge/internal/feishu"
)

// Messenger is what the pipeline needs from the chat platform
type Messenger interface {
	CreateMessage(ctx context.Context, receiveID, receiveIDType, msgType, content string) (string, error)
	ReplyMessage(ctx context.Context, messageID, msgType, content string, inThread bool) (string, error)
	PatchMessage(ctx context.Context, messageID, content string) error
}

const renderCallTimeout = 30 * time.Second

var errNotRendered = errors.New("no message was created")

// target decides where the first render of a reply goes.
type target struct {
	openID   string
	replyTo  string
	inThread bool
}

func (t target) send(ctx context.Context, m Messenger, card string) (string, error) {
	if t.replyTo != "" {
		return m.ReplyMessage(ctx, t.replyTo, feishu.MsgTypeInteractive, card, t.inThread)
	}
	return m.CreateMessage(ctx, t.openID, feishu.ReceiveIDOpenID, feishu.MsgTypeInteractive, card)
}

// renderer owns the render state of one session. The message ID is fixed
// once the create task resolves and patches are serialized through the
// single patch handle.
type renderer struct {
	messenger Messenger
	target    target
	interval  time.Duration
	ctx       context.Context
	logger    *slog.Logger

	mu         sync.Mutex
	create     *task[string]
	patch      *task[struct{}]
	lastUpdate time.Time
	patches    int
}

func newRenderer(ctx context.Context, m Messenger, t target, interval time.Duration, logger *slog.Logger) *renderer {
	return &renderer{
		messenger: m,
		target:    t,
		interval:  interval,
		ctx:       context.WithoutCancel(ctx),
		logger:    logger,
	}
}

func (r *renderer) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.ctx, renderCallTimeout)
}

// started reports whether the create call has been issued.
func (r *renderer) started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.create != nil
}

// update is called with the full buffer after every content delta. The
// first call starts the create task. Later calls start a patch only when
// the message exists, the interval has passed since the last render was
// initiated, and no patch is in flight. Skipped snapshots are covered by
// the next patch or by finalize.
func (r *renderer) update(snapshot string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.create == nil {
		card := feishu.MarkdownCard(snapshot)
		r.create = goTask(func() (string, error) {
			ctx, cancel := r.callCtx()
			defer cancel()
			return r.target.send(ctx, r.messenger, card)
		})
		r.lastUpdate = now
		return
	}

	if !r.create.finished() {
		return
	}
	messageID, err := r.create.result()
	if err != nil || messageID == "" {
		return
	}
	if now.Sub(r.lastUpdate) < r.interval {
		return
	}
	if r.patch != nil && !r.patch.finished() {
		return
	}

	r.patch = r.startPatch(messageID, snapshot)
	r.lastUpdate = now
	r.patches++
}

// Must be called with mu held.
func (r *renderer) startPatch(messageID, content string) *task[struct{}] {
	card := feishu.MarkdownCard(content)
	return goTask(func() (struct{}, error) {
		ctx, cancel := r.callCtx()
		defer cancel()
		if err := r.messenger.PatchMessage(ctx, messageID, card); err != nil {
			r.logger.Warn("card patch failed", "message_id", messageID, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// finalize waits for the create task, then for any in-flight patch, and
// renders content as the last word. If the in-flight patch outlasts
// patchWait the final patch is chained behind it in the background so two
// patches never overlap. It returns the message ID.
func (r *renderer) finalize(content string, createWait, patchWait time.Duration) (string, error) {
	r.mu.Lock()
	create := r.create
	r.mu.Unlock()

	if create == nil {
		return "", errNotRendered
	}

	messageID, err := create.wait(createWait)
	if err != nil {
		return "", fmt.Errorf("creating reply card: %w", err)
	}
	if messageID == "" {
		return "", fmt.Errorf("creating reply card: %w", errNotRendered)
	}

	r.mu.Lock()
	inflight := r.patch
	r.mu.Unlock()

	if inflight != nil {
		if _, err := inflight.wait(patchWait); errors.Is(err, errWaitTimeout) {
			r.logger.Warn("previous patch still in flight, chaining final patch",
				"message_id", messageID,
				"waited", patchWait,
			)
			r.mu.Lock()
			r.patch = goTask(func() (struct{}, error) {
				<-inflight.done
				r.mu.Lock()
				final := r.startPatch(messageID, content)
				r.mu.Unlock()
				return final.wait(renderCallTimeout + time.Second)
			})
			r.patches++
			r.mu.Unlock()
			return messageID, nil
		}
	}

	r.mu.Lock()
	final := r.startPatch(messageID, content)
	r.patch = final
	r.patches++
	r.mu.Unlock()

	if _, err := final.wait(renderCallTimeout + time.Second); err != nil {
		return messageID, fmt.Errorf("final patch: %w", err)
	}
	return messageID, nil
}

// messageID returns the rendered message ID once the create call has
// succeeded, or "".
func (r *renderer) messageID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.create == nil || !r.create.finished() {
		return ""
	}
	id, err := r.create.result()
	if err != nil {
		return ""
	}
	return id
}

func (r *renderer) patchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.patches
}

// sendOnce renders a standalone message, used for error notices when no
// reply card exists.
func (r *renderer) sendOnce(text string) (string, error) {
	ctx, cancel := r.callCtx()
	defer cancel()
	return r.target.send(ctx, r.messenger, feishu.MarkdownCard(text))
}
