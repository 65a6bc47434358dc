// ABOUTME: Streaming reply pipeline: one invocation per inbound message
// ABOUTME: Requests a backend stream, renders it as a live card, and logs the session

package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/null-object-0000/feishu-bridge/internal/backend"
	"github.com/null-object-0000/feishu-bridge/internal/conversation"
	"github.com/null-object-0000/feishu-bridge/internal/convlog"
)

// User-visible notices.
const (
	noticeNoContent     = "AI 未返回有效内容"
	noticeBackendStatus = "调用 AI 服务失败 (HTTP %d)"
	noticeBackendFailed = "调用 AI 服务失败，请稍后重试"
)

const (
	maxLineSize   = 1 << 20
	maxErrorBody  = 64 << 10
	queryLogLimit = 80
)

// Errors recorded on a Result.
var (
	ErrNoContent     = errors.New("backend returned no content")
	ErrBackendStatus = errors.New("backend returned non-success status")
)

// State is the phase of one reply.
type State string

const (
	StateRequesting State = "requesting"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateErrored    State = "errored"
)

// History supplies prior turns for a message.
type History interface {
	Collect(ctx context.Context, ref conversation.MessageRef, max int) []conversation.Turn
}

// Recorder persists a completed session.
type Recorder interface {
	Save(rec *convlog.Record) error
}

// Options tunes the pipeline. Zero values take the defaults below.
type Options struct {
	// ReplyMode replies to the inbound message instead of messaging the sender.
	ReplyMode bool
	// MemoryEnabled turns on history retrieval.
	MemoryEnabled bool
	// MaxHistory caps the number of prior turns; 0 means unlimited.
	MaxHistory int

	UpdateInterval time.Duration // default 200ms
	CreateTimeout  time.Duration // default 10s
	PatchWait      time.Duration // default 2s
	RequestTimeout time.Duration // default 120s, until response headers
	LogInterval    time.Duration // default 3s
}

func (o Options) withDefaults() Options {
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = 200 * time.Millisecond
	}
	if o.CreateTimeout <= 0 {
		o.CreateTimeout = 10 * time.Second
	}
	if o.PatchWait <= 0 {
		o.PatchWait = 2 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 120 * time.Second
	}
	if o.LogInterval <= 0 {
		o.LogInterval = 3 * time.Second
	}
	return o
}

// Config holds the collaborators of a Service.
type Config struct {
	Provider   backend.Provider
	Messenger  Messenger
	History    History  // optional
	Recorder   Recorder // optional
	HTTPClient *http.Client
	Options    Options
	Logger     *slog.Logger
}

// Service runs streaming replies. It is safe for concurrent use; every
// HandleMessage call owns its own session.
type Service struct {
	provider  backend.Provider
	messenger Messenger
	history   History
	recorder  Recorder
	client    *http.Client
	opts      Options
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewService creates a pipeline.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Service{
		provider:  cfg.Provider,
		messenger: cfg.Messenger,
		history:   cfg.History,
		recorder:  cfg.Recorder,
		client:    client,
		opts:      cfg.Options.withDefaults(),
		logger:    logger.With("component", "streaming"),
	}
}

// Inbound is a user message that should get a streamed reply.
type Inbound struct {
	OpenID    string
	MessageID string
	ParentID  string
	ThreadID  string
	ChatID    string
	Text      string
}

// Result summarizes one finished session.
type Result struct {
	SessionID string
	State     State
	Content   string
	Reasoning string
	MessageID string
	History   int
	Stats     Stats
	Err       error
}

// Go runs HandleMessage in the background and returns immediately.
func (s *Service) Go(ctx context.Context, in Inbound) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.HandleMessage(ctx, in)
	}()
}

// Wait blocks until background sessions finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type session struct {
	id        string
	in        Inbound
	logger    *slog.Logger
	meter     *meter
	render    *renderer
	buf       strings.Builder
	reasoning strings.Builder
	progress  rate.Sometimes
	state     State
	history   int
}

// HandleMessage streams one reply. Every failure ends at this boundary: it
// is logged, shown to the user when possible, and reported in the Result.
func (s *Service) HandleMessage(ctx context.Context, in Inbound) *Result {
	sess := s.newSession(ctx, in)
	err := s.run(ctx, sess)
	return s.complete(sess, err)
}

func (s *Service) newSession(ctx context.Context, in Inbound) *session {
	id := uuid.NewString()
	logger := s.logger.With("session", id, "open_id", in.OpenID)

	t := target{openID: in.OpenID}
	if s.opts.ReplyMode && in.MessageID != "" {
		t.replyTo = in.MessageID
		t.inThread = in.ThreadID != ""
	}

	return &session{
		id:       id,
		in:       in,
		logger:   logger,
		meter:    newMeter(time.Now()),
		render:   newRenderer(ctx, s.messenger, t, s.opts.UpdateInterval, logger),
		progress: rate.Sometimes{Interval: s.opts.LogInterval},
		state:    StateRequesting,
	}
}

func (s *Service) run(ctx context.Context, sess *session) error {
	history := s.collectHistory(ctx, sess.in)
	sess.history = len(history)

	sess.logger.Info("requesting backend",
		"provider", s.provider.Name(),
		"query", truncate(sess.in.Text, queryLogLimit),
		"history_turns", sess.history,
	)

	resp, err := s.send(ctx, sess, history)
	if err != nil {
		sess.logger.Error("backend request failed",
			"elapsed_ms", time.Since(sess.meter.start).Milliseconds(),
			"error", err,
		)
		s.notify(sess, noticeBackendFailed)
		return err
	}
	defer resp.Body.Close()

	sess.logger.Info("backend responded",
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(sess.meter.start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		sess.logger.Error("backend returned non-success status",
			"status", resp.StatusCode,
			"body", string(body),
		)
		s.notify(sess, fmt.Sprintf(noticeBackendStatus, resp.StatusCode))
		return fmt.Errorf("%w: %d", ErrBackendStatus, resp.StatusCode)
	}

	sess.state = StateStreaming
	readErr := s.consume(sess, resp.Body)
	if readErr != nil {
		sess.logger.Warn("stream read failed, finalizing partial reply",
			"chunks", sess.meter.stats.ContentChunks,
			"chars", sess.meter.stats.ContentChars,
			"error", readErr,
		)
	}

	sess.state = StateFinalizing
	if err := s.finalize(sess); err != nil {
		return err
	}
	if readErr != nil {
		return fmt.Errorf("reading stream: %w", readErr)
	}
	return nil
}

func (s *Service) collectHistory(ctx context.Context, in Inbound) []conversation.Turn {
	if !s.opts.MemoryEnabled || s.history == nil {
		return nil
	}
	limit := s.opts.MaxHistory
	if limit <= 0 {
		limit = conversation.Unlimited
	}
	return s.history.Collect(ctx, conversation.MessageRef{
		MessageID: in.MessageID,
		ParentID:  in.ParentID,
		ThreadID:  in.ThreadID,
	}, limit)
}

// send issues the backend request. RequestTimeout bounds the wait for
// response headers; the body may stream for longer.
func (s *Service) send(ctx context.Context, sess *session, history []conversation.Turn) (*http.Response, error) {
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	timer := time.AfterFunc(s.opts.RequestTimeout, cancel)

	req, err := s.provider.BuildRequest(reqCtx, sess.in.Text, sess.in.OpenID, history)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := s.client.Do(req)
	if !timer.Stop() && err == nil {
		err = context.DeadlineExceeded
		resp.Body.Close()
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sending request: %w", err)
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// consume reads data lines until the provider signals completion or the
// body ends.
func (s *Service) consume(sess *session, body io.Reader) error {
	lines := newLineReader(body, maxLineSize)

	for {
		line, dropped, err := lines.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		sess.meter.stats.Lines++
		if dropped > 0 {
			sess.logger.Warn("skipping oversized stream line", "n", sess.meter.stats.Lines, "bytes", dropped)
			continue
		}
		if sess.meter.stats.Lines <= 3 {
			sess.logger.Debug("raw stream line", "n", sess.meter.stats.Lines, "line", truncate(line, 200))
		}

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		s.provider.OnStreamEvent(sess.in.OpenID, data)
		if s.provider.IsDone(data) {
			sess.logger.Debug("stream completion signal received")
			return nil
		}

		if reasoning := s.provider.ParseReasoningChunk(data); reasoning != "" {
			sess.meter.reasoning(reasoning)
			sess.reasoning.WriteString(reasoning)
			sess.progress.Do(func() {
				sess.logger.Info("model reasoning",
					"reasoning_chunks", sess.meter.stats.ReasoningChunks,
					"reasoning_chars", sess.meter.stats.ReasoningChars,
					"elapsed_ms", time.Since(sess.meter.start).Milliseconds(),
				)
			})
		}

		chunk := s.provider.ParseChunk(data)
		if chunk == "" {
			continue
		}

		now := time.Now()
		if sess.meter.content(chunk, now) {
			sess.logger.Info("first content arrived",
				"ttft_ms", sess.meter.stats.TTFT.Milliseconds(),
				"reasoning_chunks", sess.meter.stats.ReasoningChunks,
			)
		}
		sess.buf.WriteString(chunk)
		sess.render.update(sess.buf.String(), now)

		sess.progress.Do(func() {
			sess.logger.Info("streaming",
				"chunks", sess.meter.stats.ContentChunks,
				"chars", sess.meter.stats.ContentChars,
				"chars_per_sec", fmt.Sprintf("%.1f", sess.meter.charsPerSecond(now)),
				"burst_chunks", sess.meter.stats.BurstChunks,
				"gap_chunks", sess.meter.stats.GapChunks,
			)
		})
	}
}

func (s *Service) finalize(sess *session) error {
	if !sess.render.started() {
		sess.logger.Warn("stream produced no content", "lines", sess.meter.stats.Lines)
		s.notify(sess, noticeNoContent)
		return ErrNoContent
	}

	if _, err := sess.render.finalize(sess.buf.String(), s.opts.CreateTimeout, s.opts.PatchWait); err != nil {
		sess.logger.Error("rendering reply failed",
			"elapsed_ms", time.Since(sess.meter.start).Milliseconds(),
			"chunks", sess.meter.stats.ContentChunks,
			"chars", sess.meter.stats.ContentChars,
			"error", err,
		)
		return err
	}
	return nil
}

// notify sends a standalone notice card. Failures are only logged.
func (s *Service) notify(sess *session, text string) {
	if _, err := sess.render.sendOnce(text); err != nil {
		sess.logger.Error("sending notice failed", "notice", text, "error", err)
	}
}

func (s *Service) complete(sess *session, err error) *Result {
	res := &Result{
		SessionID: sess.id,
		State:     StateDone,
		Content:   sess.buf.String(),
		Reasoning: sess.reasoning.String(),
		History:   sess.history,
		Err:       err,
	}
	if err != nil {
		res.State = StateErrored
	}
	res.MessageID = sess.render.messageID()
	res.Stats = sess.meter.finish(time.Now(), sess.render.patchCount())

	if err != nil {
		sess.logger.Warn("reply failed",
			"phase", sess.state,
			"message_id", res.MessageID,
			"stats", res.Stats,
			"error", err,
		)
	} else {
		sess.logger.Info("reply finished",
			"message_id", res.MessageID,
			"stats", res.Stats,
		)
	}

	if s.recorder != nil {
		rec := &convlog.Record{
			SessionID:    sess.id,
			OpenID:       sess.in.OpenID,
			MessageID:    sess.in.MessageID,
			ReplyID:      res.MessageID,
			Provider:     s.provider.Name(),
			Query:        sess.in.Text,
			Reply:        res.Content,
			Reasoning:    res.Reasoning,
			HistoryTurns: res.History,
			State:        string(res.State),
			Stats:        res.Stats,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		if serr := s.recorder.Save(rec); serr != nil {
			sess.logger.Warn("saving conversation log failed", "error", serr)
		}
	}

	return res
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
