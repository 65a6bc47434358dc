// ABOUTME: Best-effort fan-out of inbound events to configured subscribers
// ABOUTME: Each destination is delivered independently, at most once, without retries

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a relayed envelope.
type Kind string

const (
	KindEvent      Kind = "event"
	KindCardAction Kind = "card_action"
)

// EventTypeCardAction is the event_type carried by card callbacks.
const EventTypeCardAction = "card_action_trigger"

// Envelope is the body delivered to every destination.
type Envelope struct {
	Type      Kind   `json:"type"`
	EventType string `json:"event_type"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Payload   any    `json:"payload"`
}

// Delivery is one encoded envelope bound for the sinks.
type Delivery struct {
	ID        string
	Kind      Kind
	EventType string
	Body      []byte
}

// Sink is one relay destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) error
}

// Result reports the outcome for one sink.
type Result struct {
	Sink     string
	Err      error
	Duration time.Duration
}

// Dispatch tracks the deliveries started by one Send call.
type Dispatch struct {
	ID      string
	done    chan struct{}
	results []Result
}

// Wait blocks until every sink has finished and returns their results in
// sink order.
func (d *Dispatch) Wait() []Result {
	<-d.done
	return d.results
}

func finishedDispatch(id string) *Dispatch {
	d := &Dispatch{ID: id, done: make(chan struct{})}
	close(d.done)
	return d
}

// ErrClosed is returned when Send is called after Close.
var ErrClosed = errors.New("relay closed")

// Relay fans envelopes out to its sinks.
type Relay struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a relay. The sink list is fixed for the relay's lifetime.
func New(sinks []Sink, timeout time.Duration, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Relay{
		sinks:   append([]Sink(nil), sinks...),
		timeout: timeout,
		logger:  logger.With("component", "relay"),
		now:     time.Now,
	}
}

// Sinks returns the number of configured destinations.
func (r *Relay) Sinks() int {
	return len(r.sinks)
}

// Send delivers payload to every sink in the background and returns
// immediately. Failures are logged and never reach the caller.
func (r *Relay) Send(kind Kind, eventType string, payload any) *Dispatch {
	id := uuid.NewString()

	if len(r.sinks) == 0 {
		r.logger.Warn("no relay destinations configured, skipping", "type", kind, "event_type", eventType)
		return finishedDispatch(id)
	}

	body, err := json.Marshal(Envelope{
		Type:      kind,
		EventType: eventType,
		Timestamp: r.now().UnixMilli(),
		Payload:   payload,
	})
	if err != nil {
		r.logger.Error("encoding relay envelope failed", "type", kind, "event_type", eventType, "error", err)
		return finishedDispatch(id)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("relay closed, dropping event", "type", kind, "event_type", eventType, "error", ErrClosed)
		return finishedDispatch(id)
	}

	d := &Dispatch{ID: id, done: make(chan struct{}), results: make([]Result, len(r.sinks))}
	delivery := Delivery{ID: id, Kind: kind, EventType: eventType, Body: body}

	var sinksDone sync.WaitGroup
	for i, sink := range r.sinks {
		sinksDone.Add(1)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer sinksDone.Done()
			d.results[i] = r.deliver(sink, delivery)
		}()
	}
	go func() {
		sinksDone.Wait()
		close(d.done)
	}()

	return d
}

func (r *Relay) deliver(sink Sink, d Delivery) Result {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	err := sink.Deliver(ctx, d)
	res := Result{Sink: sink.Name(), Err: err, Duration: time.Since(start)}

	if err != nil {
		r.logger.Error("relay delivery failed",
			"type", d.Kind,
			"event_type", d.EventType,
			"delivery_id", d.ID,
			"sink", res.Sink,
			"error", err,
		)
		return res
	}
	r.logger.Info("relay delivered",
		"type", d.Kind,
		"event_type", d.EventType,
		"delivery_id", d.ID,
		"sink", res.Sink,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res
}

// Close stops accepting events, waits for in-flight deliveries until ctx
// is done, and closes sinks that hold resources.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	for _, sink := range r.sinks {
		if c, ok := sink.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
