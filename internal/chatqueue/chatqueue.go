// Package chatqueue is the outbound side of the chat adapter (spec
// §4.8): a single FIFO worker draining a buffered channel of outbound
// messages at a rate-limited pace, retrying transient send failures with
// exponential backoff before giving up on a message. Grounded on the
// teacher's internal/notifications/service/service.go dispatch loop and
// the retry-tuning idiom in telnet2-opencode's internal/session/loop.go
// newRetryBackoff.
package chatqueue

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/obslog"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sender is implemented by the concrete chat platform adapter (Slack).
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// OutboundMessage is one unit of outbound chat traffic: a new post, an
// edit of an existing message (for double-submission prevention via
// block replacement), or a threaded reply.
type OutboundMessage struct {
	Channel   string
	Text      string
	Blocks    any // platform-specific block payload, opaque to the queue
	EditRef   string // non-empty to edit an existing message instead of posting
	ReplyToTS string
	Result    chan<- SendResult // optional: receives exactly one outcome; never closed
}

// SendResult is delivered on OutboundMessage.Result once a message has
// been sent (or permanently failed).
type SendResult struct {
	MessageRef string
	Err        error
}

// Queue is a single-worker FIFO with a token-bucket rate limiter and
// exponential-backoff retry per message.
type Queue struct {
	sender  Sender
	limiter *rate.Limiter
	backoffCap int
	messages chan OutboundMessage
	log     *obslog.Logger
	maxRetries uint64
}

// Config tunes the queue's rate limit and retry policy.
type Config struct {
	RatePerSecond float64
	Burst         int
	BufferSize    int
	MaxRetries    uint64
}

// New constructs a Queue bound to sender.
func New(sender Sender, cfg Config, log *obslog.Logger) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Queue{
		sender:     sender,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		messages:   make(chan OutboundMessage, cfg.BufferSize),
		log:        log,
		maxRetries: cfg.MaxRetries,
	}
}

// Enqueue appends msg to the outbound queue. It does not block on
// delivery — only on queue capacity, which signals sustained backpressure
// rather than silently dropping traffic.
func (q *Queue) Enqueue(ctx context.Context, msg OutboundMessage) error {
	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return apperr.Wrap(apperr.Chat, "enqueue outbound message", ctx.Err())
	}
}

// Drain makes a single best-effort delivery attempt (no retry backoff)
// for every message already buffered, stopping early if ctx expires.
// Used at shutdown, after Run's loop has already exited on a cancelled
// context, to flush whatever was left queued within a bounded grace
// period rather than silently dropping it.
func (q *Queue) Drain(ctx context.Context) int {
	sent := 0
	for {
		select {
		case msg := <-q.messages:
			if err := q.sender.Send(ctx, msg); err != nil {
				q.log.Warn("chat message dropped during shutdown drain", zap.Error(err))
				q.finish(msg, "", err)
				continue
			}
			sent++
			q.finish(msg, "", nil)
		case <-ctx.Done():
			return sent
		default:
			return sent
		}
	}
}

// Run drains the queue until ctx is cancelled, sending one message at a
// time in FIFO order, rate-limited and retried with exponential backoff.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q.messages:
			q.deliver(ctx, msg)
		}
	}
}

func (q *Queue) deliver(ctx context.Context, msg OutboundMessage) {
	if err := q.limiter.Wait(ctx); err != nil {
		q.finish(msg, "", apperr.Wrap(apperr.Chat, "rate limiter wait cancelled", err))
		return
	}

	var ref string
	op := func() error {
		return q.sender.Send(ctx, msg)
	}

	b := newSendBackoff(ctx, q.maxRetries)
	err := backoff.Retry(op, b)
	if err != nil {
		q.log.Warn("chat message delivery failed after retries", zap.Error(err))
		q.finish(msg, "", apperr.Wrap(apperr.Chat, "send outbound message", err))
		return
	}
	q.finish(msg, ref, nil)
}

func (q *Queue) finish(msg OutboundMessage, ref string, err error) {
	if msg.Result == nil {
		return
	}
	msg.Result <- SendResult{MessageRef: ref, Err: err}
}

// newSendBackoff mirrors the teacher's newRetryBackoff tuning: a jittered
// exponential backoff capped in total elapsed time and retry count so a
// persistently failing chat platform never blocks the queue forever.
func newSendBackoff(ctx context.Context, maxRetries uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultInitialInterval
	b.MaxInterval = defaultMaxInterval
	b.MaxElapsedTime = defaultMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}
