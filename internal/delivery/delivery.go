// Package delivery sends normalized messages to single chat targets with
// pacing and flood-control backoff.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"rss_fanout/internal/model"
)

// ErrRejected marks a permanent refusal: the target blocked or removed the bot.
var ErrRejected = errors.New("target rejected delivery")

// FloodError reports that the transport is rate limited.
// A zero RetryAfter means the transport did not say how long to wait.
type FloodError struct {
	RetryAfter time.Duration
}

func (e *FloodError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("flood control: retry after %s", e.RetryAfter)
	}
	return "flood control"
}

// Transport is the chat platform capability the engine needs.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendImage(ctx context.Context, chatID int64, imageURL, caption string) error
}

// Outcome is the per-target result of a delivery.
type Outcome int

// Delivery outcomes.
const (
	Delivered Outcome = iota
	Failed            // transient, the target stays registered
	Rejected          // permanent, the target should be pruned
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options configures an Engine.
type Options struct {
	Interval time.Duration // minimum spacing between sends; zero disables pacing
	Retries  uint64        // flood-control retries per target
	Backoff  time.Duration // first backoff step when the transport gives no wait
}

// Engine delivers messages through a Transport.
type Engine struct {
	transport Transport
	limiter   *rate.Limiter
	retries   uint64
	backoff   time.Duration
	log       *slog.Logger
}

// New creates an Engine.
func New(t Transport, opts Options, log *slog.Logger) *Engine {
	limit := rate.Inf
	if opts.Interval > 0 {
		limit = rate.Every(opts.Interval)
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Engine{
		transport: t,
		limiter:   rate.NewLimiter(limit, 1),
		retries:   opts.Retries,
		backoff:   backoff,
		log:       log,
	}
}

// Deliver sends msg to chatID. Flood control is retried up to the configured cap;
// rejections and other errors are not retried.
func (e *Engine) Deliver(ctx context.Context, chatID int64, msg model.Message) Outcome {
	// wait carries the duration requested by the last flood error into the
	// backoff; retry.Do runs attempts and backoff steps sequentially.
	var wait time.Duration
	base := retry.WithMaxRetries(e.retries, retry.NewExponential(e.backoff))
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := base.Next()
		if stop {
			return 0, true
		}
		if wait > 0 {
			next, wait = wait, 0
		}
		return next, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		err := e.send(ctx, chatID, msg)
		var flood *FloodError
		if errors.As(err, &flood) {
			e.log.Warn("flood control, backing off", "chat_id", chatID, "retry_after", flood.RetryAfter)
			wait = flood.RetryAfter
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		return Delivered
	case errors.Is(err, ErrRejected):
		e.log.Warn("target rejected delivery", "chat_id", chatID, "error", err)
		return Rejected
	default:
		e.log.Error("deliver", "chat_id", chatID, "error", err)
		return Failed
	}
}

func (e *Engine) send(ctx context.Context, chatID int64, msg model.Message) error {
	if msg.ImageURL != "" {
		return e.transport.SendImage(ctx, chatID, msg.ImageURL, msg.Text)
	}
	return e.transport.SendText(ctx, chatID, msg.Text)
}
