package consumerWorker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"guestlist/internal/mailer"
	"guestlist/internal/notify"
	"guestlist/internal/rabbit"
)

const (
	defaultMaxAttempts = 3
	sendTimeout        = 30 * time.Second
	retryDelaySeconds  = 60
)

type Consumer interface {
	Consume(ctx context.Context, handler func([]byte) error) error
}

// Retrier republishes a failed message with a delay.
type Retrier interface {
	Publish(message []byte, delaySeconds int) error
	Delayed() bool
}

type Reader struct {
	rmq         Consumer
	retry       Retrier
	sender      mailer.Sender
	log         *zerolog.Logger
	maxAttempts int
	done        chan struct{}
	cancel      context.CancelFunc
}

// NewReader builds a notification consumer. retry may be nil, in which case
// failed deliveries are only logged.
func NewReader(rmq Consumer, retry Retrier, sender mailer.Sender, log *zerolog.Logger) *Reader {
	return &Reader{
		rmq:         rmq,
		retry:       retry,
		sender:      sender,
		log:         log,
		maxAttempts: defaultMaxAttempts,
		done:        make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.log.Info().Msg("🐇 notification reader started")

	go func() {
		defer close(r.done)

		if err := r.rmq.Consume(cctx, func(body []byte) error {
			return r.handle(cctx, body)
		}); err != nil {
			r.log.Error().Err(err).Msg("failed to start consuming")
			return
		}
		r.log.Info().Msg("🛑 notification reader stopped")
	}()
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Reader) handle(ctx context.Context, body []byte) error {
	var msg notify.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		r.log.Error().Err(err).Msgf("failed to unmarshal message: %s", string(body))
		return fmt.Errorf("%w: %w", rabbit.ErrMalformed, err)
	}

	r.log.Info().
		Int64("guest_id", msg.GuestID).
		Str("kind", string(msg.Kind)).
		Int("attempt", msg.Attempt).
		Msg("📩 notification received")

	if msg.Email == "" {
		return nil
	}
	subject, html, err := notify.Render(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", rabbit.ErrMalformed, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := r.sender.Send(sendCtx, msg.Email, subject, html); err != nil {
		r.log.Warn().Err(err).
			Int64("guest_id", msg.GuestID).
			Str("kind", string(msg.Kind)).
			Msg("failed to send notification on e-mail")
		r.scheduleRetry(msg)
		return nil
	}

	r.log.Info().
		Str("email", msg.Email).
		Int64("guest_id", msg.GuestID).
		Msg("📧 notification sent")
	return nil
}

func (r *Reader) scheduleRetry(msg notify.Message) {
	if r.retry == nil || !r.retry.Delayed() {
		return
	}
	msg.Attempt++
	if msg.Attempt >= r.maxAttempts {
		r.log.Error().Int64("guest_id", msg.GuestID).Int("attempts", msg.Attempt).Msg("giving up on notification")
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to marshal retry")
		return
	}
	if err := r.retry.Publish(payload, retryDelaySeconds*msg.Attempt); err != nil {
		r.log.Error().Err(err).Msg("failed to schedule retry")
	}
}
