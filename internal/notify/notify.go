package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"guestlist/internal/mailer"
)

type Kind string

const (
	KindReceived Kind = "rsvp_received"
	KindPromoted Kind = "promoted"
)

type Message struct {
	Kind    Kind      `json:"kind"`
	GuestID int64     `json:"guest_id"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Status  string    `json:"status"`
	SentAt  time.Time `json:"sent_at"`
	// Attempt counts failed deliveries of this message so far.
	Attempt int `json:"attempt,omitempty"`
}

// Notifier hands a message off for delivery. It never blocks on delivery and
// never reports failure; failures are logged by the implementation.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

type Publisher interface {
	Publish(message []byte, delaySeconds int) error
}

// Queue publishes messages to RabbitMQ for the consumer worker.
type Queue struct {
	pub Publisher
	log *zerolog.Logger
}

func NewQueue(pub Publisher, log *zerolog.Logger) *Queue {
	return &Queue{pub: pub, log: log}
}

func (q *Queue) Notify(_ context.Context, msg Message) {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		q.log.Error().Err(err).Msg("failed to marshal notification")
		return
	}
	if err := q.pub.Publish(payload, 0); err != nil {
		q.log.Warn().Err(err).Int64("guest_id", msg.GuestID).Str("kind", string(msg.Kind)).
			Msg("failed to publish notification")
	}
}

// Direct renders and sends messages itself, one goroutine per message.
type Direct struct {
	sender  mailer.Sender
	log     *zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDirect(sender mailer.Sender, log *zerolog.Logger) *Direct {
	return &Direct{sender: sender, log: log, timeout: 30 * time.Second}
}

func (d *Direct) Notify(ctx context.Context, msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := Deliver(sendCtx, d.sender, msg); err != nil {
			d.log.Warn().Err(err).Int64("guest_id", msg.GuestID).Str("kind", string(msg.Kind)).
				Msg("failed to send notification")
		}
	}()
}

// Wait blocks until every pending delivery has finished.
func (d *Direct) Wait() {
	d.wg.Wait()
}

// Deliver renders msg and sends it through sender.
func Deliver(ctx context.Context, sender mailer.Sender, msg Message) error {
	if msg.Email == "" {
		return nil
	}
	subject, body, err := Render(msg)
	if err != nil {
		return err
	}
	return sender.Send(ctx, msg.Email, subject, body)
}
