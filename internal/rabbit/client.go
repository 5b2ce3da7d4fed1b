package rabbit

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/zlog"
)

// ErrMalformed marks a message that can never be processed. It is dropped
// instead of requeued.
var ErrMalformed = errors.New("malformed message")

type Options struct {
	URL      string
	Exchange string
	Queue    string
	// Delayed declares the exchange as x-delayed-message so that Publish can
	// honour delaySeconds. It needs the rabbitmq_delayed_message_exchange plugin.
	Delayed bool
}

type Client struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
	delayed  bool
}

type Rabbiter interface {
	Close()
	Publish(message []byte, delaySeconds int) error
	Consume(ctx context.Context, handler func([]byte) error) error
}

func NewRabbit(opts Options) (*Client, error) {
	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to connect to RabbitMQ")
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		zlog.Logger.Error().Err(err).Msg("failed to open RabbitMQ channel")
		return nil, err
	}

	client := &Client{
		conn:     conn,
		channel:  ch,
		exchange: opts.Exchange,
		queue:    opts.Queue,
		delayed:  opts.Delayed,
	}

	kind, args := "direct", amqp.Table(nil)
	if opts.Delayed {
		kind, args = "x-delayed-message", amqp.Table{"x-delayed-type": "direct"}
	}
	if err := ch.ExchangeDeclare(
		opts.Exchange,
		kind,
		true,
		false,
		false,
		false,
		args,
	); err != nil {
		client.Close()
		zlog.Logger.Error().Err(err).Msg("failed to declare exchange")
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		opts.Queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		client.Close()
		zlog.Logger.Error().Err(err).Msg("failed to declare queue")
		return nil, err
	}

	if err := ch.QueueBind(
		opts.Queue,
		"",
		opts.Exchange,
		false,
		nil,
	); err != nil {
		client.Close()
		zlog.Logger.Error().Err(err).Msg("failed to bind queue")
		return nil, err
	}

	zlog.Logger.Info().
		Str("exchange", opts.Exchange).
		Str("queue", opts.Queue).
		Bool("delayed", opts.Delayed).
		Msg("RabbitMQ initialized")

	return client, nil
}

func (c *Client) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	zlog.Logger.Info().Msg("RabbitMQ connection closed")
}

// Delayed reports whether Publish can defer delivery.
func (c *Client) Delayed() bool { return c.delayed }

func (c *Client) Publish(message []byte, delaySeconds int) error {
	headers := amqp.Table{}
	if delaySeconds > 0 && c.delayed {
		headers["x-delay"] = int32(delaySeconds * 1000)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         message,
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)

	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to publish message to RabbitMQ")
	} else {
		zlog.Logger.Debug().Msgf("Message published to exchange=%s delay=%ds", c.exchange, delaySeconds)
	}
	return err
}

// Consume delivers messages to handler until ctx is done or the channel
// closes. A nil error acks, ErrMalformed drops, anything else requeues.
func (c *Client) Consume(ctx context.Context, handler func([]byte) error) error {
	msgs, err := c.channel.ConsumeWithContext(
		ctx,
		c.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to start consuming messages")
		return err
	}

	zlog.Logger.Info().Msgf("Started consuming from queue %s", c.queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			err := handler(d.Body)
			switch {
			case err == nil:
				_ = d.Ack(false)
			case errors.Is(err, ErrMalformed):
				zlog.Logger.Warn().Err(err).Msg("dropping message")
				_ = d.Nack(false, false)
			default:
				zlog.Logger.Warn().Msgf("failed to process message: %v", err)
				_ = d.Nack(false, true)
			}
		}
	}
}
