package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"tally/internal/core"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	// maxFailures opens the circuit; publishes fail fast until openTimeout
	// has passed and a half-open probe succeeds.
	maxFailures = 5
	openTimeout = 30 * time.Second

	publishTimeout = 5 * time.Second
)

// Client talks to RabbitMQ: one direct exchange, one durable queue per event
// kind, persistent JSON messages, manual ack/nack on the consuming side.
type Client struct {
	url          string
	exchangeName string
	txQueue      string
	alertQueue   string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	lastFailure  time.Time
}

func NewClient(url, exchangeName, txQueue, alertQueue string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		txQueue:      txQueue,
		alertQueue:   alertQueue,
	}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.txQueue, c.alertQueue); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queues: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()
	return nil
}

func setup(channel *amqp091.Channel, exchange string, queues ...string) error {
	err := channel.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range queues {
		_, err = channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		// Routing key mirrors the queue name on a direct exchange.
		if err := channel.QueueBind(queue, queue, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

// PublishTransactionRecorded announces a saved transaction to the mirror
// queue.
func (c *Client) PublishTransactionRecorded(ctx context.Context, id int64) error {
	msg := NewTransactionRecordedMessage(id)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, c.txQueue, body); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published transaction recorded event",
		"id", id,
		"event_id", msg.EventID,
		"exchange", c.exchangeName,
		"queue", c.txQueue)
	return nil
}

// PublishAlertRaised announces a budget alert to the notification queue.
func (c *Client) PublishAlertRaised(ctx context.Context, ev core.AlertEvent) error {
	msg := NewAlertRaisedMessage(ev)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, c.alertQueue, body); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published alert raised event",
		"kind", string(ev.Kind),
		"category", string(ev.Category),
		"event_id", msg.EventID,
		"exchange", c.exchangeName,
		"queue", c.alertQueue)
	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("circuit breaker is open, dropping publish to %s", routingKey)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	err := channel.PublishWithContext(
		ctx,
		c.exchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()
	return nil
}

// ConsumeTransactionRecorded delivers mirror events to handler until ctx is
// done. Handler errors requeue the message; undecodable messages are
// dropped.
func (c *Client) ConsumeTransactionRecorded(ctx context.Context, handler func(*TransactionRecordedMessage) error) error {
	return c.consume(ctx, c.txQueue, func(body []byte) error {
		msg, err := TransactionRecordedMessageFromJSON(body)
		if err != nil {
			return fmt.Errorf("%w: %v", errBadMessage, err)
		}
		return handler(msg)
	})
}

// ConsumeAlertRaised delivers alert events to handler until ctx is done.
func (c *Client) ConsumeAlertRaised(ctx context.Context, handler func(*AlertRaisedMessage) error) error {
	return c.consume(ctx, c.alertQueue, func(body []byte) error {
		msg, err := AlertRaisedMessageFromJSON(body)
		if err != nil {
			return fmt.Errorf("%w: %v", errBadMessage, err)
		}
		return handler(msg)
	})
}

var errBadMessage = errors.New("undecodable message")

func (c *Client) consume(ctx context.Context, queue string, handle func([]byte) error) error {
	attempt := 0
	for {
		c.mu.Lock()
		channel := c.channel
		c.mu.Unlock()

		msgs, err := channel.Consume(
			queue, // queue
			"",    // consumer
			false, // auto-ack (we want manual ack)
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,   // args
		)
		if err != nil {
			if !isConnectionError(err) {
				return fmt.Errorf("start consuming: %w", err)
			}
			attempt++
			if err := c.waitAndReconnect(ctx, attempt, queue); err != nil {
				return err
			}
			continue
		}

		slog.InfoContext(ctx, "Started consuming", "queue", queue)
		attempt = 0

		closed, err := c.drain(ctx, queue, msgs, handle)
		if err != nil {
			return err
		}
		if closed {
			attempt++
			if err := c.waitAndReconnect(ctx, attempt, queue); err != nil {
				return err
			}
		}
	}
}

// drain pumps one delivery channel. It returns closed=true when the broker
// dropped the channel and a reconnect is in order.
func (c *Client) drain(ctx context.Context, queue string, msgs <-chan amqp091.Delivery, handle func([]byte) error) (closed bool, err error) {
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "queue", queue, "reason", ctx.Err())
			return false, ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				slog.WarnContext(ctx, "Delivery channel closed", "queue", queue)
				return true, nil
			}
			if err := handle(delivery.Body); err != nil {
				requeue := !errors.Is(err, errBadMessage)
				slog.ErrorContext(ctx, "Failed to handle message",
					"queue", queue,
					"error", err,
					"requeue", requeue)
				delivery.Nack(false, requeue)
				continue
			}
			delivery.Ack(false)
		}
	}
}

func (c *Client) waitAndReconnect(ctx context.Context, attempt int, queue string) error {
	wait := exponentialBackoff(attempt)
	slog.WarnContext(ctx, "Reconnecting to AMQP",
		"queue", queue,
		"attempt", attempt,
		"wait", wait)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}
	if err := c.connect(); err != nil {
		slog.ErrorContext(ctx, "AMQP reconnect failed", "error", err)
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	if time.Since(c.lastFailure) > openTimeout {
		atomic.StoreInt32(&c.state, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.lastFailure = time.Now()
	if n >= maxFailures {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func exponentialBackoff(attempt int) time.Duration {
	const max = 30 * time.Second
	if attempt >= 5 {
		return max
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > max {
		return max
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection closed",
		"EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
