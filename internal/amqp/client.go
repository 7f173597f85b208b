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
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	baseBackoff    = time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Client publishes export requests and ledger events to a direct exchange
// and consumes them in the worker. The connection is re-established on
// demand; repeated publish failures open a circuit breaker so request
// handlers fail fast while the broker is down.
type Client struct {
	url          string
	exchangeName string
	queueName    string
	eventsQueue  string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	lastFailure  time.Time
}

// NewClient connects to url and declares the exchange, the export queue and
// the ledger events queue.
func NewClient(url, exchangeName, queueName string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		eventsQueue:  queueName + ".ledger_events",
	}
	if _, err := client.ensureChannel(); err != nil {
		return nil, err
	}
	return client, nil
}

// QueueName is the export request queue.
func (c *Client) QueueName() string { return c.queueName }

// EventsQueue is the ledger events queue.
func (c *Client) EventsQueue() string { return c.eventsQueue }

func (c *Client) ensureChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	c.closeLocked()

	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	c.conn, c.channel = conn, channel

	if err := c.setup(); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}
	return channel, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range []string{c.queueName, c.eventsQueue} {
		if _, err := c.channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		// routing key is the queue name
		if err := c.channel.QueueBind(queue, queue, c.exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return nil
}

func (c *Client) resetConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// exponentialBackoff returns the delay before reconnect attempt n (0-based):
// 1s doubling, capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := baseBackoff << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection closed",
		"connection reset",
		"eof",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	failures := atomic.AddInt64(&c.failureCount, 1)
	if failures >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// PublishExportRequest queues an export for the worker.
func (c *Client) PublishExportRequest(ctx context.Context, msg *ExportRequestMessage) error {
	if err := c.publish(ctx, c.queueName, msg.ID, msg.ToJSON); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published export request",
		"id", msg.ID,
		"user_id", msg.UserID,
		"kind", msg.Kind,
		"format", msg.Format,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// PublishLedgerEvent announces a ledger change.
func (c *Client) PublishLedgerEvent(ctx context.Context, e *LedgerEvent) error {
	if err := c.publish(ctx, c.eventsQueue, e.ID, e.ToJSON); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Published ledger event",
		"id", e.ID,
		"user_id", e.UserID,
		"entity", e.Entity,
		"action", e.Action)
	return nil
}

func (c *Client) publish(ctx context.Context, routingKey, messageID string, encode func() ([]byte, error)) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish to %s: %w", routingKey, ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := encode()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	channel, err := c.ensureChannel()
	if err != nil {
		c.recordFailure()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.resetConnection()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()
	return nil
}

// ConsumeExportRequests handles export requests until ctx is done. A request
// whose handler fails is requeued once and dropped on the second failure.
func (c *Client) ConsumeExportRequests(ctx context.Context, handler func(context.Context, *ExportRequestMessage) error) error {
	return c.consume(ctx, c.queueName, func(d amqp091.Delivery) {
		msg, err := ExportRequestMessageFromJSON(d.Body)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to unmarshal export request", "error", err)
			d.Nack(false, false)
			return
		}

		slog.InfoContext(ctx, "Processing export request",
			"id", msg.ID,
			"user_id", msg.UserID,
			"redelivered", d.Redelivered)

		if err := handler(ctx, msg); err != nil {
			requeue := !d.Redelivered
			slog.ErrorContext(ctx, "Failed to handle export request",
				"error", err,
				"id", msg.ID,
				"requeue", requeue)
			d.Nack(false, requeue)
			return
		}

		d.Ack(false)
		slog.InfoContext(ctx, "Successfully processed export request", "id", msg.ID)
	})
}

// ConsumeLedgerEvents handles ledger events until ctx is done. Events are
// notifications, so failed ones are dropped.
func (c *Client) ConsumeLedgerEvents(ctx context.Context, handler func(context.Context, *LedgerEvent) error) error {
	return c.consume(ctx, c.eventsQueue, func(d amqp091.Delivery) {
		e, err := LedgerEventFromJSON(d.Body)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to unmarshal ledger event", "error", err)
			d.Nack(false, false)
			return
		}
		if err := handler(ctx, e); err != nil {
			slog.WarnContext(ctx, "Failed to handle ledger event",
				"error", err,
				"id", e.ID,
				"user_id", e.UserID)
			d.Nack(false, false)
			return
		}
		d.Ack(false)
	})
}

// consume reads queue with manual acks, reconnecting with exponential backoff
// whenever the delivery channel closes.
func (c *Client) consume(ctx context.Context, queue string, handle func(amqp091.Delivery)) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, err := c.startConsuming(queue)
		if err != nil {
			delay := exponentialBackoff(attempt)
			attempt++
			slog.WarnContext(ctx, "AMQP consumer unavailable, retrying",
				"queue", queue,
				"error", err,
				"retry_in", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
		slog.InfoContext(ctx, "Started consuming", "queue", queue)

		if done := c.drain(ctx, deliveries, handle); done {
			slog.InfoContext(ctx, "Stopping message consumption", "queue", queue, "reason", ctx.Err())
			return ctx.Err()
		}
		slog.WarnContext(ctx, "AMQP delivery channel closed, reconnecting", "queue", queue)
		c.resetConnection()
	}
}

func (c *Client) startConsuming(queue string) (<-chan amqp091.Delivery, error) {
	channel, err := c.ensureChannel()
	if err != nil {
		return nil, err
	}
	if err := channel.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := channel.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("start consuming: %w", err)
	}
	return deliveries, nil
}

// drain handles deliveries until ctx is done (true) or the channel closes (false).
func (c *Client) drain(ctx context.Context, deliveries <-chan amqp091.Delivery, handle func(amqp091.Delivery)) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-deliveries:
			if !ok {
				return false
			}
			handle(d)
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	return err
}
