package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"taskflow/internal/config"
	"taskflow/internal/constants"
	"taskflow/internal/logger"
	apperrors "taskflow/pkg/errors"
	"taskflow/pkg/events"
	"taskflow/pkg/logging"
	"taskflow/pkg/metrics"
	"taskflow/pkg/retry"
	"taskflow/pkg/tracing"
)

// RabbitMQ is a Broker over one AMQP connection and one channel.
type RabbitMQ struct {
	url        string
	heartbeat  time.Duration
	policy     retry.Policy
	dial       DialFunc
	logger     logger.Logger
	dispatcher Dispatcher

	mu   sync.Mutex
	conn Connection
	ch   Channel

	consumerSeq atomic.Uint64
}

type RabbitMQOption func(*RabbitMQ)

func WithDialer(dial DialFunc) RabbitMQOption {
	return func(r *RabbitMQ) { r.dial = dial }
}

func WithConnectPolicy(policy retry.Policy) RabbitMQOption {
	return func(r *RabbitMQ) { r.policy = policy }
}

func NewRabbitMQ(cfg config.BrokerConfig, log logger.Logger, serviceName string, opts ...RabbitMQOption) *RabbitMQ {
	policy := retry.ConnectPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		policy = cfg.Retry.Policy()
	}

	r := &RabbitMQ{
		url:        cfg.RabbitMQ.URL(),
		heartbeat:  cfg.RabbitMQ.Heartbeat,
		policy:     policy,
		dial:       DialAMQP,
		logger:     log,
		dispatcher: Dispatcher{Logger: log, Service: serviceName},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RabbitMQ) service() string {
	return r.dispatcher.Service
}

// Connect opens the connection and channel, retrying per the connect
// policy. It is a no-op while both are open.
func (r *RabbitMQ) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isOpenLocked() {
		return nil
	}
	return r.connectLocked(ctx)
}

func (r *RabbitMQ) isOpenLocked() bool {
	return r.conn != nil && !r.conn.IsClosed() && r.ch != nil && !r.ch.IsClosed()
}

func (r *RabbitMQ) connectLocked(ctx context.Context) error {
	r.closeLocked()

	logCtx := logging.WithServiceName(ctx, r.service())
	amqpCfg := amqp.Config{
		Heartbeat:  r.heartbeat,
		Locale:     "en_US",
		Properties: amqp.Table{"connection_name": r.service()},
	}

	err := retry.RetryWithCallback(ctx, r.policy, func() error {
		conn, err := r.dial(r.url, amqpCfg)
		if err != nil {
			return err
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return err
		}
		r.conn, r.ch = conn, ch
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.IncRetryAttempt(r.service(), "connect")
		r.logger.WarnwCtx(logCtx, "RabbitMQ connection attempt failed",
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		metrics.SetBrokerConnected(r.service(), false)
		r.logger.ErrorwCtx(logCtx, "Failed to connect to RabbitMQ",
			"attempts", r.policy.MaxAttempts,
			"error", err,
		)
		return apperrors.ErrConnection.
			WithCause(err).
			WithDetail("attempts", r.policy.MaxAttempts)
	}

	metrics.SetBrokerConnected(r.service(), true)
	r.logger.InfowCtx(logCtx, "Connected to RabbitMQ")
	return nil
}

func (r *RabbitMQ) closeLocked() error {
	var errs []error
	if r.ch != nil {
		if err := r.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("channel close: %w", err))
		}
		r.ch = nil
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("connection close: %w", err))
		}
		r.conn = nil
	}
	return errors.Join(errs...)
}

// Disconnect closes the channel and connection. Closing an already closed
// client is not an error.
func (r *RabbitMQ) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasOpen := r.conn != nil
	err := r.closeLocked()
	metrics.SetBrokerConnected(r.service(), false)
	if wasOpen {
		r.logger.Infow("Disconnected from RabbitMQ", "service_name", r.service())
	}
	return err
}

func (r *RabbitMQ) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isOpenLocked()
}

func (r *RabbitMQ) channel() (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isOpenLocked() {
		return nil, apperrors.ErrNotConnected
	}
	return r.ch, nil
}

func (r *RabbitMQ) reconnect(ctx context.Context) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.connectLocked(ctx); err != nil {
		metrics.IncReconnect(r.service(), "failed")
		return nil, err
	}
	metrics.IncReconnect(r.service(), "ok")
	return r.ch, nil
}

func (r *RabbitMQ) DeclareTopology(ctx context.Context, topology Topology) error {
	ch, err := r.channel()
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(topology.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", topology.Exchange, err)
	}

	for _, queue := range topology.Queues {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
	}

	for _, b := range topology.Bindings {
		if err := ch.QueueBind(b.Queue, b.Pattern, topology.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s: %w", b.Queue, b.Pattern, err)
		}
	}

	r.logger.InfowCtx(logging.WithServiceName(ctx, r.service()), "Topology declared",
		"exchange", topology.Exchange,
		"queues", topology.Queues,
	)
	return nil
}

// Publish sends a persistent JSON message. A closed channel or a
// connection-class failure triggers one reconnect and exactly one more
// attempt; other failures are returned immediately.
func (r *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, event events.Event) error {
	start := time.Now()

	body, err := events.Encode(event)
	if err != nil {
		metrics.IncPublished(r.service(), routingKey, "failed")
		return err
	}

	ctx, span := tracing.StartPublishSpan(ctx, constants.BrokerTypeRabbitMQ, exchange, routingKey)
	defer span.End()

	msg := amqp.Publishing{
		ContentType:  constants.ContentTypeJSON,
		DeliveryMode: amqp.Persistent,
		Type:         string(event.EventType()),
		MessageId:    event.ID(),
		AppId:        r.service(),
		Timestamp:    time.Now().UTC(),
		Headers: tracing.InjectAMQPHeaders(ctx, amqp.Table{
			constants.HeaderEventType: string(event.EventType()),
		}),
		Body: body,
	}

	logCtx := WithEventFields(logging.WithRoutingKey(ctx, routingKey), event)

	ch, err := r.channel()
	if err == nil {
		err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
		if err == nil {
			r.published(logCtx, routingKey, len(body), start)
			return nil
		}
		if !isConnectionError(err) {
			metrics.IncPublished(r.service(), routingKey, "failed")
			return apperrors.ErrPublish.WithCause(err).WithDetail("routing_key", routingKey)
		}
	}

	r.logger.WarnwCtx(logCtx, "Publish hit a closed connection, reconnecting", "error", err)

	ch, reconnectErr := r.reconnect(ctx)
	if reconnectErr != nil {
		metrics.IncPublished(r.service(), routingKey, "failed")
		return apperrors.ErrPublish.WithCause(reconnectErr).WithDetail("routing_key", routingKey)
	}

	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		metrics.IncPublished(r.service(), routingKey, "failed")
		return apperrors.ErrPublish.WithCause(err).WithDetail("routing_key", routingKey)
	}

	r.published(logCtx, routingKey, len(body), start)
	return nil
}

func (r *RabbitMQ) published(ctx context.Context, routingKey string, size int, start time.Time) {
	metrics.IncPublished(r.service(), routingKey, "ok")
	metrics.ObservePublishDuration(r.service(), routingKey, time.Since(start))
	metrics.ObserveMessageSize(r.service(), "out", size)
	r.logger.DebugwCtx(ctx, "Event published")
}

// Consume reads queue with prefetch 1 and manual acknowledgement.
// Cancellation is observed between deliveries; a handler already running
// keeps a context that is never cancelled.
func (r *RabbitMQ) Consume(ctx context.Context, queue string, handler HandlerFunc) error {
	ch, err := r.channel()
	if err != nil {
		return err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch on %s: %w", queue, err)
	}

	tag := fmt.Sprintf("%s-%s-%d", r.service(), queue, r.consumerSeq.Add(1))
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", queue, err)
	}

	logCtx := logging.WithServiceName(ctx, r.service())
	r.logger.InfowCtx(logCtx, "Started consuming", "queue", queue, "consumer_tag", tag)

	handlerCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return r.stopConsuming(logCtx, ch, queue, tag)
		}

		select {
		case <-ctx.Done():
			return r.stopConsuming(logCtx, ch, queue, tag)
		case d, ok := <-deliveries:
			if !ok {
				r.logger.ErrorwCtx(logCtx, "Delivery stream closed", "queue", queue)
				return apperrors.ErrConnection.
					WithMessage("delivery stream closed").
					WithDetail("queue", queue)
			}
			r.handleDelivery(handlerCtx, queue, d, handler)
		}
	}
}

func (r *RabbitMQ) stopConsuming(ctx context.Context, ch Channel, queue, tag string) error {
	if err := ch.Cancel(tag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
		r.logger.WarnwCtx(ctx, "Failed to cancel consumer", "queue", queue, "error", err)
	}
	r.logger.InfowCtx(ctx, "Stopped consuming", "queue", queue, "reason", "context canceled")
	return nil
}

func (r *RabbitMQ) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler HandlerFunc) {
	ctx, span := tracing.StartConsumerSpanFromAMQP(ctx, "consume "+queue, d.Headers)
	defer span.End()
	ctx = tracing.WithTraceLogging(ctx)

	if err := r.dispatcher.Dispatch(ctx, queue, d.RoutingKey, d.Body, handler); err != nil {
		if nackErr := d.Nack(false, false); nackErr != nil {
			r.logger.ErrorwCtx(ctx, "Failed to reject delivery", "queue", queue, "error", nackErr)
		}
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		r.logger.ErrorwCtx(ctx, "Failed to acknowledge delivery", "queue", queue, "error", ackErr)
	}
}

// isConnectionError reports whether err means the connection or channel is
// gone, as opposed to the broker refusing this particular message.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp.ErrClosed) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp.ConnectionForced, amqp.ChannelError, amqp.FrameError, amqp.InternalError:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"connection", "channel/connection is not open", "broken pipe", "eof"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
