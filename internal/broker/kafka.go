package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

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

// Kafka is a Broker over Kafka topics. Routing keys are topic names and each
// queue is a consumer group subscribed to the topics its bindings match.
// Kafka has no per-message reject, so both outcomes commit the offset; a
// rejected message is dropped exactly like a non-requeued AMQP nack.
type Kafka struct {
	cfg        config.KafkaConfig
	policy     retry.Policy
	logger     logger.Logger
	dispatcher Dispatcher

	mu       sync.Mutex
	writer   *kafka.Writer
	topology Topology
}

func NewKafka(cfg config.BrokerConfig, log logger.Logger, serviceName string) *Kafka {
	policy := retry.ConnectPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		policy = cfg.Retry.Policy()
	}
	return &Kafka{
		cfg:        cfg.Kafka,
		policy:     policy,
		logger:     log,
		dispatcher: Dispatcher{Logger: log, Service: serviceName},
		topology:   DefaultTopology(cfg.Exchange),
	}
}

func (k *Kafka) service() string {
	return k.dispatcher.Service
}

func (k *Kafka) Connect(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer != nil {
		return nil
	}
	if len(k.cfg.Brokers) == 0 {
		return apperrors.ErrConnection.WithMessage("no kafka brokers configured")
	}

	err := retry.RetryWithCallback(ctx, k.policy, func() error {
		conn, err := kafka.DialContext(ctx, "tcp", k.cfg.Brokers[0])
		if err != nil {
			return err
		}
		return conn.Close()
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.IncRetryAttempt(k.service(), "connect")
		k.logger.Warnw("Kafka connection attempt failed",
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
			"service_name", k.service(),
		)
	})
	if err != nil {
		metrics.SetBrokerConnected(k.service(), false)
		return apperrors.ErrConnection.WithCause(err).WithDetail("attempts", k.policy.MaxAttempts)
	}

	k.writer = k.newWriter()
	metrics.SetBrokerConnected(k.service(), true)
	k.logger.Infow("Connected to Kafka", "brokers", k.cfg.Brokers, "service_name", k.service())
	return nil
}

// newWriter builds a writer that makes a single attempt per write, so a
// failed write surfaces to Publish instead of being retried internally.
func (k *Kafka) newWriter() *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(k.cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            1,
		AllowAutoTopicCreation: true,
	}
}

func (k *Kafka) Disconnect() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	metrics.SetBrokerConnected(k.service(), false)
	if k.writer == nil {
		return nil
	}
	err := k.writer.Close()
	k.writer = nil
	return err
}

func (k *Kafka) IsConnected() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.writer != nil
}

// DeclareTopology creates one topic per routing key reachable from the
// topology's bindings. Topics that already exist are left alone.
func (k *Kafka) DeclareTopology(ctx context.Context, topology Topology) error {
	k.mu.Lock()
	k.topology = topology
	k.mu.Unlock()

	topics := kafkaTopics(topology)
	if len(topics) == 0 {
		return nil
	}

	conn, err := kafka.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return apperrors.ErrConnection.WithCause(err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}

	dialer := &kafka.Dialer{Timeout: constants.KafkaDialTimeout}
	controllerConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return apperrors.ErrConnection.WithCause(err)
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     k.cfg.Partitions,
			ReplicationFactor: k.cfg.ReplicationFactor,
		})
	}

	if err := controllerConn.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	k.logger.Infow("Topology declared", "topics", topics, "service_name", k.service())
	return nil
}

func kafkaTopics(topology Topology) []string {
	seen := make(map[string]bool)
	var topics []string
	for _, queue := range topology.Queues {
		for _, topic := range queueTopics(topology, queue) {
			if !seen[topic] {
				seen[topic] = true
				topics = append(topics, topic)
			}
		}
	}
	return topics
}

func queueTopics(topology Topology, queue string) []string {
	keys := topology.RoutingKeysFor(queue)
	topics := make([]string, 0, len(keys))
	for _, key := range keys {
		topics = append(topics, kafkaTopic(topology.Exchange, key))
	}
	return topics
}

// kafkaTopic namespaces a routing key under its exchange.
func kafkaTopic(exchange, routingKey string) string {
	if exchange == "" {
		return routingKey
	}
	return exchange + "." + routingKey
}

func routingKeyFromTopic(exchange, topic string) string {
	if exchange == "" {
		return topic
	}
	return strings.TrimPrefix(topic, exchange+".")
}

// GroupID is the consumer group backing queue.
func (k *Kafka) GroupID(queue string) string {
	return k.cfg.GroupPrefix + "." + queue
}

func (k *Kafka) Publish(ctx context.Context, exchange, routingKey string, event events.Event) error {
	start := time.Now()

	body, err := events.Encode(event)
	if err != nil {
		metrics.IncPublished(k.service(), routingKey, "failed")
		return err
	}

	k.mu.Lock()
	writer := k.writer
	if exchange == "" {
		exchange = k.topology.Exchange
	}
	k.mu.Unlock()
	if writer == nil {
		metrics.IncPublished(k.service(), routingKey, "failed")
		return apperrors.ErrPublish.WithCause(apperrors.ErrNotConnected)
	}

	ctx, span := tracing.StartPublishSpan(ctx, constants.BrokerTypeKafka, exchange, routingKey)
	defer span.End()

	headers := []kafka.Header{
		{Key: constants.HeaderEventType, Value: []byte(event.EventType())},
		{Key: "exchange", Value: []byte(exchange)},
	}
	headers = tracing.InjectKafkaHeaders(ctx, headers)

	msg := kafka.Message{
		Topic:   kafkaTopic(exchange, routingKey),
		Key:     []byte(event.ID()),
		Value:   body,
		Headers: headers,
		Time:    time.Now(),
	}

	err = writer.WriteMessages(ctx, msg)
	if err != nil && isConnectionError(err) {
		logCtx := WithEventFields(logging.WithRoutingKey(ctx, routingKey), event)
		k.logger.WarnwCtx(logCtx, "Kafka write hit a broken connection, recreating writer", "error", err)
		writer = k.replaceWriter(writer)
		err = writer.WriteMessages(ctx, msg)
	}
	if err != nil {
		metrics.IncPublished(k.service(), routingKey, "failed")
		return apperrors.ErrPublish.WithCause(err).WithDetail("routing_key", routingKey)
	}

	metrics.IncPublished(k.service(), routingKey, "ok")
	metrics.ObservePublishDuration(k.service(), routingKey, time.Since(start))
	metrics.ObserveMessageSize(k.service(), "out", len(body))
	return nil
}

// replaceWriter swaps stale for a fresh writer unless another publisher
// already did, and returns the writer to retry with.
func (k *Kafka) replaceWriter(stale *kafka.Writer) *kafka.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer != stale {
		if k.writer != nil {
			return k.writer
		}
		return stale
	}
	_ = stale.Close()
	k.writer = k.newWriter()
	return k.writer
}

func (k *Kafka) Consume(ctx context.Context, queue string, handler HandlerFunc) error {
	k.mu.Lock()
	topology := k.topology
	k.mu.Unlock()
	topics := queueTopics(topology, queue)
	if len(topics) == 0 {
		return fmt.Errorf("queue %s has no bindings", queue)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.cfg.Brokers,
		GroupID:     k.GroupID(queue),
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	logCtx := logging.WithServiceName(ctx, k.service())
	k.logger.InfowCtx(logCtx, "Started consuming",
		"queue", queue,
		"topics", topics,
		"group_id", k.GroupID(queue),
	)

	handlerCtx := context.WithoutCancel(ctx)
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				k.logger.InfowCtx(logCtx, "Stopped consuming", "queue", queue, "reason", "context canceled")
				return nil
			}
			if errors.Is(err, io.EOF) {
				return apperrors.ErrConnection.WithCause(err).WithDetail("queue", queue)
			}
			k.logger.ErrorwCtx(logCtx, "Error fetching kafka message", "queue", queue, "error", err)
			select {
			case <-ctx.Done():
				k.logger.InfowCtx(logCtx, "Stopped consuming", "queue", queue, "reason", "context canceled")
				return nil
			case <-time.After(constants.KafkaFetchBackoff):
			}
			continue
		}

		msgCtx, span := tracing.StartConsumerSpanFromKafka(handlerCtx, "consume "+queue, m.Headers)
		msgCtx = tracing.WithTraceLogging(msgCtx)
		if err := k.dispatcher.Dispatch(msgCtx, queue, routingKeyFromTopic(topology.Exchange, m.Topic), m.Value, handler); err != nil {
			k.logger.WarnwCtx(msgCtx, "Dropping rejected message", "queue", queue, "offset", m.Offset)
		}
		span.End()

		if err := reader.CommitMessages(handlerCtx, m); err != nil {
			k.logger.ErrorwCtx(msgCtx, "Failed to commit message", "queue", queue, "error", err)
		}
	}
}
