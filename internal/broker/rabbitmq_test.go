package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/config"
	"taskflow/internal/logger"
	apperrors "taskflow/pkg/errors"
	"taskflow/pkg/events"
	"taskflow/pkg/retry"
)

type publishedMessage struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

type fakeChannel struct {
	mu          sync.Mutex
	closed      bool
	publishErrs []error
	published   []publishedMessage
	attempts    int
	exchanges   []string
	queues      []string
	bindings    []Binding
	prefetch    int
	cancelled   []string
	deliveries  chan amqp.Delivery
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, name+":"+kind)
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = append(c.queues, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, Binding{Queue: name, Pattern: key})
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if len(c.publishErrs) > 0 {
		err := c.publishErrs[0]
		c.publishErrs = c.publishErrs[1:]
		if err != nil {
			return err
		}
	}
	c.published = append(c.published, publishedMessage{exchange: exchange, routingKey: key, msg: msg})
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *fakeChannel) Cancel(consumer string, noWait bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, consumer)
	return nil
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeConnection struct {
	ch     *fakeChannel
	closed bool
}

func (c *fakeConnection) Channel() (Channel, error) { return c.ch, nil }
func (c *fakeConnection) IsClosed() bool             { return c.closed }
func (c *fakeConnection) Close() error               { c.closed = true; return nil }

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	channels []*fakeChannel
}

func (d *fakeDialer) dial(url string, cfg amqp.Config) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial tcp: connection refused")
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	return &fakeConnection{ch: ch}, nil
}

func (d *fakeDialer) current() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[len(d.channels)-1]
}

type fakeAcknowledger struct {
	mu       sync.Mutex
	acked    []uint64
	rejected []uint64
	requeued []bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected = append(a.rejected, tag)
	a.requeued = append(a.requeued, requeue)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) settled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked) + len(a.rejected)
}

func fastConnectPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 4 * time.Millisecond, Multiplier: 2}
}

func newTestRabbitMQ(d *fakeDialer) *RabbitMQ {
	cfg := config.BrokerConfig{
		Exchange: "taskflow",
		RabbitMQ: config.RabbitMQConfig{Host: "localhost", Port: 5672},
	}
	return NewRabbitMQ(cfg, logger.NopLogger(), "test-service",
		WithDialer(d.dial),
		WithConnectPolicy(fastConnectPolicy()),
	)
}

func sampleMessage() events.MessageReceived {
	return events.MessageReceived{
		MessageID: "m-1",
		Source:    "manual",
		Content:   "Please review the PR",
		Author:    "alice",
		Metadata:  events.Metadata{},
	}
}

func TestRabbitMQ_ConnectRetries(t *testing.T) {
	d := &fakeDialer{failures: 2}
	r := newTestRabbitMQ(d)

	require.NoError(t, r.Connect(context.Background()))
	assert.Equal(t, 3, d.dials)
	assert.True(t, r.IsConnected())

	require.NoError(t, r.Connect(context.Background()))
	assert.Equal(t, 3, d.dials, "connect must be a no-op while open")
}

func TestRabbitMQ_ConnectExhausted(t *testing.T) {
	d := &fakeDialer{failures: 10}
	r := newTestRabbitMQ(d)

	err := r.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsConnection(err))
	assert.Equal(t, 3, d.dials)
	assert.False(t, r.IsConnected())
}

func TestRabbitMQ_DisconnectIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRabbitMQ(d)
	require.NoError(t, r.Connect(context.Background()))

	require.NoError(t, r.Disconnect())
	require.NoError(t, r.Disconnect())
	assert.False(t, r.IsConnected())
	assert.True(t, d.current().IsClosed())
}

func TestRabbitMQ_DeclareTopology(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRabbitMQ(d)
	require.NoError(t, r.Connect(context.Background()))

	topology := DefaultTopology("taskflow")
	require.NoError(t, r.DeclareTopology(context.Background(), topology))
	require.NoError(t, r.DeclareTopology(context.Background(), topology))

	ch := d.current()
	assert.Equal(t, []string{"taskflow:topic", "taskflow:topic"}, ch.exchanges)
	assert.Len(t, ch.queues, 6)
	assert.Equal(t, append(topology.Bindings, topology.Bindings...), ch.bindings)
}

func TestRabbitMQ_DeclareTopologyNotConnected(t *testing.T) {
	r := newTestRabbitMQ(&fakeDialer{})
	err := r.DeclareTopology(context.Background(), DefaultTopology(""))
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
}

func TestRabbitMQ_PublishProperties(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRabbitMQ(d)
	require.NoError(t, r.Connect(context.Background()))

	event := sampleMessage()
	require.NoError(t, r.Publish(context.Background(), "taskflow", "conversation.message_received", event))

	ch := d.current()
	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, "taskflow", got.exchange)
	assert.Equal(t, "conversation.message_received", got.routingKey)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, "conversation.message_received", got.msg.Type)
	assert.Equal(t, "m-1", got.msg.MessageId)

	decoded, err := events.DecodeEnvelope(got.msg.Body)
	require.NoError(t, err)
	assert.Equal(t, event, decoded)
}

func TestRabbitMQ_PublishReconnectsOnClosedChannel(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRabbitMQ(d)
	require.NoError(t, r.Connect(context.Background()))
	first := d.current()
	require.NoError(t, first.Close())

	require.NoError(t, r.Publish(context.Background(), "taskflow", "conversation.message_received", sampleMessage()))

	assert.Equal(t, 2, d.dials)
	assert.Empty(t, first.published)
	assert.Len(t, d.current().published, 1)
}

func TestRabbitMQ_PublishRetriesOnceOnConnectionError(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRabbitMQ(d)
	require.NoError(t, r.Connect(context.Background()))
	d.current().publishErrs = []error{amqp.ErrClosed}

	require.NoError(t, r.Publish(context.Background(), "taskflow", "task.extracted", sampleMessage()))
	assert.Equal(t, 2, d.dials)
	assert.Len(t, d.current().published, 1)
}

func TestRabbitMQ_PublishFailsAfterSingleRetry(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRabbitMQ(d)
	require.NoError(t, r.Connect(context.Background()))
	first := d.current()
	first.publishErrs = []error{amqp.ErrClosed}

	// The reconnected channel fails as well.
	r.dial = func(url string, cfg amqp.Config) (Connection, error) {
		conn, err := d.dial(url, cfg)
		if err == nil {
			conn.(*fakeConnection).ch.publishErrs = []error{amqp.ErrClosed, amqp.ErrClosed}
		}
		return conn, err
	}

	err := r.Publish(context.Background(), "taskflow", "task.extracted", sampleMessage())
	require.Error(t, err)
	assert.True(t, apperrors.IsPublish(err))
	assert.Equal(t, 1, first.attempts)
	assert.Equal(t, 1, d.current().attempts)
}

func TestRabbitMQ_PublishOtherErrorsAreNotRetried(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRabbitMQ(d)
	require.NoError(t, r.Connect(context.Background()))
	d.current().publishErrs = []error{&amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no exchange 'nope'"}}

	err := r.Publish(context.Background(), "nope", "task.extracted", sampleMessage())
	require.Error(t, err)
	assert.True(t, apperrors.IsPublish(err))
	assert.Equal(t, 1, d.dials)
	assert.Equal(t, 1, d.current().attempts)
}

func TestRabbitMQ_PublishSerializationFailure(t *testing.T) {
	r := newTestRabbitMQ(&fakeDialer{})
	err := r.Publish(context.Background(), "taskflow", "x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSerialization)
}

func delivery(ack amqp.Acknowledger, tag uint64, routingKey string, body []byte) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, RoutingKey: routingKey, Body: body}
}

func TestRabbitMQ_ConsumeAckAndReject(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRabbitMQ(d)
	require.NoError(t, r.Connect(context.Background()))
	ch := d.current()

	good, err := events.Encode(sampleMessage())
	require.NoError(t, err)
	failing := sampleMessage()
	failing.MessageID = "fail"
	failingBody, err := events.Encode(failing)
	require.NoError(t, err)
	panicking := sampleMessage()
	panicking.MessageID = "panic"
	panickingBody, err := events.Encode(panicking)
	require.NoError(t, err)

	ack := &fakeAcknowledger{}
	ch.deliveries <- delivery(ack, 1, "conversation.message_received", good)
	ch.deliveries <- delivery(ack, 2, "conversation.message_received", failingBody)
	ch.deliveries <- delivery(ack, 3, "conversation.message_received", []byte(`{"message_id":"x"}`))
	ch.deliveries <- delivery(ack, 4, "conversation.message_received", panickingBody)
	ch.deliveries <- delivery(ack, 5, "conversation.message_received", []byte(`{"event_type":"chat.unknown"}`))

	var seen []string
	var seenMu sync.Mutex
	handler := func(ctx context.Context, routingKey string, event events.Event) error {
		seenMu.Lock()
		seen = append(seen, event.ID())
		seenMu.Unlock()
		switch event.ID() {
		case "fail":
			return errors.New("handler failed")
		case "panic":
			panic("boom")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Consume(ctx, "conversation_messages", handler) }()

	require.Eventually(t, func() bool { return ack.settled() == 5 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consume did not stop after cancellation")
	}

	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2, 3, 4, 5}, ack.rejected)
	assert.Equal(t, []bool{false, false, false, false}, ack.requeued)
	assert.Equal(t, []string{"m-1", "fail", "panic"}, seen)
	assert.Equal(t, 1, ch.prefetch)
	assert.Len(t, ch.cancelled, 1)
}

func TestRabbitMQ_ConsumeHandlerContextSurvivesCancellation(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRabbitMQ(d)
	require.NoError(t, r.Connect(context.Background()))
	ch := d.current()

	body, err := events.Encode(sampleMessage())
	require.NoError(t, err)
	ack := &fakeAcknowledger{}
	ch.deliveries <- delivery(ack, 1, "conversation.message_received", body)

	ctx, cancel := context.WithCancel(context.Background())
	var handlerErr error
	handler := func(hctx context.Context, routingKey string, event events.Event) error {
		cancel()
		handlerErr = hctx.Err()
		return nil
	}

	require.NoError(t, r.Consume(ctx, "conversation_messages", handler))
	assert.NoError(t, handlerErr)
	assert.Equal(t, []uint64{1}, ack.acked)
}

func TestRabbitMQ_ConsumeStreamClosed(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRabbitMQ(d)
	require.NoError(t, r.Connect(context.Background()))
	close(d.current().deliveries)

	err := r.Consume(context.Background(), "extracted_tasks", func(context.Context, string, events.Event) error { return nil })
	require.Error(t, err)
	assert.True(t, apperrors.IsConnection(err))
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: amqp.ErrClosed, want: true},
		{err: &amqp.Error{Code: amqp.ConnectionForced}, want: true},
		{err: &amqp.Error{Code: amqp.NotFound}, want: false},
		{err: errors.New("write: broken pipe"), want: true},
		{err: errors.New("Connection reset by peer"), want: true},
		{err: errors.New("message too large"), want: false},
		{err: nil, want: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isConnectionError(tt.err), "%v", tt.err)
	}
}
