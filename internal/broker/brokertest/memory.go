// Package brokertest provides an in-memory topic exchange implementing
// broker.Broker for service tests.
package brokertest

import (
	"context"
	"sync"

	"taskflow/internal/broker"
	"taskflow/internal/logger"
	apperrors "taskflow/pkg/errors"
	"taskflow/pkg/events"
)

// Published is one successful Publish call.
type Published struct {
	Exchange   string
	RoutingKey string
	Event      events.Event
	Body       []byte
}

type delivery struct {
	routingKey string
	body       []byte
}

// Memory routes published messages to queues with the same pattern rules as
// a RabbitMQ topic exchange. Messages published to an exchange that has not
// been declared, or matching no binding, are dropped.
type Memory struct {
	// PublishHook, when set, runs before each publish; a non-nil result
	// fails the publish with that error.
	PublishHook func(routingKey string, event events.Event) error
	// ConnectErr is returned by Connect when set.
	ConnectErr error

	dispatcher broker.Dispatcher

	mu         sync.Mutex
	connected  bool
	topologies map[string]broker.Topology
	queues     map[string][]delivery
	published  []Published
	acked      map[string]int
	rejected   map[string]int
	signal     chan struct{}
}

var _ broker.Broker = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		dispatcher: broker.Dispatcher{Logger: logger.NopLogger(), Service: "brokertest"},
		topologies: make(map[string]broker.Topology),
		queues:     make(map[string][]delivery),
		acked:      make(map[string]int),
		rejected:   make(map[string]int),
		signal:     make(chan struct{}),
	}
}

func (m *Memory) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	return nil
}

func (m *Memory) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *Memory) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Memory) DeclareTopology(_ context.Context, topology broker.Topology) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return apperrors.ErrNotConnected
	}
	m.topologies[topology.Exchange] = topology
	for _, q := range topology.Queues {
		if _, ok := m.queues[q]; !ok {
			m.queues[q] = nil
		}
	}
	return nil
}

func (m *Memory) Publish(_ context.Context, exchange, routingKey string, event events.Event) error {
	body, err := events.Encode(event)
	if err != nil {
		return err
	}
	if m.PublishHook != nil {
		if err := m.PublishHook(routingKey, event); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return apperrors.ErrPublish.WithCause(apperrors.ErrNotConnected)
	}
	m.published = append(m.published, Published{Exchange: exchange, RoutingKey: routingKey, Event: event, Body: body})
	m.routeLocked(exchange, routingKey, body)
	return nil
}

// PublishRaw routes body as-is, bypassing encoding. It is how tests inject
// malformed deliveries.
func (m *Memory) PublishRaw(exchange, routingKey string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routeLocked(exchange, routingKey, body)
}

func (m *Memory) routeLocked(exchange, routingKey string, body []byte) {
	topology, ok := m.topologies[exchange]
	if !ok {
		return
	}
	for _, q := range topology.QueuesFor(routingKey) {
		m.queues[q] = append(m.queues[q], delivery{routingKey: routingKey, body: body})
	}
	close(m.signal)
	m.signal = make(chan struct{})
}

func (m *Memory) pop(queue string) (delivery, bool, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.queues[queue]
	if len(pending) == 0 {
		return delivery{}, false, m.signal
	}
	d := pending[0]
	m.queues[queue] = pending[1:]
	return d, true, nil
}

func (m *Memory) settle(queue string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.rejected[queue]++
		return
	}
	m.acked[queue]++
}

// Consume blocks delivering queue's messages to handler until ctx ends.
func (m *Memory) Consume(ctx context.Context, queue string, handler broker.HandlerFunc) error {
	handlerCtx := context.WithoutCancel(ctx)
	for {
		d, ok, wait := m.pop(queue)
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-wait:
				continue
			}
		}
		err := m.dispatcher.Dispatch(handlerCtx, queue, d.routingKey, d.body, handler)
		m.settle(queue, err)
	}
}

// ConsumeAvailable delivers every message currently queued, including those
// published by handler while draining, and returns how many were handled.
func (m *Memory) ConsumeAvailable(ctx context.Context, queue string, handler broker.HandlerFunc) int {
	n := 0
	for {
		d, ok, _ := m.pop(queue)
		if !ok {
			return n
		}
		err := m.dispatcher.Dispatch(ctx, queue, d.routingKey, d.body, handler)
		m.settle(queue, err)
		n++
	}
}

func (m *Memory) QueueDepth(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[queue])
}

func (m *Memory) Acked(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked[queue]
}

func (m *Memory) Rejected(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected[queue]
}

func (m *Memory) Published() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Published, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedEvents returns the events published under routingKey, in order.
func (m *Memory) PublishedEvents(routingKey string) []events.Event {
	var out []events.Event
	for _, p := range m.Published() {
		if p.RoutingKey == routingKey {
			out = append(out, p.Event)
		}
	}
	return out
}
