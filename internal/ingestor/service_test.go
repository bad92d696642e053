package ingestor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/broker"
	"taskflow/internal/broker/brokertest"
	"taskflow/internal/constants"
	"taskflow/internal/logger"
	"taskflow/internal/store"
	apperrors "taskflow/pkg/errors"
	"taskflow/pkg/events"
)

var fixedNow = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

type memoryStore struct {
	mu       sync.Mutex
	messages []store.Message
	err      error
}

func (s *memoryStore) CreateMessage(_ context.Context, msg store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *memoryStore) GetMessage(_ context.Context, id string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func newTestBroker(t *testing.T) *brokertest.Memory {
	t.Helper()
	mem := brokertest.NewMemory()
	require.NoError(t, mem.Connect(context.Background()))
	require.NoError(t, mem.DeclareTopology(context.Background(), broker.DefaultTopology("taskflow")))
	return mem
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("msg-%d", n)
	}
}

func newTestService(pub broker.Publisher, opts ...Option) *Service {
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(sequentialIDs()),
	}, opts...)
	return NewService(pub, "taskflow", logger.NopLogger(), opts...)
}

func TestIngestMessage_PublishesEvent(t *testing.T) {
	mem := newTestBroker(t)
	svc := newTestService(mem)

	id, err := svc.IngestMessage(context.Background(), Message{
		Content: "Please deploy v2 tonight",
		Author:  "dana",
		Source:  "slack",
		Channel: events.String("#release"),
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	published := mem.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "taskflow", published[0].Exchange)
	assert.Equal(t, "conversation.message_received", published[0].RoutingKey)
	assert.Equal(t, events.MessageReceived{
		MessageID: "msg-1",
		Source:    "slack",
		Content:   "Please deploy v2 tonight",
		Author:    "dana",
		Timestamp: events.Time(fixedNow),
		Channel:   events.String("#release"),
		Metadata:  events.Metadata{},
	}, published[0].Event)
	assert.Equal(t, 1, mem.QueueDepth(constants.QueueConversationMessages))
}

func TestIngestMessage_DefaultSource(t *testing.T) {
	mem := newTestBroker(t)

	_, err := newTestService(mem).IngestMessage(context.Background(), Message{Content: "x", Author: "a"})
	require.NoError(t, err)
	_, err = newTestService(mem, WithDefaultSource("webhook")).IngestMessage(context.Background(), Message{Content: "y", Author: "a"})
	require.NoError(t, err)

	published := mem.PublishedEvents("conversation.message_received")
	require.Len(t, published, 2)
	assert.Equal(t, "manual", published[0].(events.MessageReceived).Source)
	assert.Equal(t, "webhook", published[1].(events.MessageReceived).Source)
}

func TestIngestMessage_GeneratesUniqueIDs(t *testing.T) {
	mem := newTestBroker(t)
	svc := NewService(mem, "taskflow", logger.NopLogger())

	first, err := svc.IngestMessage(context.Background(), Message{Content: "a", Author: "a"})
	require.NoError(t, err)
	second, err := svc.IngestMessage(context.Background(), Message{Content: "a", Author: "a"})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestIngestMessage_PublishFailure(t *testing.T) {
	mem := newTestBroker(t)
	mem.PublishHook = func(string, events.Event) error {
		return apperrors.ErrPublish.WithCause(errors.New("broker down"))
	}
	st := &memoryStore{}
	svc := newTestService(mem, WithStore(st))

	id, err := svc.IngestMessage(context.Background(), Message{Content: "x", Author: "a"})
	assert.Empty(t, id)
	assert.True(t, apperrors.IsPublish(err))
	assert.Empty(t, st.messages)
}

func TestIngestMessage_RecordsInStore(t *testing.T) {
	mem := newTestBroker(t)
	st := &memoryStore{}
	svc := newTestService(mem, WithStore(st))

	id, err := svc.IngestMessage(context.Background(), Message{Content: "x", Author: "a", Metadata: events.Metadata{"k": "v"}})
	require.NoError(t, err)

	got, err := st.GetMessage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, got.Timestamp)
	assert.Equal(t, events.Metadata{"k": "v"}, got.Metadata)
}

func TestIngestMessage_StoreFailureIsNotFatal(t *testing.T) {
	mem := newTestBroker(t)
	svc := newTestService(mem, WithStore(&memoryStore{err: errors.New("db down")}))

	id, err := svc.IngestMessage(context.Background(), Message{Content: "x", Author: "a"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
}

func TestIngestBatch_PartialFailure(t *testing.T) {
	mem := newTestBroker(t)
	mem.PublishHook = func(_ string, e events.Event) error {
		if e.(events.MessageReceived).Content == "second" {
			return apperrors.ErrPublish
		}
		return nil
	}
	svc := newTestService(mem)

	ids := svc.IngestBatch(context.Background(), []Message{
		{Content: "first", Author: "a"},
		{Content: "second", Author: "b"},
		{Content: "third", Author: "c"},
	})

	assert.Equal(t, []string{"msg-1", "msg-3"}, ids)
	assert.Equal(t, 2, mem.QueueDepth(constants.QueueConversationMessages))
}

func TestIngestBatch_Empty(t *testing.T) {
	svc := newTestService(newTestBroker(t))
	assert.Empty(t, svc.IngestBatch(context.Background(), nil))
}
