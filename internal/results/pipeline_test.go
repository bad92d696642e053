package results_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/broker"
	"taskflow/internal/broker/brokertest"
	"taskflow/internal/constants"
	"taskflow/internal/extractor"
	"taskflow/internal/extractor/strategy"
	"taskflow/internal/ingestor"
	"taskflow/internal/logger"
	"taskflow/internal/platform"
	"taskflow/internal/platform/provider"
	"taskflow/internal/results"
	"taskflow/internal/store"
	"taskflow/pkg/events"
)

type recorded struct {
	records []store.TaskRecord
}

func (r *recorded) RecordTaskResult(_ context.Context, rec store.TaskRecord) error {
	r.records = append(r.records, rec)
	return nil
}

func (r *recorded) GetTask(context.Context, string) (*store.TaskRecord, error) { return nil, nil }

func (r *recorded) ListTasksByMessage(context.Context, string) ([]store.TaskRecord, error) {
	return r.records, nil
}

func TestPipeline_MessageToRecordedTasks(t *testing.T) {
	ctx := context.Background()
	log := logger.NopLogger()

	mem := brokertest.NewMemory()
	require.NoError(t, mem.Connect(ctx))
	require.NoError(t, mem.DeclareTopology(ctx, broker.DefaultTopology("taskflow")))

	console := provider.NewConsole(constants.PlatformConsole, log)
	registry, err := provider.NewRegistry(constants.PlatformConsole, console)
	require.NoError(t, err)

	ingest := ingestor.NewService(mem, "taskflow", log)
	extract := extractor.NewService(mem, "taskflow", strategy.NewRules(), log)
	manage := platform.NewService(mem, "taskflow", registry, log)
	outcomes := &recorded{}
	sink := results.NewSink(outcomes, log)

	messageID, err := ingest.IngestMessage(ctx, ingestor.Message{
		Content: "We need to fix the login bug by Friday. @john please update the documentation ASAP.",
		Author:  "alex",
		Source:  "slack",
		Channel: events.String("#eng"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, mem.ConsumeAvailable(ctx, constants.QueueConversationMessages, extract.Handle))
	assert.Equal(t, 2, mem.ConsumeAvailable(ctx, constants.QueueExtractedTasks, manage.Handle))
	assert.Equal(t, 2, mem.ConsumeAvailable(ctx, constants.QueueTaskResults, sink.Handle))

	for _, q := range []string{constants.QueueConversationMessages, constants.QueueExtractedTasks, constants.QueueTaskResults} {
		assert.Equal(t, 0, mem.QueueDepth(q), q)
		assert.Zero(t, mem.Rejected(q), q)
	}

	extracted := mem.PublishedEvents("task.extracted")
	require.Len(t, extracted, 2)
	for _, e := range extracted {
		task := e.(events.TaskExtracted)
		assert.Equal(t, messageID, task.SourceMessageID)
		assert.Equal(t, "slack", task.Metadata["source"])
		assert.Equal(t, "alex", task.Metadata["original_author"])
	}

	created := mem.PublishedEvents("task.created")
	require.Len(t, created, 2)
	assert.Equal(t, "slack", created[0].(events.TaskCreated).Metadata["original_source"])
	assert.Len(t, console.Tasks(), 2)

	require.Len(t, outcomes.records, 2)
	for _, rec := range outcomes.records {
		assert.Equal(t, messageID, rec.SourceMessageID)
		assert.Equal(t, constants.TaskStatusCreated, rec.Status)
	}
}

func TestPipeline_NothingToExtract(t *testing.T) {
	ctx := context.Background()
	log := logger.NopLogger()

	mem := brokertest.NewMemory()
	require.NoError(t, mem.Connect(ctx))
	require.NoError(t, mem.DeclareTopology(ctx, broker.DefaultTopology("taskflow")))

	ingest := ingestor.NewService(mem, "taskflow", log)
	extract := extractor.NewService(mem, "taskflow", strategy.NewRules(), log)

	_, err := ingest.IngestMessage(ctx, ingestor.Message{Content: "Good morning everyone", Author: "alex"})
	require.NoError(t, err)

	mem.ConsumeAvailable(ctx, constants.QueueConversationMessages, extract.Handle)
	assert.Equal(t, 1, mem.Acked(constants.QueueConversationMessages))
	assert.Empty(t, mem.PublishedEvents("task.extracted"))
	assert.Equal(t, 0, mem.QueueDepth(constants.QueueExtractedTasks))
}

func TestPipeline_StubStrategyPublishesOneTask(t *testing.T) {
	ctx := context.Background()
	log := logger.NopLogger()

	mem := brokertest.NewMemory()
	require.NoError(t, mem.Connect(ctx))
	require.NoError(t, mem.DeclareTopology(ctx, broker.DefaultTopology("taskflow")))

	stub := strategy.Func(func(context.Context, events.MessageReceived) ([]strategy.Draft, error) {
		return []strategy.Draft{{
			Title:    "Fix the login bug",
			Priority: events.PriorityOf(events.PriorityHigh),
		}}, nil
	})

	ingest := ingestor.NewService(mem, "taskflow", log)
	extract := extractor.NewService(mem, "taskflow", stub, log)

	messageID, err := ingest.IngestMessage(ctx, ingestor.Message{
		Content: "We need to fix the login bug by Friday. @john please update the documentation ASAP.",
		Author:  "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, mem.ConsumeAvailable(ctx, constants.QueueConversationMessages, extract.Handle))
	assert.Equal(t, 1, mem.Acked(constants.QueueConversationMessages))

	extracted := mem.PublishedEvents("task.extracted")
	require.Len(t, extracted, 1)
	task := extracted[0].(events.TaskExtracted)
	assert.Equal(t, messageID, task.SourceMessageID)
	assert.Equal(t, "Fix the login bug", task.Title)
	require.NotNil(t, task.Priority)
	assert.Equal(t, events.PriorityHigh, *task.Priority)
	assert.Equal(t, 1, mem.QueueDepth(constants.QueueExtractedTasks))
}

func TestPipeline_EmptyContentWithEmptyExtraction(t *testing.T) {
	ctx := context.Background()
	log := logger.NopLogger()

	mem := brokertest.NewMemory()
	require.NoError(t, mem.Connect(ctx))
	require.NoError(t, mem.DeclareTopology(ctx, broker.DefaultTopology("taskflow")))

	calls := 0
	stub := strategy.Func(func(context.Context, events.MessageReceived) ([]strategy.Draft, error) {
		calls++
		return []strategy.Draft{}, nil
	})
	extract := extractor.NewService(mem, "taskflow", stub, log)

	state, err := extract.Process(ctx, events.MessageReceived{
		MessageID: "m-empty",
		Source:    "manual",
		Content:   "",
		Author:    "alice",
		Metadata:  events.Metadata{},
	})
	require.NoError(t, err)
	assert.Equal(t, extractor.StateSkipped, state)
	assert.Equal(t, 1, calls)
	assert.Empty(t, mem.PublishedEvents("task.extracted"))
	assert.Zero(t, mem.QueueDepth(constants.QueueExtractedTasks))
}
