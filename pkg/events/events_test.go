package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "taskflow/pkg/errors"
)

var fixedTime = time.Date(2024, time.March, 14, 9, 30, 0, 0, time.UTC)

func sampleEvents() map[string]Event {
	return map[string]Event{
		"message received minimal": MessageReceived{
			MessageID: "m-1",
			Source:    "manual",
			Content:   "",
			Author:    "alice",
			Metadata:  Metadata{},
		},
		"message received full": MessageReceived{
			MessageID: "m-2",
			Source:    "slack",
			Content:   "Please update the docs by Friday",
			Author:    "bob",
			Timestamp: Time(fixedTime),
			Channel:   String("#eng"),
			Metadata:  Metadata{"thread": "t-9", "score": 0.5},
		},
		"message received typed metadata": MessageReceived{
			MessageID: "m-3",
			Source:    "slack",
			Content:   "retry the deploy",
			Author:    "erin",
			Metadata: Metadata{
				"retries": 3,
				"nested":  map[string]string{"k": "v"},
				"tags":    []string{"ops"},
				"raw":     map[string]interface{}{"depth": 1.5, "list": []interface{}{"a", true}},
			},
		},
		"task extracted minimal": TaskExtracted{
			TaskID:          "t-1",
			SourceMessageID: "m-1",
			Title:           "Update docs",
			Description:     "",
			Labels:          []string{},
			Metadata:        Metadata{},
		},
		"task extracted full": TaskExtracted{
			TaskID:          "t-2",
			SourceMessageID: "m-2",
			Title:           "Update docs",
			Description:     "Refresh the API reference",
			Priority:        PriorityOf(PriorityHigh),
			DueDate:         Time(fixedTime.Add(48 * time.Hour)),
			AssignedTo:      String("carol"),
			Labels:          []string{"docs", "api"},
			Metadata:        Metadata{"source": "slack"},
		},
		"task created": TaskCreated{
			TaskID:         "t-2",
			Platform:       "console",
			PlatformTaskID: "console_1a2b3c4d",
			Title:          "Update docs",
			CreatedAt:      fixedTime,
			PlatformURL:    String("mock://console/console_1a2b3c4d"),
			Metadata:       Metadata{"original_source": "slack"},
		},
		"task failed": TaskFailed{
			TaskID:       "t-3",
			Platform:     "jira",
			Title:        "Ship release",
			ErrorMessage: "quota exceeded",
			ErrorCode:    String("PLATFORM_ERROR"),
			FailedAt:     fixedTime,
			Metadata:     Metadata{},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	for name, event := range sampleEvents() {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(event)
			require.NoError(t, err)

			decoded, err := Decode(data, event.EventType())
			require.NoError(t, err)
			assert.Equal(t, Normalize(event), decoded)
			assert.Equal(t, decoded, Normalize(decoded))

			viaEnvelope, err := DecodeEnvelope(data)
			require.NoError(t, err)
			assert.Equal(t, decoded, viaEnvelope)

			again, err := Encode(decoded)
			require.NoError(t, err)
			assert.JSONEq(t, string(data), string(again))
		})
	}
}

func TestNormalize_MetadataTakesDecodedShape(t *testing.T) {
	event := MessageReceived{
		MessageID: "m-1",
		Source:    "manual",
		Author:    "alice",
		Metadata: Metadata{
			"retries": 3,
			"nested":  map[string]string{"k": "v"},
			"inner":   Metadata{"n": int64(2)},
		},
	}

	normalized := Normalize(event).(MessageReceived)
	assert.Equal(t, float64(3), normalized.Metadata["retries"])
	assert.Equal(t, map[string]interface{}{"k": "v"}, normalized.Metadata["nested"])
	assert.Equal(t, map[string]interface{}{"n": float64(2)}, normalized.Metadata["inner"])

	// Already canonical metadata is returned untouched.
	canonical := Metadata{"score": 0.5, "list": []interface{}{"a"}}
	assert.Equal(t, canonical, normalizeMetadata(canonical))
	// The caller's map is never rewritten in place.
	assert.Equal(t, 3, event.Metadata["retries"])
}

func TestEncode_WireShape(t *testing.T) {
	data, err := Encode(MessageReceived{MessageID: "m-1", Source: "cli", Content: "hi", Author: "dave"})
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))

	assert.Equal(t, "conversation.message_received", fields["event_type"])
	assert.Contains(t, fields, "timestamp")
	assert.Nil(t, fields["timestamp"])
	assert.Contains(t, fields, "channel")
	assert.Nil(t, fields["channel"])
	assert.Equal(t, map[string]interface{}{}, fields["metadata"])
	assert.Contains(t, string(data), `{"event_type":"conversation.message_received"`)
}

func TestEncode_NormalizesTimesAndCollections(t *testing.T) {
	local := time.Date(2024, 1, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	event := TaskExtracted{
		TaskID:          "t-1",
		SourceMessageID: "m-1",
		Title:           "Review PR",
		Description:     "d",
		DueDate:         &local,
	}

	data, err := Encode(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"due_date":"2024-01-02T09:00:00Z"`)
	assert.Contains(t, string(data), `"labels":[]`)
	assert.Contains(t, string(data), `"priority":null`)

	decoded, err := Decode(data, TypeTaskExtracted)
	require.NoError(t, err)
	assert.Equal(t, Normalize(event), decoded)
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"event_type":"task.archived"}`), Type("task.archived"))
	require.Error(t, err)
	assert.True(t, apperrors.IsDeserialization(err))

	_, err = DecodeEnvelope([]byte(`{"event_type":"task.archived","task_id":"x"}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsDeserialization(err))
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		typ     Type
	}{
		{
			name:    "invalid json",
			payload: `{"event_type":`,
			typ:     TypeMessageReceived,
		},
		{
			name:    "not an object",
			payload: `["conversation.message_received"]`,
			typ:     TypeMessageReceived,
		},
		{
			name:    "missing required field",
			payload: `{"event_type":"conversation.message_received","message_id":"m","source":"s","author":"a"}`,
			typ:     TypeMessageReceived,
		},
		{
			name:    "null required field",
			payload: `{"event_type":"task.created","task_id":"t","platform":"p","platform_task_id":null,"title":"x","created_at":"2024-01-01T00:00:00Z"}`,
			typ:     TypeTaskCreated,
		},
		{
			name:    "event type mismatch",
			payload: `{"event_type":"task.failed","task_id":"t","source_message_id":"m","title":"x","description":"d"}`,
			typ:     TypeTaskExtracted,
		},
		{
			name:    "wrong field type",
			payload: `{"event_type":"task.extracted","task_id":"t","source_message_id":"m","title":"x","description":"d","labels":"docs"}`,
			typ:     TypeTaskExtracted,
		},
		{
			name:    "priority outside enum",
			payload: `{"event_type":"task.extracted","task_id":"t","source_message_id":"m","title":"x","description":"d","priority":"urgent"}`,
			typ:     TypeTaskExtracted,
		},
		{
			name:    "bad timestamp",
			payload: `{"event_type":"task.failed","task_id":"t","platform":"p","title":"x","error_message":"e","failed_at":"yesterday"}`,
			typ:     TypeTaskFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload), tt.typ)
			require.Error(t, err)
			assert.True(t, apperrors.IsMalformedPayload(err), "got %v", err)
		})
	}
}

func TestDecodeEnvelope_MissingEventType(t *testing.T) {
	for _, payload := range []string{`{"task_id":"t"}`, `{"event_type":null}`, `{"event_type":""}`, `not json`} {
		_, err := DecodeEnvelope([]byte(payload))
		require.Error(t, err, payload)
		assert.True(t, apperrors.IsMalformedPayload(err), payload)
	}
}

func TestDecode_OptionalFieldsDefault(t *testing.T) {
	payload := `{"event_type":"task.extracted","task_id":"t","source_message_id":"m","title":"x","description":"d"}`

	event, err := Decode([]byte(payload), TypeTaskExtracted)
	require.NoError(t, err)

	task := event.(TaskExtracted)
	assert.Nil(t, task.Priority)
	assert.Nil(t, task.DueDate)
	assert.Nil(t, task.AssignedTo)
	assert.Equal(t, []string{}, task.Labels)
	assert.Equal(t, Metadata{}, task.Metadata)
	assert.Equal(t, "t", task.ID())
}

func TestTypes(t *testing.T) {
	for _, typ := range Types() {
		assert.True(t, typ.Valid())
		assert.Equal(t, string(typ), typ.RoutingKey())
	}
	assert.False(t, Type("conversation.other").Valid())
}
