package strategy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/config"
	"taskflow/internal/constants"
	"taskflow/internal/logger"
	apperrors "taskflow/pkg/errors"
	"taskflow/pkg/events"
)

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1715000000,
		"model":   "test-model",
		"choices": []map[string]interface{}{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]interface{}{"role": "assistant", "content": content},
		}},
	})
	return string(body)
}

type fakeLLM struct {
	calls     atomic.Int32
	responses []func(w http.ResponseWriter)
	lastBody  atomic.Value
}

func (f *fakeLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(f.calls.Add(1)) - 1
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.lastBody.Store(body)

	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	if n >= len(f.responses) {
		n = len(f.responses) - 1
	}
	f.responses[n](w)
}

func respond(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newTestLLM(t *testing.T, fake *fakeLLM) *LLM {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	return NewLLM(config.LLMConfig{
		BaseURL: srv.URL + "/v1/",
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: 5 * time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      1,
		},
	}, logger.NopLogger())
}

const tasksJSON = `{"tasks":[
	{"title":"Fix the login bug","description":"Resolve the login issue","priority":"HIGH","due_date":"2024-05-10","assigned_to":null,"labels":["bugfix"]},
	{"title":"Update the docs","description":"Docs are stale","priority":"urgent","due_date":"someday","assigned_to":"@john","labels":null}
]}`

func TestLLM_Extract(t *testing.T) {
	fake := &fakeLLM{responses: []func(http.ResponseWriter){respond(http.StatusOK, completionBody(tasksJSON))}}
	l := newTestLLM(t, fake)

	drafts, err := l.Extract(context.Background(), messageAt("We need to fix the login bug by Friday. @john update the docs."))
	require.NoError(t, err)
	require.Len(t, drafts, 2)

	assert.Equal(t, Draft{
		Title:       "Fix the login bug",
		Description: "Resolve the login issue",
		Priority:    events.PriorityOf(events.PriorityHigh),
		DueDate:     day(2024, 5, 10),
		Labels:      []string{"bugfix"},
	}, drafts[0])

	assert.Nil(t, drafts[1].Priority)
	assert.Nil(t, drafts[1].DueDate)
	assert.Equal(t, "john", *drafts[1].AssignedTo)
	assert.Equal(t, []string{}, drafts[1].Labels)

	body := fake.lastBody.Load().(map[string]interface{})
	assert.Equal(t, "test-model", body["model"])
	assert.Len(t, body["messages"], 2)
	assert.Equal(t, constants.StrategyLLM, l.Name())
}

func TestLLM_EmptyContentSkipsCall(t *testing.T) {
	fake := &fakeLLM{responses: []func(http.ResponseWriter){respond(http.StatusOK, completionBody(tasksJSON))}}
	l := newTestLLM(t, fake)

	drafts, err := l.Extract(context.Background(), messageAt("   "))
	require.NoError(t, err)
	assert.Empty(t, drafts)
	assert.Zero(t, fake.calls.Load())
}

func TestLLM_RetriesServerErrors(t *testing.T) {
	fake := &fakeLLM{responses: []func(http.ResponseWriter){
		respond(http.StatusInternalServerError, `{"error":{"message":"overloaded"}}`),
		respond(http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`),
		respond(http.StatusOK, completionBody(`{"tasks":[]}`)),
	}}
	l := newTestLLM(t, fake)

	drafts, err := l.Extract(context.Background(), messageAt("deploy tonight"))
	require.NoError(t, err)
	assert.Empty(t, drafts)
	assert.Equal(t, int32(3), fake.calls.Load())
}

func TestLLM_ClientErrorIsNotRetried(t *testing.T) {
	fake := &fakeLLM{responses: []func(http.ResponseWriter){
		respond(http.StatusUnauthorized, `{"error":{"message":"bad key"}}`),
	}}
	l := newTestLLM(t, fake)

	_, err := l.Extract(context.Background(), messageAt("deploy tonight"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExtraction)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestLLM_ExhaustedRetries(t *testing.T) {
	fake := &fakeLLM{responses: []func(http.ResponseWriter){
		respond(http.StatusBadGateway, `{"error":{"message":"down"}}`),
	}}
	l := newTestLLM(t, fake)

	_, err := l.Extract(context.Background(), messageAt("deploy tonight"))
	assert.ErrorIs(t, err, apperrors.ErrExtraction)
	assert.Equal(t, int32(3), fake.calls.Load())
}

func TestLLM_UnparseableResponse(t *testing.T) {
	fake := &fakeLLM{responses: []func(http.ResponseWriter){
		respond(http.StatusOK, completionBody("I found two tasks!")),
	}}
	l := newTestLLM(t, fake)

	_, err := l.Extract(context.Background(), messageAt("deploy tonight"))
	assert.ErrorIs(t, err, apperrors.ErrExtraction)
}

func TestParseDrafts(t *testing.T) {
	drafts, err := parseDrafts("```json\n[{\"title\":\" Ship \",\"due_date\":\"2024-05-10T17:00:00\"}]\n```")
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "Ship", drafts[0].Title)
	assert.Equal(t, events.Time(time.Date(2024, 5, 10, 17, 0, 0, 0, time.UTC)), drafts[0].DueDate)

	drafts, err = parseDrafts(`{"tasks":[]}`)
	require.NoError(t, err)
	assert.Empty(t, drafts)

	_, err = parseDrafts(`{"tasks":`)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	s, err := New(config.ExtractorConfig{Strategy: constants.StrategyRules}, logger.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, constants.StrategyRules, s.Name())

	s, err = New(config.ExtractorConfig{Strategy: constants.StrategyLLM}, logger.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, constants.StrategyLLM, s.Name())

	_, err = New(config.ExtractorConfig{Strategy: "magic"}, logger.NopLogger())
	assert.Error(t, err)
}
