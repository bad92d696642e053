package strategy

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/pkg/events"
)

// Monday.
var sentAt = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

func messageAt(content string) events.MessageReceived {
	return events.MessageReceived{
		MessageID: "m-1",
		Source:    "slack",
		Content:   content,
		Author:    "pat",
		Timestamp: events.Time(sentAt),
		Metadata:  events.Metadata{},
	}
}

func day(y int, m time.Month, d int) *time.Time {
	return events.Time(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func TestRules_ExtractsTasks(t *testing.T) {
	drafts, err := NewRules().Extract(context.Background(),
		messageAt("We need to fix the login bug by Friday. @john please update the documentation ASAP."))
	require.NoError(t, err)
	require.Len(t, drafts, 2)

	assert.Equal(t, Draft{
		Title:       "Fix the login bug by Friday",
		Description: "We need to fix the login bug by Friday",
		Priority:    events.PriorityOf(events.PriorityMedium),
		DueDate:     day(2024, 5, 10),
		Labels:      []string{"bug"},
	}, drafts[0])

	assert.Equal(t, Draft{
		Title:       "Update the documentation ASAP",
		Description: "@john please update the documentation ASAP",
		Priority:    events.PriorityOf(events.PriorityHigh),
		AssignedTo:  events.String("john"),
		Labels:      []string{"documentation"},
	}, drafts[1])
}

func TestRules_NothingActionable(t *testing.T) {
	drafts, err := NewRules().Extract(context.Background(), messageAt("Thanks everyone, great work on the launch"))
	require.NoError(t, err)
	assert.Empty(t, drafts)

	drafts, err = NewRules().Extract(context.Background(), messageAt(""))
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestRules_LowPriorityImperative(t *testing.T) {
	drafts, err := NewRules().Extract(context.Background(), messageAt("Review the PR when you have time"))
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	assert.Equal(t, "Review the PR when you have time", drafts[0].Title)
	assert.Equal(t, events.PriorityLow, *drafts[0].Priority)
	assert.Equal(t, []string{"review"}, drafts[0].Labels)
	assert.Nil(t, drafts[0].DueDate)
}

func TestRules_LongTitleIsTruncated(t *testing.T) {
	long := "Please " + strings.Repeat("rewrite everything ", 10)
	drafts, err := NewRules().Extract(context.Background(), messageAt(long))
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	assert.True(t, strings.HasSuffix(drafts[0].Title, "..."))
	assert.LessOrEqual(t, utf8.RuneCountInString(drafts[0].Title), maxTitleLen)
	assert.True(t, strings.HasPrefix(drafts[0].Title, "Rewrite everything"))
}

func TestDueDate(t *testing.T) {
	tests := []struct {
		text string
		want *time.Time
	}{
		{"ship it today", day(2024, 5, 6)},
		{"ship it tomorrow", day(2024, 5, 7)},
		{"ship it next week", day(2024, 5, 13)},
		{"ship it monday", day(2024, 5, 13)},
		{"ship it by wednesday", day(2024, 5, 8)},
		{"ship it sunday", day(2024, 5, 12)},
		{"ship it soon", nil},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, dueDate(tokenize(tt.text), sentAt))
		})
	}
}

func TestLabels(t *testing.T) {
	assert.Equal(t, []string{"bug", "release", "testing"}, labels(tokenize("fix the crash, test it and deploy")))
	assert.Equal(t, []string{}, labels(tokenize("nothing relevant here")))
}
