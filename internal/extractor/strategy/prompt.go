package strategy

import (
	"fmt"
	"strings"

	"taskflow/pkg/events"
)

const systemPrompt = `You are an expert assistant that extracts actionable tasks from conversation messages.
Given a message, identify every actionable task and answer with a JSON object of the form
{"tasks": [...]}.

Each task has:
- title: a concise summary of the task
- description: details about the task
- priority: one of "high", "medium", "low"
- due_date: if mentioned, in ISO format (YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS), else null
- assigned_to: the person responsible, if mentioned, else null
- labels: relevant tags, as a list of strings

Resolve relative dates against the time the message was sent.
If no tasks are found, answer {"tasks": []}.`

func userPrompt(msg events.MessageReceived) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sent at: %s\n", referenceTime(msg).Format("2006-01-02T15:04:05Z (Monday)"))
	if msg.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", msg.Author)
	}
	if msg.Channel != nil {
		fmt.Fprintf(&b, "Channel: %s\n", *msg.Channel)
	}
	fmt.Fprintf(&b, "Message:\n%s\n\nExtracted tasks:", msg.Content)
	return b.String()
}
