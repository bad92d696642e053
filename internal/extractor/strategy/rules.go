package strategy

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"taskflow/internal/constants"
	"taskflow/pkg/events"
)

const maxTitleLen = 80

var (
	sentenceSplit = regexp.MustCompile(`[.!?;\n]+`)
	mentionRe     = regexp.MustCompile(`@([\p{L}\p{N}_.\-]+)`)
)

// Lead-in phrases, longest first so the most specific one is stripped.
var leadIns = []string{
	"don't forget to", "dont forget to", "make sure to", "make sure",
	"we need to", "we have to", "we should", "i need you to",
	"can you please", "could you please", "can you", "could you", "would you",
	"need to", "needs to", "have to", "let's", "lets",
	"action item:", "todo:", "to do:", "todo", "please",
}

var actionPhrases = []string{
	"please", "need to", "needs to", "have to", "has to", "must", "should",
	"can you", "could you", "would you", "don't forget", "dont forget",
	"make sure", "let's", "todo", "to do:", "action item",
}

var imperativeVerbs = map[string]bool{
	"fix": true, "update": true, "review": true, "deploy": true, "write": true,
	"create": true, "send": true, "call": true, "schedule": true, "prepare": true,
	"check": true, "add": true, "remove": true, "investigate": true, "finish": true,
	"submit": true, "merge": true, "test": true, "document": true, "ship": true,
	"book": true, "email": true, "draft": true, "set": true,
}

var highPriorityPhrases = []string{
	"urgent", "asap", "immediately", "critical", "blocker", "emergency",
	"high priority", "right away", "right now",
}

var lowPriorityPhrases = []string{
	"low priority", "no rush", "whenever", "when you have time", "eventually", "someday", "nice to have",
}

var labelKeywords = []struct {
	label    string
	keywords []string
}{
	{"bug", []string{"bug", "fix", "error", "crash", "broken", "issue"}},
	{"documentation", []string{"doc", "docs", "documentation", "readme", "wiki"}},
	{"release", []string{"deploy", "release", "ship", "rollout", "launch"}},
	{"testing", []string{"test", "tests", "qa", "testing"}},
	{"meeting", []string{"meeting", "call", "schedule", "sync", "standup"}},
	{"review", []string{"review", "pr", "approve"}},
	{"security", []string{"security", "vulnerability", "cve", "password"}},
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// Rules is a keyword heuristic extractor that needs no external service.
type Rules struct{}

func NewRules() *Rules { return &Rules{} }

func (r *Rules) Name() string { return constants.StrategyRules }

func (r *Rules) Extract(_ context.Context, msg events.MessageReceived) ([]Draft, error) {
	ref := referenceTime(msg)

	var drafts []Draft
	for _, sentence := range sentenceSplit.Split(msg.Content, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		lower := strings.ToLower(sentence)
		words := tokenize(lower)
		if !isActionable(lower, words) {
			continue
		}

		d := Draft{
			Title:       title(sentence),
			Description: sentence,
			Priority:    events.PriorityOf(priority(lower)),
			DueDate:     dueDate(words, ref),
			Labels:      labels(words),
		}
		if m := mentionRe.FindStringSubmatch(sentence); m != nil {
			d.AssignedTo = events.String(strings.TrimRight(m[1], ".-"))
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '@' && r != '\'' && r != '-'
	})
}

func isActionable(lower string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	for _, p := range actionPhrases {
		if containsPhrase(lower, words, p) {
			return true
		}
	}
	first := words[0]
	if strings.HasPrefix(first, "@") && len(words) > 1 {
		first = words[1]
	}
	return imperativeVerbs[first]
}

// containsPhrase matches single words on word boundaries and multi-word
// phrases as substrings.
func containsPhrase(lower string, words []string, phrase string) bool {
	if strings.ContainsAny(phrase, " :'") {
		return strings.Contains(lower, phrase)
	}
	for _, w := range words {
		if w == phrase {
			return true
		}
	}
	return false
}

func title(sentence string) string {
	t := strings.TrimSpace(mentionRe.ReplaceAllString(sentence, ""))
	t = strings.TrimLeft(t, ",: ")

	for {
		lower := strings.ToLower(t)
		stripped := false
		for _, lead := range leadIns {
			if strings.HasPrefix(lower, lead+" ") || lower == lead {
				t = strings.TrimLeft(t[len(lead):], ",: ")
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}

	t = strings.Join(strings.Fields(t), " ")
	if t == "" {
		return ""
	}
	if utf8.RuneCountInString(t) > maxTitleLen {
		runes := []rune(t)
		t = strings.TrimSpace(string(runes[:maxTitleLen-3])) + "..."
	}
	r, size := utf8.DecodeRuneInString(t)
	return string(unicode.ToUpper(r)) + t[size:]
}

func priority(lower string) events.Priority {
	for _, p := range highPriorityPhrases {
		if strings.Contains(lower, p) {
			return events.PriorityHigh
		}
	}
	for _, p := range lowPriorityPhrases {
		if strings.Contains(lower, p) {
			return events.PriorityLow
		}
	}
	return events.PriorityMedium
}

func dueDate(words []string, ref time.Time) *time.Time {
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	for i, w := range words {
		switch w {
		case "today", "tonight", "eod":
			return events.Time(day)
		case "tomorrow":
			return events.Time(day.AddDate(0, 0, 1))
		case "week":
			if i > 0 && words[i-1] == "next" {
				return events.Time(day.AddDate(0, 0, 7))
			}
		}
		if wd, ok := weekdays[w]; ok {
			ahead := (int(wd) - int(day.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			return events.Time(day.AddDate(0, 0, ahead))
		}
	}
	return nil
}

func labels(words []string) []string {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	out := []string{}
	for _, lk := range labelKeywords {
		for _, k := range lk.keywords {
			if set[k] {
				out = append(out, lk.label)
				break
			}
		}
	}
	return out
}
