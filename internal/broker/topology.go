package broker

import (
	"strings"

	"taskflow/internal/constants"
	"taskflow/pkg/events"
)

type Binding struct {
	Queue   string
	Pattern string
}

// Topology is the set of entities every service declares at startup. All
// entities are durable and declaring them twice is a no-op.
type Topology struct {
	Exchange string
	Queues   []string
	Bindings []Binding
}

func DefaultTopology(exchange string) Topology {
	if exchange == "" {
		exchange = constants.DefaultExchange
	}
	return Topology{
		Exchange: exchange,
		Queues: []string{
			constants.QueueConversationMessages,
			constants.QueueExtractedTasks,
			constants.QueueTaskResults,
		},
		Bindings: []Binding{
			{Queue: constants.QueueConversationMessages, Pattern: "conversation.*"},
			{Queue: constants.QueueExtractedTasks, Pattern: events.TypeTaskExtracted.RoutingKey()},
			{Queue: constants.QueueTaskResults, Pattern: events.TypeTaskCreated.RoutingKey()},
			{Queue: constants.QueueTaskResults, Pattern: events.TypeTaskFailed.RoutingKey()},
		},
	}
}

// QueuesFor returns the queues a message published with routingKey reaches,
// each at most once.
func (t Topology) QueuesFor(routingKey string) []string {
	var queues []string
	seen := make(map[string]bool)
	for _, b := range t.Bindings {
		if seen[b.Queue] || !MatchRoutingKey(b.Pattern, routingKey) {
			continue
		}
		seen[b.Queue] = true
		queues = append(queues, b.Queue)
	}
	return queues
}

func (t Topology) Patterns(queue string) []string {
	var patterns []string
	for _, b := range t.Bindings {
		if b.Queue == queue {
			patterns = append(patterns, b.Pattern)
		}
	}
	return patterns
}

// RoutingKeysFor lists the known event routing keys that reach queue. Brokers
// without pattern routing subscribe to exactly these.
func (t Topology) RoutingKeysFor(queue string) []string {
	var keys []string
	for _, typ := range events.Types() {
		for _, pattern := range t.Patterns(queue) {
			if MatchRoutingKey(pattern, typ.RoutingKey()) {
				keys = append(keys, typ.RoutingKey())
				break
			}
		}
	}
	return keys
}

// MatchRoutingKey implements topic exchange matching: words are separated by
// dots, "*" matches exactly one word and "#" matches zero or more words.
func MatchRoutingKey(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(rest, key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
