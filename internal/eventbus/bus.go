// Package eventbus is the orchestrator's typed, pub-only event channel.
// It generalises the teacher's sseWriter.Send (one HTTP response, blocking
// write, disconnect via ctx.Done) into N independent subscriber queues: the
// bus never blocks the publisher, and a slow subscriber only loses its own
// events, never the orchestrator's turn progress.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Kind enumerates every event the orchestrator can publish during a turn.
type Kind string

const (
	KindTurnStarted     Kind = "turn_started"
	KindAssistantDelta   Kind = "assistant_delta"
	KindAssistantMessage Kind = "assistant_message"
	KindStreamFinish     Kind = "stream_finish"
	KindToolCallsPlanned Kind = "tool_calls_planned"
	KindApprovalRequired Kind = "approval_required"
	KindToolStarted      Kind = "tool_started"
	KindToolFinished     Kind = "tool_finished"
	KindReminderInjected Kind = "reminder_injected"
	KindCompressionRun   Kind = "compression_run"
	KindSubAgentStarted  Kind = "sub_agent_started"
	KindSubAgentFinished Kind = "sub_agent_finished"
	KindDone             Kind = "done"
	KindError            Kind = "error"
	KindMCPStderr        Kind = "mcp_stderr"
)

// Event is the envelope published on the bus. ConversationKey identifies
// which conversation the event belongs to so a single bus can be shared
// across concurrently-running turns. Reason is only meaningful on
// KindError, carrying the memory.ErrorReason (as a string, to avoid an
// import cycle) that ended the turn.
type Event struct {
	Kind            Kind
	ConversationKey string
	TurnID          string
	Reason          string
	Payload         any
}

// subscriberBufferSize bounds each subscriber's queue. A subscriber that
// falls behind this far starts losing its oldest unread events rather than
// stalling the publisher.
const subscriberBufferSize = 256

// Bus fans out published events to all current subscribers. Zero value is
// not usable; use New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscription is a handle returned by Subscribe; call Unsubscribe when done.
type Subscription struct {
	id     int
	bus    *Bus
	Events <-chan Event
}

// Subscribe registers a new subscriber and returns its event channel.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberBufferSize)
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	return &Subscription{id: id, bus: b, Events: ch}
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subscribers[s.id]; ok {
		delete(s.bus.subscribers, s.id)
		close(ch)
	}
}

// Publish fans an event out to every current subscriber. Best-effort: a
// subscriber whose buffer is full has its oldest event dropped to make
// room, logged at debug level, rather than blocking the caller.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			// Buffer full: drop the oldest queued event, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
				log.Debug().Int("subscriber", id).Str("kind", string(evt.Kind)).
					Msg("eventbus: subscriber buffer full, event dropped")
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions (for metrics/tests).
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
