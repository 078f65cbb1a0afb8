package store

import (
	"sync"

	"github.com/google/uuid"
)

// EventType describes what changed.
type EventType int

const (
	EntityUpserted EventType = iota + 1
	EntityRemoved
	ResultSetChanged
	ResultSetInvalidated
)

func (t EventType) String() string {
	switch t {
	case EntityUpserted:
		return "entity_upserted"
	case EntityRemoved:
		return "entity_removed"
	case ResultSetChanged:
		return "result_set_changed"
	case ResultSetInvalidated:
		return "result_set_invalidated"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after the change is committed.
// Key is set for entity events, Signature for result set events.
type Event struct {
	Type      EventType
	Key       Key
	Signature Signature
}

// Listener receives store events. It runs outside the store lock and may
// call back into the store.
type Listener func(Event)

// Topic selects which events a listener receives.
type Topic string

// EntityTopic receives events for one record.
func EntityTopic(k Key) Topic {
	return Topic("entity/" + k.String())
}

// SignatureTopic receives events for one result set.
func SignatureTopic(s Signature) Topic {
	return Topic("signature/" + s.String())
}

// KindTopic receives every entity and result set event of a kind.
func KindTopic(k Kind) Topic {
	return Topic("kind/" + string(k))
}

// AllTopic receives every event.
const AllTopic Topic = "all"

func (e Event) topics() []Topic {
	switch e.Type {
	case EntityUpserted, EntityRemoved:
		return []Topic{EntityTopic(e.Key), KindTopic(e.Key.Kind), AllTopic}
	default:
		return []Topic{SignatureTopic(e.Signature), KindTopic(e.Signature.Kind), AllTopic}
	}
}

type registry struct {
	mu        sync.RWMutex
	listeners map[Topic]map[string]Listener
}

func newRegistry() *registry {
	return &registry{listeners: make(map[Topic]map[string]Listener)}
}

func (r *registry) add(topic Topic, fn Listener) func() {
	id := uuid.NewString()

	r.mu.Lock()
	if r.listeners[topic] == nil {
		r.listeners[topic] = make(map[string]Listener)
	}
	r.listeners[topic][id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.listeners[topic], id)
			if len(r.listeners[topic]) == 0 {
				delete(r.listeners, topic)
			}
		})
	}
}

func (r *registry) dispatch(events []Event) {
	for _, ev := range events {
		for _, topic := range ev.topics() {
			r.mu.RLock()
			fns := make([]Listener, 0, len(r.listeners[topic]))
			for _, fn := range r.listeners[topic] {
				fns = append(fns, fn)
			}
			r.mu.RUnlock()

			for _, fn := range fns {
				fn(ev)
			}
		}
	}
}
