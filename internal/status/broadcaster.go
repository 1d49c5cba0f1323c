package status

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedEvents = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "bucketsinit_broadcast_dropped_events_total",
		Help: "Lifecycle events dropped because a subscriber's channel was full.",
	},
)

const subscriberBufferSize = 16

// Broadcaster fans out lifecycle events to any number of subscribers. A
// send to a slow or absent subscriber never blocks phase progression: each
// subscriber channel is buffered, and a full channel simply drops the event
// and increments a counter, the same back-pressure posture the teacher's
// own migration progress channel takes.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscription is a live subscriber handle; call Unsubscribe when done
// listening to release the channel.
type Subscription struct {
	id     int
	ch     chan Event
	parent *Broadcaster
}

// Events returns the channel the subscriber should range over.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	if _, ok := s.parent.subs[s.id]; ok {
		delete(s.parent.subs, s.id)
		close(s.ch)
	}
}

// Subscribe registers a new subscriber and returns its handle.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, subscriberBufferSize)
	b.subs[id] = ch
	return &Subscription{id: id, ch: ch, parent: b}
}

func (b *Broadcaster) publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			droppedEvents.Inc()
		}
	}
}
