// Package observer fans job status and log deltas out to subscribed
// clients keyed by job id. Delivery is best-effort: a slow subscriber
// gets a bounded buffer and is dropped from, rather than allowed to
// block, a publish.
package observer

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Event is one status or log delta published for a job.
type Event struct {
	JobID     string
	Status    string
	LogsDelta string
	Timestamp time.Time
}

// Subscriber is the delivery channel a caller receives from Subscribe.
// The bus never closes it; callers stop reading once they Unsubscribe.
type Subscriber <-chan Event

const shardCount = 16

const defaultBufferSize = 64

// Bus is a mutex-per-shard pub/sub map from job id to subscriber set.
// Sharding by the hash of the job id spreads the subscribe/unsubscribe/
// publish lock contention across shardCount independent maps instead of
// a single global lock, matching the concurrency-model note that no
// owning component may become a single-lock bottleneck under read-heavy
// publish traffic.
type Bus struct {
	bufferSize int
	shards     [shardCount]shard
}

type shard struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// New constructs a Bus whose per-subscriber buffer holds bufferSize
// events before publishes start dropping for that subscriber. A
// bufferSize of 0 uses defaultBufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	b := &Bus{bufferSize: bufferSize}
	for i := range b.shards {
		b.shards[i].subs = make(map[string]map[chan Event]struct{})
	}
	return b
}

func (b *Bus) shardFor(jobID string) *shard {
	h := xxhash.Sum64String(jobID)
	return &b.shards[h%shardCount]
}

// Subscribe registers a new subscriber for jobID and returns the channel
// it should read events from, plus an unsubscribe function that must be
// called exactly once when the subscriber stops listening.
func (b *Bus) Subscribe(jobID string) (Subscriber, func()) {
	ch := make(chan Event, b.bufferSize)
	s := b.shardFor(jobID)

	s.mu.Lock()
	set, ok := s.subs[jobID]
	if !ok {
		set = make(map[chan Event]struct{})
		s.subs[jobID] = set
	}
	set[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			if set, ok := s.subs[jobID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(s.subs, jobID)
				}
			}
			s.mu.Unlock()
		})
	}

	return ch, unsubscribe
}

// Publish delivers event to every current subscriber of event.JobID. A
// subscriber whose buffer is full is skipped; it never blocks the
// publish and never affects delivery to other subscribers.
func (b *Bus) Publish(event Event) {
	s := b.shardFor(event.JobID)

	s.mu.Lock()
	set := s.subs[event.JobID]
	recipients := make([]chan Event, 0, len(set))
	for ch := range set {
		recipients = append(recipients, ch)
	}
	s.mu.Unlock()

	for _, ch := range recipients {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers are currently registered
// for jobID, for tests and diagnostics.
func (b *Bus) SubscriberCount(jobID string) int {
	s := b.shardFor(jobID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[jobID])
}
