package tracker

import (
	"sync"
	"time"
)

// Snapshot is an immutable copy of a resource's metadata taken before
// release. It carries enough to attempt a rollback and nothing that would
// keep the underlying payload alive.
type Snapshot struct {
	Key      string
	Type     string
	ID       string
	SizeMB   int
	Metadata map[string]string
	TakenAt  time.Time
}

// ReleaseEvent is emitted after each successful release.
type ReleaseEvent struct {
	Key      string
	Type     string
	SizeMB   int
	Start    time.Time
	End      time.Time
	Snapshot Snapshot
}

// EventPublisher receives release events from the tracker. Implementations
// should be lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(ReleaseEvent)
}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []ReleaseEvent
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e ReleaseEvent) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []ReleaseEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ReleaseEvent, len(p.events))
	copy(out, p.events)
	return out
}

// fanoutPublisher delivers each event to every registered publisher in order.
type fanoutPublisher struct {
	mu   sync.RWMutex
	subs []EventPublisher
}

func (f *fanoutPublisher) add(p EventPublisher) {
	f.mu.Lock()
	f.subs = append(f.subs, p)
	f.mu.Unlock()
}

func (f *fanoutPublisher) Publish(e ReleaseEvent) {
	f.mu.RLock()
	subs := f.subs
	f.mu.RUnlock()
	for _, s := range subs {
		s.Publish(e)
	}
}
