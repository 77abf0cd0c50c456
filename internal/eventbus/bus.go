// Package eventbus is an in-memory fan-out of lifecycle events.
//
// Publish never blocks. Subscribers get buffered channels and a slow
// subscriber drops events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the engine, the notifier and the reminder service.
const (
	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskSkipped  = "task.skipped"
	TaskDropped  = "task.dropped"

	NotifierSent    = "notifier.sent"
	NotifierFailed  = "notifier.failed"
	NotifierDeduped = "notifier.deduped"

	ReminderScheduled = "reminder.scheduled"
	ReminderCleared   = "reminder.cleared"
	ReminderFired     = "reminder.fired"
	SweepFinished     = "reminder.sweep"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Dropper is implemented by buses that count undelivered events.
type Dropper interface {
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so closing under the
			// write lock cannot race a send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
