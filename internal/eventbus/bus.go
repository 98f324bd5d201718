// Package eventbus fans committed audit records out to in-process observers.
//
// Records are published only after their operation's transaction commits, so
// subscribers never see the effects of an aborted call.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"flowvault/internal/model"
)

// Bus is a lightweight, in-memory fanout of audit records.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop records (bounded backpressure); the store's
//     audit log, not the bus, is the durable history.
type Bus interface {
	Publish(rec model.Record)
	Subscribe(buffer int) (ch <-chan model.Record, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan model.Record{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan model.Record
	seq  atomic.Uint64
}

func (b *memBus) Publish(rec model.Record) {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan model.Record, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- rec:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan model.Record, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan model.Record, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
