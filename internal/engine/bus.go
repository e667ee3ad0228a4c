package engine

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ensemble/internal/types"
)

// Envelope wraps an event with its bus sequence number so consumers can
// re-order batches that arrive interleaved.
type Envelope struct {
	Seq   uint64
	Event types.Event
}

// Bus fans engine events out to channel subscribers. It batches to reduce
// consumer churn and never blocks the engine: a full subscriber channel
// drops events rather than stalling the show.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan<- Envelope
	enabled     atomic.Bool

	// Batching configuration
	batchWindow time.Duration
	batchLimit  int

	// Event buffer for batching
	buffer     []Envelope
	bufferMu   sync.Mutex
	flushTimer *time.Timer

	// Temporal ordering
	sequence atomic.Uint64

	// Filtering
	kinds map[string]bool // Empty means all allowed

	dropped atomic.Uint64
}

// NewBus creates an event bus with default settings, enabled.
func NewBus() *Bus {
	b := &Bus{
		batchWindow: 100 * time.Millisecond,
		batchLimit:  10,
		buffer:      make([]Envelope, 0, 20),
		kinds:       make(map[string]bool),
	}
	b.enabled.Store(true)
	return b
}

// Enable activates the bus.
func (b *Bus) Enable() {
	b.enabled.Store(true)
}

// Disable deactivates the bus and flushes pending events.
func (b *Bus) Disable() {
	b.enabled.Store(false)
	b.Flush()
}

// IsEnabled returns true if the bus is active.
func (b *Bus) IsEnabled() bool {
	return b.enabled.Load()
}

// SetKinds sets the allowed event kinds. Empty means all allowed.
func (b *Bus) SetKinds(kinds []string) {
	b.mu.Lock()
	b.kinds = make(map[string]bool)
	for _, k := range kinds {
		b.kinds[k] = true
	}
	b.mu.Unlock()
}

// Subscribe returns a channel that will receive events.
// The channel is buffered to prevent blocking emitters.
func (b *Bus) Subscribe() <-chan Envelope {
	ch := make(chan Envelope, 64)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Bus) Unsubscribe(ch <-chan Envelope) {
	if ch == nil {
		return
	}
	target := reflect.ValueOf(ch).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if reflect.ValueOf(sub).Pointer() == target {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			break
		}
	}
}

// Emit sends an event to all subscribers (with batching).
// This is safe to call from any goroutine.
func (b *Bus) Emit(event types.Event) {
	if !b.enabled.Load() {
		return
	}

	b.mu.RLock()
	if len(b.kinds) > 0 && !b.kinds[event.Kind()] {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	env := Envelope{Seq: b.sequence.Add(1), Event: event}

	b.bufferMu.Lock()
	b.buffer = append(b.buffer, env)

	// Flush if batch limit reached, else start timer
	if len(b.buffer) >= b.batchLimit {
		b.flushLocked()
	} else if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.batchWindow, func() {
			b.bufferMu.Lock()
			b.flushLocked()
			b.bufferMu.Unlock()
		})
	}
	b.bufferMu.Unlock()
}

// EmitImmediate sends an event directly, skipping the batch buffer.
func (b *Bus) EmitImmediate(event types.Event) {
	if !b.enabled.Load() {
		return
	}

	b.mu.RLock()
	if len(b.kinds) > 0 && !b.kinds[event.Kind()] {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	env := Envelope{Seq: b.sequence.Add(1), Event: event}

	b.mu.RLock()
	for _, sub := range b.subscribers {
		select {
		case sub <- env:
		default: // Drop if channel full
			b.dropped.Add(1)
		}
	}
	b.mu.RUnlock()
}

// Flush dispatches all buffered events immediately.
func (b *Bus) Flush() {
	b.bufferMu.Lock()
	b.flushLocked()
	b.bufferMu.Unlock()
}

// flushLocked sends buffered events (must hold bufferMu).
func (b *Bus) flushLocked() {
	if len(b.buffer) == 0 {
		return
	}

	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}

	// Sort by sequence number for proper ordering
	sort.Slice(b.buffer, func(i, j int) bool {
		return b.buffer[i].Seq < b.buffer[j].Seq
	})

	b.mu.RLock()
	for _, sub := range b.subscribers {
		for _, env := range b.buffer {
			select {
			case sub <- env:
			default: // Drop if channel full
				b.dropped.Add(1)
			}
		}
	}
	b.mu.RUnlock()

	b.buffer = b.buffer[:0]
}

// Close shuts down the bus and all subscriber channels.
func (b *Bus) Close() {
	b.Disable()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = nil
}

// Stats returns current bus statistics.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	defer b.mu.RUnlock()

	return BusStats{
		Enabled:         b.enabled.Load(),
		SubscriberCount: len(b.subscribers),
		BufferedEvents:  len(b.buffer),
		TotalEmitted:    b.sequence.Load(),
		Dropped:         b.dropped.Load(),
		KindCount:       len(b.kinds),
	}
}

// BusStats holds bus statistics.
type BusStats struct {
	Enabled         bool
	SubscriberCount int
	BufferedEvents  int
	TotalEmitted    uint64
	Dropped         uint64
	KindCount       int
}
