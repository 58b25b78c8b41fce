package flexpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes data source events.
type EventType int

const (
	// EventAcquireTimeout is emitted when a strategy times out and the chain
	// moves on.
	EventAcquireTimeout EventType = iota
	// EventAcquireTimeThresholdExceeded is emitted when an acquisition call
	// takes longer than the configured threshold.
	EventAcquireTimeThresholdExceeded
	// EventLeaseTimeThresholdExceeded is emitted when a connection is held
	// longer than the configured threshold.
	EventLeaseTimeThresholdExceeded
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EventAcquireTimeout:
		return "acquire_timeout"
	case EventAcquireTimeThresholdExceeded:
		return "acquire_time_threshold_exceeded"
	case EventLeaseTimeThresholdExceeded:
		return "lease_time_threshold_exceeded"
	default:
		return "unknown"
	}
}

// Event describes something worth noticing about a data source.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	DataSource string
	RequestID  uuid.UUID
	// Strategy is set for EventAcquireTimeout.
	Strategy string
	// Elapsed is the acquisition or lease duration.
	Elapsed time.Duration
	// Threshold is the limit that was exceeded, for threshold events.
	Threshold time.Duration
	// Err is the timeout, for EventAcquireTimeout.
	Err error
}

// EventListener receives events synchronously on the acquiring or releasing
// goroutine, so it must not block.
type EventListener func(Event)

// EventChannel buffers events for a consumer goroutine. Its Listen method is
// an EventListener. Events that do not fit in the buffer are dropped.
type EventChannel struct {
	mu      sync.RWMutex
	events  chan Event
	closed  bool
	dropped atomic.Uint64
}

// NewEventChannel creates an EventChannel holding up to size events.
func NewEventChannel(size int) *EventChannel {
	if size < 1 {
		size = 100
	}
	return &EventChannel{events: make(chan Event, size)}
}

// Listen enqueues ev without blocking.
func (c *EventChannel) Listen(ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
	}
}

// Events returns the channel to consume. It is closed by Close.
func (c *EventChannel) Events() <-chan Event {
	return c.events
}

// Dropped returns how many events were discarded because the buffer was
// full.
func (c *EventChannel) Dropped() uint64 {
	return c.dropped.Load()
}

// Close stops accepting events and closes the channel.
func (c *EventChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}
