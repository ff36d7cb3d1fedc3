package engine

// EventKind enumerates the engine lifecycle event surface (spec §6). This is
// distinct from, and in addition to, internal/events's deduplicated
// error-telemetry bus: this hub broadcasts in-process playback lifecycle,
// not crash/error reporting.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventTrackChanged
	EventRecovering
	EventPosition
	EventEof
	EventError
	EventVolumeChanged
)

// Event is the broadcast payload; only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	State RunnerState

	InputRef string

	Attempt   int
	BackoffMs int64

	PositionMs int64

	Message string

	VolumeLevel float64
	VolumeSeq   uint64
}

// emit forwards an event to the worker's injected callback, if any.
func (w *DecodeWorker) emit(e Event) {
	if w.events != nil {
		w.events(e)
	}
}

// EventHub is a simple broadcast fan-out: Subscribe returns a channel that
// receives every event published after subscription; Publish never blocks a
// slow subscriber beyond dropping to its buffer (spec §5: "Position events
// may be coalesced but never reordered").
type EventHub struct {
	subscribe   chan chan Event
	unsubscribe chan chan Event
	publish     chan Event
	done        chan struct{}

	capacity int
}

// NewEventHub starts the hub's fan-out goroutine with the given per-subscriber buffer depth.
func NewEventHub(capacity int) *EventHub {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	h := &EventHub{
		subscribe:   make(chan chan Event),
		unsubscribe: make(chan chan Event),
		publish:     make(chan Event, capacity),
		done:        make(chan struct{}),
		capacity:    capacity,
	}
	go h.run()
	return h
}

func (h *EventHub) run() {
	subs := make(map[chan Event]struct{})
	for {
		select {
		case ch := <-h.subscribe:
			subs[ch] = struct{}{}
		case ch := <-h.unsubscribe:
			delete(subs, ch)
			close(ch)
		case e := <-h.publish:
			for ch := range subs {
				select {
				case ch <- e:
				default:
					// Slow subscriber: drop rather than block the hub,
					// preserving FIFO order for everyone else.
				}
			}
		case <-h.done:
			for ch := range subs {
				close(ch)
			}
			return
		}
	}
}

// Subscribe registers a new listener.
func (h *EventHub) Subscribe() chan Event {
	ch := make(chan Event, h.capacity)
	h.subscribe <- ch
	return ch
}

// Unsubscribe removes and closes a listener's channel.
func (h *EventHub) Unsubscribe(ch chan Event) {
	h.unsubscribe <- ch
}

// Publish broadcasts an event to all current subscribers.
func (h *EventHub) Publish(e Event) {
	h.publish <- e
}

// Close stops the hub and closes all subscriber channels.
func (h *EventHub) Close() {
	close(h.done)
}
