package live

import (
	"log"
	"sync"
	"time"

	"liveclass/internal/metrics"
	"liveclass/internal/roster"
)

const (
	// DefaultKeepalive is the interval between keepalive frames on an idle stream.
	DefaultKeepalive = 30 * time.Second
	// DefaultBuffer is the per-subscriber frame queue size.
	DefaultBuffer = 16
)

// Callback receives snapshots. It must return quickly.
type Callback func(Snapshot)

// Handle identifies a registered callback.
type Handle uint64

// FrameKind tells a stream writer how to render a frame.
type FrameKind int

const (
	FrameState FrameKind = iota
	FrameKeepalive
)

// Frame is one item on a subscriber's outbound queue.
type Frame struct {
	Kind FrameKind
	View View
	At   time.Time
}

// Hub holds the registered callbacks and delivers every published snapshot to them.
type Hub struct {
	mu        sync.RWMutex
	next      Handle
	callbacks map[Handle]Callback

	keepalive time.Duration
	buffer    int
	observe   func(func(Snapshot))
}

// HubOptions configures a Hub. Zero values fall back to defaults.
type HubOptions struct {
	Keepalive time.Duration
	Buffer    int
}

// NewHub creates an empty hub.
func NewHub(opts HubOptions) *Hub {
	h := &Hub{
		callbacks: make(map[Handle]Callback),
		keepalive: opts.Keepalive,
		buffer:    opts.Buffer,
	}
	if h.keepalive <= 0 {
		h.keepalive = DefaultKeepalive
	}
	if h.buffer <= 0 {
		h.buffer = DefaultBuffer
	}
	return h
}

// Attach sets the source of the initial snapshot sent to new subscriptions. observe must call its
// argument in order with the snapshots it publishes, as Machine.Observe does.
func (h *Hub) Attach(observe func(func(Snapshot))) {
	h.mu.Lock()
	h.observe = observe
	h.mu.Unlock()
}

// Register adds a callback.
func (h *Hub) Register(cb Callback) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.callbacks[h.next] = cb
	return h.next
}

// Unregister removes a callback. Unknown handles are ignored.
func (h *Hub) Unregister(handle Handle) {
	h.mu.Lock()
	delete(h.callbacks, handle)
	h.mu.Unlock()
}

// Len returns the number of registered callbacks.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.callbacks)
}

// Publish delivers s to every callback. A callback that panics is removed.
func (h *Hub) Publish(s Snapshot) {
	h.mu.RLock()
	handles := make([]Handle, 0, len(h.callbacks))
	cbs := make([]Callback, 0, len(h.callbacks))
	for handle, cb := range h.callbacks {
		handles = append(handles, handle)
		cbs = append(cbs, cb)
	}
	h.mu.RUnlock()

	for i, cb := range cbs {
		if !invoke(cb, s) {
			log.Printf("removing live subscriber %d after callback panic", handles[i])
			h.Unregister(handles[i])
		}
	}
}

func invoke(cb Callback, s Snapshot) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("live subscriber callback panicked: %v", r)
			ok = false
		}
	}()
	cb(s)
	return true
}

// Subscription is one dashboard stream: a bounded frame queue fed by a hub callback and its own
// keepalive ticker.
type Subscription struct {
	hub    *Hub
	handle Handle
	frames chan Frame
	done   chan struct{}
	once   sync.Once

	// mu serializes producers so drop-oldest and enqueue happen together.
	mu sync.Mutex
}

// Subscribe registers a stream that receives a reconciled View per state change. expected and
// learned are captured for the subscription's lifetime.
func (h *Hub) Subscribe(expected []roster.Member, learned map[string]string) *Subscription {
	sub := &Subscription{
		hub:    h,
		frames: make(chan Frame, h.buffer),
		done:   make(chan struct{}),
	}

	push := func(s Snapshot) {
		sub.offer(Frame{Kind: FrameState, View: BuildView(s, expected, learned), At: time.Now()})
	}

	// Registered before the initial frame so no change is missed in between; a change that lands
	// first is repeated by the initial frame, never overtaken by it.
	sub.handle = h.Register(push)
	metrics.LiveSubscribers.Inc()

	h.mu.RLock()
	observe := h.observe
	h.mu.RUnlock()
	if observe != nil {
		observe(push)
	}

	go sub.keepalive(h.keepalive)
	return sub
}

// Frames returns the outbound queue.
func (s *Subscription) Frames() <-chan Frame {
	return s.frames
}

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unregisters the callback and stops the keepalive ticker. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.Unregister(s.handle)
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
		metrics.LiveSubscribers.Dec()
	})
}

func (s *Subscription) keepalive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case t := <-ticker.C:
			s.offer(Frame{Kind: FrameKeepalive, At: t})
		}
	}
}

// offer enqueues f without blocking. When the queue is full the oldest frame is discarded.
func (s *Subscription) offer(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}
	for {
		select {
		case s.frames <- f:
			return
		default:
		}
		select {
		case <-s.frames:
			metrics.FramesDropped.Inc()
		default:
		}
	}
}
