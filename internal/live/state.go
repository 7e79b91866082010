// Package live tracks the single active meeting session and fans state changes out to
// dashboard subscribers.
package live

import (
	"log"
	"sort"
	"sync"
	"time"
)

// DefaultGraceWindow is how long an ended session stays queryable before it is cleared.
const DefaultGraceWindow = 60 * time.Second

// SessionRef identifies the meeting an event belongs to.
type SessionRef struct {
	SessionID  string
	InstanceID string
	Topic      string
}

// Participant is a connection in the live roster.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	JoinTime    time.Time `json:"joinTime"`
	// Email is only present on the host/licensed connection.
	Email string `json:"email,omitempty"`
}

// IsOwner reports whether the participant is the host's own connection.
func (p Participant) IsOwner() bool {
	return p.Email != ""
}

// Snapshot is a copy of the live session state. The zero value means no session.
type Snapshot struct {
	SessionID    string        `json:"sessionId"`
	InstanceID   string        `json:"sessionInstanceId"`
	Topic        string        `json:"topic"`
	StartTime    time.Time     `json:"startTime"`
	IsLive       bool          `json:"isLive"`
	Participants []Participant `json:"participants"`
}

// ParticipantCount returns the roster size.
func (s Snapshot) ParticipantCount() int {
	return len(s.Participants)
}

// Publisher receives every snapshot after a state change. Publish must not block.
type Publisher interface {
	Publish(Snapshot)
}

// Stopper cancels a deferred call.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it via Options.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Stopper

type session struct {
	ref       SessionRef
	startTime time.Time
	live      bool
	roster    map[string]Participant
}

// Machine owns the state of at most one session.
type Machine struct {
	mu         sync.Mutex
	cur        *session
	generation uint64
	clear      Stopper

	pub       Publisher
	grace     time.Duration
	afterFunc AfterFunc
	now       func() time.Time
}

// Options configures a Machine. Zero values fall back to defaults.
type Options struct {
	GraceWindow time.Duration
	AfterFunc   AfterFunc
	Now         func() time.Time
}

// NewMachine creates a machine publishing to pub. pub may be nil.
func NewMachine(pub Publisher, opts Options) *Machine {
	m := &Machine{
		pub:       pub,
		grace:     opts.GraceWindow,
		afterFunc: opts.AfterFunc,
		now:       opts.Now,
	}
	if m.grace <= 0 {
		m.grace = DefaultGraceWindow
	}
	if m.afterFunc == nil {
		m.afterFunc = func(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Start (re)initializes a live session with an empty roster, replacing whatever was there.
func (m *Machine) Start(ref SessionRef, startTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if startTime.IsZero() {
		startTime = m.now().UTC()
	}
	m.replace(ref, startTime)
	m.publish()
}

// Join upserts a participant. Owner connections are dropped. When no session is tracked, or the
// retained one is an ended different meeting, a minimal live session is synthesized first since
// the provider does not order start and join deliveries.
func (m *Machine) Join(ref SessionRef, p Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil || (!m.cur.live && ref.SessionID != "" && ref.SessionID != m.cur.ref.SessionID) {
		m.replace(ref, m.now().UTC())
	}
	if !p.IsOwner() && p.ID != "" {
		if p.JoinTime.IsZero() {
			p.JoinTime = m.now().UTC()
		}
		m.cur.roster[p.ID] = p
	}
	m.publish()
}

// Leave removes a participant when present.
func (m *Machine) Leave(participantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur != nil {
		delete(m.cur.roster, participantID)
	}
	m.publish()
}

// End marks the session not live and arms the deferred clear. An end for a different session id
// than the tracked one is ignored.
func (m *Machine) End(ref SessionRef) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil {
		return
	}
	if ref.SessionID != "" && m.cur.ref.SessionID != "" && ref.SessionID != m.cur.ref.SessionID {
		log.Printf("ignoring end for session %s, tracking %s", ref.SessionID, m.cur.ref.SessionID)
		return
	}
	m.cur.live = false
	m.stopClear()
	gen := m.generation
	m.clear = m.afterFunc(m.grace, func() { m.expire(gen) })
	m.publish()
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// Observe calls fn with the current state. fn runs before any later state change is published.
func (m *Machine) Observe(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.snapshot())
}

func (m *Machine) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.cur == nil || m.cur.live {
		return
	}
	m.cur = nil
	m.clear = nil
	m.publish()
}

func (m *Machine) replace(ref SessionRef, startTime time.Time) {
	m.stopClear()
	m.generation++
	m.cur = &session{
		ref:       ref,
		startTime: startTime,
		live:      true,
		roster:    make(map[string]Participant),
	}
}

func (m *Machine) stopClear() {
	if m.clear != nil {
		m.clear.Stop()
		m.clear = nil
	}
}

func (m *Machine) publish() {
	if m.pub != nil {
		m.pub.Publish(m.snapshot())
	}
}

func (m *Machine) snapshot() Snapshot {
	if m.cur == nil {
		return Snapshot{}
	}
	participants := make([]Participant, 0, len(m.cur.roster))
	for _, p := range m.cur.roster {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool {
		if !participants[i].JoinTime.Equal(participants[j].JoinTime) {
			return participants[i].JoinTime.Before(participants[j].JoinTime)
		}
		return participants[i].ID < participants[j].ID
	})
	return Snapshot{
		SessionID:    m.cur.ref.SessionID,
		InstanceID:   m.cur.ref.InstanceID,
		Topic:        m.cur.ref.Topic,
		StartTime:    m.cur.startTime,
		IsLive:       m.cur.live,
		Participants: participants,
	}
}
