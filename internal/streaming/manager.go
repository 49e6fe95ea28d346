package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// Dispatch lifecycle event types.
const (
	EventDispatchStarted      = "dispatch_started"
	EventAwaitingConfirmation = "awaiting_confirmation"
	EventPlanConfirmed        = "plan_confirmed"
	EventAgentStarted         = "agent_started"
	EventAgentCompleted       = "agent_completed"
	EventSynthesisCompleted   = "synthesis_completed"
	EventDispatchCompleted    = "dispatch_completed"
	EventDispatchFailed       = "dispatch_failed"
)

// Event is one dispatch lifecycle notification.
type Event struct {
	WorkflowID string    `json:"workflow_id"`
	Type       string    `json:"type"`
	AgentID    string    `json:"agent_id,omitempty"`
	Market     string    `json:"market,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Seq        uint64    `json:"seq"`
}

// Marshal returns the JSON form for wire transports and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// defaultRetention is how long a finished workflow's replay ring stays
// available for reconnects before it is dropped.
const defaultRetention = 5 * time.Minute

// Manager provides in-memory pub/sub for dispatch events with a
// per-workflow ring buffer so late subscribers can replay what they
// missed. Rings of finished dispatches are dropped after a retention
// window once their last subscriber is gone.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	retention   time.Duration
}

// NewManager creates a streaming manager. capacity bounds each
// workflow's replay ring.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		retention:   defaultRetention,
	}
}

// Subscribe adds a subscriber channel for a workflow. The caller must
// drain the channel and call Unsubscribe when done.
func (m *Manager) Subscribe(workflowID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[workflowID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[workflowID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the subscriber channel.
func (m *Manager) Unsubscribe(workflowID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[workflowID]; ok {
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, workflowID)
			if rg := m.history[workflowID]; rg != nil && rg.done {
				time.AfterFunc(m.retention, func() { m.Forget(workflowID) })
			}
		}
	}
}

// Publish assigns the event a sequence number, records it in the replay
// ring and fans it out without blocking; slow subscribers drop events.
func (m *Manager) Publish(workflowID string, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	evt.WorkflowID = workflowID

	m.mu.Lock()
	rg := m.history[workflowID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[workflowID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	// Terminal events start the retention clock; Forget skips rings with
	// live subscribers and Unsubscribe restarts the clock for them.
	if evt.Type == EventDispatchCompleted || evt.Type == EventDispatchFailed {
		rg.done = true
		time.AfterFunc(m.retention, func() { m.Forget(workflowID) })
	}
	subs := m.subscribers[workflowID]
	m.mu.Unlock()

	for ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ReplaySince returns recorded events with Seq > since, best-effort
// within the ring capacity.
func (m *Manager) ReplaySince(workflowID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[workflowID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Replay returns every recorded event still in the ring, oldest first.
func (m *Manager) Replay(workflowID string) []Event {
	m.mu.RLock()
	rg := m.history[workflowID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.all()
}

// Forget drops a workflow's replay history once the dispatch is done and
// its subscribers are gone.
func (m *Manager) Forget(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subscribers[workflowID]) == 0 {
		delete(m.history, workflowID)
	}
}

// ring is a fixed-capacity event buffer.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
	done    bool
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) all() []Event {
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
