package research

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
)

// Sentinel errors a LiveChannel implementation returns from Send.
var (
	ErrChannelClosed = errors.New("live channel closed")
	ErrChannelFull   = errors.New("live channel buffer full")
)

// LiveChannel is the at-most-one observer channel bound to a session.
// Send must not block on a slow consumer: implementations buffer and
// drop, or fail fast. A returned error means the channel is broken and
// the registry detaches it.
type LiveChannel interface {
	Send(evt Event) error
}

// Registry is the single source of truth for session state and the
// live-update fan-out point. All mutation of a session and its channel
// binding is serialized per session id; operations on different
// sessions never contend.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*sessionEntry
	logger    *log.Logger
	telemetry *telemetry.Telemetry
}

type sessionEntry struct {
	mu      sync.Mutex
	session Session
	channel LiveChannel
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *log.Logger, tele *telemetry.Telemetry) *Registry {
	if logger == nil {
		logger = log.New(log.Writer(), "[SESSIONS] ", log.LstdFlags)
	}
	return &Registry{
		sessions:  make(map[string]*sessionEntry),
		logger:    logger,
		telemetry: tele,
	}
}

// Create allocates a new session for a query. Every agent slot starts
// out waiting. Never fails.
func (r *Registry) Create(query string) string {
	agents := make(map[string]AgentStatus, len(AgentSlots()))
	for _, slot := range AgentSlots() {
		agents[slot] = AgentStatus{Status: AgentWaiting}
	}
	entry := &sessionEntry{
		session: Session{
			ID:        uuid.NewString(),
			Query:     query,
			Status:    StatusPending,
			Agents:    agents,
			CreatedAt: time.Now().UTC(),
		},
	}

	r.mu.Lock()
	r.sessions[entry.session.ID] = entry
	r.mu.Unlock()
	return entry.session.ID
}

func (r *Registry) entry(id string) (*sessionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e, ok
}

// Get returns a read-only snapshot of a session.
func (r *Registry) Get(id string) (Session, bool) {
	e, ok := r.entry(id)
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), true
}

func (e *sessionEntry) snapshotLocked() Session {
	snap := e.session
	snap.Agents = make(map[string]AgentStatus, len(e.session.Agents))
	for k, v := range e.session.Agents {
		snap.Agents[k] = v
	}
	return snap
}

// UpdateAgentStatus mutates one agent slot and broadcasts an
// agent_update event. Unknown session ids are a no-op: late updates can
// race cleanup and must not fail. Backward transitions (out of done or
// error, or running back to waiting) are ignored.
func (r *Registry) UpdateAgentStatus(id, slot string, status AgentState, message string) {
	e, ok := r.entry(id)
	if !ok {
		r.logger.Printf("agent update for unknown session %s dropped (slot=%s)", id, slot)
		return
	}

	e.mu.Lock()
	current, ok := e.session.Agents[slot]
	if !ok {
		e.mu.Unlock()
		r.logger.Printf("agent update for unknown slot %q dropped (session=%s)", slot, id)
		return
	}
	if stateRank(status) < stateRank(current.Status) || (current.Status == AgentError && status != AgentError) {
		e.mu.Unlock()
		return
	}
	updated := AgentStatus{Status: status, Message: current.Message}
	if message != "" {
		updated.Message = message
	}
	e.session.Agents[slot] = updated
	ch := e.channel
	e.mu.Unlock()

	r.send(id, e, ch, AgentUpdateEvent(slot, status, message))
}

// SetStatus advances the session lifecycle status.
func (r *Registry) SetStatus(id string, status SessionStatus) {
	e, ok := r.entry(id)
	if !ok {
		return
	}
	e.mu.Lock()
	e.session.Status = status
	e.mu.Unlock()
}

// SetResult stores the final text. Only the first call takes effect.
func (r *Registry) SetResult(id, result string) {
	e, ok := r.entry(id)
	if !ok {
		return
	}
	e.mu.Lock()
	if e.session.Result == "" {
		e.session.Result = result
	}
	e.mu.Unlock()
}

// AttachChannel binds the live channel for a session, replacing any
// previous binding, and returns a snapshot so the caller can replay
// current state to the new observer.
func (r *Registry) AttachChannel(id string, ch LiveChannel) (Session, bool) {
	e, ok := r.entry(id)
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channel = ch
	return e.snapshotLocked(), true
}

// DetachChannel unbinds the live channel for a session, if any.
func (r *Registry) DetachChannel(id string) {
	e, ok := r.entry(id)
	if !ok {
		return
	}
	e.mu.Lock()
	e.channel = nil
	e.mu.Unlock()
}

// Broadcast delivers an event to the attached channel, if any. Delivery
// is best effort: an absent channel drops the event silently and a
// failed send detaches the broken channel. Broadcast never blocks the
// pipeline and never returns an error.
func (r *Registry) Broadcast(id string, evt Event) {
	e, ok := r.entry(id)
	if !ok {
		return
	}
	e.mu.Lock()
	ch := e.channel
	e.mu.Unlock()
	r.send(id, e, ch, evt)
}

func (r *Registry) send(id string, e *sessionEntry, ch LiveChannel, evt Event) {
	if ch == nil {
		r.telemetry.RecordDroppedEvent()
		return
	}
	if err := ch.Send(evt); err != nil {
		r.logger.Printf("live channel send failed for session %s: %v", id, err)
		e.mu.Lock()
		if e.channel == ch {
			e.channel = nil
		}
		e.mu.Unlock()
		r.telemetry.RecordDroppedEvent()
		return
	}
	r.telemetry.RecordBroadcast(evt.Type)
}
