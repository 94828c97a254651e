package events

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/config"
)

var (
	// ErrUserStreamCap means the user already holds the maximum number of
	// concurrent streams.
	ErrUserStreamCap = errors.New("per-user stream limit reached")
	// ErrGlobalStreamCap means the process-wide stream ceiling is reached.
	ErrGlobalStreamCap = errors.New("total stream limit reached")
)

// Stream is one client's subscription to a session's events.
type Stream struct {
	ID        string
	SessionID string
	UserID    string
	ch        chan Event
	closeOnce sync.Once
	closed    chan struct{}
}

// Events is the frame channel the transport drains.
func (s *Stream) Events() <-chan Event { return s.ch }

// Done is closed when the stream is removed from the manager.
func (s *Stream) Done() <-chan struct{} { return s.closed }

func (s *Stream) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// StreamManager fans session events out to subscribed streams, enforcing the
// per-user and global connection caps. Publishing never blocks: a stream
// whose buffer is full is treated as a dead client and dropped.
type StreamManager struct {
	mu       sync.RWMutex
	streams  map[string]*Stream            // stream id -> stream
	sessions map[string]map[string]*Stream // session id -> stream id -> stream
	perUser  map[string]int
	cfg      *config.SSEConfig
}

// NewStreamManager creates an empty manager.
func NewStreamManager(cfg *config.SSEConfig) *StreamManager {
	return &StreamManager{
		streams:  make(map[string]*Stream),
		sessions: make(map[string]map[string]*Stream),
		perUser:  make(map[string]int),
		cfg:      cfg,
	}
}

// Subscribe registers a new stream for the session, checking the per-user
// cap before the global cap.
func (m *StreamManager) Subscribe(sessionID, userID string) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.perUser[userID] >= m.cfg.MaxPerUser {
		return nil, ErrUserStreamCap
	}
	if len(m.streams) >= m.cfg.MaxTotalConnections {
		return nil, ErrGlobalStreamCap
	}

	s := &Stream{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    userID,
		ch:        make(chan Event, m.cfg.SendBuffer),
		closed:    make(chan struct{}),
	}
	m.streams[s.ID] = s
	if m.sessions[sessionID] == nil {
		m.sessions[sessionID] = make(map[string]*Stream)
	}
	m.sessions[sessionID][s.ID] = s
	m.perUser[userID]++

	slog.Debug("Stream subscribed",
		"stream_id", s.ID, "session_id", sessionID, "user_id", userID, "total", len(m.streams))
	return s, nil
}

// Unsubscribe removes a stream. Safe to call more than once.
func (m *StreamManager) Unsubscribe(s *Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(s)
}

func (m *StreamManager) removeLocked(s *Stream) {
	if _, ok := m.streams[s.ID]; !ok {
		return
	}
	delete(m.streams, s.ID)
	if subs := m.sessions[s.SessionID]; subs != nil {
		delete(subs, s.ID)
		if len(subs) == 0 {
			delete(m.sessions, s.SessionID)
		}
	}
	if m.perUser[s.UserID] <= 1 {
		delete(m.perUser, s.UserID)
	} else {
		m.perUser[s.UserID]--
	}
	s.close()
}

// Publish delivers an event to every stream watching the session. A stream
// that cannot accept the frame is dropped.
func (m *StreamManager) Publish(sessionID string, event Event) {
	event.SessionID = sessionID

	m.mu.RLock()
	subs := make([]*Stream, 0, len(m.sessions[sessionID]))
	for _, s := range m.sessions[sessionID] {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	var stalled []*Stream
	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			stalled = append(stalled, s)
		}
	}

	if len(stalled) > 0 {
		m.mu.Lock()
		for _, s := range stalled {
			slog.Warn("Dropping stalled stream",
				"stream_id", s.ID, "session_id", sessionID, "user_id", s.UserID)
			m.removeLocked(s)
		}
		m.mu.Unlock()
	}
}

// ActiveStreams returns the total number of open streams.
func (m *StreamManager) ActiveStreams() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// SessionStreams returns the number of streams watching a session.
func (m *StreamManager) SessionStreams(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[sessionID])
}

// Emitter returns a publish function bound to one session, in the shape the
// coordinator takes.
func (m *StreamManager) Emitter(sessionID string) func(Event) {
	return func(e Event) { m.Publish(sessionID, e) }
}
