// Package session tracks in-flight work per session: the processing locks
// that serialize message handling, the global and per-user processing caps,
// and the running set consulted by the stream transport's liveness guard.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/config"
)

var (
	// ErrSessionBusy means the session is already processing a message.
	ErrSessionBusy = errors.New("session is already processing a message")
	// ErrGlobalCapacity means the server-wide processing cap is reached.
	ErrGlobalCapacity = errors.New("server processing capacity reached")
	// ErrUserCapacity means the user's concurrent processing cap is reached.
	ErrUserCapacity = errors.New("user processing capacity reached")
)

type processingSlot struct {
	userID    string
	startedAt time.Time
}

// ProcessingTracker grants at most one processing slot per session, bounded
// globally and per user. Slots not released within the TTL are reaped so a
// crashed handler cannot wedge a session forever.
type ProcessingTracker struct {
	mu      sync.Mutex
	slots   map[string]*processingSlot // session id -> slot
	perUser map[string]int
	cfg     *config.ProcessingConfig
	now     func() time.Time
}

// NewProcessingTracker creates an empty tracker.
func NewProcessingTracker(cfg *config.ProcessingConfig) *ProcessingTracker {
	return &ProcessingTracker{
		slots:   make(map[string]*processingSlot),
		perUser: make(map[string]int),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Acquire claims the session's processing slot. The caps are checked in
// order: per-session lock, global cap, per-user cap.
func (t *ProcessingTracker) Acquire(sessionID, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slot, ok := t.slots[sessionID]; ok {
		if t.now().Sub(slot.startedAt) < t.cfg.TTL {
			return ErrSessionBusy
		}
		// Stale slot left by a crashed handler. Reclaim it in place.
		t.releaseLocked(sessionID, slot)
		slog.Warn("Reclaimed stale processing slot",
			"session_id", sessionID, "held_for", t.now().Sub(slot.startedAt))
	}

	if len(t.slots) >= t.cfg.MaxSessions {
		return ErrGlobalCapacity
	}
	if t.perUser[userID] >= t.cfg.MaxSessionsPerUser {
		return ErrUserCapacity
	}

	t.slots[sessionID] = &processingSlot{userID: userID, startedAt: t.now()}
	t.perUser[userID]++
	return nil
}

// Release frees the session's slot. Releasing an unheld slot is a no-op.
func (t *ProcessingTracker) Release(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot, ok := t.slots[sessionID]; ok {
		t.releaseLocked(sessionID, slot)
	}
}

func (t *ProcessingTracker) releaseLocked(sessionID string, slot *processingSlot) {
	delete(t.slots, sessionID)
	if t.perUser[slot.userID] <= 1 {
		delete(t.perUser, slot.userID)
	} else {
		t.perUser[slot.userID]--
	}
}

// IsProcessing reports whether the session holds a live slot.
func (t *ProcessingTracker) IsProcessing(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.slots[sessionID]
	return ok && t.now().Sub(slot.startedAt) < t.cfg.TTL
}

// Active returns the number of held slots.
func (t *ProcessingTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Sweep reaps slots older than the TTL and returns how many were reaped.
func (t *ProcessingTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	reaped := 0
	now := t.now()
	for id, slot := range t.slots {
		if now.Sub(slot.startedAt) >= t.cfg.TTL {
			t.releaseLocked(id, slot)
			reaped++
			slog.Warn("Reaped expired processing slot",
				"session_id", id, "held_for", now.Sub(slot.startedAt))
		}
	}
	return reaped
}

// RunSweeper reaps on the configured interval until stop is closed.
func (t *ProcessingTracker) RunSweeper(stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}
