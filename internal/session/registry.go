package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pricefinder/pricefinder/internal/domain"
	"github.com/pricefinder/pricefinder/internal/store"
)

// ErrTurnInProgress is returned when a session already has a turn in flight.
var ErrTurnInProgress = errors.New("a turn is already in progress for this session")

// Entry is a registry slot: one client's State plus the locks that give the
// session a single logical thread of control.
type Entry struct {
	clientID string
	turn     sync.Mutex // held for the whole of a turn, including the agent call
	mu       sync.Mutex // guards state for the short critical sections
	state    *State
}

// NewEntry wraps an initialized state for clientID.
func NewEntry(clientID string, state *State) *Entry {
	state.Initialize()
	return &Entry{clientID: clientID, state: state}
}

// ClientID returns the owning client key.
func (e *Entry) ClientID() string {
	return e.clientID
}

// BeginTurn claims the session for one turn. It returns false if another
// turn is still running.
func (e *Entry) BeginTurn() bool {
	return e.turn.TryLock()
}

// EndTurn releases the claim taken by BeginTurn.
func (e *Entry) EndTurn() {
	e.turn.Unlock()
}

// Update runs fn with exclusive access to the state.
func (e *Entry) Update(fn func(*State) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.state)
}

// View runs fn with read access to the state. fn must not mutate it.
func (e *Entry) View(fn func(*State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

// Snapshot returns the persisted form of the current state.
func (e *Entry) Snapshot() *domain.SessionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot(e.clientID)
}

// Observer is notified with a fresh snapshot after every saved change.
type Observer func(rec *domain.SessionRecord)

// Registry owns one Entry per client key. Entries are restored from the
// repository on first access and written back on Save. repo may be nil for
// a memory-only registry.
type Registry struct {
	repo store.Repository
	opts Options

	mu        sync.Mutex
	entries   map[string]*Entry
	observers []Observer
}

// NewRegistry creates a registry whose states use opts.
func NewRegistry(repo store.Repository, opts Options) *Registry {
	return &Registry{
		repo:    repo,
		opts:    opts.withDefaults(),
		entries: make(map[string]*Entry),
	}
}

// Subscribe registers an observer for saved changes.
func (r *Registry) Subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Get returns the entry for clientID, restoring it from the repository or
// initializing a fresh session when none exists.
func (r *Registry) Get(ctx context.Context, clientID string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[clientID]; ok {
		return e, nil
	}

	state := New(r.opts)
	if r.repo != nil {
		rec, err := r.repo.GetSession(ctx, clientID)
		if err != nil {
			return nil, fmt.Errorf("load session for %s: %w", clientID, err)
		}
		if rec != nil {
			state.Restore(rec)
			slog.Debug("Session restored", "client_id", clientID, "session_id", rec.SessionID)
		}
	}
	state.Initialize()

	e := NewEntry(clientID, state)
	r.entries[clientID] = e
	slog.Info("Session ready", "client_id", clientID, "session_id", state.ID())
	return e, nil
}

// Save persists the entry and notifies observers.
func (r *Registry) Save(ctx context.Context, e *Entry) error {
	rec := e.Snapshot()

	r.mu.Lock()
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()
	for _, o := range observers {
		o(rec)
	}

	if r.repo == nil {
		return nil
	}
	if err := r.repo.UpsertSession(ctx, rec); err != nil {
		return fmt.Errorf("save session for %s: %w", e.clientID, err)
	}
	return nil
}

// Reset hard-resets the client's session: new session ID, fresh welcome
// message, empty history and products. It fails with ErrTurnInProgress
// while a turn is running.
func (r *Registry) Reset(ctx context.Context, clientID string) (*Entry, error) {
	e, err := r.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !e.BeginTurn() {
		return nil, ErrTurnInProgress
	}
	defer e.EndTurn()

	var oldID, newID string
	_ = e.Update(func(s *State) error {
		oldID = s.ID()
		s.Clear()
		newID = s.ID()
		return nil
	})
	slog.Info("Session cleared", "client_id", clientID, "old_session_id", oldID, "session_id", newID)

	return e, r.Save(ctx, e)
}

// EvictIfIdle drops a client's entry from memory unless a turn is in
// flight or it was updated within ttl. The stored copy is untouched. It
// reports whether the client has no entry in memory afterwards.
func (r *Registry) EvictIfIdle(clientID string, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[clientID]
	if !ok {
		return true
	}
	if !e.BeginTurn() {
		return false
	}
	defer e.EndTurn()

	var updated time.Time
	e.View(func(s *State) { updated = s.UpdatedAt() })
	if updated.After(time.Now().Add(-ttl)) {
		return false
	}
	delete(r.entries, clientID)
	return true
}

// EvictIdle drops in-memory entries not updated within ttl and returns
// their client keys. Entries with a turn in flight are kept.
func (r *Registry) EvictIdle(ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	var evicted []string
	for clientID, e := range r.entries {
		if !e.BeginTurn() {
			continue
		}
		var updated time.Time
		e.View(func(s *State) { updated = s.UpdatedAt() })
		if updated.Before(cutoff) {
			delete(r.entries, clientID)
			evicted = append(evicted, clientID)
		}
		e.EndTurn()
	}
	return evicted
}

// Len returns the number of sessions held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
