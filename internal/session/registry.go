package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/pawnstorm/chess-duel-bot/internal/board"
)

var (
	ErrAlreadyInGame = errors.New("player already in a game")
	ErrSelfInvite    = errors.New("cannot play against yourself")
)

// Registry is the process-wide mapping from player to session. Both
// participants' keys resolve to the same session through a session-id
// indirection, so the "one game per player" invariant lives here and nowhere
// else. Insertion and removal are atomic with respect to each other.
type Registry struct {
	mu       sync.Mutex
	byPlayer map[string]string // player id -> session id
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byPlayer: make(map[string]string),
		sessions: make(map[string]*Session),
	}
}

// TryCreate inserts a new session for both players, failing if either already
// has one. The check and the double insert happen under one lock so two
// overlapping game starts can never both succeed.
func (r *Registry) TryCreate(room string, white, black Participant, b *board.Board) (*Session, error) {
	if white.ID == black.ID {
		return nil, ErrSelfInvite
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.byPlayer[white.ID]; busy {
		return nil, ErrAlreadyInGame
	}
	if _, busy := r.byPlayer[black.ID]; busy {
		return nil, ErrAlreadyInGame
	}
	s := newSession(uuid.NewString(), room, white, black, b)
	r.byPlayer[white.ID] = s.id
	r.byPlayer[black.ID] = s.id
	r.sessions[s.id] = s
	return s, nil
}

// Get returns the session a player belongs to, if any.
func (r *Registry) Get(playerID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[id]
	return s, ok
}

// Has reports whether the session is still registered. Termination resolution
// uses this as its single gate against double execution.
func (r *Registry) Has(s *Session) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[s.id]
	return ok
}

// Remove deletes both player keys of the session. Idempotent; returns whether
// this call removed it.
func (r *Registry) Remove(s *Session) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.id]; !ok {
		return false
	}
	delete(r.sessions, s.id)
	delete(r.byPlayer, s.white.ID)
	delete(r.byPlayer, s.black.ID)
	return true
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
