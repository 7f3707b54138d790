package challenge

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pawnstorm/chess-duel-bot/internal/session"
)

var (
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrSelfChallenge  = errors.New("cannot challenge yourself")
	ErrAlreadyPending = errors.New("player already has a pending invitation")
	ErrNoPending      = errors.New("no pending invitation")
	ErrNotInvited     = errors.New("responder is not the invited player")
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusDeclined Status = "DECLINED"
)

// Invitation is a pending game offer from inviter to invitee. It has no
// timeout; it stands until answered or superseded by its own resolution.
type Invitation struct {
	ID        string
	Room      string
	Inviter   session.Participant
	Invitee   session.Participant
	CreatedAt time.Time
	Status    Status
}

// Manager tracks pending invitations in process memory, at most one per
// player on either side of an offer.
type Manager struct {
	mu        sync.Mutex
	byInvitee map[string]*Invitation
	byInviter map[string]*Invitation
	seq       uint64
}

func NewManager() *Manager {
	return &Manager{
		byInvitee: make(map[string]*Invitation),
		byInviter: make(map[string]*Invitation),
	}
}

// Invite creates a pending invitation. A player with an open invitation, as
// inviter or invitee, cannot be part of another one.
func (m *Manager) Invite(room string, inviter, invitee session.Participant) (*Invitation, error) {
	if room == "" || inviter.ID == "" || invitee.ID == "" {
		return nil, ErrInvalidArgs
	}
	if inviter.ID == invitee.ID {
		return nil, ErrSelfChallenge
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range []string{inviter.ID, invitee.ID} {
		if _, busy := m.byInvitee[id]; busy {
			return nil, ErrAlreadyPending
		}
		if _, busy := m.byInviter[id]; busy {
			return nil, ErrAlreadyPending
		}
	}
	inv := &Invitation{
		ID:        m.nextID(),
		Room:      room,
		Inviter:   inviter,
		Invitee:   invitee,
		CreatedAt: time.Now(),
		Status:    StatusPending,
	}
	m.byInvitee[invitee.ID] = inv
	m.byInviter[inviter.ID] = inv
	return inv, nil
}

// Accept resolves the pending invitation addressed to responderID. Only the
// invited player may accept; anyone else gets ErrNotInvited.
func (m *Manager) Accept(responderID string) (*Invitation, error) {
	return m.resolve(responderID, StatusAccepted)
}

// Decline resolves the pending invitation addressed to responderID.
func (m *Manager) Decline(responderID string) (*Invitation, error) {
	return m.resolve(responderID, StatusDeclined)
}

func (m *Manager) resolve(responderID string, status Status) (*Invitation, error) {
	if responderID == "" {
		return nil, ErrInvalidArgs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byInvitee[responderID]
	if !ok {
		// A pending invitation in the other direction means the responder is
		// the inviter, not the invited player.
		if _, inviter := m.byInviter[responderID]; inviter {
			return nil, ErrNotInvited
		}
		return nil, ErrNoPending
	}
	inv.Status = status
	delete(m.byInvitee, inv.Invitee.ID)
	delete(m.byInviter, inv.Inviter.ID)
	return inv, nil
}

// PendingFor returns the open invitation addressed to the player, if any.
func (m *Manager) PendingFor(inviteeID string) (*Invitation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byInvitee[inviteeID]
	return inv, ok
}

func (m *Manager) nextID() string {
	n := atomic.AddUint64(&m.seq, 1)
	return fmt.Sprintf("inv-%d-%d", time.Now().UnixNano(), n)
}
