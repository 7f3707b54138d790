package challenge

import (
	"errors"
	"testing"

	"github.com/pawnstorm/chess-duel-bot/internal/session"
)

var (
	inviter = session.Participant{ID: "u-inviter", Name: "Inviter"}
	invitee = session.Participant{ID: "u-invitee", Name: "Invitee"}
	other   = session.Participant{ID: "u-other", Name: "Other"}
)

func TestInviteAndAccept(t *testing.T) {
	m := NewManager()
	inv, err := m.Invite("room1", inviter, invitee)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if inv.Status != StatusPending || inv.Room != "room1" {
		t.Fatalf("invitation = %+v", inv)
	}
	if pending, ok := m.PendingFor(invitee.ID); !ok || pending.ID != inv.ID {
		t.Fatalf("PendingFor = %v %v", pending, ok)
	}

	got, err := m.Accept(invitee.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if got.ID != inv.ID || got.Status != StatusAccepted {
		t.Fatalf("accepted = %+v", got)
	}
	if _, ok := m.PendingFor(invitee.ID); ok {
		t.Fatalf("invitation still pending after accept")
	}
}

func TestDecline(t *testing.T) {
	m := NewManager()
	if _, err := m.Invite("room1", inviter, invitee); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	got, err := m.Decline(invitee.ID)
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if got.Status != StatusDeclined {
		t.Fatalf("status = %s", got.Status)
	}
	// both sides are free again
	if _, err := m.Invite("room1", invitee, inviter); err != nil {
		t.Fatalf("re-invite after decline: %v", err)
	}
}

func TestSelfChallenge(t *testing.T) {
	m := NewManager()
	if _, err := m.Invite("room1", inviter, inviter); !errors.Is(err, ErrSelfChallenge) {
		t.Fatalf("err = %v, want ErrSelfChallenge", err)
	}
}

func TestOneOpenInvitationPerPlayer(t *testing.T) {
	m := NewManager()
	if _, err := m.Invite("room1", inviter, invitee); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if _, err := m.Invite("room1", inviter, other); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("double invite err = %v", err)
	}
	if _, err := m.Invite("room1", other, invitee); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("double invitee err = %v", err)
	}
	if _, err := m.Invite("room1", invitee, other); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("invitee as inviter err = %v", err)
	}
}

func TestAcceptValidation(t *testing.T) {
	m := NewManager()
	if _, err := m.Accept(invitee.ID); !errors.Is(err, ErrNoPending) {
		t.Fatalf("no pending err = %v", err)
	}
	if _, err := m.Invite("room1", inviter, invitee); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	// the inviter cannot answer their own offer
	if _, err := m.Accept(inviter.ID); !errors.Is(err, ErrNotInvited) {
		t.Fatalf("inviter accept err = %v", err)
	}
	// a stranger has nothing pending
	if _, err := m.Accept(other.ID); !errors.Is(err, ErrNoPending) {
		t.Fatalf("stranger accept err = %v", err)
	}
	// the real invitee can still accept
	if _, err := m.Accept(invitee.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}
}

func TestInvalidArgs(t *testing.T) {
	m := NewManager()
	if _, err := m.Invite("", inviter, invitee); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("empty room err = %v", err)
	}
	if _, err := m.Invite("room1", session.Participant{}, invitee); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("empty inviter err = %v", err)
	}
	if _, err := m.Accept(""); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("empty responder err = %v", err)
	}
}
