package session

import (
	"errors"
	"sync"
	"time"

	"github.com/pawnstorm/chess-duel-bot/internal/board"
	"github.com/pawnstorm/chess-duel-bot/internal/ui"
)

var (
	ErrNotYourTurn         = errors.New("not your turn")
	ErrNoLegalMovesForKind = errors.New("no legal moves for this piece kind")
	ErrInvalidPhase        = errors.New("action not valid in current phase")
	ErrTerminated          = errors.New("game already over")
)

// Participant is one of the two players of a session. The ID is the chat
// platform user id; sessions reference players, they never own them.
type Participant struct {
	ID   string
	Name string
}

// Phase is the sub-state describing what input the session expects next.
type Phase int

const (
	PhaseAwaitingPieceKind Phase = iota
	PhaseAwaitingMoveChoice
	PhaseAwaitingDrawResponse
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingPieceKind:
		return "awaiting_piece_kind"
	case PhaseAwaitingMoveChoice:
		return "awaiting_move_choice"
	case PhaseAwaitingDrawResponse:
		return "awaiting_draw_response"
	case PhaseTerminated:
		return "terminated"
	}
	return "unknown"
}

// OutcomeKind classifies how a session ended.
type OutcomeKind int

const (
	OutcomeCheckmate OutcomeKind = iota
	OutcomeDraw
	OutcomeSurrender
)

// Outcome is the terminal result of a session. Winner and Loser are zero for
// draws. Method keeps the precise cause ("stalemate", "agreement", ...).
type Outcome struct {
	Kind   OutcomeKind
	Winner Participant
	Loser  Participant
	Method string
}

// Session owns one game between exactly two players: the board, the fixed
// color assignment, whose move is awaited, and the current input phase. All
// transition operations validate the acting player first and leave the state
// unchanged on rejection. A session-level mutex serializes actions so that a
// suspended handling of one action can never interleave with another for the
// same session.
type Session struct {
	mu sync.Mutex

	id        string
	room      string
	board     *board.Board
	startedAt time.Time

	white Participant
	black Participant

	turn        string // player id whose move is awaited
	phase       Phase
	pieceKind   board.PieceKind // set while PhaseAwaitingMoveChoice
	drawOfferor string          // set while PhaseAwaitingDrawResponse
	outcome     *Outcome        // set once PhaseTerminated

	handle ui.MessageHandle // the live board message, owned by the session
}

func newSession(id, room string, white, black Participant, b *board.Board) *Session {
	return &Session{
		id:        id,
		room:      room,
		board:     b,
		startedAt: time.Now(),
		white:     white,
		black:     black,
		turn:      white.ID,
		phase:     PhaseAwaitingPieceKind,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Room() string { return s.room }

func (s *Session) StartedAt() time.Time { return s.startedAt }

func (s *Session) White() Participant { return s.white }

func (s *Session) Black() Participant { return s.black }

// Board exposes the session's position for rendering and archival. Callers
// must not mutate it directly.
func (s *Session) Board() *board.Board { return s.board }

// ColorOf reports the fixed color of a participant.
func (s *Session) ColorOf(playerID string) (board.Color, bool) {
	switch playerID {
	case s.white.ID:
		return board.White, true
	case s.black.ID:
		return board.Black, true
	}
	return "", false
}

// Opponent returns the other participant.
func (s *Session) Opponent(playerID string) (Participant, bool) {
	switch playerID {
	case s.white.ID:
		return s.black, true
	case s.black.ID:
		return s.white, true
	}
	return Participant{}, false
}

// ParticipantByID resolves a participant from a player id. Callers must pass
// one of the two players' ids.
func (s *Session) ParticipantByID(id string) Participant {
	return s.participant(id)
}

// Turn returns the participant whose move is awaited.
func (s *Session) Turn() Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant(s.turn)
}

func (s *Session) participant(id string) Participant {
	if id == s.white.ID {
		return s.white
	}
	return s.black
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// PendingKind returns the piece kind selected for the current move choice.
func (s *Session) PendingKind() board.PieceKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pieceKind
}

// DrawOfferor returns the participant whose draw offer is awaiting an answer.
func (s *Session) DrawOfferor() (Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAwaitingDrawResponse {
		return Participant{}, false
	}
	return s.participant(s.drawOfferor), true
}

func (s *Session) Outcome() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Session) Handle() ui.MessageHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Session) SetHandle(h ui.MessageHandle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

// requireTurn validates that actor is the turn-holder. Any other actor,
// participant or stranger alike, gets ErrNotYourTurn.
func (s *Session) requireTurn(actorID string) error {
	if s.phase == PhaseTerminated {
		return ErrTerminated
	}
	if actorID != s.turn {
		return ErrNotYourTurn
	}
	return nil
}

// SelectPieceKind accepts the turn-holder's piece-kind choice and moves the
// session into PhaseAwaitingMoveChoice. The kind must have at least one legal
// move; kinds with none are filtered before presentation, so hitting
// ErrNoLegalMovesForKind means the prompt was stale.
func (s *Session) SelectPieceKind(actorID string, kind board.PieceKind) ([]board.Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireTurn(actorID); err != nil {
		return nil, err
	}
	if s.phase != PhaseAwaitingPieceKind {
		return nil, ErrInvalidPhase
	}
	moves := s.board.LegalMoves(kind)
	if len(moves) == 0 {
		return nil, ErrNoLegalMovesForKind
	}
	s.phase = PhaseAwaitingMoveChoice
	s.pieceKind = kind
	return moves, nil
}

// CancelPieceKind steps back from move choice to piece-kind choice without
// changing whose turn it is.
func (s *Session) CancelPieceKind(actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireTurn(actorID); err != nil {
		return err
	}
	if s.phase != PhaseAwaitingMoveChoice {
		return ErrInvalidPhase
	}
	s.phase = PhaseAwaitingPieceKind
	s.pieceKind = ""
	return nil
}

// ApplyMove plays the turn-holder's chosen move. Terminal status is checked
// before the turn switch: a non-nil Outcome means the session just
// terminated. On any error the session stays in its pre-attempt phase.
func (s *Session) ApplyMove(actorID, uci string) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireTurn(actorID); err != nil {
		return nil, err
	}
	if s.phase != PhaseAwaitingMoveChoice {
		return nil, ErrInvalidPhase
	}
	if err := s.board.Apply(uci); err != nil {
		return nil, err
	}
	mover := s.participant(actorID)
	other := s.participant(s.otherID(actorID))
	switch st := s.board.TerminalStatus(); st.Kind {
	case board.StatusCheckmate:
		return s.terminate(&Outcome{Kind: OutcomeCheckmate, Winner: mover, Loser: other, Method: st.Method}), nil
	case board.StatusStalemate, board.StatusOtherDraw:
		return s.terminate(&Outcome{Kind: OutcomeDraw, Method: st.Method}), nil
	}
	s.turn = other.ID
	s.phase = PhaseAwaitingPieceKind
	s.pieceKind = ""
	return nil, nil
}

// OfferDraw is valid only from the turn-holder while a piece-kind choice is
// awaited. The offer stands until answered; there is no timeout.
func (s *Session) OfferDraw(actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireTurn(actorID); err != nil {
		return err
	}
	if s.phase != PhaseAwaitingPieceKind {
		return ErrInvalidPhase
	}
	s.phase = PhaseAwaitingDrawResponse
	s.drawOfferor = actorID
	return nil
}

// RespondDraw accepts or denies a pending draw offer. Only the non-offering
// participant may answer. Denial returns the session to the offeror's
// piece-kind choice; acceptance terminates with a draw.
func (s *Session) RespondDraw(actorID string, accept bool) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseTerminated {
		return nil, ErrTerminated
	}
	if s.phase != PhaseAwaitingDrawResponse {
		return nil, ErrInvalidPhase
	}
	if _, ok := s.ColorOf(actorID); !ok || actorID == s.drawOfferor {
		return nil, ErrNotYourTurn
	}
	if !accept {
		s.phase = PhaseAwaitingPieceKind
		s.drawOfferor = ""
		return nil, nil
	}
	return s.terminate(&Outcome{Kind: OutcomeDraw, Method: "agreement"}), nil
}

// Surrender ends the game immediately, valid from the turn-holder while a
// piece-kind choice is awaited.
func (s *Session) Surrender(actorID string) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireTurn(actorID); err != nil {
		return nil, err
	}
	if s.phase != PhaseAwaitingPieceKind {
		return nil, ErrInvalidPhase
	}
	loser := s.participant(actorID)
	winner := s.participant(s.otherID(actorID))
	return s.terminate(&Outcome{Kind: OutcomeSurrender, Winner: winner, Loser: loser, Method: "resignation"}), nil
}

func (s *Session) terminate(o *Outcome) *Outcome {
	s.phase = PhaseTerminated
	s.pieceKind = ""
	s.drawOfferor = ""
	s.outcome = o
	return o
}

func (s *Session) otherID(playerID string) string {
	if playerID == s.white.ID {
		return s.black.ID
	}
	return s.white.ID
}
