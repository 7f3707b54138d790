package board

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ErrIllegalMove is returned when a move fails validation against the current
// position. Callers enumerate legal moves before presenting them, so hitting
// this indicates a stale or inconsistent selection rather than user error.
var ErrIllegalMove = errors.New("illegal move")

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// PieceKind is the selectable piece category for the two-step move input.
type PieceKind string

const (
	KindPawn   PieceKind = "pawn"
	KindBishop PieceKind = "bishop"
	KindKnight PieceKind = "knight"
	KindRook   PieceKind = "rook"
	KindQueen  PieceKind = "queen"
	KindKing   PieceKind = "king"
)

// KindOrder is the presentation order for piece-kind prompts.
var KindOrder = []PieceKind{KindPawn, KindBishop, KindKnight, KindRook, KindQueen, KindKing}

func (k PieceKind) Label() string {
	if k == "" {
		return ""
	}
	return strings.ToUpper(k.String()[:1]) + k.String()[1:]
}

func (k PieceKind) String() string { return string(k) }

func (k PieceKind) pieceType() nchess.PieceType {
	switch k {
	case KindPawn:
		return nchess.Pawn
	case KindBishop:
		return nchess.Bishop
	case KindKnight:
		return nchess.Knight
	case KindRook:
		return nchess.Rook
	case KindQueen:
		return nchess.Queen
	case KindKing:
		return nchess.King
	}
	return nchess.NoPieceType
}

func kindOf(t nchess.PieceType) PieceKind {
	switch t {
	case nchess.Pawn:
		return KindPawn
	case nchess.Bishop:
		return KindBishop
	case nchess.Knight:
		return KindKnight
	case nchess.Rook:
		return KindRook
	case nchess.Queen:
		return KindQueen
	case nchess.King:
		return KindKing
	}
	return ""
}

// Move is one legal move in UI-facing form. UCI doubles as the stable choice
// id; From/To square names feed the "e2 -> e4" button labels.
type Move struct {
	UCI   string
	SAN   string
	From  string
	To    string
	Promo string
}

// Label renders the move the way the buttons show it.
func (m Move) Label() string {
	label := m.From + " -> " + m.To
	if m.Promo != "" {
		label += "=" + strings.ToUpper(m.Promo)
	}
	return label
}

// StatusKind classifies the terminal state of a position.
type StatusKind int

const (
	StatusNone StatusKind = iota
	StatusCheckmate
	StatusStalemate
	StatusOtherDraw
)

// Status is the terminal verdict for a position. Loser is set only for
// checkmate. Method carries the rules-engine wording for archival.
type Status struct {
	Kind   StatusKind
	Loser  Color
	Method string
}

// Board owns one game position and its move history. All chess legality is
// delegated to the rules engine; Board never re-derives rules.
type Board struct {
	game     *nchess.Game
	movesUCI []string
	movesSAN []string
}

// New returns a board at the standard initial position.
func New() *Board {
	return &Board{game: nchess.NewGame()}
}

// NewFromFEN starts from an arbitrary position. Move history before the
// given position is unknown, so History starts empty.
func NewFromFEN(fen string) (*Board, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	return &Board{game: nchess.NewGame(opt)}, nil
}

// Turn reports which side moves next.
func (b *Board) Turn() Color {
	if b.game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

// FEN returns the current position in FEN form.
func (b *Board) FEN() string { return b.game.FEN() }

// Position exposes the underlying board for rendering.
func (b *Board) Position() *nchess.Board { return b.game.Position().Board() }

// MovesUCI returns the applied move history in UCI form.
func (b *Board) MovesUCI() []string { return append([]string(nil), b.movesUCI...) }

// MovesSAN returns the applied move history in SAN form.
func (b *Board) MovesSAN() []string { return append([]string(nil), b.movesSAN...) }

// LegalMoves enumerates the legal moves for the side to move, restricted to
// moves whose origin square holds a piece of the given kind. An empty kind
// returns every legal move.
func (b *Board) LegalMoves(kind PieceKind) []Move {
	pos := b.game.Position()
	brd := pos.Board()
	want := kind.pieceType()
	var out []Move
	for _, mv := range b.game.ValidMoves() {
		from := mv.S1()
		if want != nchess.NoPieceType && brd.Piece(from).Type() != want {
			continue
		}
		m := Move{
			UCI:  mv.String(),
			SAN:  nchess.AlgebraicNotation{}.Encode(pos, &mv),
			From: from.String(),
			To:   mv.S2().String(),
		}
		if p := mv.Promo(); p != nchess.NoPieceType {
			m.Promo = kindOf(p).String()[:1]
		}
		out = append(out, m)
	}
	return out
}

// KindsWithMoves returns, in presentation order, the piece kinds that have at
// least one legal move for the side to move. Kinds with zero legal moves are
// never offered as choices.
func (b *Board) KindsWithMoves() []PieceKind {
	brd := b.game.Position().Board()
	seen := map[PieceKind]bool{}
	for _, mv := range b.game.ValidMoves() {
		seen[kindOf(brd.Piece(mv.S1()).Type())] = true
	}
	var out []PieceKind
	for _, k := range KindOrder {
		if seen[k] {
			out = append(out, k)
		}
	}
	return out
}

// PieceKindAt reports the kind of the piece on the named square, if any.
func (b *Board) PieceKindAt(square string) (PieceKind, bool) {
	for sq, piece := range b.game.Position().Board().SquareMap() {
		if sq.String() == square {
			return kindOf(piece.Type()), true
		}
	}
	return "", false
}

// Apply plays the move given in UCI form. The move must be legal in the
// current position; otherwise ErrIllegalMove is returned and the position is
// left untouched.
func (b *Board) Apply(uci string) error {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if uci == "" {
		return ErrIllegalMove
	}
	pos := b.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return ErrIllegalMove
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := b.game.Move(mv, nil); err != nil {
		return ErrIllegalMove
	}
	b.movesUCI = append(b.movesUCI, uci)
	b.movesSAN = append(b.movesSAN, san)
	return nil
}

// LastMove returns the from/to squares of the most recent move for highlight
// rendering.
func (b *Board) LastMove() (from, to string, ok bool) {
	moves := b.game.Moves()
	if len(moves) == 0 {
		return "", "", false
	}
	mv := moves[len(moves)-1]
	return mv.S1().String(), mv.S2().String(), true
}

// TerminalStatus asks the rules engine whether the position ended the game.
// Every non-checkmate terminal condition besides stalemate is folded into
// StatusOtherDraw; the method string keeps the precise cause.
func (b *Board) TerminalStatus() Status {
	switch b.game.Outcome() {
	case nchess.WhiteWon:
		return Status{Kind: StatusCheckmate, Loser: Black, Method: methodString(b.game.Method())}
	case nchess.BlackWon:
		return Status{Kind: StatusCheckmate, Loser: White, Method: methodString(b.game.Method())}
	case nchess.Draw:
		if b.game.Method() == nchess.Stalemate {
			return Status{Kind: StatusStalemate, Method: "stalemate"}
		}
		return Status{Kind: StatusOtherDraw, Method: methodString(b.game.Method())}
	}
	return Status{Kind: StatusNone}
}

func methodString(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return "checkmate"
	case nchess.Stalemate:
		return "stalemate"
	case nchess.InsufficientMaterial:
		return "insufficient material"
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return "repetition"
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		return "fifty-move rule"
	case nchess.DrawOffer:
		return "agreement"
	case nchess.Resignation:
		return "resignation"
	}
	return "unknown"
}
