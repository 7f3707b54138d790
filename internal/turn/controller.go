package turn

import (
	"context"
	"errors"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/pawnstorm/chess-duel-bot/internal/archive"
	"github.com/pawnstorm/chess-duel-bot/internal/board"
	"github.com/pawnstorm/chess-duel-bot/internal/challenge"
	"github.com/pawnstorm/chess-duel-bot/internal/msgcat"
	"github.com/pawnstorm/chess-duel-bot/internal/obslog"
	"github.com/pawnstorm/chess-duel-bot/internal/render"
	"github.com/pawnstorm/chess-duel-bot/internal/session"
	"github.com/pawnstorm/chess-duel-bot/internal/stats"
	"github.com/pawnstorm/chess-duel-bot/internal/ui"
)

// Archiver persists finished games. Satisfied by *archive.Repository; nil
// disables archival.
type Archiver interface {
	SaveResult(ctx context.Context, rec *archive.Record) error
}

type Deps struct {
	Registry   *session.Registry
	Challenges *challenge.Manager
	Ledger     *stats.Ledger
	Archive    Archiver
	Renderer   render.BoardRenderer
	Surface    ui.Surface
	Catalog    *msgcat.Catalog
}

// Controller drives games from player input: it turns commands and choice
// selections into session transitions, keeps the live prompt per game, and
// resolves terminations exactly once. Selections reference actions by choice
// id through a per-prompt table, so a stale or foreign selection simply finds
// no action.
type Controller struct {
	deps Deps

	mu      sync.Mutex
	prompts map[ui.MessageHandle]*promptTable
	byOwner map[string]ui.MessageHandle // session id / invitation id -> live prompt
}

type actionKind int

const (
	actAcceptInvite actionKind = iota
	actDeclineInvite
	actPickKind
	actPickMove
	actBack
	actAcceptDraw
	actDeclineDraw
)

type action struct {
	kind      actionKind
	sess      *session.Session
	inv       *challenge.Invitation
	pieceKind board.PieceKind
	moveUCI   string
}

type promptTable struct {
	owner   string
	actions map[string]action
}

func NewController(deps Deps) *Controller {
	return &Controller{
		deps:    deps,
		prompts: make(map[ui.MessageHandle]*promptTable),
		byOwner: make(map[string]ui.MessageHandle),
	}
}

// Challenge opens an invitation from inviter to invitee and presents the
// accept/decline choice.
func (c *Controller) Challenge(ctx context.Context, room string, inviter, invitee session.Participant) {
	if _, busy := c.deps.Registry.Get(inviter.ID); busy {
		c.say(ctx, room, "challenge.already_in_game", nil)
		return
	}
	if _, busy := c.deps.Registry.Get(invitee.ID); busy {
		c.say(ctx, room, "challenge.already_in_game", nil)
		return
	}
	inv, err := c.deps.Challenges.Invite(room, inviter, invitee)
	if err != nil {
		c.say(ctx, room, challengeErrKey(err), nil)
		return
	}
	obslog.L().Info("invitation_created",
		zap.String("room", room),
		zap.String("inviter", inviter.ID),
		zap.String("invitee", invitee.ID))
	prompt := c.text("challenge.invited", map[string]string{
		"Inviter": inviter.Name,
		"Invitee": invitee.Name,
	})
	choices := []ui.Choice{
		{ID: "accept", Label: c.text("choice.accept", nil)},
		{ID: "decline", Label: c.text("choice.decline", nil)},
	}
	h, err := c.deps.Surface.PresentChoices(ctx, room, invitee.ID, prompt, choices)
	if err != nil {
		obslog.L().Warn("invitation_prompt_error", zap.String("room", room), zap.Error(err))
		return
	}
	c.setPrompt(inv.ID, h, map[string]action{
		"accept":  {kind: actAcceptInvite, inv: inv},
		"decline": {kind: actDeclineInvite, inv: inv},
	})
}

// Accept resolves the responder's pending invitation and starts the game.
func (c *Controller) Accept(ctx context.Context, room string, responder session.Participant) {
	c.acceptInvitation(ctx, room, responder)
}

// Decline resolves the responder's pending invitation without a game.
func (c *Controller) Decline(ctx context.Context, room string, responder session.Participant) {
	inv, err := c.deps.Challenges.Decline(responder.ID)
	if err != nil {
		c.say(ctx, room, challengeErrKey(err), nil)
		return
	}
	c.dropPromptFor(ctx, inv.ID)
	c.say(ctx, inv.Room, "challenge.declined", map[string]string{"Invitee": inv.Invitee.Name})
}

func (c *Controller) acceptInvitation(ctx context.Context, room string, responder session.Participant) {
	inv, err := c.deps.Challenges.Accept(responder.ID)
	if err != nil {
		c.say(ctx, room, challengeErrKey(err), nil)
		return
	}
	c.dropPromptFor(ctx, inv.ID)
	c.say(ctx, inv.Room, "challenge.accepted", map[string]string{"Invitee": inv.Invitee.Name})
	c.startGame(ctx, inv)
}

// startGame creates the session with the inviter as white, shows the opening
// board and asks white for a piece kind.
func (c *Controller) startGame(ctx context.Context, inv *challenge.Invitation) {
	s, err := c.deps.Registry.TryCreate(inv.Room, inv.Inviter, inv.Invitee, board.New())
	if err != nil {
		c.say(ctx, inv.Room, "challenge.already_in_game", nil)
		return
	}
	obslog.L().Info("game_started",
		zap.String("game_id", s.ID()),
		zap.String("room", s.Room()),
		zap.String("white", s.White().ID),
		zap.String("black", s.Black().ID))
	text := c.text("duel.started", map[string]string{
		"White": s.White().Name,
		"Black": s.Black().Name,
	})
	c.showBoard(ctx, s, text)
	c.promptPieceKinds(ctx, s)
}

// HandleSelection is the surface's selection callback.
func (c *Controller) HandleSelection(ctx context.Context, sel ui.Selection) {
	c.mu.Lock()
	pt, ok := c.prompts[sel.Handle]
	var act action
	if ok {
		act, ok = pt.actions[sel.ChoiceID]
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	switch act.kind {
	case actAcceptInvite:
		if sel.ActorID != act.inv.Invitee.ID {
			return
		}
		c.acceptInvitation(ctx, sel.Room, act.inv.Invitee)
	case actDeclineInvite:
		if sel.ActorID != act.inv.Invitee.ID {
			return
		}
		c.Decline(ctx, sel.Room, act.inv.Invitee)
	case actPickKind:
		c.handlePickKind(ctx, sel, act)
	case actPickMove:
		c.handlePickMove(ctx, sel, act)
	case actBack:
		if err := act.sess.CancelPieceKind(sel.ActorID); err != nil {
			return
		}
		c.promptPieceKinds(ctx, act.sess)
	case actAcceptDraw:
		c.handleDrawResponse(ctx, sel, act, true)
	case actDeclineDraw:
		c.handleDrawResponse(ctx, sel, act, false)
	}
}

func (c *Controller) handlePickKind(ctx context.Context, sel ui.Selection, act action) {
	s := act.sess
	moves, err := s.SelectPieceKind(sel.ActorID, act.pieceKind)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNoLegalMovesForKind):
		c.say(ctx, s.Room(), "duel.no_moves_for_kind", nil)
		c.promptPieceKinds(ctx, s)
		return
	default:
		// wrong actor or stale prompt; the prompt stays live for the
		// turn-holder
		return
	}
	c.promptMoves(ctx, s, moves)
}

func (c *Controller) handlePickMove(ctx context.Context, sel ui.Selection, act action) {
	s := act.sess
	out, err := s.ApplyMove(sel.ActorID, act.moveUCI)
	switch {
	case err == nil:
	case errors.Is(err, board.ErrIllegalMove):
		obslog.L().Error("move_apply_illegal",
			zap.String("game_id", s.ID()),
			zap.String("uci", act.moveUCI))
		c.say(ctx, s.Room(), "duel.internal_error", nil)
		_ = s.CancelPieceKind(sel.ActorID)
		c.promptPieceKinds(ctx, s)
		return
	default:
		return
	}
	obslog.L().Info("move_applied",
		zap.String("game_id", s.ID()),
		zap.String("uci", act.moveUCI),
		zap.String("player", sel.ActorID))
	if out != nil {
		c.resolveTermination(ctx, s, out)
		return
	}
	mover := s.ParticipantByID(sel.ActorID)
	san := lastSAN(s)
	c.showBoard(ctx, s, c.text("duel.moved", map[string]string{"Player": mover.Name, "Move": san}))
	c.promptPieceKinds(ctx, s)
}

func (c *Controller) handleDrawResponse(ctx context.Context, sel ui.Selection, act action, accept bool) {
	s := act.sess
	out, err := s.RespondDraw(sel.ActorID, accept)
	if err != nil {
		return
	}
	if out != nil {
		c.resolveTermination(ctx, s, out)
		return
	}
	offeror := s.Turn()
	responder := s.ParticipantByID(sel.ActorID)
	c.say(ctx, s.Room(), "duel.draw_declined", map[string]string{
		"Responder": responder.Name,
		"Offeror":   offeror.Name,
	})
	c.promptPieceKinds(ctx, s)
}

// OfferDraw handles the turn-holder's draw command and prompts the opponent.
func (c *Controller) OfferDraw(ctx context.Context, room string, actor session.Participant) {
	s, ok := c.deps.Registry.Get(actor.ID)
	if !ok {
		c.say(ctx, room, "duel.not_in_game", nil)
		return
	}
	if err := s.OfferDraw(actor.ID); err != nil {
		c.say(ctx, room, sessionErrKey(err), nil)
		return
	}
	c.dropPromptFor(ctx, s.ID())
	c.promptDrawResponse(ctx, s)
}

// promptDrawResponse presents the accept/decline choice to the non-offering
// player.
func (c *Controller) promptDrawResponse(ctx context.Context, s *session.Session) {
	offeror, ok := s.DrawOfferor()
	if !ok {
		return
	}
	opp, _ := s.Opponent(offeror.ID)
	prompt := c.text("duel.draw_offer", map[string]string{
		"Offeror":   offeror.Name,
		"Responder": opp.Name,
	})
	choices := []ui.Choice{
		{ID: "accept_draw", Label: c.text("choice.accept_draw", nil)},
		{ID: "decline_draw", Label: c.text("choice.decline_draw", nil)},
	}
	h, err := c.deps.Surface.PresentChoices(ctx, s.Room(), opp.ID, prompt, choices)
	if err != nil {
		obslog.L().Warn("draw_prompt_error", zap.String("game_id", s.ID()), zap.Error(err))
		return
	}
	c.setPrompt(s.ID(), h, map[string]action{
		"accept_draw":  {kind: actAcceptDraw, sess: s},
		"decline_draw": {kind: actDeclineDraw, sess: s},
	})
}

// Surrender ends the actor's game with a loss.
func (c *Controller) Surrender(ctx context.Context, room string, actor session.Participant) {
	s, ok := c.deps.Registry.Get(actor.ID)
	if !ok {
		c.say(ctx, room, "duel.not_in_game", nil)
		return
	}
	out, err := s.Surrender(actor.ID)
	if err != nil {
		c.say(ctx, room, sessionErrKey(err), nil)
		return
	}
	c.resolveTermination(ctx, s, out)
}

// ShowBoard re-renders the actor's current position as a standalone message.
func (c *Controller) ShowBoard(ctx context.Context, room string, actor session.Participant) {
	s, ok := c.deps.Registry.Get(actor.ID)
	if !ok {
		c.say(ctx, room, "duel.not_in_game", nil)
		return
	}
	png, err := c.renderBoard(ctx, s)
	if err != nil {
		obslog.L().Warn("board_render_error", zap.String("game_id", s.ID()), zap.Error(err))
		return
	}
	if _, err := c.deps.Surface.ShowMessage(ctx, room, "", png); err != nil {
		obslog.L().Warn("board_show_error", zap.String("game_id", s.ID()), zap.Error(err))
	}
	// a failed prompt delivery leaves the session waiting with nothing to
	// answer; re-present the prompt for the current phase
	c.dropPromptFor(ctx, s.ID())
	c.repromptCurrent(ctx, s)
}

// repromptCurrent re-presents the prompt matching the session's current phase.
func (c *Controller) repromptCurrent(ctx context.Context, s *session.Session) {
	switch s.Phase() {
	case session.PhaseAwaitingPieceKind:
		c.promptPieceKinds(ctx, s)
	case session.PhaseAwaitingMoveChoice:
		c.promptMoves(ctx, s, s.Board().LegalMoves(s.PendingKind()))
	case session.PhaseAwaitingDrawResponse:
		c.promptDrawResponse(ctx, s)
	}
}

// ShowStats reports the actor's cumulative record.
func (c *Controller) ShowStats(ctx context.Context, room string, actor session.Participant) {
	ps, ok := c.deps.Ledger.Get(actor.ID)
	if !ok {
		c.say(ctx, room, "stats.none", map[string]string{"Player": actor.Name})
		return
	}
	c.say(ctx, room, "stats.line", map[string]any{
		"Player": actor.Name,
		"Games":  ps.GamesPlayed,
		"Wins":   ps.Wins,
		"Losses": ps.Losses,
		"Draws":  ps.Draws,
	})
}

// resolveTermination finalizes a just-terminated session. Registry membership
// is the idempotence gate; removal happens last so a duplicated event re-enters
// here and stops at the gate only after every side effect ran.
func (c *Controller) resolveTermination(ctx context.Context, s *session.Session, out *session.Outcome) {
	if !c.deps.Registry.Has(s) {
		return
	}
	c.dropPromptFor(ctx, s.ID())
	c.showBoard(ctx, s, c.outcomeText(s, out))

	if out.Kind == session.OutcomeDraw {
		c.deps.Ledger.RecordDraw(s.White().ID, s.Black().ID)
	} else {
		c.deps.Ledger.RecordWinLoss(out.Winner.ID, out.Loser.ID)
	}
	if err := c.deps.Ledger.Save(ctx); err != nil {
		obslog.L().Error("stats_save_error", zap.String("game_id", s.ID()), zap.Error(err))
	}

	if c.deps.Archive != nil {
		if err := c.deps.Archive.SaveResult(ctx, c.archiveRecord(s, out)); err != nil {
			obslog.L().Error("archive_save_error", zap.String("game_id", s.ID()), zap.Error(err))
		}
	}

	c.deps.Registry.Remove(s)
	obslog.L().Info("game_terminated",
		zap.String("game_id", s.ID()),
		zap.String("method", out.Method),
		zap.String("winner", out.Winner.ID))
}

func (c *Controller) archiveRecord(s *session.Session, out *session.Outcome) *archive.Record {
	result := "draw"
	if out.Kind != session.OutcomeDraw {
		if color, ok := s.ColorOf(out.Winner.ID); ok {
			result = string(color)
		}
	}
	b := s.Board()
	return &archive.Record{
		GameID:    s.ID(),
		Room:      s.Room(),
		WhiteID:   s.White().ID,
		WhiteName: s.White().Name,
		BlackID:   s.Black().ID,
		BlackName: s.Black().Name,
		Result:    result,
		Method:    out.Method,
		MovesUCI:  b.MovesUCI(),
		MovesSAN:  b.MovesSAN(),
		StartedAt: s.StartedAt(),
		EndedAt:   time.Now(),
	}
}

func (c *Controller) outcomeText(s *session.Session, out *session.Outcome) string {
	switch out.Kind {
	case session.OutcomeCheckmate:
		return c.text("duel.checkmate", map[string]string{
			"Winner": out.Winner.Name,
			"Move":   lastSAN(s),
		})
	case session.OutcomeSurrender:
		return c.text("duel.surrender", map[string]string{
			"Loser":  out.Loser.Name,
			"Winner": out.Winner.Name,
		})
	}
	names := map[string]string{"White": s.White().Name, "Black": s.Black().Name}
	switch out.Method {
	case "stalemate":
		return c.text("duel.stalemate", names)
	case "agreement":
		return c.text("duel.draw_agreed", names)
	}
	return c.text("duel.draw", map[string]string{
		"Method": out.Method,
		"White":  s.White().Name,
		"Black":  s.Black().Name,
	})
}

// promptPieceKinds presents the piece-kind choice to the turn-holder. Kinds
// without a legal move are not offered.
func (c *Controller) promptPieceKinds(ctx context.Context, s *session.Session) {
	turn := s.Turn()
	kinds := s.Board().KindsWithMoves()
	choices := make([]ui.Choice, 0, len(kinds))
	actions := make(map[string]action, len(kinds))
	for _, k := range kinds {
		choices = append(choices, ui.Choice{ID: k.String(), Label: k.Label()})
		actions[k.String()] = action{kind: actPickKind, sess: s, pieceKind: k}
	}
	prompt := c.text("duel.prompt_piece", map[string]string{"Player": turn.Name})
	h, err := c.deps.Surface.PresentChoices(ctx, s.Room(), turn.ID, prompt, choices)
	if err != nil {
		obslog.L().Warn("piece_prompt_error", zap.String("game_id", s.ID()), zap.Error(err))
		return
	}
	c.setPrompt(s.ID(), h, actions)
}

// promptMoves presents every legal move of the selected kind, labeled
// "from -> to", plus a way back to the kind choice.
func (c *Controller) promptMoves(ctx context.Context, s *session.Session, moves []board.Move) {
	turn := s.Turn()
	choices := make([]ui.Choice, 0, len(moves)+1)
	actions := make(map[string]action, len(moves)+1)
	for _, m := range moves {
		choices = append(choices, ui.Choice{ID: m.UCI, Label: m.Label()})
		actions[m.UCI] = action{kind: actPickMove, sess: s, moveUCI: m.UCI}
	}
	choices = append(choices, ui.Choice{ID: "back", Label: c.text("choice.back", nil)})
	actions["back"] = action{kind: actBack, sess: s}
	prompt := c.text("duel.prompt_move", map[string]string{"Player": turn.Name})
	h, err := c.deps.Surface.PresentChoices(ctx, s.Room(), turn.ID, prompt, choices)
	if err != nil {
		obslog.L().Warn("move_prompt_error", zap.String("game_id", s.ID()), zap.Error(err))
		return
	}
	c.setPrompt(s.ID(), h, actions)
}

// showBoard renders the position and updates the session's live board message,
// creating it on first use.
func (c *Controller) showBoard(ctx context.Context, s *session.Session, text string) {
	png, err := c.renderBoard(ctx, s)
	if err != nil {
		obslog.L().Warn("board_render_error", zap.String("game_id", s.ID()), zap.Error(err))
		png = nil
	}
	if h := s.Handle(); h != "" {
		if err := c.deps.Surface.UpdateMessage(ctx, h, text, png, nil); err == nil {
			return
		}
		// fall through to a fresh message when the handle went stale
	}
	h, err := c.deps.Surface.ShowMessage(ctx, s.Room(), text, png)
	if err != nil {
		obslog.L().Warn("board_show_error", zap.String("game_id", s.ID()), zap.Error(err))
		return
	}
	s.SetHandle(h)
}

func (c *Controller) renderBoard(ctx context.Context, s *session.Session) ([]byte, error) {
	var opts render.Options
	if from, to, ok := s.Board().LastMove(); ok {
		f, fok := parseSquare(from)
		t, tok := parseSquare(to)
		if fok && tok {
			opts.Highlight = &render.MoveHighlight{From: f, To: t}
		}
	}
	return c.deps.Renderer.RenderPNG(ctx, s.Board().Position(), opts)
}

func (c *Controller) setPrompt(owner string, h ui.MessageHandle, actions map[string]action) {
	c.mu.Lock()
	if prev, ok := c.byOwner[owner]; ok {
		delete(c.prompts, prev)
	}
	c.byOwner[owner] = h
	c.prompts[h] = &promptTable{owner: owner, actions: actions}
	c.mu.Unlock()
}

// dropPromptFor invalidates and visually disables the owner's live prompt.
func (c *Controller) dropPromptFor(ctx context.Context, owner string) {
	c.mu.Lock()
	h, ok := c.byOwner[owner]
	if ok {
		delete(c.byOwner, owner)
		delete(c.prompts, h)
	}
	c.mu.Unlock()
	if ok {
		_ = c.deps.Surface.DisableMessage(ctx, h, "")
	}
}

func (c *Controller) say(ctx context.Context, room, key string, data any) {
	if _, err := c.deps.Surface.ShowMessage(ctx, room, c.text(key, data), nil); err != nil {
		obslog.L().Warn("message_send_error", zap.String("room", room), zap.String("key", key), zap.Error(err))
	}
}

func (c *Controller) text(key string, data any) string {
	return c.deps.Catalog.MustRender(key, data, key)
}

func challengeErrKey(err error) string {
	switch {
	case errors.Is(err, challenge.ErrSelfChallenge):
		return "challenge.self_invite"
	case errors.Is(err, challenge.ErrAlreadyPending):
		return "challenge.already_pending"
	case errors.Is(err, challenge.ErrNotInvited):
		return "challenge.not_invited"
	case errors.Is(err, challenge.ErrNoPending):
		return "challenge.no_pending"
	}
	return "duel.invalid_action"
}

func sessionErrKey(err error) string {
	switch {
	case errors.Is(err, session.ErrNotYourTurn):
		return "duel.not_your_turn"
	case errors.Is(err, session.ErrTerminated):
		return "duel.not_in_game"
	}
	return "duel.invalid_action"
}

func lastSAN(s *session.Session) string {
	san := s.Board().MovesSAN()
	if len(san) == 0 {
		return ""
	}
	return san[len(san)-1]
}

func parseSquare(name string) (nchess.Square, bool) {
	var zero nchess.Square
	if len(name) != 2 {
		return zero, false
	}
	f := int(name[0] - 'a')
	r := int(name[1] - '1')
	if f < 0 || f > 7 || r < 0 || r > 7 {
		return zero, false
	}
	return nchess.NewSquare(nchess.File(f), nchess.Rank(r)), true
}
