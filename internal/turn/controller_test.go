package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	nchess "github.com/corentings/chess/v2"

	"github.com/pawnstorm/chess-duel-bot/internal/archive"
	"github.com/pawnstorm/chess-duel-bot/internal/challenge"
	"github.com/pawnstorm/chess-duel-bot/internal/msgcat"
	"github.com/pawnstorm/chess-duel-bot/internal/render"
	"github.com/pawnstorm/chess-duel-bot/internal/session"
	"github.com/pawnstorm/chess-duel-bot/internal/stats"
	"github.com/pawnstorm/chess-duel-bot/internal/ui"
)

var (
	white    = session.Participant{ID: "u-white", Name: "Walter"}
	black    = session.Participant{ID: "u-black", Name: "Bella"}
	stranger = session.Participant{ID: "u-other", Name: "Oscar"}
)

type fakeMessage struct {
	room    string
	content string
	image   []byte
}

type fakePrompt struct {
	handle   ui.MessageHandle
	room     string
	targetID string
	prompt   string
	choices  []ui.Choice
}

type fakeSurface struct {
	mu       sync.Mutex
	seq      int
	messages []fakeMessage
	prompts  []fakePrompt
	disabled []ui.MessageHandle

	failAll     bool // every delivery fails
	failPrompts int  // fail the next N PresentChoices calls
}

func deliveryDown(op string) error {
	return &ui.DeliveryError{Op: op, Err: errors.New("bridge down")}
}

func (f *fakeSurface) ShowMessage(ctx context.Context, room, content string, image []byte) (ui.MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", deliveryDown("send_text")
	}
	f.seq++
	f.messages = append(f.messages, fakeMessage{room: room, content: content, image: image})
	return ui.MessageHandle(fmt.Sprintf("h-%d", f.seq)), nil
}

func (f *fakeSurface) PresentChoices(ctx context.Context, room, targetID, prompt string, choices []ui.Choice) (ui.MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", deliveryDown("send_text")
	}
	if f.failPrompts > 0 {
		f.failPrompts--
		return "", deliveryDown("send_text")
	}
	f.seq++
	h := ui.MessageHandle(fmt.Sprintf("h-%d", f.seq))
	f.prompts = append(f.prompts, fakePrompt{handle: h, room: room, targetID: targetID, prompt: prompt, choices: choices})
	return h, nil
}

func (f *fakeSurface) UpdateMessage(ctx context.Context, handle ui.MessageHandle, content string, image []byte, choices []ui.Choice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return deliveryDown("update")
	}
	f.messages = append(f.messages, fakeMessage{room: "", content: content, image: image})
	return nil
}

func (f *fakeSurface) DisableMessage(ctx context.Context, handle ui.MessageHandle, finalContent string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return deliveryDown("disable")
	}
	f.disabled = append(f.disabled, handle)
	return nil
}

func (f *fakeSurface) lastPrompt(t *testing.T) fakePrompt {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		t.Fatalf("no prompt presented")
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *fakeSurface) lastMessage(t *testing.T) fakeMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		t.Fatalf("no message shown")
	}
	return f.messages[len(f.messages)-1]
}

func (f *fakeSurface) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeRenderer struct{}

func (fakeRenderer) RenderPNG(ctx context.Context, board *nchess.Board, opts render.Options) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

type fakeArchiver struct {
	mu      sync.Mutex
	records []*archive.Record
}

func (f *fakeArchiver) SaveResult(ctx context.Context, rec *archive.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

type testEnv struct {
	ctrl    *Controller
	surface *fakeSurface
	reg     *session.Registry
	chal    *challenge.Manager
	ledger  *stats.Ledger
	arch    *fakeArchiver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	ledger, err := stats.NewLedger(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	t.Cleanup(func() { _ = ledger.Close() })
	catalog, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat.New: %v", err)
	}
	env := &testEnv{
		surface: &fakeSurface{},
		reg:     session.NewRegistry(),
		chal:    challenge.NewManager(),
		ledger:  ledger,
		arch:    &fakeArchiver{},
	}
	env.ctrl = NewController(Deps{
		Registry:   env.reg,
		Challenges: env.chal,
		Ledger:     env.ledger,
		Archive:    env.arch,
		Renderer:   fakeRenderer{},
		Surface:    env.surface,
		Catalog:    catalog,
	})
	return env
}

// choose answers the latest prompt with the given choice id on behalf of the
// actor.
func (e *testEnv) choose(t *testing.T, actor session.Participant, choiceID string) {
	t.Helper()
	p := e.surface.lastPrompt(t)
	e.ctrl.HandleSelection(context.Background(), ui.Selection{
		Handle:    p.handle,
		Room:      p.room,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		ChoiceID:  choiceID,
	})
}

func (e *testEnv) startGame(t *testing.T) *session.Session {
	t.Helper()
	ctx := context.Background()
	e.ctrl.Challenge(ctx, "room1", white, black)
	e.choose(t, black, "accept")
	s, ok := e.reg.Get(white.ID)
	if !ok {
		t.Fatalf("no session after accepted challenge")
	}
	return s
}

func choiceIDs(p fakePrompt) []string {
	ids := make([]string, 0, len(p.choices))
	for _, c := range p.choices {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestChallengeAcceptStartsGame(t *testing.T) {
	env := newTestEnv(t)
	env.ctrl.Challenge(context.Background(), "room1", white, black)

	inv := env.surface.lastPrompt(t)
	if inv.targetID != black.ID {
		t.Fatalf("invitation targeted %s", inv.targetID)
	}
	if got := choiceIDs(inv); len(got) != 2 || got[0] != "accept" || got[1] != "decline" {
		t.Fatalf("invitation choices = %v", got)
	}

	env.choose(t, black, "accept")
	s, ok := env.reg.Get(black.ID)
	if !ok {
		t.Fatalf("game not registered")
	}
	if s.White().ID != white.ID || s.Black().ID != black.ID {
		t.Fatalf("colors = %s/%s", s.White().ID, s.Black().ID)
	}

	piece := env.surface.lastPrompt(t)
	if piece.targetID != white.ID {
		t.Fatalf("first move prompt targeted %s", piece.targetID)
	}
	if got := choiceIDs(piece); len(got) != 2 || got[0] != "pawn" || got[1] != "knight" {
		t.Fatalf("opening piece choices = %v", got)
	}
}

func TestDeclineEndsInvitation(t *testing.T) {
	env := newTestEnv(t)
	env.ctrl.Challenge(context.Background(), "room1", white, black)
	env.choose(t, black, "decline")
	if env.reg.Count() != 0 {
		t.Fatalf("session created on decline")
	}
	if _, ok := env.chal.PendingFor(black.ID); ok {
		t.Fatalf("invitation still pending")
	}
	if !strings.Contains(env.surface.lastMessage(t).content, "declined") {
		t.Fatalf("message = %q", env.surface.lastMessage(t).content)
	}
}

func TestOnlyInviteeCanAnswer(t *testing.T) {
	env := newTestEnv(t)
	env.ctrl.Challenge(context.Background(), "room1", white, black)
	env.choose(t, white, "accept")
	env.choose(t, stranger, "accept")
	if env.reg.Count() != 0 {
		t.Fatalf("session created by non-invitee")
	}
	if _, ok := env.chal.PendingFor(black.ID); !ok {
		t.Fatalf("invitation lost to foreign answer")
	}
}

func TestChallengeWhileInGameRejected(t *testing.T) {
	env := newTestEnv(t)
	env.startGame(t)
	before := env.surface.promptCount()
	env.ctrl.Challenge(context.Background(), "room1", white, stranger)
	if env.surface.promptCount() != before {
		t.Fatalf("invitation presented for busy player")
	}
	if env.reg.Count() != 1 {
		t.Fatalf("registry count = %d", env.reg.Count())
	}
}

func TestTwoStepMoveFlow(t *testing.T) {
	env := newTestEnv(t)
	s := env.startGame(t)

	env.choose(t, white, "pawn")
	movePrompt := env.surface.lastPrompt(t)
	ids := choiceIDs(movePrompt)
	if len(ids) != 17 { // 16 pawn moves plus back
		t.Fatalf("move choices = %d: %v", len(ids), ids)
	}
	if ids[len(ids)-1] != "back" {
		t.Fatalf("last choice = %s, want back", ids[len(ids)-1])
	}
	found := false
	for _, c := range movePrompt.choices {
		if c.ID == "e2e4" {
			found = true
			if c.Label != "e2 -> e4" {
				t.Fatalf("move label = %q", c.Label)
			}
		}
	}
	if !found {
		t.Fatalf("e2e4 not offered: %v", ids)
	}

	env.choose(t, white, "e2e4")
	if s.Turn().ID != black.ID {
		t.Fatalf("turn = %s after white's move", s.Turn().ID)
	}
	next := env.surface.lastPrompt(t)
	if next.targetID != black.ID {
		t.Fatalf("next prompt targeted %s", next.targetID)
	}
}

func TestBackReturnsToPieceChoice(t *testing.T) {
	env := newTestEnv(t)
	s := env.startGame(t)
	env.choose(t, white, "knight")
	env.choose(t, white, "back")
	if s.Phase() != session.PhaseAwaitingPieceKind {
		t.Fatalf("phase = %v", s.Phase())
	}
	p := env.surface.lastPrompt(t)
	if got := choiceIDs(p); len(got) != 2 || got[0] != "pawn" {
		t.Fatalf("choices after back = %v", got)
	}
	if p.targetID != white.ID {
		t.Fatalf("turn moved on back")
	}
}

func TestOpponentSelectionIgnored(t *testing.T) {
	env := newTestEnv(t)
	s := env.startGame(t)
	before := env.surface.promptCount()
	env.choose(t, black, "pawn")
	env.choose(t, stranger, "pawn")
	if s.Phase() != session.PhaseAwaitingPieceKind {
		t.Fatalf("phase changed by foreign selection")
	}
	if env.surface.promptCount() != before {
		t.Fatalf("prompt re-presented on ignored selection")
	}
}

func TestDrawAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.startGame(t)
	env.ctrl.OfferDraw(context.Background(), "room1", white)

	p := env.surface.lastPrompt(t)
	if p.targetID != black.ID {
		t.Fatalf("draw prompt targeted %s", p.targetID)
	}
	env.choose(t, black, "accept_draw")

	if env.reg.Count() != 0 {
		t.Fatalf("session survived agreed draw")
	}
	for _, id := range []string{white.ID, black.ID} {
		ps, ok := env.ledger.Get(id)
		if !ok || ps.Draws != 1 || ps.GamesPlayed != 1 {
			t.Fatalf("%s stats = %+v %v", id, ps, ok)
		}
	}
	if len(env.arch.records) != 1 {
		t.Fatalf("archive records = %d", len(env.arch.records))
	}
	rec := env.arch.records[0]
	if rec.Result != "draw" || rec.Method != "agreement" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestDrawDeclinedResumes(t *testing.T) {
	env := newTestEnv(t)
	s := env.startGame(t)
	env.ctrl.OfferDraw(context.Background(), "room1", white)
	env.choose(t, black, "decline_draw")

	if env.reg.Count() != 1 {
		t.Fatalf("session ended on declined draw")
	}
	if s.Turn().ID != white.ID || s.Phase() != session.PhaseAwaitingPieceKind {
		t.Fatalf("state = %s/%v after decline", s.Turn().ID, s.Phase())
	}
	p := env.surface.lastPrompt(t)
	if p.targetID != white.ID {
		t.Fatalf("resumed prompt targeted %s", p.targetID)
	}
}

func TestOffTurnDrawRejected(t *testing.T) {
	env := newTestEnv(t)
	env.startGame(t)
	env.ctrl.OfferDraw(context.Background(), "room1", black)
	if !strings.Contains(env.surface.lastMessage(t).content, "not your turn") {
		t.Fatalf("message = %q", env.surface.lastMessage(t).content)
	}
}

func TestSurrender(t *testing.T) {
	env := newTestEnv(t)
	env.startGame(t)
	env.ctrl.Surrender(context.Background(), "room1", white)

	if env.reg.Count() != 0 {
		t.Fatalf("session survived surrender")
	}
	w, _ := env.ledger.Get(white.ID)
	b, _ := env.ledger.Get(black.ID)
	if w.Losses != 1 || b.Wins != 1 {
		t.Fatalf("stats = white %+v black %+v", w, b)
	}
	rec := env.arch.records[0]
	if rec.Result != "black" || rec.Method != "resignation" {
		t.Fatalf("record = %+v", rec)
	}
	if !strings.Contains(env.surface.lastMessage(t).content, "surrendered") {
		t.Fatalf("message = %q", env.surface.lastMessage(t).content)
	}
}

func TestCheckmateResolution(t *testing.T) {
	env := newTestEnv(t)
	env.startGame(t)

	// fool's mate, black delivers
	steps := []struct {
		actor session.Participant
		kind  string
		move  string
	}{
		{white, "pawn", "f2f3"},
		{black, "pawn", "e7e5"},
		{white, "pawn", "g2g4"},
		{black, "queen", "d8h4"},
	}
	for _, st := range steps {
		env.choose(t, st.actor, st.kind)
		env.choose(t, st.actor, st.move)
	}

	if env.reg.Count() != 0 {
		t.Fatalf("session survived checkmate")
	}
	b, _ := env.ledger.Get(black.ID)
	w, _ := env.ledger.Get(white.ID)
	if b.Wins != 1 || w.Losses != 1 {
		t.Fatalf("stats = white %+v black %+v", w, b)
	}
	rec := env.arch.records[0]
	if rec.Result != "black" || rec.Method != "checkmate" {
		t.Fatalf("record = %+v", rec)
	}
	if len(rec.MovesUCI) != 4 || rec.MovesSAN[3] != "Qh4#" {
		t.Fatalf("history = %v / %v", rec.MovesUCI, rec.MovesSAN)
	}
	if !strings.Contains(env.surface.lastMessage(t).content, "Checkmate") {
		t.Fatalf("message = %q", env.surface.lastMessage(t).content)
	}
}

func TestTerminationRunsOnce(t *testing.T) {
	env := newTestEnv(t)
	s := env.startGame(t)
	out, err := s.Surrender(white.ID)
	if err != nil {
		t.Fatalf("Surrender: %v", err)
	}
	env.ctrl.resolveTermination(context.Background(), s, out)
	env.ctrl.resolveTermination(context.Background(), s, out)

	b, _ := env.ledger.Get(black.ID)
	if b.Wins != 1 || b.GamesPlayed != 1 {
		t.Fatalf("duplicated resolution counted twice: %+v", b)
	}
	if len(env.arch.records) != 1 {
		t.Fatalf("archive records = %d", len(env.arch.records))
	}
}

func TestTerminationAppliedDespiteDeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.startGame(t)
	env.surface.failAll = true
	env.ctrl.Surrender(context.Background(), "room1", white)

	if env.reg.Count() != 0 {
		t.Fatalf("registry still holds the session")
	}
	w, _ := env.ledger.Get(white.ID)
	b, _ := env.ledger.Get(black.ID)
	if w.Losses != 1 || b.Wins != 1 {
		t.Fatalf("stats = white %+v black %+v", w, b)
	}
	if len(env.arch.records) != 1 {
		t.Fatalf("archive records = %d", len(env.arch.records))
	}
}

func TestDrawPromptRecreatedAfterDeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	s := env.startGame(t)
	env.surface.failPrompts = 1
	env.ctrl.OfferDraw(context.Background(), "room1", white)
	if s.Phase() != session.PhaseAwaitingDrawResponse {
		t.Fatalf("phase = %v", s.Phase())
	}

	before := env.surface.promptCount()
	env.ctrl.ShowBoard(context.Background(), "room1", white)
	if env.surface.promptCount() != before+1 {
		t.Fatalf("draw prompt not re-presented")
	}
	p := env.surface.lastPrompt(t)
	if p.targetID != black.ID {
		t.Fatalf("recreated prompt targeted %s", p.targetID)
	}
	env.choose(t, black, "accept_draw")
	if env.reg.Count() != 0 {
		t.Fatalf("session survived agreed draw")
	}
}

func TestMovePromptRecreatedAfterDeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	s := env.startGame(t)
	env.surface.failPrompts = 1
	env.choose(t, white, "knight")
	if s.Phase() != session.PhaseAwaitingMoveChoice {
		t.Fatalf("phase = %v", s.Phase())
	}

	env.ctrl.ShowBoard(context.Background(), "room1", white)
	p := env.surface.lastPrompt(t)
	if p.targetID != white.ID {
		t.Fatalf("recreated prompt targeted %s", p.targetID)
	}
	if got := choiceIDs(p); len(got) != 5 || got[len(got)-1] != "back" { // 4 knight moves plus back
		t.Fatalf("recreated move choices = %v", got)
	}
	env.choose(t, white, "g1f3")
	if s.Turn().ID != black.ID {
		t.Fatalf("turn = %s after recovered move", s.Turn().ID)
	}
}

func TestShowBoardRepresentsCurrentPrompt(t *testing.T) {
	env := newTestEnv(t)
	env.startGame(t)
	before := env.surface.promptCount()
	env.ctrl.ShowBoard(context.Background(), "room1", black)
	if env.surface.promptCount() != before+1 {
		t.Fatalf("board command did not re-present the prompt")
	}
	p := env.surface.lastPrompt(t)
	if p.targetID != white.ID {
		t.Fatalf("re-presented prompt targeted %s", p.targetID)
	}
	if got := choiceIDs(p); len(got) != 2 || got[0] != "pawn" {
		t.Fatalf("re-presented choices = %v", got)
	}
}

func TestStatsCommand(t *testing.T) {
	env := newTestEnv(t)
	env.ctrl.ShowStats(context.Background(), "room1", white)
	if !strings.Contains(env.surface.lastMessage(t).content, "no recorded games") {
		t.Fatalf("message = %q", env.surface.lastMessage(t).content)
	}

	env.startGame(t)
	env.ctrl.Surrender(context.Background(), "room1", white)
	env.ctrl.ShowStats(context.Background(), "room1", black)
	msg := env.surface.lastMessage(t).content
	if !strings.Contains(msg, "1 games") || !strings.Contains(msg, "1 wins") {
		t.Fatalf("stats line = %q", msg)
	}
}

func TestShowBoard(t *testing.T) {
	env := newTestEnv(t)
	env.ctrl.ShowBoard(context.Background(), "room1", white)
	if !strings.Contains(env.surface.lastMessage(t).content, "no game") {
		t.Fatalf("message = %q", env.surface.lastMessage(t).content)
	}
	env.startGame(t)
	env.ctrl.ShowBoard(context.Background(), "room1", white)
	if len(env.surface.lastMessage(t).image) == 0 {
		t.Fatalf("board message has no image")
	}
}
