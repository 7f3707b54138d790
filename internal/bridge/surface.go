package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pawnstorm/chess-duel-bot/internal/obslog"
	"github.com/pawnstorm/chess-duel-bot/internal/ui"
)

// Egress abstracts the outbound side so the surface can be tested without a
// live bridge.
type Egress interface {
	SendText(ctx context.Context, room, message string) error
	SendImage(ctx context.Context, room, imageBase64 string) error
}

// Surface implements ui.Surface over a text chat bridge. The platform has no
// native buttons and no message editing, so choices are rendered as a
// numbered list and answered by typing the number; updating a message means
// sending a new one under the same logical handle.
type Surface struct {
	egress Egress

	mu      sync.Mutex
	handler ui.SelectionHandler
	// one pending prompt per room+target, so concurrent games in the same
	// room keep separate prompts; replaced whenever a new prompt is
	// presented for that target
	byTarget   map[promptKey]*pendingPrompt
	byHandle   map[ui.MessageHandle]*pendingPrompt
	handleRoom map[ui.MessageHandle]string
}

type promptKey struct {
	room     string
	targetID string
}

type pendingPrompt struct {
	handle   ui.MessageHandle
	room     string
	targetID string
	byIndex  map[string]string // "1" -> choice id
	byID     map[string]string // lowercased choice id -> choice id
}

func NewSurface(egress Egress) *Surface {
	return &Surface{
		egress:     egress,
		byTarget:   make(map[promptKey]*pendingPrompt),
		byHandle:   make(map[ui.MessageHandle]*pendingPrompt),
		handleRoom: make(map[ui.MessageHandle]string),
	}
}

// SetSelectionHandler registers the receiver for answered prompts.
func (s *Surface) SetSelectionHandler(h ui.SelectionHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Surface) ShowMessage(ctx context.Context, room, content string, image []byte) (ui.MessageHandle, error) {
	handle := ui.MessageHandle(uuid.NewString())
	if err := s.deliver(ctx, room, content, image); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.handleRoom[handle] = room
	s.mu.Unlock()
	return handle, nil
}

func (s *Surface) PresentChoices(ctx context.Context, room, targetID, prompt string, choices []ui.Choice) (ui.MessageHandle, error) {
	handle := ui.MessageHandle(uuid.NewString())
	text := renderChoices(prompt, choices)
	if err := s.deliver(ctx, room, text, nil); err != nil {
		return "", err
	}
	s.register(handle, room, targetID, choices)
	return handle, nil
}

func (s *Surface) UpdateMessage(ctx context.Context, handle ui.MessageHandle, content string, image []byte, choices []ui.Choice) error {
	s.mu.Lock()
	prev, ok := s.byHandle[handle]
	room := s.handleRoom[handle]
	s.mu.Unlock()
	targetID := ""
	if ok {
		room = prev.room
		targetID = prev.targetID
	}
	if room == "" {
		return &ui.DeliveryError{Op: "update", Err: fmt.Errorf("unknown handle %s", handle)}
	}
	text := content
	if len(choices) > 0 {
		text = renderChoices(content, choices)
	}
	if err := s.deliver(ctx, room, text, image); err != nil {
		return err
	}
	if len(choices) > 0 {
		s.register(handle, room, targetID, choices)
	} else {
		// keep the handle routable for further updates
		s.clearPrompt(handle)
	}
	return nil
}

func (s *Surface) DisableMessage(ctx context.Context, handle ui.MessageHandle, finalContent string) error {
	s.mu.Lock()
	prev, ok := s.byHandle[handle]
	s.mu.Unlock()
	s.unregister(handle)
	if !ok {
		// Nothing interactive to tear down; still show the final text if we
		// can't route it there is nothing to do.
		return nil
	}
	if strings.TrimSpace(finalContent) == "" {
		return nil
	}
	return s.deliver(ctx, prev.room, finalContent, nil)
}

// HandleInbound routes a chat message to the sender's pending prompt in that
// room. Returns true when the message was consumed as a selection. Messages
// from anyone but the prompt's target never match, and the prompt stays
// registered until replaced or disabled, so a stray reply cannot burn it.
func (s *Surface) HandleInbound(ctx context.Context, msg *Message) bool {
	if msg == nil {
		return false
	}
	text := strings.ToLower(strings.TrimSpace(msg.Text))
	if text == "" {
		return false
	}
	s.mu.Lock()
	p, ok := s.byTarget[promptKey{room: msg.Room, targetID: msg.SenderID}]
	handler := s.handler
	s.mu.Unlock()
	if !ok || handler == nil {
		return false
	}
	choiceID, ok := p.byIndex[text]
	if !ok {
		choiceID, ok = p.byID[text]
	}
	if !ok {
		return false
	}
	handler(ctx, ui.Selection{
		Handle:    p.handle,
		Room:      msg.Room,
		ActorID:   msg.SenderID,
		ActorName: msg.SenderName,
		ChoiceID:  choiceID,
	})
	return true
}

func (s *Surface) register(handle ui.MessageHandle, room, targetID string, choices []ui.Choice) {
	p := &pendingPrompt{
		handle:   handle,
		room:     room,
		targetID: targetID,
		byIndex:  make(map[string]string, len(choices)),
		byID:     make(map[string]string, len(choices)),
	}
	for i, c := range choices {
		p.byIndex[fmt.Sprintf("%d", i+1)] = c.ID
		p.byID[strings.ToLower(c.ID)] = c.ID
	}
	key := promptKey{room: room, targetID: targetID}
	s.mu.Lock()
	if prev, ok := s.byTarget[key]; ok {
		delete(s.byHandle, prev.handle)
		delete(s.handleRoom, prev.handle)
	}
	s.byTarget[key] = p
	s.byHandle[handle] = p
	s.handleRoom[handle] = room
	s.mu.Unlock()
}

func (s *Surface) clearPrompt(handle ui.MessageHandle) {
	s.mu.Lock()
	if p, ok := s.byHandle[handle]; ok {
		delete(s.byHandle, handle)
		key := promptKey{room: p.room, targetID: p.targetID}
		if cur, ok := s.byTarget[key]; ok && cur.handle == handle {
			delete(s.byTarget, key)
		}
	}
	s.mu.Unlock()
}

func (s *Surface) unregister(handle ui.MessageHandle) {
	s.clearPrompt(handle)
	s.mu.Lock()
	delete(s.handleRoom, handle)
	s.mu.Unlock()
}

func (s *Surface) deliver(ctx context.Context, room, content string, image []byte) error {
	if strings.TrimSpace(content) != "" {
		if err := s.egress.SendText(ctx, room, content); err != nil {
			obslog.L().Warn("bridge_send_text_error", zap.String("room", room), zap.Error(err))
			return &ui.DeliveryError{Op: "send_text", Err: err}
		}
	}
	if len(image) > 0 {
		b64 := base64.StdEncoding.EncodeToString(image)
		if err := s.egress.SendImage(ctx, room, b64); err != nil {
			obslog.L().Warn("bridge_send_image_error", zap.String("room", room), zap.Error(err))
			return &ui.DeliveryError{Op: "send_image", Err: err}
		}
	}
	return nil
}

func renderChoices(prompt string, choices []ui.Choice) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(prompt))
	for i, c := range choices {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, c.Label))
	}
	return b.String()
}
