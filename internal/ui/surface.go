package ui

import (
	"context"
	"errors"
	"fmt"
)

// MessageHandle identifies the single live message a game session keeps
// updating. The concrete surface decides what a handle maps to.
type MessageHandle string

// Choice is one selectable option presented to a player.
type Choice struct {
	ID    string
	Label string
}

// Selection is a player's answer to a presented prompt. Actor is whoever
// responded, not necessarily the player the prompt targeted; the receiver
// must validate.
type Selection struct {
	Handle    MessageHandle
	Room      string
	ActorID   string
	ActorName string
	ChoiceID  string
}

// SelectionHandler receives asynchronous choice deliveries.
type SelectionHandler func(ctx context.Context, sel Selection)

// Surface is the chat platform seen from the game core: present labeled
// choices to a player, show or update content in a room, and finalize a
// message into a non-interactive state. All calls may fail transiently with
// a *DeliveryError.
type Surface interface {
	ShowMessage(ctx context.Context, room, content string, image []byte) (MessageHandle, error)
	PresentChoices(ctx context.Context, room, targetID, prompt string, choices []Choice) (MessageHandle, error)
	UpdateMessage(ctx context.Context, handle MessageHandle, content string, image []byte, choices []Choice) error
	DisableMessage(ctx context.Context, handle MessageHandle, finalContent string) error
}

// DeliveryError wraps a transient failure to reach the chat platform.
type DeliveryError struct {
	Op  string
	Err error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("delivery %s: %v", e.Op, e.Err) }
func (e *DeliveryError) Unwrap() error { return e.Err }

// IsDelivery reports whether err is a surface delivery failure.
func IsDelivery(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
