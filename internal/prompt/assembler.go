// Package prompt assembles the message sequence sent to the completion
// service: persona, the user's recent history, then the new user turn.
package prompt

import (
	"context"
	"fmt"

	"github.com/stupiduntilnot/chatrelay/internal/history"
)

// DefaultWindow is the number of prior turns included per request.
const DefaultWindow = 50

// PersonaSource supplies the system prompt.
type PersonaSource interface {
	Load() string
}

// WindowSource reads the turns that precede a given turn.
type WindowSource interface {
	Before(ctx context.Context, userID int64, seq int64, limit int) ([]history.Turn, error)
}

// Assembler builds request message sequences.
type Assembler struct {
	Persona PersonaSource
	History WindowSource
	Window  int
}

func NewAssembler(persona PersonaSource, store WindowSource, window int) *Assembler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Assembler{Persona: persona, History: store, Window: window}
}

// Build returns [system:persona] + window + [user:current.Content].
//
// current must already be persisted; the window holds only turns stored
// strictly before it, so the new text appears exactly once.
func (a *Assembler) Build(ctx context.Context, current history.Turn) ([]Message, error) {
	window, err := a.History.Before(ctx, current.UserID, current.Seq, a.Window)
	if err != nil {
		return nil, fmt.Errorf("load conversation window: %w", err)
	}
	return Assemble(a.Persona.Load(), window, current.Content), nil
}

// Assemble builds the final message list: system + history + user.
func Assemble(system string, window []history.Turn, userMsg string) []Message {
	messages := make([]Message, 0, 1+len(window)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: system})
	for _, t := range window {
		messages = append(messages, Message{Role: string(t.Role), Content: t.Content})
	}
	messages = append(messages, Message{Role: RoleUser, Content: userMsg})
	return messages
}
