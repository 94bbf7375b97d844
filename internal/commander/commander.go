package commander

import "context"

// Commander is the chat transport used by the bot loop.
type Commander interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	// SendTyping shows a best-effort "typing" indicator in the chat.
	SendTyping(ctx context.Context, chatID int64) error
}

// Update represents an incoming update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a source message. Text is nil for non-text messages.
type Message struct {
	MessageID int64   `json:"message_id"`
	From      *User   `json:"from,omitempty"`
	Chat      Chat    `json:"chat"`
	Text      *string `json:"text,omitempty"`
	Date      int64   `json:"date"`
}

// SenderID returns the sending user's identity, or the chat id when the
// sender is unknown (channel posts).
func (m *Message) SenderID() int64 {
	if m.From != nil {
		return m.From.ID
	}
	return m.Chat.ID
}

// User identifies the sender of a message.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}
