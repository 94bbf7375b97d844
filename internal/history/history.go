// Package history is the append-only log of conversation turns, keyed by
// user identity.
package history

import (
	"context"
	"errors"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the store accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ErrInvalidRole is returned by Append for roles other than user and assistant.
var ErrInvalidRole = errors.New("history: invalid role")

// Turn is one immutable message in a user's conversation. Seq is assigned by
// the store and is monotonic across the whole store.
type Turn struct {
	Seq       int64
	UserID    int64
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Store persists turns. Implementations serialize their own writes and are
// safe for concurrent use.
type Store interface {
	// Append durably records one turn and returns it with its sequence number.
	Append(ctx context.Context, userID int64, role Role, content string) (Turn, error)

	// Recent returns up to limit most recent turns of userID, oldest first.
	Recent(ctx context.Context, userID int64, limit int) ([]Turn, error)

	// Before is Recent restricted to turns with Seq < seq.
	Before(ctx context.Context, userID int64, seq int64, limit int) ([]Turn, error)

	// Count returns the number of turns stored for userID.
	Count(ctx context.Context, userID int64) (int, error)

	Close() error
}

func reverse(turns []Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
