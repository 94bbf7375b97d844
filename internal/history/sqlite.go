package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/stupiduntilnot/chatrelay/internal/db"
)

// SQLiteStore keeps turns in the messages table of a SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// single writer; reads go straight to the pool
	mu sync.Mutex
}

// NewSQLiteStore opens the database at path and applies migrations.
// Use db.MemoryPath for a throwaway store.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	database, err := db.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		return nil, err
	}
	return &SQLiteStore{db: database}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, userID int64, role Role, content string) (Turn, error) {
	if !role.Valid() {
		return Turn{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		id        int64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (user_id, role, content) VALUES (?, ?, ?)
		 RETURNING id, created_at`,
		userID, string(role), content,
	).Scan(&id, &createdAt)
	if err != nil {
		return Turn{}, fmt.Errorf("sqlite append turn: %w", err)
	}
	return Turn{
		Seq:       id,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
	}, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, userID int64, limit int) ([]Turn, error) {
	return s.Before(ctx, userID, math.MaxInt64, limit)
}

func (s *SQLiteStore) Before(ctx context.Context, userID int64, seq int64, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages
		 WHERE user_id = ? AND id < ?
		 ORDER BY id DESC LIMIT ?`,
		userID, seq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite query turns: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, limit)
	for rows.Next() {
		var (
			t         Turn
			role      string
			createdAt int64
		)
		if err := rows.Scan(&t.Seq, &role, &t.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite scan turn: %w", err)
		}
		t.UserID = userID
		t.Role = Role(role)
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite iterate turns: %w", err)
	}

	reverse(turns)
	return turns, nil
}

func (s *SQLiteStore) Count(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE user_id = ?", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite count turns: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
