package history

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps turns in PostgreSQL. Ordering comes from the BIGSERIAL id.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages (user_id, id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, userID int64, role Role, content string) (Turn, error) {
	if !role.Valid() {
		return Turn{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	t := Turn{UserID: userID, Role: role, Content: content}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (user_id, role, content) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		userID, string(role), content,
	).Scan(&t.Seq, &t.CreatedAt)
	if err != nil {
		return Turn{}, fmt.Errorf("postgres append turn: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Recent(ctx context.Context, userID int64, limit int) ([]Turn, error) {
	return s.Before(ctx, userID, math.MaxInt64, limit)
}

func (s *PostgresStore) Before(ctx context.Context, userID int64, seq int64, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, created_at FROM messages
		 WHERE user_id = $1 AND id < $2
		 ORDER BY id DESC LIMIT $3`,
		userID, seq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres query turns: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, limit)
	for rows.Next() {
		t := Turn{UserID: userID}
		var role string
		if err := rows.Scan(&t.Seq, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres scan turn: %w", err)
		}
		t.Role = Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres iterate turns: %w", err)
	}

	reverse(turns)
	return turns, nil
}

func (s *PostgresStore) Count(ctx context.Context, userID int64) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE user_id = $1`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres count turns: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
