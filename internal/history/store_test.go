package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func backends(t *testing.T) map[string]storeFactory {
	t.Helper()
	out := map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "bot.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	if url := os.Getenv("CHATRELAY_TEST_DATABASE_URL"); url != "" {
		out["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), url)
			require.NoError(t, err)
			_, err = s.pool.Exec(context.Background(), `TRUNCATE messages`)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
	}
	return out
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestStore_AppendThenRecentIsVisible(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		turn, err := s.Append(ctx, 1, RoleUser, "hello")
		require.NoError(t, err)
		assert.Positive(t, turn.Seq)
		assert.Equal(t, int64(1), turn.UserID)

		got, err := s.Recent(ctx, 1, 50)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, turn.Seq, got[0].Seq)
		assert.Equal(t, RoleUser, got[0].Role)
		assert.Equal(t, "hello", got[0].Content)
	})
}

func TestStore_AppendedTurnMatchesStoredRow(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		turn, err := s.Append(ctx, 3, RoleAssistant, "Hi there!")
		require.NoError(t, err)
		require.False(t, turn.CreatedAt.IsZero())

		got, err := s.Recent(ctx, 3, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, turn.Seq, got[0].Seq)
		assert.True(t, turn.CreatedAt.Equal(got[0].CreatedAt),
			"appended created_at %s, stored %s", turn.CreatedAt, got[0].CreatedAt)
	})
}

func TestStore_RecentIsChronologicalAndBounded(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 1; i <= 6; i++ {
			role := RoleUser
			if i%2 == 0 {
				role = RoleAssistant
			}
			_, err := s.Append(ctx, 7, role, fmt.Sprintf("msg%d", i))
			require.NoError(t, err)
		}

		got, err := s.Recent(ctx, 7, 4)
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, []string{"msg3", "msg4", "msg5", "msg6"}, contents(got))
		for i := 1; i < len(got); i++ {
			assert.Less(t, got[i-1].Seq, got[i].Seq)
		}
	})
}

func TestStore_RecentIsolatesUsers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Append(ctx, 1, RoleUser, "alice")
		require.NoError(t, err)
		_, err = s.Append(ctx, 2, RoleUser, "bob")
		require.NoError(t, err)
		_, err = s.Append(ctx, 1, RoleAssistant, "to alice")
		require.NoError(t, err)

		got, err := s.Recent(ctx, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "to alice"}, contents(got))
		for _, turn := range got {
			assert.Equal(t, int64(1), turn.UserID)
		}

		empty, err := s.Recent(ctx, 999, 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestStore_NonPositiveLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Append(ctx, 1, RoleUser, "hello")
		require.NoError(t, err)

		got, err := s.Recent(ctx, 1, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestStore_BeforeExcludesCurrentTurn(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Append(ctx, 1, RoleUser, "q1")
		require.NoError(t, err)
		_, err = s.Append(ctx, 1, RoleAssistant, "a1")
		require.NoError(t, err)
		current, err := s.Append(ctx, 1, RoleUser, "q2")
		require.NoError(t, err)

		got, err := s.Before(ctx, 1, current.Seq, 50)
		require.NoError(t, err)
		assert.Equal(t, []string{"q1", "a1"}, contents(got))

		got, err = s.Before(ctx, 1, current.Seq, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a1"}, contents(got))
	})
}

func TestStore_RejectsInvalidRole(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.Append(context.Background(), 1, Role("system"), "nope")
		require.ErrorIs(t, err, ErrInvalidRole)

		n, err := s.Count(context.Background(), 1)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStore_ConcurrentAppendsAcrossUsers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const users, perUser = 4, 25

		var wg sync.WaitGroup
		for u := int64(1); u <= users; u++ {
			wg.Add(1)
			go func(userID int64) {
				defer wg.Done()
				for i := 0; i < perUser; i++ {
					_, err := s.Append(ctx, userID, RoleUser, fmt.Sprintf("u%d-%d", userID, i))
					assert.NoError(t, err)
				}
			}(u)
		}
		wg.Wait()

		for u := int64(1); u <= users; u++ {
			n, err := s.Count(ctx, u)
			require.NoError(t, err)
			assert.Equal(t, perUser, n)

			got, err := s.Recent(ctx, u, perUser)
			require.NoError(t, err)
			require.Len(t, got, perUser)
			for i, turn := range got {
				assert.Equal(t, fmt.Sprintf("u%d-%d", u, i), turn.Content)
			}
		}
	})
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")

	s, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	_, err = s.Append(ctx, 1, RoleUser, "hello")
	require.NoError(t, err)
	_, err = s.Append(ctx, 1, RoleAssistant, "Hi there!")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Recent(ctx, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "Hi there!"}, contents(got))
	assert.Equal(t, []Role{RoleUser, RoleAssistant}, []Role{got[0].Role, got[1].Role})
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Path: filepath.Join(t.TempDir(), "bot.db")})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)
}

func contents(turns []Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Content)
	}
	return out
}
