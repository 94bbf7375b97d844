package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/chatrelay/internal/config"
	"github.com/stupiduntilnot/chatrelay/internal/dummy"
	"github.com/stupiduntilnot/chatrelay/internal/history"
	"github.com/stupiduntilnot/chatrelay/internal/openrouter"
	"github.com/stupiduntilnot/chatrelay/internal/telegram"
)

func dummyEnv(t *testing.T, pollScript string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "bot.db")
	t.Setenv("COMMANDER", "dummy")
	t.Setenv("COMPLETION_PROVIDER", "dummy")
	t.Setenv("DUMMY_COMMANDER_SCRIPT", pollScript)
	t.Setenv("DUMMY_PROVIDER_SCRIPT", "msg:hey there")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PERSONA_PATH", filepath.Join(t.TempDir(), "training.txt"))
	t.Setenv("TG_SLEEP_SECONDS", "0")
	t.Setenv("METRICS_ADDR", "")
	return dbPath
}

func TestNewCommander(t *testing.T) {
	c, err := newCommander(&config.Config{Commander: config.CommanderTelegram, TelegramAPIURL: "http://x", BotToken: "t"})
	require.NoError(t, err)
	assert.IsType(t, &telegram.Client{}, c)

	c, err = newCommander(&config.Config{Commander: config.CommanderDummy, DummyCommanderScript: "ok"})
	require.NoError(t, err)
	assert.IsType(t, &dummy.Commander{}, c)

	_, err = newCommander(&config.Config{Commander: "irc"})
	assert.Error(t, err)
}

func TestNewCommander_TelegramUsesTokenBase(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
	}))
	defer srv.Close()

	c, err := newCommander(&config.Config{Commander: config.CommanderTelegram, TelegramAPIURL: srv.URL, BotToken: "123:abc"})
	require.NoError(t, err)
	_, err = c.GetUpdates(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "/bot123:abc/getUpdates", gotPath)
}

func TestNewModelProvider(t *testing.T) {
	p, err := newModelProvider(&config.Config{CompletionProvider: config.ProviderOpenRouter, OpenRouterAPIKey: "k"})
	require.NoError(t, err)
	client, ok := p.(*openrouter.Client)
	require.True(t, ok)
	assert.Equal(t, openrouter.DefaultModel, client.Model())

	p, err = newModelProvider(&config.Config{CompletionProvider: config.ProviderDummy, DummyProviderScript: "boom"})
	assert.Error(t, err, "invalid dummy script")
	assert.Nil(t, p)

	_, err = newModelProvider(&config.Config{CompletionProvider: "local"})
	assert.Error(t, err)
}

func TestRunBot_DummyRoundTrip(t *testing.T) {
	dbPath := dummyEnv(t, "msg:hello,sleep:20")

	ctx, cancel := context.WithTimeout(context.Background(), 750*time.Millisecond)
	defer cancel()
	require.NoError(t, runBot(ctx, &rootFlags{}))

	store, err := history.NewSQLiteStore(context.Background(), dbPath)
	require.NoError(t, err)
	defer store.Close()

	turns, err := store.Recent(context.Background(), dummy.UserID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, "hey there", turns[1].Content)
}

func TestRunBot_MissingCredentials(t *testing.T) {
	t.Setenv("COMMANDER", "telegram")
	t.Setenv("BOT_TOKEN", "")
	err := runBot(context.Background(), &rootFlags{})
	require.ErrorIs(t, err, config.ErrMissing)
}

func TestHistoryCommand(t *testing.T) {
	dbPath := dummyEnv(t, "ok")
	store, err := history.NewSQLiteStore(context.Background(), dbPath)
	require.NoError(t, err)
	for i, text := range []string{"hello", "Hi there!", "how are you?\nreally", "great"} {
		role := history.RoleUser
		if i%2 == 1 {
			role = history.RoleAssistant
		}
		_, err := store.Append(context.Background(), 42, role, text)
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"history", "--user", "42", "--limit", "3"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "user 42: showing 3 of 4 turns", lines[0])
	assert.Contains(t, lines[1], "assistant")
	assert.Contains(t, lines[1], "Hi there!")
	assert.Contains(t, lines[2], "how are you? really")
	assert.Contains(t, lines[3], "great")
}

func TestHistoryCommand_RequiresUser(t *testing.T) {
	dummyEnv(t, "ok")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"history"})
	assert.Error(t, cmd.Execute())
}
