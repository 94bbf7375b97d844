package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/chatrelay/internal/config"
	"github.com/stupiduntilnot/chatrelay/internal/history"
)

const historyLongDesc = `Print the most recent stored turns of one user, oldest first.

Examples:
  chatrelay history --user 12345
  chatrelay history --user 12345 --limit 10`

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	var (
		userID int64
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a user's conversation window",
		Long:  historyLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(flags.configFile)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = cfg.HistoryWindow
			}
			store, err := history.Open(cmd.Context(), history.Options{DatabaseURL: cfg.DatabaseURL, Path: cfg.DBPath})
			if err != nil {
				return fmt.Errorf("open history store: %w", err)
			}
			defer store.Close()
			return printHistory(cmd.Context(), cmd.OutOrStdout(), store, userID, limit)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id (required)")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of turns (default HISTORY_WINDOW)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printHistory(ctx context.Context, w io.Writer, store history.Store, userID int64, limit int) error {
	turns, err := store.Recent(ctx, userID, limit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	total, err := store.Count(ctx, userID)
	if err != nil {
		return fmt.Errorf("count history: %w", err)
	}
	fmt.Fprintf(w, "user %d: showing %d of %d turns\n", userID, len(turns), total)
	for _, t := range turns {
		fmt.Fprintf(w, "%6d  %s  %-9s  %s\n",
			t.Seq,
			t.CreatedAt.UTC().Format(time.RFC3339),
			t.Role,
			strings.ReplaceAll(t.Content, "\n", " "),
		)
	}
	return nil
}
