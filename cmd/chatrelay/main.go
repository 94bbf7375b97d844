package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/chatrelay/internal/config"
)

const rootLongDesc = `chatrelay relays Telegram chats to an OpenAI-compatible completion
service, keeping a per-user conversation history.

Configuration is read from the environment (a .env file in the working
directory is loaded first) and optionally from --config.`

type rootFlags struct {
	configFile string
	envFile    string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Telegram to LLM conversational relay",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.LoadDotEnv(flags.envFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), flags)
		},
	}
	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newHistoryCmd(flags))
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
