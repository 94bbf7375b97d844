package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/chatrelay/internal/bot"
	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	"github.com/stupiduntilnot/chatrelay/internal/config"
	"github.com/stupiduntilnot/chatrelay/internal/control"
	"github.com/stupiduntilnot/chatrelay/internal/dummy"
	"github.com/stupiduntilnot/chatrelay/internal/history"
	"github.com/stupiduntilnot/chatrelay/internal/logger"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/observability"
	"github.com/stupiduntilnot/chatrelay/internal/openrouter"
	"github.com/stupiduntilnot/chatrelay/internal/persona"
	"github.com/stupiduntilnot/chatrelay/internal/prompt"
	"github.com/stupiduntilnot/chatrelay/internal/relay"
	"github.com/stupiduntilnot/chatrelay/internal/telegram"
)

const metricsNamespace = "chatrelay"

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), flags)
		},
	}
}

func runBot(parent context.Context, flags *rootFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return err
	}
	log := logger.NewLogger(cfg.Debug || flags.debug)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(ctx, history.Options{DatabaseURL: cfg.DatabaseURL, Path: cfg.DBPath})
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	commander, err := newCommander(&cfg)
	if err != nil {
		return err
	}
	completer, err := newModelProvider(&cfg)
	if err != nil {
		return err
	}

	loader := persona.NewLoader(cfg.PersonaPath)
	if cfg.PersonaWatch {
		go func() {
			if err := loader.Watch(ctx, log); err != nil {
				log.Warn("persona watch stopped", zap.Error(err))
			}
		}()
	}

	metrics := observability.NewMetrics(metricsNamespace)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           observability.Router(metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	r := relay.New(relay.Options{
		Store:             store,
		Builder:           prompt.NewAssembler(loader, store, cfg.HistoryWindow),
		Completer:         completer,
		Typing:            commander,
		Breaker:           control.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		Metrics:           metrics,
		Logger:            log,
		CompletionTimeout: cfg.CompletionTimeout,
	})
	runner := bot.NewRunner(commander, r, bot.Options{
		PollTimeout:    cfg.PollTimeout,
		Sleep:          cfg.PollSleep,
		MaxConcurrency: cfg.MaxConcurrency,
	}, metrics, log)

	log.Info("chatrelay running",
		zap.String("commander", cfg.Commander),
		zap.String("provider", cfg.CompletionProvider),
		zap.String("model", cfg.OpenRouterModel),
		zap.String("site_name", cfg.OpenRouterSiteName),
		zap.String("site_url", cfg.OpenRouterSiteURL),
		zap.Bool("api_key_set", cfg.OpenRouterAPIKey != ""),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Int("history_window", cfg.HistoryWindow),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
	)
	if err := runner.Run(ctx); err != nil {
		return err
	}
	log.Info("chatrelay stopped")
	return nil
}

func newCommander(cfg *config.Config) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case config.CommanderTelegram:
		return telegram.NewClient(telegram.APIBase(cfg.TelegramAPIURL, cfg.BotToken), time.Duration(cfg.PollTimeout+20)*time.Second), nil
	case config.CommanderDummy:
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func newModelProvider(cfg *config.Config) (modelpkg.Completer, error) {
	switch cfg.CompletionProvider {
	case config.ProviderOpenRouter:
		return openrouter.NewClient(openrouter.Options{
			APIKey:   cfg.OpenRouterAPIKey,
			URL:      cfg.CompletionURL,
			Model:    cfg.OpenRouterModel,
			SiteURL:  cfg.OpenRouterSiteURL,
			SiteName: cfg.OpenRouterSiteName,
			Timeout:  cfg.CompletionTimeout,
		}), nil
	case config.ProviderDummy:
		return dummy.NewProvider(cfg.OpenRouterModel, cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.CompletionProvider)
	}
}
