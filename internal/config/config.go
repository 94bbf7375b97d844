package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

var (
	// ErrMissing is returned when a required setting is absent.
	ErrMissing = errors.New("required setting missing")
	// ErrInvalid is returned for settings that cannot be used as given.
	ErrInvalid = errors.New("invalid setting")
)

const (
	CommanderTelegram = "telegram"
	CommanderDummy    = "dummy"

	ProviderOpenRouter = "openrouter"
	ProviderDummy      = "dummy"
)

// Config holds everything the bot process reads at startup.
type Config struct {
	BotToken             string
	TelegramAPIURL       string
	Commander            string
	DummyCommanderScript string
	DummySendScript      string
	PollTimeout          int
	PollSleep            time.Duration
	MaxConcurrency       int

	CompletionProvider  string
	OpenRouterAPIKey    string
	OpenRouterModel     string
	OpenRouterSiteURL   string
	OpenRouterSiteName  string
	CompletionURL       string
	CompletionTimeout   time.Duration
	DummyProviderScript string
	BreakerThreshold    int
	BreakerCooldown     time.Duration

	DBPath        string
	DatabaseURL   string
	PersonaPath   string
	PersonaWatch  bool
	HistoryWindow int

	MetricsAddr string
	Debug       bool
}

var defaults = map[string]any{
	"TELEGRAM_API_URL":       "https://api.telegram.org",
	"COMMANDER":              CommanderTelegram,
	"DUMMY_COMMANDER_SCRIPT": "ok",
	"DUMMY_SEND_SCRIPT":      "ok",
	"TG_TIMEOUT":             30,
	"TG_SLEEP_SECONDS":       1,
	"MAX_CONCURRENCY":        8,
	"COMPLETION_PROVIDER":    ProviderOpenRouter,
	"OPENROUTER_MODEL":       "openrouter/free",
	"COMPLETION_URL":         "https://openrouter.ai/api/v1/chat/completions",
	"COMPLETION_TIMEOUT":     "30s",
	"DUMMY_PROVIDER_SCRIPT":  "ok",
	"BREAKER_THRESHOLD":      5,
	"BREAKER_COOLDOWN":       "30s",
	"DB_PATH":                "bot.db",
	"PERSONA_PATH":           "training.txt",
	"PERSONA_WATCH":          false,
	"HISTORY_WINDOW":         50,
	"DEBUG":                  false,
	"BOT_TOKEN":              "",
	"OPENROUTER_API_KEY":     "",
	"OPENROUTER_SITE_URL":    "",
	"OPENROUTER_SITE_NAME":   "",
	"DATABASE_URL":           "",
	"METRICS_ADDR":           "",
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := gotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from the environment and, when configFile is
// set, from that file. Environment variables win over the file.
func Load(configFile string) (Config, error) {
	cfg, err := Read(configFile)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for tools that only touch the store.
func Read(configFile string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	completionTimeout, err := duration(v, "COMPLETION_TIMEOUT")
	if err != nil {
		return Config{}, err
	}
	breakerCooldown, err := duration(v, "BREAKER_COOLDOWN")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		BotToken:             strings.TrimSpace(v.GetString("BOT_TOKEN")),
		TelegramAPIURL:       strings.TrimRight(v.GetString("TELEGRAM_API_URL"), "/"),
		Commander:            strings.ToLower(v.GetString("COMMANDER")),
		DummyCommanderScript: v.GetString("DUMMY_COMMANDER_SCRIPT"),
		DummySendScript:      v.GetString("DUMMY_SEND_SCRIPT"),
		PollTimeout:          v.GetInt("TG_TIMEOUT"),
		PollSleep:            time.Duration(v.GetInt("TG_SLEEP_SECONDS")) * time.Second,
		MaxConcurrency:       v.GetInt("MAX_CONCURRENCY"),

		CompletionProvider:  strings.ToLower(v.GetString("COMPLETION_PROVIDER")),
		OpenRouterAPIKey:    strings.TrimSpace(v.GetString("OPENROUTER_API_KEY")),
		OpenRouterModel:     v.GetString("OPENROUTER_MODEL"),
		OpenRouterSiteURL:   v.GetString("OPENROUTER_SITE_URL"),
		OpenRouterSiteName:  v.GetString("OPENROUTER_SITE_NAME"),
		CompletionURL:       v.GetString("COMPLETION_URL"),
		CompletionTimeout:   completionTimeout,
		DummyProviderScript: v.GetString("DUMMY_PROVIDER_SCRIPT"),
		BreakerThreshold:    v.GetInt("BREAKER_THRESHOLD"),
		BreakerCooldown:     breakerCooldown,

		DBPath:        v.GetString("DB_PATH"),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		PersonaPath:   v.GetString("PERSONA_PATH"),
		PersonaWatch:  v.GetBool("PERSONA_WATCH"),
		HistoryWindow: v.GetInt("HISTORY_WINDOW"),

		MetricsAddr: v.GetString("METRICS_ADDR"),
		Debug:       v.GetBool("DEBUG"),
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Commander {
	case CommanderTelegram:
		if c.BotToken == "" {
			return fmt.Errorf("%w: BOT_TOKEN is required when COMMANDER=telegram", ErrMissing)
		}
	case CommanderDummy:
	default:
		return fmt.Errorf("%w: unsupported COMMANDER %q", ErrInvalid, c.Commander)
	}
	switch c.CompletionProvider {
	case ProviderOpenRouter:
		if c.OpenRouterAPIKey == "" {
			return fmt.Errorf("%w: OPENROUTER_API_KEY is required when COMPLETION_PROVIDER=openrouter", ErrMissing)
		}
	case ProviderDummy:
	default:
		return fmt.Errorf("%w: unsupported COMPLETION_PROVIDER %q", ErrInvalid, c.CompletionProvider)
	}
	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("%w: COMPLETION_TIMEOUT must be positive", ErrInvalid)
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("%w: HISTORY_WINDOW must be positive", ErrInvalid)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("%w: MAX_CONCURRENCY must be positive", ErrInvalid)
	}
	if c.PollTimeout < 0 {
		return fmt.Errorf("%w: TG_TIMEOUT must not be negative", ErrInvalid)
	}
	return nil
}

// duration accepts Go duration strings ("30s") or plain seconds ("30").
func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, raw, err)
	}
	return d, nil
}
