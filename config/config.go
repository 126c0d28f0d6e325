// Package config loads the signal bot's runtime configuration.
//
// Sources are applied in order: built-in defaults, an optional YAML file,
// an optional .env file, then environment variables. Credentials are only
// ever read from the file or the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// PathEnv names the variable consulted when no -config flag is given.
const PathEnv = "SIGNALBOT_CONFIG"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Session holds the trading session parameters, fixed for a run.
type Session struct {
	Symbol       string        `yaml:"symbol" split_words:"true"`
	Interval     string        `yaml:"interval" split_words:"true"`
	Limit        int           `yaml:"limit" split_words:"true"`
	TakeProfit   float64       `yaml:"take_profit" split_words:"true"`
	StopLoss     float64       `yaml:"stop_loss" split_words:"true"`
	PollInterval time.Duration `yaml:"poll_interval" split_words:"true"`
}

// Binance configures the public klines endpoint.
type Binance struct {
	BaseURL string        `yaml:"base_url" split_words:"true"`
	Timeout time.Duration `yaml:"timeout" split_words:"true"`
}

// Model points at the scaler and classifier artifacts.
type Model struct {
	ScalerPath     string `yaml:"scaler_path" split_words:"true"`
	ClassifierPath string `yaml:"classifier_path" split_words:"true"`
}

// Telegram configures the Bot API notifier. Empty token disables it.
type Telegram struct {
	BotToken string `yaml:"bot_token" split_words:"true"`
	ChatID   string `yaml:"chat_id" split_words:"true"`
	BaseURL  string `yaml:"base_url" split_words:"true"`
}

// Webhook configures the generic JSON webhook notifier. Empty URL disables it.
type Webhook struct {
	URL string `yaml:"url" split_words:"true"`
}

// Redis configures the event publisher. Empty Addr disables it.
type Redis struct {
	Addr     string `yaml:"addr" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`
	DB       int    `yaml:"db" split_words:"true"`
	Channel  string `yaml:"channel" split_words:"true"`
	Stream   string `yaml:"stream" split_words:"true"`
	// StreamMaxLen caps the event stream (approximate trimming).
	StreamMaxLen int64 `yaml:"stream_max_len" split_words:"true"`
}

// SQLite configures the event journal and candle archive. Empty Path disables it.
type SQLite struct {
	Path           string `yaml:"path" split_words:"true"`
	ArchiveCandles bool   `yaml:"archive_candles" split_words:"true"`
}

// HTTP configures the metrics/health/websocket server. Empty Addr disables it.
type HTTP struct {
	Addr string `yaml:"addr" split_words:"true"`
}

// Log configures the slog handler.
type Log struct {
	Level string `yaml:"level" split_words:"true"`
}

// Trace configures OpenTelemetry span export.
type Trace struct {
	Enabled bool `yaml:"enabled" split_words:"true"`
}

// Config holds all application configuration.
type Config struct {
	Session  Session  `yaml:"session"`
	Binance  Binance  `yaml:"binance"`
	Model    Model    `yaml:"model"`
	Telegram Telegram `yaml:"telegram"`
	Webhook  Webhook  `yaml:"webhook"`
	Redis    Redis    `yaml:"redis"`
	SQLite   SQLite   `yaml:"sqlite"`
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Trace    Trace    `yaml:"trace"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Session: Session{
			Symbol:       "APTUSDT",
			Interval:     "1h",
			Limit:        1000,
			TakeProfit:   0.02,
			StopLoss:     0.02,
			PollInterval: 60 * time.Second,
		},
		Binance: Binance{
			BaseURL: "https://api.binance.com",
			Timeout: 10 * time.Second,
		},
		Model: Model{
			ScalerPath:     "models/scaler.json",
			ClassifierPath: "models/classifier.json",
		},
		Telegram: Telegram{BaseURL: "https://api.telegram.org"},
		Redis: Redis{
			Channel:      "signalbot:events",
			Stream:       "signalbot:events",
			StreamMaxLen: 10000,
		},
		SQLite: SQLite{Path: "data/signalbot.db"},
		HTTP:   HTTP{Addr: ":9090"},
		Log:    Log{Level: "info"},
	}
}

// ResolvePath picks the config file path: the flag value if set, else $SIGNALBOT_CONFIG.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(PathEnv)
}

// Load builds the configuration. path may be empty (no YAML file). The .env
// file in the working directory is optional.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.readYAML(path); err != nil {
			return nil, err
		}
	}

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	cfg.Session.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Session.Symbol))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readYAML(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// Validate checks the session invariants.
func (c *Config) Validate() error {
	var problems []string
	if c.Session.Symbol == "" {
		problems = append(problems, "session.symbol is empty")
	}
	if !(c.Session.TakeProfit > 0) {
		problems = append(problems, fmt.Sprintf("session.take_profit must be > 0, got %v", c.Session.TakeProfit))
	}
	if !(c.Session.StopLoss > 0) {
		problems = append(problems, fmt.Sprintf("session.stop_loss must be > 0, got %v", c.Session.StopLoss))
	}
	if c.Session.PollInterval <= 0 {
		problems = append(problems, fmt.Sprintf("session.poll_interval must be > 0, got %s", c.Session.PollInterval))
	}
	if c.Session.Limit <= 200 {
		problems = append(problems, fmt.Sprintf("session.limit must be > 200, got %d", c.Session.Limit))
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		problems = append(problems, "telegram.chat_id is required when bot_token is set")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
