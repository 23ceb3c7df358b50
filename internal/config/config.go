package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradedesk.
type Config struct {
	Storage Storage      `yaml:"storage"`
	Server  Server       `yaml:"server"`
	Alpaca  Alpaca       `yaml:"alpaca"`
	Polygon Polygon      `yaml:"polygon"`
	Market  MarketConfig `yaml:"market"`
	Ledger  LedgerConfig `yaml:"ledger"`
	Notify  NotifyConfig `yaml:"notify"`
	Engine  EngineConfig `yaml:"engine"`
	Logging Logging      `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the primary market data source.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Polygon configures the fallback market data source.
type Polygon struct {
	APIKey string `yaml:"api_key"`
	// Plan is "free" (previous close, rate limited) or "paid" (snapshots).
	Plan            string `yaml:"plan"`
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// MarketConfig selects and tunes the quote sources.
type MarketConfig struct {
	// Primary and Fallback are one of "alpaca", "polygon", "simulated".
	Primary       string        `yaml:"primary"`
	Fallback      string        `yaml:"fallback"`
	SourceTimeout time.Duration `yaml:"source_timeout"`
	RunWhenClosed bool          `yaml:"run_when_closed"`
	// SimulatedPrices seeds the simulated source.
	SimulatedPrices map[string]string `yaml:"simulated_prices"`
}

// LedgerConfig describes the account served by this instance.
type LedgerConfig struct {
	AccountID   string `yaml:"account_id"`
	InitialCash string `yaml:"initial_cash"`
	// RemoteAddr, when set, makes the orchestrator talk to a ledger over
	// gRPC instead of the embedded one.
	RemoteAddr string `yaml:"remote_addr"`
}

// NotifyConfig configures outcome delivery.
type NotifyConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	Telegram   Telegram      `yaml:"telegram"`
	Kafka      Kafka         `yaml:"kafka"`
}

// Telegram holds bot credentials.
type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	BaseURL  string `yaml:"base_url"`
}

// Kafka configures the trade event publisher.
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// EngineConfig holds per-stage timeouts for the orchestrator. The quote
// stage covers both market sources, so QuoteTimeout must leave room for
// two market.source_timeout attempts.
type EngineConfig struct {
	QuoteTimeout   time.Duration `yaml:"quote_timeout"`
	SettleTimeout  time.Duration `yaml:"settle_timeout"`
	NotifyTimeout  time.Duration `yaml:"notify_timeout"`
	JournalTimeout time.Duration `yaml:"journal_timeout"`
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when a field is not set.
func Default() *Config {
	return &Config{
		Storage: Storage{DataDir: "data", SQLitePath: "data/tradedesk.db"},
		Server:  Server{Host: "127.0.0.1", Port: 8080, GRPCPort: 9090},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			DataURL: "https://data.alpaca.markets",
		},
		Polygon: Polygon{Plan: "free", BaseURL: "https://api.polygon.io", RateLimitPerMin: 5},
		Market:  MarketConfig{Primary: "alpaca", Fallback: "polygon", SourceTimeout: 5 * time.Second},
		Ledger:  LedgerConfig{AccountID: "default", InitialCash: "10000"},
		Notify:  NotifyConfig{MaxRetries: 2, Backoff: 500 * time.Millisecond, Kafka: Kafka{Topic: "tradedesk.trades"}},
		Engine: EngineConfig{
			QuoteTimeout:   15 * time.Second,
			SettleTimeout:  5 * time.Second,
			NotifyTimeout:  10 * time.Second,
			JournalTimeout: 5 * time.Second,
		},
		Logging: Logging{Level: "info", Format: "json", MaxSizeMB: 50, MaxBackups: 3},
	}
}

// Load reads the YAML configuration file at the given path on top of the
// defaults and then applies environment variable overrides. A .env file in
// the working directory is loaded first; existing variables win. A missing
// config file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
			}
		}
	}

	setString(&cfg.Storage.DataDir, "DATA_DIR")
	setString(&cfg.Storage.SQLitePath, "SQLITE_PATH")
	setString(&cfg.Alpaca.APIKey, "ALPACA_API_KEY", "APCA_API_KEY_ID")
	setString(&cfg.Alpaca.APISecret, "ALPACA_API_SECRET", "APCA_API_SECRET_KEY")
	setString(&cfg.Alpaca.BaseURL, "ALPACA_BASE_URL")
	setString(&cfg.Alpaca.DataURL, "ALPACA_DATA_URL")
	setString(&cfg.Polygon.APIKey, "POLYGON_API_KEY")
	setString(&cfg.Polygon.Plan, "POLYGON_PLAN")
	setString(&cfg.Ledger.AccountID, "ACCOUNT_ID")
	setString(&cfg.Ledger.RemoteAddr, "LEDGER_ADDR")
	setString(&cfg.Notify.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Notify.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&cfg.Logging.Level, "LOG_LEVEL")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Notify.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RUN_EVEN_WHEN_MARKET_IS_CLOSED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Market.RunWhenClosed = b
		}
	}
}
