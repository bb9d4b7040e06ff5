package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the signal bot
type Config struct {
	BinanceConfig  BinanceConfig  `json:"binance"`
	TelegramConfig TelegramConfig `json:"telegram"`
	TradingConfig  TradingConfig  `json:"trading"`
	AnalysisConfig AnalysisConfig `json:"analysis"`
	PipelineConfig PipelineConfig `json:"pipeline"`
	AIConfig       AIConfig       `json:"ai"`
	CircuitConfig  CircuitConfig  `json:"circuit_breaker"`
	RedisConfig    RedisConfig    `json:"redis"`
	DatabaseConfig DatabaseConfig `json:"database"`
	ServerConfig   ServerConfig   `json:"server"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	VaultConfig    VaultConfig    `json:"vault"`
}

// BinanceConfig holds USDT-M futures credentials
type BinanceConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	TestNet   bool   `json:"testnet"`
}

// TelegramConfig holds bot credentials and chat routing
type TelegramConfig struct {
	Enabled        bool    `json:"enabled"`
	BotToken       string  `json:"bot_token"`
	NotifyChatID   int64   `json:"notify_chat_id"`
	SourceChatIDs  []int64 `json:"source_chat_ids"`
	OperatorIDs    []int64 `json:"operator_ids"`
	SelfMarker     string  `json:"self_marker"`
	PollTimeoutSec int     `json:"poll_timeout_sec"`
}

// TradingConfig holds execution policy
type TradingConfig struct {
	Enabled          bool    `json:"enabled"`
	DryRun           bool    `json:"dry_run"` // fill orders against a paper gateway
	EntryThreshold   int     `json:"entry_threshold"`
	NotifyThreshold  int     `json:"notify_threshold"`
	NearMissFloor    int     `json:"near_miss_floor"`
	MaxDailyTrades   int     `json:"max_daily_trades"`
	MaxOpenPositions int     `json:"max_open_positions"`
	TargetUSD        float64 `json:"target_usd"`
	MaxLeverage      int     `json:"max_leverage"`
	DefaultLeverage  int     `json:"default_leverage"`
	StopLossUSD      float64 `json:"stop_loss_usd"`
	TakeProfitUSD    float64 `json:"take_profit_usd"`
	FallbackQuantity float64 `json:"fallback_quantity"`
	QuoteAsset       string  `json:"quote_asset"`
}

// AnalysisConfig holds the heuristic thresholds used by the analysis engine
type AnalysisConfig struct {
	HighVolume      float64 `json:"high_volume"`
	VeryHighVolume  float64 `json:"very_high_volume"`
	ExtremeVolume   float64 `json:"extreme_volume"`
	MinLiquidity    float64 `json:"min_liquidity"`
	StableChangePct float64 `json:"stable_change_pct"`
	LargeMovePct    float64 `json:"large_move_pct"`
	MomentumMovePct float64 `json:"momentum_move_pct"`
	RoundNumberPct  float64 `json:"round_number_pct"`
	FibonacciBonus  int     `json:"fibonacci_bonus"`
}

// PipelineConfig holds message pipeline pacing
type PipelineConfig struct {
	RateLimitSeconds         int `json:"rate_limit_seconds"`
	DedupClearMinutes        int `json:"dedup_clear_minutes"`
	DedupPrefixLength        int `json:"dedup_prefix_length"`
	CallTimeoutSeconds       int `json:"call_timeout_seconds"`
	ReconcileIntervalMinutes int `json:"reconcile_interval_minutes"`
	QueueSize                int `json:"queue_size"`
}

// AIConfig holds the optional second-opinion validator settings
type AIConfig struct {
	Enabled        bool    `json:"enabled"`
	Provider       string  `json:"provider"`
	BaseURL        string  `json:"base_url"`
	APIKey         string  `json:"api_key"`
	Model          string  `json:"model"`
	MinConfidence  int     `json:"min_confidence"`
	MaxPerHour     int     `json:"max_per_hour"`
	MaxRetries     int     `json:"max_retries"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	Temperature    float64 `json:"temperature"`
}

// CircuitConfig holds order placement circuit breaker settings
type CircuitConfig struct {
	Enabled             bool `json:"enabled"`
	MaxConsecutiveFails int  `json:"max_consecutive_fails"`
	CooldownMinutes     int  `json:"cooldown_minutes"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// DatabaseConfig holds PostgreSQL settings for the journal
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// ServerConfig holds operator HTTP API settings
type ServerConfig struct {
	Enabled          bool   `json:"enabled"`
	Host             string `json:"host"`
	Port             int    `json:"port"`
	AllowedOrigins   string `json:"allowed_origins"`
	JWTSecret        string `json:"jwt_secret"`
	TokenTTLMinutes  int    `json:"token_ttl_minutes"`
	OperatorUser     string `json:"operator_user"`
	OperatorPassHash string `json:"operator_pass_hash"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// VaultConfig holds HashiCorp Vault secret lookup settings
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// Default returns the configuration used when no file or environment is present
func Default() *Config {
	return &Config{
		TelegramConfig: TelegramConfig{
			SelfMarker:     "SIGNAL BOT - ANALYSIS",
			PollTimeoutSec: 30,
		},
		TradingConfig: TradingConfig{
			Enabled:          false,
			DryRun:           true,
			EntryThreshold:   80,
			NotifyThreshold:  70,
			NearMissFloor:    70,
			MaxDailyTrades:   10,
			MaxOpenPositions: 3,
			TargetUSD:        0.80,
			MaxLeverage:      15,
			DefaultLeverage:  15,
			StopLossUSD:      0.50,
			TakeProfitUSD:    1.00,
			FallbackQuantity: 0.001,
			QuoteAsset:       "USDT",
		},
		AnalysisConfig: AnalysisConfig{
			HighVolume:      1_000_000,
			VeryHighVolume:  5_000_000,
			ExtremeVolume:   10_000_000,
			MinLiquidity:    500_000,
			StableChangePct: 2,
			LargeMovePct:    3,
			MomentumMovePct: 5,
			RoundNumberPct:  5,
			FibonacciBonus:  10,
		},
		PipelineConfig: PipelineConfig{
			RateLimitSeconds:   10,
			DedupClearMinutes:  60,
			DedupPrefixLength:  50,
			CallTimeoutSeconds: 10,
			QueueSize:          100,
		},
		AIConfig: AIConfig{
			Provider:       "groq",
			BaseURL:        "https://api.groq.com/openai/v1",
			Model:          "llama-3.1-8b-instant",
			MinConfidence:  70,
			MaxPerHour:     50,
			MaxRetries:     3,
			TimeoutSeconds: 15,
			Temperature:    0.1,
		},
		CircuitConfig: CircuitConfig{
			Enabled:             true,
			MaxConsecutiveFails: 3,
			CooldownMinutes:     30,
		},
		RedisConfig: RedisConfig{
			Address:   "localhost:6379",
			KeyPrefix: "signalbot:",
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "signalbot",
			Database: "signalbot",
			SSLMode:  "disable",
		},
		ServerConfig: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			AllowedOrigins:  "*",
			TokenTTLMinutes: 720,
			OperatorUser:    "admin",
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		VaultConfig: VaultConfig{
			MountPath:  "secret",
			SecretPath: "signalbot",
		},
	}
}

// Load reads .env, the JSON config file and environment overrides, in that order of precedence
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	path := getEnvOrDefault("CONFIG_FILE", "config.json")
	if err := loadFromFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Binance
	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.BinanceConfig.APIKey)
	cfg.BinanceConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.BinanceConfig.SecretKey)
	cfg.BinanceConfig.TestNet = getEnvBoolOrDefault("BINANCE_TESTNET", cfg.BinanceConfig.TestNet)

	// Telegram
	cfg.TelegramConfig.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.TelegramConfig.Enabled)
	cfg.TelegramConfig.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.TelegramConfig.BotToken)
	cfg.TelegramConfig.NotifyChatID = getEnvInt64OrDefault("TELEGRAM_NOTIFY_CHAT_ID", cfg.TelegramConfig.NotifyChatID)
	cfg.TelegramConfig.SourceChatIDs = getEnvInt64ListOrDefault("TELEGRAM_SOURCE_CHAT_IDS", cfg.TelegramConfig.SourceChatIDs)
	cfg.TelegramConfig.OperatorIDs = getEnvInt64ListOrDefault("TELEGRAM_OPERATOR_IDS", cfg.TelegramConfig.OperatorIDs)

	// Trading policy
	cfg.TradingConfig.Enabled = getEnvBoolOrDefault("TRADING_ENABLED", cfg.TradingConfig.Enabled)
	cfg.TradingConfig.DryRun = getEnvBoolOrDefault("TRADING_DRY_RUN", cfg.TradingConfig.DryRun)
	cfg.TradingConfig.EntryThreshold = getEnvIntOrDefault("TRADING_ENTRY_THRESHOLD", cfg.TradingConfig.EntryThreshold)
	cfg.TradingConfig.NotifyThreshold = getEnvIntOrDefault("TRADING_NOTIFY_THRESHOLD", cfg.TradingConfig.NotifyThreshold)
	cfg.TradingConfig.MaxDailyTrades = getEnvIntOrDefault("TRADING_MAX_DAILY_TRADES", cfg.TradingConfig.MaxDailyTrades)
	cfg.TradingConfig.MaxOpenPositions = getEnvIntOrDefault("TRADING_MAX_OPEN_POSITIONS", cfg.TradingConfig.MaxOpenPositions)
	cfg.TradingConfig.TargetUSD = getEnvFloatOrDefault("TRADING_TARGET_USD", cfg.TradingConfig.TargetUSD)
	cfg.TradingConfig.MaxLeverage = getEnvIntOrDefault("TRADING_MAX_LEVERAGE", cfg.TradingConfig.MaxLeverage)
	cfg.TradingConfig.StopLossUSD = getEnvFloatOrDefault("TRADING_STOP_LOSS_USD", cfg.TradingConfig.StopLossUSD)
	cfg.TradingConfig.TakeProfitUSD = getEnvFloatOrDefault("TRADING_TAKE_PROFIT_USD", cfg.TradingConfig.TakeProfitUSD)

	// Pipeline
	cfg.PipelineConfig.RateLimitSeconds = getEnvIntOrDefault("PIPELINE_RATE_LIMIT_SECONDS", cfg.PipelineConfig.RateLimitSeconds)
	cfg.PipelineConfig.CallTimeoutSeconds = getEnvIntOrDefault("PIPELINE_CALL_TIMEOUT_SECONDS", cfg.PipelineConfig.CallTimeoutSeconds)
	cfg.PipelineConfig.ReconcileIntervalMinutes = getEnvIntOrDefault("PIPELINE_RECONCILE_MINUTES", cfg.PipelineConfig.ReconcileIntervalMinutes)

	// AI
	cfg.AIConfig.Enabled = getEnvBoolOrDefault("AI_ENABLED", cfg.AIConfig.Enabled)
	cfg.AIConfig.APIKey = getEnvOrDefault("AI_API_KEY", getEnvOrDefault("GROQ_API_KEY", cfg.AIConfig.APIKey))
	cfg.AIConfig.BaseURL = getEnvOrDefault("AI_BASE_URL", cfg.AIConfig.BaseURL)
	cfg.AIConfig.Model = getEnvOrDefault("AI_MODEL", cfg.AIConfig.Model)

	// Redis
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Database
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Server
	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.ServerConfig.JWTSecret)
	cfg.ServerConfig.OperatorPassHash = getEnvOrDefault("OPERATOR_PASS_HASH", cfg.ServerConfig.OperatorPassHash)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Format = getEnvOrDefault("LOG_FORMAT", cfg.LoggingConfig.Format)
	cfg.LoggingConfig.File = getEnvOrDefault("LOG_FILE", cfg.LoggingConfig.File)

	// Vault
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled || cfg.VaultConfig.Address != "")
}

// Validate rejects policy combinations that would break the decision or sizing invariants
func (c *Config) Validate() error {
	t := c.TradingConfig
	switch {
	case t.EntryThreshold < 1 || t.EntryThreshold > 95:
		return fmt.Errorf("trading.entry_threshold must be within [1,95], got %d", t.EntryThreshold)
	case t.NearMissFloor > t.EntryThreshold:
		return fmt.Errorf("trading.near_miss_floor %d exceeds entry_threshold %d", t.NearMissFloor, t.EntryThreshold)
	case t.MaxDailyTrades < 0 || t.MaxOpenPositions < 0:
		return errors.New("trading caps must not be negative")
	case t.TargetUSD <= 0:
		return fmt.Errorf("trading.target_usd must be positive, got %v", t.TargetUSD)
	case t.MaxLeverage < 1 || t.DefaultLeverage < 1:
		return errors.New("trading leverage values must be at least 1")
	case t.StopLossUSD <= 0 || t.TakeProfitUSD <= 0:
		return errors.New("trading stop_loss_usd and take_profit_usd must be positive")
	case t.FallbackQuantity <= 0:
		return errors.New("trading.fallback_quantity must be positive")
	case t.QuoteAsset == "":
		return errors.New("trading.quote_asset must not be empty")
	}
	if c.PipelineConfig.CallTimeoutSeconds <= 0 {
		return errors.New("pipeline.call_timeout_seconds must be positive")
	}
	return nil
}

// CallTimeout returns the per-call timeout for external requests
func (p PipelineConfig) CallTimeout() time.Duration {
	return time.Duration(p.CallTimeoutSeconds) * time.Second
}

// RateLimit returns the minimum spacing between full pipeline runs
func (p PipelineConfig) RateLimit() time.Duration {
	return time.Duration(p.RateLimitSeconds) * time.Second
}

// DedupClearInterval returns how often the dedup set is cleared
func (p PipelineConfig) DedupClearInterval() time.Duration {
	return time.Duration(p.DedupClearMinutes) * time.Minute
}

// ReconcileInterval returns the periodic sweep interval, zero when disabled
func (p PipelineConfig) ReconcileInterval() time.Duration {
	return time.Duration(p.ReconcileIntervalMinutes) * time.Minute
}

// Address returns host:port for the HTTP server
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DSN returns the pgx connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvInt64ListOrDefault parses a comma separated list of chat ids
func getEnvInt64ListOrDefault(key string, defaultValue []int64) []int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, id)
	}
	return out
}

// GenerateSampleConfig writes the default configuration to a file
func GenerateSampleConfig(filename string) error {
	cfg := Default()
	cfg.BinanceConfig.APIKey = "your-binance-api-key"
	cfg.BinanceConfig.SecretKey = "your-binance-secret-key"
	cfg.BinanceConfig.TestNet = true
	cfg.TelegramConfig.BotToken = "123456:telegram-bot-token"
	cfg.TelegramConfig.SourceChatIDs = []int64{-1001234567890}
	cfg.TelegramConfig.NotifyChatID = -1009876543210

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sample config: %w", err)
	}
	return os.WriteFile(filename, data, 0600)
}
