package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"signal-trading-bot/config"
	"signal-trading-bot/internal/ai"
	"signal-trading-bot/internal/ai/llm"
	"signal-trading-bot/internal/analysis"
	"signal-trading-bot/internal/binance"
	"signal-trading-bot/internal/bot"
	"signal-trading-bot/internal/circuit"
	"signal-trading-bot/internal/database"
	"signal-trading-bot/internal/decision"
	"signal-trading-bot/internal/events"
	"signal-trading-bot/internal/notification"
	"signal-trading-bot/internal/orders"
	"signal-trading-bot/internal/risk"
	"signal-trading-bot/internal/signal"
)

// App holds every wired component
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Bus      *events.EventBus
	Exchange *binance.FuturesClient
	Paper    *binance.PaperGateway // nil unless dry-run
	Session  *risk.Session
	Breaker  *circuit.CircuitBreaker
	Notifier *notification.Manager
	Pipeline *bot.Pipeline
	Telegram *tgbotapi.BotAPI    // nil unless enabled
	DB       *database.DB        // nil unless enabled
	Journal  *database.Repository // nil unless enabled

	redis *redis.Client
}

// Options selects the optional outer surfaces
type Options struct {
	Telegram bool // authorize the bot token; one-shot commands leave it off
}

// Build wires the pipeline from configuration
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Bus: events.NewEventBus()}
	tc := cfg.TradingConfig
	callTimeout := cfg.PipelineConfig.CallTimeout()

	a.Exchange = binance.NewFuturesClient(cfg.BinanceConfig.APIKey, cfg.BinanceConfig.SecretKey,
		cfg.BinanceConfig.TestNet, callTimeout, logger)

	if cfg.RedisConfig.Enabled {
		a.redis = database.NewRedisClient(database.RedisConfig{
			Address:   cfg.RedisConfig.Address,
			Password:  cfg.RedisConfig.Password,
			DB:        cfg.RedisConfig.DB,
			KeyPrefix: cfg.RedisConfig.KeyPrefix,
		})
	}
	store := database.NewRedisSessionStateRepository(ctx, a.redis, cfg.RedisConfig.KeyPrefix, logger)

	a.Session = risk.NewSession(risk.Limits{
		MaxDailyTrades:   tc.MaxDailyTrades,
		MaxOpenPositions: tc.MaxOpenPositions,
	}, tc.Enabled, store, logger)
	if err := a.Session.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("Could not restore trading flag, using configured value")
	}

	a.Breaker = circuit.NewCircuitBreaker(circuit.Config{
		Enabled:             cfg.CircuitConfig.Enabled,
		MaxConsecutiveFails: cfg.CircuitConfig.MaxConsecutiveFails,
		CooldownMinutes:     cfg.CircuitConfig.CooldownMinutes,
	})
	a.Breaker.OnTrip(func(reason string) {
		a.Bus.PublishCircuitBreaker(string(circuit.StateOpen), reason)
		if a.Notifier != nil {
			if err := a.Notifier.SendInfo("Circuit breaker open", reason); err != nil {
				logger.Warn().Err(err).Msg("Circuit breaker notification failed")
			}
		}
	})
	a.Breaker.OnReset(func() {
		a.Bus.PublishCircuitBreaker(string(circuit.StateClosed), "")
	})

	sizer := risk.NewSizer(risk.SizerConfig{
		TargetUSD:        tc.TargetUSD,
		MaxLeverage:      tc.MaxLeverage,
		DefaultLeverage:  tc.DefaultLeverage,
		StopLossUSD:      tc.StopLossUSD,
		TakeProfitUSD:    tc.TakeProfitUSD,
		FallbackQuantity: tc.FallbackQuantity,
	}, a.Exchange, logger)

	var gateway orders.Gateway = a.Exchange
	if tc.DryRun {
		a.Paper = binance.NewPaperGateway(a.Exchange.LastPrice, logger)
		gateway = a.Paper
		logger.Warn().Msg("Dry-run mode: orders fill against the paper gateway")
	}
	executor := orders.NewExecutor(gateway, a.Session, a.Breaker, sizer, logger)

	if opts.Telegram && cfg.TelegramConfig.Enabled {
		api, err := tgbotapi.NewBotAPI(cfg.TelegramConfig.BotToken)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.Telegram = api
		logger.Info().Str("bot", api.Self.UserName).Msg("Telegram bot authorized")
	}

	a.Notifier = notification.NewManager(cfg.TelegramConfig.SelfMarker)
	a.Notifier.AddNotifier(notification.NewLogNotifier(logger))
	if a.Telegram != nil && cfg.TelegramConfig.NotifyChatID != 0 {
		a.Notifier.AddNotifier(notification.NewTelegramNotifier(a.Telegram, notification.TelegramConfig{
			ChatID:  cfg.TelegramConfig.NotifyChatID,
			Enabled: true,
		}))
	}

	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(ctx, database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.DB = db
		if err := db.RunMigrations(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.Journal = database.NewRepository(db, logger)
		a.Journal.Attach(a.Bus)
	}

	deps := bot.Deps{
		Extractor: signal.NewExtractor(a.Exchange, tc.QuoteAsset, logger),
		Market:    a.Exchange,
		Analyzer:  analysis.NewEngine(thresholds(cfg.AnalysisConfig)),
		Decider: decision.NewEngine(decision.Policy{
			EntryThreshold: tc.EntryThreshold,
			NearMissFloor:  tc.NearMissFloor,
			FibonacciBonus: cfg.AnalysisConfig.FibonacciBonus,
		}),
		Notifier: a.Notifier,
		Sizer:    sizer,
		Trader:   executor,
		Session:  a.Session,
		Bus:      a.Bus,
		Breaker:  a.Breaker,
	}
	if cfg.AIConfig.Enabled {
		deps.Validator = newValidator(cfg, logger)
	}

	a.Pipeline = bot.NewPipeline(bot.Config{
		SelfMarker:        cfg.TelegramConfig.SelfMarker,
		NotifyThreshold:   tc.NotifyThreshold,
		DedupPrefixLength: cfg.PipelineConfig.DedupPrefixLength,
		RateWindow:        cfg.PipelineConfig.RateLimit(),
		CallTimeout:       callTimeout,
		QuoteAsset:        tc.QuoteAsset,
	}, deps, logger)

	logger.Info().
		Bool("trading_enabled", a.Session.TradingEnabled()).
		Bool("dry_run", tc.DryRun).
		Bool("ai_validation", cfg.AIConfig.Enabled).
		Bool("journal", a.Journal != nil).
		Bool("redis", store.Available()).
		Msg("Signal bot wired")
	return a, nil
}

func newValidator(cfg *config.Config, logger zerolog.Logger) *ai.Validator {
	ac := cfg.AIConfig
	client := llm.NewClient(&llm.ClientConfig{
		Provider:    llm.Provider(strings.ToLower(ac.Provider)),
		BaseURL:     ac.BaseURL,
		APIKey:      ac.APIKey,
		Model:       ac.Model,
		MaxTokens:   800,
		Temperature: ac.Temperature,
		Timeout:     time.Duration(ac.TimeoutSeconds) * time.Second,
		MaxRetries:  ac.MaxRetries,
	}, logger)
	logger.Info().Str("provider", string(client.GetProvider())).Str("model", ac.Model).Msg("AI validation enabled")
	return ai.NewValidator(ai.Config{
		Enabled:        true,
		MinConfidence:  ac.MinConfidence,
		MaxPerHour:     ac.MaxPerHour,
		EntryThreshold: cfg.TradingConfig.EntryThreshold,
		MaxLeverage:    cfg.TradingConfig.MaxLeverage,
		TargetUSD:      cfg.TradingConfig.TargetUSD,
	}, client, logger)
}

func thresholds(c config.AnalysisConfig) analysis.Thresholds {
	return analysis.Thresholds{
		HighVolume:      c.HighVolume,
		VeryHighVolume:  c.VeryHighVolume,
		ExtremeVolume:   c.ExtremeVolume,
		MinLiquidity:    c.MinLiquidity,
		StableChangePct: c.StableChangePct,
		LargeMovePct:    c.LargeMovePct,
		MomentumMovePct: c.MomentumMovePct,
		RoundNumberPct:  c.RoundNumberPct,
	}
}

// Close releases connections. The Telegram poller is stopped by its listener.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Redis close failed")
		}
	}
}
