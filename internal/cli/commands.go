// Package cli exposes the bot's command line: the long-running service plus one-shot
// helpers for parsing, analysis and reconciliation.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"signal-trading-bot/config"
	"signal-trading-bot/internal/api"
	"signal-trading-bot/internal/auth"
	"signal-trading-bot/internal/bot"
	"signal-trading-bot/internal/logging"
	"signal-trading-bot/internal/signal"
	"signal-trading-bot/internal/telegram"
	"signal-trading-bot/internal/vault"
)

const paperCheckInterval = 5 * time.Second

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "signalbot",
		Short: "Signal-driven Binance futures trading bot",
		Long: `signalbot reads trading signals from Telegram chats, scores them against live
Binance futures market data, notifies on strong setups and optionally opens protected positions.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configFile != "" {
				os.Setenv("CONFIG_FILE", configFile)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to the JSON config file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newParseCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newReconcileCmd())
	rootCmd.AddCommand(newSampleConfigCmd())
	rootCmd.AddCommand(newHashPasswordCmd())
	return rootCmd
}

// loadConfig reads configuration, overlays Vault secrets and configures logging
func loadConfig(ctx context.Context) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Format:     cfg.LoggingConfig.Format,
		File:       cfg.LoggingConfig.File,
		MaxSizeMB:  cfg.LoggingConfig.MaxSizeMB,
		MaxBackups: cfg.LoggingConfig.MaxBackups,
		MaxAgeDays: cfg.LoggingConfig.MaxAgeDays,
	})

	if cfg.VaultConfig.Enabled {
		vc, err := vault.NewClient(cfg.VaultConfig, logger)
		if err != nil {
			return nil, logger, err
		}
		if err := vc.Health(ctx); err != nil {
			return nil, logger, err
		}
		if err := vc.Overlay(ctx, cfg); err != nil {
			return nil, logger, fmt.Errorf("vault: %w", err)
		}
	}
	return cfg, logger, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: Telegram listener, pipeline, scheduler and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, logger, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	app, err := Build(ctx, cfg, logger, Options{Telegram: true})
	if err != nil {
		return err
	}
	defer app.Close()

	inbox := make(chan signal.Message, max(cfg.PipelineConfig.QueueSize, 1))

	var paper bot.PaperBook
	var prices bot.PriceSource
	var paperEvery time.Duration
	if app.Paper != nil {
		paper, prices, paperEvery = app.Paper, app.Exchange, paperCheckInterval
	}
	scheduler := bot.NewScheduler(bot.SchedulerConfig{
		DedupInterval:     cfg.PipelineConfig.DedupClearInterval(),
		ReconcileInterval: cfg.PipelineConfig.ReconcileInterval(),
		PaperInterval:     paperEvery,
		OnRollover: func() {
			cache := app.Exchange.Cache()
			st := cache.Stats()
			logger.Info().Int64("hits", st.Hits).Int64("misses", st.Misses).Float64("hit_rate", st.HitRate).
				Msg("Market data cache reset for the new day")
			cache.Invalidate()
		},
	}, app.Pipeline, paper, prices, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Pipeline.Run(gctx, inbox)
		return nil
	})

	if app.Telegram != nil {
		listener := telegram.NewListener(app.Telegram, telegram.Config{
			SourceChatIDs: cfg.TelegramConfig.SourceChatIDs,
			OperatorIDs:   cfg.TelegramConfig.OperatorIDs,
			PollTimeout:   cfg.TelegramConfig.PollTimeoutSec,
		}, telegram.NewCommands(app.Pipeline, logger), logger)
		g.Go(func() error {
			listener.Run(gctx, inbox)
			return nil
		})
	} else {
		logger.Warn().Msg("Telegram disabled: signals arrive only through the HTTP API")
	}

	if cfg.ServerConfig.Enabled {
		deps := api.Deps{Operator: app.Pipeline, Bus: app.Bus, Inbox: inbox}
		if app.Journal != nil {
			deps.Journal = app.Journal
		}
		if app.DB != nil {
			deps.Health = app.DB
		}
		server := api.NewServer(api.ServerConfig{
			Host:             cfg.ServerConfig.Host,
			Port:             cfg.ServerConfig.Port,
			ProductionMode:   !cfg.BinanceConfig.TestNet,
			AllowedOrigins:   splitOrigins(cfg.ServerConfig.AllowedOrigins),
			JWTSecret:        cfg.ServerConfig.JWTSecret,
			TokenTTL:         time.Duration(cfg.ServerConfig.TokenTTLMinutes) * time.Minute,
			OperatorUser:     cfg.ServerConfig.OperatorUser,
			OperatorPassHash: cfg.ServerConfig.OperatorPassHash,
		}, deps, logger)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info().Msg("Signal bot running")
	err = g.Wait()
	logger.Info().Msg("Signal bot stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func newParseCmd() *cobra.Command {
	var quote string
	cmd := &cobra.Command{
		Use:   "parse <text>",
		Short: "Parse a signal message offline and print the extracted fields",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printParse(cmd.OutOrStdout(), strings.Join(args, " "), quote)
		},
	}
	cmd.Flags().StringVar(&quote, "quote", "USDT", "quote asset appended to bare tickers")
	return cmd
}

func printParse(w io.Writer, text, quote string) error {
	extractor := signal.NewExtractor(nil, quote, zerolog.Nop())
	return writeJSON(w, struct {
		Signal     signal.Signal `json:"signal"`
		Candidates []string      `json:"candidates"`
	}{signal.Parse(text), extractor.Candidates(text)})
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <symbol>",
		Short: "Run one analysis cycle for a symbol without trading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			app, err := Build(ctx, cfg, logger, Options{})
			if err != nil {
				return err
			}
			defer app.Close()

			a, err := app.Pipeline.AnalyzeSymbol(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), a)
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Check open positions for missing stop-loss or take-profit orders and repair them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			app, err := Build(ctx, cfg, logger, Options{})
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.Pipeline.Reconcile(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newSampleConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sample-config [path]",
		Short: "Write a sample configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.sample.json"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.GenerateSampleConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sample config written to %s\n", path)
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for server.operator_pass_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0], bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
