// Package vault loads credentials from a HashiCorp Vault KV v2 secret and overlays
// them on the file and environment configuration.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"

	"signal-trading-bot/config"
)

// ErrSecretNotFound is returned when the configured path holds no secret
var ErrSecretNotFound = errors.New("vault secret not found")

// Secrets are the credentials the bot can read from Vault. Empty fields leave the
// configured value untouched.
type Secrets struct {
	BinanceAPIKey    string
	BinanceSecretKey string
	TelegramBotToken string
	AIAPIKey         string
	DatabasePassword string
	RedisPassword    string
	JWTSecret        string
	OperatorPassHash string
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	logger zerolog.Logger
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig, logger zerolog.Logger) (*Client, error) {
	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	return &Client{
		client: client,
		config: cfg,
		logger: logger.With().Str("component", "vault").Logger(),
	}, nil
}

// ReadSecrets reads the KV v2 secret at mount/data/path
func (c *Client) ReadSecrets(ctx context.Context) (*Secrets, error) {
	path := c.secretPath()
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from vault: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", path)
	}
	return &Secrets{
		BinanceAPIKey:    getString(data, "binance_api_key"),
		BinanceSecretKey: getString(data, "binance_secret_key"),
		TelegramBotToken: getString(data, "telegram_bot_token"),
		AIAPIKey:         getString(data, "ai_api_key"),
		DatabasePassword: getString(data, "database_password"),
		RedisPassword:    getString(data, "redis_password"),
		JWTSecret:        getString(data, "jwt_secret"),
		OperatorPassHash: getString(data, "operator_pass_hash"),
	}, nil
}

// Overlay reads the secrets and applies them to cfg
func (c *Client) Overlay(ctx context.Context, cfg *config.Config) error {
	s, err := c.ReadSecrets(ctx)
	if err != nil {
		return err
	}
	n := s.Apply(cfg)
	c.logger.Info().Int("applied", n).Str("path", c.secretPath()).Msg("Secrets loaded from vault")
	return nil
}

// Health checks that Vault is initialized and unsealed
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if !health.Initialized {
		return errors.New("vault is not initialized")
	}
	if health.Sealed {
		return errors.New("vault is sealed")
	}
	return nil
}

// Apply copies the non-empty secrets into cfg and returns how many were set
func (s *Secrets) Apply(cfg *config.Config) int {
	n := 0
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
			n++
		}
	}
	set(&cfg.BinanceConfig.APIKey, s.BinanceAPIKey)
	set(&cfg.BinanceConfig.SecretKey, s.BinanceSecretKey)
	set(&cfg.TelegramConfig.BotToken, s.TelegramBotToken)
	set(&cfg.AIConfig.APIKey, s.AIAPIKey)
	set(&cfg.DatabaseConfig.Password, s.DatabasePassword)
	set(&cfg.RedisConfig.Password, s.RedisPassword)
	set(&cfg.ServerConfig.JWTSecret, s.JWTSecret)
	set(&cfg.ServerConfig.OperatorPassHash, s.OperatorPassHash)
	return n
}

func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", strings.Trim(c.config.MountPath, "/"), strings.Trim(c.config.SecretPath, "/"))
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
