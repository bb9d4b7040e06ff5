package vault

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-trading-bot/config"
)

func fakeVault(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		switch r.URL.Path {
		case "/v1/secret/data/signalbot":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"data":{"binance_api_key":"vk","binance_secret_key":"vs","jwt_secret":"jw","ai_api_key":""},"metadata":{"version":3}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
		}
	}))
}

func TestOverlay(t *testing.T) {
	srv := fakeVault(t)
	defer srv.Close()

	c, err := NewClient(config.VaultConfig{Enabled: true, Address: srv.URL, Token: "root", SecretPath: "signalbot"}, zerolog.Nop())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.AIConfig.APIKey = "from-env"
	require.NoError(t, c.Overlay(context.Background(), cfg))

	assert.Equal(t, "vk", cfg.BinanceConfig.APIKey)
	assert.Equal(t, "vs", cfg.BinanceConfig.SecretKey)
	assert.Equal(t, "jw", cfg.ServerConfig.JWTSecret)
	assert.Equal(t, "from-env", cfg.AIConfig.APIKey, "empty secrets keep the configured value")
}

func TestReadSecretsMissingPath(t *testing.T) {
	srv := fakeVault(t)
	defer srv.Close()

	c, err := NewClient(config.VaultConfig{Address: srv.URL, Token: "root", MountPath: "/secret/", SecretPath: "other"}, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.ReadSecrets(context.Background())
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestReadSecretsDenied(t *testing.T) {
	srv := fakeVault(t)
	defer srv.Close()

	c, err := NewClient(config.VaultConfig{Address: srv.URL, Token: "wrong", SecretPath: "signalbot"}, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.ReadSecrets(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSecretNotFound)
}

func TestApplyCounts(t *testing.T) {
	cfg := config.Default()
	n := (&Secrets{TelegramBotToken: "t", RedisPassword: "r"}).Apply(cfg)
	if n != 2 {
		t.Errorf("Expected 2 secrets applied, got %d", n)
	}
	assert.Equal(t, "t", cfg.TelegramConfig.BotToken)
	assert.Equal(t, "r", cfg.RedisConfig.Password)
}
