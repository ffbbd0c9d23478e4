// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ortaizi/unisync/internal/ratelimit"
	"github.com/ortaizi/unisync/internal/vault"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	Env        string
	ListenAddr string
	DBPath     string

	// VaultKey encrypts stored university credentials. 32 bytes.
	VaultKey []byte
	// JWTSecret signs session tokens.
	JWTSecret []byte
	// SessionTTL bounds session token validity.
	SessionTTL time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURL   string

	// Rate limit budgets for the credential endpoints and sync triggering.
	CredentialTestLimit  ratelimit.Policy
	ArbitraryTestLimit   ratelimit.Policy
	SyncTriggerLimit     ratelimit.Policy
	RateLimitCleanupTick time.Duration
}

// IsProduction reports whether the app runs with production guarantees, which
// forbids generated secrets.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HasGoogleOAuth returns true when the Google OAuth client is fully
// configured. Without it the login endpoints refuse to start the flow.
func (c *Config) HasGoogleOAuth() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.OAuthRedirectURL != ""
}

// Load reads configuration from environment variables and returns a validated
// Config. UNISYNC_VAULT_KEY and UNISYNC_JWT_SECRET are required in production
// (UNISYNC_ENV=production); in development, missing secrets are generated per
// process, which invalidates stored credentials and sessions on restart.
// Optional variables with defaults: UNISYNC_LISTEN_ADDR (127.0.0.1:8080),
// UNISYNC_DB_PATH (unisync.db), UNISYNC_SESSION_TTL (24h).
func Load() (*Config, error) {
	cfg := &Config{
		Env:        "development",
		ListenAddr: "127.0.0.1:8080",
		DBPath:     "unisync.db",
		SessionTTL: 24 * time.Hour,

		CredentialTestLimit:  ratelimit.Policy{MaxAttempts: 10, Window: 15 * time.Minute},
		ArbitraryTestLimit:   ratelimit.Policy{MaxAttempts: 3, Window: 15 * time.Minute},
		SyncTriggerLimit:     ratelimit.Policy{MaxAttempts: 2, Window: 10 * time.Minute},
		RateLimitCleanupTick: 5 * time.Minute,
	}

	if v, ok := os.LookupEnv("UNISYNC_ENV"); ok {
		cfg.Env = v
	}
	if v, ok := os.LookupEnv("UNISYNC_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("UNISYNC_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("UNISYNC_SESSION_TTL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("UNISYNC_SESSION_TTL has invalid duration %q: %w", v, err)
		}
		cfg.SessionTTL = parsed
	}

	key, err := loadVaultKey(cfg.IsProduction())
	if err != nil {
		return nil, err
	}
	cfg.VaultKey = key

	secret, err := loadJWTSecret(cfg.IsProduction())
	if err != nil {
		return nil, err
	}
	cfg.JWTSecret = secret

	cfg.GoogleClientID = os.Getenv("UNISYNC_GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("UNISYNC_GOOGLE_CLIENT_SECRET")
	cfg.OAuthRedirectURL = os.Getenv("UNISYNC_OAUTH_REDIRECT_URL")

	return cfg, nil
}

// loadVaultKey reads UNISYNC_VAULT_KEY as 64 hex characters. In development a
// missing key is generated per process; production refuses to start without
// one, since a generated key would silently orphan every stored credential.
func loadVaultKey(production bool) ([]byte, error) {
	raw, ok := os.LookupEnv("UNISYNC_VAULT_KEY")
	if !ok || raw == "" {
		if production {
			return nil, fmt.Errorf("UNISYNC_VAULT_KEY is required in production")
		}
		key, err := vault.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral vault key: %w", err)
		}
		slog.Warn("UNISYNC_VAULT_KEY not set, using ephemeral key; stored credentials will not survive restart")
		return key, nil
	}

	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("UNISYNC_VAULT_KEY must be hex: %w", err)
	}
	if len(key) != vault.KeySize {
		return nil, fmt.Errorf("UNISYNC_VAULT_KEY must be %d hex characters, got %d", vault.KeySize*2, len(raw))
	}
	return key, nil
}

// loadJWTSecret reads UNISYNC_JWT_SECRET. Any non-empty string works; in
// development a missing secret is generated per process.
func loadJWTSecret(production bool) ([]byte, error) {
	raw, ok := os.LookupEnv("UNISYNC_JWT_SECRET")
	if !ok || raw == "" {
		if production {
			return nil, fmt.Errorf("UNISYNC_JWT_SECRET is required in production")
		}
		secret, err := vault.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral jwt secret: %w", err)
		}
		slog.Warn("UNISYNC_JWT_SECRET not set, using ephemeral secret; sessions will not survive restart")
		return secret, nil
	}
	return []byte(raw), nil
}
