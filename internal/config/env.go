package config

import (
	"os"
	"strconv"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("WARDEN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("WARDEN_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if secret := os.Getenv("WARDEN_ADMIN_SECRET"); secret != "" {
		cfg.Server.AdminSecret = secret
	}

	if host := os.Getenv("WARDEN_DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("WARDEN_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}
	if name := os.Getenv("WARDEN_DB_NAME"); name != "" {
		cfg.Database.Database = name
	}
	if user := os.Getenv("WARDEN_DB_USER"); user != "" {
		cfg.Database.User = user
	}
	if pass := os.Getenv("WARDEN_DB_PASSWORD"); pass != "" {
		cfg.Database.Password = pass
	}

	if key := os.Getenv("WARDEN_ENCRYPTION_KEY"); key != "" {
		cfg.Guard.EncryptionKey = key
	}
	if salt := os.Getenv("WARDEN_HASH_SALT"); salt != "" {
		cfg.Ledger.HashSalt = salt
	}
	if url := os.Getenv("WARDEN_WEBHOOK_URL"); url != "" {
		cfg.Notifier.WebhookURL = url
	}
}
