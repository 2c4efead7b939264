package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DDICE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DDICE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DDICE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DDICE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DDICE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DDICE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DDICE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DDICE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DDICE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DDICE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DDICE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DDICE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DDICE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DDICE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DDICE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DDICE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DDICE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DDICE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DDICE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DDICE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DDICE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DDICE_S3_REGION")
	setStr(&cfg.S3.Bucket, "DDICE_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "DDICE_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "DDICE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DDICE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DDICE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DDICE_S3_FORCE_PATH_STYLE")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "DDICE_CHAIN_RPC_URL")

	// ── Ingest ──
	setStr(&cfg.Ingest.StreamPath, "DDICE_INGEST_STREAM_PATH")
	setDuration(&cfg.Ingest.RetryBaseDelay, "DDICE_INGEST_RETRY_BASE_DELAY")
	setInt(&cfg.Ingest.RetryMaxAttempts, "DDICE_INGEST_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Ingest.ArchiveFlushInterval, "DDICE_INGEST_ARCHIVE_FLUSH_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DDICE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DDICE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DDICE_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DDICE_MODE")
	setStr(&cfg.LogLevel, "DDICE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
