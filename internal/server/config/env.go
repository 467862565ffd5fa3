package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/vonjiaina/pharmauth/internal/flagx"
)

// parseEnv loads a dotenv file (the -env flag, or ./.env when present) into
// the process environment and overlays recognised variables onto config.
// Variables already set in the environment win over the file.
//
// Both PHARMAUTH_* names and the legacy names of the previous deployment
// (SECRET_KEY, TOTP_ENCRYPTION_KEY, DATABASE_URL, ...) are accepted; the
// first non-empty one listed is used.
func parseEnv(config *Config, args []string) error {
	if err := loadDotenv(flagx.EnvFileFlag(args)); err != nil {
		return err
	}

	envString(&config.ListenAddr, "PHARMAUTH_LISTEN_ADDR")
	envString(&config.DatabaseDSN, "PHARMAUTH_DATABASE_DSN", "DATABASE_URL")
	envString(&config.SecretKey, "PHARMAUTH_SECRET_KEY", "SECRET_KEY")
	envString(&config.TOTPEncryptionKey, "PHARMAUTH_TOTP_ENCRYPTION_KEY", "TOTP_ENCRYPTION_KEY")
	envString(&config.Issuer, "PHARMAUTH_ISSUER", "PROJECT_NAME")
	envString(&config.TOTPIssuer, "PHARMAUTH_TOTP_ISSUER")
	envString(&config.LogLevel, "PHARMAUTH_LOG_LEVEL", "LOG_LEVEL")
	envString(&config.AMQPURL, "PHARMAUTH_AMQP_URL", "RABBITMQ_URL", "AMQP_URL")
	envString(&config.NotifyQueue, "PHARMAUTH_NOTIFY_QUEUE")
	envString(&config.S3RootUser, "PHARMAUTH_S3_ROOT_USER")
	envString(&config.S3RootPassword, "PHARMAUTH_S3_ROOT_PASSWORD")
	envString(&config.S3Bucket, "PHARMAUTH_S3_BUCKET")
	envString(&config.S3Region, "PHARMAUTH_S3_REGION")
	envString(&config.S3BaseEndpoint, "PHARMAUTH_S3_BASE_ENDPOINT")
	envString(&config.S3Prefix, "PHARMAUTH_S3_PREFIX")

	return errors.Join(
		envDuration(&config.AccessTokenValidityDuration, "PHARMAUTH_ACCESS_TOKEN_TTL"),
		envScaled(&config.AccessTokenValidityDuration, "ACCESS_TOKEN_EXPIRE_MINUTES", time.Minute),
		envDuration(&config.RefreshTokenValidityDuration, "PHARMAUTH_REFRESH_TOKEN_TTL"),
		envScaled(&config.RefreshTokenValidityDuration, "REFRESH_TOKEN_DAYS", 24*time.Hour),
		envDuration(&config.PurgeInterval, "PHARMAUTH_PURGE_INTERVAL"),
		envInt(&config.BackupCodeCount, "PHARMAUTH_BACKUP_CODE_COUNT"),
		envInt(&config.DBRetryAttempts, "PHARMAUTH_DB_RETRY_ATTEMPTS"),
	)
}

func loadDotenv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func envString(dst *string, names ...string) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			*dst = v
			return
		}
	}
}

func envDuration(dst *time.Duration, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

// envScaled reads an integer count of unit, e.g. minutes or days.
func envScaled(dst *time.Duration, name string, unit time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = time.Duration(n) * unit
	return nil
}

func envInt(dst *int, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}
