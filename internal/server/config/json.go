package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/vonjiaina/pharmauth/internal/flagx"
	"github.com/vonjiaina/pharmauth/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations use
// timex.Duration so they can be written as "30m" or "168h". Fields left out
// of the file keep their current value.
type JsonConfig struct {
	ListenAddr                   *string         `json:"listen_addr"`
	DatabaseDSN                  *string         `json:"database_dsn"`
	SecretKey                    *string         `json:"secret_key"`
	TOTPEncryptionKey            *string         `json:"totp_encryption_key"`
	Issuer                       *string         `json:"issuer"`
	TOTPIssuer                   *string         `json:"totp_issuer"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration"`
	BackupCodeCount              *int            `json:"backup_code_count"`
	Argon2Time                   *uint32         `json:"argon2_time"`
	Argon2MemoryKiB              *uint32         `json:"argon2_memory_kib"`
	Argon2Threads                *uint8          `json:"argon2_threads"`
	LogLevel                     *string         `json:"log_level"`
	PurgeInterval                *timex.Duration `json:"purge_interval"`
	DBRetryAttempts              *int            `json:"db_retry_attempts"`
	AMQPURL                      *string         `json:"amqp_url"`
	NotifyQueue                  *string         `json:"notify_queue"`
	S3RootUser                   *string         `json:"s3_root_user"`
	S3RootPassword               *string         `json:"s3_root_password"`
	S3Bucket                     *string         `json:"s3_bucket"`
	S3Region                     *string         `json:"s3_region"`
	S3BaseEndpoint               *string         `json:"s3_base_endpoint"`
	S3Prefix                     *string         `json:"s3_prefix"`
}

// parseJson overlays the file named by -c/-config onto config. Without the
// flag nothing is loaded.
func parseJson(config *Config, args []string) error {
	jsonConfigFile := flagx.JsonConfigFlags(args)
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&config.ListenAddr, c.ListenAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.TOTPEncryptionKey, c.TOTPEncryptionKey)
	setString(&config.Issuer, c.Issuer)
	setString(&config.TOTPIssuer, c.TOTPIssuer)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setValue(&config.BackupCodeCount, c.BackupCodeCount)
	setValue(&config.Argon2Time, c.Argon2Time)
	setValue(&config.Argon2MemoryKiB, c.Argon2MemoryKiB)
	setValue(&config.Argon2Threads, c.Argon2Threads)
	setString(&config.LogLevel, c.LogLevel)
	setDuration(&config.PurgeInterval, c.PurgeInterval)
	setValue(&config.DBRetryAttempts, c.DBRetryAttempts)
	setString(&config.AMQPURL, c.AMQPURL)
	setString(&config.NotifyQueue, c.NotifyQueue)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3Prefix, c.S3Prefix)
	return nil
}

func setString(dst *string, v *string) { setValue(dst, v) }

func setValue[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
