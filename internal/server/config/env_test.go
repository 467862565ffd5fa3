package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv_LegacyAndPrefixedNames(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_KEY", "legacy")
	t.Setenv("PHARMAUTH_SECRET_KEY", "prefixed")
	t.Setenv("TOTP_ENCRYPTION_KEY", "totp-key")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "45")
	t.Setenv("RABBITMQ_URL", "amqp://rabbit")

	cfg := &Config{}
	require.NoError(t, parseEnv(cfg, nil))

	assert.Equal(t, "prefixed", cfg.SecretKey, "prefixed name wins")
	assert.Equal(t, "totp-key", cfg.TOTPEncryptionKey)
	assert.Equal(t, 45*time.Minute, cfg.AccessTokenValidityDuration)
	assert.Equal(t, "amqp://rabbit", cfg.AMQPURL)
}

func TestParseEnv_DotenvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PHARMAUTH_S3_BUCKET=from-file\nPHARMAUTH_PURGE_INTERVAL=5m\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("PHARMAUTH_S3_BUCKET")
		_ = os.Unsetenv("PHARMAUTH_PURGE_INTERVAL")
	})
	// godotenv does not override variables that are already set, even to "".
	require.NoError(t, os.Unsetenv("PHARMAUTH_S3_BUCKET"))
	require.NoError(t, os.Unsetenv("PHARMAUTH_PURGE_INTERVAL"))

	cfg := &Config{}
	require.NoError(t, parseEnv(cfg, []string{"-env", path}))

	assert.Equal(t, "from-file", cfg.S3Bucket)
	assert.Equal(t, 5*time.Minute, cfg.PurgeInterval)
}

func TestParseEnv_BadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PHARMAUTH_ACCESS_TOKEN_TTL", "forever")
	t.Setenv("PHARMAUTH_DB_RETRY_ATTEMPTS", "many")

	err := parseEnv(&Config{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PHARMAUTH_ACCESS_TOKEN_TTL")
	assert.Contains(t, err.Error(), "PHARMAUTH_DB_RETRY_ATTEMPTS")
}

func TestParseEnv_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	require.Error(t, parseEnv(&Config{}, []string{"-env", filepath.Join(t.TempDir(), "none.env")}))
}
