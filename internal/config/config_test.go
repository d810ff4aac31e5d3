package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {

	cfg, _, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "https://api.line.me", cfg.Line.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "dance.tickets.balance-changed", cfg.Kafka.TicketsTopic)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, DefaultQRSecret, cfg.QR.SecretKey)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://u:p@localhost:5432/dance?sslmode=disable")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LINE_CHANNEL_ACCESS_TOKEN", "token")
	t.Setenv("TICKET_LOCK_TTL", "3s")

	cfg, _, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "token", cfg.Line.ChannelAccessToken)
	assert.Equal(t, 3*time.Second, cfg.Redis.LockTTL)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Driver: "postgres"}}
	assert.ErrorContains(t, cfg.Validate(), "POSTGRES_DSN")

	cfg = &Config{Database: DatabaseConfig{Driver: "mysql"}}
	assert.ErrorContains(t, cfg.Validate(), "unsupported DB_DRIVER")

	cfg = &Config{Database: DatabaseConfig{Driver: "sqlite", SQLitePath: "x.db"}, Kafka: KafkaConfig{Enabled: true}}
	assert.ErrorContains(t, cfg.Validate(), "KAFKA_BROKERS")
}

func TestWarningsFlagDefaultQRSecret(t *testing.T) {
	cfg := &Config{QR: QRConfig{SecretKey: DefaultQRSecret}}
	require.Len(t, cfg.Warnings(), 1)
	assert.Contains(t, cfg.Warnings()[0], "QR_SECRET_KEY")

	cfg.QR.SecretKey = ""
	assert.Len(t, cfg.Warnings(), 1)

	cfg.QR.SecretKey = "a-real-secret"
	assert.Empty(t, cfg.Warnings())
}
