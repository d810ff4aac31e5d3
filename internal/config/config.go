package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Line     LineConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	QR       QRConfig
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogDir   string `env:"LOG_DIR" envDefault:"logs"`
}

type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	CORSOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver       string        `env:"DB_DRIVER" envDefault:"sqlite"`
	PostgresDSN  string        `env:"POSTGRES_DSN"`
	SQLitePath   string        `env:"SQLITE_PATH" envDefault:"dance-tickets.db"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"25"`
	MaxLifetime  time.Duration `env:"DB_MAX_LIFETIME" envDefault:"5m"`
	ConnRetries  int           `env:"DB_CONNECT_RETRIES" envDefault:"5"`
	AutoMigrate  bool          `env:"AUTO_MIGRATE" envDefault:"true"`
}

type LineConfig struct {
	ChannelAccessToken string        `env:"LINE_CHANNEL_ACCESS_TOKEN"`
	BaseURL            string        `env:"LINE_API_BASE_URL" envDefault:"https://api.line.me"`
	Timeout            time.Duration `env:"LINE_TIMEOUT" envDefault:"10s"`
}

type RedisConfig struct {
	// Addr empty disables the per-customer adjustment lock.
	Addr    string        `env:"REDIS_ADDR"`
	LockTTL time.Duration `env:"TICKET_LOCK_TTL" envDefault:"10s"`
}

type KafkaConfig struct {
	Enabled      bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers      []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	TicketsTopic string   `env:"KAFKA_TOPIC_TICKETS" envDefault:"dance.tickets.balance-changed"`
}

// DefaultQRSecret is the placeholder QR_SECRET_KEY; cards signed with it can be forged.
const DefaultQRSecret = "change-me"

type QRConfig struct {
	SecretKey string `env:"QR_SECRET_KEY" envDefault:"change-me"`
}

// Load reads an optional .env file then parses the environment.
// The returned bool reports whether a .env file was found.
func Load() (*Config, bool, error) {
	loaded := godotenv.Load() == nil

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, loaded, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, loaded, err
	}
	return cfg, loaded, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN not set for DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH not set for DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS not set while KAFKA_ENABLED=true")
	}
	return nil
}

// Warnings lists settings that work but should not reach production.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.QR.SecretKey == "" || c.QR.SecretKey == DefaultQRSecret {
		warnings = append(warnings, "QR_SECRET_KEY is unset or the default, member cards can be forged")
	}
	return warnings
}
