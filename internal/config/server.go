package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type ServerConfig struct {
	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	// Pairing scan cadence per tier. Enqueues also kick a scan immediately,
	// so this only bounds pairing latency when the kick is missed.
	ScanInterval time.Duration `env:"SCAN_INTERVAL" envDefault:"500ms"`

	// Queue position / wait-time push cadence.
	BroadcastInterval time.Duration `env:"BROADCAST_INTERVAL" envDefault:"2s"`

	// A connection with no pong inside this window is treated as gone.
	HeartbeatTimeout time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"60s"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`

	MaxMessageBytes int64 `env:"MAX_MESSAGE_BYTES" envDefault:"4096"`

	// Problem catalog cache refresh.
	CatalogTTL time.Duration `env:"CATALOG_TTL" envDefault:"5m"`

	// Backstop sweep for sessions whose connection vanished without a
	// disconnect event. See matching.Coordinator.StartJanitor.
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL" envDefault:"1m"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	return cfg, err
}
