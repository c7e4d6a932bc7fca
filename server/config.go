package server

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jacobclevenger/unison/internal/telemetry"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "UNISON_"

// Config holds server configuration.
type Config struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080"`

	// CORSOrigins lists allowed origins; "*" allows all.
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`

	// RateLimit is requests per second per client IP (0 to disable).
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"0"`
	RateBurst int     `env:"RATE_BURST" envDefault:"20"`

	BodyLimit int64 `env:"BODY_LIMIT" envDefault:"1048576"`

	MetricsEnabled bool   `env:"METRICS" envDefault:"true"`
	MetricsPath    string `env:"METRICS_PATH" envDefault:"/metrics"`
	SocketPath     string `env:"SOCKET_PATH" envDefault:"/socket"`

	// LenientInjection injects zero values for unresolved view
	// dependencies instead of refusing to start.
	LenientInjection bool `env:"LENIENT_INJECTION" envDefault:"false"`

	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	TLS       TLSConfig        `envPrefix:"TLS_"`
	Telemetry telemetry.Config `envPrefix:"OTEL_"`
}

// TLSConfig enables HTTPS.
type TLSConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	CertFile string `env:"CERT_FILE"`
	KeyFile  string `env:"KEY_FILE"`
}

// DefaultConfig returns the configuration with every default applied and
// no environment overrides.
func DefaultConfig() Config {
	var cfg Config
	// defaults are static; parsing them cannot fail
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// LoadConfig loads configuration from UNISON_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate reports configuration that cannot be served.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("tls enabled without cert and key files")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
