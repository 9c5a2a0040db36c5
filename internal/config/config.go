// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
	// console or json
	LogFormat string `env:"LOG_FORMAT,default=console"`

	JWTSecret string `env:"JWT_SECRET,required=true"`
	JWTIssuer string `env:"JWT_ISSUER"`

	// memory or postgres
	Store       string `env:"STORE,default=memory"`
	DatabaseURL string `env:"DATABASE_URL"`

	// local or valkey
	Fabric              string `env:"FABRIC,default=local"`
	ValkeyAddr          string `env:"VALKEY_ADDR,default=localhost:6379"`
	ValkeyChannelPrefix string `env:"VALKEY_CHANNEL_PREFIX,default=gatherhub:room:"`

	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=http://127.0.0.1:5173"`

	AuthTimeout    time.Duration `env:"AUTH_TIMEOUT,default=5s"`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT,default=2s"`
	PongWait       time.Duration `env:"PONG_WAIT,default=60s"`
	PingPeriod     time.Duration `env:"PING_PERIOD,default=54s"`
	WriteWait      time.Duration `env:"WRITE_WAIT,default=10s"`

	SendBuffer     int   `env:"SEND_BUFFER,default=256"`
	RoomQueue      int   `env:"ROOM_QUEUE,default=256"`
	NotifyQueue    int   `env:"NOTIFY_QUEUE,default=1024"`
	MaxMessageSize int64 `env:"MAX_MESSAGE_SIZE,default=65536"`
	MaxBodySize    int64 `env:"MAX_BODY_SIZE,default=1048576"`

	RateLimitEnabled bool          `env:"RATE_LIMIT_ENABLED,default=true"`
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW,default=60s"`
	RateLimitGeneral int           `env:"RATE_LIMIT_GENERAL,default=100"`
	RateLimitVoting  int           `env:"RATE_LIMIT_VOTING,default=10"`
	RateLimitTasks   int           `env:"RATE_LIMIT_TASKS,default=20"`
}

// Load reads envFile when it exists, then the process environment. Values
// already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && envFile != ".env" {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the combinations the struct tags cannot express.
func (c *Config) Validate() error {
	switch c.Store {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}
	switch c.Fabric {
	case "local", "valkey":
	default:
		return fmt.Errorf("unknown FABRIC %q", c.Fabric)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}
	if c.MaxBodySize <= 0 {
		return errors.New("MAX_BODY_SIZE must be positive")
	}
	if c.RateLimitEnabled && (c.RateLimitWindow <= 0 || c.RateLimitGeneral <= 0 || c.RateLimitVoting <= 0 || c.RateLimitTasks <= 0) {
		return errors.New("rate limits and RATE_LIMIT_WINDOW must be positive")
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("PING_PERIOD (%s) must be shorter than PONG_WAIT (%s)", c.PingPeriod, c.PongWait)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins splits ALLOWED_ORIGINS into its entries.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, strings.TrimSuffix(o, "/"))
		}
	}
	return out
}
