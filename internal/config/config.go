package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"

	BroadcastAll     = "all"
	BroadcastVisible = "visible"
)

// insecureSecrets are well-known development values that must never sign
// production tokens.
var insecureSecrets = map[string]struct{}{
	"secretoParaDesarrollo": {},
	"secret":                {},
	"changeme":              {},
}

var ErrInsecureSecret = errors.New("JWT_SECRET is a known insecure development value")

type Config struct {
	Port               int    `env:"PORT, default=3000"`
	JWTSecret          string `env:"JWT_SECRET"`
	TokenExpirySeconds int    `env:"TOKEN_EXPIRY_SECONDS, default=86400"`
	GinMode            string `env:"GIN_MODE, default=release"`
	TLSCertFile        string `env:"TLS_CERT_FILE"`
	TLSKeyFile         string `env:"TLS_KEY_FILE"`

	LogLevel  string `env:"LOG_LEVEL, default=info"`
	LogPretty bool   `env:"LOG_PRETTY, default=false"`

	StoreBackend string `env:"STORE_BACKEND, default=memory"`
	StateFile    string `env:"STATE_FILE"`

	Mongo MongoConfig
	Redis RedisConfig

	SocketRequireAuth bool     `env:"SOCKET_REQUIRE_AUTH, default=true"`
	BroadcastScope    string   `env:"BROADCAST_SCOPE, default=all"`
	CORSOrigins       []string `env:"CORS_ORIGINS, default=http://localhost:5173"`
	LoginRateLimit    int      `env:"LOGIN_RATE_LIMIT, default=10"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB, default=ticketflow"`
}

// RedisConfig with an empty Addr keeps notifications in the record store.
type RedisConfig struct {
	Addr string `env:"REDIS_ADDR"`
	DB   int    `env:"REDIS_DB, default=0"`
}

func (c Config) TokenExpiry() time.Duration {
	return time.Duration(c.TokenExpirySeconds) * time.Second
}

func LoadConfig(ctx context.Context) (Config, error) {
	return LoadConfigFromEnv(ctx, envconfig.OsLookuper())
}

func LoadConfigFromEnv(ctx context.Context, env envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: env}); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}

	c.JWTSecret = strings.TrimSpace(c.JWTSecret)
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if _, bad := insecureSecrets[c.JWTSecret]; bad {
		return ErrInsecureSecret
	}

	if c.TokenExpirySeconds <= 0 {
		return fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
	}

	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case StoreMemory:
	case StoreMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return fmt.Errorf("MONGO_URI and MONGO_DB are required for STORE_BACKEND=mongo")
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.StoreBackend)
	}

	c.BroadcastScope = strings.ToLower(strings.TrimSpace(c.BroadcastScope))
	if c.BroadcastScope != BroadcastAll && c.BroadcastScope != BroadcastVisible {
		return fmt.Errorf("invalid BROADCAST_SCOPE %q", c.BroadcastScope)
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	if c.LoginRateLimit < 0 {
		return fmt.Errorf("invalid LOGIN_RATE_LIMIT")
	}
	return nil
}
