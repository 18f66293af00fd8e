package config

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the mock service.
type Config struct {
	Addr                string   `env:"ADDR,default=:8000"`
	DatabaseURL         string   `env:"DATABASE_URL,default=sqlite:///./mock.db"`
	MockToken           string   `env:"MOCK_TOKEN,default=MOCK_SUPER_SECRET"`
	AllowReset          bool     `env:"MOCK_ALLOW_RESET,default=false"`
	RequireTerminalRule bool     `env:"MOCK_REQUIRE_TERMINAL_RULE,default=false"`
	BaseURL             string   `env:"MOCK_BASE_URL"`
	ScenariosFile       string   `env:"MOCK_SCENARIOS_FILE"`
	RateLimit           int      `env:"MOCK_RATE_LIMIT,default=0"`
	AllowedOrigins      []string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	NATSURL             string   `env:"NATS_URL"`
	NATSStream          string   `env:"NATS_STREAM,default=PIPEMOCK"`
	OTLPEndpoint        string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel            string   `env:"LOG_LEVEL,default=info"`
	LogFormat           string   `env:"LOG_FORMAT,default=console"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

// LoadMap is Load backed by a fixed map instead of the process environment.
func LoadMap(ctx context.Context, env map[string]string) (Config, error) {
	return load(ctx, envconfig.MapLookuper(env))
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, errors.Wrap(err, "process environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.MockToken) == "" {
		return errors.New("MOCK_TOKEN must not be empty")
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL must not be empty")
	}
	if c.RateLimit < 0 {
		return errors.Newf("MOCK_RATE_LIMIT must be non-negative, got %d", c.RateLimit)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return errors.Newf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "LOG_LEVEL %q", c.LogLevel)
	}
	return level, nil
}
