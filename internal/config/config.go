// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/example/authdoc/internal/verification"
)

// Text engines.
const (
	TextEngineGRPC     = "grpc"
	TextEngineOpenAI   = "openai"
	TextEngineDisabled = "disabled"
)

const defaultDatabaseDSN = "host=postgres user=postgres password=postgres dbname=authdoc port=5432 sslmode=disable"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full service configuration.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR,default=:8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	MaxUploadBytes  int           `env:"MAX_UPLOAD_BYTES,default=10485760"`

	DatabaseDSN string `env:"DATABASE_DSN"`
	RedisAddr   string `env:"REDIS_ADDR,default=redis:6379"`

	JWTSecret   string        `env:"JWT_SECRET"`
	JWTAudience string        `env:"JWT_AUDIENCE"`
	JWTIssuer   string        `env:"JWT_ISSUER"`
	JWTLeeway   time.Duration `env:"JWT_LEEWAY,default=30s"`

	CapabilityAddr string `env:"CAPABILITY_ADDR"`
	TextEngine     string `env:"TEXT_ENGINE,default=grpc"`

	OpenAIAPIKey         string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `env:"OPENAI_BASE_URL"`
	OpenAIVisionModel    string `env:"OPENAI_VISION_MODEL"`
	OpenAIEmbeddingModel string `env:"OPENAI_EMBEDDING_MODEL"`

	// FusionPolicy names a preset or a policy in PolicyFile. It has no default.
	FusionPolicy string `env:"FUSION_POLICY"`
	PolicyFile   string `env:"POLICY_FILE"`

	Workers         int           `env:"ORCHESTRATOR_WORKERS,default=6"`
	TaskTimeout     time.Duration `env:"TASK_TIMEOUT,default=2m"`
	ChecksumTimeout time.Duration `env:"TIMEOUT_CHECKSUM"`
	LayoutTimeout   time.Duration `env:"TIMEOUT_LAYOUT"`
	TextTimeout     time.Duration `env:"TIMEOUT_TEXT"`
	CopyMoveTimeout time.Duration `env:"TIMEOUT_COPY_MOVE"`
	MetadataTimeout time.Duration `env:"TIMEOUT_METADATA"`
	ELATimeout      time.Duration `env:"TIMEOUT_ELA"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Parse builds a Config from an explicit variable set.
func Parse(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(env.EnvSet(vars), &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DatabaseDSN == "" {
		c.DatabaseDSN = defaultDatabaseDSN
	}
}

// Timeouts returns the per-metric overrides that are set.
func (c Config) Timeouts() map[verification.Metric]time.Duration {
	all := map[verification.Metric]time.Duration{
		verification.MetricChecksum: c.ChecksumTimeout,
		verification.MetricLayout:   c.LayoutTimeout,
		verification.MetricText:     c.TextTimeout,
		verification.MetricCopyMove: c.CopyMoveTimeout,
		verification.MetricMetadata: c.MetadataTimeout,
		verification.MetricELA:      c.ELATimeout,
	}
	out := make(map[verification.Metric]time.Duration)
	for m, d := range all {
		if d > 0 {
			out[m] = d
		}
	}
	return out
}

// Validate checks the settings shared by every command.
func (c Config) Validate() error {
	var errs []error
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.FusionPolicy == "" {
		errs = append(errs, errors.New("FUSION_POLICY must name a fusion policy"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("ORCHESTRATOR_WORKERS must be positive"))
	}
	if c.TaskTimeout <= 0 {
		errs = append(errs, errors.New("TASK_TIMEOUT must be positive"))
	}
	switch c.TextEngine {
	case TextEngineGRPC:
		if c.CapabilityAddr == "" {
			errs = append(errs, errors.New("CAPABILITY_ADDR is required when TEXT_ENGINE=grpc"))
		}
	case TextEngineOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when TEXT_ENGINE=openai"))
		}
	case TextEngineDisabled:
	default:
		errs = append(errs, fmt.Errorf("TEXT_ENGINE must be one of grpc, openai, disabled; got %q", c.TextEngine))
	}
	return joinInvalid(errs)
}

// ValidateServer additionally checks the settings the HTTP service needs.
func (c Config) ValidateServer() error {
	errs := []error{}
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required"))
	}
	return joinInvalid(errs)
}

func joinInvalid(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
