package config

import (
	"errors"
	"testing"
	"time"

	"github.com/example/authdoc/internal/verification"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse(map[string]string{"FUSION_POLICY": "wide-band", "CAPABILITY_ADDR": "caps:50051"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.LogLevel != "info" || cfg.TextEngine != TextEngineGRPC {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.TaskTimeout != 2*time.Minute || cfg.Workers != 6 {
		t.Fatalf("unexpected orchestration defaults: %v %d", cfg.TaskTimeout, cfg.Workers)
	}
	if cfg.DatabaseDSN != defaultDatabaseDSN {
		t.Fatalf("expected default DSN, got %q", cfg.DatabaseDSN)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestPolicyHasNoSilentDefault(t *testing.T) {
	cfg, err := Parse(map[string]string{"TEXT_ENGINE": "disabled"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected missing FUSION_POLICY to be rejected, got %v", err)
	}
}

func TestPerMetricTimeouts(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"FUSION_POLICY": "narrow-band",
		"TEXT_ENGINE":   "disabled",
		"TASK_TIMEOUT":  "90s",
		"TIMEOUT_TEXT":  "30s",
		"TIMEOUT_ELA":   "5s",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	timeouts := cfg.Timeouts()
	if len(timeouts) != 2 || timeouts[verification.MetricText] != 30*time.Second || timeouts[verification.MetricELA] != 5*time.Second {
		t.Fatalf("unexpected overrides: %v", timeouts)
	}
	if cfg.TaskTimeout != 90*time.Second {
		t.Fatalf("unexpected task timeout %v", cfg.TaskTimeout)
	}
}

func TestValidateTextEngine(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		ok   bool
	}{
		{"grpc without address", map[string]string{"TEXT_ENGINE": "grpc"}, false},
		{"openai without key", map[string]string{"TEXT_ENGINE": "openai"}, false},
		{"openai with key", map[string]string{"TEXT_ENGINE": "openai", "OPENAI_API_KEY": "sk-test"}, true},
		{"unknown engine", map[string]string{"TEXT_ENGINE": "tesseract"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.vars["FUSION_POLICY"] = "wide-band"
			cfg, err := Parse(tt.vars)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestValidateServerRequiresSecret(t *testing.T) {
	cfg, err := Parse(map[string]string{"FUSION_POLICY": "wide-band", "TEXT_ENGINE": "disabled"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.ValidateServer(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected missing JWT_SECRET to be rejected, got %v", err)
	}
	cfg.JWTSecret = "s3cret"
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("expected valid server config, got %v", err)
	}
}

func TestParseRejectsMalformedDuration(t *testing.T) {
	if _, err := Parse(map[string]string{"TASK_TIMEOUT": "soon"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
