package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/authdoc/internal/capability"
	"github.com/example/authdoc/internal/config"
	"github.com/example/authdoc/internal/engine"
	"github.com/example/authdoc/internal/fusion"
	"github.com/example/authdoc/internal/grpcclient"
	"github.com/example/authdoc/internal/observability"
	"github.com/example/authdoc/internal/openaiclient"
	"github.com/example/authdoc/internal/orchestrator"
)

// buildEngine assembles the scoring engine described by cfg. The returned cleanup
// releases the capability connection and is never nil.
func buildEngine(ctx context.Context, cfg config.Config, logger *zap.Logger) (*engine.Engine, func(), error) {
	cleanup := func() {}

	policy, err := fusion.Resolve(cfg.FusionPolicy, cfg.PolicyFile)
	if err != nil {
		return nil, cleanup, err
	}

	client, cleanup, err := buildCapabilities(ctx, cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}

	observer := observability.NewZapObserver(logger)
	orch, err := orchestrator.New(engine.StandardTasks(client, logger), orchestrator.Config{
		Workers:        cfg.Workers,
		DefaultTimeout: cfg.TaskTimeout,
		Timeouts:       cfg.Timeouts(),
	}, observer, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	eng, err := engine.New(orch, policy, observer, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	logger.Info("verification engine ready",
		zap.String("policy", policy.Name),
		zap.String("text_engine", cfg.TextEngine),
		zap.Bool("layout_capability", cfg.CapabilityAddr != ""),
	)
	return eng, cleanup, nil
}

// buildCapabilities dials the capability service when an address is configured. Layout
// scoring always goes through it; text matching follows TEXT_ENGINE. Anything left unset
// is served by capability.Disabled.
func buildCapabilities(ctx context.Context, cfg config.Config, logger *zap.Logger) (capability.Client, func(), error) {
	client := capability.Client{}
	cleanup := func() {}

	if cfg.CapabilityAddr != "" {
		grpcClient, conn, err := grpcclient.DialCapability(ctx, cfg.CapabilityAddr, logger)
		if err != nil {
			return client, cleanup, err
		}
		cleanup = func() {
			if err := conn.Close(); err != nil {
				logger.Warn("failed to close capability connection", zap.Error(err))
			}
		}
		client.Layout = grpcClient
		if cfg.TextEngine == config.TextEngineGRPC {
			client.Text = grpcClient
		}
	}

	if cfg.TextEngine == config.TextEngineOpenAI {
		client.Text = openaiclient.New(openaiclient.Config{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			VisionModel:    cfg.OpenAIVisionModel,
			EmbeddingModel: cfg.OpenAIEmbeddingModel,
		}, logger)
	}

	return client.WithDefaults(), cleanup, nil
}
