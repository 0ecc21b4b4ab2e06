package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/authdoc/internal/auth"
	"github.com/example/authdoc/internal/config"
	"github.com/example/authdoc/internal/handlers"
	"github.com/example/authdoc/internal/repository"
	"github.com/example/authdoc/internal/usecase"
)

const startupTimeout = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the verification HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.cfg
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, ctx.logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address override")
	return cmd
}

func runServer(parent context.Context, cfg config.Config, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, startupTimeout)
	defer cancel()

	db, err := initDatabase(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	repo := repository.NewVerificationRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient, err := initRedis(redisCtx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	eng, closeEngine, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeEngine()

	uc := usecase.NewVerificationUseCase(repo, usecase.NewRedisCache(redisClient), eng, logger)

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(uc, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("verification API listening", zap.String("addr", cfg.HTTPAddr), zap.String("policy", eng.Policy().Name))
	return serveHTTPServer(server, cfg.ShutdownTimeout, logger)
}

// newRouter builds the HTTP API around svc with JWT auth and request logging.
func newRouter(svc handlers.Service, cfg config.Config, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	r.MaxMultipartMemory = int64(cfg.MaxUploadBytes)

	authMiddleware := auth.JWTMiddleware(auth.Options{
		Secret:   cfg.JWTSecret,
		Audience: cfg.JWTAudience,
		Issuer:   cfg.JWTIssuer,
		Leeway:   cfg.JWTLeeway,
	})
	handlers.RegisterRoutes(r, svc, authMiddleware, int64(cfg.MaxUploadBytes))
	return r
}

func initDatabase(ctx context.Context, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("database connected")
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	return client, nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	httpLogger := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		httpLogger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

// serveHTTPServerWithOptions serves until the server fails or a shutdown signal arrives.
// A nil listener uses server.Addr and a nil signalCh subscribes to SIGINT and SIGTERM.
func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
