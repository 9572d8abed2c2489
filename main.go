package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/fruitscan/internal/auth"
	"github.com/example/fruitscan/internal/config"
	"github.com/example/fruitscan/internal/handlers"
	"github.com/example/fruitscan/internal/healthcheck"
	"github.com/example/fruitscan/internal/inference"
	"github.com/example/fruitscan/internal/logging"
	"github.com/example/fruitscan/internal/pipeline"
	"github.com/example/fruitscan/internal/repository"
	"github.com/example/fruitscan/internal/usecase"
)

func main() {
	cfg, cfgErr := config.Load()

	logger, err := logging.NewLogger(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfgErr != nil {
		logger.Fatal("invalid configuration", zap.Error(cfgErr))
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pipeOpts, err := cfg.PipelineOptions()
	if err != nil {
		return err
	}
	provider := inference.NewProvider(cfg.Artifacts(), logger)
	defer provider.Close() //nolint:errcheck
	// A load failure is logged by the provider and leaves the pipeline in
	// placeholder mode.
	engine, _ := provider.Engine()
	pipe := pipeline.New(engine, pipeOpts, logger)

	var cache usecase.Cache
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := initRedis(redisCtx, cfg.RedisAddr)
		redisCancel()
		if err != nil {
			logger.Warn("redis unavailable, prediction cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			defer client.Close()
			cache = usecase.NewRedisCache(client)
		}
	}

	opts := handlers.Options{
		Predictions:    usecase.NewPredictionUseCase(pipe, cache, cfg.CacheTTL, logger),
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateLimit:      cfg.RateLimit,
		Logger:         logger,
	}

	if cfg.DatabaseDSN != "" {
		db, err := initDatabase(ctx, cfg.DatabaseDSN)
		if err != nil {
			return logging.NewOperationError("main.init_database", "", err)
		}
		repo := repository.NewRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			return err
		}
		issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTAudience, cfg.TokenTTL)
		if err != nil {
			return err
		}
		opts.Accounts = usecase.NewAccountUseCase(repo, issuer, logger)
		opts.History = usecase.NewHistoryUseCase(repo, logger)
		opts.Auth = auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
		opts.DatabaseCheck = repo.Ping
	} else {
		logger.Info("DATABASE_DSN not set, account and history routes disabled")
	}

	router, err := newRouter(cfg, opts, logger)
	if err != nil {
		return err
	}

	if cfg.GRPCHealthAddr != "" {
		listener, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return logging.NewOperationError("main.listen_grpc_health", "", err)
		}
		health := healthcheck.NewServer(pipe.Ready(), logger)
		go func() {
			if err := health.Serve(listener); err != nil {
				logger.Error("gRPC health server stopped", zap.Error(err))
			}
		}()
		defer health.Stop(cfg.ShutdownTimeout)
	}

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	logger.Info("fruitscan API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.Bool("model_loaded", pipe.Ready()),
	)
	return serveHTTPServer(server, cfg.ShutdownTimeout, logger)
}

func newRouter(cfg config.Config, opts handlers.Options, logger *zap.Logger) (*gin.Engine, error) {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.MaxMultipartMemory = cfg.MaxUploadBytes
	r.Use(gin.Recovery(), handlers.RequestID(), handlers.AccessLog(logger))

	if err := handlers.RegisterRoutes(r, opts); err != nil {
		return nil, err
	}
	return r, nil
}

func initDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

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

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

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
