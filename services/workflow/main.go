package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atelier-supply/workflow/composition"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func main() {
	cfg := LoadConfig()

	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("❌ workflow service stopped", zap.Error(err))
	}
}

func run(cfg Config, logger *zap.Logger) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	matchMode, err := composition.ParseMatchMode(cfg.MaterialMatchMode)
	if err != nil {
		return err
	}

	// Initialize OpenTelemetry
	tp, err := initTracer(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	mp, err := initMetrics(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			logger.Warn("Error shutting down meter", zap.Error(err))
		}
	}()

	// Initialize database
	dbPool, err := initDB(cfg.DB, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbPool.Close()

	if err := runMigrations(cfg.DB.DSN(), logger); err != nil {
		return err
	}

	redisClient, err := initRedis(cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redisClient.Close()

	tracer := tp.Tracer(cfg.ServiceName)
	meter := mp.Meter(cfg.ServiceName)

	// Initialize dependencies
	repository := NewPostgresRepository(dbPool)
	useCase, err := NewWorkflowUseCase(repository, logger, tracer, meter)
	if err != nil {
		return err
	}

	registry, closeChain, err := initRegistry(cfg.Chain, logger, tracer)
	if err != nil {
		return fmt.Errorf("failed to initialize chain registry: %w", err)
	}
	defer closeChain()

	var recorder ApprovalRecorder = useCase
	if cfg.DTM.Server != "" {
		if cfg.DTM.InternalToken == "" {
			return errors.New("INTERNAL_TOKEN is required when DTM_SERVER is set")
		}
		recorder = NewDTMApprovalRecorder(cfg.DTM, logger, tracer)
		logger.Info("🔗 Approvals are recorded through DTM", zap.String("dtm_server", cfg.DTM.Server))
	}

	lock := NewRedisApprovalLock(redisClient, cfg.Redis.LockTTL, logger)
	gate, err := NewApprovalGate(repository, registry, recorder, lock, matchMode, logger, tracer, meter)
	if err != nil {
		return err
	}

	rateLimit, err := RateLimit(cfg.ApprovalRateLimit)
	if err != nil {
		return err
	}

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	handler := NewWorkflowHandler(useCase, logger, tracer)
	approvalHandler := NewApprovalHandler(gate, useCase, cfg.DTM.InternalToken, logger, tracer)
	router := NewRouter(handler, approvalHandler, RouterOptions{
		ServiceName:       cfg.ServiceName,
		JWTSecret:         cfg.JWTSecret,
		ApprovalRateLimit: rateLimit,
		Logger:            logger,
		Tracing:           true,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  30 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("🚀 Workflow Service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	case sig := <-quit:
		logger.Info("🛑 Shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("✅ Server exited")
	return nil
}

func initDB(cfg DBConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = cfg.MaxConns
	config.MinConns = cfg.MinConns
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			logger.Info("✅ Connected to workflow database with connection pool")
			return pool, nil
		}
		logger.Info(fmt.Sprintf("⏳ Waiting for database... (%d/30)", i+1))
		time.Sleep(1 * time.Second)
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

func initRedis(cfg RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	logger.Info("✅ Connected to redis", zap.String("addr", cfg.Addr))
	return client, nil
}

// initRegistry dials the chain when CHAIN_RPC_URL is set. A nil registry
// disables server-signed approvals.
func initRegistry(cfg ChainConfig, logger *zap.Logger, tracer trace.Tracer) (ProductRegistry, func(), error) {
	if cfg.RPCURL == "" {
		logger.Warn("⚠️ CHAIN_RPC_URL not set, on-chain approval disabled")
		return nil, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, err
	}

	registry, err := NewEthProductRegistry(client, cfg, logger, tracer)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	logger.Info("✅ Approval contract bound",
		zap.String("contract", cfg.ContractAddress),
		zap.Int64("chain_id", cfg.ChainID),
		zap.Bool("signer", cfg.SignerKey != ""))
	return registry, client.Close, nil
}

// newResource describes this deployment to the collector: which chain and
// contract approvals go to, and how material names are matched.
func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
		attribute.Int64("chain.id", cfg.Chain.ChainID),
		attribute.Bool("chain.signing_enabled", cfg.Chain.RPCURL != ""),
		attribute.String("workflow.material_match_mode", cfg.MaterialMatchMode),
	}
	if cfg.Chain.ContractAddress != "" {
		attrs = append(attrs, attribute.String("chain.contract", cfg.Chain.ContractAddress))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

func initTracer(cfg Config) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio))),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMetrics(cfg Config) (*sdkmetric.MeterProvider, error) {
	ctx := context.Background()

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return mp, nil
}
