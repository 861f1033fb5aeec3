package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-assistant-api/api/swagger"
	"github.com/noah-isme/sma-assistant-api/internal/handler"
	"github.com/noah-isme/sma-assistant-api/internal/middleware"
	"github.com/noah-isme/sma-assistant-api/internal/models"
	"github.com/noah-isme/sma-assistant-api/internal/repository"
	"github.com/noah-isme/sma-assistant-api/internal/service"
	"github.com/noah-isme/sma-assistant-api/pkg/cache"
	"github.com/noah-isme/sma-assistant-api/pkg/config"
	"github.com/noah-isme/sma-assistant-api/pkg/database"
	"github.com/noah-isme/sma-assistant-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-assistant-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-assistant-api/pkg/middleware/requestid"
)

// @title SMA Assistant API
// @version 0.1.0
// @description Role scoped retrieval and audit for the in-app school assistant
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	readiness := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}

	metricsSvc := service.NewMetricsService()
	limitCfg := service.RateLimitConfig{Max: cfg.Assistant.RateLimitMax, Window: cfg.Assistant.RateLimitWindow}

	var limiter *service.RateLimiter
	switch cfg.Assistant.RateLimitBackend {
	case config.RateLimitBackendPostgres:
		limiter = service.NewRateLimiter(repository.NewPostgresCounterStore(db), limitCfg, metricsSvc, logr)
	default:
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close()
		readiness["redis"] = func(ctx context.Context) error { return redisPing(ctx, redisClient) }
		limiter = service.NewRateLimiter(repository.NewRedisCounterStore(redisClient), limitCfg, metricsSvc, logr)
	}

	auditRepo := repository.NewAuditRepository(db)
	var auditSvc *service.AuditService
	if cfg.Audit.MirrorPath != "" {
		mirror, err := repository.NewAuditMirror(cfg.Audit)
		if err != nil {
			logr.Fatal("failed to open audit mirror", zap.Error(err))
		}
		defer mirror.Close() //nolint:errcheck
		auditSvc = service.NewAuditService(cfg.Assistant.AgentKey, auditRepo, mirror, metricsSvc, logr)
	} else {
		auditSvc = service.NewAuditService(cfg.Assistant.AgentKey, auditRepo, nil, metricsSvc, logr)
	}

	resolver, err := service.NewDocumentResolver(repository.NewAssistantRepository(db, cfg.Database.ScopeRole), service.ResolverConfig{
		PassingGrade:  cfg.Assistant.PassingGrade,
		FinanceMonths: cfg.Assistant.FinanceMonths,
	}, metricsSvc, logr)
	if err != nil {
		logr.Fatal("failed to build document resolver", zap.Error(err))
	}

	limits := service.ComposerLimits{MaxDocuments: cfg.Assistant.MaxDocuments, MaxReplyChars: cfg.Assistant.MaxReplyChars}
	templateComposer := service.NewTemplateComposer(limits)
	deps := service.AssistantDeps{
		Binder:   service.NewContextBinder(),
		Limiter:  limiter,
		Resolver: resolver,
		Composer: templateComposer,
		Audit:    auditSvc,
	}
	if cfg.Assistant.Composer == config.ComposerLLM {
		deps.Composer = service.NewLLMComposer(service.LLMConfig{
			BaseURL: cfg.Assistant.LLM.BaseURL,
			APIKey:  cfg.Assistant.LLM.APIKey,
			Model:   cfg.Assistant.LLM.Model,
			Timeout: cfg.Assistant.LLM.Timeout,
		}, limits, nil)
		deps.Fallback = templateComposer
	}
	assistantSvc := service.NewAssistantService(deps, validator.New(), metricsSvc, logr)

	tokens := service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	metricsHandler := handler.NewMetricsHandler(metricsSvc, readiness)
	assistantHandler := handler.NewAssistantHandler(assistantSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/assistant/chat", middleware.JWT(tokens), middleware.RequireRoles(models.AllRoles()...), assistantHandler.Chat)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Info("server starting",
			zap.String("addr", addr),
			zap.String("env", cfg.Env),
			zap.String("rate_limit_backend", cfg.Assistant.RateLimitBackend),
			zap.Duration("rate_limit_window", limiter.Window()),
			zap.String("composer", cfg.Assistant.Composer),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

func redisPing(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
