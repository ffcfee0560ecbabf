package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-status-api/api/swagger"
	"github.com/noah-isme/sma-status-api/internal/handler"
	"github.com/noah-isme/sma-status-api/internal/middleware"
	"github.com/noah-isme/sma-status-api/internal/repository"
	"github.com/noah-isme/sma-status-api/internal/service"
	"github.com/noah-isme/sma-status-api/pkg/cache"
	"github.com/noah-isme/sma-status-api/pkg/config"
	"github.com/noah-isme/sma-status-api/pkg/database"
	"github.com/noah-isme/sma-status-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-status-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-status-api/pkg/middleware/requestid"
)

// @title SMA Status API
// @version 1.0.0
// @description Status assignment rule engine: frequency policies, exclusivity and terminal cascades.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	switch {
	case errors.Is(err, cache.ErrDisabled):
		logr.Info("redis disabled; subject cache and assignment events are off")
	case err != nil:
		logr.Warn("redis unavailable; continuing without cache and events", zap.Error(err))
		redisClient = nil
	default:
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	assignmentRepo := repository.NewStatusAssignmentRepository(db, repository.WithQueryObserver(metrics))
	definitionRepo := repository.NewStatusDefinitionRepository(db)
	scopeRepo := repository.NewScopeRepository(db)

	catalog := service.NewStatusCatalogService(definitionRepo, logr)
	if cfg.Status.SeedOnBoot {
		inserted, err := catalog.Seed(ctx, service.DefaultStatusDefinitions())
		if err != nil {
			logr.Fatal("failed to seed status definitions", zap.Error(err))
		}
		logr.Info("status definitions seeded", zap.Int("inserted", inserted))
	}

	exclusivity, err := service.NewExclusivityRuleSet(cfg.Status.ExclusivePairs)
	if err != nil {
		logr.Fatal("invalid STATUS_EXCLUSIVE_PAIRS", zap.Error(err))
	}
	rules := service.StatusRules{
		Resolver:    service.NewScopeResolver(scopeRepo),
		Evaluator:   service.NewFrequencyPolicyEvaluator(service.WithRequiredApplicability(cfg.Status.RequiredChecksApplicability)),
		Exclusivity: exclusivity,
		Cascade:     service.NewCascadeController(cfg.Status.ReactivateMode, logr),
	}

	reconciler := service.NewCascadeReconciler(service.ReconcilerConfig{
		Workers:    cfg.Status.ReconcileWorkers,
		MaxRetries: cfg.Status.ReconcileRetries,
		RetryDelay: cfg.Status.ReconcileDelay,
	}, metrics, logr)

	opts := []service.StatusAssignmentOption{
		service.WithAssignmentMetrics(metrics),
		service.WithCascadeRetrier(reconciler),
	}
	pingers := map[string]handler.Pinger{"postgres": db}
	var notifier *service.RedisNotifier
	if redisClient != nil {
		cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient), metrics, cfg.Status.SubjectCacheTTL, logr, true)
		notifier = service.NewRedisNotifier(redisClient, cfg.Status.NotifyChannel, logr)
		opts = append(opts,
			service.WithAssignmentCache(cacheSvc, cfg.Status.SubjectCacheTTL),
			service.WithAssignmentNotifier(notifier),
		)
		pingers["redis"] = redisPinger{client: redisClient}
	}

	assignments := service.NewStatusAssignmentService(assignmentRepo, catalog, rules, validate, logr, opts...)
	reconciler.Start(ctx, assignments.ReconcileCascade)

	verifier := service.NewTokenVerifier(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	assignmentHandler := handler.NewStatusAssignmentHandler(assignments)
	definitionHandler := handler.NewStatusDefinitionHandler(catalog)
	metricsHandler := handler.NewMetricsHandler(metrics, pingers)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/engine", metricsHandler.Engine)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	writers := []gin.HandlerFunc{middleware.JWT(verifier), middleware.StatusWriters()}

	api.Use(middleware.OptionalJWT(verifier))
	api.GET("/status-definitions", definitionHandler.List)
	api.GET("/status-definitions/:id", definitionHandler.Get)
	api.POST("/status-definitions/refresh", append(writers, definitionHandler.Refresh)...)

	api.GET("/status-assignments/:id", assignmentHandler.Get)
	api.GET("/subjects/:subjectId/status-assignments", assignmentHandler.ListForSubject)
	api.POST("/status-assignments", append(writers, assignmentHandler.Create)...)
	api.PATCH("/status-assignments/:id", append(writers, assignmentHandler.Update)...)
	api.DELETE("/status-assignments/:id", append(writers, assignmentHandler.Delete)...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	reconciler.Stop()
	notifier.Close()
}
