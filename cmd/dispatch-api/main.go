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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/reliefops/crisis-dispatch-api/api/swagger"
	"github.com/reliefops/crisis-dispatch-api/internal/handler"
	"github.com/reliefops/crisis-dispatch-api/internal/middleware"
	"github.com/reliefops/crisis-dispatch-api/internal/models"
	"github.com/reliefops/crisis-dispatch-api/internal/repository"
	"github.com/reliefops/crisis-dispatch-api/internal/service"
	"github.com/reliefops/crisis-dispatch-api/pkg/cache"
	"github.com/reliefops/crisis-dispatch-api/pkg/config"
	"github.com/reliefops/crisis-dispatch-api/pkg/database"
	"github.com/reliefops/crisis-dispatch-api/pkg/jobs"
	"github.com/reliefops/crisis-dispatch-api/pkg/logger"
	corsmiddleware "github.com/reliefops/crisis-dispatch-api/pkg/middleware/cors"
	reqidmiddleware "github.com/reliefops/crisis-dispatch-api/pkg/middleware/requestid"
	"github.com/reliefops/crisis-dispatch-api/pkg/notify"
	"github.com/reliefops/crisis-dispatch-api/pkg/storage"
)

// @title Crisis Dispatch API
// @version 0.1.0
// @description Disaster response dispatch: crisis feed, volunteer fan-out, assignment lifecycle and ratings
// @BasePath /api/v1
// @schemes http

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, notifications and feed cache disabled", "error", err)
		redisClient = nil
	}

	var notifier notify.Notifier = notify.Nop{}
	if redisClient != nil {
		notifier = notify.NewRedisNotifier(redisClient, cfg.Dispatch.ChannelPrefix, logr)
	}

	proofStore, err := storage.NewLocalStorage(cfg.Proofs.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init proof storage", "error", err)
	}
	proofSigner := storage.NewSignedURLSigner(cfg.Proofs.SignedURLSecret, cfg.Proofs.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	crisisRepo := repository.NewCrisisRepository(db)
	volunteerRepo := repository.NewVolunteerRepository(db)
	responseRepo := repository.NewResponseRepository(db)
	ratingRepo := repository.NewRatingRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()
	metrics := service.NewMetricsService()

	notifications := service.NewNotificationService(notifier, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	}, logr)
	notifications.Start(ctx)
	defer notifications.Stop()

	authSvc := service.NewAuthService(userRepo, volunteerRepo, validate, logr, service.AuthConfig{
		Secret: cfg.JWT.Secret,
		Expiry: cfg.JWT.Expiration,
		Issuer: "crisis-dispatch-api",
	})
	eligibilitySvc := service.NewEligibilityService(crisisRepo, volunteerRepo, logr)
	dispatchSvc := service.NewDispatchService(crisisRepo, eligibilitySvc, responseRepo, notifier, metrics, logr, cfg.Dispatch.FanoutConcurrency)
	assignmentSvc := service.NewAssignmentService(responseRepo, volunteerRepo, userRepo, crisisRepo, notifications, validate, metrics, logr)

	crisisSvc := service.NewCrisisService(crisisRepo, nil, metrics, logr, cfg.Feed.CacheTTL)
	if cfg.Feed.CacheEnabled && redisClient != nil {
		crisisSvc = service.NewCrisisService(crisisRepo, cacheRepo, metrics, logr, cfg.Feed.CacheTTL)
	}

	volunteerSvc := service.NewVolunteerService(volunteerRepo, responseRepo, notifications, validate, logr)
	ratingSvc := service.NewRatingService(ratingRepo, responseRepo, volunteerRepo, userRepo, notifications, validate, logr)
	proofSvc := service.NewProofService(proofStore, proofSigner, logr, cfg.Proofs.MaxFileSizeBytes, cfg.Proofs.AllowedMIMEs)
	reportSvc := service.NewReportService(crisisRepo, responseRepo, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	crisisHandler := handler.NewCrisisHandler(crisisSvc, dispatchSvc, assignmentSvc)
	volunteerHandler := handler.NewVolunteerHandler(volunteerSvc, assignmentSvc)
	ratingHandler := handler.NewRatingHandler(ratingSvc, proofSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	metricsHandler := handler.NewMetricsHandler(metrics, db, redisClient)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	requireAuth := middleware.JWT(authSvc)
	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.GET("/users/me", requireAuth, authHandler.Me)

	crises := api.Group("/crises", requireAuth)
	crises.GET("", crisisHandler.List)
	crises.GET("/:id", crisisHandler.Get)
	crises.POST("/:id/request-help",
		middleware.RequireRoles(models.RoleCivilian, models.RoleAdmin),
		crisisHandler.RequestHelp)
	crises.POST("/:id/assign",
		middleware.RequireRoles(models.RoleAdmin),
		middleware.Audit(userRepo, models.AuditActionAdminAssign, "crises"),
		crisisHandler.Assign)

	volunteers := api.Group("/volunteers", requireAuth, middleware.RequireRoles(models.RoleVolunteer))
	volunteers.GET("/profile", volunteerHandler.Profile)
	volunteers.PUT("/profile", volunteerHandler.UpdateProfile)
	volunteers.GET("/assignments", volunteerHandler.Assignments)

	assignments := api.Group("/assignments", requireAuth, middleware.RequireRoles(models.RoleVolunteer))
	assignments.POST("/:id/accept", volunteerHandler.Accept)
	assignments.POST("/:id/complete", volunteerHandler.Complete)
	assignments.POST("/:id/fail", volunteerHandler.Fail)

	ratings := api.Group("/ratings")
	ratings.POST("", requireAuth, middleware.RequireRoles(models.RoleCivilian, models.RoleAdmin), ratingHandler.Submit)
	ratings.GET("/volunteer/:id", requireAuth, ratingHandler.ListByVolunteer)
	ratings.POST("/proofs", requireAuth, middleware.RequireRoles(models.RoleCivilian, models.RoleAdmin), ratingHandler.UploadProof)
	ratings.GET("/proofs/:token", ratingHandler.DownloadProof)

	if cfg.Reports.Enabled {
		reports := api.Group("/reports", requireAuth, middleware.RequireRoles(models.RoleAdmin))
		reports.GET("/crises/:id/responses", reportHandler.CrisisResponses)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
