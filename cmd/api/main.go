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

	_ "github.com/davidolu/coursereg-api/api/swagger"
	"github.com/davidolu/coursereg-api/internal/handler"
	"github.com/davidolu/coursereg-api/internal/middleware"
	"github.com/davidolu/coursereg-api/internal/models"
	"github.com/davidolu/coursereg-api/internal/repository"
	"github.com/davidolu/coursereg-api/internal/service"
	"github.com/davidolu/coursereg-api/pkg/cache"
	"github.com/davidolu/coursereg-api/pkg/config"
	"github.com/davidolu/coursereg-api/pkg/database"
	"github.com/davidolu/coursereg-api/pkg/jobs"
	"github.com/davidolu/coursereg-api/pkg/logger"
	"github.com/davidolu/coursereg-api/pkg/mailer"
	corsmiddleware "github.com/davidolu/coursereg-api/pkg/middleware/cors"
	reqidmiddleware "github.com/davidolu/coursereg-api/pkg/middleware/requestid"
	"github.com/davidolu/coursereg-api/pkg/storage"
)

// @title Course Registration API
// @version 1.0.0
// @description University course registration portal with an officer approval workflow
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, catalog cache disabled", "error", err)
		redisClient = nil
	}

	signatureStore, err := storage.NewSignatureStore(cfg.Registration.SignatureDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare signature store", "error", err)
	}
	urlSigner := storage.NewSignedURLSigner(cfg.Registration.SignedURLSecret, cfg.Registration.SignedURLTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "coursereg-api",
		Audience:           []string{"coursereg-portal"},
	})
	userSvc := service.NewUserService(userRepo, signatureStore, urlSigner, validate, logr)
	sessionSvc := service.NewSessionService(sessionRepo, validate, logr)
	catalogSvc := service.NewCatalogService(catalogRepo, cacheRepo, cfg.Catalog.CacheTTL, metricsSvc, validate, logr)
	registrationSvc := service.NewRegistrationService(registrationRepo, catalogRepo, sessionRepo, userRepo, service.RegistrationPolicy{
		MaxUnits:        cfg.Registration.MaxUnits,
		DefaultSemester: cfg.Registration.DefaultSemester,
		DefaultLevel:    cfg.Registration.DefaultLevel,
	}, metricsSvc, validate, logr)

	notificationSvc := service.NewNotificationService(mailer.New(cfg.SMTP, logr), cfg.Registration.FrontendURL, logr)
	notificationQueue := jobs.NewQueue("notifications", notificationSvc.HandleJob, jobs.QueueConfig{
		Workers:    2,
		BufferSize: 64,
		MaxRetries: 3,
		RetryDelay: 10 * time.Second,
		Logger:     logr,
	})
	notificationQueue.Start(ctx)
	defer notificationQueue.Stop()

	workflowSvc := service.NewWorkflowService(registrationRepo, userRepo, userRepo, notificationQueue, metricsSvc, validate, logr)
	formSvc := service.NewFormService(registrationRepo, signatureStore, urlSigner, cfg.Registration.SchoolName, logr)

	authHandler := handler.NewAuthHandler(authSvc, userSvc)
	userHandler := handler.NewUserHandler(userSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	registrationHandler := handler.NewRegistrationHandler(registrationSvc, workflowSvc, formSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		protected := auth.Group("", middleware.JWT(authSvc))
		protected.POST("/logout", authHandler.Logout)
		protected.POST("/change-password", authHandler.ChangePassword)
		protected.GET("/me", authHandler.Me)
	}

	api.GET("/signatures/download", userHandler.DownloadSignature)

	users := api.Group("/users", middleware.JWT(authSvc))
	{
		users.GET("", middleware.RequireAdmin(), userHandler.List)
		users.PUT("/me", userHandler.UpdateProfile)
		users.POST("/me/signature", userHandler.UploadSignature)
		users.GET("/me/signature", userHandler.SignatureURL)
		users.GET("/:id", userHandler.Get)
	}

	sessions := api.Group("/sessions", middleware.JWT(authSvc))
	{
		sessions.GET("", sessionHandler.List)
		sessions.GET("/current", sessionHandler.Current)
		sessions.GET("/:id", sessionHandler.Get)

		manage := sessions.Group("", middleware.RequireCapability(models.CapManageSessions))
		manage.POST("", sessionHandler.Create)
		manage.PUT("/:id", sessionHandler.Update)
		manage.PUT("/:id/current", middleware.Audit(userRepo, models.AuditActionSessionSetCurrent, "sessions"), sessionHandler.SetCurrent)
		manage.DELETE("/:id", sessionHandler.Delete)
	}

	departments := api.Group("/departments", middleware.JWT(authSvc))
	{
		departments.GET("", catalogHandler.ListDepartments)

		manage := departments.Group("", middleware.RequireCapability(models.CapManageCatalog), middleware.Audit(userRepo, models.AuditActionCatalogMutate, "departments"))
		manage.POST("", catalogHandler.CreateDepartment)
		manage.PUT("/:id", catalogHandler.UpdateDepartment)
		manage.DELETE("/:id", catalogHandler.DeleteDepartment)
	}

	courses := api.Group("/courses", middleware.JWT(authSvc))
	{
		courses.GET("", catalogHandler.ListCourses)
		courses.GET("/:id", catalogHandler.GetCourse)

		manage := courses.Group("", middleware.RequireCapability(models.CapManageCatalog), middleware.Audit(userRepo, models.AuditActionCatalogMutate, "courses"))
		manage.POST("", catalogHandler.CreateCourse)
		manage.PUT("/:id", catalogHandler.UpdateCourse)
		manage.DELETE("/:id", catalogHandler.DeleteCourse)
	}

	registrations := api.Group("/registrations", middleware.JWT(authSvc))
	{
		registrations.POST("", registrationHandler.Submit)
		registrations.GET("", registrationHandler.List)
		registrations.GET("/:id", registrationHandler.Get)
		registrations.GET("/:id/form", registrationHandler.Form)
		registrations.GET("/:id/form.pdf", registrationHandler.FormPDF)
		registrations.DELETE("/courses/:courseId", registrationHandler.Deregister)

		registrations.PUT("/:id/courses", middleware.RequireCapability(models.CapEditRegistration), registrationHandler.EditCourses)
		registrations.POST("/cleanup", middleware.RequireCapability(models.CapCleanupRegistrations), registrationHandler.Cleanup)
		registrations.GET("/export", middleware.RequireCapability(models.CapExportRegistrations), registrationHandler.ExportCSV)
		registrations.POST("/:id/review", middleware.RequireCapability(models.CapReviewRegistration), registrationHandler.Review)
		registrations.POST("/:id/sign", middleware.RequireCapability(models.CapAppendSignature), registrationHandler.Sign)
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
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}
