// Package main runs the membership API server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ledgerdesk/backend/config"
	"github.com/ledgerdesk/backend/internal/auth"
	"github.com/ledgerdesk/backend/internal/emaillogs"
	"github.com/ledgerdesk/backend/internal/memberships"
	"github.com/ledgerdesk/backend/internal/middleware"
	"github.com/ledgerdesk/backend/internal/notifier"
	"github.com/ledgerdesk/backend/internal/organizations"
	"github.com/ledgerdesk/backend/internal/reaper"
	"github.com/ledgerdesk/backend/internal/worker"
	"github.com/ledgerdesk/backend/pkg/database"
	"github.com/ledgerdesk/backend/pkg/queue"
	"github.com/ledgerdesk/backend/pkg/redis"
	"github.com/ledgerdesk/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Memberships and invitations
	memberRepo := memberships.NewRepository(pool)
	inviteNotifier := notifier.New(jobQueue, logger)
	memberService := memberships.NewService(memberRepo, inviteNotifier, logger)
	memberHandler := memberships.NewHandler(memberService, memberRepo, logger)

	// Organizations
	orgRepo := organizations.NewRepository(pool)
	orgHandler := organizations.NewHandler(orgRepo, memberRepo, logger)

	// Email audit trail
	emailLogsRepo := emaillogs.NewRepository(pool)
	emailLogsHandler := emaillogs.NewHandler(emailLogsRepo, logger)

	// In-server invitation mailer (small deployments run without cmd/worker)
	mailer := worker.NewInvitationMailer(emailLogsRepo, jobQueue, nil, cfg.Email.FromName, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Users (admin only)
		api.GET("/users", middleware.RequireRole("admin"), authHandler.List)

		// Organizations
		api.GET("/organizations", orgHandler.ListMyOrganizations)
		api.POST("/organizations", orgHandler.CreateOrganization)
		api.GET("/organizations/:id", orgHandler.GetOrganization)
		api.PATCH("/organizations/:id/member-limit", middleware.RequireRole("admin"), orgHandler.UpdateMemberLimit)

		// Memberships and invitations
		api.GET("/organizations/:id/members", memberHandler.ListMembers)
		api.POST("/organizations/:id/invitations", memberHandler.Invite)
		api.POST("/invitations/accept", memberHandler.Accept)
		api.DELETE("/memberships/:id", memberHandler.Remove)
		api.PATCH("/memberships/:id/role", memberHandler.ChangeRole)

		// Notification audit trail
		api.GET("/organizations/:id/emails", memberHandler.RequireOrgAccess(emailLogsHandler.ListByOrganization))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background jobs: invitation mailer and the expiry reaper loop.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go mailer.Run(bgCtx)
	if cfg.Invitations.SweepInterval > 0 {
		go reaper.New(memberRepo, logger).Run(bgCtx, cfg.Invitations.SweepInterval)
		logger.Info("invitation reaper started", zap.Duration("interval", cfg.Invitations.SweepInterval))
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
