package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apiHTTP "tootplan/internal/controller/http"
	"tootplan/internal/platform"
	"tootplan/internal/repo/persistent"
	"tootplan/internal/scheduler"
	"tootplan/internal/usecase"
	"tootplan/pkg/cache"
	"tootplan/pkg/config"
	"tootplan/pkg/crypto"
	"tootplan/pkg/database"
	"tootplan/pkg/jwt"
	"tootplan/pkg/logger"
	"tootplan/pkg/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type App struct {
	cfg         *config.Config
	log         *logger.Logger
	db          *gorm.DB
	redisClient *redis.Client
	jwtService  *jwt.Service
	encryptor   *crypto.FieldEncryptor
	engine      *scheduler.Engine
	httpServer  *http.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	log := logger.New()

	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		log.Error("Failed to connect to database: %v", err)
		return nil, err
	}

	redisClient, err := cache.NewRedisClient(cfg)
	if err != nil {
		log.Error("Failed to connect to redis: %v (continuing without rate limiting)", err)
		redisClient = nil
	}

	encryptor, err := crypto.NewFieldEncryptor([]byte(cfg.ServerKey), "credentials")
	if err != nil {
		log.Error("Failed to initialize credential encryption: %v", err)
		return nil, err
	}

	return &App{
		cfg:         cfg,
		log:         log,
		db:          db,
		redisClient: redisClient,
		jwtService:  jwt.NewService(cfg.JWTSecret),
		encryptor:   encryptor,
	}, nil
}

func (a *App) Run() error {
	// Repositories
	userRepo := persistent.NewUserRepository(a.db)
	accountRepo := persistent.NewAccountRepository(a.db)
	postRepo := persistent.NewPostRepository(a.db)
	stateRepo := persistent.NewOAuthStateRepository(a.db)

	// Platform adapters
	mastodon := platform.NewMastodon()
	registry := platform.NewRegistry(mastodon, platform.NewBluesky())

	// Publishing engine
	dispatcher := scheduler.NewDispatcher(registry, a.encryptor)
	a.engine = scheduler.NewEngine(
		postRepo, accountRepo, dispatcher, a.log,
		scheduler.WithInterval(time.Duration(a.cfg.SchedulerIntervalSeconds)*time.Second),
	)
	if err := a.engine.Start(); err != nil {
		a.log.Error("Failed to start scheduler: %v", err)
		return err
	}

	// Use cases
	redirectURI := a.cfg.BackendURL + "/api/v1/accounts/mastodon/callback"
	authUseCase := usecase.NewAuthUseCase(userRepo, a.jwtService, a.log)
	accountUseCase := usecase.NewAccountUseCase(accountRepo, stateRepo, mastodon, registry, a.encryptor, redirectURI, a.log)
	postUseCase := usecase.NewPostUseCase(postRepo, accountRepo, a.engine, a.log)

	// HTTP handlers
	authHandler := apiHTTP.NewAuthHandler(authUseCase)
	accountHandler := apiHTTP.NewAccountHandler(accountUseCase, a.cfg.FrontendURL, a.log)
	postHandler := apiHTTP.NewPostHandler(postUseCase, a.log)

	// Setup router
	r := gin.Default()

	// CORS middleware
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{a.cfg.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := a.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(503, gin.H{"status": "degraded", "error": "database unreachable"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		api.GET("/auth/status", authHandler.Status)
		api.POST("/auth/setup", middleware.RateLimitMiddleware(a.redisClient, 5, time.Minute), authHandler.Setup)
		api.POST("/auth/login", middleware.RateLimitMiddleware(a.redisClient, 10, time.Minute), authHandler.Login)

		// Mastodon redirects the user's browser here, so it cannot carry a token
		api.GET("/accounts/mastodon/callback", accountHandler.MastodonCallback)

		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(a.jwtService))
		{
			protected.GET("/auth/me", authHandler.Me)
			protected.POST("/auth/logout", authHandler.Logout)

			protected.POST("/accounts/mastodon/connect", accountHandler.ConnectMastodon)
			protected.POST("/accounts/bluesky/connect", accountHandler.ConnectBluesky)
			protected.GET("/accounts", accountHandler.ListAccounts)
			protected.GET("/accounts/:id/status", accountHandler.CheckStatus)
			protected.DELETE("/accounts/:id", accountHandler.DeleteAccount)

			protected.POST("/posts", postHandler.CreatePost)
			protected.GET("/posts", postHandler.ListPosts)
			protected.GET("/posts/:id", postHandler.GetPost)
			protected.POST("/posts/:id/retry", postHandler.RetryPost)
			protected.DELETE("/posts/:id", postHandler.DeletePost)
		}
	}

	a.httpServer = &http.Server{
		Addr:    ":" + a.cfg.ServerPort,
		Handler: r,
	}

	go func() {
		a.log.Info("Tootplan starting on port %s", a.cfg.ServerPort)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("Failed to start server: %v", err)
			panic(err)
		}
	}()

	return nil
}

func (a *App) Wait() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	a.log.Info("Shutting down...")
}

func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Let an in-flight publish attempt finish before closing connections.
	if a.engine != nil {
		a.engine.Stop()
	}

	sqlDB, err := a.db.DB()
	if err == nil {
		if err := sqlDB.Close(); err != nil {
			a.log.Error("Error closing database: %v", err)
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Error("Error closing Redis: %v", err)
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.log.Error("Server forced to shutdown: %v", err)
			return err
		}
	}

	a.log.Info("Tootplan exited")
	return nil
}
