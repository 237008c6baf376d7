package main

import (
	"tootplan/internal/app"
	"tootplan/pkg/config"
	"tootplan/pkg/logger"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	if cfg.JWTSecret == "your-secret-key-change-in-production" || cfg.JWTSecret == "" {
		panic("JWT_SECRET must be set in environment variables")
	}
	if cfg.ServerKey == "" {
		panic("SERVER_KEY must be set: credentials cannot be stored without it")
	}

	log := logger.New()

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Error("Failed to initialize: %v", err)
		panic(err)
	}

	if err := application.Run(); err != nil {
		log.Error("Failed to run: %v", err)
		panic(err)
	}

	application.Wait()

	if err := application.Shutdown(); err != nil {
		log.Error("Shutdown error: %v", err)
	}
}
