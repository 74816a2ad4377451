package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"HireScout/internal/app"
	"HireScout/internal/config"
	"HireScout/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		logger.Error("application stopped", "error", err)
		os.Exit(1)
	}
}
