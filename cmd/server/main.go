package main

import (
	"github.com/joho/godotenv"

	"github.com/datim/adx-mediator/internal/app"
	"github.com/datim/adx-mediator/internal/config"
	"github.com/datim/adx-mediator/pkg/logger"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	boot := logger.New(logger.Options{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(boot, "failed to load configuration", "error", err)
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	mediator, err := config.LoadMediator(cfg.MediatorConfigFile)
	if err != nil {
		logger.Fatal(log, "failed to load mediator config", "error", err)
	}

	log.Info("adx mediator starting", "urn", mediator.URN, "version", mediator.Version, "register", cfg.Register)

	if err := app.NewApp(cfg, mediator, log).Run(); err != nil {
		logger.Fatal(log, "mediator stopped with error", "error", err)
	}
}
