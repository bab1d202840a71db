package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"threadsync/internal/app"
	"threadsync/pkg/banner"
	"threadsync/pkg/config"
	"threadsync/pkg/logger"
	"threadsync/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseConfigFlags()
	cfg, err := config.LoadEffective(flags)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	// Summarize where the effective config came from.
	srcs := []string{}
	if len(flags.Set) > 0 {
		srcs = append(srcs, "flags")
	}
	if config.ApplyEnvOverrides(&config.Config{}) {
		srcs = append(srcs, "env")
	}
	cfgPath := config.ResolveConfigPath(flags.Config, flags.Set["config"])
	if _, err := os.Stat(cfgPath); err == nil {
		srcs = append(srcs, "config")
	}

	verStr := version
	if commit != "none" {
		verStr = verStr + " (" + commit + ")"
	}
	if buildDate != "unknown" {
		verStr = verStr + " @ " + buildDate
	}
	banner.Print(cfg.Agent.BaseURL, cfg.Storage.DBPath, strings.Join(srcs, ", "), verStr)

	a, err := app.New(cfg, version)
	if err != nil {
		shutdown.Abort("startup failed", err, cfg.Storage.StateDir)
	}
	defer a.Close()

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("run failed", err, cfg.Storage.StateDir)
	}
}
