// Package main is the entry point for the news portal backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pressgate/pressgate/internal/auth"
	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	gitCommit = "unknown"
)

type cliFlags struct {
	configPath  string
	showVersion bool
	mintSubject string
	mintTTL     time.Duration
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		fmt.Printf("pressgate version %s (%s)\n", version, gitCommit)
		return
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if flags.mintSubject != "" {
		token, err := auth.MintAdminToken(cfg.Auth.AdminJWTSecret, cfg.Auth.AdminJWTIssuer, flags.mintSubject, flags.mintTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to mint admin token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting pressgate",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, flags.configPath, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", observability.Error(err))
	}

	if err := app.Run(ctx); err != nil {
		logger.Fatal("application error", observability.Error(err))
	}

	logger.Info("shutdown complete")
}

func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("PRESSGATE_CONFIG_PATH", "configs/pressgate.yaml"),
		"Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	mintSubject := flag.String("mint-admin-token", "",
		"Print an admin bearer token for the given subject and exit")
	mintTTL := flag.Duration("admin-token-ttl", 24*time.Hour,
		"Lifetime of the minted admin token")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		showVersion: *showVersion,
		mintSubject: *mintSubject,
		mintTTL:     *mintTTL,
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
