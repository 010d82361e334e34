package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/emmett/zahl/internal/app"
	"github.com/emmett/zahl/internal/config"
	"github.com/emmett/zahl/internal/telemetry"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file (default: ~/.zahlrc or /etc/zahl/config.yaml)")
	port        = flag.Int("port", 0, "gRPC server port (default from config, 50051)")
	metricsPort = flag.Int("metrics-port", 0, "Serve Prometheus metrics on this port")
	modelName   = flag.String("model", "", "STT model name (default: vosk-model-small-de-0.15)")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Zahl gRPC Server v%s\n", Version)
		fmt.Printf("  Commit:  %s\n", GitCommit)
		fmt.Printf("  Branch:  %s\n", GitBranch)
		fmt.Printf("  Built:   %s\n", BuildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadWithFallback(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *metricsPort > 0 {
		cfg.Server.MetricsPort = *metricsPort
	}
	if *modelName != "" {
		cfg.Model.Default = *modelName
	}

	logger := cfg.Logger(os.Stderr)
	logger.Info("starting zahl gRPC server", slog.String("version", Version), slog.String("commit", GitCommit))

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the meter provider must exist before the app creates its instruments
	shutdown, metrics, err := telemetry.Setup(logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return app.NewServerHandler(a, metrics).Run(ctx)
}
