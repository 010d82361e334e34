package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emmett/zahl/internal/app"
	"github.com/emmett/zahl/internal/config"
	"github.com/emmett/zahl/internal/journal"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

var (
	configFile     = flag.String("config", "", "Path to configuration file (default: ~/.zahlrc or /etc/zahl/config.yaml)")
	listModels     = flag.Bool("list-models", false, "List all available models for download")
	listDownloaded = flag.Bool("list-downloaded", false, "List all downloaded models")
	downloadModel  = flag.String("download-model", "", "Download a specific model by name")
	modelName      = flag.String("model", "", "Use a specific model (default: vosk-model-small-de-0.15)")
	setDefault     = flag.String("set-default", "", "Set a model as the default")
	outputFormat   = flag.String("format", "", "Output format: console, json, text")
	outputFile     = flag.String("output", "", "Output file (default: stdout)")
	audioDevice    = flag.String("device", "", "Audio input device name (use --list-devices to see available devices)")
	listDevices    = flag.Bool("list-devices", false, "List all available audio input devices")
	hotkeyCombo    = flag.String("hotkey", "", "Toggle listening with a global hotkey, e.g. ctrl+shift+space")
	assumeYes      = flag.Bool("yes", false, "Accept the speech consent prompt without asking")
	showLevel      = flag.Bool("level", false, "Show the microphone level in console mode")
	recent         = flag.Int("recent", 0, "Print the last N recognized numbers from the journal and exit")
	showVersion    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Zahl CLI v%s\n", Version)
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
	applyFlags(cfg)

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// applyFlags lets explicitly set flags override the configuration
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.Model.Default = *modelName
		case "format":
			cfg.Output.Format = *outputFormat
		case "output":
			cfg.Output.File = *outputFile
		case "device":
			cfg.Audio.Device = *audioDevice
		case "hotkey":
			cfg.Hotkey.Key = *hotkeyCombo
		}
	})
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listDevices {
		return app.NewDeviceManager(os.Stdout).ListDevices()
	}

	store, err := app.NewModelStore(cfg)
	if err != nil {
		return err
	}
	mgr := app.NewModelManager(store, os.Stdout)
	switch {
	case *listModels:
		return mgr.ListModels()
	case *listDownloaded:
		return mgr.ListDownloaded()
	case *downloadModel != "":
		return mgr.Download(ctx, *downloadModel)
	case *setDefault != "":
		return mgr.SetDefault(*setDefault)
	case *recent > 0:
		return printRecent(ctx, cfg, *recent)
	}

	if cfg.Audio.Device != "" {
		device, err := app.NewDeviceManager(os.Stdout).Resolve(cfg.Audio.Device)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Using device: %s\n", device.Name)
	}

	logger := cfg.Logger(os.Stderr)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintf(os.Stderr, "Zahl CLI v%s (commit: %s, branch: %s, built: %s)\n", Version, GitCommit, GitBranch, BuildTime)
	return app.Listen(ctx, a.Session(), app.ListenOptions{
		Format:      cfg.Output.Format,
		OutputFile:  cfg.Output.File,
		Hotkey:      cfg.Hotkey.Key,
		AutoConsent: *assumeYes,
		ShowLevel:   *showLevel,
		Logger:      logger,
	})
}

func printRecent(ctx context.Context, cfg *config.Config, n int) error {
	if cfg.Journal.Path == "" {
		return fmt.Errorf("journal is disabled; set journal.path in the configuration")
	}
	j, err := journal.Open(ctx, journal.Config{Path: cfg.Journal.Path, MaxEntries: cfg.Journal.MaxEntries}, nil)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(ctx, journal.KindNumber, n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No numbers recognized yet.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %3d  %s\n", e.CreatedAt.Local().Format(time.DateTime), e.Value, e.SessionID)
	}
	return nil
}
