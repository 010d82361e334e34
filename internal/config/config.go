package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Model settings
	Model struct {
		Default          string `yaml:"default"`
		Path             string `yaml:"path"`
		URL              string `yaml:"url"`
		Dir              string `yaml:"dir"`
		Grammar          bool   `yaml:"grammar"`
		InitTimeoutMS    int    `yaml:"init_timeout_ms"`
		DownloadTimeoutS int    `yaml:"download_timeout_s"`
	} `yaml:"model"`

	// Arbiter timing
	Arbiter struct {
		DebounceMS     int `yaml:"debounce_ms"`
		RepeatWindowMS int `yaml:"repeat_window_ms"`
	} `yaml:"arbiter"`

	// Recognizer settings
	Recognizer struct {
		QueueFrames      int     `yaml:"queue_frames"`
		MaxRestarts      int     `yaml:"max_restarts"`
		RestartInitialMS int     `yaml:"restart_initial_ms"`
		RestartMaxMS     int     `yaml:"restart_max_ms"`
		RestartJitter    float64 `yaml:"restart_jitter"`
	} `yaml:"recognizer"`

	// Audio settings
	Audio struct {
		Device     string `yaml:"device"`
		SampleRate int    `yaml:"sample_rate"`
	} `yaml:"audio"`

	// Consent storage; empty keeps consent in memory only
	Consent struct {
		Dir string `yaml:"dir"`
	} `yaml:"consent"`

	// Journal settings; empty path disables it
	Journal struct {
		Path       string `yaml:"path"`
		MaxEntries int    `yaml:"max_entries"`
	} `yaml:"journal"`

	// Output settings
	Output struct {
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"output"`

	// Log settings
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	// Hotkey toggles listening; empty disables it
	Hotkey struct {
		Key string `yaml:"key"`
	} `yaml:"hotkey"`

	// Server settings
	Server struct {
		Host        string `yaml:"host"`
		Port        int    `yaml:"port"`
		MetricsPort int    `yaml:"metrics_port"`
	} `yaml:"server"`

	// Bus publishes events on NATS; no servers disables it
	Bus struct {
		Servers          []string `yaml:"servers"`
		Prefix           string   `yaml:"prefix"`
		Token            string   `yaml:"token"`
		ConnectTimeoutMS int      `yaml:"connect_timeout_ms"`
	} `yaml:"bus"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Model defaults
	cfg.Model.Default = ""
	cfg.Model.Grammar = true
	cfg.Model.InitTimeoutMS = 30000

	// Arbiter defaults
	cfg.Arbiter.DebounceMS = 350
	cfg.Arbiter.RepeatWindowMS = 1500

	// Recognizer defaults
	cfg.Recognizer.QueueFrames = 8
	cfg.Recognizer.MaxRestarts = 0
	cfg.Recognizer.RestartInitialMS = 500
	cfg.Recognizer.RestartMaxMS = 10000
	cfg.Recognizer.RestartJitter = 0.5

	// Audio defaults
	cfg.Audio.SampleRate = 16000

	// Journal defaults
	cfg.Journal.MaxEntries = 1000

	// Output defaults
	cfg.Output.Format = "text"

	// Log defaults
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	// Server defaults
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 50051
	cfg.Server.MetricsPort = 0

	// Bus defaults
	cfg.Bus.Prefix = "zahl"
	cfg.Bus.ConnectTimeoutMS = 2000

	return cfg
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithFallback attempts to load configuration from multiple locations
// Priority: explicit path > ~/.zahlrc > /etc/zahl/config.yaml > defaults.
// ZAHL_* environment variables override whichever was found.
func LoadWithFallback(explicitPath string) (*Config, error) {
	// If explicit path is provided, use it
	if explicitPath != "" {
		return Load(explicitPath)
	}

	// Try user config (~/.zahlrc)
	homeDir, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(homeDir, ".zahlrc")
		if _, err := os.Stat(userConfigPath); err == nil {
			cfg, err := Load(userConfigPath)
			if err == nil {
				return cfg, nil
			}
		}
	}

	// Try system config (/etc/zahl/config.yaml)
	systemConfigPath := "/etc/zahl/config.yaml"
	if _, err := os.Stat(systemConfigPath); err == nil {
		cfg, err := Load(systemConfigPath)
		if err == nil {
			return cfg, nil
		}
	}

	// No config file found, use defaults
	cfg := DefaultConfig()
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Arbiter.DebounceMS <= 0 {
		return errors.New("arbiter.debounce_ms must be positive")
	}
	if c.Arbiter.RepeatWindowMS < 0 {
		return errors.New("arbiter.repeat_window_ms must not be negative")
	}
	if c.Recognizer.MaxRestarts < 0 {
		return errors.New("recognizer.max_restarts must not be negative")
	}
	if c.Recognizer.RestartJitter < 0 || c.Recognizer.RestartJitter > 1 {
		return errors.New("recognizer.restart_jitter must be between 0 and 1")
	}
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	switch c.Output.Format {
	case "json", "text", "console":
	default:
		return fmt.Errorf("output.format must be one of json|text|console, got %q", c.Output.Format)
	}
	return nil
}

func applyEnv(cfg *Config) {
	overrideString(&cfg.Model.Default, "ZAHL_MODEL")
	overrideString(&cfg.Model.Path, "ZAHL_MODEL_PATH")
	overrideString(&cfg.Model.URL, "ZAHL_MODEL_URL")
	overrideString(&cfg.Model.Dir, "ZAHL_MODEL_DIR")
	overrideBool(&cfg.Model.Grammar, "ZAHL_MODEL_GRAMMAR")
	overrideInt(&cfg.Model.InitTimeoutMS, "ZAHL_MODEL_INIT_TIMEOUT_MS")
	overrideInt(&cfg.Arbiter.DebounceMS, "ZAHL_ARBITER_DEBOUNCE_MS")
	overrideInt(&cfg.Arbiter.RepeatWindowMS, "ZAHL_ARBITER_REPEAT_WINDOW_MS")
	overrideInt(&cfg.Recognizer.QueueFrames, "ZAHL_RECOGNIZER_QUEUE_FRAMES")
	overrideInt(&cfg.Recognizer.MaxRestarts, "ZAHL_RECOGNIZER_MAX_RESTARTS")
	overrideString(&cfg.Audio.Device, "ZAHL_AUDIO_DEVICE")
	overrideInt(&cfg.Audio.SampleRate, "ZAHL_AUDIO_SAMPLE_RATE")
	overrideString(&cfg.Consent.Dir, "ZAHL_CONSENT_DIR")
	overrideString(&cfg.Journal.Path, "ZAHL_JOURNAL_PATH")
	overrideInt(&cfg.Journal.MaxEntries, "ZAHL_JOURNAL_MAX_ENTRIES")
	overrideString(&cfg.Output.Format, "ZAHL_OUTPUT_FORMAT")
	overrideString(&cfg.Log.Level, "ZAHL_LOG_LEVEL")
	overrideString(&cfg.Log.Format, "ZAHL_LOG_FORMAT")
	overrideString(&cfg.Hotkey.Key, "ZAHL_HOTKEY")
	overrideString(&cfg.Server.Host, "ZAHL_SERVER_HOST")
	overrideInt(&cfg.Server.Port, "ZAHL_SERVER_PORT")
	overrideInt(&cfg.Server.MetricsPort, "ZAHL_METRICS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "ZAHL_BUS_SERVERS")
	overrideString(&cfg.Bus.Prefix, "ZAHL_BUS_PREFIX")
	overrideString(&cfg.Bus.Token, "ZAHL_BUS_TOKEN")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// Logger builds the process logger from the log settings
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Log.Level)}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Debounce returns the arbiter debounce window
func (c *Config) Debounce() time.Duration { return ms(c.Arbiter.DebounceMS) }

// RepeatWindow returns the arbiter repeat suppression window
func (c *Config) RepeatWindow() time.Duration { return ms(c.Arbiter.RepeatWindowMS) }

// InitTimeout returns the model initialization deadline
func (c *Config) InitTimeout() time.Duration { return ms(c.Model.InitTimeoutMS) }

// DownloadTimeout returns the model download deadline; zero means none
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Model.DownloadTimeoutS) * time.Second
}

// RestartIntervals returns the initial and maximum restart backoff
func (c *Config) RestartIntervals() (initial, maxInterval time.Duration) {
	return ms(c.Recognizer.RestartInitialMS), ms(c.Recognizer.RestartMaxMS)
}

// BusTimeout returns the NATS connect timeout
func (c *Config) BusTimeout() time.Duration { return ms(c.Bus.ConnectTimeoutMS) }
