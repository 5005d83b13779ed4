package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.aura/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Chat    ConfigChat    `toml:"chat"`
	Monitor ConfigMonitor `toml:"monitor"`
	Logging ConfigLogging `toml:"logging"`
	Watch   ConfigWatch   `toml:"watch"`
}

// ConfigDefault holds backend settings.
type ConfigDefault struct {
	Environment string `toml:"environment"`
	BaseURL     string `toml:"base_url"`
	UserID      string `toml:"user_id"`
}

// ConfigChat holds conversation settings.
type ConfigChat struct {
	ConversationID string `toml:"conversation_id"`
	Store          string `toml:"store"`
	DataDir        string `toml:"data_dir"`
}

// ConfigMonitor holds connection probe settings as Go durations ("30s").
type ConfigMonitor struct {
	Interval   string `toml:"interval"`
	MinSpacing string `toml:"min_spacing"`
}

// ConfigLogging selects the log level and format (text or json).
type ConfigLogging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ConfigWatch holds the agenda refresh schedule, a cron expression.
type ConfigWatch struct {
	Schedule string `toml:"schedule"`
	Days     int    `toml:"days"`
}

const (
	storeFile   = "file"
	storeSQLite = "sqlite"

	defaultWatchSchedule = "*/15 * * * *"
)

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.aura (or $AURA_HOME), creating it if needed.
func configDir() (string, error) {
	dir := os.Getenv("AURA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".aura")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "chat.store").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.environment)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "environment":
			if value != "development" && value != "production" {
				return fmt.Errorf("environment must be development or production, got %q", value)
			}
			cfg.Default.Environment = value
		case "base_url":
			cfg.Default.BaseURL = value
		case "user_id":
			cfg.Default.UserID = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "chat":
		switch field {
		case "conversation_id":
			cfg.Chat.ConversationID = value
		case "store":
			if value != storeFile && value != storeSQLite {
				return fmt.Errorf("store must be %s or %s, got %q", storeFile, storeSQLite, value)
			}
			cfg.Chat.Store = value
		case "data_dir":
			cfg.Chat.DataDir = value
		default:
			return fmt.Errorf("unknown field %q in section [chat]", field)
		}
	case "monitor":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		switch field {
		case "interval":
			cfg.Monitor.Interval = value
		case "min_spacing":
			cfg.Monitor.MinSpacing = value
		default:
			return fmt.Errorf("unknown field %q in section [monitor]", field)
		}
	case "logging":
		switch field {
		case "level":
			cfg.Logging.Level = value
		case "format":
			cfg.Logging.Format = value
		default:
			return fmt.Errorf("unknown field %q in section [logging]", field)
		}
	case "watch":
		switch field {
		case "schedule":
			if _, err := cron.ParseStandard(value); err != nil {
				return fmt.Errorf("watch.schedule: %w", err)
			}
			cfg.Watch.Schedule = value
		case "days":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return fmt.Errorf("watch.days must be a positive integer, got %q", value)
			}
			cfg.Watch.Days = n
		default:
			return fmt.Errorf("unknown field %q in section [watch]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, chat, monitor, logging, watch)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:          "aura",
	Short:        "Aura calendar assistant CLI",
	Long:         "Command-line client for the Aura calendar assistant.\nChat with the assistant, manage events and check backend status.",
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
