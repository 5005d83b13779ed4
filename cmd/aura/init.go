package main

import (
	"fmt"

	aura "github.com/aura-calendar/aura-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	initEnvironment string
	initUserID      string
	initStore       string
)

func init() {
	initCmd.Flags().StringVar(&initEnvironment, "env", "", "Backend environment (development or production)")
	initCmd.Flags().StringVar(&initUserID, "user-id", "", "User id sent with chat messages")
	initCmd.Flags().StringVar(&initStore, "store", "", "Conversation store backend (file or sqlite)")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create ~/.aura/config.toml",
	Long:  "Initialize the Aura CLI: pick a backend environment and start a new conversation id.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if initEnvironment != "" {
			if err := setConfigValue(cfg, "default.environment", initEnvironment); err != nil {
				return err
			}
		}
		if cfg.Default.Environment == "" {
			cfg.Default.Environment = string(aura.Development)
		}
		if initUserID != "" {
			cfg.Default.UserID = initUserID
		}
		if cfg.Default.UserID == "" {
			cfg.Default.UserID = aura.DefaultUserID
		}
		if initStore != "" {
			if err := setConfigValue(cfg, "chat.store", initStore); err != nil {
				return err
			}
		}
		if cfg.Chat.Store == "" {
			cfg.Chat.Store = storeFile
		}
		if cfg.Chat.ConversationID == "" {
			cfg.Chat.ConversationID = uuid.NewString()
		}
		if cfg.Monitor.Interval == "" {
			cfg.Monitor.Interval = aura.DefaultProbeInterval.String()
		}
		if cfg.Monitor.MinSpacing == "" {
			cfg.Monitor.MinSpacing = aura.DefaultProbeSpacing.String()
		}
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "warn"
		}
		if cfg.Watch.Schedule == "" {
			cfg.Watch.Schedule = defaultWatchSchedule
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", path)
		fmt.Fprintf(cmd.OutOrStdout(), "  Environment:  %s\n", cfg.Default.Environment)
		fmt.Fprintf(cmd.OutOrStdout(), "  Conversation: %s\n", cfg.Chat.ConversationID)
		return nil
	},
}
