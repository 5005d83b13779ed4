package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	aura "github.com/aura-calendar/aura-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Aura configuration",
	Long:  "View or modify the Aura CLI configuration stored in ~/.aura/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "No configuration file found. Run 'aura init' to create one.")
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprint(out, string(data))

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Fprintln(out)
		return writeResolved(out, cfg)
	},
}

// writeResolved prints the settings commands will actually use once
// AURA_ENV, base_url and the defaults are applied.
func writeResolved(w io.Writer, cfg *Config) error {
	client := newClient(cfg, nil, nil)
	location, err := conversationLocation(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "# resolved")
	fmt.Fprintf(w, "# environment  = %s\n", environmentFor(cfg))
	fmt.Fprintf(w, "# base_url     = %s\n", client.BaseURL())
	fmt.Fprintf(w, "# user_id      = %s\n", client.UserID())
	fmt.Fprintf(w, "# conversation = %s\n", location)
	return nil
}

// conversationLocation names where the chat log lives for the configured store.
func conversationLocation(cfg *Config) (string, error) {
	dir, err := dataDir(cfg)
	if err != nil {
		return "", err
	}
	switch cfg.Chat.Store {
	case storeSQLite:
		return fmt.Sprintf("%s (key %s)", filepath.Join(dir, "aura.db"), conversationKey(cfg)), nil
	default:
		return aura.NewFileBlobStore(dir).Path(conversationKey(cfg)), nil
	}
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: aura config set chat.store sqlite",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Set %s = %s\n", key, value)
		switch key {
		case "default.environment", "default.base_url":
			fmt.Fprintf(out, "Backend: %s\n", newClient(cfg, nil, nil).BaseURL())
		case "chat.store", "chat.data_dir", "chat.conversation_id":
			location, err := conversationLocation(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Conversation log: %s\n", location)
		}
		return nil
	},
}
