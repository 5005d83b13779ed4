package main

import (
	"context"
	"fmt"
	"time"

	aura "github.com/aura-calendar/aura-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and backend status",
	Long:  "Display the current configuration, probe the backend health endpoint and report the conversation log size.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		rt, err := loadRuntime(out)
		if err != nil {
			return err
		}
		cfg := rt.cfg

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Environment:  %s\n", environmentFor(cfg))
		fmt.Fprintf(out, "  Base URL:     %s\n", rt.client.BaseURL())
		fmt.Fprintf(out, "  User ID:      %s\n", rt.client.UserID())
		fmt.Fprintf(out, "  Conversation: %s\n", valueOrDefault(cfg.Chat.ConversationID, "(not set)"))
		fmt.Fprintf(out, "  Store:        %s\n", valueOrDefault(cfg.Chat.Store, storeFile))

		store, closeStore, err := rt.openConversation()
		if err != nil {
			fmt.Fprintf(out, "  Turns:        %v\n", err)
		} else {
			defer closeStore()
			turns := store.Load(cmd.Context())
			fmt.Fprintf(out, "  Turns:        %d\n", len(turns))
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Backend:")

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		monitor := aura.NewConnectionMonitor(rt.client, monitorOptions(cfg, nil, rt.logger))
		status, _ := monitor.Probe(ctx)
		switch status.State {
		case aura.StateConnected:
			fmt.Fprintf(out, "  Health:       %s\n", userColor.Sprint("connected"))
		default:
			fmt.Fprintf(out, "  Health:       %s\n", errorColor.Sprint(string(status.State)))
		}
		return nil
	},
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
