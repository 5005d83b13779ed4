package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	aura "github.com/aura-calendar/aura-go"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var watchSchedule string

func init() {
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "", "Cron expression overriding watch.schedule")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the agenda on a schedule",
	Long: `Print upcoming events on the cron schedule from watch.schedule
(default every 15 minutes) until interrupted. Each run also probes the
backend, so connection changes show up as they happen.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		rt, err := loadRuntime(out)
		if err != nil {
			return err
		}
		schedule := watchSchedule
		if schedule == "" {
			schedule = valueOrDefault(rt.cfg.Watch.Schedule, defaultWatchSchedule)
		}

		monitor := aura.NewConnectionMonitor(rt.client, monitorOptions(rt.cfg, rt.notifier, rt.logger))
		w := &agendaWatcher{
			events:  rt.client,
			monitor: monitor,
			out:     out,
			days:    rt.cfg.Watch.Days,
			logger:  rt.logger,
			now:     time.Now,
		}

		c := cron.New()
		if _, err := c.AddFunc(schedule, func() { w.tick(ctx) }); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", schedule, err)
		}

		dimColor.Fprintf(out, "Watching agenda (%s). Press Ctrl+C to stop.\n", schedule)
		w.tick(ctx)
		c.Start()

		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	},
}

// eventLister is the read side of the client used by the watcher.
type eventLister interface {
	ListEvents(ctx context.Context, start, end time.Time) ([]aura.Event, error)
}

// agendaWatcher prints the events of the coming days on each tick.
type agendaWatcher struct {
	events  eventLister
	monitor prober
	out     io.Writer
	days    int
	logger  *slog.Logger
	now     func() time.Time
}

func (w *agendaWatcher) tick(ctx context.Context) {
	status, _ := w.monitor.Probe(ctx)
	if status.State == aura.StateDisconnected {
		errorColor.Fprintln(w.out, "Backend unreachable; agenda not refreshed.")
		return
	}

	days := w.days
	if days <= 0 {
		days = 1
	}
	now := w.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, days)

	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	events, err := w.events.ListEvents(reqCtx, start, end)
	if err != nil {
		w.logger.Warn("agenda refresh failed", "error", err)
		return
	}

	fmt.Fprintln(w.out, noticeColor.Sprintf("Agenda at %s", now.Format("Mon Jan 2 15:04")))
	upcoming := 0
	for _, ev := range events {
		if !ev.IsActive() || ev.End.Before(now) {
			continue
		}
		upcoming++
		marker := " "
		if !ev.Start.After(now) {
			marker = "*"
		}
		fmt.Fprintf(w.out, " %s %s  %s\n", marker, dimColor.Sprint(formatRange(ev.Start, ev.End)), ev.Title)
	}
	if upcoming == 0 {
		fmt.Fprintln(w.out, "  Nothing scheduled.")
	}
}
