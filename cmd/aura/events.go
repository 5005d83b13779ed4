package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	aura "github.com/aura-calendar/aura-go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// events list / export
	eventsFrom   string
	eventsTo     string
	eventsDays   int
	eventsOutput string
	eventsFile   string

	// events create / update
	eventTitle       string
	eventStart       string
	eventEnd         string
	eventDuration    time.Duration
	eventDescription string
	eventLocation    string
	eventImportance  int
	eventRepeat      string
	eventCount       int
	eventForce       bool

	// events import
	eventsDryRun bool
)

// ============================================================================
// Output
// ============================================================================

// eventView is the printable form of an event.
type eventView struct {
	ID          int64     `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	Start       time.Time `json:"start" yaml:"start"`
	End         time.Time `json:"end" yaml:"end"`
	Location    string    `json:"location,omitempty" yaml:"location,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Importance  int       `json:"importance" yaml:"importance"`
	Status      string    `json:"status" yaml:"status"`
}

func viewOf(ev aura.Event) eventView {
	v := eventView{
		ID:         ev.ID,
		Title:      ev.Title,
		Start:      ev.Start.Time,
		End:        ev.End.Time,
		Importance: ev.Importance,
		Status:     string(ev.Status),
	}
	if ev.Location != nil {
		v.Location = *ev.Location
	}
	if ev.Description != nil {
		v.Description = *ev.Description
	}
	return v
}

func renderEvents(w io.Writer, events []aura.Event, format string) error {
	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		views = append(views, viewOf(ev))
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return err
		}
		return enc.Close()
	case "", "table":
		if len(views) == 0 {
			fmt.Fprintln(w, "No events found.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tWHEN\tTITLE\tIMPORTANCE\tLOCATION")
		for i, v := range views {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
				v.ID, formatRange(events[i].Start, events[i].End), v.Title, v.Importance, v.Location)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (valid: table, json, yaml)", format)
	}
}

// listWindow resolves --from/--to/--days into a time range.
func listWindow(now time.Time) (time.Time, time.Time, error) {
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if eventsFrom != "" {
		t, err := parseWhen(eventsFrom, now)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
		}
		from = t
	}
	days := eventsDays
	if days <= 0 {
		days = 7
	}
	to := from.AddDate(0, 0, days)
	if eventsTo != "" {
		t, err := parseWhen(eventsTo, now)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
		}
		to = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to must be after --from")
	}
	return from, to, nil
}

func parseEventID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", aura.ErrInvalidEventID, s)
	}
	return id, nil
}

// ============================================================================
// Root events command
// ============================================================================

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Manage calendar events",
	Long:  "List, create, update and delete calendar events, and move them in and out of iCalendar files.",
}

// ============================================================================
// events list
// ============================================================================

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events in a time window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		from, to, err := listWindow(time.Now())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		events, err := rt.client.ListEvents(ctx, from, to)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		return renderEvents(cmd.OutOrStdout(), events, eventsOutput)
	},
}

// ============================================================================
// events create
// ============================================================================

func draftFromFlags(now time.Time) (aura.EventDraft, error) {
	var d aura.EventDraft
	if eventStart == "" {
		return d, fmt.Errorf("--start is required")
	}
	start, err := parseWhen(eventStart, now)
	if err != nil {
		return d, fmt.Errorf("--start: %w", err)
	}
	end := start.Add(eventDuration)
	if eventEnd != "" {
		if end, err = parseWhen(eventEnd, now); err != nil {
			return d, fmt.Errorf("--end: %w", err)
		}
	}

	d = aura.EventDraft{
		Title:      eventTitle,
		Start:      aura.At(start),
		End:        aura.At(end),
		Importance: eventImportance,
	}
	if eventDescription != "" {
		d.Description = &eventDescription
	}
	if eventLocation != "" {
		d.Location = &eventLocation
	}
	return d, d.Validate()
}

// findConflicts asks the backend first and falls back to checking the
// listed events locally when the remote check fails.
func findConflicts(ctx context.Context, client *aura.Client, draft aura.EventDraft) ([]aura.Event, error) {
	check, err := client.CheckConflicts(ctx, draft.Start.Time, draft.End.Time, 0)
	if err == nil {
		return check.Conflicts, nil
	}
	day := 24 * time.Hour
	known, err := client.ListEvents(ctx, draft.Start.Add(-day), draft.End.Add(day))
	if err != nil {
		return nil, err
	}
	return aura.DetectConflicts(draft, known, 0), nil
}

var eventsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an event, resolving conflicts interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		rt, err := loadRuntime(out)
		if err != nil {
			return err
		}
		draft, err := draftFromFlags(time.Now())
		if err != nil {
			return err
		}

		drafts := []aura.EventDraft{draft}
		if eventRepeat != "" {
			if drafts, err = aura.ExpandRecurrence(draft, eventRepeat, eventCount); err != nil {
				return err
			}
		}

		store, closeStore, err := rt.openConversation()
		if err != nil {
			return err
		}
		defer closeStore()
		store.Load(cmd.Context())
		resolver := aura.NewConflictResolver(rt.client, store, rt.notifier, rt.logger)
		in := bufio.NewScanner(cmd.InOrStdin())

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		for _, d := range drafts {
			if !eventForce {
				conflicts, err := findConflicts(ctx, rt.client, d)
				if err != nil {
					rt.logger.Warn("conflict check unavailable", "error", err)
				}
				if len(conflicts) > 0 {
					if err := promptConflict(ctx, resolver, store, aura.ConflictCase{ProposedEvent: d, ConflictingEvents: conflicts}, in, out); err != nil {
						return err
					}
					continue
				}
			}

			created, err := rt.client.CreateEvent(ctx, d)
			if err != nil {
				return fmt.Errorf("create %q: %w", d.Title, err)
			}
			fmt.Fprintf(out, "Created event %d: %s (%s)\n", created.ID, created.Title, formatRange(created.Start, created.End))
		}
		return nil
	},
}

// promptConflict opens c on the resolver and reads choices until it is
// resolved. The outcome is printed from the conversation log.
func promptConflict(ctx context.Context, resolver *aura.ConflictResolver, store *aura.ConversationStore, c aura.ConflictCase, in *bufio.Scanner, out io.Writer) error {
	resolver.Open(c)
	for resolver.IsOpen() {
		current, _ := resolver.Current()
		printConflict(out, current, resolver.Pending())
		fmt.Fprint(out, noticeColor.Sprint("choice> "))
		if !in.Scan() {
			fmt.Fprintln(out)
			return resolver.Cancel(ctx)
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		before := store.Len()
		if err := resolveConflict(ctx, resolver, line); err != nil {
			errorColor.Fprintf(out, "Error: %v\n", err)
		}
		turns := store.Turns()
		for _, turn := range turns[min(before, len(turns)):] {
			printTurn(out, turn)
		}
	}
	return nil
}

// ============================================================================
// events update
// ============================================================================

var eventsUpdateCmd = &cobra.Command{
	Use:   "update <event-id>",
	Short: "Change fields of an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEventID(args[0])
		if err != nil {
			return err
		}
		rt, err := loadRuntime(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		now := time.Now()
		var patch aura.EventPatch
		flags := cmd.Flags()
		if flags.Changed("title") {
			patch.Title = &eventTitle
		}
		if flags.Changed("description") {
			patch.Description = &eventDescription
		}
		if flags.Changed("location") {
			patch.Location = &eventLocation
		}
		if flags.Changed("importance") {
			patch.Importance = &eventImportance
		}
		if flags.Changed("start") {
			t, err := parseWhen(eventStart, now)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			ts := aura.At(t)
			patch.Start = &ts
		}
		if flags.Changed("end") {
			t, err := parseWhen(eventEnd, now)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			ts := aura.At(t)
			patch.End = &ts
		}
		if patch.IsEmpty() {
			return fmt.Errorf("nothing to update: pass at least one field flag")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		updated, err := rt.client.UpdateEvent(ctx, id, patch)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated event %d: %s (%s)\n", updated.ID, updated.Title, formatRange(updated.Start, updated.End))
		return nil
	},
}

// ============================================================================
// events delete
// ============================================================================

var eventsDeleteCmd = &cobra.Command{
	Use:   "delete <event-id>",
	Short: "Delete an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEventID(args[0])
		if err != nil {
			return err
		}
		rt, err := loadRuntime(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		conf, err := rt.client.DeleteEvent(ctx, id)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), conf.Message)
		return nil
	},
}

// ============================================================================
// events export / import
// ============================================================================

var eventsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write events in a time window as an iCalendar file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		from, to, err := listWindow(time.Now())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		events, err := rt.client.ListEvents(ctx, from, to)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if eventsFile == "" || eventsFile == "-" {
			return aura.ExportICS(cmd.OutOrStdout(), events)
		}
		f, err := os.Create(eventsFile)
		if err != nil {
			return err
		}
		if err := aura.ExportICS(f, events); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d event(s) to %s\n", len(events), eventsFile)
		return nil
	},
}

var eventsImportCmd = &cobra.Command{
	Use:   "import <file.ics>",
	Short: "Create events from an iCalendar file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		drafts, err := aura.ImportICS(f)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if eventsDryRun {
			for _, d := range drafts {
				fmt.Fprintf(out, "would create: %s (%s)\n", d.Title, formatRange(d.Start, d.End))
			}
			return nil
		}

		rt, err := loadRuntime(out)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		created := 0
		for _, d := range drafts {
			ev, err := rt.client.CreateEvent(ctx, d)
			if err != nil {
				errorColor.Fprintf(out, "skipped %q: %v\n", d.Title, err)
				continue
			}
			created++
			fmt.Fprintf(out, "Created event %d: %s\n", ev.ID, ev.Title)
		}
		fmt.Fprintf(out, "Imported %d of %d event(s)\n", created, len(drafts))
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&eventsFrom, "from", "", "Window start (today, tomorrow, HH:MM or ISO timestamp)")
	cmd.Flags().StringVar(&eventsTo, "to", "", "Window end (defaults to --from plus --days)")
	cmd.Flags().IntVar(&eventsDays, "days", 7, "Window length in days")
}

func addFieldFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&eventTitle, "title", "", "Event title")
	cmd.Flags().StringVar(&eventStart, "start", "", "Start (HH:MM today, or ISO timestamp)")
	cmd.Flags().StringVar(&eventEnd, "end", "", "End (HH:MM today, or ISO timestamp)")
	cmd.Flags().StringVar(&eventDescription, "description", "", "Event description")
	cmd.Flags().StringVar(&eventLocation, "location", "", "Event location")
	cmd.Flags().IntVar(&eventImportance, "importance", 5, "Importance from 0 to 10")
}

func init() {
	// events list
	addWindowFlags(eventsListCmd)
	eventsListCmd.Flags().StringVarP(&eventsOutput, "output", "o", "table", "Output format: table, json or yaml")

	// events create
	addFieldFlags(eventsCreateCmd)
	eventsCreateCmd.Flags().DurationVar(&eventDuration, "duration", time.Hour, "Duration when --end is not given")
	eventsCreateCmd.Flags().StringVar(&eventRepeat, "repeat", "", "Recurrence rule, e.g. FREQ=WEEKLY;COUNT=4")
	eventsCreateCmd.Flags().IntVar(&eventCount, "max", aura.DefaultMaxOccurrences, "Maximum occurrences created by --repeat")
	eventsCreateCmd.Flags().BoolVar(&eventForce, "force", false, "Skip the conflict check")

	// events update
	addFieldFlags(eventsUpdateCmd)

	// events export
	addWindowFlags(eventsExportCmd)
	eventsExportCmd.Flags().StringVarP(&eventsFile, "file", "f", "", "Output file (default stdout)")

	// events import
	eventsImportCmd.Flags().BoolVar(&eventsDryRun, "dry-run", false, "Print the events without creating them")

	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsCreateCmd)
	eventsCmd.AddCommand(eventsUpdateCmd)
	eventsCmd.AddCommand(eventsDeleteCmd)
	eventsCmd.AddCommand(eventsExportCmd)
	eventsCmd.AddCommand(eventsImportCmd)

	rootCmd.AddCommand(eventsCmd)
}
