package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	aura "github.com/aura-calendar/aura-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the calendar assistant",
	Long: `Start an interactive conversation with the assistant.

The conversation is stored locally and resumed on the next run. Commands:
  /retry   check the backend connection again
  /status  show the connection state
  /clear   start over with a fresh conversation
  /copy    copy the last assistant reply to the clipboard
  /quit    leave the chat`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		rt, err := loadRuntime(out)
		if err != nil {
			return err
		}
		store, closeStore, err := rt.openConversation()
		if err != nil {
			return err
		}
		defer closeStore()

		monitor := aura.NewConnectionMonitor(rt.client, monitorOptions(rt.cfg, rt.notifier, rt.logger))
		monitor.Start(ctx)
		defer monitor.Stop()

		resolver := aura.NewConflictResolver(rt.client, store, rt.notifier, rt.logger)
		session := aura.NewSession(aura.SessionConfig{
			ConversationID: rt.cfg.Chat.ConversationID,
			Sender:         rt.client,
			Store:          store,
			Resolver:       resolver,
			Connection:     monitor,
			Notifier:       rt.notifier,
			Logger:         rt.logger,
		})

		repl := newChatREPL(session, monitor, cmd.InOrStdin(), out)
		return repl.run(ctx)
	},
}

// ============================================================================
// REPL
// ============================================================================

// prober is the part of the connection monitor the REPL drives.
type prober interface {
	aura.ConnectionStatusReader
	Probe(ctx context.Context) (aura.ConnectionStatus, bool)
}

type chatREPL struct {
	session  *aura.Session
	monitor  prober
	in       *bufio.Scanner
	out      io.Writer
	shown    int
	copyText func(string) error
}

var errQuit = errors.New("quit")

func newChatREPL(session *aura.Session, monitor prober, in io.Reader, out io.Writer) *chatREPL {
	return &chatREPL{
		session:  session,
		monitor:  monitor,
		in:       bufio.NewScanner(in),
		out:      out,
		copyText: clipboard.WriteAll,
	}
}

func (r *chatREPL) run(ctx context.Context) error {
	for _, turn := range r.session.Start(ctx) {
		printTurn(r.out, turn)
	}
	r.shown = len(r.session.Turns())

	for {
		resolver := r.session.Resolver()
		conflict, open := aura.ConflictCase{}, false
		if resolver != nil {
			conflict, open = resolver.Current()
		}

		if open {
			printConflict(r.out, conflict, resolver.Pending())
			fmt.Fprint(r.out, noticeColor.Sprint("choice> "))
		} else {
			fmt.Fprint(r.out, userColor.Sprint("you> "))
		}

		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(r.in.Text())

		var err error
		switch {
		case open && line != "" && !strings.HasPrefix(line, "/"):
			err = resolveConflict(ctx, resolver, line)
		case strings.HasPrefix(line, "/"):
			err = r.command(ctx, line)
		default:
			err = r.session.Submit(ctx, line)
		}
		r.flush()

		switch {
		case errors.Is(err, errQuit):
			return nil
		case errors.Is(err, aura.ErrDisconnected):
			errorColor.Fprintln(r.out, "The assistant is unreachable. Type /retry to check again.")
		case errors.Is(err, aura.ErrBusy):
			dimColor.Fprintln(r.out, "Still working on your last message.")
		case err != nil:
			errorColor.Fprintf(r.out, "Error: %v\n", err)
		}
	}
}

// flush prints the assistant turns appended since the last call. User
// turns were typed at the prompt and are not echoed.
func (r *chatREPL) flush() {
	turns := r.session.Turns()
	if r.shown > len(turns) {
		r.shown = 0
	}
	for _, turn := range turns[r.shown:] {
		if turn.Role != aura.RoleUser {
			printTurn(r.out, turn)
		}
	}
	r.shown = len(turns)
}

func (r *chatREPL) command(ctx context.Context, line string) error {
	switch strings.ToLower(strings.Fields(line)[0]) {
	case "/quit", "/exit":
		return errQuit
	case "/clear":
		turns, err := r.session.Clear(ctx)
		if err != nil {
			return err
		}
		r.shown = len(turns)
		for _, turn := range turns {
			printTurn(r.out, turn)
		}
		return nil
	case "/retry":
		status, probed := r.monitor.Probe(ctx)
		if !probed {
			dimColor.Fprintln(r.out, "Checked moments ago; try again shortly.")
		}
		fmt.Fprintf(r.out, "Backend is %s.\n", status.State)
		return nil
	case "/status":
		fmt.Fprintf(r.out, "Backend is %s.\n", r.monitor.Status().State)
		return nil
	case "/copy":
		turns := r.session.Turns()
		for i := len(turns) - 1; i >= 0; i-- {
			if turns[i].Role == aura.RoleAssistant {
				if err := r.copyText(turns[i].Text); err != nil {
					return fmt.Errorf("could not copy to clipboard: %w", err)
				}
				dimColor.Fprintln(r.out, "Reply copied to clipboard.")
				return nil
			}
		}
		return errors.New("nothing to copy yet")
	case "/help":
		fmt.Fprintln(r.out, "Commands: /retry /status /copy /clear /quit")
		return nil
	default:
		return fmt.Errorf("unknown command %q (try /help)", line)
	}
}

// resolveConflict applies one of "r <n>", "k" or "c" to the open conflict.
func resolveConflict(ctx context.Context, resolver *aura.ConflictResolver, line string) error {
	fields := strings.Fields(strings.ToLower(line))
	switch fields[0] {
	case "c", "cancel":
		return resolver.Cancel(ctx)
	case "k", "keep":
		return resolver.KeepBoth(ctx)
	case "r", "replace":
		if len(fields) < 2 {
			current, _ := resolver.Current()
			if len(current.ConflictingEvents) != 1 {
				return errors.New("which event? use r <n>")
			}
			return resolver.ReplaceAt(ctx, 0)
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("not an event number: %q", fields[1])
		}
		return resolver.ReplaceAt(ctx, n-1)
	default:
		return fmt.Errorf("unknown choice %q: use r <n>, k or c", line)
	}
}
