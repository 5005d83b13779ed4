package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	aura "github.com/aura-calendar/aura-go"
	"github.com/fatih/color"
)

// ============================================================================
// Client
// ============================================================================

// environmentFor resolves the backend environment. AURA_ENV wins over the
// config file.
func environmentFor(cfg *Config) aura.Environment {
	if os.Getenv("AURA_ENV") != "" {
		return aura.EnvironmentFromEnv()
	}
	if cfg.Default.Environment == string(aura.Production) {
		return aura.Production
	}
	return aura.Development
}

// newClient creates a client from the config. An explicit base_url wins
// over the environment.
func newClient(cfg *Config, logger *slog.Logger, notifier *aura.Notifier) *aura.Client {
	opts := []aura.ClientOption{
		aura.WithEnvironment(environmentFor(cfg)),
		aura.WithLogger(logger),
		aura.WithNotifier(notifier),
	}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, aura.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.UserID != "" {
		opts = append(opts, aura.WithUserID(cfg.Default.UserID))
	}
	return aura.NewClient(opts...)
}

// monitorOptions builds probe settings, falling back to the library
// defaults for unset or unparseable durations.
func monitorOptions(cfg *Config, notifier *aura.Notifier, logger *slog.Logger) *aura.MonitorOptions {
	opts := &aura.MonitorOptions{Notifier: notifier, Logger: logger}
	if d, err := time.ParseDuration(cfg.Monitor.Interval); err == nil {
		opts.Interval = d
	}
	if d, err := time.ParseDuration(cfg.Monitor.MinSpacing); err == nil {
		opts.MinSpacing = d
	}
	return opts
}

// ============================================================================
// Conversation storage
// ============================================================================

func dataDir(cfg *Config) (string, error) {
	if cfg.Chat.DataDir != "" {
		return cfg.Chat.DataDir, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// openBlobStore opens the configured conversation backend. The returned
// close function is never nil.
func openBlobStore(cfg *Config) (aura.BlobStore, func() error, error) {
	dir, err := dataDir(cfg)
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Chat.Store {
	case "", storeFile:
		return aura.NewFileBlobStore(dir), func() error { return nil }, nil
	case storeSQLite:
		s, err := aura.OpenSQLiteBlobStore(filepath.Join(dir, "aura.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown chat.store %q (valid: file, sqlite)", cfg.Chat.Store)
	}
}

// conversationKey scopes the log to the conversation id.
func conversationKey(cfg *Config) string {
	if cfg.Chat.ConversationID == "" {
		return aura.DefaultConversationKey
	}
	return aura.DefaultConversationKey + "." + cfg.Chat.ConversationID
}

// ============================================================================
// Logging
// ============================================================================

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// setupLogger writes to w, colorized text unless the format is json.
func setupLogger(cfg ConfigLogging, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{out: w, level: level, mu: &sync.Mutex{}})
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{out: h.out, mu: h.mu, level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{out: h.out, mu: h.mu, level: h.level, attrs: h.attrs, groups: newGroups}
}

// ============================================================================
// Runtime
// ============================================================================

// runtimeEnv bundles what every backend-facing command needs.
type runtimeEnv struct {
	cfg      *Config
	logger   *slog.Logger
	notifier *aura.Notifier
	client   *aura.Client
}

func loadRuntime(out io.Writer) (*runtimeEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := setupLogger(cfg.Logging, os.Stderr)
	notifier := aura.NewNotifier()
	notifier.OnAny(notificationPrinter(out))
	return &runtimeEnv{
		cfg:      cfg,
		logger:   logger,
		notifier: notifier,
		client:   newClient(cfg, logger, notifier),
	}, nil
}

// openConversation opens the configured conversation log. Callers must
// invoke the returned close function.
func (rt *runtimeEnv) openConversation() (*aura.ConversationStore, func() error, error) {
	blobs, closeFn, err := openBlobStore(rt.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	return aura.NewConversationStore(blobs, conversationKey(rt.cfg), rt.logger), closeFn, nil
}

// ============================================================================
// Rendering
// ============================================================================

var (
	assistantColor = color.New(color.FgCyan)
	userColor      = color.New(color.FgGreen)
	noticeColor    = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed, color.Bold)
	dimColor       = color.New(color.FgHiBlack)
)

// notificationPrinter renders transient notifications as one colored line.
func notificationPrinter(out io.Writer) aura.NotificationHandler {
	return func(n aura.Notification) {
		c := noticeColor
		switch n.Kind {
		case aura.NotifyTransportError, aura.NotifyValidationError:
			c = errorColor
		case aura.NotifyConflictOpened, aura.NotifyConflictResolved:
			return
		}
		c.Fprintf(out, "! %s\n", n.Message)
	}
}

func printTurn(out io.Writer, turn aura.ChatTurn) {
	stamp := dimColor.Sprint(turn.Timestamp.Local().Format("15:04"))
	switch turn.Role {
	case aura.RoleUser:
		fmt.Fprintf(out, "%s %s %s\n", stamp, userColor.Sprint("you:"), turn.Text)
	default:
		fmt.Fprintf(out, "%s %s %s\n", stamp, assistantColor.Sprint("aura:"), turn.Text)
	}
}

func printConflict(out io.Writer, c aura.ConflictCase, pending int) {
	noticeColor.Fprintf(out, "Conflict: %q (%s) overlaps:\n", c.ProposedEvent.Title, formatRange(c.ProposedEvent.Start, c.ProposedEvent.End))
	for i, ev := range c.ConflictingEvents {
		fmt.Fprintf(out, "  [%d] %s  %s\n", i+1, ev.Title, dimColor.Sprint(formatRange(ev.Start, ev.End)))
	}
	if pending > 0 {
		dimColor.Fprintf(out, "  (%d more conflict(s) waiting)\n", pending)
	}
	fmt.Fprintln(out, "  r <n> replace event n · k keep both · c cancel")
}

func formatRange(start, end aura.Timestamp) string {
	s, e := start.Local(), end.Local()
	if s.YearDay() == e.YearDay() && s.Year() == e.Year() {
		return s.Format("Mon Jan 2 15:04") + "-" + e.Format("15:04")
	}
	return s.Format("Mon Jan 2 15:04") + " - " + e.Format("Mon Jan 2 15:04")
}

// parseWhen accepts the backend timestamp forms plus "today", "tomorrow"
// and times of day like "15:04" (today).
func parseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch strings.ToLower(s) {
	case "today":
		return day, nil
	case "tomorrow":
		return day.AddDate(0, 0, 1), nil
	}
	if t, err := time.ParseInLocation("15:04", s, now.Location()); err == nil {
		return day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), nil
	}
	ts, err := aura.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.Time, nil
}
