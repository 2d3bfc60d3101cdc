// Package notify implements the notification sink contract of
// spec.md §6/§8: one event per run is fanned out to the configured
// sinks, deduplicated on (run_id, event_kind) by an append-only log.
// The Sink interface generalizes the teacher's UserMessenger
// (usermsg.go): a single Send method, with a terminal implementation
// that shares its ANSI dimming convention.
package notify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
)

// EventKind names the kind of an Event.
type EventKind string

const (
	EventRunCompleted EventKind = "run_completed"
)

// Event is one notification occurrence.
type Event struct {
	Kind    EventKind
	Level   string // info|warn|error
	Title   string
	Message string
	RunID   string
}

// Sink delivers an Event to one channel. Implementations must be safe
// to call from multiple goroutines only if the caller serializes
// calls itself; the dedup log is the actual concurrency boundary.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// TerminalSink writes a dimmed line to writer, mirroring
// usermsg.go's terminalMessenger.
type TerminalSink struct {
	Writer io.Writer
}

func (s TerminalSink) Send(ctx context.Context, e Event) error {
	if s.Writer == nil {
		return nil
	}
	fmt.Fprintf(s.Writer, "\033[90m[%s] %s: %s\033[0m\n", e.Level, e.Title, e.Message)
	return nil
}

// WebhookSink posts a JSON payload to a chat webhook (Slack- and
// Discord-compatible: both accept {"text": "..."} / {"content":
// "..."} shaped bodies keyed by Field).
type WebhookSink struct {
	URL    string
	Field  string
	Client *http.Client
}

func (s WebhookSink) Send(ctx context.Context, e Event) error {
	if s.URL == "" {
		return nil
	}
	field := s.Field
	if field == "" {
		field = "text"
	}
	payload, err := json.Marshal(map[string]string{field: fmt.Sprintf("[%s] %s: %s", e.Level, e.Title, e.Message)})
	if err != nil {
		return fmt.Errorf("notify: marshaling webhook payload: %w", err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: posting webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NewAgentMailSink returns a WebhookSink that posts to an agent-mail
// hook endpoint using the same
// JSON envelope as a webhook, with a message field name of its own.
func NewAgentMailSink(url string) WebhookSink {
	return WebhookSink{URL: url, Field: "message"}
}

// NewSlackSink and NewDiscordSink bind the field name each webhook
// flavor expects.
func NewSlackSink(url string) WebhookSink   { return WebhookSink{URL: url, Field: "text"} }
func NewDiscordSink(url string) WebhookSink { return WebhookSink{URL: url, Field: "content"} }

// Dispatcher fans an Event out to every configured sink, consulting
// the dedup log first.
type Dispatcher struct {
	Sinks    []Sink
	DedupLog string
}

// Send delivers e to every sink unless (e.RunID, e.Kind) has already
// been recorded in the dedup log, in which case no sink is called and
// only an info-level "notify: already sent" line is logged (spec.md
// §5, §8 invariant 4).
func (d *Dispatcher) Send(ctx context.Context, e Event) error {
	key := string(e.Kind) + ":" + e.RunID
	seen, err := d.alreadySent(key)
	if err != nil {
		return fmt.Errorf("notify: checking dedup log: %w", err)
	}
	if seen {
		slog.InfoContext(ctx, "notify: already sent", "kind", e.Kind, "run_id", e.RunID)
		return nil
	}

	attemptID := uuid.NewString()
	var firstErr error
	for _, sink := range d.Sinks {
		if err := sink.Send(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.recordSent(key, attemptID); err != nil {
		return fmt.Errorf("notify: recording dedup entry: %w", err)
	}
	return firstErr
}

func (d *Dispatcher) alreadySent(key string) (bool, error) {
	f, err := os.Open(d.DedupLog)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == key || strings.HasPrefix(line, key+"\t") {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// recordSent appends key to the dedup log, tagged with a uuid attempt
// id for log correlation across sinks — the dedup key itself stays
// (run_id, event_kind) per spec.md §8 invariant 4; the uuid is purely
// a diagnostic aid for matching a dispatch attempt to sink-side logs.
// The log is append-only by construction: guard.SafeWriteFile would
// clobber prior entries, so this opens in append mode directly instead
// — acceptable because the log's own integrity tolerates a torn final
// line (the worst case is one duplicate notification, not data loss).
func (d *Dispatcher) recordSent(key, attemptID string) error {
	f, err := os.OpenFile(d.DedupLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(key + "\t" + attemptID + "\n")
	return err
}
