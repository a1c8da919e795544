package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/zsprackett/claude-usage/internal/alert"
)

const (
	appName     = "claude-usage"
	sendTimeout = 5 * time.Second
)

// Config holds notification settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

// Runner executes a desktop notification command.
type Runner func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Notifier fires desktop notifications and optional webhook and ntfy POSTs.
// Delivery failures are logged and otherwise ignored.
type Notifier struct {
	cfg    Config
	logger *slog.Logger
	goos   string
	run    Runner
	client *http.Client
}

// New returns a Notifier with the given config.
func New(cfg Config, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		logger: logger,
		goos:   runtime.GOOS,
		run:    runCommand,
		client: &http.Client{Timeout: sendTimeout},
	}
}

// SetSystem replaces the platform and command runner used for desktop
// notifications. Used in tests only.
func (n *Notifier) SetSystem(goos string, run Runner) {
	n.goos = goos
	n.run = run
}

// Notify delivers ev on every configured channel.
func (n *Notifier) Notify(ev alert.Event) {
	if !n.cfg.Enabled {
		return
	}
	n.logger.Info("usage alert", "window", ev.Window, "tier", ev.Tier, "percent", ev.Percent)

	n.sendSystemNotification(ev)
	if n.cfg.Webhook != "" {
		n.sendWebhook(ev)
	}
	if n.cfg.NtfyURL != "" {
		n.sendNtfy(ev)
	}
}

func (n *Notifier) sendSystemNotification(ev alert.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	var err error
	switch n.goos {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, ev.Message(), ev.Title())
		err = n.run(ctx, "osascript", "-e", script)
	case "linux":
		urgency := "normal"
		if ev.Tier == alert.TierCritical {
			urgency = "critical"
		}
		err = n.run(ctx, "notify-send", "--app-name="+appName, "--urgency="+urgency, ev.Title(), ev.Message())
	default:
		n.logger.Debug("no desktop notifier for platform", "goos", n.goos)
		return
	}
	if err != nil {
		n.logger.Warn("desktop notification failed", "err", err)
	}
}

type webhookPayload struct {
	Window    string     `json:"window"`
	Tier      string     `json:"tier"`
	Percent   int        `json:"percent"`
	ResetsAt  *time.Time `json:"resets_at,omitempty"`
	Timestamp string     `json:"timestamp"`
}

func (n *Notifier) sendWebhook(ev alert.Event) {
	payload := webhookPayload{
		Window:    string(ev.Window),
		Tier:      ev.Tier.String(),
		Percent:   ev.Percent,
		ResetsAt:  ev.ResetsAt,
		Timestamp: ev.At.UTC().Format(time.RFC3339),
	}
	if err := n.post(n.cfg.Webhook, payload); err != nil {
		n.logger.Warn("webhook notification failed", "err", err)
	}
}

type ntfyPayload struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
}

func (n *Notifier) sendNtfy(ev alert.Event) {
	payload := ntfyPayload{
		Title:    ev.Title(),
		Message:  ev.Message(),
		Priority: 4,
		Tags:     []string{"warning"},
	}
	if ev.Tier == alert.TierCritical {
		payload.Priority = 5
		payload.Tags = []string{"rotating_light"}
	}
	if err := n.post(n.cfg.NtfyURL, payload); err != nil {
		n.logger.Warn("ntfy notification failed", "err", err)
	}
}

func (n *Notifier) post(url string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
