package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsprackett/claude-usage/internal/alert"
	"github.com/zsprackett/claude-usage/internal/claudeusage"
	"github.com/zsprackett/claude-usage/internal/cookies"
	"github.com/zsprackett/claude-usage/internal/credential"
	"github.com/zsprackett/claude-usage/internal/history"
	"github.com/zsprackett/claude-usage/internal/notify"
	"github.com/zsprackett/claude-usage/internal/usage"
	"github.com/zsprackett/claude-usage/internal/usagepoller"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch usage once, update the cache and send any alerts",
	Long: `Fetch usage once, update the cache and send any alerts.

Exit status is 0 on success, 2 when no credential is available or the
credential was rejected (run "claude-usage login"), 3 on a transient
network failure, and 1 for anything else.`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	a := setup(cmd)
	defer a.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RunTimeoutDuration())
	defer cancel()

	sources, unknown := cookies.Sources(cookies.DefaultEnv(), a.cfg.Browsers)
	for _, name := range unknown {
		a.logger.Warn("ignoring unknown browser", "browser", name)
	}

	opts := usagepoller.Options{
		Resolver:   credential.NewResolver(credential.NewStore(a.cfg.CredentialPath()), sources, a.logger),
		Fetcher:    claudeusage.New(a.cfg.BaseURL, a.cfg.RequestTimeoutDuration(), a.logger),
		Cache:      usage.NewCache(a.cfg.CachePath()),
		State:      alert.NewStateFile(a.cfg.StatePath()),
		Notifier:   notify.New(notifyConfig(a), a.logger),
		DisplayOrg: a.cfg.DisplayOrg,
		Retention:  time.Duration(a.cfg.HistoryRetentionDays) * 24 * time.Hour,
		Logger:     a.logger,
	}
	if store, err := openHistory(a.cfg.HistoryPath()); err != nil {
		a.logger.Warn("history unavailable", "err", err)
	} else {
		defer store.Close()
		opts.History = store
	}

	out := usagepoller.New(opts).RunOnce(ctx)

	w := cmd.OutOrStdout()
	if out.HasSnapshot {
		fmt.Fprintln(w, statusLine(out.Snapshot, !out.Fresh, time.Now()))
	}
	if out.Err == nil {
		return nil
	}
	err := out.Err
	if out.ExitCode() == usagepoller.ExitCredential {
		err = fmt.Errorf("%w\nrun \"claude-usage login\" to store a session key", err)
	}
	return &exitError{code: out.ExitCode(), err: err}
}

func notifyConfig(a *app) notify.Config {
	n := a.cfg.Notifications
	return notify.Config{Enabled: n.Enabled, Webhook: n.Webhook, NtfyURL: n.NtfyURL}
}

func openHistory(path string) (*history.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	store, err := history.Open(path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
