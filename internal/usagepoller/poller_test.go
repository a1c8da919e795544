package usagepoller_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsprackett/claude-usage/internal/alert"
	"github.com/zsprackett/claude-usage/internal/applog"
	"github.com/zsprackett/claude-usage/internal/claudeusage"
	"github.com/zsprackett/claude-usage/internal/credential"
	"github.com/zsprackett/claude-usage/internal/usage"
	"github.com/zsprackett/claude-usage/internal/usagepoller"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeResolver struct {
	cred credential.Credential
	err  error
}

func (f fakeResolver) Resolve(context.Context) (credential.Credential, error) { return f.cred, f.err }

type fakeFetcher struct {
	body  string
	err   error
	calls int
	seen  credential.Credential
}

func (f *fakeFetcher) FetchUsage(_ context.Context, cred credential.Credential) (*claudeusage.RawPayload, error) {
	f.calls++
	f.seen = cred
	if f.err != nil {
		return nil, f.err
	}
	return &claudeusage.RawPayload{
		FetchedAt: now,
		Orgs:      []claudeusage.OrgPayload{{ID: "org-1", Name: "Personal", Usage: json.RawMessage(f.body)}},
	}, nil
}

type fakeNotifier struct{ events []alert.Event }

func (f *fakeNotifier) Notify(ev alert.Event) { f.events = append(f.events, ev) }

type fakeHistory struct {
	inserted []usage.Snapshot
	cutoff   time.Time
	err      error
}

func (f *fakeHistory) Insert(s usage.Snapshot) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, s)
	return nil
}

func (f *fakeHistory) Prune(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 0, nil
}

type harness struct {
	dir      string
	cache    *usage.Cache
	state    *alert.StateFile
	fetcher  *fakeFetcher
	notifier *fakeNotifier
	history  *fakeHistory
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	return &harness{
		dir:      dir,
		cache:    usage.NewCache(filepath.Join(dir, "last_usage.json")),
		state:    alert.NewStateFile(filepath.Join(dir, "notification_state.json")),
		fetcher:  &fakeFetcher{},
		notifier: &fakeNotifier{},
		history:  &fakeHistory{},
	}
}

func (h *harness) poller(resolver usagepoller.Resolver) *usagepoller.Poller {
	return usagepoller.New(usagepoller.Options{
		Resolver:   resolver,
		Fetcher:    h.fetcher,
		Cache:      h.cache,
		State:      h.state,
		History:    h.history,
		Notifier:   h.notifier,
		DisplayOrg: "auto",
		Retention:  30 * 24 * time.Hour,
		Now:        func() time.Time { return now },
		Logger:     applog.Discard(),
	})
}

var manual = fakeResolver{cred: credential.Credential{Value: "sk-abc", Source: credential.SourceManual}}

func TestRunOnceScenario(t *testing.T) {
	h := newHarness(t)
	p := h.poller(manual)

	h.fetcher.body = `{"session":{"used":40,"limit":100},"weekly":{"used":650,"limit":1000}}`
	out := p.RunOnce(context.Background())
	if out.Err != nil {
		t.Fatal(out.Err)
	}
	if out.ExitCode() != usagepoller.ExitOK || !out.Fresh {
		t.Errorf("outcome: %+v", out)
	}
	if out.Snapshot.SessionPercent != 40 || out.Snapshot.WeeklyPercent != 65 {
		t.Errorf("snapshot: %+v", out.Snapshot)
	}
	if out.Snapshot.Source != "manual" || h.fetcher.seen.Value != "sk-abc" {
		t.Errorf("credential not threaded through: %+v", out.Snapshot)
	}
	if len(h.notifier.events) != 0 {
		t.Fatalf("no alert expected, got %+v", h.notifier.events)
	}

	cached, found, _ := h.cache.Read()
	if !found || cached.SessionPercent != 40 {
		t.Errorf("cache not written: %+v", cached)
	}
	if len(h.history.inserted) != 1 || !h.history.cutoff.Equal(now.Add(-30*24*time.Hour)) {
		t.Errorf("history: %+v", h.history)
	}

	h.fetcher.body = `{"session":{"used":92,"limit":100}}`
	out = p.RunOnce(context.Background())
	if len(out.Events) != 1 || len(h.notifier.events) != 1 {
		t.Fatalf("expected exactly one event, got %+v", out.Events)
	}
	if ev := h.notifier.events[0]; ev.Tier != alert.TierCritical || ev.Window != usage.WindowSession {
		t.Errorf("event: %+v", ev)
	}
	state, _ := h.state.Load()
	if state["org-1"][usage.WindowSession].Tier != alert.TierCritical {
		t.Errorf("state: %+v", state)
	}

	p.RunOnce(context.Background())
	if len(h.notifier.events) != 1 {
		t.Errorf("critical re-fired on the next run: %+v", h.notifier.events)
	}
}

func TestRunOnceNoCredentialLeavesCache(t *testing.T) {
	h := newHarness(t)
	h.fetcher.body = `{"five_hour":{"utilization":12}}`
	h.poller(manual).RunOnce(context.Background())
	before, _ := os.ReadFile(h.cache.Path())

	p := h.poller(fakeResolver{err: &credential.ResolutionError{Attempts: []credential.Attempt{
		{Source: "chrome", Err: credential.ErrNotInstalled},
	}}})
	out := p.RunOnce(context.Background())

	if out.Kind() != usagepoller.KindNoCredential || out.ExitCode() != usagepoller.ExitCredential {
		t.Errorf("kind=%s exit=%d", out.Kind(), out.ExitCode())
	}
	if h.fetcher.calls != 1 {
		t.Errorf("fetch must not run without a credential")
	}
	after, _ := os.ReadFile(h.cache.Path())
	if string(before) != string(after) {
		t.Errorf("cache modified:\n%s\n%s", before, after)
	}
	if !out.HasSnapshot || out.Fresh || out.Snapshot.SessionPercent != 12 {
		t.Errorf("expected stale cached snapshot, got %+v", out)
	}
}

func TestRunOnceFailureKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		body string
		kind usagepoller.Kind
		exit int
	}{
		{"credential invalid", &claudeusage.FetchError{Kind: claudeusage.KindCredentialInvalid, Status: 401}, "", usagepoller.KindCredentialInvalid, usagepoller.ExitCredential},
		{"transient", &claudeusage.FetchError{Kind: claudeusage.KindTransient, Err: errors.New("timeout")}, "", usagepoller.KindTransient, usagepoller.ExitTransient},
		{"upstream", &claudeusage.FetchError{Kind: claudeusage.KindUpstream, Status: 404}, "", usagepoller.KindUpstream, usagepoller.ExitFailure},
		{"schema", nil, `[]`, usagepoller.KindSchemaMismatch, usagepoller.ExitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.fetcher.err, h.fetcher.body = tc.err, tc.body
			out := h.poller(manual).RunOnce(context.Background())
			if out.Kind() != tc.kind || out.ExitCode() != tc.exit {
				t.Errorf("kind=%s exit=%d, want %s/%d", out.Kind(), out.ExitCode(), tc.kind, tc.exit)
			}
			if out.HasSnapshot {
				t.Errorf("no cache yet, got %+v", out.Snapshot)
			}
			if _, err := os.Stat(h.cache.Path()); !os.IsNotExist(err) {
				t.Errorf("cache should not exist after a failed first run")
			}
		})
	}
}

func TestRunOnceCacheWriteFailureStillAlerts(t *testing.T) {
	h := newHarness(t)
	// a directory in place of the cache file makes the write fail
	blocked := filepath.Join(h.dir, "blocked")
	os.MkdirAll(filepath.Join(blocked, "child"), 0755)
	h.cache = usage.NewCache(blocked)

	h.fetcher.body = `{"five_hour":{"utilization":95}}`
	out := h.poller(manual).RunOnce(context.Background())

	if out.ExitCode() != usagepoller.ExitOK {
		t.Errorf("exit: %d (%v)", out.ExitCode(), out.Err)
	}
	if len(out.Warnings) == 0 {
		t.Error("expected a warning for the cache write")
	}
	if len(h.notifier.events) != 1 || out.Snapshot.SessionPercent != 95 {
		t.Errorf("in-memory snapshot should still alert: %+v", out)
	}
}

func TestRunOnceHistoryFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	h.history.err = errors.New("database is locked")
	h.fetcher.body = `{"five_hour":{"utilization":5}}`
	out := h.poller(manual).RunOnce(context.Background())
	if out.Err != nil || len(out.Warnings) != 1 {
		t.Errorf("err=%v warnings=%v", out.Err, out.Warnings)
	}
}

type stalledBrowser struct{}

func (stalledBrowser) Name() string { return "chrome" }

func (stalledBrowser) Locate() (string, bool) { return "/fake/Cookies", true }

func (stalledBrowser) Extract(ctx context.Context, _ string) (credential.Credential, error) {
	// stands in for a keychain prompt nobody answers
	<-ctx.Done()
	return credential.Credential{}, ctx.Err()
}

func TestRunOnceDeadlineDuringResolveIsTransient(t *testing.T) {
	h := newHarness(t)
	t.Setenv(credential.EnvSessionKey, "")
	resolver := credential.NewResolver(
		credential.NewStore(filepath.Join(h.dir, "credential.json")),
		[]credential.CookieSource{stalledBrowser{}, stalledBrowser{}},
		applog.Discard(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out := h.poller(resolver).RunOnce(ctx)

	if out.Kind() != usagepoller.KindTransient || out.ExitCode() != usagepoller.ExitTransient {
		t.Errorf("kind=%s exit=%d err=%v, want transient/3", out.Kind(), out.ExitCode(), out.Err)
	}
	if h.fetcher.calls != 0 {
		t.Error("fetch must not run without a credential")
	}
}

func TestKindFromContext(t *testing.T) {
	out := usagepoller.Outcome{Err: context.DeadlineExceeded}
	if out.Kind() != usagepoller.KindTransient || out.ExitCode() != usagepoller.ExitTransient {
		t.Errorf("deadline: %s", out.Kind())
	}
	out = usagepoller.Outcome{Err: errors.New("boom")}
	if out.ExitCode() != usagepoller.ExitFailure {
		t.Errorf("other: %d", out.ExitCode())
	}
}
