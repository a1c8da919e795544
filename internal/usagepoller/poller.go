// Package usagepoller runs one pass of the usage pipeline: resolve a
// credential, fetch, normalize, cache, record, and alert.
package usagepoller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zsprackett/claude-usage/internal/alert"
	"github.com/zsprackett/claude-usage/internal/claudeusage"
	"github.com/zsprackett/claude-usage/internal/credential"
	"github.com/zsprackett/claude-usage/internal/jsonfile"
	"github.com/zsprackett/claude-usage/internal/usage"
)

type Resolver interface {
	Resolve(ctx context.Context) (credential.Credential, error)
}

type Fetcher interface {
	FetchUsage(ctx context.Context, cred credential.Credential) (*claudeusage.RawPayload, error)
}

// Recorder keeps the long-term history of snapshots.
type Recorder interface {
	Insert(s usage.Snapshot) error
	Prune(cutoff time.Time) (int64, error)
}

type Notifier interface {
	Notify(ev alert.Event)
}

// Options wires a Poller. History and Notifier may be nil.
type Options struct {
	Resolver   Resolver
	Fetcher    Fetcher
	Cache      *usage.Cache
	State      *alert.StateFile
	History    Recorder
	Notifier   Notifier
	DisplayOrg string
	Retention  time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

type Poller struct {
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

func New(opts Options) *Poller {
	p := &Poller{opts: opts, now: opts.Now, logger: opts.Logger}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// RunOnce executes the pipeline a single time. When resolving, fetching or
// normalizing fails the cache is left untouched and the Outcome carries the
// previously cached snapshot, if any.
func (p *Poller) RunOnce(ctx context.Context) Outcome {
	cred, err := p.opts.Resolver.Resolve(ctx)
	if err != nil {
		return p.fail(err)
	}
	p.logger.Debug("credential resolved", "source", cred.Source, "key", cred.Redacted())

	raw, err := p.opts.Fetcher.FetchUsage(ctx, cred)
	if err != nil {
		return p.fail(err)
	}

	snap, err := usage.Normalize(raw, usage.Options{DisplayOrg: p.opts.DisplayOrg, Source: string(cred.Source)})
	if err != nil {
		return p.fail(err)
	}

	out := Outcome{Snapshot: snap, HasSnapshot: true, Fresh: true}
	if len(snap.Skipped) > 0 {
		p.logger.Warn("organizations skipped", "orgs", snap.Skipped)
	}

	// The in-memory snapshot still drives output and alerts when the
	// cache cannot be written.
	if err := p.opts.Cache.Write(snap); err != nil {
		out.warn(p.logger, "cache write failed", err)
	}
	p.record(&out, snap)

	out.Events = p.decide(&out, snap)
	if p.opts.Notifier != nil {
		for _, ev := range out.Events {
			p.opts.Notifier.Notify(ev)
		}
	}

	p.logger.Info("usage fetched",
		"org", snap.OrgID,
		"session", snap.SessionPercent,
		"weekly", snap.WeeklyPercent,
		"source", snap.Source,
		"alerts", len(out.Events))
	return out
}

func (p *Poller) record(out *Outcome, snap usage.Snapshot) {
	if p.opts.History == nil {
		return
	}
	if err := p.opts.History.Insert(snap); err != nil {
		out.warn(p.logger, "history insert failed", err)
		return
	}
	if p.opts.Retention <= 0 {
		return
	}
	n, err := p.opts.History.Prune(p.now().Add(-p.opts.Retention))
	if err != nil {
		out.warn(p.logger, "history prune failed", err)
	} else if n > 0 {
		p.logger.Debug("history pruned", "rows", n)
	}
}

func (p *Poller) decide(out *Outcome, snap usage.Snapshot) []alert.Event {
	prev, err := p.opts.State.Load()
	if err != nil {
		out.warn(p.logger, "notification state unreadable, starting fresh", err)
	}
	next, events := prev.Apply(snap, p.now())
	if err := p.opts.State.Save(next); err != nil {
		out.warn(p.logger, "notification state write failed", err)
	}
	return events
}

func (p *Poller) fail(err error) Outcome {
	out := Outcome{Err: err}
	if out.Kind() == KindTransient {
		p.logger.Warn("usage run failed", "kind", out.Kind(), "err", err)
	} else {
		p.logger.Error("usage run failed", "kind", out.Kind(), "err", err)
	}

	cached, found, cerr := p.opts.Cache.Read()
	if cerr != nil {
		out.warn(p.logger, "cache unreadable", cerr)
	}
	out.Snapshot, out.HasSnapshot = cached, found
	return out
}

// Kind classifies the result of a run.
type Kind string

const (
	KindOK                Kind = "ok"
	KindNoCredential      Kind = "no_credential_found"
	KindCredentialInvalid Kind = "credential_invalid"
	KindTransient         Kind = "transient"
	KindUpstream          Kind = "upstream_error"
	KindSchemaMismatch    Kind = "schema_mismatch"
	KindStorage           Kind = "storage_error"
	KindInternal          Kind = "internal_error"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitCredential = 2
	ExitTransient  = 3
)

// Outcome is the result of RunOnce. Snapshot is the fresh snapshot when
// Fresh is set, otherwise the last cached one when HasSnapshot is set.
type Outcome struct {
	Snapshot    usage.Snapshot
	HasSnapshot bool
	Fresh       bool
	Events      []alert.Event
	Err         error
	// Warnings are non-fatal failures of a successful run.
	Warnings []error
}

func (o *Outcome) warn(logger *slog.Logger, msg string, err error) {
	logger.Warn(msg, "err", err)
	o.Warnings = append(o.Warnings, err)
}

func (o Outcome) Kind() Kind {
	err := o.Err
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, claudeusage.ErrTransient):
		return KindTransient
	case errors.Is(err, credential.ErrNoCredential):
		return KindNoCredential
	case errors.Is(err, claudeusage.ErrCredentialInvalid):
		return KindCredentialInvalid
	case errors.Is(err, claudeusage.ErrUpstream):
		return KindUpstream
	case errors.Is(err, usage.ErrSchemaMismatch):
		return KindSchemaMismatch
	case errors.Is(err, jsonfile.ErrStorage):
		return KindStorage
	}
	return KindInternal
}

func (o Outcome) ExitCode() int {
	switch o.Kind() {
	case KindOK:
		return ExitOK
	case KindNoCredential, KindCredentialInvalid:
		return ExitCredential
	case KindTransient:
		return ExitTransient
	}
	return ExitFailure
}
