package usage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/zsprackett/claude-usage/internal/claudeusage"
)

// ContractVersion identifies the usage-body contract Normalize implements.
// testdata/usage_v1.json is the reference fixture.
//
// v1: the body is an object of windows. A window is an object with either
// "used" and "limit", or "utilization" (0-100, may be fractional), plus an
// optional RFC 3339 "resets_at". The session window is "five_hour" (alias
// "session"); the weekly window is the first present of "seven_day",
// "seven_day_sonnet", "seven_day_opus" (alias "weekly"). Every
// "seven_day_*" window is also reported as a breakdown.
const ContractVersion = 1

var (
	sessionKeys = []string{"five_hour", "session"}
	weeklyKeys  = []string{"seven_day", "seven_day_sonnet", "seven_day_opus", "weekly"}
)

const breakdownPrefix = "seven_day_"

// ErrSchemaMismatch matches every *NormalizeError.
var ErrSchemaMismatch = errors.New("schema_mismatch")

// NormalizeError reports a payload that does not follow the contract.
type NormalizeError struct {
	OrgID string
	Field string
	Err   error
}

func (e *NormalizeError) Error() string {
	var where []string
	if e.OrgID != "" {
		where = append(where, "org "+e.OrgID)
	}
	if e.Field != "" {
		where = append(where, "field "+e.Field)
	}
	if len(where) == 0 {
		return fmt.Sprintf("%s: %v", ErrSchemaMismatch, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrSchemaMismatch, strings.Join(where, ", "), e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }

func (e *NormalizeError) Is(target error) bool { return target == ErrSchemaMismatch }

// Options controls Normalize.
type Options struct {
	// DisplayOrg selects the headline organization: "auto" (or empty) picks
	// the highest session usage, anything else is matched against org ids.
	DisplayOrg string
	// Source records the credential provenance on the snapshot.
	Source string
}

type rawWindow struct {
	Utilization *float64 `json:"utilization"`
	Used        *float64 `json:"used"`
	Limit       *float64 `json:"limit"`
	ResetsAt    *string  `json:"resets_at"`
}

func (w rawWindow) present() bool { return w.Utilization != nil || w.Used != nil }

func (w rawWindow) percent() int {
	if w.Used != nil {
		var limit float64
		if w.Limit != nil {
			limit = *w.Limit
		}
		return Percent(*w.Used, limit)
	}
	return ClampPercent(math.Round(*w.Utilization))
}

// Normalize maps a raw payload onto a Snapshot. Missing windows become 0%
// with no reset time. An organization whose body breaks the contract is
// left out and listed in Skipped; the error is returned only when no
// organization normalizes.
func Normalize(p *claudeusage.RawPayload, opts Options) (Snapshot, error) {
	if p == nil || len(p.Orgs) == 0 {
		return Snapshot{}, &NormalizeError{Err: errors.New("payload has no organizations")}
	}
	var (
		orgs     = make([]OrgUsage, 0, len(p.Orgs))
		skipped  []string
		firstErr error
	)
	for _, o := range p.Orgs {
		u, err := normalizeOrg(o)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			skipped = append(skipped, o.ID)
			continue
		}
		orgs = append(orgs, u)
	}
	if len(orgs) == 0 {
		return Snapshot{}, firstErr
	}
	return Snapshot{
		OrgUsage:  selectOrg(orgs, opts.DisplayOrg),
		FetchedAt: p.FetchedAt,
		Source:    opts.Source,
		Orgs:      orgs,
		Skipped:   skipped,
	}, nil
}

func normalizeOrg(o claudeusage.OrgPayload) (OrgUsage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(o.Usage, &fields); err != nil || fields == nil {
		if err == nil {
			err = errors.New("usage body is not an object")
		}
		return OrgUsage{}, &NormalizeError{OrgID: o.ID, Err: err}
	}

	u := OrgUsage{OrgID: o.ID, OrgName: o.Name}
	if w, ok, err := firstWindow(fields, sessionKeys); err != nil {
		return OrgUsage{}, &NormalizeError{OrgID: o.ID, Field: "session", Err: err}
	} else if ok {
		u.SessionPercent = w.percent()
		u.SessionResetsAt = parseResetsAt(w.ResetsAt)
	}
	if w, ok, err := firstWindow(fields, weeklyKeys); err != nil {
		return OrgUsage{}, &NormalizeError{OrgID: o.ID, Field: "weekly", Err: err}
	} else if ok {
		u.WeeklyPercent = w.percent()
		u.WeeklyResetsAt = parseResetsAt(w.ResetsAt)
	}

	for key, raw := range fields {
		if !strings.HasPrefix(key, breakdownPrefix) {
			continue
		}
		// breakdowns are best effort; unknown shapes are skipped
		w, err := parseWindow(raw)
		if err != nil || !w.present() {
			continue
		}
		if u.Raw == nil {
			u.Raw = map[string]int{}
		}
		u.Raw[key] = w.percent()
	}
	return u, nil
}

func firstWindow(fields map[string]json.RawMessage, keys []string) (rawWindow, bool, error) {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		w, err := parseWindow(raw)
		if err != nil {
			return rawWindow{}, false, fmt.Errorf("%s: %w", k, err)
		}
		if w.present() {
			return w, true, nil
		}
	}
	return rawWindow{}, false, nil
}

func parseWindow(raw json.RawMessage) (rawWindow, error) {
	var w rawWindow
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return w, nil
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return rawWindow{}, err
	}
	return w, nil
}

// Percent returns round(used/limit*100) clamped to [0,100]. A non-positive
// limit yields 0.
func Percent(used, limit float64) int {
	if limit <= 0 || math.IsNaN(limit) || math.IsNaN(used) {
		return 0
	}
	return ClampPercent(math.Round(used / limit * 100))
}

// ClampPercent clamps v to [0,100] and truncates it to an int.
func ClampPercent(v float64) int {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 100:
		return 100
	}
	return int(v)
}

// parseResetsAt parses an RFC 3339 timestamp. Returns nil when absent or
// unparseable.
func parseResetsAt(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// selectOrg picks the headline organization.
func selectOrg(orgs []OrgUsage, display string) OrgUsage {
	if display != "" && display != "auto" {
		for _, o := range orgs {
			if o.OrgID == display {
				return o
			}
		}
	}
	best := orgs[0]
	for _, o := range orgs[1:] {
		if o.SessionPercent > best.SessionPercent {
			best = o
		}
	}
	return best
}
