// Package alert decides when a usage reading deserves a notification.
//
// Each rate-limit window moves through the tiers none, caution, warning and
// critical. A notification fires when a window enters a tier more severe
// than the one already recorded for it, and only for warning or above. The
// recorded tier is cleared when the window rolls over.
//
// Tiers are remembered per organization. Only the headline organization of
// a snapshot is evaluated, so when the headline moves to another
// organization that one's own history applies.
package alert

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/zsprackett/claude-usage/internal/usage"
)

type Tier int

const (
	TierNone Tier = iota
	TierCaution
	TierWarning
	TierCritical
)

// Tier thresholds, inclusive.
const (
	CautionPercent  = 50
	WarningPercent  = 75
	CriticalPercent = 90
)

// resetJitter absorbs small upstream drift in resets_at between readings of
// the same window.
const resetJitter = time.Minute

var tierNames = [...]string{"none", "caution", "warning", "critical"}

func (t Tier) String() string {
	if t < TierNone || t > TierCritical {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	for i, name := range tierNames {
		if string(b) == name {
			*t = Tier(i)
			return nil
		}
	}
	return fmt.Errorf("unknown tier %q", b)
}

// Alerting reports whether entering t produces a notification.
func (t Tier) Alerting() bool { return t >= TierWarning }

// TierFor maps a percentage onto its tier.
func TierFor(percent int) Tier {
	switch {
	case percent >= CriticalPercent:
		return TierCritical
	case percent >= WarningPercent:
		return TierWarning
	case percent >= CautionPercent:
		return TierCaution
	}
	return TierNone
}

// WindowState is what is remembered about one window between runs.
type WindowState struct {
	Tier      Tier       `json:"last_alerted_tier"`
	AlertedAt *time.Time `json:"last_alerted_at,omitempty"`
	ResetsAt  *time.Time `json:"resets_at,omitempty"`
}

// State maps each window of one organization to its remembered tier.
type State map[usage.Window]WindowState

// Ledger holds the State of every organization, keyed by org id.
type Ledger map[string]State

// Event is one notification to deliver.
type Event struct {
	Window   usage.Window
	Tier     Tier
	Percent  int
	ResetsAt *time.Time
	At       time.Time
}

func (e Event) Title() string {
	label := "Session"
	if e.Window == usage.WindowWeekly {
		label = "Weekly"
	}
	return fmt.Sprintf("Claude %s usage %s", label, e.Tier)
}

func (e Event) Message() string {
	msg := fmt.Sprintf("%d%% of the %s limit used", e.Percent, e.Window)
	if e.ResetsAt != nil {
		msg += ", resets " + humanize.RelTime(*e.ResetsAt, e.At, "ago", "from now")
	}
	return msg
}

var windows = []usage.Window{usage.WindowSession, usage.WindowWeekly}

// Decide applies snap to prev and returns the next state together with the
// notifications to deliver. prev is not modified.
func Decide(prev State, snap usage.Snapshot, now time.Time) (State, []Event) {
	next := make(State, len(windows))
	var events []Event
	for _, w := range windows {
		percent, resetsAt := snap.Window(w)
		ws, ev := step(prev[w], percent, resetsAt, now)
		if ev != nil {
			ev.Window = w
			events = append(events, *ev)
		}
		next[w] = ws
	}
	return next, events
}

// Apply runs Decide against the headline organization of snap and returns
// the updated ledger. Organizations no longer listed in snap are dropped.
// l is not modified.
func (l Ledger) Apply(snap usage.Snapshot, now time.Time) (Ledger, []Event) {
	keep := map[string]bool{snap.OrgID: true}
	for _, o := range snap.Orgs {
		keep[o.OrgID] = true
	}
	for _, id := range snap.Skipped {
		keep[id] = true
	}

	next := make(Ledger, len(keep))
	for id, st := range l {
		if keep[id] || len(snap.Orgs) == 0 {
			next[id] = st
		}
	}
	st, events := Decide(l[snap.OrgID], snap, now)
	next[snap.OrgID] = st
	return next, events
}

func step(ws WindowState, percent int, resetsAt *time.Time, now time.Time) (WindowState, *Event) {
	if rolledOver(ws.ResetsAt, resetsAt, now) {
		ws.Tier = TierNone
		ws.AlertedAt = nil
	}

	var ev *Event
	switch t := TierFor(percent); {
	case t > ws.Tier:
		ws.Tier = t
		if t.Alerting() {
			at := now
			ws.AlertedAt = &at
			ev = &Event{Tier: t, Percent: percent, ResetsAt: resetsAt, At: now}
		}
	case t < ws.Tier:
		// usage fell back under the threshold: a new period began
		ws.Tier = t
	}

	// A reset already in the past says nothing about the next period.
	if resetsAt != nil && resetsAt.After(now) {
		r := *resetsAt
		ws.ResetsAt = &r
	} else {
		ws.ResetsAt = nil
	}
	return ws, ev
}

func rolledOver(stored, current *time.Time, now time.Time) bool {
	if stored == nil {
		return false
	}
	if !now.Before(*stored) {
		return true
	}
	return current != nil && current.Sub(*stored) > resetJitter
}
