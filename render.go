package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/zsprackett/claude-usage/internal/alert"
	"github.com/zsprackett/claude-usage/internal/usage"
)

var tierColors = map[alert.Tier]*color.Color{
	alert.TierNone:     color.New(color.FgGreen),
	alert.TierCaution:  color.New(color.FgYellow),
	alert.TierWarning:  color.New(color.FgRed),
	alert.TierCritical: color.New(color.FgRed, color.Bold),
}

func percentText(p int) string {
	return tierColors[alert.TierFor(p)].Sprintf("%d%%", p)
}

// statusLine renders a one-line summary of s, e.g.
//
//	Personal: session 42% (resets 3 hours from now) | weekly 65% | updated 2 minutes ago (cached)
func statusLine(s usage.Snapshot, cached bool, now time.Time) string {
	var b strings.Builder
	if s.OrgName != "" {
		b.WriteString(s.OrgName + ": ")
	}
	b.WriteString("session " + percentText(s.SessionPercent))
	if s.SessionResetsAt != nil {
		fmt.Fprintf(&b, " (resets %s)", relative(*s.SessionResetsAt, now))
	}
	b.WriteString(" | weekly " + percentText(s.WeeklyPercent))
	if s.WeeklyResetsAt != nil {
		fmt.Fprintf(&b, " (resets %s)", relative(*s.WeeklyResetsAt, now))
	}
	if !s.FetchedAt.IsZero() {
		b.WriteString(" | updated " + relative(s.FetchedAt, now))
	}
	if cached {
		b.WriteString(color.New(color.Faint).Sprint(" (cached)"))
	}
	return b.String()
}

func relative(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}
