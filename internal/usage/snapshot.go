// Package usage defines the canonical Usage Snapshot, the normalizer that
// builds it from a raw claude.ai payload, and the on-disk snapshot cache.
package usage

import "time"

// Window names a rate-limit window.
type Window string

const (
	WindowSession Window = "session" // rolling 5 hours
	WindowWeekly  Window = "weekly"  // rolling 7 days
)

// OrgUsage is the normalized usage of one organization.
type OrgUsage struct {
	OrgID           string         `json:"org_id,omitempty"`
	OrgName         string         `json:"org_name,omitempty"`
	SessionPercent  int            `json:"session_percent"`
	SessionResetsAt *time.Time     `json:"session_resets_at,omitempty"`
	WeeklyPercent   int            `json:"weekly_percent"`
	WeeklyResetsAt  *time.Time     `json:"weekly_resets_at,omitempty"`
	Raw             map[string]int `json:"raw,omitempty"` // model-tier breakdowns, label -> percent
}

// Snapshot is one successful fetch. The embedded OrgUsage is the
// organization shown in the headline; Orgs lists every organization.
type Snapshot struct {
	OrgUsage
	FetchedAt time.Time  `json:"fetched_at"`
	Source    string     `json:"source,omitempty"`
	Orgs      []OrgUsage `json:"orgs,omitempty"`
	// Skipped holds the ids of organizations whose usage did not normalize.
	Skipped []string `json:"skipped_orgs,omitempty"`
}

// Window returns the percent and reset time of the named window.
func (o OrgUsage) Window(w Window) (int, *time.Time) {
	if w == WindowWeekly {
		return o.WeeklyPercent, o.WeeklyResetsAt
	}
	return o.SessionPercent, o.SessionResetsAt
}

// Age reports how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(s.FetchedAt)
}
