package domain

import "time"

// ============================================================
// Window Clock
// ============================================================

// WindowKeys identifies the current daily and monthly accumulation windows.
// Keys are derived from UTC regardless of the instant's zone.
type WindowKeys struct {
	Daily   string `json:"daily"`
	Monthly string `json:"monthly"`
}

// WindowKeysAt computes the window keys for the given instant.
// Daily is the UTC calendar date, monthly the UTC year-month.
func WindowKeysAt(t time.Time) WindowKeys {
	u := t.UTC()
	return WindowKeys{
		Daily:   u.Format("2006-01-02"),
		Monthly: u.Format("2006-01"),
	}
}

// KeyFor returns the key for a single granularity.
func (w WindowKeys) KeyFor(g Granularity) string {
	if g == GranularityMonthly {
		return w.Monthly
	}
	return w.Daily
}
