package core

import "time"

// periodEpoch anchors the weekly cadence: Sunday 2000-01-02 00:00 UTC.
// Every period boundary falls on a Sunday, matching the cadence the
// household expects (allowance lands on Sunday).
var periodEpoch = time.Date(2000, time.January, 2, 0, 0, 0, 0, time.UTC)

// Period identifies one weekly allowance window as the number of whole
// weeks elapsed since the epoch. Being a plain integer makes "already
// credited" a comparison, not a date match.
type Period int64

// PeriodOf returns the period containing t, i.e. the one whose boundary is
// the most recent Sunday at or before t.
func PeriodOf(t time.Time) Period {
	d := t.UTC().Sub(periodEpoch)
	weeks := d / (7 * 24 * time.Hour)
	if d < 0 && d%(7*24*time.Hour) != 0 {
		weeks--
	}
	return Period(weeks)
}

// Start returns the period's boundary instant (Sunday midnight UTC).
func (p Period) Start() time.Time {
	return periodEpoch.Add(time.Duration(p) * 7 * 24 * time.Hour)
}

// String renders the boundary date, e.g. "2026-08-23".
func (p Period) String() string {
	return p.Start().Format("2006-01-02")
}

// FirstPeriodOnOrAfter returns the first period whose boundary falls on or
// after the given day. Time-of-day is ignored; an account created on a
// Sunday is owed that same Sunday's allowance.
func FirstPeriodOnOrAfter(t time.Time) Period {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	p := PeriodOf(day)
	if p.Start().Before(day) {
		p++
	}
	return p
}

// PeriodsOwed lists, oldest first, every period with a boundary at or
// before now that is on or after the account's allowance start and strictly
// after the already-credited watermark. An empty result means nothing is
// owed; re-running with the same inputs yields the same answer.
func PeriodsOwed(allowanceStart time.Time, lastCredited *Period, now time.Time) []Period {
	latest := PeriodOf(now)
	from := FirstPeriodOnOrAfter(allowanceStart)
	if lastCredited != nil && *lastCredited+1 > from {
		from = *lastCredited + 1
	}
	if from > latest {
		return nil
	}
	owed := make([]Period, 0, latest-from+1)
	for p := from; p <= latest; p++ {
		owed = append(owed, p)
	}
	return owed
}
