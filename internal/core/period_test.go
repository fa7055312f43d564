package core

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPeriodOf(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want time.Time // expected boundary
	}{
		{name: "epoch itself", t: date(2000, time.January, 2), want: date(2000, time.January, 2)},
		{name: "mid-week maps to preceding Sunday", t: date(2026, time.August, 26), want: date(2026, time.August, 23)},
		{name: "sunday maps to itself", t: date(2026, time.August, 23), want: date(2026, time.August, 23)},
		{name: "saturday night maps back", t: time.Date(2026, time.August, 22, 23, 59, 0, 0, time.UTC), want: date(2026, time.August, 16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PeriodOf(tt.t)
			if got := p.Start(); !got.Equal(tt.want) {
				t.Errorf("PeriodOf(%v).Start() = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestPeriodOrdering(t *testing.T) {
	a := PeriodOf(date(2026, time.August, 23))
	b := PeriodOf(date(2026, time.August, 30))
	if b != a+1 {
		t.Fatalf("consecutive Sundays differ by %d periods, want 1", b-a)
	}
	if a.String() != "2026-08-23" {
		t.Errorf("Period.String() = %q, want %q", a.String(), "2026-08-23")
	}
}

func TestFirstPeriodOnOrAfter(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		want  time.Time
	}{
		{name: "sunday start counts that sunday", start: date(2026, time.August, 23), want: date(2026, time.August, 23)},
		{name: "monday start waits for next sunday", start: date(2026, time.August, 24), want: date(2026, time.August, 30)},
		{name: "time of day ignored", start: time.Date(2026, time.August, 23, 18, 30, 0, 0, time.UTC), want: date(2026, time.August, 23)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := FirstPeriodOnOrAfter(tt.start)
			if got := p.Start(); !got.Equal(tt.want) {
				t.Errorf("FirstPeriodOnOrAfter(%v).Start() = %v, want %v", tt.start, got, tt.want)
			}
		})
	}
}

func TestPeriodsOwed(t *testing.T) {
	start := date(2026, time.August, 3) // a Monday; first boundary 2026-08-09
	credited := PeriodOf(date(2026, time.August, 9))

	tests := []struct {
		name string
		last *Period
		now  time.Time
		want int
	}{
		{name: "nothing before first boundary", last: nil, now: date(2026, time.August, 8), want: 0},
		{name: "first boundary owed on its day", last: nil, now: date(2026, time.August, 9), want: 1},
		{name: "three weeks gap yields three periods", last: nil, now: date(2026, time.August, 25), want: 3},
		{name: "watermark excludes credited period", last: &credited, now: date(2026, time.August, 25), want: 2},
		{name: "up to date yields nothing", last: &credited, now: date(2026, time.August, 14), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owed := PeriodsOwed(start, tt.last, tt.now)
			if len(owed) != tt.want {
				t.Fatalf("PeriodsOwed() returned %d periods, want %d", len(owed), tt.want)
			}
			for i := 1; i < len(owed); i++ {
				if owed[i] != owed[i-1]+1 {
					t.Errorf("owed periods not consecutive ascending: %v", owed)
				}
			}
		})
	}
}

func TestPeriodsOwedIdempotent(t *testing.T) {
	start := date(2026, time.August, 3)
	now := date(2026, time.August, 25)

	first := PeriodsOwed(start, nil, now)
	if len(first) == 0 {
		t.Fatal("expected owed periods")
	}
	last := first[len(first)-1]
	if again := PeriodsOwed(start, &last, now); len(again) != 0 {
		t.Errorf("after crediting all owed periods, PeriodsOwed() = %v, want empty", again)
	}
	// An earlier now must not resurrect anything either.
	if earlier := PeriodsOwed(start, &last, now.AddDate(0, 0, -7)); len(earlier) != 0 {
		t.Errorf("earlier now produced owed periods: %v", earlier)
	}
}
