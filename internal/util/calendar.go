package util

import (
	"time"
)

// TradingCalendar provides regular-session awareness for US equities
// (NYSE 9:30-16:00 America/New_York, weekdays, full-day holidays).
// Early closes are treated as full sessions.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar creates a TradingCalendar. If the New York zone cannot
// be loaded a fixed UTC-5 zone is used.
func NewTradingCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return &TradingCalendar{loc: loc}
}

// Location returns the exchange time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// IsTradingDay reports whether the date of t (exchange time) has a session.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	d := t.In(tc.loc)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !isHoliday(d)
}

// IsMarketOpen returns whether the regular session is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	if !tc.IsTradingDay(t) {
		return false
	}
	open, close := tc.session(t)
	et := t.In(tc.loc)
	return !et.Before(open) && et.Before(close)
}

// NextOpen returns the next session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	et := t.In(tc.loc)
	for i := 0; i < 15; i++ {
		day := et.AddDate(0, 0, i)
		if !tc.IsTradingDay(day) {
			continue
		}
		open, _ := tc.session(day)
		if !open.Before(et) {
			return open
		}
	}
	return time.Time{}
}

// NextClose returns the next session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	et := t.In(tc.loc)
	for i := 0; i < 15; i++ {
		day := et.AddDate(0, 0, i)
		if !tc.IsTradingDay(day) {
			continue
		}
		_, close := tc.session(day)
		if !close.Before(et) {
			return close
		}
	}
	return time.Time{}
}

func (tc *TradingCalendar) session(t time.Time) (time.Time, time.Time) {
	d := t.In(tc.loc)
	open := time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, tc.loc)
	close := time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, tc.loc)
	return open, close
}

func isHoliday(d time.Time) bool {
	y, m, day := d.Date()
	date := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	for _, h := range holidays(y) {
		if h.Equal(date) {
			return true
		}
	}
	return false
}

func holidays(year int) []time.Time {
	fixed := func(m time.Month, d int) time.Time {
		return observed(time.Date(year, m, d, 0, 0, 0, 0, time.UTC))
	}
	hs := []time.Time{
		nthWeekday(year, time.January, time.Monday, 3),  // MLK
		nthWeekday(year, time.February, time.Monday, 3), // Presidents
		easter(year).AddDate(0, 0, -2),                  // Good Friday
		lastWeekday(year, time.May, time.Monday),        // Memorial
		fixed(time.July, 4),
		nthWeekday(year, time.September, time.Monday, 1),  // Labor
		nthWeekday(year, time.November, time.Thursday, 4), // Thanksgiving
		fixed(time.December, 25),
	}
	// A Saturday New Year's Day is not observed on the prior Friday.
	if ny := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC); ny.Weekday() != time.Saturday {
		hs = append(hs, observed(ny))
	}
	if year >= 2022 {
		hs = append(hs, fixed(time.June, 19))
	}
	return hs
}

// observed shifts Saturday holidays to Friday and Sunday holidays to Monday.
func observed(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

func nthWeekday(year int, m time.Month, wd time.Weekday, n int) time.Time {
	t := time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
	for t.Weekday() != wd {
		t = t.AddDate(0, 0, 1)
	}
	return t.AddDate(0, 0, 7*(n-1))
}

func lastWeekday(year int, m time.Month, wd time.Weekday) time.Time {
	t := time.Date(year, m+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for t.Weekday() != wd {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// easter returns Western Easter Sunday (anonymous Gregorian algorithm).
func easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := ((h + l - 7*m + 114) % 31) + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
