// Package calendar implements exchange-calendar arithmetic: weekend tests,
// computed NYSE holiday sets, and trading-day key derivation.
package calendar

import (
	"fmt"
	"sync"
	"time"
)

// DayKeyLayout is the canonical trading-day key format, anchored to the
// exchange timezone.
const DayKeyLayout = "2006-01-02"

// Calendar answers trading-session questions for one exchange timezone.
type Calendar struct {
	loc *time.Location

	mu       sync.Mutex
	holidays map[int]map[string]struct{} // year -> observed holiday day keys
}

// New creates a Calendar for the given timezone name (e.g. America/New_York).
func New(timezone string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	return &Calendar{loc: loc, holidays: make(map[int]map[string]struct{})}, nil
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// DayKeyFromTimestamp converts epoch milliseconds to the trading-day key in
// the exchange timezone.
func (c *Calendar) DayKeyFromTimestamp(ms int64) string {
	return time.UnixMilli(ms).In(c.loc).Format(DayKeyLayout)
}

// ParseDayKey parses a day key into its date, anchored at local noon in the
// exchange timezone. The noon anchor keeps the weekday stable across
// daylight-saving transitions.
func (c *Calendar) ParseDayKey(key string) (time.Time, error) {
	t, err := time.Parse(DayKeyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day key %q: %w", key, err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, c.loc), nil
}

// IsWeekend reports whether the day key falls on Saturday or Sunday in the
// exchange timezone.
func (c *Calendar) IsWeekend(key string) bool {
	t, err := c.ParseDayKey(key)
	if err != nil {
		return false
	}
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsHoliday reports whether the day key is an observed exchange holiday.
func (c *Calendar) IsHoliday(key string) bool {
	t, err := c.ParseDayKey(key)
	if err != nil {
		return false
	}
	set := c.holidaySet(t.Year())
	_, ok := set[key]
	return ok
}

// IsTradingDay reports whether the day key maps to a real session.
func (c *Calendar) IsTradingDay(key string) bool {
	return !c.IsWeekend(key) && !c.IsHoliday(key)
}

// PrevTradingDay walks backward from the day key (exclusive) to the nearest
// trading session.
func (c *Calendar) PrevTradingDay(key string) (string, error) {
	t, err := c.ParseDayKey(key)
	if err != nil {
		return "", err
	}
	for i := 0; i < 10; i++ {
		t = t.AddDate(0, 0, -1)
		k := t.Format(DayKeyLayout)
		if c.IsTradingDay(k) {
			return k, nil
		}
	}
	return "", fmt.Errorf("no trading day within 10 days before %s", key)
}

// LatestTradingDay returns the day key of now's session, or the most recent
// session if now falls on a weekend or holiday.
func (c *Calendar) LatestTradingDay(now time.Time) string {
	k := now.In(c.loc).Format(DayKeyLayout)
	if c.IsTradingDay(k) {
		return k
	}
	prev, err := c.PrevTradingDay(k)
	if err != nil {
		return k
	}
	return prev
}

func (c *Calendar) holidaySet(year int) map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.holidays[year]; ok {
		return set
	}
	set := computeHolidays(year)
	c.holidays[year] = set
	return set
}

// computeHolidays builds the observed NYSE holiday set for one year. Fixed-date
// holidays shift to Friday when they fall on Saturday and to Monday when they
// fall on Sunday.
func computeHolidays(year int) map[string]struct{} {
	set := make(map[string]struct{}, 10)
	add := func(t time.Time) {
		set[t.Format(DayKeyLayout)] = struct{}{}
	}

	// New Year's Day is not observed when it falls on Saturday; the Friday
	// shift would land in the prior year and the exchange stays open.
	if ny := date(year, time.January, 1); ny.Weekday() != time.Saturday {
		add(observed(ny))
	}
	add(nthWeekday(year, time.January, time.Monday, 3))  // MLK Day
	add(nthWeekday(year, time.February, time.Monday, 3)) // Presidents Day
	add(easterSunday(year).AddDate(0, 0, -2))            // Good Friday
	add(lastWeekday(year, time.May, time.Monday))        // Memorial Day
	if year >= 2021 {
		add(observed(date(year, time.June, 19))) // Juneteenth
	}
	add(observed(date(year, time.July, 4)))                // Independence Day
	add(nthWeekday(year, time.September, time.Monday, 1))  // Labor Day
	add(nthWeekday(year, time.November, time.Thursday, 4)) // Thanksgiving
	add(observed(date(year, time.December, 25)))           // Christmas

	return set
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
}

func observed(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	default:
		return t
	}
}

func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	t := date(year, month, 1)
	offset := (int(weekday) - int(t.Weekday()) + 7) % 7
	return t.AddDate(0, 0, offset+(n-1)*7)
}

func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	t := date(year, month+1, 1).AddDate(0, 0, -1)
	offset := (int(t.Weekday()) - int(weekday) + 7) % 7
	return t.AddDate(0, 0, -offset)
}

// easterSunday computes Gregorian Easter via the Meeus-Jones-Butcher
// algorithm.
func easterSunday(year int) time.Time {
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
	day := (h+l-7*m+114)%31 + 1
	return date(year, time.Month(month), day)
}
