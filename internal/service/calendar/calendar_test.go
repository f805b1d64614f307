package calendar

import (
	"testing"
	"time"
)

func newTestCalendar(t *testing.T) *Calendar {
	t.Helper()
	c, err := New("America/New_York")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestEasterSunday(t *testing.T) {
	cases := map[int]string{
		2023: "2023-04-09",
		2024: "2024-03-31",
		2025: "2025-04-20",
		2026: "2026-04-05",
	}
	for year, want := range cases {
		got := easterSunday(year).Format(DayKeyLayout)
		if got != want {
			t.Fatalf("easterSunday(%d) = %s, want %s", year, got, want)
		}
	}
}

func TestGoodFridayIsTwoDaysBeforeEaster(t *testing.T) {
	c := newTestCalendar(t)
	for year := 2020; year <= 2030; year++ {
		gf := easterSunday(year).AddDate(0, 0, -2).Format(DayKeyLayout)
		if !c.IsHoliday(gf) {
			t.Fatalf("year %d: Good Friday %s not recognized as holiday", year, gf)
		}
	}
}

func TestFloatingHolidays(t *testing.T) {
	c := newTestCalendar(t)
	cases := []string{
		"2024-01-15", // MLK Day, 3rd Monday of January
		"2024-02-19", // Presidents Day, 3rd Monday of February
		"2024-05-27", // Memorial Day, last Monday of May
		"2024-09-02", // Labor Day, 1st Monday of September
		"2024-11-28", // Thanksgiving, 4th Thursday of November
		"2025-11-27",
	}
	for _, key := range cases {
		if !c.IsHoliday(key) {
			t.Fatalf("expected %s to be a holiday", key)
		}
	}
}

func TestObservedShift(t *testing.T) {
	c := newTestCalendar(t)

	// July 4 2026 is a Saturday, observed Friday July 3.
	if !c.IsHoliday("2026-07-03") {
		t.Fatal("expected 2026-07-03 to be observed Independence Day")
	}
	// Juneteenth 2022 is a Sunday, observed Monday June 20.
	if !c.IsHoliday("2022-06-20") {
		t.Fatal("expected 2022-06-20 to be observed Juneteenth")
	}
	// Christmas 2021 is a Saturday, observed Friday December 24.
	if !c.IsHoliday("2021-12-24") {
		t.Fatal("expected 2021-12-24 to be observed Christmas")
	}
}

func TestNewYearSaturdayNotObserved(t *testing.T) {
	c := newTestCalendar(t)
	// January 1 2022 is a Saturday; the exchange stayed open on Dec 31 2021.
	if !c.IsTradingDay("2021-12-31") {
		t.Fatal("expected 2021-12-31 to be a trading day")
	}
	if c.IsHoliday("2022-01-01") && c.IsTradingDay("2022-01-01") {
		t.Fatal("inconsistent holiday state for 2022-01-01")
	}
}

func TestJuneteenthStartsIn2021(t *testing.T) {
	c := newTestCalendar(t)
	if c.IsHoliday("2020-06-19") {
		t.Fatal("Juneteenth should not be observed before 2021")
	}
	if !c.IsHoliday("2023-06-19") {
		t.Fatal("expected 2023-06-19 to be a holiday")
	}
}

func TestWeekendAndTradingDay(t *testing.T) {
	c := newTestCalendar(t)
	if !c.IsWeekend("2024-03-09") {
		t.Fatal("2024-03-09 is a Saturday")
	}
	if c.IsTradingDay("2024-03-09") {
		t.Fatal("Saturday cannot be a trading day")
	}
	if !c.IsTradingDay("2024-03-11") {
		t.Fatal("2024-03-11 is a regular Monday session")
	}
}

func TestNoonAnchorAcrossDSTTransition(t *testing.T) {
	c := newTestCalendar(t)
	// 2024-11-03 is the fall-back Sunday; the weekday must stay stable.
	parsed, err := c.ParseDayKey("2024-11-03")
	if err != nil {
		t.Fatalf("ParseDayKey: %v", err)
	}
	if parsed.Weekday() != time.Sunday {
		t.Fatalf("weekday = %v, want Sunday", parsed.Weekday())
	}
	if !c.IsWeekend("2024-11-03") {
		t.Fatal("expected fall-back Sunday to be a weekend")
	}
	// Spring-forward day 2024-03-10 is also a Sunday.
	if !c.IsWeekend("2024-03-10") {
		t.Fatal("expected spring-forward Sunday to be a weekend")
	}
}

func TestDayKeyFromTimestampUsesExchangeTimezone(t *testing.T) {
	c := newTestCalendar(t)
	// Midnight UTC on June 11 is still the evening of June 10 in New York.
	ms := time.Date(2024, time.June, 11, 0, 0, 0, 0, time.UTC).UnixMilli()
	if got := c.DayKeyFromTimestamp(ms); got != "2024-06-10" {
		t.Fatalf("DayKeyFromTimestamp = %s, want 2024-06-10", got)
	}
}

func TestPrevTradingDaySkipsWeekendsAndHolidays(t *testing.T) {
	c := newTestCalendar(t)
	// The session before Monday 2024-07-08 skips the weekend.
	prev, err := c.PrevTradingDay("2024-07-08")
	if err != nil {
		t.Fatalf("PrevTradingDay: %v", err)
	}
	if prev != "2024-07-05" {
		t.Fatalf("prev = %s, want 2024-07-05", prev)
	}
	// The session before Good Friday week's Monday skips both the weekend
	// and the holiday: 2024-03-29 is Good Friday.
	prev, err = c.PrevTradingDay("2024-04-01")
	if err != nil {
		t.Fatalf("PrevTradingDay: %v", err)
	}
	if prev != "2024-03-28" {
		t.Fatalf("prev = %s, want 2024-03-28", prev)
	}
}

func TestLatestTradingDay(t *testing.T) {
	c := newTestCalendar(t)
	loc := c.Location()
	// Saturday noon resolves to the prior Friday.
	sat := time.Date(2024, time.June, 15, 12, 0, 0, 0, loc)
	if got := c.LatestTradingDay(sat); got != "2024-06-14" {
		t.Fatalf("LatestTradingDay(sat) = %s, want 2024-06-14", got)
	}
	// A regular Wednesday resolves to itself.
	wed := time.Date(2024, time.June, 12, 10, 0, 0, 0, loc)
	if got := c.LatestTradingDay(wed); got != "2024-06-12" {
		t.Fatalf("LatestTradingDay(wed) = %s, want 2024-06-12", got)
	}
}
