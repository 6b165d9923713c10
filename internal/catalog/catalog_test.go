package catalog

import (
	"errors"
	"testing"
	"time"

	"cardscene/internal/model"
)

func TestDefaultCatalogDurations(t *testing.T) {
	c := Default()

	cases := map[model.Kind]time.Duration{
		model.KindNone:          0,
		model.KindBirdFlyby:     6 * time.Second,
		model.KindSpeechBubble:  4 * time.Second,
		model.KindThoughtBubble: 4 * time.Second,
	}
	for kind, want := range cases {
		got, err := c.DurationOf(kind)
		if err != nil {
			t.Fatalf("DurationOf(%s): %v", kind, err)
		}
		if got != want {
			t.Errorf("DurationOf(%s) = %v, want %v", kind, got, want)
		}
	}

	_, err := c.DurationOf(model.Kind(99))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || !errors.Is(err, ErrUnknownKind) {
		t.Errorf("DurationOf(unknown) err = %v, want ConfigError wrapping ErrUnknownKind", err)
	}

	if !c.IsBackground(model.KindChristmasSnow) || c.IsBackground(model.KindBirdFlyby) {
		t.Errorf("background flags are wrong")
	}
	if !c.AcceptsText(model.KindSpeechBubble) || c.AcceptsText(model.KindThoughtBubble) {
		t.Errorf("text flags are wrong")
	}
}

func TestNewRejectsMissingDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kinds = cfg.Kinds[:len(cfg.Kinds)-1]

	_, err := New(cfg)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if cfgErr.Kind != model.KindChristmasSnow {
		t.Errorf("ConfigError.Kind = %s", cfgErr.Kind)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	cases := map[string]func(*Config){
		"zero duration": func(c *Config) { c.Kinds[0].Duration = 0 },
		"hour range": func(c *Config) {
			c.Recurring = []model.RecurringRule{{StartHour: 22, EndHour: 24, Event: model.KindBirdFlyby}}
		},
		"bad rrule": func(c *Config) {
			c.Calendar = []model.CalendarEvent{{Year: 2025, Month: 1, Day: 1, Event: model.KindSpeechBubble, RRule: "FREQ=SOMETIMES"}}
		},
		"foreground holiday": func(c *Config) { c.Holidays[0].Background = model.KindBirdFlyby },
		"bad window": func(c *Config) {
			c.Blackouts = []Blackout{{Event: model.KindBirdFlyby, Window: Window{From: MonthDay{13, 1}, To: MonthDay{1, 1}}}}
		},
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := New(cfg); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestMatchRecurringFirstWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Recurring = []model.RecurringRule{
		{StartHour: 22, EndHour: 4, Event: model.KindThoughtBubble},
		{StartHour: 0, EndHour: 12, Event: model.KindBirdFlyby},
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	for _, hour := range []int{22, 23, 0, 1, 2, 3} {
		if k, ok := c.MatchRecurring(hour); !ok || k != model.KindThoughtBubble {
			t.Errorf("hour %d: got %s, %v", hour, k, ok)
		}
	}
	if k, _ := c.MatchRecurring(4); k != model.KindBirdFlyby {
		t.Errorf("hour 4: got %s, want BIRD_FLYBY", k)
	}
	if _, ok := c.MatchRecurring(15); ok {
		t.Errorf("hour 15 should not match")
	}
}

func TestMatchCalendar(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	cfg.Calendar = []model.CalendarEvent{
		{Year: 2025, Month: 12, Day: 24, Hour: 19, Event: model.KindSpeechBubble, Text: "Merry Christmas"},
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ev, ok := c.MatchCalendar(time.Date(2025, 12, 24, 19, 0, 42, 0, time.UTC))
	if !ok || ev.Event != model.KindSpeechBubble || ev.Text != "Merry Christmas" {
		t.Fatalf("MatchCalendar = %+v, %v", ev, ok)
	}
	if _, ok := c.MatchCalendar(time.Date(2025, 12, 24, 19, 1, 0, 0, time.UTC)); ok {
		t.Errorf("19:01 should not match a 19:00 entry")
	}
	if _, ok := c.MatchCalendar(time.Date(2024, 12, 24, 19, 0, 0, 0, time.UTC)); ok {
		t.Errorf("other year should not match")
	}
}

func TestMatchCalendarYearlyRRule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	cfg.Calendar = []model.CalendarEvent{
		{Year: 2024, Month: 4, Day: 1, Hour: 9, Minute: 30, Event: model.KindSakuraFallen, RRule: "FREQ=YEARLY"},
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ev, ok := c.MatchCalendar(time.Date(2026, 4, 1, 9, 30, 5, 0, time.UTC))
	if !ok {
		t.Fatal("expected the 2026 occurrence to match")
	}
	if ev.Key() != "2026-04-01T09:30/SAKURA_FALLEN" {
		t.Errorf("occurrence key = %q", ev.Key())
	}
	if _, ok := c.MatchCalendar(time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)); ok {
		t.Errorf("April 2nd should not match")
	}
	if _, ok := c.MatchCalendar(time.Date(2023, 4, 1, 9, 30, 0, 0, time.UTC)); ok {
		t.Errorf("dates before DTSTART should not match")
	}
}

func TestSuppressedAndHoliday(t *testing.T) {
	c := Default()

	christmas := time.Date(2025, 12, 25, 10, 0, 0, 0, time.UTC)
	if !c.Suppressed(model.KindBirdFlyby, christmas) {
		t.Errorf("bird should be suppressed on Dec 25")
	}
	if c.Suppressed(model.KindSpeechBubble, christmas) {
		t.Errorf("speech should not be suppressed")
	}
	if c.Suppressed(model.KindBirdFlyby, christmas.AddDate(0, 0, -1)) {
		t.Errorf("bird should fly on Dec 24")
	}

	h, ok := c.HolidayAt(time.Date(2025, 12, 24, 0, 0, 0, 0, time.UTC))
	if !ok || h.Background != model.KindChristmasSnow {
		t.Errorf("HolidayAt(Dec 24) = %+v, %v", h, ok)
	}
	if _, ok := c.HolidayAt(time.Date(2025, 12, 26, 0, 0, 0, 0, time.UTC)); ok {
		t.Errorf("Dec 26 is not a holiday")
	}
}

func TestWindowWrapsYearEnd(t *testing.T) {
	w := Window{From: MonthDay{time.December, 30}, To: MonthDay{time.January, 2}}
	in := []time.Time{
		time.Date(2025, 12, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 2, 23, 0, 0, 0, time.UTC),
	}
	for _, d := range in {
		if !w.Contains(d) {
			t.Errorf("%v should be inside %s", d, w)
		}
	}
	if w.Contains(time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Jan 3 should be outside %s", w)
	}
}

func TestParseMonthDay(t *testing.T) {
	md, err := ParseMonthDay("12-24")
	if err != nil || md.Month != time.December || md.Day != 24 {
		t.Fatalf("ParseMonthDay = %v, %v", md, err)
	}
	for _, bad := range []string{"", "12", "13-01", "01-32", "aa-bb"} {
		if _, err := ParseMonthDay(bad); err == nil {
			t.Errorf("ParseMonthDay(%q) should fail", bad)
		}
	}
}
