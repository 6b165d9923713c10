package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MonthDay is a calendar date without a year.
type MonthDay struct {
	Month time.Month
	Day   int
}

// ParseMonthDay parses "MM-DD", e.g. "12-24".
func ParseMonthDay(s string) (MonthDay, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return MonthDay{}, fmt.Errorf("month-day %q: want MM-DD", s)
	}
	m, err := strconv.Atoi(parts[0])
	if err != nil {
		return MonthDay{}, fmt.Errorf("month-day %q: %w", s, err)
	}
	d, err := strconv.Atoi(parts[1])
	if err != nil {
		return MonthDay{}, fmt.Errorf("month-day %q: %w", s, err)
	}
	md := MonthDay{Month: time.Month(m), Day: d}
	if err := md.validate(); err != nil {
		return MonthDay{}, err
	}
	return md, nil
}

func (md MonthDay) String() string {
	return fmt.Sprintf("%02d-%02d", int(md.Month), md.Day)
}

func (md MonthDay) validate() error {
	if md.Month < time.January || md.Month > time.December {
		return fmt.Errorf("month-day %s: month out of range", md)
	}
	if md.Day < 1 || md.Day > 31 {
		return fmt.Errorf("month-day %s: day out of range", md)
	}
	return nil
}

func (md MonthDay) ordinal() int {
	return int(md.Month)*100 + md.Day
}

// Window is an inclusive month-day range. From after To wraps the year end.
type Window struct {
	From MonthDay
	To   MonthDay
}

// Day returns a single-day window.
func Day(m time.Month, d int) Window {
	return Window{From: MonthDay{m, d}, To: MonthDay{m, d}}
}

// Contains reports whether t's date is inside the window.
func (w Window) Contains(t time.Time) bool {
	v := MonthDay{t.Month(), t.Day()}.ordinal()
	from, to := w.From.ordinal(), w.To.ordinal()
	if from <= to {
		return v >= from && v <= to
	}
	return v >= from || v <= to
}

func (w Window) validate() error {
	if err := w.From.validate(); err != nil {
		return err
	}
	return w.To.validate()
}

func (w Window) String() string {
	return w.From.String() + ".." + w.To.String()
}
