package ics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "cardscene/internal/log"
	"cardscene/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// Location is the scene's wall-clock zone. Occurrences are converted to
	// it before their date fields are taken. Defaults to time.Local.
	Location *time.Location

	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway RRULEs.
	MaxOccurrencesPerEvent int
}

// ToCalendar turns parsed VEVENTs into one-shot calendar triggers. SUMMARY
// names the event kind ("SPEECH_BUBBLE"); DESCRIPTION becomes the bubble
// text. VEVENTs whose SUMMARY is not a kind are ignored. All-day and
// zone-less events are read as wall-clock times in cfg.Location, so an
// all-day event fires at local midnight.
func ToCalendar(events []ParsedEvent, cfg ExpandConfig) ([]model.CalendarEvent, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	var out []model.CalendarEvent
	for _, ev := range events {
		kind, err := model.ParseKind(ev.Summary)
		if err != nil || kind == model.KindNone {
			appLog.Debug("ics event is not a scene event", "uid", ev.UID, "summary", ev.Summary)
			continue
		}

		if ev.Floating {
			ev = anchor(ev, cfg.Location)
		}
		for _, start := range occurrences(ev, cfg) {
			out = append(out, model.At(start.In(cfg.Location), kind, ev.Description))
		}
	}
	return out, nil
}

// anchor moves a floating event's wall-clock fields into loc.
func anchor(ev ParsedEvent, loc *time.Location) ParsedEvent {
	ev.Start = wallClock(ev.Start, loc)
	if ev.AllDay {
		ev.Start = time.Date(ev.Start.Year(), ev.Start.Month(), ev.Start.Day(), 0, 0, 0, 0, loc)
	}
	exdates := make([]time.Time, 0, len(ev.ExDates)+len(ev.FloatingExDates))
	exdates = append(exdates, ev.ExDates...)
	for _, ex := range ev.FloatingExDates {
		if ev.AllDay {
			ex = time.Date(ex.Year(), ex.Month(), ex.Day(), 0, 0, 0, 0, ex.Location())
		}
		exdates = append(exdates, wallClock(ex, loc))
	}
	ev.ExDates = exdates
	ev.FloatingExDates = nil
	return ev
}

func wallClock(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}

func occurrences(ev ParsedEvent, cfg ExpandConfig) []time.Time {
	if ev.RawRRule == "" {
		if ev.Start.Before(cfg.RangeStart) || ev.Start.After(cfg.RangeEnd) {
			return nil
		}
		return []time.Time{ev.Start}
	}

	opt, err := rrule.StrToROption(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	opt.Dtstart = ev.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Error("expand: failed to build RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	times := set.Between(cfg.RangeStart.In(ev.Start.Location()), cfg.RangeEnd.In(ev.Start.Location()), true)
	if len(times) > cfg.MaxOccurrencesPerEvent {
		appLog.Warn("expand: truncated occurrences", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		times = times[:cfg.MaxOccurrencesPerEvent]
	}
	return times
}

// LoadCalendar fetches, parses and expands every source into calendar
// triggers. Sources that fail are logged and skipped.
func LoadCalendar(ctx context.Context, f *Fetcher, sources []Source, cfg ExpandConfig) ([]model.CalendarEvent, error) {
	if len(sources) == 0 {
		return nil, nil
	}

	results, errs := f.FetchAll(ctx, sources)

	var parsed []ParsedEvent
	for _, res := range results {
		events, err := ParseICS(res.Source, res.Body)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", res.Source.ID)
			errs = append(errs, err)
			continue
		}
		parsed = append(parsed, events...)
	}

	cal, err := ToCalendar(parsed, cfg)
	if err != nil {
		return nil, err
	}
	appLog.Info("ics calendar loaded",
		"sources", len(sources),
		"failed", len(errs),
		"triggers", len(cal),
	)
	if len(results) == 0 && len(errs) > 0 {
		return nil, errorsAggregate(errs)
	}
	return cal, nil
}

func errorsAggregate(errs []error) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return errors.New(strings.Join(msgs, "; "))
}
