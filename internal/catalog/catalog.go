// Package catalog holds the immutable event configuration: per-kind
// durations and flags, recurring time-of-day rules, calendar one-shots,
// blackout windows and holiday windows.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"cardscene/internal/model"
)

// ErrUnknownKind is wrapped by ConfigError when a kind is outside the
// closed set or has no catalog entry.
var ErrUnknownKind = errors.New("unknown event kind")

// ConfigError reports a catalog problem tied to one kind.
type ConfigError struct {
	Kind   model.Kind
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("catalog: %s: %s", e.Kind, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// KindSpec is the static metadata of one event kind.
type KindSpec struct {
	Kind     model.Kind    `json:"kind"`
	Duration time.Duration `json:"duration"`
	// Background kinds occupy the background slot and are never animated.
	Background bool `json:"background"`
	// AcceptsText kinds carry a bubble text payload.
	AcceptsText bool   `json:"accepts_text"`
	DefaultText string `json:"default_text,omitempty"`
}

// Blackout forbids starting Event while the date is inside the window.
type Blackout struct {
	Event  model.Kind
	Window Window
}

// Holiday forces Background while the date is inside the window. When
// Greeting is set the scheduler plays a one-time greeting on mount.
type Holiday struct {
	Name            string
	Window          Window
	Background      model.Kind
	Greeting        string
	GreetingDelay   time.Duration
	BackgroundDelay time.Duration
}

// Config is the raw input to New.
type Config struct {
	Kinds     []KindSpec
	Recurring []model.RecurringRule
	Calendar  []model.CalendarEvent
	Blackouts []Blackout
	Holidays  []Holiday
	// Location anchors RRULE DTSTARTs. Defaults to time.Local.
	Location *time.Location
}

type calendarEntry struct {
	event model.CalendarEvent
	rule  *rrule.RRule
}

// Catalog is safe for concurrent reads; nothing mutates it after New.
type Catalog struct {
	kinds     map[model.Kind]KindSpec
	recurring []model.RecurringRule
	calendar  []calendarEntry
	blackouts []Blackout
	holidays  []Holiday
	loc       *time.Location
}

// New validates cfg and builds a Catalog. Every kind except NONE must have
// a positive duration.
func New(cfg Config) (*Catalog, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	c := &Catalog{
		kinds: make(map[model.Kind]KindSpec, len(cfg.Kinds)),
		loc:   loc,
	}

	for _, spec := range cfg.Kinds {
		if !spec.Kind.Valid() {
			return nil, &ConfigError{Kind: spec.Kind, Reason: "not a known kind", Err: ErrUnknownKind}
		}
		if spec.Kind == model.KindNone {
			continue
		}
		if spec.Duration <= 0 {
			return nil, &ConfigError{Kind: spec.Kind, Reason: "duration must be positive"}
		}
		c.kinds[spec.Kind] = spec
	}
	for _, k := range model.Kinds() {
		if k == model.KindNone {
			continue
		}
		if _, ok := c.kinds[k]; !ok {
			return nil, &ConfigError{Kind: k, Reason: "no duration registered", Err: ErrUnknownKind}
		}
	}

	for i, r := range cfg.Recurring {
		if r.StartHour < 0 || r.StartHour > 23 || r.EndHour < 0 || r.EndHour > 23 {
			return nil, &ConfigError{Kind: r.Event, Reason: fmt.Sprintf("recurring rule %d: hours must be within 0..23", i)}
		}
		if err := c.checkKind(r.Event); err != nil {
			return nil, err
		}
	}
	c.recurring = append([]model.RecurringRule(nil), cfg.Recurring...)

	for i, ev := range cfg.Calendar {
		if err := c.checkKind(ev.Event); err != nil {
			return nil, err
		}
		entry := calendarEntry{event: ev}
		if ev.RRule != "" {
			r, err := anchoredRule(ev.RRule, ev.Start(loc))
			if err != nil {
				return nil, &ConfigError{Kind: ev.Event, Reason: fmt.Sprintf("calendar entry %d: bad rrule %q", i, ev.RRule), Err: err}
			}
			entry.rule = r
		}
		c.calendar = append(c.calendar, entry)
	}

	for _, b := range cfg.Blackouts {
		if err := c.checkKind(b.Event); err != nil {
			return nil, err
		}
		if err := b.Window.validate(); err != nil {
			return nil, &ConfigError{Kind: b.Event, Reason: "blackout window", Err: err}
		}
	}
	c.blackouts = append([]Blackout(nil), cfg.Blackouts...)

	for _, h := range cfg.Holidays {
		if err := c.checkKind(h.Background); err != nil {
			return nil, err
		}
		if h.Background != model.KindNone && !c.IsBackground(h.Background) {
			return nil, &ConfigError{Kind: h.Background, Reason: fmt.Sprintf("holiday %q: not a background kind", h.Name)}
		}
		if err := h.Window.validate(); err != nil {
			return nil, &ConfigError{Kind: h.Background, Reason: fmt.Sprintf("holiday %q window", h.Name), Err: err}
		}
	}
	c.holidays = append([]Holiday(nil), cfg.Holidays...)

	return c, nil
}

// anchoredRule builds an RRULE anchored at dtstart. Options are parsed
// before the rule is built so BYHOUR/BYMINUTE defaults come from dtstart.
func anchoredRule(raw string, dtstart time.Time) (*rrule.RRule, error) {
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = dtstart
	return rrule.NewRRule(*opt)
}

func (c *Catalog) checkKind(k model.Kind) error {
	if !k.Valid() {
		return &ConfigError{Kind: k, Reason: "not a known kind", Err: ErrUnknownKind}
	}
	return nil
}

// DurationOf returns how long a foreground session of kind lasts.
func (c *Catalog) DurationOf(kind model.Kind) (time.Duration, error) {
	if kind == model.KindNone {
		return 0, nil
	}
	spec, ok := c.kinds[kind]
	if !ok {
		return 0, &ConfigError{Kind: kind, Reason: "no duration registered", Err: ErrUnknownKind}
	}
	return spec.Duration, nil
}

// Spec returns the metadata registered for kind.
func (c *Catalog) Spec(kind model.Kind) (KindSpec, bool) {
	spec, ok := c.kinds[kind]
	return spec, ok
}

func (c *Catalog) IsBackground(kind model.Kind) bool {
	return c.kinds[kind].Background
}

func (c *Catalog) AcceptsText(kind model.Kind) bool {
	return c.kinds[kind].AcceptsText
}

func (c *Catalog) DefaultText(kind model.Kind) string {
	return c.kinds[kind].DefaultText
}

// MatchRecurring returns the event of the first rule whose window contains hour.
func (c *Catalog) MatchRecurring(hour int) (model.Kind, bool) {
	for _, r := range c.recurring {
		if r.Contains(hour) {
			return r.Event, true
		}
	}
	return model.KindNone, false
}

// MatchCalendar returns the first calendar entry scheduled for now's minute.
// For RRULE entries the returned event carries the occurrence's own date.
func (c *Catalog) MatchCalendar(now time.Time) (model.CalendarEvent, bool) {
	for _, entry := range c.calendar {
		if entry.rule == nil {
			ev := entry.event
			if ev.Year == now.Year() && ev.Month == int(now.Month()) && ev.Day == now.Day() &&
				ev.Hour == now.Hour() && ev.Minute == now.Minute() {
				return ev, true
			}
			continue
		}

		minute := now.Truncate(time.Minute)
		occ := entry.rule.Between(minute, minute.Add(time.Minute-time.Nanosecond), true)
		if len(occ) > 0 {
			at := occ[0].In(now.Location())
			return model.At(at, entry.event.Event, entry.event.Text), true
		}
	}
	return model.CalendarEvent{}, false
}

// Suppressed reports whether a blackout forbids kind on now's date.
func (c *Catalog) Suppressed(kind model.Kind, now time.Time) bool {
	for _, b := range c.blackouts {
		if b.Event == kind && b.Window.Contains(now) {
			return true
		}
	}
	return false
}

// HolidayAt returns the first holiday whose window contains now's date.
func (c *Catalog) HolidayAt(now time.Time) (Holiday, bool) {
	for _, h := range c.holidays {
		if h.Window.Contains(now) {
			return h, true
		}
	}
	return Holiday{}, false
}

// Kinds lists the registered kind specs in enumeration order.
func (c *Catalog) Kinds() []KindSpec {
	out := make([]KindSpec, 0, len(c.kinds))
	for _, spec := range c.kinds {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func (c *Catalog) Recurring() []model.RecurringRule {
	return append([]model.RecurringRule(nil), c.recurring...)
}

func (c *Catalog) Calendar() []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(c.calendar))
	for _, e := range c.calendar {
		out = append(out, e.event)
	}
	return out
}

func (c *Catalog) Holidays() []Holiday {
	return append([]Holiday(nil), c.holidays...)
}

func (c *Catalog) Blackouts() []Blackout {
	return append([]Blackout(nil), c.blackouts...)
}

// Location is the zone RRULE entries were anchored in.
func (c *Catalog) Location() *time.Location {
	return c.loc
}
