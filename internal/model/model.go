package model

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind identifies an ambient scene event. The set is closed: values outside
// the constants below are rejected by ParseKind and by the catalog.
type Kind int

const (
	KindNone Kind = iota
	KindBirdFlyby
	KindSpeechBubble
	KindThoughtBubble
	KindSakuraFallen
	KindChristmasSnow
)

var kindNames = [...]string{
	KindNone:          "NONE",
	KindBirdFlyby:     "BIRD_FLYBY",
	KindSpeechBubble:  "SPEECH_BUBBLE",
	KindThoughtBubble: "THOUGHT_BUBBLE",
	KindSakuraFallen:  "SAKURA_FALLEN",
	KindChristmasSnow: "CHRISTMAS_SNOW",
}

// Kinds returns every known kind, NONE first.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= 0 && int(k) < len(kindNames)
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind accepts the canonical upper-case names, case-insensitively.
func ParseKind(s string) (Kind, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		return KindNone, nil
	}
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return KindNone, fmt.Errorf("unknown event kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown event kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k Kind) MarshalYAML() (any, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown event kind %d", int(k))
	}
	return k.String(), nil
}

func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return k.UnmarshalText([]byte(s))
}

// RecurringRule maps an hour-of-day window to a default event. The window is
// [StartHour, EndHour); when StartHour > EndHour it wraps past midnight.
type RecurringRule struct {
	StartHour int  `yaml:"start_hour" json:"start_hour"`
	EndHour   int  `yaml:"end_hour" json:"end_hour"`
	Event     Kind `yaml:"event" json:"event"`
}

// Contains reports whether hour falls inside the rule's window.
func (r RecurringRule) Contains(hour int) bool {
	if r.StartHour <= r.EndHour {
		return hour >= r.StartHour && hour < r.EndHour
	}
	return hour >= r.StartHour || hour < r.EndHour
}

// CalendarEvent is a one-shot trigger at minute granularity. When RRule is
// set, the date fields act as DTSTART and every occurrence is its own
// one-shot.
type CalendarEvent struct {
	Year   int    `yaml:"year" json:"year"`
	Month  int    `yaml:"month" json:"month"`
	Day    int    `yaml:"day" json:"day"`
	Hour   int    `yaml:"hour" json:"hour"`
	Minute int    `yaml:"minute,omitempty" json:"minute"`
	Event  Kind   `yaml:"event" json:"event"`
	Text   string `yaml:"text,omitempty" json:"text,omitempty"`
	RRule  string `yaml:"rrule,omitempty" json:"rrule,omitempty"`
}

// Key identifies one occurrence for at-most-once firing.
func (c CalendarEvent) Key() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d/%s", c.Year, c.Month, c.Day, c.Hour, c.Minute, c.Event)
}

// Start returns the occurrence time in loc.
func (c CalendarEvent) Start(loc *time.Location) time.Time {
	return time.Date(c.Year, time.Month(c.Month), c.Day, c.Hour, c.Minute, 0, 0, loc)
}

// At builds a CalendarEvent occurrence from a concrete time.
func At(t time.Time, kind Kind, text string) CalendarEvent {
	return CalendarEvent{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Event:  kind,
		Text:   text,
	}
}

// Snapshot is the read-only view handed to rendering collaborators.
type Snapshot struct {
	ActiveEvent     Kind      `json:"active_event"`
	BackgroundEvent Kind      `json:"background_event"`
	EventProgress   float64   `json:"event_progress"`
	BubbleText      *string   `json:"bubble_text"`
	BubbleOpacity   float64   `json:"bubble_opacity"`
	Generation      uint64    `json:"generation"`
	SessionID       string    `json:"session_id,omitempty"`
	At              time.Time `json:"at"`
}

// IsBubble reports whether k draws a speech or thought bubble.
func (k Kind) IsBubble() bool {
	return k == KindSpeechBubble || k == KindThoughtBubble
}

// Text returns the bubble text or "" when none is set.
func (s Snapshot) Text() string {
	if s.BubbleText == nil {
		return ""
	}
	return *s.BubbleText
}
