package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "cardscene/internal/log"
)

// ParsedEvent is the subset of a VEVENT the scene cares about.
type ParsedEvent struct {
	Source Source

	UID         string
	Summary     string
	Description string

	Start  time.Time
	AllDay bool
	// Floating is set for all-day and zone-less DTSTARTs. Start then only
	// carries wall-clock fields (in UTC) and is anchored in the scene's
	// zone during expansion.
	Floating bool

	RawRRule string
	ExDates  []time.Time
	// FloatingExDates are zone-less EXDATEs of a floating event, in the
	// same wall-clock form as Start.
	FloatingExDates []time.Time
}

// ParseICS parses one ICS payload. VEVENTs that fail to parse are logged
// and skipped.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "reason", perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = strings.TrimSpace(p.Value)
	}

	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil {
		return out, errors.New("missing DTSTART")
	}
	if vs, ok := dtStartProp.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		out.AllDay = true
	}
	if !strings.Contains(dtStartProp.Value, "T") {
		out.AllDay = true
	}
	_, hasTZID := dtStartProp.ICalParameters["TZID"]
	out.Floating = out.AllDay || (!hasTZID && !strings.HasSuffix(strings.TrimSpace(dtStartProp.Value), "Z"))

	var start time.Time
	var err error
	if out.Floating {
		start, err = parseICSTime(dtStartProp.Value, time.UTC)
	} else {
		start, err = ve.GetStartAt()
	}
	if err != nil {
		return out, err
	}
	out.Start = start

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := parseICSTime(part, start.Location())
			if err != nil {
				continue
			}
			if out.Floating && !strings.HasSuffix(part, "Z") {
				out.FloatingExDates = append(out.FloatingExDates, t)
			} else {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out, nil
}

// parseICSTime parses DATE, local DATE-TIME and UTC DATE-TIME values.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
