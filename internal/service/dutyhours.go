package service

import (
	"strings"
	"time"
)

// DutyHours is a provider's daily availability window, minutes from
// midnight. Half-open: a booking must satisfy start >= Start and end <= End.
type DutyHours struct {
	Start int
	End   int
}

// Window materializes the duty hours on a concrete day, in the day's
// location.
func (d DutyHours) Window(day time.Time) (time.Time, time.Time) {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return midnight.Add(time.Duration(d.Start) * time.Minute),
		midnight.Add(time.Duration(d.End) * time.Minute)
}

var clockLayouts = []string{"15:04", "15.04", "3:04 PM", "3:04PM", "3 PM", "3PM"}

func parseClock(s string) (int, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*60 + t.Minute(), true
		}
	}
	return 0, false
}

// ParseDutyHours parses a free-form "start-end" availability string. Both
// 24-hour ("09:00-17:00") and meridiem ("9:00 AM - 5:00 PM") forms are
// accepted. Returns ok=false for anything it cannot parse; the caller treats
// that as always-available rather than failing the request.
func ParseDutyHours(raw string) (DutyHours, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DutyHours{}, false
	}

	// En dash shows up in hand-entered ranges.
	s = strings.ReplaceAll(s, "–", "-")
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return DutyHours{}, false
	}

	start, ok := parseClock(parts[0])
	if !ok {
		return DutyHours{}, false
	}
	end, ok := parseClock(parts[1])
	if !ok {
		return DutyHours{}, false
	}
	if end <= start {
		return DutyHours{}, false
	}

	return DutyHours{Start: start, End: end}, true
}
