package models

import (
	"fmt"
	"strings"
	"time"
)

// TimeSlot is a fixed service window label such as "18:00-20:00".
type TimeSlot string

// Clock is a time of day in minutes after midnight. 24:00 is allowed as an end.
type Clock int

func ParseClock(s string) (Clock, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q; expected HH:MM", s)
	}
	if len(strings.TrimSpace(s)) != 5 || h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q; expected HH:MM", s)
	}
	return Clock(h*60 + m), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Parse splits the label into its start and end clock values.
func (s TimeSlot) Parse() (start, end Clock, err error) {
	parts := strings.Split(string(s), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time slot %q; expected HH:MM-HH:MM", s)
	}
	if start, err = ParseClock(parts[0]); err != nil {
		return 0, 0, err
	}
	if end, err = ParseClock(parts[1]); err != nil {
		return 0, 0, err
	}
	if start == end {
		return 0, 0, fmt.Errorf("invalid time slot %q; empty window", s)
	}
	return start, end, nil
}

// Bounds returns the slot's start and end instants on date in loc.
// A slot whose end is not after its start crosses midnight.
func (s TimeSlot) Bounds(date Date, loc *time.Location) (time.Time, time.Time, error) {
	start, end, err := s.Parse()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	midnight := date.In(loc)
	from := midnight.Add(time.Duration(start) * time.Minute)
	to := midnight.Add(time.Duration(end) * time.Minute)
	if end < start {
		to = to.AddDate(0, 0, 1)
	}
	return from, to, nil
}
