package attendance

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time expressed as seconds since midnight.
type TimeOfDay int

const secondsPerDay = 24 * 60 * 60

// ParseTimeOfDay accepts "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// MustTimeOfDay is ParseTimeOfDay for literals; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// TimeOfDayOf returns the wall-clock part of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

// DateOf returns the calendar day of t in t's location as YYYY-MM-DD.
func DateOf(t time.Time) string {
	return t.Format(time.DateOnly)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, int(t)%3600/60, int(t)%60)
}

// Valid reports whether t lies within a single day.
func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < secondsPerDay
}

// Scan reads TIME columns selected as text.
func (t *TimeOfDay) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case time.Time:
		*t = TimeOfDayOf(v)
		return nil
	case nil:
		return fmt.Errorf("time of day: NULL")
	default:
		return fmt.Errorf("time of day: unsupported type %T", src)
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
