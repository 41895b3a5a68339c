package attendance

import (
	"fmt"
	"sort"
)

// Contains reports whether t lies in [Start, End].
func (s EmployeeSession) Contains(t TimeOfDay) bool {
	return s.Start <= t && t <= s.End
}

// Overlaps reports whether two sessions share at least one second.
func (s EmployeeSession) Overlaps(o EmployeeSession) bool {
	return s.Start <= o.End && o.Start <= s.End
}

// Validate checks the thresholds of a session before it is stored.
func (s EmployeeSession) Validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("%w: name required", ErrInvalidWindow)
	case !s.Start.Valid() || !s.End.Valid() || !s.LateThreshold.Valid():
		return fmt.Errorf("%w: times must be within one day", ErrInvalidWindow)
	case s.Start >= s.End:
		return fmt.Errorf("%w: start_time must be before end_time", ErrInvalidWindow)
	case s.LateThreshold < s.Start || s.LateThreshold > s.End:
		return fmt.Errorf("%w: late_threshold must lie within the session", ErrInvalidWindow)
	}
	if a := s.AlphaThreshold; a != nil {
		if !a.Valid() || *a <= s.LateThreshold {
			return fmt.Errorf("%w: alpha_threshold must be after late_threshold", ErrInvalidWindow)
		}
	}
	return nil
}

// ValidateAgainst rejects s when it overlaps any of existing.
func (s EmployeeSession) ValidateAgainst(existing []EmployeeSession) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for _, o := range existing {
		if o.ID != s.ID && s.Overlaps(o) {
			return fmt.Errorf("%w: %q %s-%s", ErrOverlap, o.Name, o.Start, o.End)
		}
	}
	return nil
}

// SortSessions orders sessions by configured position, then id.
func SortSessions(sessions []EmployeeSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].Position != sessions[j].Position {
			return sessions[i].Position < sessions[j].Position
		}
		return sessions[i].ID < sessions[j].ID
	})
}

// MatchEmployeeSession returns the first session, in configured order,
// whose window contains t.
func MatchEmployeeSession(sessions []EmployeeSession, t TimeOfDay) (EmployeeSession, bool) {
	ordered := append([]EmployeeSession(nil), sessions...)
	SortSessions(ordered)
	for _, s := range ordered {
		if s.Contains(t) {
			return s, true
		}
	}
	return EmployeeSession{}, false
}

// MatchCoachSchedule picks the earliest of the coach's schedules today
// that has not ended yet.
func MatchCoachSchedule(schedules []Schedule, t TimeOfDay) (Schedule, bool) {
	var (
		best  Schedule
		found bool
	)
	for _, s := range schedules {
		if s.End < t {
			continue
		}
		if !found || s.Start < best.Start || (s.Start == best.Start && s.ID < best.ID) {
			best, found = s, true
		}
	}
	return best, found
}

// MatchClassSchedule picks the schedule running at t for one of the
// member's enrolments. Enrolments are tried in the given order.
func MatchClassSchedule(enrolments []Enrolment, schedules []Schedule, t TimeOfDay) (Enrolment, Schedule, bool) {
	ordered := append([]Schedule(nil), schedules...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Start != ordered[j].Start {
			return ordered[i].Start < ordered[j].Start
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, e := range enrolments {
		for _, s := range ordered {
			if s.ClassSessionID == e.ClassSessionID && s.Start <= t && t <= s.End {
				return e, s, true
			}
		}
	}
	return Enrolment{}, Schedule{}, false
}
