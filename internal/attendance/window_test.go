package attendance

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	got, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	assert.Equal(t, "09:30:00", got.String())

	got, err = ParseTimeOfDay(" 23:59:59 ")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(secondsPerDay-1), got)

	_, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)
}

func TestTimeOfDayScanAndJSON(t *testing.T) {
	var v TimeOfDay
	require.NoError(t, v.Scan([]byte("10:15:00")))
	assert.Equal(t, tod("10:15"), v)
	require.NoError(t, v.Scan(time.Date(2026, 1, 1, 7, 5, 3, 0, time.UTC)))
	assert.Equal(t, "07:05:03", v.String())
	assert.Error(t, v.Scan(nil))

	b, err := json.Marshal(tod("06:00"))
	require.NoError(t, err)
	assert.JSONEq(t, `"06:00:00"`, string(b))

	var back TimeOfDay
	require.NoError(t, json.Unmarshal([]byte(`"17:45"`), &back))
	assert.Equal(t, tod("17:45"), back)
}

func TestMatchEmployeeSessionFirstByPosition(t *testing.T) {
	sessions := []EmployeeSession{
		{ID: 1, Name: "late shift", Start: tod("08:00"), End: tod("14:00"), Position: 2},
		{ID: 2, Name: "morning", Start: tod("06:00"), End: tod("10:00"), Position: 1},
	}

	got, ok := MatchEmployeeSession(sessions, tod("09:00"))
	require.True(t, ok)
	assert.Equal(t, "morning", got.Name)

	got, ok = MatchEmployeeSession(sessions, tod("13:00"))
	require.True(t, ok)
	assert.Equal(t, "late shift", got.Name)

	_, ok = MatchEmployeeSession(sessions, tod("15:00"))
	assert.False(t, ok)

	// input order is left untouched
	assert.Equal(t, int64(1), sessions[0].ID)
}

func TestMatchEmployeeSessionBoundsInclusive(t *testing.T) {
	sessions := []EmployeeSession{{ID: 1, Start: tod("06:00"), End: tod("10:00")}}
	_, ok := MatchEmployeeSession(sessions, tod("06:00"))
	assert.True(t, ok)
	_, ok = MatchEmployeeSession(sessions, tod("10:00"))
	assert.True(t, ok)
	_, ok = MatchEmployeeSession(sessions, tod("10:00:01"))
	assert.False(t, ok)
}

func TestMatchCoachSchedule(t *testing.T) {
	schedules := []Schedule{
		{ID: 3, Start: tod("15:00"), End: tod("16:00")},
		{ID: 1, Start: tod("08:00"), End: tod("09:00")},
		{ID: 2, Start: tod("10:00"), End: tod("11:00")},
	}

	got, ok := MatchCoachSchedule(schedules, tod("07:00"))
	require.True(t, ok)
	assert.Equal(t, int64(1), got.ID)

	got, ok = MatchCoachSchedule(schedules, tod("09:30"))
	require.True(t, ok)
	assert.Equal(t, int64(2), got.ID)

	got, ok = MatchCoachSchedule(schedules, tod("16:00"))
	require.True(t, ok)
	assert.Equal(t, int64(3), got.ID)

	_, ok = MatchCoachSchedule(schedules, tod("16:00:01"))
	assert.False(t, ok)
}

func TestMatchClassSchedule(t *testing.T) {
	enrolments := []Enrolment{{ID: 10, ClassSessionID: 100}, {ID: 11, ClassSessionID: 200}}
	schedules := []Schedule{
		{ID: 1, ClassSessionID: 100, Start: tod("08:00"), End: tod("09:00")},
		{ID: 2, ClassSessionID: 200, Start: tod("10:00"), End: tod("11:00")},
		{ID: 3, ClassSessionID: 300, Start: tod("10:00"), End: tod("11:00")},
	}

	e, s, ok := MatchClassSchedule(enrolments, schedules, tod("10:30"))
	require.True(t, ok)
	assert.Equal(t, int64(11), e.ID)
	assert.Equal(t, int64(2), s.ID)

	_, _, ok = MatchClassSchedule(enrolments, schedules, tod("09:30"))
	assert.False(t, ok)
}

func TestValidateSession(t *testing.T) {
	valid := EmployeeSession{Name: "morning", Start: tod("06:00"), End: tod("10:00"), LateThreshold: tod("07:00"), AlphaThreshold: todPtr("08:00")}
	assert.NoError(t, valid.Validate())

	cases := map[string]EmployeeSession{
		"no name":        {Start: tod("06:00"), End: tod("10:00"), LateThreshold: tod("07:00")},
		"reversed":       {Name: "x", Start: tod("10:00"), End: tod("06:00"), LateThreshold: tod("07:00")},
		"late outside":   {Name: "x", Start: tod("06:00"), End: tod("10:00"), LateThreshold: tod("11:00")},
		"alpha too soon": {Name: "x", Start: tod("06:00"), End: tod("10:00"), LateThreshold: tod("07:00"), AlphaThreshold: todPtr("07:00")},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.Validate(), ErrInvalidWindow)
		})
	}
}

func TestValidateAgainstRejectsOverlap(t *testing.T) {
	existing := []EmployeeSession{{ID: 1, Name: "morning", Start: tod("06:00"), End: tod("10:00"), LateThreshold: tod("07:00")}}

	overlapping := EmployeeSession{Name: "mid", Start: tod("09:00"), End: tod("12:00"), LateThreshold: tod("09:30")}
	assert.ErrorIs(t, overlapping.ValidateAgainst(existing), ErrOverlap)

	touching := EmployeeSession{Name: "mid", Start: tod("10:00"), End: tod("12:00"), LateThreshold: tod("10:30")}
	assert.ErrorIs(t, touching.ValidateAgainst(existing), ErrOverlap)

	after := EmployeeSession{Name: "afternoon", Start: tod("10:00:01"), End: tod("14:00"), LateThreshold: tod("11:00")}
	assert.NoError(t, after.ValidateAgainst(existing))
}

func TestAllow(t *testing.T) {
	for _, role := range []Role{RoleCoach, RoleAdmin, RoleOperator} {
		assert.NoError(t, Allow(FlowEmployee, role))
		assert.Equal(t, KindWrongFlow, KindOf(Allow(FlowMember, role)))
	}
	assert.NoError(t, Allow(FlowMember, RoleMember))
	err := Allow(FlowEmployee, RoleMember)
	assert.Equal(t, KindWrongFlow, KindOf(err))
	assert.Contains(t, err.Error(), "member scan")
}
