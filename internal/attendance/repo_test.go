package attendance

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swimschool/internal/store"
)

// pgFixture seeds one course, one class session and a handful of users in a
// migrated database. Every row it creates is removed on cleanup.
type pgFixture struct {
	db      *sql.DB
	repo    *Repository
	class   int64
	session EmployeeSession
	users   []string
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := store.NewDB(ctx, dsn)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		t.Skipf("postgres not reachable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(ctx, db))

	f := &pgFixture{db: db.Client, repo: NewRepository(db.Client)}
	course := f.insertID(t, `INSERT INTO courses (name) VALUES ($1) RETURNING id`, "beginner "+uuid.NewString())
	f.class = f.insertID(t, `INSERT INTO class_sessions (course_id, name) VALUES ($1, $2) RETURNING id`, course, "tuesday")
	f.session, err = f.repo.CreateEmployeeSession(ctx, EmployeeSession{
		Name: "morning " + uuid.NewString(), Start: tod("07:00"), End: tod("12:00"),
		LateThreshold: tod("09:00"), AlphaThreshold: todPtr("09:30"),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		for _, q := range []string{
			`DELETE FROM attendance_members WHERE user_id = ANY($1)`,
			`DELETE FROM attendance_employees WHERE user_id = ANY($1)`,
			`DELETE FROM enrolment_courses WHERE member_id = ANY($1)`,
			`DELETE FROM schedules WHERE coach_id = ANY($1)`,
			`DELETE FROM users WHERE id = ANY($1)`,
		} {
			_, _ = f.db.Exec(q, f.users)
		}
		_, _ = f.db.Exec(`DELETE FROM employee_sessions WHERE id = $1`, f.session.ID)
		_, _ = f.db.Exec(`DELETE FROM class_sessions WHERE id = $1`, f.class)
		_, _ = f.db.Exec(`DELETE FROM courses WHERE id = $1`, course)
	})
	return f
}

func (f *pgFixture) insertID(t *testing.T, query string, args ...any) int64 {
	t.Helper()
	var id int64
	require.NoError(t, f.db.QueryRow(query, args...).Scan(&id))
	return id
}

func (f *pgFixture) user(t *testing.T, role Role) string {
	t.Helper()
	id := uuid.NewString()
	_, err := f.db.Exec(`INSERT INTO users (id, name, email, role) VALUES ($1, $2, $3, $4)`,
		id, string(role)+"-"+id[:8], id+"@example.test", string(role))
	require.NoError(t, err)
	f.users = append(f.users, id)
	return id
}

func (f *pgFixture) schedule(t *testing.T, coachID, start, end string) int64 {
	t.Helper()
	return f.insertID(t, `
		INSERT INTO schedules (class_session_id, coach_id, date, start_time, end_time)
		VALUES ($1, $2, $3::date, $4::time, $5::time) RETURNING id
	`, f.class, coachID, today, start, end)
}

func (f *pgFixture) enrolment(t *testing.T, memberID, status string, meetings int) int64 {
	t.Helper()
	return f.insertID(t, `
		INSERT INTO enrolment_courses (member_id, class_session_id, status, meeting_count)
		VALUES ($1, $2, $3, $4) RETURNING id
	`, memberID, f.class, status, meetings)
}

func (f *pgFixture) meetings(t *testing.T, enrolmentID int64) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(`SELECT meeting_count FROM enrolment_courses WHERE id = $1`, enrolmentID).Scan(&n))
	return n
}

func i64(v int64) *int64 { return &v }

func TestRepositoryEmployeeOncePerSessionDay(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	admin := f.user(t, RoleAdmin)

	rec := Record{UserID: admin, EmployeeSessionID: i64(f.session.ID), ScannedAt: at("08:10"), Date: today, State: StatePresent}
	saved, inserted, err := f.repo.InsertEmployeeRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.False(t, saved.CreatedAt.IsZero())

	rec.ScannedAt = at("10:00")
	_, inserted, err = f.repo.InsertEmployeeRecord(ctx, rec)
	require.NoError(t, err)
	assert.False(t, inserted)

	rec.Date = "2026-10-17"
	_, inserted, err = f.repo.InsertEmployeeRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	n, err := f.repo.CountRecords(ctx, FlowEmployee, today)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func TestRepositoryCoachOncePerSchedule(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	coach := f.user(t, RoleCoach)
	first := f.schedule(t, coach, "08:00", "09:00")
	second := f.schedule(t, coach, "10:00", "11:00")

	rec := Record{UserID: coach, EmployeeSessionID: i64(f.session.ID), ScheduleID: i64(first), ScannedAt: at("07:50"), Date: today, State: StatePresent}
	_, inserted, err := f.repo.InsertEmployeeRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	_, inserted, err = f.repo.InsertEmployeeRecord(ctx, rec)
	require.NoError(t, err)
	assert.False(t, inserted)

	rec.ScheduleID = i64(second)
	_, inserted, err = f.repo.InsertEmployeeRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted, "a second schedule on the same day gets its own row")

	schedules, err := f.repo.CoachSchedules(ctx, coach, today)
	require.NoError(t, err)
	require.Len(t, schedules, 2)
	assert.Equal(t, first, schedules[0].ID)
	assert.Equal(t, tod("08:00"), schedules[0].Start)
	assert.Equal(t, today, schedules[0].Date)

	records, err := f.repo.ListRecords(ctx, RecordFilter{Flow: FlowEmployee, UserID: coach, Date: today, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, coach, records[0].UserID)
	assert.NotEmpty(t, records[0].UserName)
}

func TestRepositoryMemberDuplicateKeepsMeetingCount(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	coach := f.user(t, RoleCoach)
	member := f.user(t, RoleMember)
	sched := f.schedule(t, coach, "10:00", "11:00")
	enrol := f.enrolment(t, member, EnrolmentOnProgress, 3)

	active, err := f.repo.ActiveEnrolments(ctx, member)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, enrol, active[0].ID)

	classes, err := f.repo.ClassSchedules(ctx, []int64{f.class}, today)
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, sched, classes[0].ID)

	rec := Record{UserID: member, ScheduleID: i64(sched), EnrolmentID: i64(enrol), ScannedAt: at("10:30"), Date: today}
	_, inserted, err := f.repo.InsertMemberRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 4, f.meetings(t, enrol))

	rec.ScannedAt = at("10:45")
	_, inserted, err = f.repo.InsertMemberRecord(ctx, rec)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 4, f.meetings(t, enrol))

	records, err := f.repo.ListRecords(ctx, RecordFilter{Flow: FlowMember, UserID: member})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, enrol, *records[0].EnrolmentID)
	assert.Equal(t, StatePresent, records[0].State)
}

func TestRepositoryFinishedEnrolmentRollsBack(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	coach := f.user(t, RoleCoach)
	member := f.user(t, RoleMember)
	sched := f.schedule(t, coach, "10:00", "11:00")
	enrol := f.enrolment(t, member, "finished", 12)

	_, inserted, err := f.repo.InsertMemberRecord(ctx, Record{
		UserID: member, ScheduleID: i64(sched), EnrolmentID: i64(enrol), ScannedAt: at("10:30"), Date: today,
	})
	require.Error(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 12, f.meetings(t, enrol))

	var rows int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM attendance_members WHERE user_id = $1`, member).Scan(&rows))
	assert.Zero(t, rows)
}

func TestRepositoryScanCodeUniquePerUser(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	member := f.user(t, RoleMember)

	sc, err := f.repo.CreateScanCode(ctx, ScanCode{Code: uuid.NewString(), UserID: member})
	require.NoError(t, err)
	_, err = f.repo.CreateScanCode(ctx, ScanCode{Code: uuid.NewString(), UserID: member})
	assert.ErrorIs(t, err, ErrDuplicateCode)

	found, err := f.repo.FindScanCode(ctx, sc.Code)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, member, found.UserID)

	role, err := f.repo.RoleOf(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, RoleMember, role)

	missing, err := f.repo.FindScanCode(ctx, "no-such-code")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.WithinDuration(t, time.Now(), sc.CreatedAt, time.Minute)
}
