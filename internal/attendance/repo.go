package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store is the persistence the verification flow depends on.
type Store interface {
	FindScanCode(ctx context.Context, code string) (*ScanCode, error)
	FindUser(ctx context.Context, id string) (*User, error)
	ListEmployeeSessions(ctx context.Context) ([]EmployeeSession, error)
	CreateEmployeeSession(ctx context.Context, s EmployeeSession) (EmployeeSession, error)
	CoachSchedules(ctx context.Context, coachID, date string) ([]Schedule, error)
	ClassSchedules(ctx context.Context, classSessionIDs []int64, date string) ([]Schedule, error)
	ActiveEnrolments(ctx context.Context, memberID string) ([]Enrolment, error)
	// InsertEmployeeRecord writes rec unless its uniqueness scope is taken;
	// the bool reports whether a row was created.
	InsertEmployeeRecord(ctx context.Context, rec Record) (Record, bool, error)
	// InsertMemberRecord writes rec and bumps the enrolment's meeting count
	// in one transaction.
	InsertMemberRecord(ctx context.Context, rec Record) (Record, bool, error)
	CountRecords(ctx context.Context, flow Flow, date string) (int, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]Record, error)
}

// RoleLookup resolves the coarse role of a user.
type RoleLookup interface {
	RoleOf(ctx context.Context, userID string) (Role, error)
}

// RecordFilter narrows ListRecords.
type RecordFilter struct {
	Flow   Flow
	UserID string
	Date   string
	Limit  int
	Offset int
}

// ErrDuplicateCode is returned when a user already owns a scan code.
var ErrDuplicateCode = errors.New("scan code already issued")

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindScanCode returns nil when the code is unknown.
func (r *Repository) FindScanCode(ctx context.Context, code string) (*ScanCode, error) {
	return r.scanCode(ctx, `SELECT code, user_id, qr_url, created_at FROM scan_codes WHERE code = $1`, code)
}

// FindScanCodeByUser returns nil when the user has no code yet.
func (r *Repository) FindScanCodeByUser(ctx context.Context, userID string) (*ScanCode, error) {
	return r.scanCode(ctx, `SELECT code, user_id, qr_url, created_at FROM scan_codes WHERE user_id = $1`, userID)
}

func (r *Repository) scanCode(ctx context.Context, query, arg string) (*ScanCode, error) {
	var sc ScanCode
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&sc.Code, &sc.UserID, &sc.QRURL, &sc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sc, nil
}

// CreateScanCode stores a new code; a second code for the same user fails with ErrDuplicateCode.
func (r *Repository) CreateScanCode(ctx context.Context, sc ScanCode) (ScanCode, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO scan_codes (code, user_id, qr_url)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, sc.Code, sc.UserID, sc.QRURL).Scan(&sc.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ScanCode{}, ErrDuplicateCode
		}
		return ScanCode{}, err
	}
	return sc, nil
}

// SetScanCodeQRURL records where the rendered QR image was uploaded.
func (r *Repository) SetScanCodeQRURL(ctx context.Context, code, url string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE scan_codes SET qr_url = $2 WHERE code = $1`, code, url)
	return err
}

// FindUser returns nil when the user does not exist.
func (r *Repository) FindUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, `SELECT id, name, email, role FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// RoleOf returns the role column of a user.
func (r *Repository) RoleOf(ctx context.Context, userID string) (Role, error) {
	var role Role
	err := r.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("role of %s: %w", userID, err)
	}
	return role, err
}

const sessionCols = `id, name,
to_char(start_time, 'HH24:MI:SS'), to_char(end_time, 'HH24:MI:SS'),
to_char(late_threshold, 'HH24:MI:SS'), to_char(alpha_threshold, 'HH24:MI:SS'),
position`

func scanSession(row interface{ Scan(...any) error }) (EmployeeSession, error) {
	var (
		s     EmployeeSession
		alpha sql.NullString
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Start, &s.End, &s.LateThreshold, &alpha, &s.Position); err != nil {
		return EmployeeSession{}, err
	}
	if alpha.Valid {
		a, err := ParseTimeOfDay(alpha.String)
		if err != nil {
			return EmployeeSession{}, err
		}
		s.AlphaThreshold = &a
	}
	return s, nil
}

// ListEmployeeSessions returns all sessions in configured order.
func (r *Repository) ListEmployeeSessions(ctx context.Context) ([]EmployeeSession, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionCols+` FROM employee_sessions ORDER BY position, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []EmployeeSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CreateEmployeeSession inserts a session. Callers validate overlaps first.
func (r *Repository) CreateEmployeeSession(ctx context.Context, s EmployeeSession) (EmployeeSession, error) {
	var alpha any
	if s.AlphaThreshold != nil {
		alpha = s.AlphaThreshold.String()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO employee_sessions (name, start_time, end_time, late_threshold, alpha_threshold, position)
		VALUES ($1, $2::time, $3::time, $4::time, $5::time, $6)
		RETURNING `+sessionCols,
		s.Name, s.Start.String(), s.End.String(), s.LateThreshold.String(), alpha, s.Position)
	return scanSession(row)
}

const scheduleCols = `id, class_session_id, coach_id, to_char(date, 'YYYY-MM-DD'),
to_char(start_time, 'HH24:MI:SS'), to_char(end_time, 'HH24:MI:SS')`

func (r *Repository) schedules(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Schedule
	for rows.Next() {
		var s Schedule
		if err := rows.Scan(&s.ID, &s.ClassSessionID, &s.CoachID, &s.Date, &s.Start, &s.End); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CoachSchedules returns the schedules a coach teaches on date.
func (r *Repository) CoachSchedules(ctx context.Context, coachID, date string) ([]Schedule, error) {
	return r.schedules(ctx, `
		SELECT `+scheduleCols+` FROM schedules
		WHERE coach_id = $1 AND date = $2::date
		ORDER BY start_time, id
	`, coachID, date)
}

// ClassSchedules returns the schedules of the given class sessions on date.
func (r *Repository) ClassSchedules(ctx context.Context, classSessionIDs []int64, date string) ([]Schedule, error) {
	if len(classSessionIDs) == 0 {
		return nil, nil
	}
	return r.schedules(ctx, `
		SELECT `+scheduleCols+` FROM schedules
		WHERE class_session_id = ANY($1) AND date = $2::date
		ORDER BY start_time, id
	`, classSessionIDs, date)
}

// ActiveEnrolments returns the member's on_progress enrolments, newest first.
func (r *Repository) ActiveEnrolments(ctx context.Context, memberID string) ([]Enrolment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, member_id, class_session_id, status, meeting_count, created_at
		FROM enrolment_courses
		WHERE member_id = $1 AND status = $2
		ORDER BY created_at DESC, id DESC
	`, memberID, EnrolmentOnProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Enrolment
	for rows.Next() {
		var e Enrolment
		if err := rows.Scan(&e.ID, &e.MemberID, &e.ClassSessionID, &e.Status, &e.MeetingCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func prepareRecord(rec Record) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ScannedAt.IsZero() {
		rec.ScannedAt = time.Now()
	}
	if rec.Date == "" {
		rec.Date = DateOf(rec.ScannedAt)
	}
	if rec.State == "" {
		rec.State = StatePresent
	}
	return rec
}

// InsertEmployeeRecord relies on the partial unique indexes of
// attendance_employees; a conflicting row makes RETURNING produce nothing.
func (r *Repository) InsertEmployeeRecord(ctx context.Context, rec Record) (Record, bool, error) {
	rec = prepareRecord(rec)
	rec.Flow = FlowEmployee
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_employees (id, user_id, employee_session_id, schedule_id, scanned_at, attendance_date, state)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7)
		ON CONFLICT DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.UserID, rec.EmployeeSessionID, rec.ScheduleID, rec.ScannedAt, rec.Date, rec.State).Scan(&rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

// InsertMemberRecord writes the record and increments meeting_count atomically.
func (r *Repository) InsertMemberRecord(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.EnrolmentID == nil {
		return Record{}, false, errors.New("member record requires an enrolment")
	}
	rec = prepareRecord(rec)
	rec.Flow = FlowMember

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO attendance_members (id, user_id, schedule_id, enrolment_id, scanned_at, attendance_date, state)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7)
		ON CONFLICT DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.UserID, rec.ScheduleID, rec.EnrolmentID, rec.ScannedAt, rec.Date, rec.State).Scan(&rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, false, nil
		}
		return Record{}, false, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE enrolment_courses
		SET meeting_count = meeting_count + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, *rec.EnrolmentID, EnrolmentOnProgress)
	if err != nil {
		return Record{}, false, fmt.Errorf("increment meeting count: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Record{}, false, err
	} else if n != 1 {
		return Record{}, false, fmt.Errorf("enrolment %d is no longer on progress", *rec.EnrolmentID)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, false, fmt.Errorf("commit: %w", err)
	}
	return rec, true, nil
}

func recordTable(flow Flow) (string, error) {
	switch flow {
	case FlowEmployee:
		return "attendance_employees", nil
	case FlowMember:
		return "attendance_members", nil
	}
	return "", fmt.Errorf("unknown flow %q", flow)
}

// CountRecords counts the flow's records on date.
func (r *Repository) CountRecords(ctx context.Context, flow Flow, date string) (int, error) {
	table, err := recordTable(flow)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE attendance_date = $1::date`, date).Scan(&n)
	return n, err
}

// ListRecords returns records with basic filters, newest first.
func (r *Repository) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	if f.Flow == "" {
		f.Flow = FlowEmployee
	}
	table, err := recordTable(f.Flow)
	if err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	sessionCol, enrolmentCol := "a.employee_session_id", "NULL::bigint"
	if f.Flow == FlowMember {
		sessionCol, enrolmentCol = "NULL::bigint", "a.enrolment_id"
	}
	query := `SELECT a.id, a.user_id, u.name, ` + sessionCol + `, a.schedule_id, ` + enrolmentCol + `,
		a.scanned_at, to_char(a.attendance_date, 'YYYY-MM-DD'), a.state, a.created_at
		FROM ` + table + ` a JOIN users u ON u.id = a.user_id`

	var (
		args    []any
		clauses []string
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		clauses = append(clauses, "a.user_id = $"+strconv.Itoa(len(args)))
	}
	if f.Date != "" {
		args = append(args, f.Date)
		clauses = append(clauses, "a.attendance_date = $"+strconv.Itoa(len(args))+"::date")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY a.scanned_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec := Record{Flow: f.Flow}
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.UserName, &rec.EmployeeSessionID, &rec.ScheduleID,
			&rec.EnrolmentID, &rec.ScannedAt, &rec.Date, &rec.State, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ Store      = (*Repository)(nil)
	_ RoleLookup = (*Repository)(nil)
)
