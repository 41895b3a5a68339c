package store

import (
	"context"
	"fmt"
)

// The partial unique indexes on attendance_employees and the unique key on
// attendance_members are the duplicate guard: inserts use ON CONFLICT DO NOTHING.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	email       TEXT UNIQUE NOT NULL,
	role        TEXT NOT NULL CHECK (role IN ('member', 'coach', 'admin', 'operator')),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS scan_codes (
	code        TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
	qr_url      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS employee_sessions (
	id               BIGSERIAL PRIMARY KEY,
	name             TEXT NOT NULL,
	start_time       TIME NOT NULL,
	end_time         TIME NOT NULL,
	late_threshold   TIME NOT NULL,
	alpha_threshold  TIME,
	position         INT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CHECK (start_time < end_time)
);

CREATE TABLE IF NOT EXISTS courses (
	id              BIGSERIAL PRIMARY KEY,
	name            TEXT NOT NULL,
	total_meetings  INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS class_sessions (
	id          BIGSERIAL PRIMARY KEY,
	course_id   BIGINT NOT NULL REFERENCES courses(id),
	name        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schedules (
	id                BIGSERIAL PRIMARY KEY,
	class_session_id  BIGINT NOT NULL REFERENCES class_sessions(id),
	coach_id          TEXT NOT NULL REFERENCES users(id),
	date              DATE NOT NULL,
	start_time        TIME NOT NULL,
	end_time          TIME NOT NULL,
	CHECK (start_time < end_time)
);

CREATE INDEX IF NOT EXISTS idx_schedules_coach_date ON schedules(coach_id, date);
CREATE INDEX IF NOT EXISTS idx_schedules_class_date ON schedules(class_session_id, date);

CREATE TABLE IF NOT EXISTS enrolment_courses (
	id                BIGSERIAL PRIMARY KEY,
	member_id         TEXT NOT NULL REFERENCES users(id),
	class_session_id  BIGINT NOT NULL REFERENCES class_sessions(id),
	status            TEXT NOT NULL DEFAULT 'on_progress',
	meeting_count     INT NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_enrolment_member_status ON enrolment_courses(member_id, status);

CREATE TABLE IF NOT EXISTS attendance_employees (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL REFERENCES users(id),
	employee_session_id  BIGINT NOT NULL REFERENCES employee_sessions(id),
	schedule_id          BIGINT REFERENCES schedules(id),
	scanned_at           TIMESTAMPTZ NOT NULL,
	attendance_date      DATE NOT NULL,
	state                TEXT NOT NULL CHECK (state IN ('present', 'late', 'alpha')),
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_attendance_employee_day
	ON attendance_employees(user_id, employee_session_id, attendance_date)
	WHERE schedule_id IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_attendance_coach_schedule
	ON attendance_employees(user_id, schedule_id)
	WHERE schedule_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_attendance_employees_date ON attendance_employees(attendance_date);

CREATE TABLE IF NOT EXISTS attendance_members (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL REFERENCES users(id),
	schedule_id      BIGINT NOT NULL REFERENCES schedules(id),
	enrolment_id     BIGINT NOT NULL REFERENCES enrolment_courses(id),
	scanned_at       TIMESTAMPTZ NOT NULL,
	attendance_date  DATE NOT NULL,
	state            TEXT NOT NULL DEFAULT 'present',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, schedule_id)
);

CREATE INDEX IF NOT EXISTS idx_attendance_members_date ON attendance_members(attendance_date);

CREATE TABLE IF NOT EXISTS devices (
	device_id   TEXT PRIMARY KEY,
	role        TEXT NOT NULL DEFAULT 'kiosk',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_seen   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token       TEXT PRIMARY KEY,
	device_id   TEXT NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
	expires_at  TIMESTAMPTZ NOT NULL,
	revoked     BOOLEAN NOT NULL DEFAULT FALSE
);
`

// Migrate creates the schema when it does not exist yet.
func Migrate(ctx context.Context, db *DB) error {
	if _, err := db.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
