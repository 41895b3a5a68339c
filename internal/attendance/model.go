package attendance

import "time"

// Role is the single coarse role a user holds.
type Role string

const (
	RoleMember   Role = "member"
	RoleCoach    Role = "coach"
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// Flow selects which check-in pipeline a scan goes through.
type Flow string

const (
	FlowEmployee Flow = "employee"
	FlowMember   Flow = "member"
)

// State classifies a successful check-in.
type State string

const (
	StatePresent State = "present"
	StateLate    State = "late"
	StateAlpha   State = "alpha"
)

// EnrolmentOnProgress marks an enrolment that still accepts meetings.
const EnrolmentOnProgress = "on_progress"

// User is a member, coach, admin or operator.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`
}

// ScanCode binds an opaque code to exactly one user.
type ScanCode struct {
	Code      string    `json:"code"`
	UserID    string    `json:"user_id"`
	QRURL     string    `json:"qr_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EmployeeSession is a named daily window for staff check-in.
type EmployeeSession struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Start          TimeOfDay  `json:"start_time"`
	End            TimeOfDay  `json:"end_time"`
	LateThreshold  TimeOfDay  `json:"late_threshold"`
	AlphaThreshold *TimeOfDay `json:"alpha_threshold,omitempty"`
	Position       int        `json:"position"`
}

// Schedule is one dated occurrence of a class session.
type Schedule struct {
	ID             int64     `json:"id"`
	ClassSessionID int64     `json:"class_session_id"`
	CoachID        string    `json:"coach_id"`
	Date           string    `json:"date"`
	Start          TimeOfDay `json:"start_time"`
	End            TimeOfDay `json:"end_time"`
}

// Enrolment tracks a member's progress through a course's class session.
type Enrolment struct {
	ID             int64     `json:"id"`
	MemberID       string    `json:"member_id"`
	ClassSessionID int64     `json:"class_session_id"`
	Status         string    `json:"status"`
	MeetingCount   int       `json:"meeting_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Record is one persisted check-in.
type Record struct {
	ID                string    `json:"id"`
	Flow              Flow      `json:"flow"`
	UserID            string    `json:"user_id"`
	UserName          string    `json:"user_name,omitempty"`
	EmployeeSessionID *int64    `json:"employee_session_id,omitempty"`
	ScheduleID        *int64    `json:"schedule_id,omitempty"`
	EnrolmentID       *int64    `json:"enrolment_id,omitempty"`
	ScannedAt         time.Time `json:"scanned_at"`
	Date              string    `json:"date"`
	State             State     `json:"state"`
	CreatedAt         time.Time `json:"created_at"`
}

// Outcome is the result of one verification attempt, successful or not.
type Outcome struct {
	Success         bool      `json:"success"`
	Kind            Kind      `json:"kind,omitempty"`
	Message         string    `json:"message"`
	Flow            Flow      `json:"flow"`
	User            *User     `json:"user,omitempty"`
	Record          *Record   `json:"record,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	AttendanceToday int       `json:"attendanceToday"`
	State           State     `json:"state,omitempty"`
}
