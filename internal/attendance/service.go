package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"swimschool/internal/clock"
	"swimschool/internal/queue"
)

// EventRecorded is the queue message type published after a successful scan.
const EventRecorded = "attendance.recorded"

// publishTimeout bounds how long a check-in waits on the event queue.
const publishTimeout = 250 * time.Millisecond

// RecordedEvent is the JSON body of an EventRecorded message.
type RecordedEvent struct {
	RecordID  string    `json:"record_id"`
	Flow      Flow      `json:"flow"`
	UserID    string    `json:"user_id"`
	State     State     `json:"state"`
	Date      string    `json:"date"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Publisher is satisfied by every queue backend.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Service runs the QR verification pipeline:
// resolve, gate, match window, classify, guard duplicates, write.
type Service struct {
	store   Store
	roles   RoleLookup
	clock   clock.Clock
	loc     *time.Location
	events  Publisher
	metrics *Metrics
	log     *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a service backed by a store and a role lookup.
func NewService(store Store, roles RoleLookup, opts ...Option) *Service {
	s := &Service{
		store: store,
		roles: roles,
		clock: clock.Real(),
		loc:   time.Local,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyEmployee checks in a coach, admin or operator.
func (s *Service) VerifyEmployee(ctx context.Context, code string) Outcome {
	return s.verify(ctx, FlowEmployee, code)
}

// VerifyMember checks in a member for the class running now.
func (s *Service) VerifyMember(ctx context.Context, code string) Outcome {
	return s.verify(ctx, FlowMember, code)
}

func (s *Service) verify(ctx context.Context, flow Flow, code string) Outcome {
	started := time.Now()
	now := s.clock.Now().In(s.loc)
	out := Outcome{Flow: flow, Timestamp: now}

	user, rec, err := s.run(ctx, flow, code, now)
	out.User = user
	if err != nil {
		out.Kind = KindOf(err)
		out.Message = err.Error()
		if out.Kind == KindSystemError {
			s.log.Error("attendance verify failed", zap.String("flow", string(flow)), zap.Error(err))
		} else {
			s.log.Info("attendance scan rejected", zap.String("flow", string(flow)), zap.String("kind", string(out.Kind)))
		}
	} else {
		out.Success = true
		out.Record = &rec
		out.State = rec.State
		out.Message = successMessage(user, rec)
		s.publish(ctx, rec)
	}

	if out.Kind != KindSystemError {
		out.AttendanceToday = s.countToday(ctx, flow, now)
	}
	s.metrics.observe(out, time.Since(started))
	return out
}

func (s *Service) run(ctx context.Context, flow Flow, code string, now time.Time) (*User, Record, error) {
	user, err := s.Resolve(ctx, code)
	if err != nil {
		return nil, Record{}, err
	}
	if err := Allow(flow, user.Role); err != nil {
		return user, Record{}, err
	}
	var rec Record
	switch flow {
	case FlowEmployee:
		rec, err = s.checkInEmployee(ctx, user, now)
	case FlowMember:
		rec, err = s.checkInMember(ctx, user, now)
	default:
		err = reject(KindWrongFlow, "unknown attendance flow %q", flow)
	}
	return user, rec, err
}

// Resolve maps a scanned code to its user and role.
func (s *Service) Resolve(ctx context.Context, code string) (*User, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, reject(KindNotFound, "code not found/invalid")
	}
	sc, err := s.store.FindScanCode(ctx, code)
	if err != nil {
		return nil, systemError("find scan code", err)
	}
	if sc == nil {
		return nil, reject(KindNotFound, "code not found/invalid")
	}
	user, err := s.store.FindUser(ctx, sc.UserID)
	if err != nil {
		return nil, systemError("find user", err)
	}
	if user == nil {
		return nil, reject(KindNotFound, "user not found")
	}
	role, err := s.roles.RoleOf(ctx, user.ID)
	if err != nil {
		return nil, systemError("role lookup", err)
	}
	user.Role = role
	return user, nil
}

func (s *Service) checkInEmployee(ctx context.Context, user *User, now time.Time) (Record, error) {
	sessions, err := s.store.ListEmployeeSessions(ctx)
	if err != nil {
		return Record{}, systemError("list employee sessions", err)
	}
	t := TimeOfDayOf(now)
	session, ok := MatchEmployeeSession(sessions, t)
	if !ok {
		return Record{}, reject(KindOutsideWindow, "no employee session is open at %s", t)
	}

	date := DateOf(now)
	rec := Record{
		Flow:              FlowEmployee,
		UserID:            user.ID,
		UserName:          user.Name,
		EmployeeSessionID: &session.ID,
		ScannedAt:         now,
		Date:              date,
		State:             Classify(t, session),
	}

	if user.Role == RoleCoach {
		schedules, err := s.store.CoachSchedules(ctx, user.ID, date)
		if err != nil {
			return Record{}, systemError("coach schedules", err)
		}
		sch, ok := MatchCoachSchedule(schedules, t)
		if !ok {
			return Record{}, reject(KindNoActiveSchedule, "no teaching schedule left today for %s", user.Name)
		}
		rec.ScheduleID = &sch.ID
	}

	saved, inserted, err := s.store.InsertEmployeeRecord(ctx, rec)
	if err != nil {
		return Record{}, systemError("save attendance", err)
	}
	if !inserted {
		if rec.ScheduleID != nil {
			return Record{}, reject(KindAlreadyRecorded, "%s already checked in for this schedule", user.Name)
		}
		return Record{}, reject(KindAlreadyRecorded, "%s already checked in for %s today", user.Name, session.Name)
	}
	saved.UserName = user.Name
	return saved, nil
}

func (s *Service) checkInMember(ctx context.Context, user *User, now time.Time) (Record, error) {
	enrolments, err := s.store.ActiveEnrolments(ctx, user.ID)
	if err != nil {
		return Record{}, systemError("active enrolments", err)
	}
	if len(enrolments) == 0 {
		return Record{}, reject(KindNoActiveClass, "%s has no active class", user.Name)
	}

	ids := make([]int64, 0, len(enrolments))
	for _, e := range enrolments {
		ids = append(ids, e.ClassSessionID)
	}
	date := DateOf(now)
	schedules, err := s.store.ClassSchedules(ctx, ids, date)
	if err != nil {
		return Record{}, systemError("class schedules", err)
	}
	t := TimeOfDayOf(now)
	enrolment, sch, ok := MatchClassSchedule(enrolments, schedules, t)
	if !ok {
		return Record{}, reject(KindNoSessionNow, "no class session for %s at %s", user.Name, t)
	}

	rec := Record{
		Flow:        FlowMember,
		UserID:      user.ID,
		UserName:    user.Name,
		ScheduleID:  &sch.ID,
		EnrolmentID: &enrolment.ID,
		ScannedAt:   now,
		Date:        date,
		State:       StatePresent,
	}
	saved, inserted, err := s.store.InsertMemberRecord(ctx, rec)
	if err != nil {
		return Record{}, systemError("save attendance", err)
	}
	if !inserted {
		return Record{}, reject(KindAlreadyRecorded, "%s already checked in for this class", user.Name)
	}
	saved.UserName = user.Name
	return saved, nil
}

// CreateEmployeeSession validates a window against the configured ones and stores it.
func (s *Service) CreateEmployeeSession(ctx context.Context, in EmployeeSession) (EmployeeSession, error) {
	existing, err := s.store.ListEmployeeSessions(ctx)
	if err != nil {
		return EmployeeSession{}, fmt.Errorf("list employee sessions: %w", err)
	}
	in.ID = 0
	if err := in.ValidateAgainst(existing); err != nil {
		return EmployeeSession{}, err
	}
	return s.store.CreateEmployeeSession(ctx, in)
}

// EmployeeSessions lists the configured sessions in match order.
func (s *Service) EmployeeSessions(ctx context.Context) ([]EmployeeSession, error) {
	sessions, err := s.store.ListEmployeeSessions(ctx)
	if err != nil {
		return nil, err
	}
	SortSessions(sessions)
	return sessions, nil
}

// Records lists stored attendance.
func (s *Service) Records(ctx context.Context, f RecordFilter) ([]Record, error) {
	return s.store.ListRecords(ctx, f)
}

// Today returns the current calendar day in the service location.
func (s *Service) Today() string {
	return DateOf(s.clock.Now().In(s.loc))
}

func (s *Service) countToday(ctx context.Context, flow Flow, now time.Time) int {
	n, err := s.store.CountRecords(ctx, flow, DateOf(now))
	if err != nil {
		s.log.Warn("count attendance today failed", zap.String("flow", string(flow)), zap.Error(err))
		return 0
	}
	return n
}

func (s *Service) publish(ctx context.Context, rec Record) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(RecordedEvent{
		RecordID:  rec.ID,
		Flow:      rec.Flow,
		UserID:    rec.UserID,
		State:     rec.State,
		Date:      rec.Date,
		ScannedAt: rec.ScannedAt,
	})
	if err != nil {
		s.log.Warn("encode attendance event failed", zap.Error(err))
		return
	}
	// The record is already committed; a slow or full queue only costs the summary.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(pubCtx, queue.Message{Type: EventRecorded, Body: body}); err != nil {
		s.log.Warn("queue publish failed", zap.String("record_id", rec.ID), zap.Error(err))
	}
}

func successMessage(user *User, rec Record) string {
	if rec.Flow == FlowMember {
		return fmt.Sprintf("Welcome %s, attendance recorded", user.Name)
	}
	return fmt.Sprintf("Attendance recorded for %s: %s", user.Name, rec.State)
}
