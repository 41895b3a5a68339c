package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for development and tests. It enforces
// the same uniqueness scopes as the Postgres indexes.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]User
	codes      map[string]ScanCode
	sessions   []EmployeeSession
	schedules  []Schedule
	enrolments map[int64]*Enrolment
	records    []Record
	keys       map[string]bool
	nextID     int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]User),
		codes:      make(map[string]ScanCode),
		enrolments: make(map[int64]*Enrolment),
		keys:       make(map[string]bool),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// AddUser stores u and returns it.
func (m *MemoryStore) AddUser(u User) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	m.users[u.ID] = u
	return u
}

// AddScanCode binds code to userID.
func (m *MemoryStore) AddScanCode(code, userID string) ScanCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := ScanCode{Code: code, UserID: userID, CreatedAt: time.Now()}
	m.codes[code] = sc
	return sc
}

// AddSchedule stores s with a fresh id when it has none.
func (m *MemoryStore) AddSchedule(s Schedule) Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.id()
	}
	m.schedules = append(m.schedules, s)
	return s
}

// AddEnrolment stores e with a fresh id and creation time when it has none.
func (m *MemoryStore) AddEnrolment(e Enrolment) Enrolment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == 0 {
		e.ID = m.id()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := e
	m.enrolments[e.ID] = &cp
	return e
}

// Enrolment returns a copy of the enrolment with id.
func (m *MemoryStore) Enrolment(id int64) (Enrolment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrolments[id]
	if !ok {
		return Enrolment{}, false
	}
	return *e, true
}

// Records returns every stored record.
func (m *MemoryStore) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func (m *MemoryStore) FindScanCode(_ context.Context, code string) (*ScanCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.codes[code]
	if !ok {
		return nil, nil
	}
	return &sc, nil
}

func (m *MemoryStore) FindScanCodeByUser(_ context.Context, userID string) (*ScanCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sc := range m.codes {
		if sc.UserID == userID {
			sc := sc
			return &sc, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CreateScanCode(_ context.Context, sc ScanCode) (ScanCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.codes {
		if existing.UserID == sc.UserID || existing.Code == sc.Code {
			return ScanCode{}, ErrDuplicateCode
		}
	}
	sc.CreatedAt = time.Now()
	m.codes[sc.Code] = sc
	return sc, nil
}

func (m *MemoryStore) SetScanCodeQRURL(_ context.Context, code, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.codes[code]
	if !ok {
		return fmt.Errorf("scan code %s not found", code)
	}
	sc.QRURL = url
	m.codes[code] = sc
	return nil
}

func (m *MemoryStore) FindUser(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStore) RoleOf(_ context.Context, userID string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return "", fmt.Errorf("user %s not found", userID)
	}
	return u.Role, nil
}

func (m *MemoryStore) ListEmployeeSessions(context.Context) ([]EmployeeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]EmployeeSession(nil), m.sessions...)
	SortSessions(out)
	return out, nil
}

func (m *MemoryStore) CreateEmployeeSession(_ context.Context, s EmployeeSession) (EmployeeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.id()
	}
	m.sessions = append(m.sessions, s)
	return s, nil
}

func (m *MemoryStore) CoachSchedules(_ context.Context, coachID, date string) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Schedule
	for _, s := range m.schedules {
		if s.CoachID == coachID && s.Date == date {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) ClassSchedules(_ context.Context, classSessionIDs []int64, date string) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[int64]bool, len(classSessionIDs))
	for _, id := range classSessionIDs {
		want[id] = true
	}
	var out []Schedule
	for _, s := range m.schedules {
		if want[s.ClassSessionID] && s.Date == date {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) ActiveEnrolments(_ context.Context, memberID string) ([]Enrolment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Enrolment
	for _, e := range m.enrolments {
		if e.MemberID == memberID && e.Status == EnrolmentOnProgress {
			out = append(out, *e)
		}
	}
	// same order as the SQL: created_at DESC, id DESC
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func employeeKey(rec Record) string {
	if rec.ScheduleID != nil {
		return fmt.Sprintf("coach|%s|%d", rec.UserID, *rec.ScheduleID)
	}
	var session int64
	if rec.EmployeeSessionID != nil {
		session = *rec.EmployeeSessionID
	}
	return fmt.Sprintf("employee|%s|%d|%s", rec.UserID, session, rec.Date)
}

func (m *MemoryStore) InsertEmployeeRecord(_ context.Context, rec Record) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec = prepareRecord(rec)
	rec.Flow = FlowEmployee
	key := employeeKey(rec)
	if m.keys[key] {
		return rec, false, nil
	}
	m.keys[key] = true
	rec.CreatedAt = time.Now()
	m.records = append(m.records, rec)
	return rec, true, nil
}

func (m *MemoryStore) InsertMemberRecord(_ context.Context, rec Record) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.EnrolmentID == nil || rec.ScheduleID == nil {
		return Record{}, false, fmt.Errorf("member record requires enrolment and schedule")
	}
	rec = prepareRecord(rec)
	rec.Flow = FlowMember
	key := fmt.Sprintf("member|%s|%d", rec.UserID, *rec.ScheduleID)
	if m.keys[key] {
		return rec, false, nil
	}
	e, ok := m.enrolments[*rec.EnrolmentID]
	if !ok || e.Status != EnrolmentOnProgress {
		return Record{}, false, fmt.Errorf("enrolment %d is no longer on progress", *rec.EnrolmentID)
	}
	e.MeetingCount++
	m.keys[key] = true
	rec.CreatedAt = time.Now()
	m.records = append(m.records, rec)
	return rec, true, nil
}

func (m *MemoryStore) CountRecords(_ context.Context, flow Flow, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Flow == flow && r.Date == date {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListRecords(_ context.Context, f RecordFilter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.Flow == "" {
		f.Flow = FlowEmployee
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	var out []Record
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if r.Flow != f.Flow || (f.UserID != "" && r.UserID != f.UserID) || (f.Date != "" && r.Date != f.Date) {
			continue
		}
		r.UserName = m.users[r.UserID].Name
		out = append(out, r)
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[max(f.Offset, 0):]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ RoleLookup = (*MemoryStore)(nil)
)
