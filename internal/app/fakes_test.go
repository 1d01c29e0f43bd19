package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"course_reminder_service/internal/domain/course"
	"course_reminder_service/internal/domain/email"
	"course_reminder_service/internal/domain/reminder"

	"github.com/sirupsen/logrus"
)

var testNow = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

type courseKey struct {
	id string
	t  course.Type
}

type fakeCourses struct {
	mu          sync.Mutex
	summaries   map[courseKey]*course.Summary
	enrollees   map[courseKey][]course.Enrollee
	statuses    map[string]course.EnrollmentStatus // userID|courseID
	summaryErr  error
	statusErr   map[string]error
	upcoming    map[course.Type][]*course.Summary
	upcomingErr map[course.Type]error
	lookups     int
}

func newFakeCourses() *fakeCourses {
	return &fakeCourses{
		summaries:   make(map[courseKey]*course.Summary),
		enrollees:   make(map[courseKey][]course.Enrollee),
		statuses:    make(map[string]course.EnrollmentStatus),
		statusErr:   make(map[string]error),
		upcoming:    make(map[course.Type][]*course.Summary),
		upcomingErr: make(map[course.Type]error),
	}
}

func (f *fakeCourses) addCourse(id string, t course.Type, start time.Time, users ...course.Enrollee) *course.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &course.Summary{
		ID:        id,
		Type:      t,
		Title:     "Course " + id,
		Code:      sql.NullString{String: "C-" + id, Valid: true},
		StartDate: sql.NullTime{Time: start, Valid: !start.IsZero()},
		Status:    course.StatusOpen,
	}
	f.summaries[courseKey{id, t}] = s
	f.enrollees[courseKey{id, t}] = users
	for _, u := range users {
		f.statuses[u.UserID+"|"+id] = u.Status
	}
	return s
}

func (f *fakeCourses) setStatus(userID, courseID string, status course.EnrollmentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[userID+"|"+courseID] = status
}

func (f *fakeCourses) GetSummary(_ context.Context, courseID string, courseType course.Type) (*course.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	s, ok := f.summaries[courseKey{courseID, courseType}]
	if !ok {
		return nil, course.ErrCourseNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeCourses) ListEnrolledUsers(_ context.Context, courseID string, courseType course.Type) ([]course.Enrollee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]course.Enrollee(nil), f.enrollees[courseKey{courseID, courseType}]...), nil
}

func (f *fakeCourses) GetEnrollmentStatus(_ context.Context, userID, courseID string, _ course.Type) (course.EnrollmentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := userID + "|" + courseID
	if err := f.statusErr[key]; err != nil {
		return "", err
	}
	st, ok := f.statuses[key]
	if !ok {
		return "", course.ErrEnrollmentNotFound
	}
	return st, nil
}

func (f *fakeCourses) ListUpcoming(_ context.Context, courseType course.Type, from, to time.Time, _ []course.Status) ([]*course.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.upcomingErr[courseType]; err != nil {
		return nil, err
	}
	var out []*course.Summary
	for _, s := range f.upcoming[courseType] {
		if s.StartDate.Time.After(from) && !s.StartDate.Time.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

type sentEmail struct {
	kind    string
	to      string
	subject string
	message string
	at      time.Time
}

type fakeSender struct {
	mu          sync.Mutex
	sent        []sentEmail
	failFor     map[string]error
	unavailable map[string]bool
	// onSend runs before a send is recorded, outside the lock.
	onSend func(to string)
}

func newFakeSender() *fakeSender {
	return &fakeSender{failFor: make(map[string]error), unavailable: make(map[string]bool)}
}

func (f *fakeSender) record(kind string, to course.Enrollee, subject, message string) error {
	if f.onSend != nil {
		f.onSend(to.Email)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable[kind] {
		return email.ErrTemplateUnavailable
	}
	if err := f.failFor[to.Email]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentEmail{kind: kind, to: to.Email, subject: subject, message: message, at: time.Now()})
	return nil
}

func (f *fakeSender) SendCourseStarting(_ context.Context, to course.Enrollee, c *course.Summary) error {
	return f.record("course-starting", to, "", "")
}

func (f *fakeSender) SendPreparation(_ context.Context, to course.Enrollee, c *course.Summary) error {
	return f.record("preparation", to, "", "")
}

func (f *fakeSender) SendTechCheck(_ context.Context, to course.Enrollee, c *course.Summary) error {
	return f.record("tech-check", to, "", "")
}

func (f *fakeSender) SendCustomMessage(_ context.Context, to course.Enrollee, c *course.Summary, message string) error {
	return f.record("custom", to, "", message)
}

func (f *fakeSender) SendPlain(_ context.Context, to course.Enrollee, subject, body string) error {
	return f.record("plain", to, subject, body)
}

func (f *fakeSender) emails() []sentEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEmail(nil), f.sent...)
}

type fakeHistoryWriter struct {
	mu      sync.Mutex
	entries []reminder.HistoryEntry
	err     error
}

func (f *fakeHistoryWriter) AppendReminderHistory(_ context.Context, _ string, _ course.Type, entry reminder.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

// fakeTimer records AfterFunc calls so tests decide when jobs fire.
type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) StopFunc {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{delay: d, f: f}
	ft.timers = append(ft.timers, t)
	return func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		pending := !t.stopped && !t.fired
		t.stopped = true
		return pending
	}
}

// fireAll runs every armed timer, including stopped ones, the way a
// callback that already left the runtime queue would.
func (ft *fakeTimers) fireAll(includeStopped bool) {
	ft.mu.Lock()
	var toFire []*fakeTimer
	for _, t := range ft.timers {
		if t.fired || (t.stopped && !includeStopped) {
			continue
		}
		t.fired = true
		toFire = append(toFire, t)
	}
	ft.mu.Unlock()
	for _, t := range toFire {
		t.f()
	}
}

func (ft *fakeTimers) last() *fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.timers[len(ft.timers)-1]
}

type harness struct {
	courses *fakeCourses
	sender  *fakeSender
	history *fakeHistoryWriter
	timers  *fakeTimers
	sched   *ReminderScheduler
	now     time.Time
}

func newHarness(t *testing.T, mutate ...func(*SchedulerOptions)) *harness {
	t.Helper()
	h := &harness{
		courses: newFakeCourses(),
		sender:  newFakeSender(),
		history: &fakeHistoryWriter{},
		timers:  &fakeTimers{},
		now:     testNow,
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	opts := SchedulerOptions{
		SendInterval: -1,
		SendTimeout:  time.Second,
		Now:          func() time.Time { return h.now },
		AfterFunc:    h.timers.AfterFunc,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.sched = NewReminderScheduler(h.courses, h.sender, h.history, logrus.NewEntry(logger), opts)
	t.Cleanup(func() { h.sched.Shutdown() })
	return h
}

func paid(id string) course.Enrollee {
	return course.Enrollee{UserID: id, Name: "User " + id, Email: id + "@example.com", Status: course.EnrollmentPaid}
}

func registered(id string) course.Enrollee {
	return course.Enrollee{UserID: id, Name: "User " + id, Email: id + "@example.com", Status: course.EnrollmentRegistered}
}

var errBoom = errors.New("boom")
