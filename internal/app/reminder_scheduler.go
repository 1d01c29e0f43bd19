// internal/app/reminder_scheduler.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"course_reminder_service/internal/domain/course"
	"course_reminder_service/internal/domain/email"
	"course_reminder_service/internal/domain/reminder"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// ReminderLeadTime is how long before course start the standard reminder fires.
	ReminderLeadTime = 24 * time.Hour

	DefaultSendInterval    = time.Second
	DefaultSendTimeout     = 10 * time.Second
	DefaultHistoryCapacity = 200

	// staleJobAge is how far past its fire time a job may sit in the
	// registry before cleanup purges it.
	staleJobAge = 24 * time.Hour
)

// Scheduling validation errors. Any of them means "nothing scheduled".
var (
	ErrInvalidArguments     = errors.New("course id and a dated course type are required")
	ErrNoStartDate          = errors.New("course has no valid start date")
	ErrCourseStarted        = errors.New("course has already started")
	ErrReminderWindowPassed = errors.New("course starts within the reminder lead time")
	ErrNoRecipients         = errors.New("no users with an eligible enrollment")
	ErrSendTimeInPast       = errors.New("send time must be in the future")
	ErrBlankCustomMessage   = errors.New("custom reminders require a non-blank message")
	ErrUnsupportedEmailType = errors.New("email type not supported for this course type")
	ErrSchedulerShutdown    = errors.New("reminder scheduler is shut down")
)

// StopFunc cancels a pending timer and reports whether it was still pending.
type StopFunc func() bool

// AfterFunc arranges for f to run once after d.
type AfterFunc func(d time.Duration, f func()) StopFunc

func systemAfterFunc(d time.Duration, f func()) StopFunc {
	return time.AfterFunc(d, f).Stop
}

// SchedulerOptions tunes the reminder scheduler. Zero values select defaults.
type SchedulerOptions struct {
	// SendInterval paces consecutive sends. Negative disables pacing.
	SendInterval time.Duration
	// SendTimeout bounds each e-mail dispatch and collaborator lookup.
	SendTimeout     time.Duration
	HistoryCapacity int
	Now             func() time.Time
	AfterFunc       AfterFunc
	// OnExecuted is called with every recorded history entry.
	OnExecuted func(reminder.HistoryEntry)
}

type scheduledJob struct {
	reminder   reminder.ScheduledReminder
	recipients []course.Enrollee
	standard   bool
	running    bool
	stop       StopFunc
}

// ReminderScheduler owns the in-memory registry of pending course reminders.
// One instance is created at process start and shared by every caller.
type ReminderScheduler struct {
	courses       course.Repository
	sender        email.Sender
	historyWriter reminder.HistoryWriter
	logger        *logrus.Entry
	opts          SchedulerOptions
	limiter       *rate.Limiter

	baseCtx    context.Context
	cancelBase context.CancelFunc
	inFlight   sync.WaitGroup

	mu           sync.Mutex
	jobs         map[string]*scheduledJob
	history      []reminder.HistoryEntry
	stats        reminder.Stats
	shuttingDown bool
}

// NewReminderScheduler builds a scheduler. historyWriter may be nil.
func NewReminderScheduler(
	courses course.Repository,
	sender email.Sender,
	historyWriter reminder.HistoryWriter,
	logger *logrus.Entry,
	opts SchedulerOptions,
) *ReminderScheduler {
	if opts.SendInterval == 0 {
		opts.SendInterval = DefaultSendInterval
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = DefaultHistoryCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = systemAfterFunc
	}

	limit := rate.Inf
	if opts.SendInterval > 0 {
		limit = rate.Every(opts.SendInterval)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &ReminderScheduler{
		courses:       courses,
		sender:        sender,
		historyWriter: historyWriter,
		logger:        logger.WithField("component", "reminder_scheduler"),
		opts:          opts,
		limiter:       rate.NewLimiter(limit, 1),
		baseCtx:       baseCtx,
		cancelBase:    cancel,
		jobs:          make(map[string]*scheduledJob),
	}
}

// ScheduleReminderForCourse arranges the standard course-starting reminder
// 24h before the course starts, replacing any pending standard reminder for
// the same course. It returns the new job id, or an error explaining why
// nothing was scheduled.
func (s *ReminderScheduler) ScheduleReminderForCourse(ctx context.Context, courseID string, courseType course.Type) (string, error) {
	log := s.logger.WithFields(logrus.Fields{"course_id": courseID, "course_type": courseType})

	if s.isShutdown() {
		log.Warn("Reminder not scheduled: scheduler is shut down")
		return "", ErrSchedulerShutdown
	}
	if strings.TrimSpace(courseID) == "" || !courseType.HasStartDate() {
		log.Warn("Reminder not scheduled: invalid arguments")
		return "", ErrInvalidArguments
	}

	summary, err := s.lookupCourse(ctx, courseID, courseType)
	if err != nil {
		log.WithError(err).Warn("Reminder not scheduled: course lookup failed")
		return "", err
	}
	start, ok := summary.Start()
	if !ok {
		log.Warn("Reminder not scheduled: course has no valid start date")
		return "", ErrNoStartDate
	}

	now := s.opts.Now()
	if !start.After(now) {
		log.WithField("start_date", start).Info("Reminder not scheduled: course already started")
		return "", ErrCourseStarted
	}
	fireAt := start.Add(-ReminderLeadTime)
	if !fireAt.After(now) {
		log.WithField("start_date", start).Info("Reminder not scheduled: reminder window already passed")
		return "", ErrReminderWindowPassed
	}

	recipients, err := s.listRecipients(ctx, courseID, courseType)
	if err != nil {
		log.WithError(err).Error("Reminder not scheduled: failed to list enrolled users")
		return "", err
	}
	if len(recipients) == 0 {
		log.Info("Reminder not scheduled: no eligible enrolled users")
		return "", ErrNoRecipients
	}

	r := reminder.ScheduledReminder{
		CourseID:       courseID,
		CourseType:     courseType,
		CourseName:     summary.DisplayName(),
		CourseCode:     summary.CodeOrEmpty(),
		FireAt:         fireAt,
		RecipientCount: len(recipients),
		EmailType:      reminder.EmailCourseStarting,
		Status:         reminder.JobStatusScheduled,
		CreatedAt:      now,
	}
	jobID, err := s.register(r, recipients, true)
	if err != nil {
		log.WithError(err).Warn("Reminder not scheduled")
		return "", err
	}

	log.WithFields(logrus.Fields{
		"job_id":     jobID,
		"fire_at":    fireAt,
		"recipients": len(recipients),
	}).Info("Course reminder scheduled")
	return jobID, nil
}

// ScheduleCustomReminder arranges an ad hoc reminder at sendAt. It does not
// replace other reminders for the course.
func (s *ReminderScheduler) ScheduleCustomReminder(
	ctx context.Context,
	courseID string,
	courseType course.Type,
	sendAt time.Time,
	emailType reminder.EmailType,
	customMessage string,
) (string, error) {
	log := s.logger.WithFields(logrus.Fields{
		"course_id":   courseID,
		"course_type": courseType,
		"email_type":  emailType,
		"send_at":     sendAt,
	})

	if s.isShutdown() {
		log.Warn("Custom reminder not scheduled: scheduler is shut down")
		return "", ErrSchedulerShutdown
	}
	if strings.TrimSpace(courseID) == "" || !courseType.HasStartDate() {
		log.Warn("Custom reminder not scheduled: invalid arguments")
		return "", ErrInvalidArguments
	}
	emailType, err := reminder.ParseEmailType(string(emailType))
	if err != nil {
		log.Warn("Custom reminder not scheduled: unknown email type")
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if emailType == reminder.EmailTechCheck && courseType != course.TypeOnlineLive {
		log.Warn("Custom reminder not scheduled: tech check is for online-live courses only")
		return "", ErrUnsupportedEmailType
	}
	message := strings.TrimSpace(customMessage)
	if emailType == reminder.EmailCustom && message == "" {
		log.Warn("Custom reminder not scheduled: blank custom message")
		return "", ErrBlankCustomMessage
	}
	if emailType != reminder.EmailCustom {
		message = ""
	}

	summary, err := s.lookupCourse(ctx, courseID, courseType)
	if err != nil {
		log.WithError(err).Warn("Custom reminder not scheduled: course lookup failed")
		return "", err
	}
	if _, ok := summary.Start(); !ok {
		log.Warn("Custom reminder not scheduled: course has no valid start date")
		return "", ErrNoStartDate
	}

	now := s.opts.Now()
	if !sendAt.After(now) {
		log.Info("Custom reminder not scheduled: send time is not in the future")
		return "", ErrSendTimeInPast
	}

	recipients, err := s.listRecipients(ctx, courseID, courseType)
	if err != nil {
		log.WithError(err).Error("Custom reminder not scheduled: failed to list enrolled users")
		return "", err
	}

	r := reminder.ScheduledReminder{
		CourseID:       courseID,
		CourseType:     courseType,
		CourseName:     summary.DisplayName(),
		CourseCode:     summary.CodeOrEmpty(),
		FireAt:         sendAt,
		RecipientCount: len(recipients),
		EmailType:      emailType,
		CustomMessage:  message,
		Status:         reminder.JobStatusScheduled,
		CreatedAt:      now,
	}
	jobID, err := s.register(r, recipients, false)
	if err != nil {
		log.WithError(err).Warn("Custom reminder not scheduled")
		return "", err
	}

	log.WithFields(logrus.Fields{"job_id": jobID, "recipients": len(recipients)}).Info("Custom reminder scheduled")
	return jobID, nil
}

func (s *ReminderScheduler) lookupCourse(ctx context.Context, courseID string, courseType course.Type) (*course.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	summary, err := s.courses.GetSummary(ctx, courseID, courseType)
	if err != nil {
		return nil, fmt.Errorf("failed to get course %s: %w", courseID, err)
	}
	if summary == nil {
		return nil, course.ErrCourseNotFound
	}
	return summary, nil
}

func (s *ReminderScheduler) listRecipients(ctx context.Context, courseID string, courseType course.Type) ([]course.Enrollee, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	enrolled, err := s.courses.ListEnrolledUsers(ctx, courseID, courseType)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrolled users for course %s: %w", courseID, err)
	}
	recipients := make([]course.Enrollee, 0, len(enrolled))
	for _, e := range enrolled {
		if e.Status.IsReminderEligible() {
			recipients = append(recipients, e)
		}
	}
	return recipients, nil
}

// register stores the job and arms its timer. Standard jobs replace any
// pending standard job of the same course.
func (s *ReminderScheduler) register(r reminder.ScheduledReminder, recipients []course.Enrollee, standard bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shuttingDown {
		return "", ErrSchedulerShutdown
	}
	if standard {
		for id, job := range s.jobs {
			if job.standard && !job.running && job.reminder.CourseID == r.CourseID && job.reminder.CourseType == r.CourseType {
				s.removeJobLocked(id, job)
				s.stats.TotalCancelled++
				s.logger.WithField("job_id", id).Info("Replaced pending course reminder")
			}
		}
	}

	r.JobID = s.newJobIDLocked(r.CourseType, r.CourseID, r.CreatedAt)
	job := &scheduledJob{reminder: r, recipients: recipients, standard: standard}
	s.jobs[r.JobID] = job

	jobID := r.JobID
	delay := r.FireAt.Sub(s.opts.Now())
	if delay < 0 {
		delay = 0
	}
	job.stop = s.opts.AfterFunc(delay, func() { s.fire(jobID, job) })
	s.stats.TotalScheduled++
	return jobID, nil
}

func (s *ReminderScheduler) newJobIDLocked(courseType course.Type, courseID string, createdAt time.Time) string {
	base := reminder.JobID(courseType, courseID, createdAt)
	id := base
	for n := 1; ; n++ {
		if _, taken := s.jobs[id]; !taken {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

func (s *ReminderScheduler) removeJobLocked(id string, job *scheduledJob) {
	if job.stop != nil {
		job.stop()
	}
	delete(s.jobs, id)
}

// CancelReminder cancels one pending job. It returns 1 if the job was
// pending and 0 otherwise. A job that already started sending is left alone
// and removes itself when its batch ends.
func (s *ReminderScheduler) CancelReminder(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return 0
	}
	if job.running {
		s.logger.WithField("job_id", jobID).Info("Reminder already sending, not cancelled")
		return 0
	}
	s.removeJobLocked(jobID, job)
	s.stats.TotalCancelled++
	s.logger.WithField("job_id", jobID).Info("Reminder cancelled")
	return 1
}

// CancelReminderForCourse cancels every pending job (standard and custom)
// of a course and returns how many were cancelled. Running jobs are skipped.
func (s *ReminderScheduler) CancelReminderForCourse(courseID string, courseType course.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for id, job := range s.jobs {
		if !job.running && job.reminder.CourseID == courseID && job.reminder.CourseType == courseType {
			s.removeJobLocked(id, job)
			cancelled++
		}
	}
	s.stats.TotalCancelled += cancelled
	if cancelled > 0 {
		s.logger.WithFields(logrus.Fields{
			"course_id":   courseID,
			"course_type": courseType,
			"cancelled":   cancelled,
		}).Info("Course reminders cancelled")
	}
	return cancelled
}

// ScheduleAllUpcomingReminders schedules the standard reminder for every
// open or full course starting between one day and one month from now.
// It repopulates the registry after a restart and returns the number of
// jobs scheduled.
func (s *ReminderScheduler) ScheduleAllUpcomingReminders(ctx context.Context) int {
	if s.isShutdown() {
		s.logger.Warn("Upcoming reminder sweep skipped: scheduler is shut down")
		return 0
	}

	now := s.opts.Now()
	from := now.AddDate(0, 0, 1)
	to := now.AddDate(0, 1, 0)
	s.logger.WithFields(logrus.Fields{"from": from, "to": to}).Info("Scheduling reminders for upcoming courses")

	scheduled := 0
	for _, courseType := range course.ReminderTypes() {
		upcoming, err := s.courses.ListUpcoming(ctx, courseType, from, to, course.UpcomingStatuses())
		if err != nil {
			s.logger.WithError(err).WithField("course_type", courseType).Error("Failed to list upcoming courses")
			continue
		}
		for _, c := range upcoming {
			if c == nil {
				continue
			}
			if _, err := s.ScheduleReminderForCourse(ctx, c.ID, courseType); err == nil {
				scheduled++
			}
		}
	}

	s.logger.WithField("scheduled", scheduled).Info("Upcoming reminder sweep finished")
	return scheduled
}

// CleanupResult reports what CleanupOldData removed.
type CleanupResult struct {
	HistoryTrimmed int `json:"history_trimmed"`
	JobsPurged     int `json:"jobs_purged"`
}

// CleanupOldData trims the history to its capacity and purges registry
// entries whose fire time is more than a day in the past.
func (s *ReminderScheduler) CleanupOldData() CleanupResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	var res CleanupResult

	sort.SliceStable(s.history, func(i, j int) bool {
		return s.history[i].ExecutedAt.Before(s.history[j].ExecutedAt)
	})
	if over := len(s.history) - s.opts.HistoryCapacity; over > 0 {
		s.history = append([]reminder.HistoryEntry(nil), s.history[over:]...)
		res.HistoryTrimmed = over
	}

	cutoff := now.Add(-staleJobAge)
	for id, job := range s.jobs {
		if !job.running && job.reminder.FireAt.Before(cutoff) {
			s.removeJobLocked(id, job)
			res.JobsPurged++
		}
	}

	s.stats.LastCleanup = now
	s.logger.WithFields(logrus.Fields{
		"history_trimmed": res.HistoryTrimmed,
		"jobs_purged":     res.JobsPurged,
	}).Debug("Reminder data cleanup finished")
	return res
}

// Shutdown stops every pending job, clears the registry and rejects further
// scheduling. Jobs whose timers fire afterwards do nothing. It returns the
// number of cancelled jobs; calls after the first return 0.
func (s *ReminderScheduler) Shutdown() int {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return 0
	}
	s.shuttingDown = true
	cancelled := 0
	for id, job := range s.jobs {
		s.removeJobLocked(id, job)
		cancelled++
	}
	s.mu.Unlock()

	s.cancelBase()
	s.logger.WithField("cancelled", cancelled).Info("Reminder scheduler shut down")
	return cancelled
}

// Wait blocks until batches that were already sending at shutdown finish,
// or ctx is done.
func (s *ReminderScheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ReminderScheduler) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}
