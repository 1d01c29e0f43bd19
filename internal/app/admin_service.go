package app

import (
	"context"
	"errors"
	"time"

	"course_reminder_service/internal/domain/course"
	"course_reminder_service/internal/domain/reminder"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = errors.New("performing user is not authorized as an admin")
var ErrReminderNotFound = errors.New("no pending reminder matched")

// ReminderManager is the reminder scheduler surface exposed to admin
// transports (Telegram and HTTP).
type ReminderManager interface {
	ScheduleReminderForCourse(ctx context.Context, courseID string, courseType course.Type) (string, error)
	ScheduleCustomReminder(ctx context.Context, courseID string, courseType course.Type, sendAt time.Time, emailType reminder.EmailType, customMessage string) (string, error)
	CancelReminder(jobID string) int
	CancelReminderForCourse(courseID string, courseType course.Type) int
	Status() SchedulerStatus
	ScheduledReminders() []ScheduledReminderView
	ReminderHistory(limit int, status reminder.JobStatus) []reminder.HistoryEntry
	DetailedStatistics() DetailedStatistics
	HealthCheck() HealthReport
}

var _ ReminderManager = (*ReminderScheduler)(nil)

// AdminService gates reminder management behind the configured admin id.
type AdminService struct {
	reminders       ReminderManager
	adminTelegramID int64
}

func NewAdminService(reminders ReminderManager, adminID int64) *AdminService {
	return &AdminService{
		reminders:       reminders,
		adminTelegramID: adminID,
	}
}

func (s *AdminService) authorize(performingAdminID int64) error {
	if performingAdminID != s.adminTelegramID {
		return ErrAdminNotAuthorized
	}
	return nil
}

// IsAdmin reports whether the user may run admin commands.
func (s *AdminService) IsAdmin(userID int64) bool {
	return s.authorize(userID) == nil
}

func (s *AdminService) Status(performingAdminID int64) (SchedulerStatus, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return SchedulerStatus{}, err
	}
	return s.reminders.Status(), nil
}

func (s *AdminService) Statistics(performingAdminID int64) (DetailedStatistics, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return DetailedStatistics{}, err
	}
	return s.reminders.DetailedStatistics(), nil
}

func (s *AdminService) Health(performingAdminID int64) (HealthReport, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return HealthReport{}, err
	}
	return s.reminders.HealthCheck(), nil
}

func (s *AdminService) ListReminders(performingAdminID int64) ([]ScheduledReminderView, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return nil, err
	}
	return s.reminders.ScheduledReminders(), nil
}

func (s *AdminService) History(performingAdminID int64, limit int, status reminder.JobStatus) ([]reminder.HistoryEntry, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return nil, err
	}
	return s.reminders.ReminderHistory(limit, status), nil
}

// ScheduleReminder schedules (or reschedules) the standard reminder for a course.
func (s *AdminService) ScheduleReminder(ctx context.Context, performingAdminID int64, courseID string, courseType course.Type) (string, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return "", err
	}
	return s.reminders.ScheduleReminderForCourse(ctx, courseID, courseType)
}

func (s *AdminService) ScheduleCustomReminder(ctx context.Context, performingAdminID int64, courseID string, courseType course.Type, sendAt time.Time, emailType reminder.EmailType, message string) (string, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return "", err
	}
	return s.reminders.ScheduleCustomReminder(ctx, courseID, courseType, sendAt, emailType, message)
}

// CancelReminder returns ErrReminderNotFound when nothing was pending under jobID.
func (s *AdminService) CancelReminder(performingAdminID int64, jobID string) error {
	if err := s.authorize(performingAdminID); err != nil {
		return err
	}
	if s.reminders.CancelReminder(jobID) == 0 {
		return ErrReminderNotFound
	}
	return nil
}

func (s *AdminService) CancelCourseReminders(performingAdminID int64, courseID string, courseType course.Type) (int, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return 0, err
	}
	return s.reminders.CancelReminderForCourse(courseID, courseType), nil
}
