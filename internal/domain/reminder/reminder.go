// internal/domain/reminder/reminder.go
package reminder

import (
	"fmt"
	"strings"
	"time"

	"course_reminder_service/internal/domain/course"
)

// EmailType selects which notification a reminder sends.
type EmailType string

const (
	EmailCourseStarting EmailType = "course-starting"
	EmailPreparation    EmailType = "preparation"
	EmailTechCheck      EmailType = "tech-check" // online-live only
	EmailCustom         EmailType = "custom"
)

// ParseEmailType accepts both dashed and underscored spellings.
func ParseEmailType(raw string) (EmailType, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-")
	switch EmailType(normalized) {
	case EmailCourseStarting, EmailPreparation, EmailTechCheck, EmailCustom:
		return EmailType(normalized), nil
	default:
		return "", fmt.Errorf("unknown email type %q", raw)
	}
}

// JobStatus is the state of a pending job or of a history entry.
type JobStatus string

const (
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ScheduledReminder is a pending, not-yet-fired job. It is written once
// when scheduled and never mutated afterwards.
type ScheduledReminder struct {
	JobID          string      `json:"job_id"`
	CourseID       string      `json:"course_id"`
	CourseType     course.Type `json:"course_type"`
	CourseName     string      `json:"course_name"`
	CourseCode     string      `json:"course_code,omitempty"`
	FireAt         time.Time   `json:"fire_at"`
	RecipientCount int         `json:"recipient_count"`
	EmailType      EmailType   `json:"email_type"`
	CustomMessage  string      `json:"custom_message,omitempty"`
	Status         JobStatus   `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
}

// HistoryEntry records the outcome of one fired job.
// SuccessCount + FailureCount + SkippedCount == RecipientCount. Skipped
// recipients had left the eligible enrollment statuses before the job fired.
type HistoryEntry struct {
	JobID          string      `json:"job_id"`
	CourseID       string      `json:"course_id"`
	CourseType     course.Type `json:"course_type"`
	CourseName     string      `json:"course_name"`
	CourseCode     string      `json:"course_code,omitempty"`
	FireAt         time.Time   `json:"fire_at"`
	RecipientCount int         `json:"recipient_count"`
	EmailType      EmailType   `json:"email_type"`
	CustomMessage  string      `json:"custom_message,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ExecutedAt     time.Time   `json:"executed_at"`
	SuccessCount   int         `json:"success_count"`
	FailureCount   int         `json:"failure_count"`
	SkippedCount   int         `json:"skipped_count"`
	Status         JobStatus   `json:"status"`
	Error          string      `json:"error,omitempty"`
}

// NewHistoryEntry copies the display fields of r into a history entry.
func NewHistoryEntry(r ScheduledReminder, executedAt time.Time) HistoryEntry {
	return HistoryEntry{
		JobID:          r.JobID,
		CourseID:       r.CourseID,
		CourseType:     r.CourseType,
		CourseName:     r.CourseName,
		CourseCode:     r.CourseCode,
		FireAt:         r.FireAt,
		RecipientCount: r.RecipientCount,
		EmailType:      r.EmailType,
		CustomMessage:  r.CustomMessage,
		CreatedAt:      r.CreatedAt,
		ExecutedAt:     executedAt,
	}
}

// Stats are cumulative scheduler counters.
type Stats struct {
	TotalScheduled     int       `json:"total_scheduled"`
	TotalExecuted      int       `json:"total_executed"`
	TotalCancelled     int       `json:"total_cancelled"`
	TotalEmailsSent    int       `json:"total_emails_sent"`
	TotalEmailsFailed  int       `json:"total_emails_failed"`
	TotalEmailsSkipped int       `json:"total_emails_skipped"`
	LastCleanup        time.Time `json:"last_cleanup"`
}

// SendResult aggregates per-recipient outcomes of one batch.
type SendResult struct {
	SuccessCount int
	FailureCount int
	SkippedCount int
}

// JobID builds the job identifier for a course at a creation instant.
func JobID(courseType course.Type, courseID string, createdAt time.Time) string {
	return fmt.Sprintf("%s_%s_%d", courseType, courseID, createdAt.UnixMilli())
}
