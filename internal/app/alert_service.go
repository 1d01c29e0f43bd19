package app

import (
	"fmt"
	"strings"

	"course_reminder_service/internal/domain/reminder"
	domainTelegram "course_reminder_service/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// AlertService tells the admin over Telegram when a reminder job fails or
// some of its e-mails could not be delivered. Wire NotifyExecuted into
// SchedulerOptions.OnExecuted.
type AlertService struct {
	telegramClient domainTelegram.Client
	logger         *logrus.Entry
	adminChatID    int64
}

func NewAlertService(tc domainTelegram.Client, logger *logrus.Entry, adminChatID int64) *AlertService {
	return &AlertService{
		telegramClient: tc,
		logger:         logger.WithField("component", "alert_service"),
		adminChatID:    adminChatID,
	}
}

// NotifyExecuted sends an alert for failed or partially failed jobs and
// ignores clean runs.
func (s *AlertService) NotifyExecuted(entry reminder.HistoryEntry) {
	if entry.Status != reminder.JobStatusFailed && entry.FailureCount == 0 {
		return
	}
	text := FormatAlert(entry)
	err := s.telegramClient.SendMessage(s.adminChatID, text, &telebot.SendOptions{ParseMode: telebot.ModeDefault})
	if err != nil {
		s.logger.WithError(err).WithField("job_id", entry.JobID).Error("Failed to send reminder alert to admin")
		return
	}
	s.logger.WithField("job_id", entry.JobID).Info("Reminder alert sent to admin")
}

// FormatAlert renders the admin alert for a history entry.
func FormatAlert(entry reminder.HistoryEntry) string {
	var b strings.Builder
	if entry.Status == reminder.JobStatusFailed {
		b.WriteString("Reminder job failed\n")
	} else {
		b.WriteString("Reminder job finished with errors\n")
	}
	fmt.Fprintf(&b, "Job: %s\n", entry.JobID)
	fmt.Fprintf(&b, "Course: %s (%s)\n", entry.CourseName, entry.CourseType)
	fmt.Fprintf(&b, "Type: %s\n", entry.EmailType)
	fmt.Fprintf(&b, "Sent: %d, failed: %d, skipped: %d of %d\n",
		entry.SuccessCount, entry.FailureCount, entry.SkippedCount, entry.RecipientCount)
	if entry.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", entry.Error)
	}
	return b.String()
}
