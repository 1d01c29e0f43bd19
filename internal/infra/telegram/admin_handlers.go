package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"course_reminder_service/internal/app"
	"course_reminder_service/internal/domain/course"
	"course_reminder_service/internal/domain/reminder"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
	msgUnauthorized     = "Error: you are not allowed to run this command."
)

// reply is what a command handler sends back.
type reply struct {
	text   string
	markup *telebot.ReplyMarkup
}

type commandFunc func(ctx context.Context, senderID int64, args []string) reply

// AdminHandlers implements the admin bot commands on top of AdminService.
type AdminHandlers struct {
	adminService *app.AdminService
	logger       *logrus.Entry
	location     *time.Location
}

func NewAdminHandlers(adminService *app.AdminService, baseLogger *logrus.Entry, loc *time.Location) *AdminHandlers {
	if loc == nil {
		loc = time.Local
	}
	return &AdminHandlers{adminService: adminService, logger: baseLogger, location: loc}
}

// RegisterAdminHandlers registers handlers for admin commands.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, h *AdminHandlers) {
	commands := map[string]commandFunc{
		"/reminders_status":        h.status,
		"/reminders_list":          h.list,
		"/reminders_history":       h.history,
		"/reminders_stats":         h.stats,
		"/reminders_health":        h.health,
		"/schedule_reminder":       h.schedule,
		"/custom_reminder":         h.custom,
		"/cancel_reminder":         h.cancel,
		"/cancel_course_reminders": h.cancelCourse,
	}
	for name, fn := range commands {
		b.Handle(name, h.wrap(ctx, name, fn))
	}
}

func (h *AdminHandlers) wrap(ctx context.Context, name string, fn commandFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		handlerLogger := h.logger.WithFields(logrus.Fields{
			"handler":   name,
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		r := fn(ctx, c.Sender().ID, c.Args())
		if r.markup != nil {
			return c.Send(r.text, r.markup)
		}
		return c.Send(r.text)
	}
}

func (h *AdminHandlers) status(_ context.Context, senderID int64, _ []string) reply {
	st, err := h.adminService.Status(senderID)
	if err != nil {
		return h.errorReply("/reminders_status", senderID, err)
	}
	return reply{text: formatStatus(st)}
}

func (h *AdminHandlers) list(_ context.Context, senderID int64, _ []string) reply {
	views, err := h.adminService.ListReminders(senderID)
	if err != nil {
		return h.errorReply("/reminders_list", senderID, err)
	}
	if len(views) == 0 {
		return reply{text: "No pending reminders."}
	}

	markup := &telebot.ReplyMarkup{}
	var rows []telebot.Row
	var b strings.Builder
	b.WriteString("--- Pending reminders ---\n")
	for i, v := range views {
		fmt.Fprintf(&b, "%d. %s\n", i+1, formatReminder(v))
		if !v.Running {
			rows = append(rows, markup.Row(markup.Data(fmt.Sprintf("Cancel #%d", i+1), cancelBtn.Unique, v.JobID)))
		}
	}
	if len(rows) == 0 {
		return reply{text: b.String()}
	}
	markup.Inline(rows...)
	return reply{text: b.String(), markup: markup}
}

func (h *AdminHandlers) history(_ context.Context, senderID int64, args []string) reply {
	// Expected format: /reminders_history [limit] [completed|failed]
	limit := defaultHistoryLimit
	var status reminder.JobStatus
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil {
			if n <= 0 {
				return reply{text: "Error: limit must be positive."}
			}
			limit = min(n, maxHistoryLimit)
			continue
		}
		switch s := reminder.JobStatus(strings.ToLower(arg)); s {
		case reminder.JobStatusCompleted, reminder.JobStatusFailed:
			status = s
		default:
			return reply{text: "Invalid format. Use: /reminders_history [limit] [completed|failed]"}
		}
	}

	entries, err := h.adminService.History(senderID, limit, status)
	if err != nil {
		return h.errorReply("/reminders_history", senderID, err)
	}
	if len(entries) == 0 {
		return reply{text: "Reminder history is empty."}
	}
	var b strings.Builder
	b.WriteString("--- Reminder history ---\n")
	for _, e := range entries {
		b.WriteString(formatHistoryEntry(e))
		b.WriteString("\n")
	}
	return reply{text: b.String()}
}

func (h *AdminHandlers) stats(_ context.Context, senderID int64, _ []string) reply {
	d, err := h.adminService.Statistics(senderID)
	if err != nil {
		return h.errorReply("/reminders_stats", senderID, err)
	}
	return reply{text: formatStatistics(d)}
}

func (h *AdminHandlers) health(_ context.Context, senderID int64, _ []string) reply {
	report, err := h.adminService.Health(senderID)
	if err != nil {
		return h.errorReply("/reminders_health", senderID, err)
	}
	return reply{text: formatHealth(report)}
}

func (h *AdminHandlers) schedule(ctx context.Context, senderID int64, args []string) reply {
	// Expected format: /schedule_reminder <course_type> <course_id>
	if len(args) != 2 {
		return reply{text: "Invalid format. Use: /schedule_reminder <course_type> <course_id>"}
	}
	courseType, err := course.ParseType(args[0])
	if err != nil {
		return reply{text: "Error: " + err.Error()}
	}
	jobID, err := h.adminService.ScheduleReminder(ctx, senderID, args[1], courseType)
	if err != nil {
		return h.errorReply("/schedule_reminder", senderID, err)
	}
	return reply{text: "Reminder scheduled: " + jobID}
}

func (h *AdminHandlers) custom(ctx context.Context, senderID int64, args []string) reply {
	// Expected format: /custom_reminder <course_type> <course_id> <send_at> <email_type> [message...]
	if len(args) < 4 {
		return reply{text: "Invalid format. Use: /custom_reminder <course_type> <course_id> <send_at> <email_type> [message]"}
	}
	courseType, err := course.ParseType(args[0])
	if err != nil {
		return reply{text: "Error: " + err.Error()}
	}
	sendAt, err := parseSendAt(args[2], h.location)
	if err != nil {
		return reply{text: "Error: " + err.Error()}
	}
	emailType, err := reminder.ParseEmailType(args[3])
	if err != nil {
		return reply{text: "Error: " + err.Error()}
	}
	message := strings.Join(args[4:], " ")

	jobID, err := h.adminService.ScheduleCustomReminder(ctx, senderID, args[1], courseType, sendAt, emailType, message)
	if err != nil {
		return h.errorReply("/custom_reminder", senderID, err)
	}
	return reply{text: fmt.Sprintf("Custom reminder scheduled for %s: %s", sendAt.Format(timeLayout), jobID)}
}

func (h *AdminHandlers) cancel(_ context.Context, senderID int64, args []string) reply {
	if len(args) != 1 {
		return reply{text: "Invalid format. Use: /cancel_reminder <job_id>"}
	}
	if err := h.adminService.CancelReminder(senderID, args[0]); err != nil {
		return h.errorReply("/cancel_reminder", senderID, err)
	}
	return reply{text: "Reminder cancelled: " + args[0]}
}

func (h *AdminHandlers) cancelCourse(_ context.Context, senderID int64, args []string) reply {
	if len(args) != 2 {
		return reply{text: "Invalid format. Use: /cancel_course_reminders <course_type> <course_id>"}
	}
	courseType, err := course.ParseType(args[0])
	if err != nil {
		return reply{text: "Error: " + err.Error()}
	}
	n, err := h.adminService.CancelCourseReminders(senderID, args[1], courseType)
	if err != nil {
		return h.errorReply("/cancel_course_reminders", senderID, err)
	}
	return reply{text: fmt.Sprintf("Cancelled %d reminder(s) for %s %s.", n, courseType, args[1])}
}

func (h *AdminHandlers) errorReply(handler string, senderID int64, err error) reply {
	logWithError := h.logger.WithFields(logrus.Fields{"handler": handler, "sender_id": senderID}).WithError(err)
	switch {
	case errors.Is(err, app.ErrAdminNotAuthorized):
		logWithError.Warn("Unauthorized access attempt")
		return reply{text: msgUnauthorized}
	case errors.Is(err, app.ErrReminderNotFound):
		logWithError.Info("Reminder to cancel not found")
		return reply{text: "No pending reminder with that id."}
	case errors.Is(err, course.ErrCourseNotFound):
		logWithError.Info("Course not found")
		return reply{text: "Course not found."}
	case isSchedulingRejection(err):
		logWithError.Info("Reminder not scheduled")
		return reply{text: "Not scheduled: " + err.Error()}
	default:
		logWithError.Error("Command failed")
		return reply{text: "An error occurred: " + err.Error()}
	}
}

func isSchedulingRejection(err error) bool {
	for _, target := range []error{
		app.ErrInvalidArguments, app.ErrNoStartDate, app.ErrCourseStarted,
		app.ErrReminderWindowPassed, app.ErrNoRecipients, app.ErrSendTimeInPast,
		app.ErrBlankCustomMessage, app.ErrUnsupportedEmailType, app.ErrSchedulerShutdown,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
