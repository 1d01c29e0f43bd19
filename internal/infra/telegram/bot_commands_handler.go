// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(b *telebot.Bot, h *AdminHandlers, baseLogger *logrus.Entry) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")
		return c.Send(startText(h.adminService.IsAdmin(senderID), c.Sender().FirstName))
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if !h.adminService.IsAdmin(senderID) {
			return c.Send("This bot is for course administrators only.")
		}
		return c.Send(adminHelpText(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}

func startText(isAdmin bool, firstName string) string {
	if isAdmin {
		return fmt.Sprintf("Hello, %s! Course reminders are running. Use /help for the list of commands.", firstName)
	}
	return "Hello! This bot manages course reminder e-mails and only answers to administrators."
}

func adminHelpText() string {
	var helpText strings.Builder
	helpText.WriteString("Admin commands:\n\n")
	helpText.WriteString("`/reminders_status`\n - Scheduler state and counters.\n\n")
	helpText.WriteString("`/reminders_list`\n - Pending reminders, with cancel buttons.\n\n")
	helpText.WriteString("`/reminders_history [limit] [completed|failed]`\n - Recently fired reminders.\n\n")
	helpText.WriteString("`/reminders_stats`\n - Breakdown by e-mail type and outcome.\n\n")
	helpText.WriteString("`/reminders_health`\n - Health check.\n\n")
	helpText.WriteString("`/schedule_reminder <course_type> <course_id>`\n - Schedule the reminder 24h before the course starts.\n\n")
	helpText.WriteString("`/custom_reminder <course_type> <course_id> <YYYY-MM-DDTHH:MM> <email_type> [message]`\n - Schedule an ad hoc reminder.\n\n")
	helpText.WriteString("`/cancel_reminder <job_id>`\n - Cancel one pending reminder.\n\n")
	helpText.WriteString("`/cancel_course_reminders <course_type> <course_id>`\n - Cancel every pending reminder of a course.\n\n")
	helpText.WriteString("`/help`\n - Show this message.")
	return helpText.String()
}
