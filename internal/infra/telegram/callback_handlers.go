package telegram

import (
	"gopkg.in/telebot.v3"
)

// cancelBtn is the inline button attached to each pending reminder in
// /reminders_list. Its callback data is the job id.
var cancelBtn = telebot.Btn{Unique: "cancel_reminder"}

// RegisterCallbackHandlers wires the inline buttons of admin messages.
func RegisterCallbackHandlers(b *telebot.Bot, h *AdminHandlers) {
	b.Handle(&cancelBtn, func(c telebot.Context) error {
		text := h.cancelCallback(c.Sender().ID, c.Callback().Data)
		return c.Respond(&telebot.CallbackResponse{Text: text})
	})

	b.Handle(telebot.OnCallback, func(c telebot.Context) error {
		// Buttons from an older deployment or a foreign bot.
		h.logger.WithField("data", c.Callback().Data).Warn("Unhandled callback")
		return c.Respond(&telebot.CallbackResponse{Text: "Unknown action."})
	})
}

func (h *AdminHandlers) cancelCallback(senderID int64, jobID string) string {
	if jobID == "" {
		return "Unknown reminder."
	}
	if err := h.adminService.CancelReminder(senderID, jobID); err != nil {
		return h.errorReply("cancel_button", senderID, err).text
	}
	return "Reminder cancelled."
}
