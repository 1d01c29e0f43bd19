package reminder

import (
	"context"

	"course_reminder_service/internal/domain/course"
)

// HistoryWriter appends a fired reminder to the course's own reminder log
// shown in the admin UI. Writes are best-effort.
type HistoryWriter interface {
	AppendReminderHistory(ctx context.Context, courseID string, courseType course.Type, entry HistoryEntry) error
}
