package database

import (
	"context"
	"database/sql"
	"fmt"

	"course_reminder_service/internal/domain/course"
	"course_reminder_service/internal/domain/reminder"
)

// PostgresHistoryRepository appends fired reminders to the per-course
// reminder log read by the admin UI.
type PostgresHistoryRepository struct {
	db *sql.DB
}

func NewPostgresHistoryRepository(db *sql.DB) *PostgresHistoryRepository {
	return &PostgresHistoryRepository{db: db}
}

func (r *PostgresHistoryRepository) AppendReminderHistory(ctx context.Context, courseID string, courseType course.Type, entry reminder.HistoryEntry) error {
	query := `INSERT INTO course_reminder_history
               (job_id, course_id, course_type, email_type, fire_at, executed_at,
                recipient_count, success_count, failure_count, skipped_count, status, custom_message, error)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		entry.JobID, courseID, courseType, entry.EmailType, entry.FireAt, entry.ExecutedAt,
		entry.RecipientCount, entry.SuccessCount, entry.FailureCount, entry.SkippedCount, entry.Status,
		nullString(entry.CustomMessage), nullString(entry.Error))
	if err != nil {
		return fmt.Errorf("error appending reminder history: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
