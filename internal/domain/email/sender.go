package email

import (
	"context"
	"errors"

	"course_reminder_service/internal/domain/course"
)

// ErrTemplateUnavailable is returned by a Sender when no specialised
// template is configured for the requested notification. Callers fall back
// to SendPlain.
var ErrTemplateUnavailable = errors.New("email template unavailable")

// Sender dispatches typed course notifications to a single user.
// This decouples the reminder scheduler from templates and providers.
type Sender interface {
	SendCourseStarting(ctx context.Context, to course.Enrollee, c *course.Summary) error
	SendPreparation(ctx context.Context, to course.Enrollee, c *course.Summary) error
	SendTechCheck(ctx context.Context, to course.Enrollee, c *course.Summary) error
	SendCustomMessage(ctx context.Context, to course.Enrollee, c *course.Summary, message string) error
	// SendPlain sends a generic plain-text e-mail.
	SendPlain(ctx context.Context, to course.Enrollee, subject, body string) error
}
