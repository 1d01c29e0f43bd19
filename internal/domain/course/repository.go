package course

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCourseNotFound     = errors.New("course not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
)

// Repository is the read side of the course and enrollment stores.
type Repository interface {
	// GetSummary returns ErrCourseNotFound when no such course exists.
	GetSummary(ctx context.Context, courseID string, courseType Type) (*Summary, error)
	// ListEnrolledUsers returns users enrolled with a reminder-eligible status,
	// in enrollment order.
	ListEnrolledUsers(ctx context.Context, courseID string, courseType Type) ([]Enrollee, error)
	// GetEnrollmentStatus returns the user's current status for the course,
	// or ErrEnrollmentNotFound.
	GetEnrollmentStatus(ctx context.Context, userID, courseID string, courseType Type) (EnrollmentStatus, error)
	// ListUpcoming returns courses starting in (from, to] with one of the statuses.
	ListUpcoming(ctx context.Context, courseType Type, from, to time.Time, statuses []Status) ([]*Summary, error)
}
