// internal/domain/course/course.go
package course

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Type identifies which of the three course catalogues a course belongs to.
type Type string

const (
	TypeInPerson   Type = "in-person"
	TypeOnlineLive Type = "online-live"
	TypeSelfPaced  Type = "self-paced" // No start date, never reminded
)

// ParseType normalises user input ("in_person", "Online-Live") into a Type.
func ParseType(raw string) (Type, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-")
	switch Type(normalized) {
	case TypeInPerson, TypeOnlineLive, TypeSelfPaced:
		return Type(normalized), nil
	default:
		return "", fmt.Errorf("unknown course type %q", raw)
	}
}

// HasStartDate reports whether courses of this type carry a start date
// that reminders can be computed from.
func (t Type) HasStartDate() bool {
	return t == TypeInPerson || t == TypeOnlineLive
}

// ReminderTypes lists the course types the reminder scheduler works with.
func ReminderTypes() []Type {
	return []Type{TypeInPerson, TypeOnlineLive}
}

// Status is the publication state of a course.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusOpen       Status = "open"
	StatusFull       Status = "full"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// UpcomingStatuses are the course statuses picked up by the startup sweep.
func UpcomingStatuses() []Status {
	return []Status{StatusOpen, StatusFull}
}

// EnrollmentStatus is the per-user, per-course enrollment state.
type EnrollmentStatus string

const (
	EnrollmentWishlist   EnrollmentStatus = "wishlist"
	EnrollmentCart       EnrollmentStatus = "cart"
	EnrollmentRegistered EnrollmentStatus = "registered"
	EnrollmentPaid       EnrollmentStatus = "paid"
	EnrollmentCompleted  EnrollmentStatus = "completed"
	EnrollmentCancelled  EnrollmentStatus = "cancelled"
)

// EligibleEnrollmentStatuses are the statuses that receive reminders.
func EligibleEnrollmentStatuses() []EnrollmentStatus {
	return []EnrollmentStatus{EnrollmentPaid, EnrollmentRegistered}
}

// IsReminderEligible reports whether a user in this status should get reminders.
func (s EnrollmentStatus) IsReminderEligible() bool {
	return s == EnrollmentPaid || s == EnrollmentRegistered
}

// Summary is the subset of a course document the reminder scheduler reads.
// The upstream schema is loosely enforced, so optional fields are nullable.
type Summary struct {
	ID        string
	Type      Type
	Title     string
	Code      sql.NullString
	StartDate sql.NullTime
	Status    Status
}

// DisplayName returns the title, falling back to the code or the id.
func (s *Summary) DisplayName() string {
	if s == nil {
		return ""
	}
	if strings.TrimSpace(s.Title) != "" {
		return s.Title
	}
	if s.Code.Valid && s.Code.String != "" {
		return s.Code.String
	}
	return s.ID
}

// CodeOrEmpty returns the course code or "" when unset.
func (s *Summary) CodeOrEmpty() string {
	if s == nil || !s.Code.Valid {
		return ""
	}
	return s.Code.String
}

// Start returns the start date and whether it is usable.
func (s *Summary) Start() (time.Time, bool) {
	if s == nil || !s.StartDate.Valid || s.StartDate.Time.IsZero() {
		return time.Time{}, false
	}
	return s.StartDate.Time, true
}

// Enrollee is an enrolled user with the minimal contact fields needed to
// send a reminder.
type Enrollee struct {
	UserID string
	Name   string
	Email  string
	Status EnrollmentStatus
}
