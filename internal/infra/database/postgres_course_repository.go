package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"course_reminder_service/internal/domain/course"

	"github.com/lib/pq" // For pq.Array
)

// courseTables maps each course type to its catalogue table. Self-paced
// courses are absent on purpose: they have no start date.
var courseTables = map[course.Type]string{
	course.TypeInPerson:   "in_person_courses",
	course.TypeOnlineLive: "online_live_courses",
}

type PostgresCourseRepository struct {
	db *sql.DB
}

func NewPostgresCourseRepository(db *sql.DB) *PostgresCourseRepository {
	return &PostgresCourseRepository{db: db}
}

func tableFor(courseType course.Type) (string, error) {
	table, ok := courseTables[courseType]
	if !ok {
		return "", fmt.Errorf("no course table for type %q", courseType)
	}
	return table, nil
}

func (r *PostgresCourseRepository) GetSummary(ctx context.Context, courseID string, courseType course.Type) (*course.Summary, error) {
	table, err := tableFor(courseType)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, title, course_code, start_date, status FROM ` + table + ` WHERE id = $1`

	s, err := scanSummary(r.db.QueryRowContext(ctx, query, courseID), courseType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, course.ErrCourseNotFound
		}
		return nil, fmt.Errorf("error getting course summary: %w", err)
	}
	return s, nil
}

func (r *PostgresCourseRepository) ListEnrolledUsers(ctx context.Context, courseID string, courseType course.Type) ([]course.Enrollee, error) {
	query := `SELECT u.id, u.name, u.email, e.status
               FROM course_enrollments e
               JOIN users u ON u.id = e.user_id
               WHERE e.course_id = $1 AND e.course_type = $2 AND e.status = ANY($3)
               ORDER BY e.created_at, e.id`

	rows, err := r.db.QueryContext(ctx, query, courseID, courseType, pq.Array(eligibleStatuses()))
	if err != nil {
		return nil, fmt.Errorf("error listing enrolled users: %w", err)
	}
	defer rows.Close()

	enrollees := make([]course.Enrollee, 0)
	for rows.Next() {
		var e course.Enrollee
		if err := rows.Scan(&e.UserID, &e.Name, &e.Email, &e.Status); err != nil {
			return nil, fmt.Errorf("error scanning enrolled user: %w", err)
		}
		enrollees = append(enrollees, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrolled users: %w", err)
	}
	return enrollees, nil
}

func (r *PostgresCourseRepository) GetEnrollmentStatus(ctx context.Context, userID, courseID string, courseType course.Type) (course.EnrollmentStatus, error) {
	query := `SELECT status FROM course_enrollments
               WHERE user_id = $1 AND course_id = $2 AND course_type = $3
               ORDER BY updated_at DESC LIMIT 1`

	var status course.EnrollmentStatus
	err := r.db.QueryRowContext(ctx, query, userID, courseID, courseType).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", course.ErrEnrollmentNotFound
		}
		return "", fmt.Errorf("error getting enrollment status: %w", err)
	}
	return status, nil
}

func (r *PostgresCourseRepository) ListUpcoming(ctx context.Context, courseType course.Type, from, to time.Time, statuses []course.Status) ([]*course.Summary, error) {
	table, err := tableFor(courseType)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, title, course_code, start_date, status FROM ` + table + `
               WHERE start_date > $1 AND start_date <= $2 AND status = ANY($3)
               ORDER BY start_date`

	wanted := make([]string, len(statuses))
	for i, s := range statuses {
		wanted[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx, query, from, to, pq.Array(wanted))
	if err != nil {
		return nil, fmt.Errorf("error listing upcoming courses: %w", err)
	}
	defer rows.Close()

	summaries := make([]*course.Summary, 0)
	for rows.Next() {
		s, err := scanSummary(rows, courseType)
		if err != nil {
			return nil, fmt.Errorf("error scanning upcoming course: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating upcoming courses: %w", err)
	}
	return summaries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSummary reads one catalogue row. A NULL title leaves Title empty so
// DisplayName falls back to the code or id.
func scanSummary(row rowScanner, courseType course.Type) (*course.Summary, error) {
	s := &course.Summary{Type: courseType}
	var title sql.NullString
	if err := row.Scan(&s.ID, &title, &s.Code, &s.StartDate, &s.Status); err != nil {
		return nil, err
	}
	s.Title = title.String
	return s, nil
}

func eligibleStatuses() []string {
	statuses := course.EligibleEnrollmentStatuses()
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
