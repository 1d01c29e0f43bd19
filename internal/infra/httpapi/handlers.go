package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"course_reminder_service/internal/app"
	"course_reminder_service/internal/domain/course"
	"course_reminder_service/internal/domain/reminder"

	"github.com/labstack/echo/v4"
)

const maxHistoryLimit = 200

// CustomReminderRequest is the body of POST /courses/:type/:id/reminders/custom.
type CustomReminderRequest struct {
	SendAt    time.Time `json:"send_at"`
	EmailType string    `json:"email_type"`
	Message   string    `json:"message"`
}

type jobResponse struct {
	JobID string `json:"job_id"`
}

type cancelResponse struct {
	Cancelled int `json:"cancelled"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(c echo.Context) error {
	report := s.reminders.HealthCheck()
	code := http.StatusOK
	if report.Status == app.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

func (s *Server) listReminders(c echo.Context) error {
	return c.JSON(http.StatusOK, s.reminders.ScheduledReminders())
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, s.reminders.Status())
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.reminders.DetailedStatistics())
}

func (s *Server) history(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
		}
		limit = min(n, maxHistoryLimit)
	}
	var status reminder.JobStatus
	switch raw := reminder.JobStatus(strings.ToLower(c.QueryParam("status"))); raw {
	case "":
	case reminder.JobStatusCompleted, reminder.JobStatusFailed:
		status = raw
	default:
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "status must be completed or failed"})
	}
	return c.JSON(http.StatusOK, s.reminders.ReminderHistory(limit, status))
}

func (s *Server) scheduleCourseReminder(c echo.Context) error {
	courseType, err := course.ParseType(c.Param("type"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	jobID, err := s.reminders.ScheduleReminderForCourse(c.Request().Context(), c.Param("id"), courseType)
	if err != nil {
		return s.schedulingError(c, err)
	}
	return c.JSON(http.StatusCreated, jobResponse{JobID: jobID})
}

func (s *Server) scheduleCustomReminder(c echo.Context) error {
	courseType, err := course.ParseType(c.Param("type"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	var req CustomReminderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	emailType, err := reminder.ParseEmailType(req.EmailType)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	jobID, err := s.reminders.ScheduleCustomReminder(c.Request().Context(), c.Param("id"), courseType, req.SendAt, emailType, req.Message)
	if err != nil {
		return s.schedulingError(c, err)
	}
	return c.JSON(http.StatusCreated, jobResponse{JobID: jobID})
}

func (s *Server) cancelCourseReminders(c echo.Context) error {
	courseType, err := course.ParseType(c.Param("type"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	n := s.reminders.CancelReminderForCourse(c.Param("id"), courseType)
	return c.JSON(http.StatusOK, cancelResponse{Cancelled: n})
}

func (s *Server) cancelReminder(c echo.Context) error {
	jobID := c.Param("jobID")
	if s.reminders.CancelReminder(jobID) == 0 {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "no pending reminder with id " + jobID})
	}
	return c.JSON(http.StatusOK, cancelResponse{Cancelled: 1})
}

// schedulingError maps a refused scheduling request to a status code.
func (s *Server) schedulingError(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, course.ErrCourseNotFound):
		code = http.StatusNotFound
	case errors.Is(err, app.ErrInvalidArguments):
		code = http.StatusBadRequest
	case errors.Is(err, app.ErrSchedulerShutdown):
		code = http.StatusServiceUnavailable
	case errors.Is(err, app.ErrNoStartDate),
		errors.Is(err, app.ErrCourseStarted),
		errors.Is(err, app.ErrReminderWindowPassed),
		errors.Is(err, app.ErrNoRecipients),
		errors.Is(err, app.ErrSendTimeInPast),
		errors.Is(err, app.ErrBlankCustomMessage),
		errors.Is(err, app.ErrUnsupportedEmailType):
		code = http.StatusUnprocessableEntity
	}
	if code == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("course_id", c.Param("id")).Error("Scheduling request failed")
	}
	return c.JSON(code, errorResponse{Error: err.Error()})
}
