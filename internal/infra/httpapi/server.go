package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"course_reminder_service/internal/app"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// Server exposes the reminder scheduler over HTTP for the course admin
// backend (course lifecycle hooks) and for operators.
type Server struct {
	echo      *echo.Echo
	reminders app.ReminderManager
	logger    *logrus.Entry
	addr      string
}

func NewServer(reminders app.ReminderManager, logger *logrus.Entry, addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, reminders: reminders, logger: logger.WithField("component", "http_api"), addr: addr}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.health)

	s.echo.GET("/reminders", s.listReminders)
	s.echo.GET("/reminders/status", s.status)
	s.echo.GET("/reminders/stats", s.stats)
	s.echo.GET("/reminders/history", s.history)
	s.echo.DELETE("/reminders/:jobID", s.cancelReminder)

	courses := s.echo.Group("/courses/:type/:id")
	courses.POST("/reminders", s.scheduleCourseReminder)
	courses.POST("/reminders/custom", s.scheduleCustomReminder)
	courses.DELETE("/reminders", s.cancelCourseReminders)
}

// Handler returns the underlying http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called. It returns nil on graceful shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.addr).Info("HTTP API listening")
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP API...")
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.WithFields(logrus.Fields{
			"method":     c.Request().Method,
			"path":       c.Path(),
			"status":     c.Response().Status,
			"duration":   time.Since(start).String(),
			"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		}).Debug("HTTP request")
		return nil
	}
}
