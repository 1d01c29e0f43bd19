package scheduler

import (
	"context"
	"fmt"
	"time"

	"course_reminder_service/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const sweepTimeout = 5 * time.Minute

// ReminderMaintainer is the part of the reminder scheduler the cron jobs drive.
type ReminderMaintainer interface {
	CleanupOldData() app.CleanupResult
	ScheduleAllUpcomingReminders(ctx context.Context) int
}

// MaintenanceScheduler runs periodic housekeeping for the reminder
// scheduler: history cleanup and the upcoming course sweep.
type MaintenanceScheduler struct {
	cronEngine  *cron.Cron
	reminders   ReminderMaintainer
	logger      *logrus.Entry
	cleanupSpec string // e.g., "0 * * * *" (hourly)
	sweepSpec   string // e.g., "30 3 * * *" (03:30 daily)
}

func NewMaintenanceScheduler(reminders ReminderMaintainer, logger *logrus.Entry, cleanupSpec, sweepSpec string) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		cronEngine:  cron.New(cron.WithLocation(time.Local)),
		reminders:   reminders,
		logger:      logger,
		cleanupSpec: cleanupSpec,
		sweepSpec:   sweepSpec,
	}
}

// Start registers both jobs and starts the cron engine. An empty spec
// disables that job.
func (s *MaintenanceScheduler) Start() error {
	s.logger.Info("Starting maintenance scheduler...")

	if s.cleanupSpec != "" {
		if _, err := s.cronEngine.AddFunc(s.cleanupSpec, s.runCleanup); err != nil {
			return fmt.Errorf("could not add cleanup cron job: %w", err)
		}
	}
	if s.sweepSpec != "" {
		if _, err := s.cronEngine.AddFunc(s.sweepSpec, s.runSweep); err != nil {
			return fmt.Errorf("could not add upcoming sweep cron job: %w", err)
		}
	}

	s.cronEngine.Start()
	s.logger.WithField("jobs", len(s.cronEngine.Entries())).Info("Maintenance scheduler started")
	return nil
}

func (s *MaintenanceScheduler) runCleanup() {
	res := s.reminders.CleanupOldData()
	s.logger.WithFields(logrus.Fields{
		"history_trimmed": res.HistoryTrimmed,
		"jobs_purged":     res.JobsPurged,
	}).Info("Reminder cleanup finished")
}

func (s *MaintenanceScheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	scheduled := s.reminders.ScheduleAllUpcomingReminders(ctx)
	s.logger.WithField("scheduled", scheduled).Info("Upcoming reminder sweep finished")
}

func (s *MaintenanceScheduler) Stop() {
	s.logger.Info("Stopping maintenance scheduler...")
	ctx := s.cronEngine.Stop() // Waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Maintenance scheduler gracefully stopped.")
}
