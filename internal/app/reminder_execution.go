package app

import (
	"context"
	"errors"
	"fmt"

	"course_reminder_service/internal/domain/course"
	"course_reminder_service/internal/domain/email"
	"course_reminder_service/internal/domain/reminder"

	"github.com/sirupsen/logrus"
)

// dispatchFunc sends one notification of a job to one recipient.
type dispatchFunc func(ctx context.Context, to course.Enrollee) error

// fire is the timer callback of a job. It runs the job at most once and
// does nothing once the scheduler is shut down or the job was cancelled.
func (s *ReminderScheduler) fire(jobID string, job *scheduledJob) {
	s.mu.Lock()
	current, ok := s.jobs[jobID]
	if s.shuttingDown || !ok || current != job || job.running {
		s.mu.Unlock()
		return
	}
	job.running = true
	s.inFlight.Add(1)
	s.mu.Unlock()
	defer s.inFlight.Done()

	s.execute(jobID, job)
}

func (s *ReminderScheduler) execute(jobID string, job *scheduledJob) {
	log := s.logger.WithFields(logrus.Fields{
		"job_id":      jobID,
		"course_id":   job.reminder.CourseID,
		"course_type": job.reminder.CourseType,
		"email_type":  job.reminder.EmailType,
	})
	log.WithField("recipients", job.reminder.RecipientCount).Info("Executing course reminder")

	result, err := s.runBatch(job)

	entry := reminder.NewHistoryEntry(job.reminder, s.opts.Now())
	if err != nil {
		log.WithError(err).Error("Course reminder failed")
		entry.Status = reminder.JobStatusFailed
		entry.Error = err.Error()
		entry.FailureCount = job.reminder.RecipientCount
	} else {
		entry.Status = reminder.JobStatusCompleted
		entry.SuccessCount = result.SuccessCount
		entry.FailureCount = result.FailureCount
		entry.SkippedCount = result.SkippedCount
		log.WithFields(logrus.Fields{
			"sent":    result.SuccessCount,
			"failed":  result.FailureCount,
			"skipped": result.SkippedCount,
		}).Info("Course reminder completed")
	}

	s.mu.Lock()
	s.appendHistoryLocked(entry)
	s.stats.TotalExecuted++
	s.stats.TotalEmailsSent += entry.SuccessCount
	s.stats.TotalEmailsFailed += entry.FailureCount
	s.stats.TotalEmailsSkipped += entry.SkippedCount
	if current, ok := s.jobs[jobID]; ok && current == job {
		delete(s.jobs, jobID)
	}
	s.mu.Unlock()

	s.writeCourseHistory(entry, log)
	s.notifyExecuted(entry, log)
}

// runBatch loads fresh course context and sends to the snapshot recipients.
// Panics are converted into a batch error.
func (s *ReminderScheduler) runBatch(job *scheduledJob) (result reminder.SendResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reminder job panicked: %v", r)
		}
	}()

	summary, err := s.lookupCourse(s.baseCtx, job.reminder.CourseID, job.reminder.CourseType)
	if err != nil {
		return result, err
	}

	if job.reminder.EmailType == reminder.EmailCourseStarting {
		return s.sendRemindersToUsers(s.baseCtx, job, summary), nil
	}
	return s.sendCustomRemindersToUsers(s.baseCtx, job, summary), nil
}

// sendRemindersToUsers sends the standard course-starting reminder.
func (s *ReminderScheduler) sendRemindersToUsers(ctx context.Context, job *scheduledJob, c *course.Summary) reminder.SendResult {
	return s.sendToRecipients(ctx, job, c, func(ctx context.Context, to course.Enrollee) error {
		return s.withFallback(ctx, job.reminder, to, c, s.sender.SendCourseStarting(ctx, to, c))
	})
}

// sendCustomRemindersToUsers sends preparation, tech-check and custom reminders.
func (s *ReminderScheduler) sendCustomRemindersToUsers(ctx context.Context, job *scheduledJob, c *course.Summary) reminder.SendResult {
	return s.sendToRecipients(ctx, job, c, func(ctx context.Context, to course.Enrollee) error {
		var err error
		switch job.reminder.EmailType {
		case reminder.EmailPreparation:
			err = s.sender.SendPreparation(ctx, to, c)
		case reminder.EmailTechCheck:
			err = s.sender.SendTechCheck(ctx, to, c)
		case reminder.EmailCustom:
			err = s.sender.SendCustomMessage(ctx, to, c, job.reminder.CustomMessage)
		case reminder.EmailCourseStarting:
			err = s.sender.SendCourseStarting(ctx, to, c)
		default:
			err = email.ErrTemplateUnavailable
		}
		return s.withFallback(ctx, job.reminder, to, c, err)
	})
}

// sendToRecipients walks the snapshot in order, one send at a time. Users
// whose enrollment is no longer eligible are skipped; a failed send is
// counted and the loop continues.
func (s *ReminderScheduler) sendToRecipients(ctx context.Context, job *scheduledJob, c *course.Summary, dispatch dispatchFunc) reminder.SendResult {
	var res reminder.SendResult
	log := s.logger.WithField("job_id", job.reminder.JobID)

	for i, to := range job.recipients {
		to := to // per-iteration copy: a timed-out dispatch goroutine may outlive this iteration
		userLog := log.WithFields(logrus.Fields{"user_id": to.UserID, "email": to.Email})

		eligible, err := s.stillEnrolled(ctx, job, to)
		if err != nil {
			userLog.WithError(err).Warn("Enrollment re-check failed")
			res.FailureCount++
			continue
		}
		if !eligible {
			userLog.Info("Recipient no longer enrolled, skipping")
			res.SkippedCount++
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			remaining := len(job.recipients) - i
			log.WithError(err).WithField("remaining", remaining).Warn("Reminder batch interrupted")
			res.FailureCount += remaining
			break
		}

		if err := s.callWithTimeout(ctx, func(ctx context.Context) error { return dispatch(ctx, to) }); err != nil {
			userLog.WithError(err).Error("Failed to send reminder")
			res.FailureCount++
			continue
		}
		userLog.Debug("Reminder sent")
		res.SuccessCount++
	}
	return res
}

func (s *ReminderScheduler) stillEnrolled(ctx context.Context, job *scheduledJob, to course.Enrollee) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	status, err := s.courses.GetEnrollmentStatus(ctx, to.UserID, job.reminder.CourseID, job.reminder.CourseType)
	if errors.Is(err, course.ErrEnrollmentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status.IsReminderEligible(), nil
}

// callWithTimeout bounds f by the send timeout even when f ignores its
// context. A timed-out call keeps running in the background.
func (s *ReminderScheduler) callWithTimeout(ctx context.Context, f func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("email dispatch panicked: %v", r)
			}
		}()
		done <- f(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("email dispatch: %w", ctx.Err())
	}
}

// withFallback turns a missing specialised template into a plain-text send.
func (s *ReminderScheduler) withFallback(ctx context.Context, r reminder.ScheduledReminder, to course.Enrollee, c *course.Summary, err error) error {
	if !errors.Is(err, email.ErrTemplateUnavailable) {
		return err
	}
	subject, body := fallbackContent(r, to, c)
	return s.sender.SendPlain(ctx, to, subject, body)
}

func fallbackContent(r reminder.ScheduledReminder, to course.Enrollee, c *course.Summary) (string, string) {
	name := c.DisplayName()
	if name == "" {
		name = r.CourseName
	}
	greeting := "Hello,"
	if to.Name != "" {
		greeting = fmt.Sprintf("Hello %s,", to.Name)
	}
	startLine := ""
	if start, ok := c.Start(); ok {
		startLine = fmt.Sprintf(" It starts on %s.", start.Format("Monday, 2 January 2006 at 15:04 MST"))
	}

	switch r.EmailType {
	case reminder.EmailPreparation:
		return fmt.Sprintf("Prepare for %s", name),
			fmt.Sprintf("%s\n\nPlease take a moment to prepare for %s.%s\n\nSee you there!", greeting, name, startLine)
	case reminder.EmailTechCheck:
		return fmt.Sprintf("Tech check for %s", name),
			fmt.Sprintf("%s\n\nPlease check your camera, microphone and connection before %s.%s", greeting, name, startLine)
	case reminder.EmailCustom:
		return fmt.Sprintf("Message about %s", name),
			fmt.Sprintf("%s\n\n%s", greeting, r.CustomMessage)
	default:
		return fmt.Sprintf("Reminder: %s starts soon", name),
			fmt.Sprintf("%s\n\nThis is a reminder that %s starts soon.%s\n\nSee you there!", greeting, name, startLine)
	}
}

func (s *ReminderScheduler) appendHistoryLocked(entry reminder.HistoryEntry) {
	s.history = append(s.history, entry)
	if over := len(s.history) - s.opts.HistoryCapacity; over > 0 {
		s.history = append([]reminder.HistoryEntry(nil), s.history[over:]...)
	}
}

// writeCourseHistory stores the entry on the course record. Failures are
// logged and ignored.
func (s *ReminderScheduler) writeCourseHistory(entry reminder.HistoryEntry, log *logrus.Entry) {
	if s.historyWriter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
	defer cancel()

	if err := s.historyWriter.AppendReminderHistory(ctx, entry.CourseID, entry.CourseType, entry); err != nil {
		log.WithError(err).Warn("Failed to store reminder history on course")
	}
}

func (s *ReminderScheduler) notifyExecuted(entry reminder.HistoryEntry, log *logrus.Entry) {
	if s.opts.OnExecuted == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Reminder execution hook panicked")
		}
	}()
	s.opts.OnExecuted(entry)
}
