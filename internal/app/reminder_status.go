package app

import (
	"math"
	"sort"
	"strconv"
	"time"

	"course_reminder_service/internal/domain/course"
	"course_reminder_service/internal/domain/reminder"
)

const (
	// overdueGrace is how long a pending job may be past its fire time
	// before the health check flags it.
	overdueGrace = 5 * time.Minute
	// healthWindow is the number of recent history entries the health
	// check looks at.
	healthWindow = 10
)

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	Running         bool           `json:"running"`
	ActiveJobs      int            `json:"active_jobs"`
	RunningJobs     int            `json:"running_jobs"`
	HistorySize     int            `json:"history_size"`
	HistoryCapacity int            `json:"history_capacity"`
	NextFireAt      *time.Time     `json:"next_fire_at,omitempty"`
	Stats           reminder.Stats `json:"stats"`
}

// ScheduledReminderView is a pending reminder with values derived from the
// current time.
type ScheduledReminderView struct {
	reminder.ScheduledReminder
	DaysFromNow int  `json:"days_from_now"`
	IsOverdue   bool `json:"is_overdue"`
	IsToday     bool `json:"is_today"`
	Running     bool `json:"running"`
}

// DetailedStatistics breaks the registry and history down by category.
type DetailedStatistics struct {
	Stats               reminder.Stats             `json:"stats"`
	PendingByEmailType  map[reminder.EmailType]int `json:"pending_by_email_type"`
	PendingByCourseType map[course.Type]int        `json:"pending_by_course_type"`
	HistoryByStatus     map[reminder.JobStatus]int `json:"history_by_status"`
	PendingRecipients   int                        `json:"pending_recipients"`
	SuccessRate         float64                    `json:"success_rate"`
	AverageRecipients   float64                    `json:"average_recipients"`
	NextFireAt          *time.Time                 `json:"next_fire_at,omitempty"`
	LastExecutedAt      *time.Time                 `json:"last_executed_at,omitempty"`
}

// Health levels reported by HealthCheck.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// HealthReport is the outcome of HealthCheck.
type HealthReport struct {
	Healthy    bool      `json:"healthy"`
	Status     string    `json:"status"`
	Issues     []string  `json:"issues,omitempty"`
	ActiveJobs int       `json:"active_jobs"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Status returns the current scheduler state.
func (s *ReminderScheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStatus{
		Running:         !s.shuttingDown,
		ActiveJobs:      len(s.jobs),
		HistorySize:     len(s.history),
		HistoryCapacity: s.opts.HistoryCapacity,
		NextFireAt:      s.nextFireAtLocked(),
		Stats:           s.stats,
	}
	for _, job := range s.jobs {
		if job.running {
			st.RunningJobs++
		}
	}
	return st
}

// ScheduledReminders lists pending reminders ordered by fire time.
func (s *ReminderScheduler) ScheduledReminders() []ScheduledReminderView {
	s.mu.Lock()
	now := s.opts.Now()
	views := make([]ScheduledReminderView, 0, len(s.jobs))
	for _, job := range s.jobs {
		views = append(views, ScheduledReminderView{
			ScheduledReminder: job.reminder,
			DaysFromNow:       daysFromNow(now, job.reminder.FireAt),
			IsOverdue:         job.reminder.FireAt.Before(now),
			IsToday:           sameDay(now, job.reminder.FireAt),
			Running:           job.running,
		})
	}
	s.mu.Unlock()

	sort.Slice(views, func(i, j int) bool {
		if views[i].FireAt.Equal(views[j].FireAt) {
			return views[i].JobID < views[j].JobID
		}
		return views[i].FireAt.Before(views[j].FireAt)
	})
	return views
}

// ReminderHistory returns up to limit entries, newest first, optionally
// filtered by status. limit <= 0 returns every matching entry.
func (s *ReminderScheduler) ReminderHistory(limit int, status reminder.JobStatus) []reminder.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]reminder.HistoryEntry, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		entry := s.history[i]
		if status != "" && entry.Status != status {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// DetailedStatistics derives per-category counts from the registry and history.
func (s *ReminderScheduler) DetailedStatistics() DetailedStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := DetailedStatistics{
		Stats:               s.stats,
		PendingByEmailType:  make(map[reminder.EmailType]int),
		PendingByCourseType: make(map[course.Type]int),
		HistoryByStatus:     make(map[reminder.JobStatus]int),
		NextFireAt:          s.nextFireAtLocked(),
	}
	for _, job := range s.jobs {
		d.PendingByEmailType[job.reminder.EmailType]++
		d.PendingByCourseType[job.reminder.CourseType]++
		d.PendingRecipients += job.reminder.RecipientCount
	}

	totalRecipients := 0
	var last time.Time
	for _, entry := range s.history {
		d.HistoryByStatus[entry.Status]++
		totalRecipients += entry.RecipientCount
		if entry.ExecutedAt.After(last) {
			last = entry.ExecutedAt
		}
	}
	if len(s.history) > 0 {
		d.AverageRecipients = roundTo(float64(totalRecipients)/float64(len(s.history)), 2)
		d.LastExecutedAt = &last
	}
	if attempted := s.stats.TotalEmailsSent + s.stats.TotalEmailsFailed; attempted > 0 {
		d.SuccessRate = roundTo(float64(s.stats.TotalEmailsSent)*100/float64(attempted), 2)
	}
	return d
}

// HealthCheck reports whether the scheduler is running and keeping up.
func (s *ReminderScheduler) HealthCheck() HealthReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	report := HealthReport{ActiveJobs: len(s.jobs), CheckedAt: now}

	if s.shuttingDown {
		report.Status = HealthUnhealthy
		report.Issues = append(report.Issues, "scheduler is shut down")
		return report
	}

	overdue := 0
	for _, job := range s.jobs {
		if !job.running && job.reminder.FireAt.Before(now.Add(-overdueGrace)) {
			overdue++
		}
	}
	if overdue > 0 {
		report.Issues = append(report.Issues, pluralize(overdue, "pending job is", "pending jobs are")+" overdue")
	}

	sent, failed := 0, 0
	for i := len(s.history) - 1; i >= 0 && i >= len(s.history)-healthWindow; i-- {
		sent += s.history[i].SuccessCount
		failed += s.history[i].FailureCount
	}
	if failed > 0 && failed > sent {
		report.Issues = append(report.Issues, "most recent reminder e-mails failed")
	}

	if len(report.Issues) == 0 {
		report.Status = HealthHealthy
		report.Healthy = true
	} else {
		report.Status = HealthDegraded
	}
	return report
}

func (s *ReminderScheduler) nextFireAtLocked() *time.Time {
	var next time.Time
	for _, job := range s.jobs {
		if job.running {
			continue
		}
		if next.IsZero() || job.reminder.FireAt.Before(next) {
			next = job.reminder.FireAt
		}
	}
	if next.IsZero() {
		return nil
	}
	return &next
}

// daysFromNow rounds up, so anything later today or tomorrow within 24h is 1.
func daysFromNow(now, t time.Time) int {
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return strconv.Itoa(n) + " " + many
}
