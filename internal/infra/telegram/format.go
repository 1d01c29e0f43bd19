package telegram

import (
	"fmt"
	"strings"
	"time"

	"course_reminder_service/internal/app"
	"course_reminder_service/internal/domain/reminder"
)

const timeLayout = "2006-01-02 15:04 MST"

func formatStatus(st app.SchedulerStatus) string {
	var b strings.Builder
	state := "running"
	if !st.Running {
		state = "shut down"
	}
	fmt.Fprintf(&b, "--- Reminder scheduler (%s) ---\n", state)
	fmt.Fprintf(&b, "Pending jobs: %d (%d sending)\n", st.ActiveJobs, st.RunningJobs)
	if st.NextFireAt != nil {
		fmt.Fprintf(&b, "Next fire: %s\n", st.NextFireAt.Format(timeLayout))
	}
	fmt.Fprintf(&b, "History: %d/%d\n", st.HistorySize, st.HistoryCapacity)
	fmt.Fprintf(&b, "Scheduled: %d, executed: %d, cancelled: %d\n",
		st.Stats.TotalScheduled, st.Stats.TotalExecuted, st.Stats.TotalCancelled)
	fmt.Fprintf(&b, "E-mails sent: %d, failed: %d, skipped: %d\n",
		st.Stats.TotalEmailsSent, st.Stats.TotalEmailsFailed, st.Stats.TotalEmailsSkipped)
	if !st.Stats.LastCleanup.IsZero() {
		fmt.Fprintf(&b, "Last cleanup: %s\n", st.Stats.LastCleanup.Format(timeLayout))
	}
	return b.String()
}

func formatReminder(v app.ScheduledReminderView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", v.JobID)
	fmt.Fprintf(&b, "  %s", v.CourseName)
	if v.CourseCode != "" {
		fmt.Fprintf(&b, " [%s]", v.CourseCode)
	}
	fmt.Fprintf(&b, " (%s)\n", v.CourseType)
	fmt.Fprintf(&b, "  %s at %s, %d recipients", v.EmailType, v.FireAt.Format(timeLayout), v.RecipientCount)
	switch {
	case v.Running:
		b.WriteString(", sending now")
	case v.IsOverdue:
		b.WriteString(", overdue")
	case v.IsToday:
		b.WriteString(", today")
	default:
		fmt.Fprintf(&b, ", in %d day(s)", v.DaysFromNow)
	}
	return b.String()
}

func formatHistoryEntry(e reminder.HistoryEntry) string {
	line := fmt.Sprintf("%s %s: %s for %s, sent %d, failed %d, skipped %d",
		e.ExecutedAt.Format(timeLayout), e.Status, e.EmailType, e.CourseName,
		e.SuccessCount, e.FailureCount, e.SkippedCount)
	if e.Error != "" {
		line += " (" + e.Error + ")"
	}
	return line
}

func formatStatistics(d app.DetailedStatistics) string {
	var b strings.Builder
	b.WriteString("--- Reminder statistics ---\n")
	fmt.Fprintf(&b, "Success rate: %.2f%%\n", d.SuccessRate)
	fmt.Fprintf(&b, "Average recipients per job: %.2f\n", d.AverageRecipients)
	fmt.Fprintf(&b, "Pending recipients: %d\n", d.PendingRecipients)
	for _, t := range []reminder.EmailType{reminder.EmailCourseStarting, reminder.EmailPreparation, reminder.EmailTechCheck, reminder.EmailCustom} {
		if n := d.PendingByEmailType[t]; n > 0 {
			fmt.Fprintf(&b, "Pending %s: %d\n", t, n)
		}
	}
	for _, st := range []reminder.JobStatus{reminder.JobStatusCompleted, reminder.JobStatusFailed} {
		fmt.Fprintf(&b, "History %s: %d\n", st, d.HistoryByStatus[st])
	}
	if d.LastExecutedAt != nil {
		fmt.Fprintf(&b, "Last executed: %s\n", d.LastExecutedAt.Format(timeLayout))
	}
	return b.String()
}

func formatHealth(h app.HealthReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Health: %s (%d pending jobs)\n", h.Status, h.ActiveJobs)
	for _, issue := range h.Issues {
		fmt.Fprintf(&b, " - %s\n", issue)
	}
	return b.String()
}

// parseSendAt accepts RFC3339 or "2006-01-02T15:04" in loc.
func parseSendAt(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("send time %q is not RFC3339 or YYYY-MM-DDTHH:MM", raw)
	}
	return t, nil
}
